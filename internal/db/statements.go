package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jonathan/stance-tracker/internal/credibility"
	"github.com/jonathan/stance-tracker/internal/dedup"
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const statementColumns = `id, subject_id, raw_text, source_url, channel, stated_at, created_at,
	exact_fp, normalized_text, classification, duplicate_of, group_id, score, credibility`

// InsertStatement stores a new statement and returns its ID. A statement with
// the same exact fingerprint and source URL yields ErrAlreadyRecorded.
func (db *DB) InsertStatement(ctx context.Context, input *StatementInput) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO statements (subject_id, raw_text, source_url, channel, stated_at,
		                         exact_fp, normalized_text, classification, duplicate_of,
		                         group_id, score, credibility)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		input.SubjectID, input.RawText, input.SourceURL, string(input.Channel), input.StatedAt,
		input.ExactFingerprint, input.NormalizedText, string(input.Classification), input.DuplicateOf,
		input.GroupID, input.Score, input.Credibility,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, ErrAlreadyRecorded
		}
		return uuid.Nil, fmt.Errorf("failed to insert statement: %w", err)
	}
	return id, nil
}

// CandidatePool returns up to limit of the subject's most recent statements
// ingested at or after since, oldest first.
func (db *DB) CandidatePool(ctx context.Context, subjectID int64, since time.Time, limit int) ([]dedup.Candidate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, normalized_text, exact_fp, group_id, duplicate_of FROM (
		     SELECT id, normalized_text, exact_fp, group_id, duplicate_of, created_at
		     FROM statements
		     WHERE subject_id = $1 AND created_at >= $2
		     ORDER BY created_at DESC
		     LIMIT $3
		 ) recent
		 ORDER BY created_at ASC`,
		subjectID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate pool: %w", err)
	}
	defer rows.Close()

	var pool []dedup.Candidate
	for rows.Next() {
		var c dedup.Candidate
		if err := rows.Scan(&c.ID, &c.Normalized, &c.Exact, &c.Group, &c.DuplicateOf); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		pool = append(pool, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidate pool: %w", err)
	}
	return pool, nil
}

// FindByFingerprint returns the subject's oldest statement with the given
// exact fingerprint, or nil if there is none.
func (db *DB) FindByFingerprint(ctx context.Context, subjectID int64, exact string) (*dedup.Candidate, error) {
	var c dedup.Candidate
	err := db.pool.QueryRow(ctx,
		`SELECT id, normalized_text, exact_fp, group_id, duplicate_of
		 FROM statements
		 WHERE subject_id = $1 AND exact_fp = $2
		 ORDER BY created_at ASC
		 LIMIT 1`,
		subjectID, exact,
	).Scan(&c.ID, &c.Normalized, &c.Exact, &c.Group, &c.DuplicateOf)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find statement by fingerprint: %w", err)
	}
	return &c, nil
}

// GetStatement retrieves a statement by ID
func (db *DB) GetStatement(ctx context.Context, id uuid.UUID) (*Statement, error) {
	s, err := scanStatement(db.pool.QueryRow(ctx,
		`SELECT `+statementColumns+` FROM statements WHERE id = $1`, id,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get statement: %w", err)
	}
	return s, nil
}

// ListGroup returns every statement of a duplicate group, primary first.
func (db *DB) ListGroup(ctx context.Context, groupID uuid.UUID) ([]Statement, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+statementColumns+`
		 FROM statements
		 WHERE group_id = $1
		 ORDER BY (duplicate_of IS NOT NULL), created_at ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list group: %w", err)
	}
	defer rows.Close()

	var statements []Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}
		statements = append(statements, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read group: %w", err)
	}
	return statements, nil
}

// ListSubjectStatements returns a subject's most recent statements
func (db *DB) ListSubjectStatements(ctx context.Context, subjectID int64, limit int) ([]Statement, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+statementColumns+`
		 FROM statements
		 WHERE subject_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		subjectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list statements: %w", err)
	}
	defer rows.Close()

	var statements []Statement
	for rows.Next() {
		s, err := scanStatement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan statement: %w", err)
		}
		statements = append(statements, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read statements: %w", err)
	}
	return statements, nil
}

func scanStatement(row pgx.Row) (*Statement, error) {
	var s Statement
	var channel, classification string
	err := row.Scan(&s.ID, &s.SubjectID, &s.RawText, &s.SourceURL, &channel, &s.StatedAt, &s.CreatedAt,
		&s.ExactFingerprint, &s.NormalizedText, &classification, &s.DuplicateOf, &s.GroupID,
		&s.Score, &s.Credibility)
	if err != nil {
		return nil, err
	}
	s.Channel = credibility.Channel(channel)
	s.Classification = dedup.Classification(classification)
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

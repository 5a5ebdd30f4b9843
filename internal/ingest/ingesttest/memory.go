// Package ingesttest provides an in-memory statement store for tests of
// packages built on top of ingest.
package ingesttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/stance-tracker/internal/db"
	"github.com/jonathan/stance-tracker/internal/dedup"
)

// MemoryStore keeps statements in memory and enforces the same
// (fingerprint, source URL) uniqueness as the database.
type MemoryStore struct {
	mu         sync.Mutex
	statements []db.Statement
	now        func() time.Time

	// InsertErr, when set, is returned by every InsertStatement call.
	InsertErr error
	// PoolErr, when set, is returned by every CandidatePool call.
	PoolErr error
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now}
}

// InsertStatement stores a statement with a fresh ID.
func (m *MemoryStore) InsertStatement(_ context.Context, input *db.StatementInput) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertErr != nil {
		return uuid.Nil, m.InsertErr
	}
	for _, s := range m.statements {
		if s.ExactFingerprint == input.ExactFingerprint && s.SourceURL == input.SourceURL {
			return uuid.Nil, db.ErrAlreadyRecorded
		}
	}

	s := db.Statement{
		ID:               uuid.New(),
		SubjectID:        input.SubjectID,
		RawText:          input.RawText,
		SourceURL:        input.SourceURL,
		Channel:          input.Channel,
		StatedAt:         input.StatedAt,
		CreatedAt:        m.now(),
		ExactFingerprint: input.ExactFingerprint,
		NormalizedText:   input.NormalizedText,
		Classification:   input.Classification,
		DuplicateOf:      input.DuplicateOf,
		GroupID:          input.GroupID,
		Score:            input.Score,
		Credibility:      input.Credibility,
	}
	m.statements = append(m.statements, s)
	return s.ID, nil
}

// CandidatePool returns up to limit of the subject's most recent statements
// created at or after since, oldest first.
func (m *MemoryStore) CandidatePool(_ context.Context, subjectID int64, since time.Time, limit int) ([]dedup.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PoolErr != nil {
		return nil, m.PoolErr
	}

	var matches []db.Statement
	for _, s := range m.statements {
		if s.SubjectID == subjectID && !s.CreatedAt.Before(since) {
			matches = append(matches, s)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}

	pool := make([]dedup.Candidate, 0, len(matches))
	for i := range matches {
		pool = append(pool, matches[i].Candidate())
	}
	return pool, nil
}

// FindByFingerprint returns the subject's oldest statement with the exact
// fingerprint, or nil.
func (m *MemoryStore) FindByFingerprint(_ context.Context, subjectID int64, exact string) (*dedup.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.statements {
		s := &m.statements[i]
		if s.SubjectID == subjectID && s.ExactFingerprint == exact {
			c := s.Candidate()
			return &c, nil
		}
	}
	return nil, nil
}

// GetStatement returns a copy of the statement, or nil.
func (m *MemoryStore) GetStatement(_ context.Context, id uuid.UUID) (*db.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.statements {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}

// ListGroup returns the statements of a group, primary first.
func (m *MemoryStore) ListGroup(_ context.Context, groupID uuid.UUID) ([]db.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var group []db.Statement
	for _, s := range m.statements {
		if s.GroupID == groupID {
			group = append(group, s)
		}
	}
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].IsPrimary() && !group[j].IsPrimary()
	})
	return group, nil
}

// ListSubjectStatements returns up to limit of a subject's statements,
// newest first. A limit of zero or less means 50.
func (m *MemoryStore) ListSubjectStatements(_ context.Context, subjectID int64, limit int) ([]db.Statement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var out []db.Statement
	for i := len(m.statements) - 1; i >= 0 && len(out) < limit; i-- {
		if m.statements[i].SubjectID == subjectID {
			out = append(out, m.statements[i])
		}
	}
	return out, nil
}

// Len returns the number of stored statements.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statements)
}

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/stance-tracker/internal/credibility"
	"github.com/jonathan/stance-tracker/internal/db"
	"github.com/jonathan/stance-tracker/internal/dedup"
)

// RecordSink persists one classified statement. It returns
// db.ErrAlreadyRecorded when the (fingerprint, source URL) pair exists.
type RecordSink interface {
	InsertStatement(ctx context.Context, input *db.StatementInput) (uuid.UUID, error)
}

// Statement is the raw statement handed to the writer.
type Statement struct {
	SubjectID int64
	RawText   string
	SourceURL string
	Channel   credibility.Channel
	StatedAt  time.Time
}

// RecordWriter attaches the source credibility score to a classified
// statement and persists it as a new record. It never updates prior records.
type RecordWriter struct {
	sink  RecordSink
	table credibility.Table
}

// NewRecordWriter creates a writer. A nil table uses credibility.DefaultTable.
func NewRecordWriter(sink RecordSink, table credibility.Table) *RecordWriter {
	if table == nil {
		table = credibility.DefaultTable()
	}
	return &RecordWriter{sink: sink, table: table}
}

// Credibility returns the score the writer attaches for channel.
func (w *RecordWriter) Credibility(channel credibility.Channel) int {
	return w.table.Score(channel)
}

// Write persists stmt with its verdict and returns the new record's ID.
func (w *RecordWriter) Write(ctx context.Context, stmt Statement, verdict *dedup.Verdict) (uuid.UUID, error) {
	if verdict == nil {
		return uuid.Nil, fmt.Errorf("verdict is required")
	}
	if err := verdict.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("invalid verdict: %w", err)
	}

	input := &db.StatementInput{
		SubjectID:        stmt.SubjectID,
		RawText:          stmt.RawText,
		SourceURL:        stmt.SourceURL,
		Channel:          stmt.Channel,
		StatedAt:         stmt.StatedAt,
		ExactFingerprint: verdict.Fingerprint.Exact,
		NormalizedText:   verdict.Fingerprint.Normalized,
		Classification:   verdict.Classification,
		DuplicateOf:      verdict.DuplicateOf,
		GroupID:          verdict.Group,
		Score:            verdict.Score,
		Credibility:      w.table.Score(stmt.Channel),
	}

	id, err := w.sink.InsertStatement(ctx, input)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to record statement: %w", err)
	}
	return id, nil
}

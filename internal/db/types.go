package db

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/stance-tracker/internal/credibility"
	"github.com/jonathan/stance-tracker/internal/dedup"
)

// ErrAlreadyRecorded is returned when a statement with the same exact
// fingerprint and source URL is already stored.
var ErrAlreadyRecorded = errors.New("statement already recorded for this source")

// Statement is a recorded statement row
type Statement struct {
	ID               uuid.UUID            `json:"id"`
	SubjectID        int64                `json:"subject_id"`
	RawText          string               `json:"raw_text"`
	SourceURL        string               `json:"source_url"`
	Channel          credibility.Channel  `json:"channel"`
	StatedAt         time.Time            `json:"stated_at"`
	CreatedAt        time.Time            `json:"created_at"`
	ExactFingerprint string               `json:"exact_fingerprint"`
	NormalizedText   string               `json:"normalized_text"`
	Classification   dedup.Classification `json:"classification"`
	DuplicateOf      *uuid.UUID           `json:"duplicate_of,omitempty"`
	GroupID          uuid.UUID            `json:"group_id"`
	Score            float64              `json:"score"`
	Credibility      int                  `json:"credibility"`
}

// IsPrimary reports whether the statement heads its duplicate group.
func (s *Statement) IsPrimary() bool {
	return s.DuplicateOf == nil
}

// Candidate returns the statement in the form the duplicate resolver compares.
func (s *Statement) Candidate() dedup.Candidate {
	return dedup.Candidate{
		ID:          s.ID,
		Normalized:  s.NormalizedText,
		Exact:       s.ExactFingerprint,
		Group:       s.GroupID,
		DuplicateOf: s.DuplicateOf,
	}
}

// StatementInput is the data needed to insert a statement
type StatementInput struct {
	SubjectID        int64
	RawText          string
	SourceURL        string
	Channel          credibility.Channel
	StatedAt         time.Time
	ExactFingerprint string
	NormalizedText   string
	Classification   dedup.Classification
	DuplicateOf      *uuid.UUID
	GroupID          uuid.UUID
	Score            float64
	Credibility      int
}

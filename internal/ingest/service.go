package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/stance-tracker/internal/abuse"
	"github.com/jonathan/stance-tracker/internal/db"
	"github.com/jonathan/stance-tracker/internal/dedup"
	"github.com/jonathan/stance-tracker/internal/sourceurl"
)

// CandidateSource supplies the recent statements of a subject that a new
// statement is compared against, oldest first.
type CandidateSource interface {
	CandidatePool(ctx context.Context, subjectID int64, since time.Time, limit int) ([]dedup.Candidate, error)
}

// Outcome is how a submission ended.
type Outcome string

const (
	OutcomeRecorded        Outcome = "recorded"
	OutcomeRateLimited     Outcome = "rate_limited"
	OutcomeAlreadyRecorded Outcome = "already_recorded"
)

// Result describes a processed submission. Rate limiting and already-recorded
// conflicts are outcomes, not errors.
type Result struct {
	Outcome     Outcome        `json:"outcome"`
	StatementID uuid.UUID      `json:"statement_id"`
	Verdict     *dedup.Verdict `json:"verdict,omitempty"`
	Credibility int            `json:"credibility,omitempty"`
	RateLimit   abuse.Decision `json:"-"`
}

// Service runs submissions through the gate, the resolver and the writer.
type Service struct {
	gate       abuse.Gate
	resolver   *dedup.Resolver
	candidates CandidateSource
	writer     *RecordWriter
	validate   *validator.Validate
	now        func() time.Time

	// subjectLocks serializes pool read, resolve and write per subject so
	// concurrent restatements see each other. Subjects share stripes.
	subjectLocks [subjectLockStripes]sync.Mutex
}

const subjectLockStripes = 64

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock replaces time.Now for the lookback window and validation.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates an ingestion service.
func NewService(gate abuse.Gate, resolver *dedup.Resolver, candidates CandidateSource, writer *RecordWriter, opts ...ServiceOption) *Service {
	s := &Service{
		gate:       gate,
		resolver:   resolver,
		candidates: candidates,
		writer:     writer,
		validate:   validator.New(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks a submission without admitting or recording it.
func (s *Service) Validate(sub *Submission) error {
	return validateSubmission(s.validate, sub, s.resolver.Config().MaxTextRunes, s.now())
}

// Submit validates, admits, classifies and records one submission.
//
// Invalid submissions return a *ValidationError and consume no rate budget.
// Storage failures are returned wrapped; nothing is written in that case.
func (s *Service) Submit(ctx context.Context, sub *Submission) (*Result, error) {
	if err := s.Validate(sub); err != nil {
		return nil, err
	}
	sourceURL, err := sourceurl.Canonicalize(sub.SourceURL)
	if err != nil {
		return nil, &ValidationError{Field: "source_url", Message: err.Error()}
	}

	decision, err := s.gate.Admit(ctx, sub.Origin, sub.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !decision.Allowed {
		log.Printf("[ingest] Rate limited on %s axis: subject=%d retry_after=%s",
			decision.Axis, sub.SubjectID, decision.RetryAfter.Round(time.Second))
		return &Result{Outcome: OutcomeRateLimited, RateLimit: decision}, nil
	}

	lock := s.subjectLock(sub.SubjectID)
	lock.Lock()
	defer lock.Unlock()

	cfg := s.resolver.Config()
	since := s.now().Add(-cfg.LookbackWindow)
	pool, err := s.candidates.CandidatePool(ctx, sub.SubjectID, since, cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate pool: %w", err)
	}

	verdict, err := s.resolver.Resolve(ctx, sub.SubjectID, sub.Text, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve duplicates: %w", err)
	}

	stmt := Statement{
		SubjectID: sub.SubjectID,
		RawText:   sub.Text,
		SourceURL: sourceURL,
		Channel:   sub.Channel,
		StatedAt:  sub.StatedAt,
	}
	id, err := s.writer.Write(ctx, stmt, verdict)
	if err != nil {
		if errors.Is(err, db.ErrAlreadyRecorded) {
			log.Printf("[ingest] Already recorded: subject=%d source=%s", sub.SubjectID, sourceURL)
			return &Result{Outcome: OutcomeAlreadyRecorded, Verdict: verdict, RateLimit: decision}, nil
		}
		return nil, err
	}

	if verdict.IsDuplicate() {
		log.Printf("[ingest] Recorded duplicate %s: subject=%d classification=%s primary=%s score=%.3f compared=%d",
			id, sub.SubjectID, verdict.Classification, verdict.DuplicateOf, verdict.Score, verdict.ComparedCount)
	} else {
		log.Printf("[ingest] Recorded statement %s: subject=%d classification=%s group=%s compared=%d",
			id, sub.SubjectID, verdict.Classification, verdict.Group, verdict.ComparedCount)
	}

	return &Result{
		Outcome:     OutcomeRecorded,
		StatementID: id,
		Verdict:     verdict,
		Credibility: s.writer.Credibility(sub.Channel),
		RateLimit:   decision,
	}, nil
}

func (s *Service) subjectLock(subjectID int64) *sync.Mutex {
	stripe := uint64(subjectID) % subjectLockStripes
	return &s.subjectLocks[stripe]
}

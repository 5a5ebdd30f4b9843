// Package dedup classifies an incoming statement as unique, an exact
// duplicate or a fuzzy duplicate of statements already recorded for the same
// subject, and decides which duplicate group it joins.
package dedup

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/stance-tracker/internal/fingerprint"
	"github.com/jonathan/stance-tracker/internal/similarity"
)

// Classification is the outcome of duplicate resolution.
type Classification string

const (
	Unique         Classification = "unique"
	ExactDuplicate Classification = "exact_duplicate"
	FuzzyDuplicate Classification = "fuzzy_duplicate"
)

// Candidate is a previously recorded statement of the same subject.
type Candidate struct {
	ID          uuid.UUID
	Normalized  string
	Exact       string
	Group       uuid.UUID  // uuid.Nil when the statement has no group yet
	DuplicateOf *uuid.UUID // nil for primaries
}

// FingerprintLookup finds a recorded statement of a subject by its exact
// fingerprint, regardless of age. It returns nil, nil when there is none.
type FingerprintLookup interface {
	FindByFingerprint(ctx context.Context, subjectID int64, exact string) (*Candidate, error)
}

// Verdict is the resolver's decision for one statement.
type Verdict struct {
	Classification Classification   `json:"classification"`
	DuplicateOf    *uuid.UUID       `json:"duplicate_of,omitempty"`
	Group          uuid.UUID        `json:"group"`
	MatchedID      *uuid.UUID       `json:"matched_id,omitempty"` // candidate that matched; may be a non-primary
	Score          float64          `json:"score"`
	Fingerprint    fingerprint.Pair `json:"fingerprint"`
	ComparedCount  int              `json:"compared_count"`
}

// IsDuplicate reports whether the statement joins an existing group.
func (v *Verdict) IsDuplicate() bool {
	return v.Classification == ExactDuplicate || v.Classification == FuzzyDuplicate
}

// Validate checks if the verdict is internally consistent
func (v *Verdict) Validate() error {
	if v.Score < 0.0 || v.Score > 1.0 {
		return fmt.Errorf("score must be between 0.0 and 1.0 (got %.2f)", v.Score)
	}
	if v.Group == uuid.Nil {
		return fmt.Errorf("group must be set")
	}
	switch v.Classification {
	case Unique:
		if v.DuplicateOf != nil {
			return fmt.Errorf("duplicate_of should not be set for a unique statement")
		}
	case ExactDuplicate, FuzzyDuplicate:
		if v.DuplicateOf == nil {
			return fmt.Errorf("duplicate_of must be set for %s", v.Classification)
		}
	default:
		return fmt.Errorf("unknown classification %q", v.Classification)
	}
	return nil
}

// Resolver decides duplicate classification and group linkage.
type Resolver struct {
	config   Config
	lookup   FingerprintLookup
	newGroup func() uuid.UUID
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithGroupMinter replaces the group token generator (uuid.New by default).
func WithGroupMinter(mint func() uuid.UUID) Option {
	return func(r *Resolver) {
		r.newGroup = mint
	}
}

// NewResolver creates a resolver. lookup may be nil, in which case exact
// matches are only searched for in the candidate pool.
func NewResolver(config Config, lookup FingerprintLookup, opts ...Option) *Resolver {
	r := &Resolver{
		config:   config,
		lookup:   lookup,
		newGroup: uuid.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the resolver configuration.
func (r *Resolver) Config() Config {
	return r.config
}

// Resolve classifies rawText against pool. The pool must already be scoped to
// the subject and the recency window, and must not contain the statement
// being classified; Resolve does no filtering of its own.
func (r *Resolver) Resolve(ctx context.Context, subjectID int64, rawText string, pool []Candidate) (*Verdict, error) {
	pair := fingerprint.Compute(rawText)

	// Blank text is never matched against anything.
	if strings.TrimSpace(rawText) == "" {
		return r.unique(pair, 0), nil
	}

	// 1. Exact fingerprint, pool first, then the out-of-window lookup.
	for i := range pool {
		if pool[i].Exact == pair.Exact {
			return duplicate(ExactDuplicate, &pool[i], 1.0, pair, i+1), nil
		}
	}
	if r.lookup != nil {
		match, err := r.lookup.FindByFingerprint(ctx, subjectID, pair.Exact)
		if err != nil {
			return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
		}
		if match != nil {
			return duplicate(ExactDuplicate, match, 1.0, pair, len(pool)), nil
		}
	}

	// 2. Fuzzy similarity over normalized forms.
	if pair.Normalized == "" || len(pool) == 0 {
		return r.unique(pair, len(pool)), nil
	}

	normalized := make([]string, len(pool))
	for i := range pool {
		normalized[i] = pool[i].Normalized
	}
	index, score, ok := similarity.Best(pair.Normalized, normalized, r.config.Threshold)
	if ok {
		return duplicate(FuzzyDuplicate, &pool[index], score, pair, len(pool)), nil
	}

	// 3. Nothing matched.
	verdict := r.unique(pair, len(pool))
	verdict.Score = score
	return verdict, nil
}

// ResolveBatch classifies several texts of one subject against the same pool.
// Texts are resolved independently of each other, concurrently, and the
// verdicts are returned in input order.
func (r *Resolver) ResolveBatch(ctx context.Context, subjectID int64, texts []string, pool []Candidate) ([]*Verdict, error) {
	verdicts := make([]*Verdict, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, text := range texts {
		g.Go(func() error {
			verdict, err := r.Resolve(ctx, subjectID, text, pool)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			verdicts[i] = verdict
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

func (r *Resolver) unique(pair fingerprint.Pair, compared int) *Verdict {
	return &Verdict{
		Classification: Unique,
		Group:          r.newGroup(),
		Fingerprint:    pair,
		ComparedCount:  compared,
	}
}

// duplicate links the verdict to the group anchor of match: the primary the
// match points at (or the match itself), and that primary's group token.
func duplicate(class Classification, match *Candidate, score float64, pair fingerprint.Pair, compared int) *Verdict {
	primary := match.ID
	if match.DuplicateOf != nil && *match.DuplicateOf != uuid.Nil {
		primary = *match.DuplicateOf
	}
	group := match.Group
	if group == uuid.Nil {
		group = primary
	}
	matched := match.ID

	return &Verdict{
		Classification: class,
		DuplicateOf:    &primary,
		Group:          group,
		MatchedID:      &matched,
		Score:          score,
		Fingerprint:    pair,
		ComparedCount:  compared,
	}
}

// Package ingest runs a submitted statement through the safety pipeline:
// abuse gate, duplicate resolution and recording.
package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/stance-tracker/internal/credibility"
)

// Submission is one statement as submitted by a user or administrator.
type Submission struct {
	SubjectID int64               `json:"subject_id" validate:"required,gt=0"`
	Text      string              `json:"text" validate:"required"`
	SourceURL string              `json:"source_url" validate:"required,url,max=2048"`
	Channel   credibility.Channel `json:"channel" validate:"required"`
	StatedAt  time.Time           `json:"stated_at" validate:"required"`
	Identity  string              `json:"identity" validate:"required,max=320"`

	// Origin is the network address the submission came from. It is set by
	// the transport, never decoded from the body.
	Origin string `json:"-"`
}

// ValidationError indicates a submission was rejected before classification
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// maxClockSkew is how far in the future a stated-at time may lie.
const maxClockSkew = 24 * time.Hour

// validateSubmission checks struct tags first, then the text constraints the
// tags cannot express.
func validateSubmission(v *validator.Validate, sub *Submission, maxTextRunes int, now time.Time) error {
	if err := v.Struct(sub); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{Field: jsonFieldName(fe.Field()), Message: fe.Tag()}
		}
		return &ValidationError{Field: "submission", Message: err.Error()}
	}

	if strings.TrimSpace(sub.Text) == "" {
		return &ValidationError{Field: "text", Message: "must not be blank"}
	}
	if maxTextRunes > 0 && utf8.RuneCountInString(sub.Text) > maxTextRunes {
		return &ValidationError{Field: "text", Message: fmt.Sprintf("must be at most %d characters", maxTextRunes)}
	}
	if sub.StatedAt.After(now.Add(maxClockSkew)) {
		return &ValidationError{Field: "stated_at", Message: "must not be in the future"}
	}
	return nil
}

func jsonFieldName(field string) string {
	switch field {
	case "SubjectID":
		return "subject_id"
	case "SourceURL":
		return "source_url"
	case "StatedAt":
		return "stated_at"
	default:
		return strings.ToLower(field)
	}
}

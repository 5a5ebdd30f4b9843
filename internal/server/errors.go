// Package server provides the HTTP API for statement ingestion.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/stance-tracker/internal/db"
	"github.com/jonathan/stance-tracker/internal/ingest"
	"github.com/jonathan/stance-tracker/internal/schemas"
)

// ErrNotFound indicates a requested resource does not exist
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	switch err.(type) {
	case *ErrNotFound:
		return http.StatusNotFound
	case *ErrValidation, *ingest.ValidationError, *schemas.ValidationError:
		return http.StatusBadRequest
	}

	var validationErr *ingest.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}
	if errors.Is(err, db.ErrAlreadyRecorded) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

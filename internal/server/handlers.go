package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/stance-tracker/internal/abuse"
	"github.com/jonathan/stance-tracker/internal/db"
	"github.com/jonathan/stance-tracker/internal/dedup"
	"github.com/jonathan/stance-tracker/internal/ingest"
	"github.com/jonathan/stance-tracker/internal/schemas"
)

// maxBodyBytes bounds request bodies; the longest accepted statement plus
// its metadata fits well within it.
const maxBodyBytes = 1 << 20

// PreviewRequest is the body of POST /admin/preview.
type PreviewRequest struct {
	SubjectID int64    `json:"subject_id"`
	Texts     []string `json:"texts"`
}

// PreviewResponse lists what each text would be classified as, in order.
type PreviewResponse struct {
	SubjectID int64            `json:"subject_id"`
	PoolSize  int              `json:"pool_size"`
	Verdicts  []*dedup.Verdict `json:"verdicts"`
}

// handleSubmitStatement runs a statement through the ingestion pipeline.
func (s *Server) handleSubmitStatement(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, schemas.StatementSubmission)
	if !ok {
		return
	}

	var sub ingest.Submission
	if err := json.Unmarshal(body, &sub); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}
	sub.Origin = s.clientIP(r)

	result, err := s.service.Submit(r.Context(), &sub)
	if err != nil {
		status := HTTPStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("Error submitting statement: %v", err)
			s.errorResponse(w, status, "Failed to record statement")
			return
		}
		s.errorResponse(w, status, err.Error())
		return
	}

	switch result.Outcome {
	case ingest.OutcomeRateLimited:
		s.abuseLimitResponse(w, result.RateLimit)
	case ingest.OutcomeAlreadyRecorded:
		s.jsonResponse(w, http.StatusConflict, map[string]any{
			"error":   "already_recorded",
			"message": "This statement is already recorded for this source.",
			"verdict": result.Verdict,
		})
	default:
		s.setRateLimitHeaders(w, result.RateLimit.Limit, result.RateLimit.Remaining, result.RateLimit.ResetAt)
		s.jsonResponse(w, http.StatusCreated, result)
	}
}

// handleGetStatement returns one recorded statement.
func (s *Server) handleGetStatement(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid statement ID")
		return
	}

	stmt, err := s.store.GetStatement(r.Context(), id)
	if err != nil {
		log.Printf("Error getting statement %s: %v", id, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to get statement")
		return
	}
	if stmt == nil {
		err := &ErrNotFound{Resource: "statement", ID: id.String()}
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, stmt)
}

// handleGetGroup returns every statement of a duplicate group, primary first.
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := uuid.Parse(r.PathValue("group"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid group ID")
		return
	}

	statements, err := s.store.ListGroup(r.Context(), groupID)
	if err != nil {
		log.Printf("Error listing group %s: %v", groupID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list group")
		return
	}
	if len(statements) == 0 {
		err := &ErrNotFound{Resource: "group", ID: groupID.String()}
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"group_id":   groupID,
		"count":      len(statements),
		"statements": statements,
	})
}

// maxSubjectListLimit caps the limit query of a subject listing.
const maxSubjectListLimit = 200

// handleListSubjectStatements returns a subject's statements, newest first.
func (s *Server) handleListSubjectStatements(w http.ResponseWriter, r *http.Request) {
	subjectID, limit, err := parseSubjectListing(r)
	if err != nil {
		s.errorResponse(w, HTTPStatus(err), err.Error())
		return
	}

	statements, err := s.store.ListSubjectStatements(r.Context(), subjectID, limit)
	if err != nil {
		log.Printf("Error listing statements for subject %d: %v", subjectID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to list statements")
		return
	}
	if statements == nil {
		statements = []db.Statement{}
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"subject_id": subjectID,
		"count":      len(statements),
		"statements": statements,
	})
}

func parseSubjectListing(r *http.Request) (int64, int, error) {
	subjectID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || subjectID < 1 {
		return 0, 0, &ErrValidation{Field: "id", Message: "subject ID must be a positive integer"}
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxSubjectListLimit {
			return 0, 0, &ErrValidation{
				Field:   "limit",
				Message: fmt.Sprintf("must be between 1 and %d", maxSubjectListLimit),
			}
		}
	}
	return subjectID, limit, nil
}

// handlePreview classifies texts against the subject's current pool without
// recording anything or consuming abuse budget.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r, schemas.ClassifyPreview)
	if !ok {
		return
	}

	var req PreviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	cfg := s.resolver.Config()
	since := time.Now().Add(-cfg.LookbackWindow)
	pool, err := s.store.CandidatePool(r.Context(), req.SubjectID, since, cfg.MaxCandidates)
	if err != nil {
		log.Printf("Error loading candidate pool for subject %d: %v", req.SubjectID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load candidates")
		return
	}

	verdicts, err := s.resolver.ResolveBatch(r.Context(), req.SubjectID, req.Texts, pool)
	if err != nil {
		log.Printf("Error previewing classification for subject %d: %v", req.SubjectID, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to classify texts")
		return
	}

	s.jsonResponse(w, http.StatusOK, PreviewResponse{
		SubjectID: req.SubjectID,
		PoolSize:  len(pool),
		Verdicts:  verdicts,
	})
}

func (s *Server) handleClearOrigin(w http.ResponseWriter, r *http.Request) {
	s.clearAbuseEntry(w, r, abuse.AxisOrigin)
}

func (s *Server) handleClearIdentity(w http.ResponseWriter, r *http.Request) {
	s.clearAbuseEntry(w, r, abuse.AxisIdentity)
}

// clearAbuseEntry forgets the attempts recorded for one key so a wrongly
// throttled origin or identity can submit again immediately.
func (s *Server) clearAbuseEntry(w http.ResponseWriter, r *http.Request, axis abuse.Axis) {
	key := r.PathValue("key")
	if key == "" {
		s.errorResponse(w, http.StatusBadRequest, "Key is required")
		return
	}

	if err := s.gate.Clear(r.Context(), axis, key); err != nil {
		log.Printf("Error clearing %s entry %q: %v", axis, key, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to clear entry")
		return
	}

	log.Printf("[abuse] Cleared %s entry %q", axis, key)
	w.WriteHeader(http.StatusNoContent)
}

// readBody reads a size-limited body and validates it against the named
// schema. On failure it writes the response and returns false.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, schema string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return nil, false
		}
		s.errorResponse(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}

	if err := schemas.Validate(schema, body); err != nil {
		var validationErr *schemas.ValidationError
		if errors.As(err, &validationErr) {
			first := validationErr.First()
			s.jsonResponse(w, http.StatusBadRequest, map[string]any{
				"error":   "validation_failed",
				"field":   first.Field,
				"message": first.Message,
			})
			return nil, false
		}
		log.Printf("Error validating request against %s: %v", schema, err)
		s.errorResponse(w, http.StatusInternalServerError, "Failed to validate request")
		return nil, false
	}
	return body, true
}

// abuseLimitResponse reports which axis refused the submission and when it
// reopens.
func (s *Server) abuseLimitResponse(w http.ResponseWriter, d abuse.Decision) {
	s.setRateLimitHeaders(w, d.Limit, 0, d.ResetAt)
	s.rateLimitResponse(w, string(d.Axis)+"_limit_exceeded", d.Limit, d.ResetAt, d.RetryAfter)
}

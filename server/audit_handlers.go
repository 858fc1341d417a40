package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/jrsteele09/go-audit-server/audit"
	"github.com/jrsteele09/go-audit-server/audit/orchestrator"
	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
	"github.com/jrsteele09/go-audit-server/sessions"
	"github.com/jrsteele09/go-audit-server/token"
	"github.com/rs/zerolog/log"
)

const maxRequestBody = 64 * 1024

type permissionsResponse struct {
	HasPermissions bool     `json:"hasPermissions"`
	Message        string   `json:"message"`
	MissingScopes  []string `json:"missingScopes"`
}

type runAuditResponse struct {
	Success bool          `json:"success,omitempty"`
	JobID   string        `json:"jobId"`
	Results *audit.Result `json:"results,omitempty"`
}

type jobStatusResponse struct {
	Status      audit.Status    `json:"status"`
	CurrentStep string          `json:"currentStep"`
	Progress    int             `json:"progress"`
	Error       string          `json:"error,omitempty"`
	ErrorType   audit.ErrorType `json:"errorType,omitempty"`
}

func newJobStatusResponse(job *audit.Job) jobStatusResponse {
	return jobStatusResponse{
		Status:      job.Status,
		CurrentStep: job.CurrentStep,
		Progress:    job.Progress,
		Error:       job.Error,
		ErrorType:   job.ErrorType,
	}
}

// PermissionsHandler reports whether the stored token carries the scopes audits need.
func (s *Server) PermissionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())
		record, err := s.tokenRecord(session)
		if err != nil {
			log.Err(err).Str("user_id", session.UserID).Msg("Failed to load token record")
			writeJSONError(w, "internal_error", "Could not check permissions", http.StatusInternalServerError)
			return
		}

		verdict := s.perms.Check(record)
		writeJSON(w, http.StatusOK, permissionsResponse{
			HasPermissions: verdict.HasPermissions,
			Message:        verdict.Message(),
			MissingScopes:  verdict.MissingScopes,
		})
	}
}

// CSRFTokenHandler issues a token bound to the caller's session.
func (s *Server) CSRFTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())
		t, err := s.csrf.IssueToken(session.ID)
		if err != nil {
			log.Err(err).Msg("Failed to issue CSRF token")
			writeJSONError(w, "internal_error", "Could not issue CSRF token", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"csrfToken": t})
	}
}

// RunAuditHandler accepts an audit run and answers 202 with the job id, or
// 200 with the results when the job finishes inside the sync-wait window.
func (s *Server) RunAuditHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromContext(r.Context())

		var req runAuditRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "Request body must be JSON with projectId and category", http.StatusBadRequest)
			return
		}
		if err := s.validate.Struct(req); err != nil {
			code, description := validationFailure(err)
			writeJSONError(w, code, description, http.StatusBadRequest)
			return
		}

		record, err := s.tokenRecord(session)
		if err != nil {
			log.Err(err).Str("user_id", session.UserID).Msg("Failed to load token record")
			writeJSONError(w, "internal_error", "Could not check permissions", http.StatusInternalServerError)
			return
		}
		if verdict := s.perms.Check(record); !verdict.HasPermissions {
			writeJSONError(w, "insufficient_permissions", verdict.Message(), http.StatusForbidden)
			return
		}

		jobID, err := s.audits.Submit(r.Context(), orchestrator.Submission{
			ProjectID:   req.ProjectID,
			Category:    req.Category,
			UserID:      session.UserID,
			TokenSource: s.auth.TokenSource(record),
		})
		switch {
		case errors.Is(err, orchestrator.ErrMissingProject):
			writeJSONError(w, "missing_project", "projectId is required", http.StatusBadRequest)
			return
		case errors.Is(err, orchestrator.ErrInvalidCategory):
			writeJSONError(w, "invalid_category", "category must be one of "+strings.Join(categoryNames(), ", "), http.StatusBadRequest)
			return
		case errors.Is(err, orchestrator.ErrShuttingDown):
			writeJSONError(w, "unavailable", "The server is shutting down. Try again shortly.", http.StatusServiceUnavailable)
			return
		case err != nil:
			log.Err(err).Str("user_id", session.UserID).Msg("Failed to submit audit job")
			writeJSONError(w, "internal_error", "Could not start the audit", http.StatusInternalServerError)
			return
		}

		if wait := s.config.GetSyncWait(); wait > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), wait)
			job, err := s.audits.Await(ctx, jobID)
			cancel()
			if err == nil && job != nil && job.Status == audit.StatusCompleted {
				writeJSON(w, http.StatusOK, runAuditResponse{Success: true, JobID: jobID, Results: job.Result})
				return
			}
		}
		s.setRetryAfter(w)
		writeJSON(w, http.StatusAccepted, runAuditResponse{JobID: jobID})
	}
}

// AuditStatusHandler is the polling endpoint.
func (s *Server) AuditStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := s.ownedJob(w, r)
		if !ok {
			return
		}
		if !job.Status.Terminal() {
			s.setRetryAfter(w)
		}
		writeJSON(w, http.StatusOK, newJobStatusResponse(job))
	}
}

// AuditResultsHandler returns the result of a completed job.
func (s *Server) AuditResultsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := s.ownedJob(w, r)
		if !ok {
			return
		}
		if job.Status != audit.StatusCompleted || job.Result == nil {
			writeJSONError(w, "not_completed", "The audit has not completed", http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, job.Result)
	}
}

// CancelAuditHandler stops a running job owned by the caller.
func (s *Server) CancelAuditHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := s.ownedJob(w, r)
		if !ok {
			return
		}

		err := s.audits.Cancel(r.Context(), job.ID)
		switch {
		case err == nil:
			writeJSON(w, http.StatusAccepted, runAuditResponse{JobID: job.ID})
		case errors.Is(err, orchestrator.ErrFinished):
			writeJSONError(w, "job_finished", "The audit has already finished", http.StatusConflict)
		case errors.Is(err, orchestrator.ErrNotRunningHere):
			writeJSONError(w, "not_running_here", "The audit is running on another instance", http.StatusConflict)
		case errors.Is(err, orchestrator.ErrNotFound):
			writeJSONError(w, "not_found", "Audit job not found", http.StatusNotFound)
		default:
			log.Err(err).Str("job_id", job.ID).Msg("Failed to cancel audit job")
			writeJSONError(w, "internal_error", "Could not cancel the audit", http.StatusInternalServerError)
		}
	}
}

// setRetryAfter tells pollers how long to wait before the next status read.
func (s *Server) setRetryAfter(w http.ResponseWriter) {
	seconds := max(int(math.Ceil(s.config.GetPollInterval().Seconds())), 1)
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
}

// ownedJob loads the job named by the id query parameter. Jobs of other users
// are reported as not found. On failure the response has been written.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (*audit.Job, bool) {
	session := sessionFromContext(r.Context())
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSONError(w, "invalid_request", "id is required", http.StatusBadRequest)
		return nil, false
	}

	job, err := s.audits.Status(r.Context(), id)
	if errors.Is(err, orchestrator.ErrNotFound) || (err == nil && job.UserID != session.UserID) {
		writeJSONError(w, "not_found", "Audit job not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		log.Err(err).Str("job_id", id).Msg("Failed to read audit job")
		writeJSONError(w, "internal_error", "Could not read the audit status", http.StatusInternalServerError)
		return nil, false
	}
	return job, true
}

// tokenRecord returns the caller's stored token, or nil when none was stored.
func (s *Server) tokenRecord(session *sessions.Session) (*token.Record, error) {
	record, err := s.auth.TokenRecord(session.UserID)
	if errors.Is(err, apperrors.ErrTokenNotFound) {
		return nil, nil
	}
	return record, err
}

// Package api exposes the matching engine over HTTP with a standard JSON
// error envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/lostfound/internal/experiment"
	"github.com/onnwee/lostfound/internal/feedback"
	"github.com/onnwee/lostfound/internal/matching"
	"github.com/onnwee/lostfound/internal/middleware"
	"github.com/onnwee/lostfound/internal/ranking"
	"github.com/onnwee/lostfound/internal/retrieval"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeRateLimited indicates rate limit exceeded.
	ErrCodeRateLimited = "rate_limited"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeForbidden indicates the request is forbidden.
	ErrCodeForbidden = "forbidden"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeDuplicateFeedback indicates the user already judged this match.
	ErrCodeDuplicateFeedback = "duplicate_feedback"

	// ErrCodeInsufficientFeedback indicates the learner had too little data.
	ErrCodeInsufficientFeedback = "insufficient_feedback"

	// ErrCodeProposalRejected indicates a weight proposal failed validation.
	ErrCodeProposalRejected = "proposal_rejected"

	// ErrCodeUnavailable indicates candidate retrieval could not complete.
	ErrCodeUnavailable = "unavailable"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response and records the code
// for the logging middleware.
//
//	ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
//	api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "Report not found")
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the recommended HTTP status code for common error codes.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConflict, ErrCodeDuplicateFeedback:
		return http.StatusConflict
	case ErrCodeInsufficientFeedback, ErrCodeProposalRejected:
		return http.StatusUnprocessableEntity
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCodeFor classifies a domain error. Unknown errors map to
// ErrCodeInternal and must not leak their message.
func errorCodeFor(err error) string {
	switch {
	case errors.Is(err, matching.ErrSourceNotFound),
		errors.Is(err, matching.ErrMatchNotFound),
		errors.Is(err, experiment.ErrNotFound),
		errors.Is(err, feedback.ErrProposalNotFound):
		return ErrCodeNotFound
	case errors.Is(err, feedback.ErrDuplicateEvent):
		return ErrCodeDuplicateFeedback
	case errors.Is(err, matching.ErrInvalidFeedback),
		errors.Is(err, feedback.ErrInvalidEvent),
		errors.Is(err, experiment.ErrInvalidExperiment),
		errors.Is(err, ranking.ErrInvalidWeights):
		return ErrCodeValidation
	case errors.Is(err, feedback.ErrProposalNotPending),
		errors.Is(err, experiment.ErrInvalidTransition),
		errors.Is(err, experiment.ErrNotRunning),
		errors.Is(err, experiment.ErrVariantMismatch),
		errors.Is(err, ranking.ErrStaleVersion):
		return ErrCodeConflict
	case errors.Is(err, feedback.ErrInsufficientFeedback):
		return ErrCodeInsufficientFeedback
	case errors.Is(err, feedback.ErrDeltaExceeded),
		errors.Is(err, feedback.ErrProposalWorse):
		return ErrCodeProposalRejected
	case errors.Is(err, retrieval.ErrRetrievalFailed),
		errors.Is(err, retrieval.ErrCandidateOverflow):
		return ErrCodeUnavailable
	default:
		return ErrCodeInternal
	}
}

// writeDomainError maps err onto the envelope. Internal errors are logged
// with the operation name and reported without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := errorCodeFor(err)
	ctx := middleware.SetErrorCode(r.Context(), code)
	msg := err.Error()
	if code == ErrCodeInternal {
		slog.ErrorContext(ctx, "request failed", "op", op, "error", err)
		msg = "Internal server error"
	}
	WriteError(w, ctx, StatusCodeMapping(code), code, msg)
}

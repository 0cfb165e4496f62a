package daemon

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/felixgeelhaar/certledger/internal/domain"
)

// Error codes returned in API error bodies.
const (
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeCourseNotFound  = "COURSE_NOT_FOUND"
	CodeAlreadyMinted   = "ALREADY_MINTED"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternalError   = "INTERNAL_ERROR"
	CodeValidationError = "VALIDATION_ERROR"
)

// APIError represents a structured API error
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// NewAPIError creates a new API error
func NewAPIError(code string, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WithDetails adds details to the error
func (e *APIError) WithDetails(details any) *APIError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *APIError) WithCause(err error) *APIError {
	e.cause = err
	return e
}

// ErrorResponse is the JSON structure for error responses
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// classify maps a registry error to a status and API error.
func classify(err error) (int, *APIError) {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return http.StatusBadRequest, apiErr
	case errors.Is(err, domain.ErrNoCaller):
		return http.StatusUnauthorized, NewAPIError(CodeUnauthorized, err.Error()).WithCause(err)
	case errors.Is(err, domain.ErrNotOwner), errors.Is(err, domain.ErrNotRecipient):
		return http.StatusForbidden, NewAPIError(CodeForbidden, err.Error()).WithCause(err)
	case errors.Is(err, domain.ErrCourseNotFound):
		return http.StatusUnprocessableEntity, NewAPIError(CodeCourseNotFound, err.Error()).WithCause(err)
	case errors.Is(err, domain.ErrCertificateNotFound), errors.Is(err, domain.ErrTokenNotFound):
		return http.StatusNotFound, NewAPIError(CodeNotFound, err.Error()).WithCause(err)
	case errors.Is(err, domain.ErrAlreadyMinted):
		return http.StatusConflict, NewAPIError(CodeAlreadyMinted, err.Error()).WithCause(err)
	case errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrZeroAddress),
		errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, NewAPIError(CodeBadRequest, err.Error()).WithCause(err)
	default:
		return http.StatusInternalServerError, NewAPIError(CodeInternalError, "internal error").WithCause(err)
	}
}

// writeError writes err as a structured error response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, apiErr := classify(err)
	writeAPIError(w, r, status, apiErr)
}

// writeAPIError writes an error response to the response writer
func writeAPIError(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *APIError) {
	logAttrs := []any{
		"code", apiErr.Code,
		"message", apiErr.Message,
		"status", statusCode,
		"method", r.Method,
		"path", r.URL.Path,
		"correlation_id", GetCorrelationID(r.Context()),
	}
	if apiErr.cause != nil {
		logAttrs = append(logAttrs, "cause", apiErr.cause.Error())
	}

	if statusCode >= 500 {
		slog.Error("api error", logAttrs...)
	} else {
		slog.Debug("api error", logAttrs...)
	}

	writeJSON(w, statusCode, ErrorResponse{Error: apiErr})
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

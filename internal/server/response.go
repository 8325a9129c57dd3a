package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes what went wrong.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// apiError is an error that knows its HTTP status.
type apiError struct {
	status int
	detail ErrorDetail
}

func (e *apiError) Error() string { return e.detail.Message }

func newAPIError(status int, code, format string, args ...any) *apiError {
	return &apiError{status: status, detail: ErrorDetail{Code: code, Message: fmt.Sprintf(format, args...)}}
}

func notFound(format string, args ...any) *apiError {
	return newAPIError(http.StatusNotFound, ErrCodeNotFound, format, args...)
}

func invalidRequest(format string, args ...any) *apiError {
	return newAPIError(http.StatusBadRequest, ErrCodeInvalidRequest, format, args...)
}

func unavailable(format string, args ...any) *apiError {
	return newAPIError(http.StatusServiceUnavailable, ErrCodeUnavailable, format, args...)
}

// withDetails attaches structured details to e.
func (e *apiError) withDetails(details map[string]any) *apiError {
	e.detail.Details = details
	return e
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes err as an ErrorResponse. Errors that are not an
// apiError become 500 INTERNAL_ERROR.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		apiErr = newAPIError(http.StatusInternalServerError, ErrCodeInternalError, "%v", err)
	}
	writeJSON(w, apiErr.status, ErrorResponse{Error: apiErr.detail})
}

// Package httputil writes JSON bodies and the {"error":{...}} envelope shared by every
// handler and middleware.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"

	"socialgraph/internal/logging"
)

// Error codes returned in the "code" field.
const (
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeUnavailable  = "SERVICE_UNAVAILABLE"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the body of a failed request. Fields lists per-field failures of a
// request DTO and is omitted otherwise.
type ErrorDetail struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldIssue `json:"fields,omitempty"`
}

// FieldIssue names one rejected request field.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// WriteJSON sets the content type, writes status and encodes data when non-nil.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// status is already on the wire
		logging.Warn().Err(err).Int("status", status).Msg("Failed to encode response")
	}
}

func WriteError(w http.ResponseWriter, status int, code string, message string) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// WriteValidation writes a 400 VALIDATION_ERROR, listing fields when there are any.
func WriteValidation(w http.ResponseWriter, message string, fields []FieldIssue) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
		Code:    ErrCodeValidation,
		Message: message,
		Fields:  fields,
	}})
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// WriteBadRequestWithCode is used for media failures that clients branch on.
func WriteBadRequestWithCode(w http.ResponseWriter, code string, message string) {
	WriteError(w, http.StatusBadRequest, code, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// WriteUnauthorizedWithCode distinguishes expired from invalid tokens.
func WriteUnauthorizedWithCode(w http.ResponseWriter, code string, message string) {
	WriteError(w, http.StatusUnauthorized, code, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, ErrCodeConflict, message)
}

// WriteServiceUnavailable writes a 503 with a Retry-After hint in seconds.
func WriteServiceUnavailable(w http.ResponseWriter, retryAfterSeconds int, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	WriteError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

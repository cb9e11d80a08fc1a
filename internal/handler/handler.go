// Package handler is the HTTP glue over the services. Handlers parse input, call one
// service method and map its error kind to a status code.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"socialgraph/internal/httputil"
	"socialgraph/internal/logging"
	"socialgraph/internal/model"
	"socialgraph/internal/transport/http/middleware"
	"socialgraph/internal/validation"
)

const maxJSONBodyBytes = 1 << 20

// RetryAfterSeconds is sent with 503 responses for transient storage failures.
const RetryAfterSeconds = 1

// writeError maps an error kind to its status code. Unclassified errors are logged and
// reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.RequestValidationError
	switch {
	case errors.Is(err, model.ErrUsernameExists):
		httputil.WriteConflict(w, "Username already exists")
	case errors.Is(err, model.ErrFileTooLarge):
		httputil.WriteBadRequestWithCode(w, model.CodeFileTooLarge, message(err, model.ErrValidation))
	case errors.Is(err, model.ErrInvalidMediaType), errors.Is(err, model.ErrMediaTypeMismatch):
		httputil.WriteBadRequestWithCode(w, model.CodeInvalidMediaType, message(err, model.ErrValidation))
	case errors.As(err, &verr):
		fields := make([]httputil.FieldIssue, len(verr.Fields))
		for i, f := range verr.Fields {
			fields[i] = httputil.FieldIssue{Field: f.Field, Message: f.Message}
		}
		httputil.WriteValidation(w, verr.Error(), fields)
	case errors.Is(err, model.ErrValidation):
		httputil.WriteValidation(w, message(err, model.ErrValidation), nil)
	case errors.Is(err, model.ErrNotFound):
		httputil.WriteNotFound(w, message(err, model.ErrNotFound))
	case errors.Is(err, model.ErrForbidden):
		httputil.WriteForbidden(w, message(err, model.ErrForbidden))
	case errors.Is(err, model.ErrTransientStorage):
		logging.Ctx(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("Transient storage failure")
		httputil.WriteServiceUnavailable(w, RetryAfterSeconds, "Storage temporarily unavailable, retry later")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		httputil.WriteInternalError(w, "Internal server error")
	}
}

// message strips the kind suffix: "post not found: not found" -> "post not found".
func message(err error, kind error) string {
	return strings.TrimSuffix(err.Error(), ": "+kind.Error())
}

// requireUser returns the authenticated user id or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
	}
	return userID, ok
}

// decodeJSON decodes the body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", model.ErrValidation)
	}
	return validation.Struct(dst)
}

// queryInt reads an optional integer query parameter. Missing means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", name, model.ErrValidation)
	}
	return v, nil
}

// pagination reads page and limit (pageSize is accepted as an alias of limit).
func pagination(r *http.Request) (page, limit int, err error) {
	if page, err = queryInt(r, "page"); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if limit == 0 {
		if limit, err = queryInt(r, "pageSize"); err != nil {
			return 0, 0, err
		}
	}
	return page, limit, nil
}

// upload is one file read from a multipart form.
type upload struct {
	data        []byte
	contentType string
}

// parseMultipart limits the body to maxBytes and parses the form.
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return model.ErrFileTooLarge
		case errors.Is(err, http.ErrNotMultipart):
			return fmt.Errorf("content type must be multipart/form-data: %w", model.ErrValidation)
		default:
			return fmt.Errorf("invalid form data: %w", model.ErrValidation)
		}
	}
	return nil
}

// formFiles reads every file under field, rejecting any larger than maxSize.
func formFiles(r *http.Request, field string, maxSize int) ([]upload, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers := r.MultipartForm.File[field]
	out := make([]upload, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > int64(maxSize) {
			return nil, model.ErrFileTooLarge
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload: %w", err)
		}
		data, err := io.ReadAll(io.LimitReader(f, int64(maxSize)+1))
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
		if len(data) > maxSize {
			return nil, model.ErrFileTooLarge
		}
		out = append(out, upload{data: data, contentType: fh.Header.Get("Content-Type")})
	}
	return out, nil
}

package web

// errors.go provides unified error response handling for the web layer.
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls s.respondError(w, r, err)
//  3. The status code comes from the core sentinel the error wraps
//  4. Error is mapped via core.MapError to get a user-friendly message
//  5. Technical error is logged with the request id; the client gets JSON

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/catalog-importer/internal/core"
	"github.com/JonMunkholm/catalog-importer/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for err.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrFileTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrDuplicateSKU),
		errors.Is(err, core.ErrNoFile),
		errors.Is(err, core.ErrInvalidTransition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error server-side and writes the
// user-facing message as JSON.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= http.StatusInternalServerError {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request rejected", attrs...)
	}

	// Client errors echo the detail; server errors never do.
	message := userMsg.Message
	if status < http.StatusInternalServerError {
		message = err.Error()
	}

	writeJSONStatus(w, status, ErrorResponse{
		Error:   message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// badRequest wraps a client mistake so it maps to 400 / VAL001.
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidInput, fmt.Sprintf(format, args...))
}

package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as user-friendly messages with action suggestions
//   - Given a status code derived from the error's type
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls s.respondError(w, r, err)
//  3. Status is picked by statusFor, the message by core.MapError
//  4. Technical error + context is logged with request ID for correlation
//  5. User message is written as JSON

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/ledgerimport/internal/core"
	"github.com/JonMunkholm/ledgerimport/internal/domain"
	"github.com/JonMunkholm/ledgerimport/internal/logging"
)

var (
	errRateLimited = errors.New("rate limit exceeded")
	errNoFile      = errors.New("no file provided")
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	// Field names the mapping field at fault, for mapping errors.
	Field string `json:"field,omitempty"`
	Row   int    `json:"row,omitempty"`
}

// badRequest marks a malformed request body or parameter.
type badRequest struct{ err error }

func (e badRequest) Error() string { return "invalid request: " + e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	var (
		br badRequest
		me *core.MappingError
	)
	switch {
	case errors.As(err, &br), errors.Is(err, errNoFile), errors.Is(err, core.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case core.IsParseError(err), errors.As(err, &me):
		return http.StatusUnprocessableEntity
	case core.IsTransitionError(err), errors.Is(err, core.ErrNotPublishable), errors.Is(err, core.ErrImportBusy):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyPublishes):
		return http.StatusServiceUnavailable
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// respondError handles error responses with user-friendly messages.
// It logs the technical error server-side and returns a JSON body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	// Log the technical error with context
	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request rejected", attrs...)
	}

	resp := errorResponse(userMsg)
	var me *core.MappingError
	if errors.As(err, &me) {
		resp.Field = me.Field
		resp.Row = me.Row
	}
	writeErrorResponse(w, resp, status)
}

func errorResponse(msg core.UserMessage) ErrorResponse {
	return ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	}
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, statusCode int) {
	writeErrorResponse(w, errorResponse(msg), statusCode)
}

func writeErrorResponse(w http.ResponseWriter, resp ErrorResponse, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

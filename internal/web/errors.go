package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and request id, then
// returned as JSON carrying the user-facing message from core.MapError.
// Joined validation failures are listed one per entry in Details.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/sampleuploader/internal/core"
	"github.com/JonMunkholm/sampleuploader/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error     string   `json:"error"`
	Message   string   `json:"message"`
	Action    string   `json:"action,omitempty"`
	Code      string   `json:"code"`
	Details   []string `json:"details,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// statusFor picks the HTTP status for a batch error.
func statusFor(err error) int {
	var (
		paramErr  *core.ParamError
		unsupErr  *core.UnsupportedFormatError
		valErr    *core.ValidationError
		rowErr    *core.RowError
		remoteErr *core.RemoteServiceError
	)

	switch {
	case errors.Is(err, core.ErrTooManyBatches):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &paramErr), errors.As(err, &unsupErr):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSampleSetMissing):
		return http.StatusNotFound
	case errors.As(err, &valErr), errors.As(err, &rowErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// details lists the messages of a joined error, or nil for a single error.
func details(err error) []string {
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) {
		return nil
	}
	errs := joined.Unwrap()
	if len(errs) < 2 {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}

// respondError logs the technical error server-side and writes the mapped
// user message. A zero statusCode derives the status from the error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = statusFor(err)
	}
	userMsg := core.MapError(err)

	log := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if statusCode >= 500 {
		log.Error("request error", attrs...)
	} else {
		log.Warn("request error", attrs...)
	}

	if statusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	respondErrorJSON(w, r, userMsg, statusCode, err)
}

// respondErrorJSON writes a JSON error response.
func respondErrorJSON(w http.ResponseWriter, r *http.Request, msg core.UserMessage, statusCode int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     msg.Message,
		Message:   msg.Message,
		Action:    msg.Action,
		Code:      msg.Code,
		Details:   details(err),
		RequestID: middleware.GetReqID(r.Context()),
	})
}

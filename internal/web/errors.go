package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and request id, then
// returned as JSON carrying the user message from core.MapError. The HTTP
// status follows the error code family.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

func newErrorResponse(msg core.UserMessage) ErrorResponse {
	return ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code}
}

// respondError logs err and writes its user-facing form. A zero status is
// derived from the error code.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	userMsg := core.MapError(err)
	if status == 0 {
		status = statusFor(err, userMsg.Code)
	}

	logger := logging.WithFields(r.Context(),
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"code", userMsg.Code,
	)
	if status >= 500 {
		logger.Error("request error", "error", err)
	} else {
		logger.Warn("request rejected", "error", err)
	}

	writeJSON(w, status, newErrorResponse(userMsg))
}

// statusFor maps an error code family to an HTTP status.
func statusFor(err error, code string) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}

	switch code {
	case "FILE001":
		return http.StatusRequestEntityTooLarge
	case "IMP001":
		return http.StatusNotFound
	case "IMP002", "DB001":
		return http.StatusConflict
	case "IMP004":
		return http.StatusGatewayTimeout
	case "RATE001":
		return http.StatusServiceUnavailable
	case "RATE002":
		return http.StatusTooManyRequests
	}

	switch {
	case strings.HasPrefix(code, "FILE"), strings.HasPrefix(code, "VAL"), strings.HasPrefix(code, "ARC"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "UPL"):
		return http.StatusBadGateway
	case strings.HasPrefix(code, "DB"):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already sent
		slog.Error("json encode error", "error", err)
	}
}

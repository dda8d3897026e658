package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/spherolink/internal/audit"
	"github.com/nerrad567/spherolink/internal/auth"
	"github.com/nerrad567/spherolink/internal/automation"
	"github.com/nerrad567/spherolink/internal/fleet"
	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
	"github.com/nerrad567/spherolink/internal/registry"
	"github.com/nerrad567/spherolink/internal/toy"
	"github.com/nerrad567/spherolink/internal/transport"
)

// Error is the body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeUnauthorized     = "unauthorised"
	ErrCodeForbidden        = "forbidden"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeValidation       = "validation_error"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeDevice           = audit.OutcomeDeviceError
	ErrCodeTimeout          = audit.OutcomeTimeout
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]Error{"error": {
		Status:  status,
		Code:    code,
		Message: message,
	}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps an error from the fleet, registry, auth or protocol
// layers onto a status and code. Anything unrecognised is a 500 whose
// message is not echoed to the client.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string
	switch {
	case errors.Is(err, fleet.ErrNotFound), errors.Is(err, registry.ErrNotFound),
		errors.Is(err, auth.ErrOperatorNotFound), errors.Is(err, automation.ErrNotFound):
		status, code = http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, fleet.ErrExists), errors.Is(err, registry.ErrExists),
		errors.Is(err, auth.ErrUsernameExists), errors.Is(err, automation.ErrExists),
		errors.Is(err, automation.ErrDisabled):
		status, code = http.StatusConflict, ErrCodeConflict
	case errors.Is(err, registry.ErrInvalid), errors.Is(err, auth.ErrInvalidUsername),
		errors.Is(err, auth.ErrInvalidRole), errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, automation.ErrInvalid), errors.Is(err, automation.ErrInvalidStep):
		status, code = http.StatusUnprocessableEntity, ErrCodeValidation
	case errors.Is(err, auth.ErrLastAdmin):
		status, code = http.StatusConflict, ErrCodeConflict
	case errors.Is(err, packet.ErrEncoding), errors.Is(err, command.ErrUnknownCommand),
		errors.Is(err, command.ErrUnknownNotification), errors.Is(err, toy.ErrNotSupported):
		status, code = http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, packet.ErrDevice):
		status, code = http.StatusBadGateway, ErrCodeDevice
	case errors.Is(err, packet.ErrTimeout):
		status, code = http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, packet.ErrConnectionClosed), errors.Is(err, toy.ErrClosed),
		errors.Is(err, fleet.ErrClosed), errors.Is(err, toy.ErrHandshake),
		errors.Is(err, transport.ErrConnection), errors.Is(err, transport.ErrNotFound),
		errors.Is(err, transport.ErrClosed), errors.Is(err, transport.ErrAdapter):
		status, code = http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/pkordes/carpool/backend/internal/domain"
)

// errorBody is the envelope of every error response:
// {"error":{"code":"...","message":"..."}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// OverageMeters tells the UI how far a rejected meeting point lies beyond
	// the geofence threshold.
	OverageMeters *float64 `json:"overage_meters,omitempty"`
}

// errorMapping pairs a domain sentinel with its HTTP status and error code.
// Order matters: the first sentinel matched by errors.Is wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_error"},
	{domain.ErrCapacityExceeded, http.StatusConflict, "capacity_exceeded"},
	{domain.ErrAlreadyInTrip, http.StatusConflict, "already_in_trip"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
	{domain.ErrRemoteUnavailable, http.StatusServiceUnavailable, "remote_unavailable"},
	{domain.ErrPartialWrite, http.StatusInternalServerError, "partial_write"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// requestError answers a request rejected before reaching the service layer
// (e.g. missing or malformed body, unparsable path parameter).
func requestError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
		return
	}
	writeError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
}

// serviceError maps a service error onto the HTTP error taxonomy. Unmapped
// errors are logged and answered with a generic 500.
func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.err) {
			continue
		}
		detail := errorDetail{Code: m.code, Message: unwrapMessage(err, m.err)}
		var gerr *domain.GeofenceError
		if errors.As(err, &gerr) {
			overage := gerr.Overage()
			detail.OverageMeters = &overage
		}
		if m.status >= http.StatusInternalServerError {
			s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", m.code, "error", err)
		}
		writeJSON(w, m.status, errorBody{Error: detail})
		return
	}
	s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}

// unwrapMessage extracts the human-readable part that follows the sentinel
// in a wrapped error.
// e.g. "service.RatingService.Submit: validation error: rating must be between 1 and 5"
// → "rating must be between 1 and 5"
func unwrapMessage(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return sentinel.Error()
}

// Package api provides the HTTP surface of the session coordinator:
// session lifecycle endpoints, health probes and standardized error
// handling.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/waypoint/internal/middleware"
	"github.com/onnwee/waypoint/internal/session"
)

// Error codes returned by the API.
const (
	// ErrCodeInvalidRequest indicates a malformed request body.
	ErrCodeInvalidRequest = "INVALID_REQUEST"

	// ErrCodeInvalidDuration indicates expires_in_minutes is out of range.
	ErrCodeInvalidDuration = "INVALID_DURATION"

	// ErrCodeInvalidDisplayName indicates a missing or over-long display name.
	ErrCodeInvalidDisplayName = "INVALID_DISPLAY_NAME"

	// ErrCodeInvalidAvatarColor indicates the avatar color is not a hex color.
	ErrCodeInvalidAvatarColor = "INVALID_AVATAR_COLOR"

	// ErrCodeSessionNotFound indicates the session does not exist.
	ErrCodeSessionNotFound = "SESSION_NOT_FOUND"

	// ErrCodeSessionExpired indicates the session passed its expiry or was ended.
	ErrCodeSessionExpired = "SESSION_EXPIRED"

	// ErrCodeSessionCapacityExceeded indicates the session is full.
	ErrCodeSessionCapacityExceeded = "SESSION_CAPACITY_EXCEEDED"

	// ErrCodeParticipantNotFound indicates the participant does not exist.
	ErrCodeParticipantNotFound = "PARTICIPANT_NOT_FOUND"

	// ErrCodeUnauthorized indicates a missing or invalid bearer token.
	ErrCodeUnauthorized = "UNAUTHORIZED"

	// ErrCodeForbidden indicates the token holder may not perform the operation.
	ErrCodeForbidden = "FORBIDDEN"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "INTERNAL_ERROR"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes a standardized JSON error response and records the code
// for the logging middleware.
//
// Format: {"error": {"code": "ERROR_CODE", "message": "Error description"}}
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.SetErrorCode(ctx, code)

	errResp := ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	}

	data, err := json.Marshal(errResp)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// writeSessionError maps the session package's sentinel errors onto the
// HTTP surface. Unknown errors become 500 INTERNAL_ERROR.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeSessionNotFound, "Session not found")
	case errors.Is(err, session.ErrSessionExpired):
		WriteError(w, ctx, http.StatusGone, ErrCodeSessionExpired, "Session has expired")
	case errors.Is(err, session.ErrSessionInactive):
		WriteError(w, ctx, http.StatusGone, ErrCodeSessionExpired, "Session has ended")
	case errors.Is(err, session.ErrCapacityExceeded):
		WriteError(w, ctx, http.StatusConflict, ErrCodeSessionCapacityExceeded, "Session is at capacity")
	case errors.Is(err, session.ErrParticipantNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeParticipantNotFound, "Participant not found")
	case errors.Is(err, session.ErrUnauthorized):
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Only the session creator may do this")
	case errors.Is(err, session.ErrInvalidDuration):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidDuration, "expires_in_minutes must be between 1 and 10080")
	case errors.Is(err, session.ErrEmptyDisplayName):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidDisplayName, "display_name is required")
	case errors.Is(err, session.ErrDisplayNameTooLong):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidDisplayName, "display_name must be at most 100 characters")
	case errors.Is(err, session.ErrInvalidAvatarColor):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidAvatarColor, "avatar_color must be a hex color like #FF5733")
	default:
		slog.ErrorContext(ctx, "request failed", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
	}
}

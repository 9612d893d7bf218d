package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/waypoint/internal/auth"
	"github.com/onnwee/waypoint/internal/middleware"
	"github.com/onnwee/waypoint/internal/session"
)

// SessionCoordinator is the lifecycle surface the handlers call into.
// Implemented by session.Coordinator.
type SessionCoordinator interface {
	Create(ctx context.Context, name string, expiresInMinutes int) (*session.CreateResult, error)
	Get(ctx context.Context, sessionID string) (*session.Snapshot, error)
	Join(ctx context.Context, sessionID, displayName, avatarColor string) (*session.JoinResult, error)
	End(ctx context.Context, sessionID, requesterID string) error
	ListParticipants(ctx context.Context, sessionID string) ([]*session.Participant, error)
	RemoveParticipant(ctx context.Context, sessionID, userID string) error
}

// TokenVerifier checks bearer tokens on authenticated endpoints.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// SessionHandlers holds dependencies for session HTTP handlers.
type SessionHandlers struct {
	coordinator SessionCoordinator
	tokens      TokenVerifier
	logger      *slog.Logger
}

// NewSessionHandlers creates a new SessionHandlers instance.
func NewSessionHandlers(coordinator SessionCoordinator, tokens TokenVerifier, logger *slog.Logger) *SessionHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandlers{coordinator: coordinator, tokens: tokens, logger: logger}
}

// CreateSessionRequest represents the request body for creating a session.
type CreateSessionRequest struct {
	Name             string `json:"name,omitempty"`
	ExpiresInMinutes *int   `json:"expires_in_minutes,omitempty"`
}

// CreateSessionResponse is returned from POST /api/sessions. The creator
// token authorizes ending the session and is only ever returned here.
type CreateSessionResponse struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	JoinLink     string    `json:"join_link"`
	CreatorToken string    `json:"creator_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CreateSession handles POST /api/sessions.
func (h *SessionHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON in request body")
		return
	}

	expiresIn := session.DefaultSessionMinutes
	if req.ExpiresInMinutes != nil {
		expiresIn = *req.ExpiresInMinutes
	}

	result, err := h.coordinator.Create(r.Context(), req.Name, expiresIn)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CreateSessionResponse{
		SessionID:    result.Session.ID,
		Name:         result.Session.Name,
		JoinLink:     result.JoinLink,
		CreatorToken: result.CreatorToken,
		ExpiresAt:    result.Session.ExpiresAt,
	})
}

// SessionResponse is returned from GET /api/sessions/{id}.
type SessionResponse struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	ParticipantCount int       `json:"participant_count"`
	MaxParticipants  int       `json:"max_participants"`
	IsActive         bool      `json:"is_active"`
}

// GetSession handles GET /api/sessions/{id}.
func (h *SessionHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.coordinator.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		ID:               snap.Session.ID,
		Name:             snap.Session.Name,
		CreatedAt:        snap.Session.CreatedAt,
		ExpiresAt:        snap.Session.ExpiresAt,
		ParticipantCount: snap.ParticipantCount,
		MaxParticipants:  session.MaxParticipants,
		IsActive:         snap.Session.IsActive,
	})
}

// EndSession handles DELETE /api/sessions/{id}. Only the creator token
// minted at create time is accepted.
func (h *SessionHandlers) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	claims, ok := h.authenticate(w, r, sessionID)
	if !ok {
		return
	}

	if err := h.coordinator.End(r.Context(), sessionID, claims.Subject); err != nil {
		writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// SuccessResponse acknowledges a delete-style operation.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// JoinSessionRequest represents the request body for joining a session.
type JoinSessionRequest struct {
	DisplayName string `json:"display_name"`
	AvatarColor string `json:"avatar_color,omitempty"`
}

// JoinSessionResponse is returned from POST /api/sessions/{id}/join. The
// websocket token authorizes the stream at the websocket URL.
type JoinSessionResponse struct {
	Token       string `json:"websocket_token"`
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name"`
	AvatarColor string `json:"avatar_color"`
	StreamURL   string `json:"websocket_url"`
}

// JoinSession handles POST /api/sessions/{id}/join.
func (h *SessionHandlers) JoinSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req JoinSessionRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON in request body")
		return
	}

	result, err := h.coordinator.Join(r.Context(), sessionID, req.DisplayName, req.AvatarColor)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, JoinSessionResponse{
		Token:       result.Token,
		UserID:      result.Participant.UserID,
		SessionID:   sessionID,
		DisplayName: result.Participant.DisplayName,
		AvatarColor: result.Participant.AvatarColor,
		StreamURL:   result.StreamURL,
	})
}

// ParticipantResponse is one entry in the participants listing.
type ParticipantResponse struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarColor string    `json:"avatar_color"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeen    time.Time `json:"last_seen"`
	IsActive    bool      `json:"is_active"`
}

// ParticipantsResponse is returned from GET /api/sessions/{id}/participants.
type ParticipantsResponse struct {
	Participants []ParticipantResponse `json:"participants"`
	Count        int                   `json:"count"`
}

// ListParticipants handles GET /api/sessions/{id}/participants.
func (h *SessionHandlers) ListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.coordinator.ListParticipants(r.Context(), r.PathValue("id"))
	if err != nil {
		writeSessionError(w, r, err)
		return
	}

	resp := ParticipantsResponse{Participants: make([]ParticipantResponse, 0, len(participants))}
	for _, p := range participants {
		resp.Participants = append(resp.Participants, ParticipantResponse{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			AvatarColor: p.AvatarColor,
			JoinedAt:    p.JoinedAt,
			LastSeen:    p.LastSeen,
			IsActive:    p.IsActive,
		})
	}
	resp.Count = len(resp.Participants)

	writeJSON(w, http.StatusOK, resp)
}

// RemoveParticipant handles DELETE /api/sessions/{id}/participants/{user_id}.
// Participants may remove themselves; the creator may remove anyone.
func (h *SessionHandlers) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	userID := r.PathValue("user_id")

	claims, ok := h.authenticate(w, r, sessionID)
	if !ok {
		return
	}

	if claims.Subject != userID {
		snap, err := h.coordinator.Get(r.Context(), sessionID)
		if err != nil {
			writeSessionError(w, r, err)
			return
		}
		if snap.Session.CreatorID != claims.Subject {
			WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "Only the participant or the session creator may remove a participant")
			return
		}
	}

	if err := h.coordinator.RemoveParticipant(r.Context(), sessionID, userID); err != nil {
		writeSessionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// authenticate verifies the bearer token and checks it was minted for this
// session. On failure it writes the error response and returns false.
func (h *SessionHandlers) authenticate(w http.ResponseWriter, r *http.Request, sessionID string) (*auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeUnauthorized, "Authorization bearer token is required")
		return nil, false
	}

	claims, err := h.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeUnauthorized, "Token has expired")
		} else {
			WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeUnauthorized, "Token is invalid")
		}
		return nil, false
	}

	if claims.SessionID != sessionID {
		WriteError(w, r.Context(), http.StatusForbidden, ErrCodeForbidden, "Token was not issued for this session")
		return nil, false
	}

	middleware.SetUserID(r.Context(), claims.Subject)
	return claims, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

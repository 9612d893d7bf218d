package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/waypoint/internal/auth"
	"github.com/onnwee/waypoint/internal/session"
)

// HandshakeTimeout bounds the websocket upgrade handshake.
const HandshakeTimeout = 15 * time.Second

// TokenVerifier checks stream tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// SessionReader is the durable-store slice the stream lifecycle needs:
// liveness re-checks before accepting a stream, and a last_seen stamp
// when it drops.
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	GetParticipant(ctx context.Context, sessionID, userID string) (*session.Participant, error)
	TouchParticipant(ctx context.Context, sessionID, userID string) error
}

// PresenceStore tracks which users hold live streams, cluster-wide.
type PresenceStore interface {
	AddPresence(ctx context.Context, sessionID, userID string) error
	RemovePresence(ctx context.Context, sessionID, userID string) error
	SetConnection(ctx context.Context, userID, sessionID string) error
	RemoveConnection(ctx context.Context, userID string) error
}

// Handler upgrades authenticated requests at /ws into live streams.
type Handler struct {
	hub      *Hub
	broker   *Broker
	tokens   TokenVerifier
	repo     SessionReader
	presence PresenceStore
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the /ws upgrade handler.
func NewHandler(hub *Hub, broker *Broker, tokens TokenVerifier, repo SessionReader, presence PresenceStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:      hub,
		broker:   broker,
		tokens:   tokens,
		repo:     repo,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				// Browser origin enforcement happens at the CORS layer;
				// stream auth is the token itself.
				return true
			},
		},
		logger: logger,
	}
}

// ServeHTTP authenticates the token from the query string, re-checks the
// session and participant in the durable store, upgrades the connection and
// runs the stream until it drops.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeStreamError(w, http.StatusUnauthorized, "MISSING_TOKEN", "token query parameter is required")
		return
	}

	claims, err := h.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			writeStreamError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "token has expired")
		} else {
			writeStreamError(w, http.StatusUnauthorized, "INVALID_TOKEN", "token is invalid")
		}
		return
	}

	userID := claims.Subject
	sessionID := claims.SessionID

	ctx := r.Context()

	s, err := h.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeStreamError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
		} else {
			h.logger.Error("failed to load session for upgrade", "session_id", sessionID, "error", err)
			writeStreamError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load session")
		}
		return
	}
	if s.Expired(time.Now()) || !s.IsActive {
		writeStreamError(w, http.StatusGone, "SESSION_EXPIRED", "session has ended")
		return
	}

	p, err := h.repo.GetParticipant(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, session.ErrParticipantNotFound) {
			writeStreamError(w, http.StatusForbidden, "PARTICIPANT_NOT_FOUND", "not a participant of this session")
		} else {
			h.logger.Error("failed to load participant for upgrade", "session_id", sessionID, "user_id", userID, "error", err)
			writeStreamError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load participant")
		}
		return
	}
	if !p.IsActive {
		writeStreamError(w, http.StatusForbidden, "PARTICIPANT_NOT_FOUND", "participant is no longer active")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.logger.Warn("websocket upgrade failed", "session_id", sessionID, "user_id", userID, "error", err)
		return
	}

	client := NewClient(conn, userID, sessionID, p.DisplayName, p.AvatarColor)
	go client.WritePump()

	if displaced := h.hub.Register(client); displaced != nil {
		displaced.Close(websocket.ClosePolicyViolation, "superseded by newer connection")
	}

	h.logger.Info("stream connected",
		"session_id", sessionID,
		"user_id", userID,
		"remote_addr", client.RemoteAddr,
	)

	if err := h.presence.AddPresence(ctx, sessionID, userID); err != nil {
		h.logger.Warn("failed to add presence", "session_id", sessionID, "user_id", userID, "error", err)
	}
	if err := h.presence.SetConnection(ctx, userID, sessionID); err != nil {
		h.logger.Warn("failed to set connection mapping", "user_id", userID, "error", err)
	}

	if err := h.broker.Replay(ctx, client); err != nil {
		h.logger.Warn("failed to replay session locations", "session_id", sessionID, "user_id", userID, "error", err)
	}
	h.broker.AnnounceJoined(ctx, client)

	client.ReadPump(func(raw []byte) {
		h.broker.HandleInbound(ctx, client, raw)
	})

	h.teardown(client)
}

// teardown cleans up after a stream drops. Presence and the departure
// announcement are skipped when a newer stream for the same user has
// already replaced this one.
func (h *Handler) teardown(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if !h.hub.Unregister(c) {
		return
	}

	if err := h.presence.RemovePresence(ctx, c.SessionID, c.UserID); err != nil {
		h.logger.Warn("failed to remove presence", "session_id", c.SessionID, "user_id", c.UserID, "error", err)
	}
	if err := h.presence.RemoveConnection(ctx, c.UserID); err != nil {
		h.logger.Warn("failed to remove connection mapping", "user_id", c.UserID, "error", err)
	}
	if err := h.repo.TouchParticipant(ctx, c.SessionID, c.UserID); err != nil {
		h.logger.Warn("failed to stamp participant last_seen", "session_id", c.SessionID, "user_id", c.UserID, "error", err)
	}

	h.broker.AnnounceLeft(ctx, c.SessionID, c.UserID)

	h.logger.Info("stream disconnected",
		"session_id", c.SessionID,
		"user_id", c.UserID,
		"duration", time.Since(c.ConnectedAt),
	)
}

func writeStreamError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/waypoint/internal/color"
)

// TokenMinter issues capability tokens binding a user to a session.
type TokenMinter interface {
	Mint(userID, sessionID string) (string, error)
}

// Notifier pushes lifecycle events onto the session's realtime channel so
// every node disconnects or updates its streams. Implemented by the ws
// package over the ephemeral store.
type Notifier interface {
	SessionEnded(ctx context.Context, sessionID, reason string) error
	ParticipantLeft(ctx context.Context, sessionID, userID string) error
}

// Coordinator owns session lifecycle: create, inspect, join, end. All
// durable-store writes for lifecycle go through here.
type Coordinator struct {
	repo      Repository
	tokens    TokenMinter
	notifier  Notifier
	baseURL   string
	baseWSURL string
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator. notifier may be nil in tests;
// lifecycle events are then skipped.
func NewCoordinator(repo Repository, tokens TokenMinter, notifier Notifier, baseURL, baseWSURL string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		repo:      repo,
		tokens:    tokens,
		notifier:  notifier,
		baseURL:   baseURL,
		baseWSURL: baseWSURL,
		logger:    logger,
	}
}

// CreateResult is returned from Create.
type CreateResult struct {
	Session      *Session
	JoinLink     string
	CreatorToken string
}

// Create validates the requested TTL, synthesizes a name when none is
// given, persists the session and mints the creator token that authorizes
// ending it.
func (c *Coordinator) Create(ctx context.Context, name string, expiresInMinutes int) (*CreateResult, error) {
	if err := ValidateDuration(expiresInMinutes); err != nil {
		return nil, err
	}

	sessionName := SanitizeName(name)
	if sessionName == "" {
		sessionName = GenerateName()
	}

	creatorID := uuid.New().String()
	expiresAt := time.Now().Add(time.Duration(expiresInMinutes) * time.Minute)

	s, err := c.repo.CreateSession(ctx, sessionName, expiresAt, creatorID)
	if err != nil {
		return nil, err
	}

	creatorToken, err := c.tokens.Mint(creatorID, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint creator token: %w", err)
	}

	c.logger.Info("created session", "session_id", s.ID, "name", sessionName, "expires_at", s.ExpiresAt)

	return &CreateResult{
		Session:      s,
		JoinLink:     fmt.Sprintf("%s/join/%s", c.baseURL, s.ID),
		CreatorToken: creatorToken,
	}, nil
}

// Snapshot is a session read model with its active participant count.
type Snapshot struct {
	Session          *Session
	ParticipantCount int
}

// Get returns a session snapshot. Expired and inactive sessions are
// terminal and reported as distinct errors.
func (c *Coordinator) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	s, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Expired(time.Now()) {
		return nil, ErrSessionExpired
	}
	if !s.IsActive {
		return nil, ErrSessionInactive
	}

	count, err := c.repo.ActiveParticipantCount(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Snapshot{Session: s, ParticipantCount: count}, nil
}

// JoinResult is returned from Join.
type JoinResult struct {
	Participant *Participant
	Token       string
	StreamURL   string
}

// Join validates participant input, enforces capacity transactionally,
// assigns a palette color when none is supplied and mints the stream token.
func (c *Coordinator) Join(ctx context.Context, sessionID, displayName, avatarColor string) (*JoinResult, error) {
	displayName, err := ValidateDisplayName(displayName)
	if err != nil {
		return nil, err
	}

	if avatarColor == "" {
		avatarColor = color.Random()
	} else {
		if avatarColor = color.Sanitize(avatarColor); avatarColor == "" {
			return nil, ErrInvalidAvatarColor
		}
	}

	userID := uuid.New().String()

	p, err := c.repo.JoinParticipant(ctx, sessionID, userID, displayName, avatarColor)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.Mint(userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to mint stream token: %w", err)
	}

	c.logger.Info("participant joined session", "session_id", sessionID, "user_id", userID)

	return &JoinResult{
		Participant: p,
		Token:       token,
		StreamURL:   fmt.Sprintf("%s/ws", c.baseWSURL),
	}, nil
}

// End marks a session inactive if the requester is its creator, then
// signals every node over the session channel so streams disconnect.
func (c *Coordinator) End(ctx context.Context, sessionID, requesterID string) error {
	s, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s.CreatorID != requesterID {
		return ErrUnauthorized
	}

	if err := c.repo.EndSession(ctx, sessionID); err != nil {
		return err
	}

	if c.notifier != nil {
		if err := c.notifier.SessionEnded(ctx, sessionID, "ended_by_creator"); err != nil {
			// The durable state is already terminal; nodes will still
			// reject the session on the next liveness check.
			c.logger.Warn("failed to publish session ended", "session_id", sessionID, "error", err)
		}
	}

	c.logger.Info("ended session", "session_id", sessionID, "requester_id", requesterID)
	return nil
}

// ListParticipants returns every participant of an existing session.
func (c *Coordinator) ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error) {
	if _, err := c.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.repo.ListParticipants(ctx, sessionID)
}

// RemoveParticipant deactivates a participant and emits participant_left.
func (c *Coordinator) RemoveParticipant(ctx context.Context, sessionID, userID string) error {
	if err := c.repo.DeactivateParticipant(ctx, sessionID, userID); err != nil {
		return err
	}

	if c.notifier != nil {
		if err := c.notifier.ParticipantLeft(ctx, sessionID, userID); err != nil {
			c.logger.Warn("failed to publish participant left", "session_id", sessionID, "user_id", userID, "error", err)
		}
	}

	return nil
}

// Package session holds the durable session and participant model and the
// coordinator that owns all lifecycle writes.
package session

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Limits and defaults for session lifecycle.
const (
	// MaxParticipants is the cap on concurrently active participants per session.
	MaxParticipants = 50

	// MinSessionMinutes and MaxSessionMinutes bound expires_in_minutes (7 days).
	MinSessionMinutes = 1
	MaxSessionMinutes = 10080

	// DefaultSessionMinutes is used when a create request omits the TTL (24 hours).
	DefaultSessionMinutes = 1440

	// AutoExpireAfter is the inactivity window after which a session is
	// swept to inactive.
	AutoExpireAfter = 60 * time.Minute

	// MaxNameLen bounds the session display name.
	MaxNameLen = 255

	// MaxDisplayNameLen bounds a participant display name, in code points.
	MaxDisplayNameLen = 100
)

// Session is a bounded-lifetime group within which participants share live
// location. Rows live in the durable store; is_active is monotonic false.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatorID    string    `json:"creator_id"`
	IsActive     bool      `json:"is_active"`
	LastActivity time.Time `json:"last_activity"`
}

// Expired reports whether the session's absolute expiry has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Participant is a user joined to a session. (session_id, user_id) is
// unique; re-joining reactivates the existing row.
type Participant struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarColor string    `json:"avatar_color"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeen    time.Time `json:"last_seen"`
	IsActive    bool      `json:"is_active"`
}

// SanitizeName trims a session name and truncates it to MaxNameLen.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLen {
		name = string([]rune(name)[:MaxNameLen])
	}
	return name
}

// ValidateDisplayName checks a participant display name: non-empty after
// trimming and at most MaxDisplayNameLen code points. Returns the trimmed
// name.
func ValidateDisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrEmptyDisplayName
	}
	if utf8.RuneCountInString(trimmed) > MaxDisplayNameLen {
		return "", ErrDisplayNameTooLong
	}
	return trimmed, nil
}

// ValidateDuration checks an expires_in_minutes value against the allowed range.
func ValidateDuration(minutes int) error {
	if minutes < MinSessionMinutes || minutes > MaxSessionMinutes {
		return ErrInvalidDuration
	}
	return nil
}

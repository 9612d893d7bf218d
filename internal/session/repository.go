package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/waypoint/internal/tracing"
)

// Repository provides transactional durable-store operations for sessions
// and participants. The durable store is authoritative for identity,
// capacity and authorization.
type Repository interface {
	// CreateSession persists a new active session and returns the stored row.
	CreateSession(ctx context.Context, name string, expiresAt time.Time, creatorID string) (*Session, error)

	// GetSession returns the raw session row, or ErrSessionNotFound.
	// It performs no expiry or active checks; callers decide how to treat
	// terminal states.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// ActiveParticipantCount returns the number of active participants.
	ActiveParticipantCount(ctx context.Context, sessionID string) (int, error)

	// JoinParticipant inserts a participant, or reactivates the existing
	// (session, user) row on re-join. The capacity check and the insert
	// share one transaction so concurrent joins cannot both succeed at the
	// boundary. Returns ErrCapacityExceeded when the session is full.
	JoinParticipant(ctx context.Context, sessionID, userID, displayName, avatarColor string) (*Participant, error)

	// GetParticipant returns a participant row, or ErrParticipantNotFound.
	GetParticipant(ctx context.Context, sessionID, userID string) (*Participant, error)

	// ListParticipants returns all participants of a session, active and
	// inactive, most recently joined first.
	ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error)

	// DeactivateParticipant marks a participant inactive and stamps
	// last_seen. Returns ErrParticipantNotFound if no active row matched.
	DeactivateParticipant(ctx context.Context, sessionID, userID string) error

	// TouchParticipant updates a participant's last_seen timestamp.
	TouchParticipant(ctx context.Context, sessionID, userID string) error

	// TouchActivity bumps the session's last_activity timestamp.
	TouchActivity(ctx context.Context, sessionID string) error

	// EndSession marks a session and all its participants inactive in one
	// transaction. Ending an already-ended session is a no-op; a missing
	// session returns ErrSessionNotFound.
	EndSession(ctx context.Context, sessionID string) error

	// SessionsToAutoExpire returns ids of active sessions whose
	// last_activity is older than the window and that have no participant
	// seen within the last hour.
	SessionsToAutoExpire(ctx context.Context, window time.Duration) ([]string, error)

	// DeactivateStaleParticipants marks participants unseen for the given
	// window inactive and returns the affected (session, user) pairs.
	DeactivateStaleParticipants(ctx context.Context, window time.Duration) ([]ParticipantRef, error)
}

// ParticipantRef identifies a participant within a session.
type ParticipantRef struct {
	SessionID string
	UserID    string
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const sessionColumns = "id, COALESCE(name, ''), created_at, expires_at, creator_id, is_active, last_activity"

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.Name, &s.CreatedAt, &s.ExpiresAt, &s.CreatorID, &s.IsActive, &s.LastActivity)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSession persists a new active session.
func (r *PostgresRepository) CreateSession(ctx context.Context, name string, expiresAt time.Time, creatorID string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (name, expires_at, creator_id)
		VALUES (NULLIF($1, ''), $2, $3)
		RETURNING `+sessionColumns,
		name, expiresAt, creatorID)

	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Debug("created session", "session_id", s.ID, "expires_at", s.ExpiresAt)
	return s, nil
}

// GetSession returns the raw session row.
func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1", sessionID)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ActiveParticipantCount returns the number of active participants.
func (r *PostgresRepository) ActiveParticipantCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM participants WHERE session_id = $1 AND is_active = true",
		sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count participants: %w", err)
	}
	return count, nil
}

const participantColumns = "id, session_id, user_id, display_name, avatar_color, joined_at, last_seen, is_active"

func scanParticipant(row interface{ Scan(...any) error }) (*Participant, error) {
	var p Participant
	err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &p.DisplayName, &p.AvatarColor, &p.JoinedAt, &p.LastSeen, &p.IsActive)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// JoinParticipant inserts or reactivates a participant under the capacity
// transaction. The session row is locked FOR UPDATE so the count cannot be
// raced by a concurrent join.
func (r *PostgresRepository) JoinParticipant(ctx context.Context, sessionID, userID, displayName, avatarColor string) (_ *Participant, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "participants", "insert")
	defer func() { end(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback join transaction", "error", err)
		}
	}()

	var isActive bool
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		"SELECT is_active, expires_at FROM sessions WHERE id = $1 FOR UPDATE",
		sessionID).Scan(&isActive, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}
	if time.Now().After(expiresAt) {
		return nil, ErrSessionExpired
	}
	if !isActive {
		return nil, ErrSessionInactive
	}

	var count int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM participants WHERE session_id = $1 AND is_active = true AND user_id <> $2",
		sessionID, userID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count participants: %w", err)
	}
	if count >= MaxParticipants {
		return nil, ErrCapacityExceeded
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO participants (session_id, user_id, display_name, avatar_color)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, user_id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    avatar_color = EXCLUDED.avatar_color,
		    is_active    = true,
		    last_seen    = NOW()
		RETURNING `+participantColumns,
		sessionID, userID, displayName, avatarColor)

	p, err := scanParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert participant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit join: %w", err)
	}

	r.logger.Debug("participant joined", "session_id", sessionID, "user_id", userID)
	return p, nil
}

// GetParticipant returns a participant row.
func (r *PostgresRepository) GetParticipant(ctx context.Context, sessionID, userID string) (*Participant, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE session_id = $1 AND user_id = $2",
		sessionID, userID)

	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns all participants of a session.
func (r *PostgresRepository) ListParticipants(ctx context.Context, sessionID string) ([]*Participant, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE session_id = $1 ORDER BY joined_at DESC",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// DeactivateParticipant marks a participant inactive.
func (r *PostgresRepository) DeactivateParticipant(ctx context.Context, sessionID, userID string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE participants SET is_active = false, last_seen = NOW() WHERE session_id = $1 AND user_id = $2 AND is_active = true",
		sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate participant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// TouchParticipant updates last_seen for a participant.
func (r *PostgresRepository) TouchParticipant(ctx context.Context, sessionID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE participants SET last_seen = NOW() WHERE session_id = $1 AND user_id = $2",
		sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to touch participant: %w", err)
	}
	return nil
}

// TouchActivity bumps the session's last_activity timestamp.
func (r *PostgresRepository) TouchActivity(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET last_activity = NOW() WHERE id = $1", sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session activity: %w", err)
	}
	return nil
}

// EndSession marks a session and all of its participants inactive in a
// single transaction. Idempotent for already-ended sessions.
func (r *PostgresRepository) EndSession(ctx context.Context, sessionID string) (err error) {
	ctx, end := tracing.StartDBSpan(ctx, "sessions", "update")
	defer func() { end(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback end transaction", "error", err)
		}
	}()

	var exists bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)", sessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check session: %w", err)
	}
	if !exists {
		return ErrSessionNotFound
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET is_active = false WHERE id = $1 AND is_active = true",
		sessionID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE participants SET is_active = false WHERE session_id = $1 AND is_active = true",
		sessionID); err != nil {
		return fmt.Errorf("failed to deactivate participants: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit end: %w", err)
	}

	r.logger.Debug("ended session", "session_id", sessionID)
	return nil
}

// SessionsToAutoExpire returns sessions idle past the window with no
// recently seen participant.
func (r *PostgresRepository) SessionsToAutoExpire(ctx context.Context, window time.Duration) (_ []string, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "sessions", "query")
	defer func() { end(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT s.id FROM sessions s
		WHERE s.is_active = true
		  AND s.last_activity < NOW() - ($1 * INTERVAL '1 minute')
		  AND NOT EXISTS (
			SELECT 1 FROM participants p
			WHERE p.session_id = s.id AND p.last_seen > NOW() - INTERVAL '1 hour'
		  )`,
		int(window.Minutes()))
	if err != nil {
		return nil, fmt.Errorf("failed to query expirable sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeactivateStaleParticipants sweeps participants unseen for the window.
func (r *PostgresRepository) DeactivateStaleParticipants(ctx context.Context, window time.Duration) (_ []ParticipantRef, err error) {
	ctx, end := tracing.StartDBSpan(ctx, "participants", "update")
	defer func() { end(err) }()

	rows, err := r.db.QueryContext(ctx, `
		UPDATE participants SET is_active = false
		WHERE is_active = true
		  AND last_seen < NOW() - ($1 * INTERVAL '1 minute')
		RETURNING session_id, user_id`,
		int(window.Minutes()))
	if err != nil {
		return nil, fmt.Errorf("failed to sweep participants: %w", err)
	}
	defer rows.Close()

	var refs []ParticipantRef
	for rows.Next() {
		var ref ParticipantRef
		if err := rows.Scan(&ref.SessionID, &ref.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan participant ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

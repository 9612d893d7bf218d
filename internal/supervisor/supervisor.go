// Package supervisor runs the periodic sweeps that reconcile durable
// session state with reality: auto-expiring idle sessions and deactivating
// participants that stopped reporting.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/waypoint/internal/session"
	"github.com/onnwee/waypoint/internal/tracing"
	"github.com/onnwee/waypoint/internal/ws"
)

// Sweep cadence and windows.
const (
	// SweepInterval is how often both sweeps run.
	SweepInterval = 5 * time.Minute

	// StaleParticipantWindow is how long a participant may go unseen
	// before the sweep deactivates them.
	StaleParticipantWindow = time.Hour
)

// Store is the durable-store slice the supervisor needs.
type Store interface {
	SessionsToAutoExpire(ctx context.Context, window time.Duration) ([]string, error)
	EndSession(ctx context.Context, sessionID string) error
	DeactivateStaleParticipants(ctx context.Context, window time.Duration) ([]session.ParticipantRef, error)
}

// Supervisor owns the periodic reconciliation sweeps. It publishes
// lifecycle events through the notifier so realtime nodes disconnect
// affected streams.
type Supervisor struct {
	store    Store
	notifier session.Notifier
	interval time.Duration
	metrics  *Metrics
	logger   *slog.Logger
}

// New creates a Supervisor sweeping at SweepInterval.
func New(store Store, notifier session.Notifier, metrics *Metrics, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		store:    store,
		notifier: notifier,
		interval: SweepInterval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run sweeps on the interval until ctx is cancelled. One sweep runs
// immediately at startup so a restarted process catches up right away.
func (s *Supervisor) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) sweep(ctx context.Context) {
	ctx, end := tracing.StartSpan(ctx, "supervisor.sweep")
	defer end(nil)

	s.sweepExpiredSessions(ctx)
	s.sweepStaleParticipants(ctx)
}

// sweepExpiredSessions ends active sessions with no participant activity
// inside the auto-expire window and tells every node to disconnect their
// streams.
func (s *Supervisor) sweepExpiredSessions(ctx context.Context) {
	ids, err := s.store.SessionsToAutoExpire(ctx, session.AutoExpireAfter)
	if err != nil {
		s.logger.Error("failed to find idle sessions", "error", err)
		if s.metrics != nil {
			s.metrics.IncSweepErrors()
		}
		return
	}

	for _, id := range ids {
		if err := s.store.EndSession(ctx, id); err != nil {
			s.logger.Error("failed to auto-expire session", "session_id", id, "error", err)
			if s.metrics != nil {
				s.metrics.IncSweepErrors()
			}
			continue
		}

		if s.notifier != nil {
			if err := s.notifier.SessionEnded(ctx, id, ws.ReasonExpired); err != nil {
				s.logger.Warn("failed to publish session expiry", "session_id", id, "error", err)
			}
		}

		s.logger.Info("auto-expired idle session", "session_id", id)
		if s.metrics != nil {
			s.metrics.IncExpiredSessions()
		}
	}
}

// sweepStaleParticipants deactivates participants whose last_seen fell
// outside the window and announces their departure.
func (s *Supervisor) sweepStaleParticipants(ctx context.Context) {
	refs, err := s.store.DeactivateStaleParticipants(ctx, StaleParticipantWindow)
	if err != nil {
		s.logger.Error("failed to sweep stale participants", "error", err)
		if s.metrics != nil {
			s.metrics.IncSweepErrors()
		}
		return
	}

	for _, ref := range refs {
		if s.notifier != nil {
			if err := s.notifier.ParticipantLeft(ctx, ref.SessionID, ref.UserID); err != nil {
				s.logger.Warn("failed to publish participant departure",
					"session_id", ref.SessionID, "user_id", ref.UserID, "error", err)
			}
		}
		if s.metrics != nil {
			s.metrics.IncStaleParticipants()
		}
	}

	if len(refs) > 0 {
		s.logger.Info("deactivated stale participants", "count", len(refs))
	}
}

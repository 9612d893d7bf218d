package ws

import (
	"context"

	"github.com/google/uuid"
)

// Publisher is the publish slice of the ephemeral store.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, payload []byte) error
}

// Notifier pushes session lifecycle events onto the session channel from a
// process that holds no connections of its own, such as the coordinator
// API. Every realtime node delivers the event to its local streams.
// Implements session.Notifier.
type Notifier struct {
	store  Publisher
	origin string
}

// NewNotifier creates a Notifier with its own channel origin.
func NewNotifier(store Publisher) *Notifier {
	return &Notifier{store: store, origin: uuid.New().String()}
}

// SessionEnded publishes a session_ended frame for the session.
func (n *Notifier) SessionEnded(ctx context.Context, sessionID, reason string) error {
	return n.store.Publish(ctx, sessionID, wrapForPeers(n.origin, EncodeSessionEnded(reason)))
}

// ParticipantLeft publishes a participant_left frame for the session.
func (n *Notifier) ParticipantLeft(ctx context.Context, sessionID, userID string) error {
	return n.store.Publish(ctx, sessionID, wrapForPeers(n.origin, EncodeParticipantLeft(userID)))
}

package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/waypoint/internal/livestate"
)

// LiveStore is the slice of the ephemeral store the broker needs.
type LiveStore interface {
	StoreLocation(ctx context.Context, sessionID, userID string, point *livestate.LocationPoint) error
	TouchActivity(ctx context.Context, sessionID string) error
	SessionLocations(ctx context.Context, sessionID string) ([]livestate.UserLocation, error)
	Publish(ctx context.Context, sessionID string, payload []byte) error
}

// SessionToucher stamps durable activity so the auto-expiry sweep sees the
// session as alive.
type SessionToucher interface {
	TouchActivity(ctx context.Context, sessionID string) error
	TouchParticipant(ctx context.Context, sessionID, userID string) error
}

// peerEnvelope wraps frames published between nodes. Origin lets a node
// skip envelopes it published itself, since it already delivered them
// locally.
type peerEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func wrapForPeers(origin string, payload []byte) []byte {
	wrapped, err := json.Marshal(peerEnvelope{Origin: origin, Payload: payload})
	if err != nil {
		panic(fmt.Sprintf("ws: failed to wrap peer envelope: %v", err))
	}
	return wrapped
}

// Broker routes inbound frames from local streams: it validates and stores
// location updates, fans them out to local peers and publishes them for
// other nodes.
type Broker struct {
	hub     *Hub
	store   LiveStore
	repo    SessionToucher
	origin  string
	metrics *Metrics
	logger  *slog.Logger
}

// NewBroker creates a Broker. origin identifies this node on the pub/sub
// channel; the subscriber must be created with the same value.
func NewBroker(hub *Hub, store LiveStore, repo SessionToucher, origin string, metrics *Metrics, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		hub:     hub,
		store:   store,
		repo:    repo,
		origin:  origin,
		metrics: metrics,
		logger:  logger,
	}
}

// HandleInbound processes one raw frame from a client stream. Identity is
// taken from the client, never from the frame.
func (b *Broker) HandleInbound(ctx context.Context, c *Client, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		c.TrySend(EncodeError(CodeInvalidMessageFormat, "message is not a valid envelope"))
		return
	}

	if b.metrics != nil {
		b.metrics.IncFramesReceived(env.Type)
	}

	switch env.Type {
	case TypeLocationUpdate:
		b.handleLocationUpdate(ctx, c, env.Data)
	case TypePing:
		c.TrySend(EncodePong())
	default:
		c.TrySend(EncodeError(CodeInvalidMessageType, fmt.Sprintf("unknown message type %q", env.Type)))
	}
}

func (b *Broker) handleLocationUpdate(ctx context.Context, c *Client, data json.RawMessage) {
	var update LocationUpdateData
	if err := json.Unmarshal(data, &update); err != nil {
		c.TrySend(EncodeError(CodeInvalidLocationData, "location payload is malformed"))
		return
	}
	if err := update.Validate(time.Now()); err != nil {
		c.TrySend(EncodeError(CodeInvalidLocationData, err.Error()))
		return
	}

	point := &livestate.LocationPoint{
		Lat:       update.Lat,
		Lng:       update.Lng,
		Accuracy:  update.Accuracy,
		Timestamp: update.Timestamp,
	}
	if err := b.store.StoreLocation(ctx, c.SessionID, c.UserID, point); err != nil {
		b.logger.Error("failed to store location", "session_id", c.SessionID, "user_id", c.UserID, "error", err)
		c.TrySend(EncodeError(CodeLocationStoreFailed, "failed to store location"))
		return
	}

	b.touchActivity(ctx, c)

	payload := EncodeLocationBroadcast(&LocationBroadcastData{
		UserID:    c.UserID,
		Lat:       update.Lat,
		Lng:       update.Lng,
		Accuracy:  update.Accuracy,
		Timestamp: update.Timestamp,
	})
	b.fanOut(ctx, c.SessionID, payload, c.UserID, TypeLocationBroadcast)
}

// touchActivity refreshes both activity stamps. Failures are logged and
// ignored; the update itself already succeeded.
func (b *Broker) touchActivity(ctx context.Context, c *Client) {
	if err := b.store.TouchActivity(ctx, c.SessionID); err != nil {
		b.logger.Warn("failed to touch live activity", "session_id", c.SessionID, "error", err)
	}
	if b.repo == nil {
		return
	}
	if err := b.repo.TouchActivity(ctx, c.SessionID); err != nil {
		b.logger.Warn("failed to touch session activity", "session_id", c.SessionID, "error", err)
	}
	if err := b.repo.TouchParticipant(ctx, c.SessionID, c.UserID); err != nil {
		b.logger.Warn("failed to touch participant", "session_id", c.SessionID, "user_id", c.UserID, "error", err)
	}
}

// fanOut delivers a frame to local session peers excluding the origin user,
// then publishes it for peer nodes.
func (b *Broker) fanOut(ctx context.Context, sessionID string, payload []byte, excludeUserID, frameType string) {
	b.hub.Broadcast(sessionID, payload, excludeUserID)
	if b.metrics != nil {
		b.metrics.IncFramesBroadcast(frameType)
	}

	if err := b.store.Publish(ctx, sessionID, wrapForPeers(b.origin, payload)); err != nil {
		b.logger.Error("failed to publish to peer nodes", "session_id", sessionID, "error", err)
	}
}

// Replay sends every unexpired last-known location in the session to a
// newly connected client, skipping their own.
func (b *Broker) Replay(ctx context.Context, c *Client) error {
	locations, err := b.store.SessionLocations(ctx, c.SessionID)
	if err != nil {
		return err
	}

	sent := 0
	for _, loc := range locations {
		if loc.UserID == c.UserID {
			continue
		}
		c.TrySend(EncodeLocationBroadcast(&LocationBroadcastData{
			UserID:    loc.UserID,
			Lat:       loc.Point.Lat,
			Lng:       loc.Point.Lng,
			Accuracy:  loc.Point.Accuracy,
			Timestamp: loc.Point.Timestamp,
		}))
		sent++
	}
	if b.metrics != nil && sent > 0 {
		b.metrics.AddReplayFrames(sent)
	}
	return nil
}

// AnnounceJoined tells local peers and other nodes that a participant's
// stream is live.
func (b *Broker) AnnounceJoined(ctx context.Context, c *Client) {
	payload := EncodeParticipantJoined(&ParticipantJoinedData{
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
		AvatarColor: c.AvatarColor,
	})
	b.fanOut(ctx, c.SessionID, payload, c.UserID, TypeParticipantJoined)
}

// AnnounceLeft tells local peers and other nodes that a participant's
// stream dropped.
func (b *Broker) AnnounceLeft(ctx context.Context, sessionID, userID string) {
	b.fanOut(ctx, sessionID, EncodeParticipantLeft(userID), userID, TypeParticipantLeft)
}

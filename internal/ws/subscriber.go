package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/waypoint/internal/livestate"
)

// Reconnect backoff for the cross-node subscription.
const (
	subscribeBackoffBase = 100 * time.Millisecond
	subscribeBackoffMax  = 30 * time.Second
)

// SubscriptionSource opens a pattern subscription over all session
// channels.
type SubscriptionSource interface {
	Subscribe(ctx context.Context) *redis.PubSub
}

// Subscriber is the fan-in half of the cross-node bridge: it holds one
// pattern subscription over every session channel and delivers peer
// envelopes to local streams. While the subscription is down the node
// still serves its local clients; remote updates resume on reconnect.
type Subscriber struct {
	store   SubscriptionSource
	hub     *Hub
	origin  string
	metrics *Metrics
	logger  *slog.Logger
}

// NewSubscriber creates a Subscriber. origin must match the broker's so a
// node skips envelopes it published itself.
func NewSubscriber(store SubscriptionSource, hub *Hub, origin string, metrics *Metrics, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		store:   store,
		hub:     hub,
		origin:  origin,
		metrics: metrics,
		logger:  logger,
	}
}

// Run holds the subscription open until ctx is cancelled, re-establishing
// it with capped exponential backoff after failures.
func (s *Subscriber) Run(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		pubsub := s.store.Subscribe(ctx)

		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			attempt++
			delay := subscribeBackoff(attempt)
			s.logger.Warn("failed to establish cross-node subscription",
				"attempt", attempt, "retry_in", delay, "error", err)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		attempt = 0
		if s.metrics != nil {
			s.metrics.SetSubscriberConnected(true)
		}
		s.logger.Info("cross-node subscription established", "pattern", livestate.SessionChannelPattern)

		for msg := range pubsub.Channel() {
			s.handle(msg.Channel, []byte(msg.Payload))
		}

		_ = pubsub.Close()
		if s.metrics != nil {
			s.metrics.SetSubscriberConnected(false)
		}
		if ctx.Err() == nil {
			s.logger.Warn("cross-node subscription lost, reconnecting")
		}
	}
}

func (s *Subscriber) handle(channel string, payload []byte) {
	sessionID, ok := livestate.SessionIDFromChannel(channel)
	if !ok {
		return
	}

	if s.metrics != nil {
		s.metrics.IncSubscriberMessages()
	}

	var pe peerEnvelope
	if err := json.Unmarshal(payload, &pe); err != nil {
		s.logger.Warn("dropping undecodable peer envelope", "channel", channel, "error", err)
		return
	}
	if pe.Origin == s.origin {
		// Published by this node; local delivery already happened.
		return
	}

	env, err := DecodeEnvelope(pe.Payload)
	if err != nil {
		s.logger.Warn("dropping peer envelope with bad payload", "channel", channel, "error", err)
		return
	}

	if env.Type == TypeSessionEnded {
		s.hub.CloseSession(sessionID, pe.Payload)
		return
	}

	s.hub.Broadcast(sessionID, pe.Payload, "")
	if s.metrics != nil {
		s.metrics.IncFramesBroadcast(env.Type)
	}
}

// subscribeBackoff returns the delay before reconnect attempt n, doubling
// from the base up to the cap with ±20% jitter.
func subscribeBackoff(attempt int) time.Duration {
	delay := subscribeBackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= subscribeBackoffMax {
			delay = subscribeBackoffMax
			break
		}
	}

	jitter := 0.8 + rand.Float64()*0.4
	delay = time.Duration(float64(delay) * jitter)
	if delay > subscribeBackoffMax {
		delay = subscribeBackoffMax
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

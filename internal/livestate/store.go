package livestate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// LocationTTL bounds how long a last-known location survives without a
// refresh. After expiry the user is location-unknown until the next update.
const LocationTTL = 30 * time.Second

// CommandTimeout bounds every Redis command issued by the store.
const CommandTimeout = 10 * time.Second

// LocationPoint is the stored last-known location for a participant.
type LocationPoint struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// UserLocation pairs a user id with their last-known location.
type UserLocation struct {
	UserID string
	Point  LocationPoint
}

// Stats reports key counts across the live-state namespaces.
type Stats struct {
	ActiveLocations   int `json:"active_locations"`
	ActiveSessions    int `json:"active_sessions"`
	ActiveConnections int `json:"active_connections"`
}

// Store provides live-state operations over Redis. A single multiplexed
// command client is shared by all callers; pub/sub subscriptions get their
// own dedicated connection (pub/sub cannot share with commands).
type Store struct {
	client *redis.Client
	logger *slog.Logger
}

// NewStore creates a Store from a Redis URL.
func NewStore(redisURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Store{client: redis.NewClient(opts), logger: logger}, nil
}

// NewStoreWithClient wraps an existing client, used by tests.
func NewStoreWithClient(client *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

// Close releases the command client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, CommandTimeout)
}

// StoreLocation writes a participant's last-known location with LocationTTL.
func (s *Store) StoreLocation(ctx context.Context, sessionID, userID string, point *LocationPoint) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	value, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("failed to marshal location: %w", err)
	}

	if err := s.client.Set(ctx, LocationKey(sessionID, userID), value, LocationTTL).Err(); err != nil {
		return fmt.Errorf("failed to store location: %w", err)
	}
	return nil
}

// SessionLocations returns every unexpired last-known location in a
// session, keyed by user id. Used for late-joiner replay.
func (s *Store) SessionLocations(ctx context.Context, sessionID string) ([]UserLocation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var locations []UserLocation

	iter := s.client.Scan(ctx, 0, LocationKey(sessionID, "*"), 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID, ok := userIDFromLocationKey(key)
		if !ok {
			continue
		}

		value, err := s.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get location %s: %w", key, err)
		}

		var point LocationPoint
		if err := json.Unmarshal(value, &point); err != nil {
			s.logger.Warn("skipping undecodable location entry", "key", key, "error", err)
			continue
		}
		locations = append(locations, UserLocation{UserID: userID, Point: point})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan locations: %w", err)
	}

	return locations, nil
}

// AddPresence adds a user to the session's presence set.
func (s *Store) AddPresence(ctx context.Context, sessionID, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.SAdd(ctx, PresenceKey(sessionID), userID).Err(); err != nil {
		return fmt.Errorf("failed to add presence: %w", err)
	}
	return nil
}

// RemovePresence removes a user from the session's presence set.
func (s *Store) RemovePresence(ctx context.Context, sessionID, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.SRem(ctx, PresenceKey(sessionID), userID).Err(); err != nil {
		return fmt.Errorf("failed to remove presence: %w", err)
	}
	return nil
}

// SetConnection records which session a user's live stream is bound to.
func (s *Store) SetConnection(ctx context.Context, userID, sessionID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, ConnectionKey(userID), sessionID, 0).Err(); err != nil {
		return fmt.Errorf("failed to set connection mapping: %w", err)
	}
	return nil
}

// RemoveConnection deletes a user's connection binding.
func (s *Store) RemoveConnection(ctx context.Context, userID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, ConnectionKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to remove connection mapping: %w", err)
	}
	return nil
}

// TouchActivity stamps the session's activity key with the current unix
// second.
func (s *Store) TouchActivity(ctx context.Context, sessionID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, ActivityKey(sessionID), time.Now().Unix(), 0).Err(); err != nil {
		return fmt.Errorf("failed to touch session activity: %w", err)
	}
	return nil
}

// Publish sends a serialized envelope on the session's channel for peer
// nodes.
func (s *Store) Publish(ctx context.Context, sessionID string, payload []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Publish(ctx, SessionChannel(sessionID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to session channel: %w", err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection over all session channels.
// The caller owns the returned subscription and must Close it.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.PSubscribe(ctx, SessionChannelPattern)
}

// Stats counts live keys per namespace, for monitoring.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stats := &Stats{}
	counts := []struct {
		pattern string
		dest    *int
	}{
		{"locations:*", &stats.ActiveLocations},
		{"session_participants:*", &stats.ActiveSessions},
		{"connections:*", &stats.ActiveConnections},
	}

	for _, c := range counts {
		iter := s.client.Scan(ctx, 0, c.pattern, 0).Iterator()
		for iter.Next(ctx) {
			*c.dest++
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", c.pattern, err)
		}
	}

	return stats, nil
}

// HealthCheck pings Redis.
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

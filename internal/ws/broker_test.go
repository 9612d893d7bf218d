package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/onnwee/waypoint/internal/livestate"
)

type fakeLiveStore struct {
	locations map[string]*livestate.LocationPoint
	published [][]byte
	replay    []livestate.UserLocation

	storeErr   error
	replayErr  error
	publishErr error
	touched    int
}

func newFakeLiveStore() *fakeLiveStore {
	return &fakeLiveStore{locations: make(map[string]*livestate.LocationPoint)}
}

func (f *fakeLiveStore) StoreLocation(_ context.Context, sessionID, userID string, point *livestate.LocationPoint) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.locations[sessionID+"/"+userID] = point
	return nil
}

func (f *fakeLiveStore) TouchActivity(_ context.Context, _ string) error {
	f.touched++
	return nil
}

func (f *fakeLiveStore) SessionLocations(_ context.Context, _ string) ([]livestate.UserLocation, error) {
	if f.replayErr != nil {
		return nil, f.replayErr
	}
	return f.replay, nil
}

func (f *fakeLiveStore) Publish(_ context.Context, _ string, payload []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, payload)
	return nil
}

func newTestBroker(store *fakeLiveStore) (*Broker, *Hub) {
	hub := NewHub(nil, nil)
	return NewBroker(hub, store, nil, "node-test", nil, nil), hub
}

func locationFrame(ts time.Time) []byte {
	raw, _ := json.Marshal(map[string]any{
		"type": TypeLocationUpdate,
		"data": map[string]any{
			"lat":       40.7,
			"lng":       -74.0,
			"accuracy":  5.0,
			"timestamp": ts.Format(time.RFC3339),
		},
	})
	return raw
}

func singleErrorFrame(t *testing.T, c *Client, wantCode string) {
	t.Helper()
	frames := receivedFrames(c)
	if len(frames) != 1 {
		t.Fatalf("received %d frames, want 1", len(frames))
	}
	env, err := DecodeEnvelope(frames[0])
	if err != nil {
		t.Fatalf("undecodable frame: %v", err)
	}
	if env.Type != TypeError {
		t.Fatalf("frame type = %q, want error", env.Type)
	}
	var data ErrorData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if data.Code != wantCode {
		t.Errorf("error code = %q, want %q", data.Code, wantCode)
	}
}

func TestBrokerLocationUpdateFansOut(t *testing.T) {
	store := newFakeLiveStore()
	broker, hub := newTestBroker(store)

	origin := newTestClient("u1", "s1", 4)
	peer := newTestClient("u2", "s1", 4)
	hub.Register(origin)
	hub.Register(peer)

	broker.HandleInbound(context.Background(), origin, locationFrame(time.Now()))

	if _, ok := store.locations["s1/u1"]; !ok {
		t.Error("location was not stored")
	}
	if store.touched != 1 {
		t.Errorf("activity touched %d times, want 1", store.touched)
	}

	if got := len(receivedFrames(origin)); got != 0 {
		t.Errorf("origin received %d frames, want 0 (own update must not echo)", got)
	}

	frames := receivedFrames(peer)
	if len(frames) != 1 {
		t.Fatalf("peer received %d frames, want 1", len(frames))
	}
	env, err := DecodeEnvelope(frames[0])
	if err != nil || env.Type != TypeLocationBroadcast {
		t.Fatalf("peer frame type = %q, want location_broadcast", env.Type)
	}
	var data LocationBroadcastData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("failed to decode broadcast: %v", err)
	}
	if data.UserID != "u1" {
		t.Errorf("broadcast user_id = %q, want u1 (identity comes from the stream)", data.UserID)
	}

	if len(store.published) != 1 {
		t.Fatalf("published %d envelopes, want 1", len(store.published))
	}
	var pe peerEnvelope
	if err := json.Unmarshal(store.published[0], &pe); err != nil {
		t.Fatalf("failed to decode peer envelope: %v", err)
	}
	if pe.Origin != "node-test" {
		t.Errorf("peer envelope origin = %q, want node-test", pe.Origin)
	}
	if innerEnv, err := DecodeEnvelope(pe.Payload); err != nil || innerEnv.Type != TypeLocationBroadcast {
		t.Errorf("peer payload type = %q, want location_broadcast", innerEnv.Type)
	}
}

func TestBrokerRejectsInvalidFrames(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		wantCode string
	}{
		{
			name:     "not json",
			raw:      []byte(`{"type":`),
			wantCode: CodeInvalidMessageFormat,
		},
		{
			name:     "unknown type",
			raw:      []byte(`{"type":"teleport"}`),
			wantCode: CodeInvalidMessageType,
		},
		{
			name:     "malformed location payload",
			raw:      []byte(`{"type":"location_update","data":{"lat":"north"}}`),
			wantCode: CodeInvalidLocationData,
		},
		{
			name:     "out of range latitude",
			raw:      []byte(fmt.Sprintf(`{"type":"location_update","data":{"lat":91,"lng":0,"accuracy":1,"timestamp":%q}}`, time.Now().Format(time.RFC3339))),
			wantCode: CodeInvalidLocationData,
		},
		{
			name:     "stale timestamp",
			raw:      locationFrame(time.Now().Add(-2 * time.Hour)),
			wantCode: CodeInvalidLocationData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeLiveStore()
			broker, hub := newTestBroker(store)

			origin := newTestClient("u1", "s1", 4)
			peer := newTestClient("u2", "s1", 4)
			hub.Register(origin)
			hub.Register(peer)

			broker.HandleInbound(context.Background(), origin, tt.raw)

			singleErrorFrame(t, origin, tt.wantCode)
			if got := len(receivedFrames(peer)); got != 0 {
				t.Errorf("peer received %d frames, want 0", got)
			}
			if len(store.locations) != 0 {
				t.Error("invalid update was stored")
			}
			if len(store.published) != 0 {
				t.Error("invalid update was published")
			}
		})
	}
}

func TestBrokerStoreFailure(t *testing.T) {
	store := newFakeLiveStore()
	store.storeErr = errors.New("redis down")
	broker, hub := newTestBroker(store)

	origin := newTestClient("u1", "s1", 4)
	peer := newTestClient("u2", "s1", 4)
	hub.Register(origin)
	hub.Register(peer)

	broker.HandleInbound(context.Background(), origin, locationFrame(time.Now()))

	singleErrorFrame(t, origin, CodeLocationStoreFailed)
	if got := len(receivedFrames(peer)); got != 0 {
		t.Errorf("peer received %d frames after store failure, want 0", got)
	}
}

func TestBrokerPing(t *testing.T) {
	broker, hub := newTestBroker(newFakeLiveStore())
	c := newTestClient("u1", "s1", 4)
	hub.Register(c)

	broker.HandleInbound(context.Background(), c, []byte(`{"type":"ping"}`))

	frames := receivedFrames(c)
	if len(frames) != 1 {
		t.Fatalf("received %d frames, want 1", len(frames))
	}
	env, err := DecodeEnvelope(frames[0])
	if err != nil || env.Type != TypePong {
		t.Errorf("frame type = %q, want pong", env.Type)
	}
}

func TestBrokerReplaySkipsSelf(t *testing.T) {
	store := newFakeLiveStore()
	now := time.Now().UTC()
	store.replay = []livestate.UserLocation{
		{UserID: "u1", Point: livestate.LocationPoint{Lat: 1, Lng: 1, Accuracy: 1, Timestamp: now}},
		{UserID: "u2", Point: livestate.LocationPoint{Lat: 2, Lng: 2, Accuracy: 2, Timestamp: now}},
		{UserID: "u3", Point: livestate.LocationPoint{Lat: 3, Lng: 3, Accuracy: 3, Timestamp: now}},
	}
	broker, _ := newTestBroker(store)

	joiner := newTestClient("u2", "s1", 8)
	if err := broker.Replay(context.Background(), joiner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frames := receivedFrames(joiner)
	if len(frames) != 2 {
		t.Fatalf("replayed %d frames, want 2", len(frames))
	}
	for _, raw := range frames {
		env, err := DecodeEnvelope(raw)
		if err != nil || env.Type != TypeLocationBroadcast {
			t.Fatalf("replay frame type = %q, want location_broadcast", env.Type)
		}
		var data LocationBroadcastData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			t.Fatalf("failed to decode replay frame: %v", err)
		}
		if data.UserID == "u2" {
			t.Error("replay included the joiner's own location")
		}
	}
}

func TestBrokerAnnounceJoined(t *testing.T) {
	store := newFakeLiveStore()
	broker, hub := newTestBroker(store)

	joiner := newTestClient("u1", "s1", 4)
	joiner.DisplayName = "Swift Falcon"
	joiner.AvatarColor = "#FF5733"
	peer := newTestClient("u2", "s1", 4)
	hub.Register(joiner)
	hub.Register(peer)

	broker.AnnounceJoined(context.Background(), joiner)

	if got := len(receivedFrames(joiner)); got != 0 {
		t.Errorf("joiner received %d frames, want 0", got)
	}
	frames := receivedFrames(peer)
	if len(frames) != 1 {
		t.Fatalf("peer received %d frames, want 1", len(frames))
	}
	env, _ := DecodeEnvelope(frames[0])
	if env.Type != TypeParticipantJoined {
		t.Errorf("frame type = %q, want participant_joined", env.Type)
	}
	var data ParticipantJoinedData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if data.DisplayName != "Swift Falcon" || data.AvatarColor != "#FF5733" {
		t.Errorf("payload = %+v, want joiner identity", data)
	}
	if len(store.published) != 1 {
		t.Errorf("published %d envelopes, want 1", len(store.published))
	}
}

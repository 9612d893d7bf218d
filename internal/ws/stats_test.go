package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/waypoint/internal/livestate"
)

type fakeStatsReader struct {
	stats *livestate.Stats
	err   error
}

func (f *fakeStatsReader) Stats(_ context.Context) (*livestate.Stats, error) {
	return f.stats, f.err
}

func TestStatsHandler(t *testing.T) {
	hub := NewHub(nil, nil)
	hub.Register(newTestClient("u1", "sess-1", 1))
	hub.Register(newTestClient("u2", "sess-1", 1))
	hub.Register(newTestClient("u3", "sess-2", 1))

	reader := &fakeStatsReader{stats: &livestate.Stats{
		ActiveLocations:   5,
		ActiveSessions:    2,
		ActiveConnections: 3,
	}}
	handler := NewStatsHandler(hub, reader, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		NodeConnections int              `json:"node_connections"`
		NodeSessions    int              `json:"node_sessions"`
		Cluster         *livestate.Stats `json:"cluster"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.NodeConnections != 3 {
		t.Errorf("node_connections = %d, want 3", resp.NodeConnections)
	}
	if resp.NodeSessions != 2 {
		t.Errorf("node_sessions = %d, want 2", resp.NodeSessions)
	}
	if resp.Cluster == nil || resp.Cluster.ActiveLocations != 5 {
		t.Errorf("cluster stats = %+v", resp.Cluster)
	}
}

func TestStatsHandlerDegradesWithoutStore(t *testing.T) {
	hub := NewHub(nil, nil)
	handler := NewStatsHandler(hub, &fakeStatsReader{err: errors.New("redis down")}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with node-local counts", rec.Code)
	}

	var resp struct {
		Cluster *livestate.Stats `json:"cluster"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Cluster != nil {
		t.Errorf("cluster = %+v, want omitted on store failure", resp.Cluster)
	}
}

package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/waypoint/internal/livestate"
)

// StatsReader counts live keys across the ephemeral store.
type StatsReader interface {
	Stats(ctx context.Context) (*livestate.Stats, error)
}

// StatsHandler serves GET /stats: this node's stream counts plus the
// cluster-wide live-state key counts.
type StatsHandler struct {
	hub    *Hub
	store  StatsReader
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(hub *Hub, store StatsReader, logger *slog.Logger) *StatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandler{hub: hub, store: store, logger: logger}
}

type statsResponse struct {
	NodeConnections int              `json:"node_connections"`
	NodeSessions    int              `json:"node_sessions"`
	Cluster         *livestate.Stats `json:"cluster,omitempty"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		NodeConnections: h.hub.Count(),
		NodeSessions:    h.hub.Sessions(),
	}

	cluster, err := h.store.Stats(r.Context())
	if err != nil {
		// Node-local counts are still worth returning.
		h.logger.Warn("failed to read cluster stats", "error", err)
	} else {
		resp.Cluster = cluster
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode stats response", "error", err)
	}
}

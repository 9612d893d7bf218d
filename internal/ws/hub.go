package ws

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Hub is the per-node connection registry: user id → client, with a
// per-session index for fan-out. One user holds at most one live stream on
// a node; a second upgrade replaces the first.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	bySession map[string]map[string]*Client

	metrics *Metrics
	logger  *slog.Logger
}

// NewHub creates an empty registry.
func NewHub(metrics *Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:   make(map[string]*Client),
		bySession: make(map[string]map[string]*Client),
		metrics:   metrics,
		logger:    logger,
	}
}

// Register adds a client, displacing any previous stream held by the same
// user. The displaced client is returned so the caller can close it outside
// the lock.
func (h *Hub) Register(c *Client) *Client {
	h.mu.Lock()
	displaced := h.clients[c.UserID]
	if displaced != nil {
		h.removeLocked(displaced)
	}
	h.clients[c.UserID] = c
	session := h.bySession[c.SessionID]
	if session == nil {
		session = make(map[string]*Client)
		h.bySession[c.SessionID] = session
	}
	session[c.UserID] = c
	total := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetActiveConnections(total)
	}
	return displaced
}

// Unregister removes a client if it is still the user's current stream.
// Returns false when a newer stream has already replaced it.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	current := h.clients[c.UserID] == c
	if current {
		h.removeLocked(c)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if current && h.metrics != nil {
		h.metrics.SetActiveConnections(total)
	}
	return current
}

func (h *Hub) removeLocked(c *Client) {
	delete(h.clients, c.UserID)
	if session := h.bySession[c.SessionID]; session != nil {
		delete(session, c.UserID)
		if len(session) == 0 {
			delete(h.bySession, c.SessionID)
		}
	}
}

// Broadcast delivers a frame to every local client in a session except
// excludeUserID. The registry is snapshotted under the read lock and sends
// happen outside it, so a stalling connection never blocks the registry.
// Clients whose queue is full are force-closed as slow consumers.
func (h *Hub) Broadcast(sessionID string, payload []byte, excludeUserID string) {
	h.mu.RLock()
	session := h.bySession[sessionID]
	targets := make([]*Client, 0, len(session))
	for userID, c := range session {
		if userID == excludeUserID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.TrySend(payload) {
			h.closeSlow(c)
		}
	}
}

// SendTo delivers a frame to a single local user, if connected.
func (h *Hub) SendTo(userID string, payload []byte) {
	h.mu.RLock()
	c := h.clients[userID]
	h.mu.RUnlock()

	if c != nil && !c.TrySend(payload) {
		h.closeSlow(c)
	}
}

// closeSlow closes a client that cannot keep up. It only closes the
// socket; the read pump of the owning handler exits and its teardown
// unregisters the client and cleans up presence.
func (h *Hub) closeSlow(c *Client) {
	h.logger.Warn("closing slow consumer",
		"user_id", c.UserID,
		"session_id", c.SessionID,
		"remote_addr", c.RemoteAddr,
	)
	if h.metrics != nil {
		h.metrics.IncSlowConsumerCloses()
	}
	c.Close(websocket.ClosePolicyViolation, "slow consumer")
}

// CloseSession delivers a final frame to every local client in the session
// and closes their streams. Used when a session ends. Registry removal and
// presence cleanup happen in each stream's own teardown once its read pump
// exits.
func (h *Hub) CloseSession(sessionID string, payload []byte) {
	h.mu.RLock()
	session := h.bySession[sessionID]
	targets := make([]*Client, 0, len(session))
	for _, c := range session {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.TrySend(payload)
		c.Close(websocket.CloseNormalClosure, "session ended")
	}
}

// SessionCount reports how many local clients a session has.
func (h *Hub) SessionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySession[sessionID])
}

// Sessions reports how many distinct sessions have local clients.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySession)
}

// Count reports the total number of local clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

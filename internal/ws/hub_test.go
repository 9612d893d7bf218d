package ws

import (
	"testing"
	"time"
)

func newTestClient(userID, sessionID string, queueSize int) *Client {
	return &Client{
		UserID:      userID,
		SessionID:   sessionID,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
}

func receivedFrames(c *Client) [][]byte {
	var frames [][]byte
	for {
		select {
		case f := <-c.send:
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHubBroadcastExcludesOrigin(t *testing.T) {
	hub := NewHub(nil, nil)
	origin := newTestClient("u1", "s1", 4)
	peer := newTestClient("u2", "s1", 4)
	other := newTestClient("u3", "s2", 4)
	hub.Register(origin)
	hub.Register(peer)
	hub.Register(other)

	hub.Broadcast("s1", []byte("frame"), "u1")

	if got := len(receivedFrames(origin)); got != 0 {
		t.Errorf("origin received %d frames, want 0", got)
	}
	if got := len(receivedFrames(peer)); got != 1 {
		t.Errorf("peer received %d frames, want 1", got)
	}
	if got := len(receivedFrames(other)); got != 0 {
		t.Errorf("client in other session received %d frames, want 0", got)
	}
}

func TestHubBroadcastNoExclusion(t *testing.T) {
	hub := NewHub(nil, nil)
	a := newTestClient("u1", "s1", 4)
	b := newTestClient("u2", "s1", 4)
	hub.Register(a)
	hub.Register(b)

	hub.Broadcast("s1", []byte("frame"), "")

	if got := len(receivedFrames(a)); got != 1 {
		t.Errorf("a received %d frames, want 1", got)
	}
	if got := len(receivedFrames(b)); got != 1 {
		t.Errorf("b received %d frames, want 1", got)
	}
}

func TestHubRegisterDisplacesExistingStream(t *testing.T) {
	hub := NewHub(nil, nil)
	first := newTestClient("u1", "s1", 4)
	if displaced := hub.Register(first); displaced != nil {
		t.Fatal("first register displaced a client")
	}

	second := newTestClient("u1", "s1", 4)
	displaced := hub.Register(second)
	if displaced != first {
		t.Fatal("second register did not displace the first stream")
	}
	if hub.Count() != 1 {
		t.Errorf("count = %d, want 1", hub.Count())
	}

	// The displaced stream's teardown must not evict the replacement.
	if hub.Unregister(first) {
		t.Error("unregistering displaced stream reported current")
	}
	if hub.Count() != 1 {
		t.Errorf("count after stale unregister = %d, want 1", hub.Count())
	}

	hub.Broadcast("s1", []byte("frame"), "")
	if got := len(receivedFrames(second)); got != 1 {
		t.Errorf("replacement received %d frames, want 1", got)
	}
}

func TestHubSlowConsumerIsClosed(t *testing.T) {
	hub := NewHub(nil, nil)
	slow := newTestClient("u1", "s1", 1)
	peer := newTestClient("u2", "s1", 4)
	hub.Register(slow)
	hub.Register(peer)

	hub.Broadcast("s1", []byte("one"), "")
	hub.Broadcast("s1", []byte("two"), "") // slow queue is full now

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow consumer was not closed")
	}
	// Registry removal is the owning stream's job, not the broadcaster's.
	if hub.Count() != 2 {
		t.Errorf("count = %d, want 2 before teardown", hub.Count())
	}
	if !hub.Unregister(slow) {
		t.Error("teardown unregister reported not current")
	}
	if hub.Count() != 1 {
		t.Errorf("count = %d, want 1 after teardown", hub.Count())
	}
	if got := len(receivedFrames(peer)); got != 2 {
		t.Errorf("peer received %d frames, want 2", got)
	}
}

func TestHubCloseSession(t *testing.T) {
	hub := NewHub(nil, nil)
	a := newTestClient("u1", "s1", 4)
	b := newTestClient("u2", "s1", 4)
	c := newTestClient("u3", "s2", 4)
	hub.Register(a)
	hub.Register(b)
	hub.Register(c)

	ended := EncodeSessionEnded(ReasonExpired)
	hub.CloseSession("s1", ended)

	for _, cl := range []*Client{a, b} {
		frames := receivedFrames(cl)
		if len(frames) != 1 {
			t.Fatalf("client %s received %d frames, want 1", cl.UserID, len(frames))
		}
		env, err := DecodeEnvelope(frames[0])
		if err != nil || env.Type != TypeSessionEnded {
			t.Errorf("client %s got frame type %q, want session_ended", cl.UserID, env.Type)
		}
		select {
		case <-cl.Done():
		default:
			t.Errorf("client %s was not closed", cl.UserID)
		}
	}

	select {
	case <-c.Done():
		t.Error("client in another session was closed")
	default:
	}

	// Streams stay registered until their own teardown runs, so presence
	// cleanup is not skipped.
	if hub.SessionCount("s1") != 2 {
		t.Errorf("session count = %d, want 2 before teardowns", hub.SessionCount("s1"))
	}
	for _, cl := range []*Client{a, b} {
		if !hub.Unregister(cl) {
			t.Errorf("teardown unregister of %s reported not current", cl.UserID)
		}
	}
	if hub.SessionCount("s1") != 0 {
		t.Errorf("session count = %d, want 0 after teardowns", hub.SessionCount("s1"))
	}
	if hub.Count() != 1 {
		t.Errorf("total count = %d, want 1", hub.Count())
	}
}

func TestHubSendTo(t *testing.T) {
	hub := NewHub(nil, nil)
	a := newTestClient("u1", "s1", 4)
	hub.Register(a)

	hub.SendTo("u1", []byte("direct"))
	hub.SendTo("missing", []byte("dropped"))

	if got := len(receivedFrames(a)); got != 1 {
		t.Errorf("received %d frames, want 1", got)
	}
}

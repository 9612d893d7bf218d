package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/onnwee/waypoint/internal/auth"
	"github.com/onnwee/waypoint/internal/session"
)

type fakeStreamVerifier struct {
	claims map[string]*auth.Claims
	err    error
}

func (f *fakeStreamVerifier) Verify(token string) (*auth.Claims, error) {
	if f.err != nil {
		return nil, f.err
	}
	if c, ok := f.claims[token]; ok {
		return c, nil
	}
	return nil, auth.ErrInvalidToken
}

type fakeStreamRepo struct {
	mu          sync.Mutex
	session     *session.Session
	participant *session.Participant
	touched     []string
}

func (f *fakeStreamRepo) GetSession(_ context.Context, _ string) (*session.Session, error) {
	if f.session == nil {
		return nil, session.ErrSessionNotFound
	}
	return f.session, nil
}

func (f *fakeStreamRepo) GetParticipant(_ context.Context, _, _ string) (*session.Participant, error) {
	if f.participant == nil {
		return nil, session.ErrParticipantNotFound
	}
	return f.participant, nil
}

func (f *fakeStreamRepo) TouchParticipant(_ context.Context, sessionID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, sessionID+"/"+userID)
	return nil
}

func (f *fakeStreamRepo) touchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.touched)
}

type fakePresence struct {
	mu          sync.Mutex
	added       int
	removed     int
	connections int
	cleared     int
}

func (f *fakePresence) AddPresence(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added++
	return nil
}

func (f *fakePresence) RemovePresence(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	return nil
}

func (f *fakePresence) SetConnection(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections++
	return nil
}

func (f *fakePresence) RemoveConnection(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	return nil
}

func (f *fakePresence) counts() (added, removed, connections, cleared int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.added, f.removed, f.connections, f.cleared
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newStreamFixture() (*Handler, *Hub, *fakeStreamRepo, *fakePresence) {
	hub := NewHub(nil, nil)
	broker := NewBroker(hub, newFakeLiveStore(), nil, "node-test", nil, nil)
	verifier := &fakeStreamVerifier{claims: map[string]*auth.Claims{
		"tok-u1": {
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
			SessionID:        "s1",
		},
	}}
	repo := &fakeStreamRepo{
		session: &session.Session{
			ID:        "s1",
			CreatorID: "creator",
			IsActive:  true,
			ExpiresAt: time.Now().Add(time.Hour),
		},
		participant: &session.Participant{
			SessionID:   "s1",
			UserID:      "u1",
			DisplayName: "Swift Falcon",
			AvatarColor: "#FF5733",
			IsActive:    true,
		},
	}
	presence := &fakePresence{}
	return NewHandler(hub, broker, verifier, repo, presence, nil), hub, repo, presence
}

func dialStream(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestHandlerSessionCloseRunsTeardown(t *testing.T) {
	handler, hub, repo, presence := newStreamFixture()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	conn := dialStream(t, srv, "tok-u1")
	defer conn.Close()

	waitFor(t, "stream registration", func() bool {
		return hub.SessionCount("s1") == 1
	})
	waitFor(t, "presence add", func() bool {
		added, _, connections, _ := presence.counts()
		return added == 1 && connections == 1
	})

	hub.CloseSession("s1", EncodeSessionEnded(ReasonEndedByCreator))

	waitFor(t, "presence removal after session close", func() bool {
		_, removed, _, cleared := presence.counts()
		return removed == 1 && cleared == 1
	})
	waitFor(t, "registry removal after session close", func() bool {
		return hub.Count() == 0
	})
	waitFor(t, "last_seen stamp on disconnect", func() bool {
		return repo.touchCount() == 1
	})
}

func TestHandlerDisconnectStampsLastSeen(t *testing.T) {
	handler, hub, repo, presence := newStreamFixture()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	conn := dialStream(t, srv, "tok-u1")

	waitFor(t, "stream registration", func() bool {
		return hub.SessionCount("s1") == 1
	})

	conn.Close()

	waitFor(t, "teardown after client disconnect", func() bool {
		_, removed, _, cleared := presence.counts()
		return removed == 1 && cleared == 1 && repo.touchCount() == 1
	})
	if hub.Count() != 0 {
		t.Errorf("count = %d, want 0 after disconnect", hub.Count())
	}
}

func TestHandlerRejectsBadTokens(t *testing.T) {
	handler, _, _, _ := newStreamFixture()
	srv := httptest.NewServer(handler)
	defer srv.Close()

	tests := []struct {
		name  string
		query string
	}{
		{name: "missing token", query: ""},
		{name: "unknown token", query: "?token=tok-bogus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.query)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", resp.StatusCode)
			}
		})
	}
}

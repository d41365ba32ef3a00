package conn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiliankoe/turingroom/internal/protocol"
)

type recorder struct {
	mu       sync.Mutex
	events   []protocol.Event
	statuses []Status
	causes   []error
	signal   chan struct{}
}

func newRecorder() *recorder { return &recorder{signal: make(chan struct{}, 64)} }

func (r *recorder) HandleEvent(ev protocol.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder) HandleStatus(st Status, cause error) {
	r.mu.Lock()
	r.statuses = append(r.statuses, st)
	r.causes = append(r.causes, cause)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.signal:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for notification %d of %d", i+1, n)
		}
	}
}

// roomServer upgrades /ws/rooms/1/ and hands each connection to serve.
func roomServer(t *testing.T, serve func(c *websocket.Conn, r *http.Request)) (*httptest.Server, string) {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serve(c, r)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/rooms/1/"
}

func TestCredentialPrecedence(t *testing.T) {
	got, err := Credential{Token: "tok", GuestID: "g-1"}.Apply("ws://example.test/ws/rooms/3/")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !strings.Contains(got, "student_id=g-1") || strings.Contains(got, "token=") {
		t.Fatalf("guest id should win over token: %s", got)
	}
	got, _ = Credential{Token: "tok"}.Apply("ws://example.test/ws/rooms/3/")
	if !strings.HasSuffix(got, "/ws/rooms/3/?token=tok") {
		t.Fatalf("unexpected token endpoint: %s", got)
	}
	if _, err := (Credential{}).Apply("ws://example.test/"); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("expected ErrNoCredential, got %v", err)
	}
}

func TestEventsDeliveredInOrder(t *testing.T) {
	query := make(chan string, 1)
	_, endpoint := roomServer(t, func(c *websocket.Conn, r *http.Request) {
		query <- r.URL.RawQuery
		for _, f := range []string{
			`{"type":"conversation_start","starter":false}`,
			`{"type":"nonsense"}`,
			`{"type":"private_message","message":"hi"}`,
			`{"type":"timer","seconds":30}`,
		} {
			_ = c.WriteMessage(websocket.TextMessage, []byte(f))
		}
		_, _, _ = c.ReadMessage()
	})

	m := NewManager(Options{})
	rec := newRecorder()
	m.Subscribe(rec)
	if err := m.Open(context.Background(), endpoint, Credential{Token: "abc"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close()

	rec.wait(t, 4) // connected + 3 events
	if q := <-query; q != "token=abc" {
		t.Fatalf("expected token query, got %q", q)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.statuses[0] != StatusConnected {
		t.Fatalf("expected Connected first, got %v", rec.statuses)
	}
	if len(rec.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(rec.events))
	}
	if _, ok := rec.events[0].(protocol.ConversationStart); !ok {
		t.Fatalf("expected conversation_start first, got %T", rec.events[0])
	}
	if pm, ok := rec.events[1].(protocol.PrivateMessage); !ok || pm.Message != "hi" {
		t.Fatalf("expected private_message second, got %#v", rec.events[1])
	}
	if _, ok := rec.events[2].(protocol.Timer); !ok {
		t.Fatalf("expected timer third, got %T", rec.events[2])
	}
	if m.Dropped() != 1 {
		t.Fatalf("expected 1 dropped frame, got %d", m.Dropped())
	}
}

func TestSendReachesServer(t *testing.T) {
	got := make(chan []byte, 1)
	_, endpoint := roomServer(t, func(c *websocket.Conn, r *http.Request) {
		_, data, err := c.ReadMessage()
		if err == nil {
			got <- data
		}
		_, _, _ = c.ReadMessage()
	})

	m := NewManager(Options{})
	if err := m.Open(context.Background(), endpoint, Credential{GuestID: "g"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close()
	if err := m.Send(protocol.MakeGuess{GuessedAI: true, RoomRound: 2}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case data := <-got:
		in, err := protocol.DecodeIntent(data)
		if err != nil {
			t.Fatalf("server could not decode intent: %v", err)
		}
		if g := in.(protocol.MakeGuess); !g.GuessedAI || g.RoomRound != 2 {
			t.Fatalf("unexpected intent: %+v", g)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the intent")
	}
}

func TestSendWhileDisconnectedIsNoop(t *testing.T) {
	m := NewManager(Options{})
	if err := m.Send(protocol.MakeGuess{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if m.Status() != StatusDisconnected {
		t.Fatalf("expected Disconnected, got %s", m.Status())
	}
}

func TestServerCloseDisconnectsWithoutReconnect(t *testing.T) {
	_, endpoint := roomServer(t, func(c *websocket.Conn, r *http.Request) {
		_ = c.Close()
	})

	m := NewManager(Options{})
	rec := newRecorder()
	m.Subscribe(rec)
	if err := m.Open(context.Background(), endpoint, Credential{Token: "t"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	rec.wait(t, 2)

	if m.Status() != StatusDisconnected {
		t.Fatalf("expected Disconnected, got %s", m.Status())
	}
	rec.mu.Lock()
	last := len(rec.statuses) - 1
	if rec.statuses[last] != StatusDisconnected || rec.causes[last] == nil {
		t.Fatalf("expected Disconnected with a cause, got %v %v", rec.statuses, rec.causes)
	}
	rec.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	if m.Status() != StatusDisconnected {
		t.Fatal("manager must not reconnect on its own")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	release := make(chan struct{})
	_, endpoint := roomServer(t, func(c *websocket.Conn, r *http.Request) {
		<-release
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"guess_phase"}`))
	})
	defer close(release)

	m := NewManager(Options{})
	rec := newRecorder()
	m.Subscribe(rec)
	if err := m.Open(context.Background(), endpoint, Credential{Token: "t"}); err != nil {
		t.Fatalf("open: %v", err)
	}
	rec.wait(t, 1)
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	rec.wait(t, 1)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 0 {
		t.Fatalf("no events expected after close, got %d", len(rec.events))
	}
	if rec.causes[len(rec.causes)-1] != nil {
		t.Fatal("deliberate close should not carry a cause")
	}
}

func TestOpenFailsForUnreachableEndpoint(t *testing.T) {
	m := NewManager(Options{DialTimeout: 200 * time.Millisecond})
	err := m.Open(context.Background(), "ws://127.0.0.1:1/ws/rooms/1/", Credential{Token: "t"})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if m.Status() != StatusDisconnected {
		t.Fatalf("expected Disconnected, got %s", m.Status())
	}
}

// Package conn owns the one WebSocket a participant keeps open to its room.
//
// The manager never reconnects on its own. Once the channel closes, for any
// reason, the status stays Disconnected until the caller opens it again.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiliankoe/turingroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNoCredential = errors.New("no credential")
)

type Status string

const (
	StatusDisconnected Status = "Disconnected"
	StatusConnected    Status = "Connected"
)

// Credential authenticates the channel. A guest id wins over a token because
// guest sessions have no account to look up.
type Credential struct {
	Token   string
	GuestID string
}

// Apply adds the credential query parameter to endpoint.
func (c Credential) Apply(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	switch {
	case c.GuestID != "":
		q.Set("student_id", c.GuestID)
	case c.Token != "":
		q.Set("token", c.Token)
	default:
		return "", ErrNoCredential
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Handler receives everything the manager observes. Calls are made from a
// single goroutine per open channel, in arrival order.
type Handler interface {
	HandleEvent(ev protocol.Event)
	// HandleStatus reports a status change. cause is nil for a deliberate
	// Close and for a successful Open.
	HandleStatus(st Status, cause error)
}

type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

type Manager struct {
	dialer *websocket.Dialer
	opts   Options

	mu       sync.Mutex
	ws       *websocket.Conn
	status   Status
	gen      uint64
	handlers []Handler

	dropped atomic.Int64
}

func NewManager(opts Options) *Manager {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Manager{
		dialer: &websocket.Dialer{HandshakeTimeout: opts.DialTimeout},
		opts:   opts,
		status: StatusDisconnected,
	}
}

// Subscribe registers h. Subscribers are called in registration order.
func (m *Manager) Subscribe(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Dropped counts inbound frames that could not be decoded.
func (m *Manager) Dropped() int64 { return m.dropped.Load() }

// Open dials endpoint with cred. An already open channel is closed first.
func (m *Manager) Open(ctx context.Context, endpoint string, cred Credential) error {
	target, err := cred.Apply(endpoint)
	if err != nil {
		return err
	}
	_ = m.Close()

	dctx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()
	ws, _, err := m.dialer.DialContext(dctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.ws = ws
	m.status = StatusConnected
	m.mu.Unlock()

	log.Info().Str("endpoint", endpoint).Msg("channel open")
	m.notifyStatus(gen, StatusConnected, nil)
	go m.readLoop(ws, gen)
	return nil
}

// Send transmits in when connected. Otherwise it does nothing and returns
// ErrNotConnected; intents are never queued.
func (m *Manager) Send(in protocol.Intent) error {
	b, err := protocol.EncodeIntent(in)
	if err != nil {
		return fmt.Errorf("encode %s: %w", in.Command(), err)
	}

	m.mu.Lock()
	if m.status != StatusConnected || m.ws == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	ws := m.ws
	_ = ws.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	err = ws.WriteMessage(websocket.TextMessage, b)
	m.mu.Unlock()

	if err != nil {
		// Loss is reported by the read loop, never on the caller's goroutine.
		_ = ws.Close()
		return fmt.Errorf("write %s: %w", in.Command(), err)
	}
	log.Debug().Str("command", in.Command()).Msg("intent sent")
	return nil
}

// Close releases the channel. Events still in flight are discarded.
func (m *Manager) Close() error {
	m.mu.Lock()
	ws, gen := m.ws, m.gen
	if ws == nil {
		m.mu.Unlock()
		return nil
	}
	m.ws = nil
	m.gen++
	m.status = StatusDisconnected
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()

	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := ws.Close()
	log.Info().Uint64("gen", gen).Msg("channel closed")
	for _, h := range handlers {
		h.HandleStatus(StatusDisconnected, nil)
	}
	return err
}

func (m *Manager) readLoop(ws *websocket.Conn, gen uint64) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			m.drop(ws, gen, err)
			return
		}
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			m.dropped.Add(1)
			log.Warn().Err(err).Int("bytes", len(data)).Msg("inbound frame ignored")
			continue
		}
		if !m.deliver(gen, ev) {
			return
		}
	}
}

// deliver hands ev to the subscribers unless the channel it came from was
// closed or replaced.
func (m *Manager) deliver(gen uint64, ev protocol.Event) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h.HandleEvent(ev)
	}
	return true
}

// drop tears down a channel that failed underneath us.
func (m *Manager) drop(ws *websocket.Conn, gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.ws = nil
	m.status = StatusDisconnected
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()

	_ = ws.Close()
	if cause == nil {
		cause = errors.New("channel closed")
	}
	log.Warn().Err(cause).Msg("channel lost")
	for _, h := range handlers {
		h.HandleStatus(StatusDisconnected, cause)
	}
}

func (m *Manager) notifyStatus(gen uint64, st Status, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h.HandleStatus(st, cause)
	}
}

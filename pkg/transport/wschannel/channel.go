// Package wschannel wraps one persistent WebSocket connection to the agent.
//
// The channel owns the connection state machine
//
//	disconnected -> connecting -> connected -> disconnected | errored
//	errored -> connecting (explicit Open)
//
// It never interprets inbound frames: every frame read is published on the frame bus, tagged
// with the identity of the connection it arrived on. It never retries on its own either; the
// owner decides when to call Open again.
package wschannel

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/framebus"
	"github.com/go-go-golems/chatsync/pkg/protocol"
	"github.com/go-go-golems/chatsync/pkg/session"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultReadLimit        = 4 << 20
)

type Config struct {
	// URL is the WebSocket endpoint prefix; a fresh connection id is appended as the last path
	// segment on every dial.
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadLimit        int64
	Header           http.Header
}

type Channel struct {
	cfg       Config
	dialer    *websocket.Dialer
	publisher message.Publisher

	mu       sync.Mutex
	state    chat.ConnectionState
	identity session.ID
	conn     *websocket.Conn
	gen      uint64

	writeMu sync.Mutex
	seq     atomic.Uint64
	flight  singleflight.Group

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int
}

func New(cfg Config, publisher message.Publisher) (*Channel, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("websocket url is empty")
	}
	if !strings.HasPrefix(cfg.URL, "ws://") && !strings.HasPrefix(cfg.URL, "wss://") {
		return nil, errors.Errorf("websocket url %q must start with ws:// or wss://", cfg.URL)
	}
	if publisher == nil {
		return nil, errors.New("frame publisher is nil")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	return &Channel{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		publisher: publisher,
		state:     chat.StateDisconnected,
		listeners: map[int]Listener{},
	}, nil
}

func (c *Channel) State() chat.ConnectionState {
	if c == nil {
		return chat.StateDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) Identity() session.ID {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Subscribe registers a lifecycle listener. Listeners run synchronously on the goroutine that
// caused the transition and must not block.
func (c *Channel) Subscribe(l Listener) (unsubscribe func()) {
	c.listenersMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.listenersMu.Unlock()
	return func() {
		c.listenersMu.Lock()
		delete(c.listeners, id)
		c.listenersMu.Unlock()
	}
}

func (c *Channel) emit(ev Event) {
	ev.At = time.Now()
	c.listenersMu.RLock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.listenersMu.RUnlock()
	for _, l := range ls {
		l(ev)
	}
}

func (c *Channel) logger(id session.ID) zerolog.Logger {
	return log.With().Str("component", "wschannel").Str("session_id", id.String()).Logger()
}

// Open connects the channel for id and returns once the handshake completed or failed.
// Concurrent calls for the same identity share one attempt and its result. Opening for a new
// identity replaces the current connection.
func (c *Channel) Open(ctx context.Context, id session.ID) error {
	if c == nil {
		return errors.New("channel is nil")
	}
	if id.IsZero() {
		return errors.New("session identity is empty")
	}
	c.mu.Lock()
	if c.state == chat.StateConnected && c.identity == id {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	res := c.flight.DoChan(id.String(), func() (any, error) {
		return nil, c.open(ctx, id)
	})
	select {
	case r := <-res:
		return r.Err
	case <-ctx.Done():
		return &chat.ConnectionError{Op: "open", Err: ctx.Err()}
	}
}

func (c *Channel) open(ctx context.Context, id session.ID) error {
	c.mu.Lock()
	if c.state == chat.StateConnected && c.identity == id {
		c.mu.Unlock()
		return nil
	}
	prevConn, prevID := c.conn, c.identity
	c.conn = nil
	c.gen++
	gen := c.gen
	c.state = chat.StateConnecting
	c.identity = id
	c.mu.Unlock()

	if prevConn != nil {
		c.closeConn(prevConn)
		c.emit(Event{Kind: EventDisconnected, Session: prevID})
	}

	lg := c.logger(id)
	url := strings.TrimRight(c.cfg.URL, "/") + "/" + uuid.NewString()
	// The attempt is shared by every caller waiting on it, so one caller giving up must not
	// abort it for the others.
	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.HandshakeTimeout)
	defer cancel()

	lg.Debug().Str("url", url).Msg("dialing agent")
	conn, _, err := c.dialer.DialContext(dialCtx, url, c.cfg.Header)
	if err != nil {
		cerr := &chat.ConnectionError{Op: "dial", Err: err}
		if c.transition(gen, chat.StateErrored) {
			lg.Warn().Err(err).Msg("websocket handshake failed")
			c.emit(Event{Kind: EventError, Session: id, Err: cerr})
		}
		return cerr
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = conn.Close()
		return &chat.ConnectionError{Op: "dial", Err: errors.New("connection attempt superseded")}
	}
	c.conn = conn
	c.state = chat.StateConnected
	c.mu.Unlock()

	conn.SetReadLimit(c.cfg.ReadLimit)
	lg.Info().Msg("websocket connected")
	c.emit(Event{Kind: EventConnected, Session: id})
	go c.readLoop(conn, id, gen)
	return nil
}

// transition sets the state if gen is still the live connection attempt.
func (c *Channel) transition(gen uint64, st chat.ConnectionState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.state = st
	return true
}

func (c *Channel) readLoop(conn *websocket.Conn, id session.ID, gen uint64) {
	lg := c.logger(id)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnFailure(conn, id, gen, err)
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		seq := c.seq.Add(1)
		if err := c.publisher.Publish(framebus.Topic, framebus.NewFrameMessage(data, id, seq)); err != nil {
			lg.Warn().Err(err).Uint64("seq", seq).Msg("failed to publish inbound frame")
		}
	}
}

func (c *Channel) handleConnFailure(conn *websocket.Conn, id session.ID, gen uint64, cause error) {
	lg := c.logger(id)
	c.mu.Lock()
	if c.gen != gen {
		// Closed or replaced by the owner; that path already reported the transition.
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.gen++
	c.conn = nil
	clean := websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	if clean {
		c.state = chat.StateDisconnected
	} else {
		c.state = chat.StateErrored
	}
	c.mu.Unlock()
	_ = conn.Close()

	if clean {
		lg.Info().Msg("websocket closed by agent")
		c.emit(Event{Kind: EventDisconnected, Session: id})
		return
	}
	lg.Warn().Err(cause).Msg("websocket connection failed")
	c.emit(Event{Kind: EventError, Session: id, Err: &chat.ConnectionError{Op: "read", Err: cause}})
}

// Send writes one frame. Delivery is fire-and-forget; acknowledgements arrive as inbound frames.
func (c *Channel) Send(ctx context.Context, f protocol.Frame) error {
	if c == nil {
		return chat.ErrNotConnected
	}
	c.mu.Lock()
	conn, st, id, gen := c.conn, c.state, c.identity, c.gen
	c.mu.Unlock()
	if st != chat.StateConnected || conn == nil {
		return chat.ErrNotConnected
	}

	b, err := f.Encode()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(deadline)
	err = conn.WriteMessage(websocket.TextMessage, b)
	c.writeMu.Unlock()
	if err != nil {
		c.handleConnFailure(conn, id, gen, err)
		return &chat.ConnectionError{Op: "write", Err: err}
	}
	return nil
}

// Close releases the connection. It is idempotent and safe in any state.
func (c *Channel) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	c.gen++
	conn, prev, id := c.conn, c.state, c.identity
	c.conn = nil
	c.state = chat.StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		c.closeConn(conn)
	}
	if prev != chat.StateDisconnected {
		lg := c.logger(id)
		lg.Debug().Str("from", string(prev)).Msg("websocket closed")
		c.emit(Event{Kind: EventDisconnected, Session: id})
	}
	return nil
}

func (c *Channel) closeConn(conn *websocket.Conn) {
	c.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	_ = conn.Close()
}

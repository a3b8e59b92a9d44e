// Package coordinator owns the send path: it records the user's message, picks the duplex
// channel when it is connected and falls back to the REST transport otherwise, and commits the
// outcome to the store. It also drives the channel lifecycle (connect, reconnect, session
// rotation, keepalive) on behalf of the user.
package coordinator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/protocol"
	"github.com/go-go-golems/chatsync/pkg/session"
	"github.com/go-go-golems/chatsync/pkg/store"
	"github.com/go-go-golems/chatsync/pkg/transport/rest"
	"github.com/go-go-golems/chatsync/pkg/transport/wschannel"
)

// Channel is the duplex transport as the coordinator uses it.
type Channel interface {
	Open(ctx context.Context, id session.ID) error
	Send(ctx context.Context, f protocol.Frame) error
	Close() error
	State() chat.ConnectionState
	Identity() session.ID
	Subscribe(l wschannel.Listener) (unsubscribe func())
}

// Fallback is the request/response transport.
type Fallback interface {
	Call(ctx context.Context, message string, id session.ID) (chat.AgentResponse, error)
	History(ctx context.Context, id session.ID) ([]chat.Message, error)
	ClearSession(ctx context.Context, id session.ID) error
	Health(ctx context.Context) (chat.Health, error)
}

type Config struct {
	UserID         string
	RetryAttempts  int
	RetryBaseDelay time.Duration
	// KeepaliveInterval is the period of ping frames while connected; zero disables them.
	KeepaliveInterval time.Duration
	// AutoReconnect reopens the channel with backoff after a transport failure.
	AutoReconnect      bool
	ReconnectAttempts  int
	ReconnectBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = time.Second
	}
	return c
}

// ConnectionLostText is shown when the channel fails while a request is in flight.
const ConnectionLostText = "Connection to the agent was lost before a response arrived."

type Coordinator struct {
	store    *store.Store
	channel  Channel
	fallback Fallback
	cfg      Config
	logger   zerolog.Logger

	unsubscribe      func()
	unsubscribeStore func()

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reconnecting atomic.Bool
	// channelWrites counts chat_message writes in progress. A write that fails falls through to
	// the fallback, so channel events seen meanwhile must not fail the request.
	channelWrites atomic.Int32
	// awaiting holds epoch+1 of the request whose answer is expected over the channel, or 0.
	awaiting atomic.Uint64
}

func New(s *store.Store, ch Channel, fb Fallback, cfg Config) (*Coordinator, error) {
	if s == nil {
		return nil, errors.New("store is nil")
	}
	if ch == nil && fb == nil {
		return nil, errors.New("at least one transport is required")
	}
	c := &Coordinator{
		store:    s,
		channel:  ch,
		fallback: fb,
		cfg:      cfg.withDefaults(),
		logger:   log.With().Str("component", "coordinator").Logger(),
	}
	if ch != nil {
		c.unsubscribe = ch.Subscribe(c.onChannelEvent)
		c.unsubscribeStore = s.OnChange(c.onStoreChange)
	}
	return c, nil
}

func (c *Coordinator) Store() *store.Store { return c.store }

// Start runs the background loops (keepalive, auto-reconnect) until ctx is done or Close.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	c.runCtx, c.cancel = context.WithCancel(ctx)
	if c.channel != nil && c.cfg.KeepaliveInterval > 0 {
		c.wg.Add(1)
		go c.keepalive(c.runCtx)
	}
}

func (c *Coordinator) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.unsubscribeStore != nil {
		c.unsubscribeStore()
	}
	if c.channel != nil {
		return c.channel.Close()
	}
	return nil
}

// Send delivers one user message. Blank input returns chat.ErrEmptyMessage and changes nothing.
// Over the channel, Send returns once the frame is written and the router completes the request
// when the answer arrives. Over the fallback, Send returns after the outcome has been committed.
func (c *Coordinator) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return chat.ErrEmptyMessage
	}
	var (
		id    session.ID
		epoch uint64
	)
	c.store.Update(func(tx *store.Tx) {
		id, epoch = tx.Session(), tx.Epoch()
		tx.AppendMessage(chat.NewTextMessage(chat.RoleUser, id, text))
		tx.SetLoading(true)
		tx.SetError("")
	})
	lg := c.logger.With().Str("session_id", id.String()).Logger()

	if c.channel != nil && c.channel.State() == chat.StateConnected && c.channel.Identity() == id {
		err := c.sendOverChannel(ctx, text, id, epoch)
		if err == nil {
			lg.Debug().Msg("message sent over channel")
			return nil
		}
		lg.Warn().Err(err).Msg("channel send failed, using fallback")
	}

	if c.fallback == nil {
		err := &chat.ConnectionError{Op: "send", Err: chat.ErrNotConnected}
		c.fail(epoch, id, err)
		return err
	}

	resp, err := rest.RetryWithBackoff(ctx, func(ctx context.Context) (chat.AgentResponse, error) {
		return c.fallback.Call(ctx, text, id)
	}, c.cfg.RetryAttempts, c.cfg.RetryBaseDelay)
	if err != nil {
		c.fail(epoch, id, err)
		return err
	}

	applied := c.store.ApplyAtEpoch(epoch, func(tx *store.Tx) {
		tx.SetLoading(false)
		tx.ClearProgress()
		tx.AppendMessage(resp.ToMessage(id))
	})
	if !applied {
		lg.Info().Msg("discarding fallback response for a rotated session")
	}
	return nil
}

// sendOverChannel writes the chat_message frame and, once written, marks the request as awaiting
// its answer on the channel. If the connection went away while the frame was being written, the
// request is failed here because the channel event that reported it was ignored.
func (c *Coordinator) sendOverChannel(ctx context.Context, text string, id session.ID, epoch uint64) error {
	c.channelWrites.Add(1)
	err := c.channel.Send(ctx, protocol.NewChatMessage(text, id, c.cfg.UserID))
	if err == nil {
		c.store.ApplyAtEpoch(epoch, func(tx *store.Tx) {
			if tx.Loading() {
				c.awaiting.Store(epoch + 1)
			}
		})
	}
	c.channelWrites.Add(-1)
	if err != nil {
		return err
	}
	if c.channel.State() != chat.StateConnected || c.channel.Identity() != id {
		c.store.ApplyAtEpoch(epoch, c.loseAwaitedRequest)
	}
	return nil
}

func (c *Coordinator) fail(epoch uint64, id session.ID, err error) {
	text := chat.UserFacing(err)
	applied := c.store.ApplyAtEpoch(epoch, func(tx *store.Tx) {
		tx.SetLoading(false)
		tx.ClearProgress()
		tx.SetError(text)
		tx.AppendMessage(chat.NewErrorMessage(id, text))
	})
	ev := c.logger.Warn().Err(err).Str("session_id", id.String())
	if !applied {
		ev = c.logger.Debug().Err(err).Str("session_id", id.String())
	}
	ev.Bool("applied", applied).Msg("send failed")
}

// Connect opens the channel for the active session and announces the session to the agent.
// A failure leaves the store in the errored state; sends keep working over the fallback.
func (c *Coordinator) Connect(ctx context.Context) error {
	if c.channel == nil {
		return errors.New("no duplex channel configured")
	}
	id := c.store.Session()
	if c.channel.State() == chat.StateConnected && c.channel.Identity() == id {
		return nil
	}
	c.store.Apply(id, func(tx *store.Tx) { tx.SetConnectionState(chat.StateConnecting) })
	if err := c.channel.Open(ctx, id); err != nil {
		c.store.Apply(id, func(tx *store.Tx) { tx.SetConnectionState(chat.StateErrored) })
		return errors.Wrap(err, "connect")
	}
	if err := c.channel.Send(ctx, protocol.NewSessionInit(id)); err != nil {
		return errors.Wrap(err, "send session_init")
	}
	return nil
}

// Reconnect drops the current connection, if any, and connects again.
func (c *Coordinator) Reconnect(ctx context.Context) error {
	if c.channel == nil {
		return errors.New("no duplex channel configured")
	}
	_ = c.channel.Close()
	return c.Connect(ctx)
}

// NewSession rotates the store to a fresh identity, asks the agent to forget the old session,
// and reopens the channel for the new one if it was in use.
func (c *Coordinator) NewSession(ctx context.Context) (session.ID, error) {
	old := c.store.Session()
	wasOpen := c.channel != nil && c.channel.State() != chat.StateDisconnected
	next, epoch := c.store.RotateSession()
	c.logger.Info().Str("from", old.String()).Str("session_id", next.String()).Uint64("epoch", epoch).Msg("new session")

	if c.fallback != nil {
		if err := c.fallback.ClearSession(ctx, old); err != nil {
			c.logger.Warn().Err(err).Str("session_id", old.String()).Msg("could not clear previous session")
		}
	}
	if !wasOpen {
		return next, nil
	}
	return next, c.Connect(ctx)
}

// RequestHistory asks the agent, over the channel, to replay the session history.
func (c *Coordinator) RequestHistory(ctx context.Context) error {
	if c.channel == nil {
		return chat.ErrNotConnected
	}
	return c.channel.Send(ctx, protocol.NewSessionHistoryRequest(c.store.Session()))
}

// History fetches the agent's record of the active session over REST.
func (c *Coordinator) History(ctx context.Context) ([]chat.Message, error) {
	if c.fallback == nil {
		return nil, errors.New("no fallback transport configured")
	}
	return c.fallback.History(ctx, c.store.Session())
}

func (c *Coordinator) Health(ctx context.Context) (chat.Health, error) {
	if c.fallback == nil {
		return chat.Health{}, errors.New("no fallback transport configured")
	}
	return c.fallback.Health(ctx)
}

// Ping sends one keepalive frame if the channel is connected.
func (c *Coordinator) Ping(ctx context.Context) error {
	if c.channel == nil || c.channel.State() != chat.StateConnected {
		return chat.ErrNotConnected
	}
	return c.channel.Send(ctx, protocol.NewPing(time.Now()))
}

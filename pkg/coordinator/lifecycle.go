package coordinator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
	"github.com/go-go-golems/chatsync/pkg/store"
	"github.com/go-go-golems/chatsync/pkg/transport/wschannel"
)

// onChannelEvent mirrors the channel state into the store. Events for identities other than
// the active session come from superseded connections and are ignored. When the connection ends,
// cleanly or not, a request still waiting for its answer on it is failed.
func (c *Coordinator) onChannelEvent(ev wschannel.Event) {
	lg := c.logger.With().Str("session_id", ev.Session.String()).Str("event", string(ev.Kind)).Logger()
	switch ev.Kind {
	case wschannel.EventConnected:
		c.store.Apply(ev.Session, func(tx *store.Tx) { tx.SetConnectionState(chat.StateConnected) })
	case wschannel.EventDisconnected:
		c.store.Apply(ev.Session, func(tx *store.Tx) {
			tx.SetConnectionState(chat.StateDisconnected)
			c.loseAwaitedRequest(tx)
		})
	case wschannel.EventError:
		applied := c.store.Apply(ev.Session, func(tx *store.Tx) {
			tx.SetConnectionState(chat.StateErrored)
			c.loseAwaitedRequest(tx)
		})
		if !applied {
			lg.Debug().Msg("ignoring error from superseded connection")
			return
		}
		lg.Warn().Err(ev.Err).Msg("channel failed")
		c.scheduleReconnect(ev.Session)
	}
}

// loseAwaitedRequest fails the request of the current epoch that is waiting for an answer over
// the channel. It runs inside a store transaction.
func (c *Coordinator) loseAwaitedRequest(tx *store.Tx) {
	if c.channelWrites.Load() > 0 || !tx.Loading() {
		return
	}
	if !c.awaiting.CompareAndSwap(tx.Epoch()+1, 0) {
		return
	}
	tx.SetLoading(false)
	tx.ClearProgress()
	tx.SetError(ConnectionLostText)
	tx.AppendMessage(chat.NewErrorMessage(tx.Session(), ConnectionLostText))
	c.logger.Warn().Str("session_id", tx.Session().String()).Msg("connection lost while awaiting an answer")
}

// onStoreChange forgets the awaited request once it completes or its session is rotated away.
func (c *Coordinator) onStoreChange(ch store.Change) {
	switch ch.Kind {
	case store.ChangeLoading:
		if !ch.Snapshot.Loading {
			c.awaiting.Store(0)
		}
	case store.ChangeSessionRotated:
		c.awaiting.Store(0)
	}
}

func (c *Coordinator) scheduleReconnect(id session.ID) {
	if !c.cfg.AutoReconnect {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil || !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	ctx := c.runCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.reconnecting.Store(false)
		c.reconnect(ctx, id)
	}()
}

func (c *Coordinator) reconnect(ctx context.Context, id session.ID) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectBaseDelay
	b.Multiplier = 2
	b.MaxInterval = 30 * c.cfg.ReconnectBaseDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.ReconnectAttempts)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		if c.store.Session() != id {
			return backoff.Permanent(context.Canceled)
		}
		return c.Connect(ctx)
	}
	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.logger.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("reconnect failed, retrying")
	})
	if err != nil {
		c.logger.Warn().Err(err).Int("attempts", attempt).Msg("giving up on reconnect")
		return
	}
	c.logger.Info().Int("attempts", attempt).Msg("reconnected")
}

func (c *Coordinator) keepalive(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.KeepaliveInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.Ping(ctx); err != nil && !errors.Is(err, chat.ErrNotConnected) {
				c.logger.Debug().Err(err).Msg("keepalive ping failed")
			}
		}
	}
}

// Package engine assembles the synchronization engine from a configuration: frame bus, duplex
// channel, REST fallback, store, router and coordinator.
package engine

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/coordinator"
	"github.com/go-go-golems/chatsync/pkg/framebus"
	"github.com/go-go-golems/chatsync/pkg/router"
	"github.com/go-go-golems/chatsync/pkg/store"
	"github.com/go-go-golems/chatsync/pkg/transport/rest"
	"github.com/go-go-golems/chatsync/pkg/transport/wschannel"
)

type Engine struct {
	Store       *store.Store
	Coordinator *coordinator.Coordinator

	bus      *framebus.Bus
	consumer *router.Consumer
}

type Option func(*options)

type options struct {
	diagnostics router.DiagnosticsSink
	listeners   []store.Listener
}

// WithDiagnostics receives inbound frames the router could not understand.
func WithDiagnostics(sink router.DiagnosticsSink) Option {
	return func(o *options) { o.diagnostics = sink }
}

// WithListener subscribes l to store changes before anything can change.
func WithListener(l store.Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// New builds and starts the engine. The channel is not opened; call Connect on the coordinator.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *Engine, err error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	e.Store = store.New(store.WithWelcome(cfg.Session.Welcome))
	for _, l := range o.listeners {
		e.Store.OnChange(l)
	}
	// Every conversation, including the first, opens on a fresh identity with the welcome message.
	e.Store.RotateSession()

	fb, err := rest.NewClient(rest.Config{
		BaseURL: cfg.Agent.BaseURL,
		UserID:  cfg.Agent.UserID,
		Timeout: cfg.Timeouts.Call,
	})
	if err != nil {
		return nil, err
	}

	var ch coordinator.Channel
	if cfg.Channel.UseChannel() {
		if err := framebus.EnsureGroupAtTail(ctx, cfg.FrameBus); err != nil {
			return nil, err
		}
		e.bus, err = framebus.Build(cfg.FrameBus)
		if err != nil {
			return nil, err
		}
		var ropts []router.Option
		if o.diagnostics != nil {
			ropts = append(ropts, router.WithDiagnostics(o.diagnostics))
		}
		e.consumer = router.NewConsumer(router.New(e.Store, ropts...), e.bus.Subscriber)
		if err := e.consumer.Start(ctx); err != nil {
			return nil, errors.Wrap(err, "start frame consumer")
		}
		wsc, err := wschannel.New(wschannel.Config{
			URL:              cfg.Agent.WebSocketURL,
			HandshakeTimeout: cfg.Timeouts.Handshake,
			WriteTimeout:     cfg.Timeouts.Write,
		}, e.bus.Publisher)
		if err != nil {
			return nil, err
		}
		ch = wsc
	}

	e.Coordinator, err = coordinator.New(e.Store, ch, fb, coordinator.Config{
		UserID:             cfg.Agent.UserID,
		RetryAttempts:      cfg.Retry.Attempts,
		RetryBaseDelay:     cfg.Retry.BaseDelay,
		KeepaliveInterval:  cfg.Channel.Keepalive,
		AutoReconnect:      cfg.Channel.AutoReconnect,
		ReconnectAttempts:  cfg.Channel.ReconnectAttempts,
		ReconnectBaseDelay: cfg.Channel.ReconnectBaseDelay,
	})
	if err != nil {
		return nil, err
	}
	e.Coordinator.Start(ctx)

	log.Debug().
		Str("component", "engine").
		Str("base_url", cfg.Agent.BaseURL).
		Bool("channel", ch != nil).
		Str("session_id", e.Store.Session().String()).
		Msg("engine ready")
	return e, nil
}

// HasChannel reports whether a duplex channel was configured.
func (e *Engine) HasChannel() bool {
	return e.consumer != nil
}

// Close stops the coordinator, the consumer and the bus, in that order.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	var first error
	if e.Coordinator != nil {
		first = e.Coordinator.Close()
	}
	if e.consumer != nil {
		e.consumer.Stop()
	}
	if e.bus != nil {
		if err := e.bus.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package router

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/framebus"
)

// Consumer feeds frames from the bus into a Router on a single goroutine, in the order they
// were published. Each frame is acked after it has been applied.
type Consumer struct {
	router     *Router
	subscriber message.Subscriber

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

func NewConsumer(r *Router, subscriber message.Subscriber) *Consumer {
	return &Consumer{router: r, subscriber: subscriber}
}

// Start subscribes and returns once the subscription is live, so frames published after Start
// returns are never missed.
func (c *Consumer) Start(ctx context.Context) error {
	if c == nil || c.subscriber == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	ch, err := c.subscriber.Subscribe(runCtx, framebus.Topic)
	if err != nil {
		cancel()
		return err
	}
	c.cancel = cancel
	c.running = true
	c.done = make(chan struct{})
	go c.consume(ch, c.done)
	return nil
}

// Stop cancels the subscription and waits for the frame in flight to finish.
func (c *Consumer) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Consumer) Close() {
	if c == nil {
		return
	}
	c.Stop()
	if c.subscriber != nil {
		if err := c.subscriber.Close(); err != nil {
			log.Warn().Err(err).Str("component", "router").Msg("consumer: subscriber close failed")
		}
	}
}

func (c *Consumer) IsRunning() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Consumer) consume(ch <-chan *message.Message, done chan struct{}) {
	defer close(done)
	log.Debug().Str("component", "router").Msg("consumer: started")
	for msg := range ch {
		c.router.Route(msg.Payload, framebus.FrameSession(msg))
		msg.Ack()
	}
	log.Debug().Str("component", "router").Msg("consumer: stopped")
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
}

// Package framebus carries raw inbound frames from the duplex channel to their consumers.
package framebus

import (
	"context"
	"strconv"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/session"
)

// Topic is the single topic inbound frames are published on.
const Topic = "chatsync.inbound"

const (
	MetaSessionID = "session_id"
	MetaSeq       = "seq"
)

type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	closers []func() error
}

// Build constructs the bus described by s. Publishing on the in-memory bus blocks until the
// subscriber acks, which keeps frames in arrival order end to end.
func Build(s Settings) (*Bus, error) {
	logger := NewWatermillLogger(log.With().Str("component", "framebus").Logger())
	defaults := DefaultSettings()

	if !s.RedisEnabled {
		buffer := s.BufferSize
		if buffer <= 0 {
			buffer = defaults.BufferSize
		}
		pubsub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            int64(buffer),
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &Bus{
			Publisher:  pubsub,
			Subscriber: pubsub,
			closers:    []func() error{pubsub.Close},
		}, nil
	}

	addr := firstNonEmpty(s.RedisAddr, defaults.RedisAddr)
	client := redis.NewClient(&redis.Options{Addr: addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream publisher")
	}

	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: firstNonEmpty(s.RedisGroup, defaults.RedisGroup),
		Consumer:      firstNonEmpty(s.RedisConsumer, defaults.RedisConsumer),
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis stream subscriber")
	}

	log.Info().Str("component", "framebus").Str("addr", addr).Msg("using redis streams for inbound frames")
	return &Bus{
		Publisher:  pub,
		Subscriber: sub,
		closers:    []func() error{sub.Close, pub.Close, client.Close},
	}, nil
}

// EnsureGroupAtTail creates the consumer group at the stream tail so a fresh consumer does not
// replay frames from earlier runs.
func EnsureGroupAtTail(ctx context.Context, s Settings) error {
	if !s.RedisEnabled {
		return nil
	}
	defaults := DefaultSettings()
	client := redis.NewClient(&redis.Options{Addr: firstNonEmpty(s.RedisAddr, defaults.RedisAddr)})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, Topic, firstNonEmpty(s.RedisGroup, defaults.RedisGroup), "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.Wrap(err, "create redis consumer group")
	}
	return nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var first error
	for _, c := range b.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	b.closers = nil
	return first
}

// NewFrameMessage wraps one raw frame for publication.
func NewFrameMessage(raw []byte, id session.ID, seq uint64) *message.Message {
	msg := message.NewMessage(watermill.NewUUID(), append([]byte(nil), raw...))
	msg.Metadata.Set(MetaSessionID, id.String())
	msg.Metadata.Set(MetaSeq, strconv.FormatUint(seq, 10))
	return msg
}

// FrameSession returns the identity of the connection the frame arrived on.
func FrameSession(msg *message.Message) session.ID {
	if msg == nil || msg.Metadata == nil {
		return ""
	}
	return session.ID(msg.Metadata.Get(MetaSessionID))
}

func FrameSeq(msg *message.Message) uint64 {
	if msg == nil || msg.Metadata == nil {
		return 0
	}
	seq, err := strconv.ParseUint(msg.Metadata.Get(MetaSeq), 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

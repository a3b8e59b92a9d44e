package framebus

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/session"
)

func TestInMemoryBus_PreservesOrder(t *testing.T) {
	bus, err := Build(Settings{})
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscriber.Subscribe(ctx, Topic)
	require.NoError(t, err)

	const n = 50
	go func() {
		for i := 1; i <= n; i++ {
			_ = bus.Publisher.Publish(Topic, NewFrameMessage([]byte(`{"type":"pong","data":{}}`), "s-1", uint64(i)))
		}
	}()

	for want := uint64(1); want <= n; want++ {
		select {
		case msg := <-ch:
			require.Equal(t, want, FrameSeq(msg))
			require.Equal(t, session.ID("s-1"), FrameSession(msg))
			msg.Ack()
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for frame %d", want)
		}
	}
}

func TestFrameMetadata_Missing(t *testing.T) {
	require.Equal(t, session.ID(""), FrameSession(nil))
	require.Equal(t, uint64(0), FrameSeq(nil))
}

func TestWatermillLogger_WritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWatermillLogger(zerolog.New(&buf)).With(watermill.LogFields{"topic": "t"})
	logger.Info("subscribed", watermill.LogFields{"n": 1})
	require.Contains(t, buf.String(), `"topic":"t"`)
	require.Contains(t, buf.String(), `"message":"subscribed"`)
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	bus, err := Build(Settings{BufferSize: 4})
	require.NoError(t, err)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
}

package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/agenttest"
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/protocol"
	"github.com/go-go-golems/chatsync/pkg/store"
)

func testConfig(t *testing.T, srv *agenttest.Server, o config.Overrides) *config.Config {
	t.Helper()
	o.BaseURL = srv.BaseURL()
	o.WebSocketURL = srv.WSURL()
	o.RetryDelay = "5ms"
	cfg, err := config.Resolve(o)
	require.NoError(t, err)
	return cfg
}

func TestEngine_ChatOverChannel(t *testing.T) {
	srv := agenttest.NewServer(t)
	var mu sync.Mutex
	var kinds []store.ChangeKind
	e, err := New(context.Background(), testConfig(t, srv, config.Overrides{UserID: "carol"}),
		WithListener(func(c store.Change) {
			mu.Lock()
			kinds = append(kinds, c.Kind)
			mu.Unlock()
		}))
	require.NoError(t, err)
	defer func() { require.NoError(t, e.Close()) }()
	require.True(t, e.HasChannel())

	ctx := context.Background()
	require.NoError(t, e.Coordinator.Connect(ctx))
	require.NoError(t, e.Coordinator.Send(ctx, "ping?"))
	require.Eventually(t, func() bool {
		last, ok := e.Store.LastMessage()
		return ok && last.Role == chat.RoleAssistant
	}, 2*time.Second, 10*time.Millisecond)

	chats := srv.FramesWithTag(protocol.TagChatMessage)
	require.Len(t, chats, 1)
	require.Equal(t, "carol", chats[0].String("user_id"))

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, kinds, store.ChangeConnectionState)
	require.Contains(t, kinds, store.ChangeProgress)
}

func TestEngine_RESTOnly(t *testing.T) {
	srv := agenttest.NewServer(t)
	e, err := New(context.Background(), testConfig(t, srv, config.Overrides{NoChannel: true}))
	require.NoError(t, err)
	defer func() { require.NoError(t, e.Close()) }()
	require.False(t, e.HasChannel())

	require.Error(t, e.Coordinator.Connect(context.Background()))
	require.NoError(t, e.Coordinator.Send(context.Background(), "hello"))
	require.Equal(t, map[chat.Role]int{chat.RoleSystem: 1, chat.RoleUser: 1, chat.RoleAssistant: 1}, e.Store.Counts())
}

func TestEngine_StartsWithWelcome(t *testing.T) {
	srv := agenttest.NewServer(t)
	cfg := testConfig(t, srv, config.Overrides{NoChannel: true})
	cfg.Session.Welcome = "Hello from chatsync."
	var kinds []store.ChangeKind
	e, err := New(context.Background(), cfg, WithListener(func(c store.Change) { kinds = append(kinds, c.Kind) }))
	require.NoError(t, err)
	defer func() { require.NoError(t, e.Close()) }()

	msgs := e.Store.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, chat.RoleSystem, msgs[0].Role)
	require.Equal(t, "Hello from chatsync.", msgs[0].PlainText())
	require.Equal(t, e.Store.Session(), msgs[0].SessionID)
	require.Contains(t, kinds, store.ChangeSessionRotated)
	require.Contains(t, kinds, store.ChangeMessageAppended)
}

func TestEngine_DiagnosticsReceiveUnknownFrames(t *testing.T) {
	srv := agenttest.NewServer(t)
	errs := make(chan error, 1)
	e, err := New(context.Background(), testConfig(t, srv, config.Overrides{}), WithDiagnostics(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	require.NoError(t, e.Coordinator.Connect(context.Background()))
	require.Eventually(t, func() bool { return srv.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
	srv.Push(protocol.Frame{Tag: "telemetry", Data: map[string]any{"cpu": 0.5}})

	select {
	case err := <-errs:
		var perr *chat.ProtocolError
		require.ErrorAs(t, err, &perr)
		require.Equal(t, "telemetry", perr.Tag)
	case <-time.After(2 * time.Second):
		t.Fatal("no diagnostics")
	}
	require.Len(t, e.Store.Messages(), 1)
}

func TestNew_RejectsNilConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)
}

package cmds

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/agenttest"
	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/engine"
)

func restOnlyEngine(t *testing.T, srv *agenttest.Server) (*engine.Engine, *transcript) {
	t.Helper()
	color.NoColor = true
	cfg, err := config.Resolve(config.Overrides{
		BaseURL:    srv.BaseURL(),
		NoChannel:  true,
		RetryDelay: "5ms",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	out := newTranscript(&buf, true)
	eng, err := engine.New(context.Background(), cfg, engine.WithListener(out.OnChange))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng, out
}

func (t *transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.(*bytes.Buffer).String()
}

func TestSendAndWait_PrintsAnswerAndTools(t *testing.T) {
	srv := agenttest.NewServer(t)
	eng, out := restOnlyEngine(t, srv)

	require.NoError(t, sendAndWait(context.Background(), eng, "hello", time.Second))

	text := out.String()
	require.Contains(t, text, "assistant: echo: hello")
	require.Contains(t, text, "tools: text_generation (completed)")
	require.NotContains(t, text, "user:")
}

func TestSendAndWait_ReturnsAgentError(t *testing.T) {
	srv := agenttest.NewServer(t)
	srv.FailNextChats(400)
	eng, out := restOnlyEngine(t, srv)

	require.Error(t, sendAndWait(context.Background(), eng, "hello", time.Second))
	require.Contains(t, out.String(), "error:")
	require.False(t, eng.Store.Loading())
}

func TestHandleLine_Commands(t *testing.T) {
	srv := agenttest.NewServer(t)
	eng, out := restOnlyEngine(t, srv)
	ctx := context.Background()

	quit, err := handleLine(ctx, eng, out, "/quit")
	require.NoError(t, err)
	require.True(t, quit)

	quit, err = handleLine(ctx, eng, out, "/bogus")
	require.NoError(t, err)
	require.False(t, quit)
	require.Contains(t, out.String(), "unknown command /bogus")

	_, err = handleLine(ctx, eng, out, "/health")
	require.NoError(t, err)
	require.Contains(t, out.String(), "agent healthy (version test)")

	before := eng.Store.Session()
	_, err = handleLine(ctx, eng, out, "/new")
	require.NoError(t, err)
	require.NotEqual(t, before, eng.Store.Session())
	require.Contains(t, out.String(), "system: ")

	_, err = handleLine(ctx, eng, out, "what now")
	require.NoError(t, err)
	_, err = handleLine(ctx, eng, out, "/history")
	require.NoError(t, err)
	require.Contains(t, out.String(), "echo: what now")
}

func TestHandleLine_EmptyLineIsIgnored(t *testing.T) {
	srv := agenttest.NewServer(t)
	eng, out := restOnlyEngine(t, srv)

	quit, err := handleLine(context.Background(), eng, out, "")
	require.NoError(t, err)
	require.False(t, quit)
	require.Empty(t, srv.RESTQueries())
}

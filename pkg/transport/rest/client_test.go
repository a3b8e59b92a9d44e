package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/agenttest"
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
)

func newClient(t *testing.T, baseURL string, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, UserID: "u-1", Timeout: timeout})
	require.NoError(t, err)
	return c
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
	_, err = NewClient(Config{BaseURL: "ws://localhost:8000"})
	require.Error(t, err)
}

func TestCall_ReturnsAgentResponse(t *testing.T) {
	srv := agenttest.NewServer(t)
	c := newClient(t, srv.BaseURL(), time.Second)
	id := session.Generate()

	resp, err := c.Call(context.Background(), "hello", id)
	require.NoError(t, err)
	require.Equal(t, id, resp.SessionID)
	require.Len(t, resp.Content, 1)
	text, ok := resp.Content[0].Text()
	require.True(t, ok)
	require.Equal(t, "echo: hello", text)

	qs := srv.RESTQueries()
	require.Len(t, qs, 1)
	require.Equal(t, "u-1", qs[0].UserID)
	require.Equal(t, id, qs[0].SessionID)
}

func TestCall_EmptyMessageNeverLeaves(t *testing.T) {
	srv := agenttest.NewServer(t)
	c := newClient(t, srv.BaseURL(), time.Second)
	_, err := c.Call(context.Background(), "   ", session.Generate())
	require.ErrorIs(t, err, chat.ErrEmptyMessage)
	require.Empty(t, srv.RESTQueries())
}

func TestCall_ServerFaultIsTransient(t *testing.T) {
	srv := agenttest.NewServer(t)
	srv.FailNextChats(http.StatusInternalServerError)
	c := newClient(t, srv.BaseURL(), time.Second)

	_, err := c.Call(context.Background(), "hello", session.Generate())
	require.Error(t, err)
	require.True(t, chat.IsTransient(err))
}

func TestCall_ValidationRejectionIsRemoteError(t *testing.T) {
	srv := agenttest.NewServer(t)
	srv.FailNextChats(http.StatusBadRequest)
	c := newClient(t, srv.BaseURL(), time.Second)

	_, err := c.Call(context.Background(), "hello", session.Generate())
	var remote *chat.RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, http.StatusBadRequest, remote.StatusCode)
	require.Contains(t, remote.Message, "injected failure")
	require.False(t, chat.IsTransient(err))
}

func TestCall_TimeoutIsConnectionError(t *testing.T) {
	srv := agenttest.NewServer(t, agenttest.WithDelay(500*time.Millisecond))
	c := newClient(t, srv.BaseURL(), 50*time.Millisecond)

	start := time.Now()
	_, err := c.Call(context.Background(), "hello", session.Generate())
	require.Error(t, err)
	require.True(t, chat.IsTransient(err))
	require.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestCall_RefusedConnectionIsTransient(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1/api/v1", time.Second)
	_, err := c.Call(context.Background(), "hello", session.Generate())
	var cerr *chat.ConnectionError
	require.True(t, errors.As(err, &cerr))
}

func TestCall_MalformedBodyIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()
	c := newClient(t, srv.URL, time.Second)

	_, err := c.Call(context.Background(), "hello", session.Generate())
	var perr *chat.ProtocolError
	require.True(t, errors.As(err, &perr))
}

func TestHistoryAndClear(t *testing.T) {
	srv := agenttest.NewServer(t)
	c := newClient(t, srv.BaseURL(), time.Second)
	ctx := context.Background()
	id := session.Generate()

	_, err := c.Call(ctx, "first", id)
	require.NoError(t, err)

	history, err := c.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, chat.RoleUser, history[0].Role)
	require.Equal(t, "first", history[0].PlainText())
	require.Equal(t, chat.RoleAssistant, history[1].Role)
	for _, m := range history {
		require.Equal(t, id, m.SessionID)
	}

	require.NoError(t, c.ClearSession(ctx, id))
	history, err = c.History(ctx, id)
	require.NoError(t, err)
	require.Empty(t, history)

	// Clearing twice is fine; the agent answers 404 the second time.
	require.NoError(t, c.ClearSession(ctx, id))
}

func TestHealth(t *testing.T) {
	srv := agenttest.NewServer(t)
	c := newClient(t, srv.BaseURL(), time.Second)
	h, err := c.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "healthy", h.Status)
	require.Equal(t, "healthy", h.Services["agent_orchestrator"])
}

func TestTools_ListLookupAndCategories(t *testing.T) {
	calc := chat.ToolDefinition{Name: "calculator", Description: "Evaluate arithmetic", Category: "math", Enabled: true}
	off := chat.ToolDefinition{Name: "web_search", Description: "Search the web", Category: "web"}
	srv := agenttest.NewServer(t, agenttest.WithTools(append([]chat.ToolDefinition{calc, off}, agenttest.DefaultTools...)...))
	c := newClient(t, srv.BaseURL(), time.Second)
	ctx := context.Background()

	tools, err := c.Tools(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	require.Equal(t, []string{"calculator", "text_generation"}, names)

	tool, err := c.Tool(ctx, "text_generation")
	require.NoError(t, err)
	require.Equal(t, "ai", tool.Category)
	require.Equal(t, []string{"prompt"}, tool.RequiredParams)

	_, err = c.Tool(ctx, "nope")
	var remote *chat.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, http.StatusNotFound, remote.StatusCode)
	require.Equal(t, "Tool 'nope' not found", remote.Message)

	cats, err := c.ToolCategories(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"math", "ai"}, cats.Categories)
	require.Equal(t, 1, cats.Details["math"].ToolCount)
	require.Equal(t, []string{"text_generation"}, cats.Details["ai"].Tools)
}

func TestSearchTools(t *testing.T) {
	srv := agenttest.NewServer(t)
	c := newClient(t, srv.BaseURL(), time.Second)
	ctx := context.Background()

	res, err := c.SearchTools(ctx, "TEXT")
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	require.Equal(t, "text_generation", res.Results[0].Name)

	res, err = c.SearchTools(ctx, "spreadsheet")
	require.NoError(t, err)
	require.Zero(t, res.Count)
	require.Empty(t, res.Results)

	_, err = c.SearchTools(ctx, " ")
	require.Error(t, err)
}

func TestSessionStatsSessionsAndStatus(t *testing.T) {
	srv := agenttest.NewServer(t)
	c := newClient(t, srv.BaseURL(), time.Second)
	ctx := context.Background()
	id := session.Generate()

	_, err := c.SessionStats(ctx, id)
	var remote *chat.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, http.StatusNotFound, remote.StatusCode)

	before := time.Now().Add(-time.Second)
	_, err = c.Call(ctx, "one", id)
	require.NoError(t, err)
	_, err = c.Call(ctx, "two", id)
	require.NoError(t, err)

	stats, err := c.SessionStats(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id.String(), stats.SessionID)
	require.Equal(t, 2, stats.MessageCount)
	require.Equal(t, 4, stats.ConversationLength)
	require.NotNil(t, stats.LastActivity)
	require.True(t, stats.Created().After(before))

	active, err := c.Sessions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, active.ActiveSessions)
	require.Equal(t, 2, active.Sessions[id.String()].MessageCount)

	status, err := c.SystemStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, "operational", status.System.Status)
	require.Equal(t, 1, status.Tools.EnabledTools)
	require.Equal(t, 1, status.Sessions.ActiveSessions)
	require.Equal(t, 2, status.Sessions.TotalMessages)

	require.NoError(t, c.ClearSession(ctx, id))
	active, err = c.Sessions(ctx)
	require.NoError(t, err)
	require.Zero(t, active.ActiveSessions)
}

package rest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/agenttest"
	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
)

func transient() error {
	return &chat.ConnectionError{Op: "test", Err: errors.New("boom")}
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	const base = 20 * time.Millisecond
	calls := 0
	start := time.Now()
	got, err := RetryWithBackoff(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", transient()
		}
		return "ok", nil
	}, 3, base)

	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 3, calls)
	require.GreaterOrEqual(t, time.Since(start), base+2*base)
}

func TestRetryWithBackoff_ReturnsLastFailureWhenExhausted(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, &chat.ConnectionError{Op: "attempt", Err: errors.Errorf("failure %d", calls)}
	}, 4, time.Millisecond)

	require.Equal(t, 4, calls)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failure 4")
}

func TestRetryWithBackoff_DoesNotRetryRemoteErrors(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, &chat.RemoteError{Message: "rejected", StatusCode: http.StatusUnprocessableEntity}
	}, 5, time.Millisecond)

	require.Equal(t, 1, calls)
	var remote *chat.RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "rejected", remote.Message)
}

func TestRetryWithBackoff_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryWithBackoff(ctx, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, transient()
	}, 5, 50*time.Millisecond)

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryWithBackoff_AgainstAgent(t *testing.T) {
	srv := agenttest.NewServer(t)
	srv.FailNextChats(http.StatusServiceUnavailable, http.StatusBadGateway)
	c := newClient(t, srv.BaseURL(), time.Second)
	id := session.Generate()

	resp, err := RetryWithBackoff(context.Background(), func(ctx context.Context) (chat.AgentResponse, error) {
		return c.Call(ctx, "hello", id)
	}, 3, 5*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, id, resp.SessionID)
	require.Len(t, srv.RESTQueries(), 3)
}

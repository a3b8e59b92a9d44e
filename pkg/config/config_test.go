package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	cfg.fillUserID()
	require.NoError(t, cfg.Validate())
	require.True(t, cfg.Channel.UseChannel())
	require.NotEmpty(t, cfg.Agent.UserID)
}

func TestParse_ExpandsEnvAndDurations(t *testing.T) {
	t.Setenv("CHATSYNC_TEST_HOST", "agent.internal:9000")
	data := []byte(`
agent:
  base_url: http://${CHATSYNC_TEST_HOST}/api/v1
  ws_url: wss://${CHATSYNC_TEST_HOST}/api/v1/ws
  user_id: alice
timeouts:
  handshake: 3s
  call: 45s
retry:
  attempts: 4
  base_delay: 250ms
channel:
  auto_reconnect: true
  keepalive: 15s
frame_bus:
  redis_enabled: true
  redis_addr: redis:6379
session:
  welcome: Hi!
`)
	cfg, err := Parse(data)
	require.NoError(t, err)

	require.Equal(t, "http://agent.internal:9000/api/v1", cfg.Agent.BaseURL)
	require.Equal(t, "wss://agent.internal:9000/api/v1/ws", cfg.Agent.WebSocketURL)
	require.Equal(t, "alice", cfg.Agent.UserID)
	require.Equal(t, 3*time.Second, cfg.Timeouts.Handshake)
	require.Equal(t, 45*time.Second, cfg.Timeouts.Call)
	require.Equal(t, 5*time.Second, cfg.Timeouts.Write)
	require.Equal(t, 4, cfg.Retry.Attempts)
	require.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	require.True(t, cfg.Channel.AutoReconnect)
	require.Equal(t, 15*time.Second, cfg.Channel.Keepalive)
	require.Equal(t, time.Second, cfg.Channel.ReconnectBaseDelay)
	require.True(t, cfg.FrameBus.RedisEnabled)
	require.Equal(t, "redis:6379", cfg.FrameBus.RedisAddr)
	require.Equal(t, "chatsync", cfg.FrameBus.RedisGroup)
	require.Equal(t, "Hi!", cfg.Session.Welcome)
}

func TestParse_UnsetEnvIsAnError(t *testing.T) {
	_, err := Parse([]byte("agent:\n  base_url: ${CHATSYNC_TEST_DEFINITELY_UNSET}\n  user_id: ${CHATSYNC_TEST_ALSO_UNSET}\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "CHATSYNC_TEST_DEFINITELY_UNSET")
	require.Contains(t, err.Error(), "CHATSYNC_TEST_ALSO_UNSET")
}

func TestParse_EnvSetToEmptyStringIsKeptEmpty(t *testing.T) {
	t.Setenv("CHATSYNC_TEST_EMPTY", "")
	_, err := Parse([]byte("agent:\n  base_url: \"${CHATSYNC_TEST_EMPTY}\"\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "agent.base_url is required")
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"bad duration":    "retry:\n  base_delay: soon\n",
		"bad yaml":        "agent: [",
		"bad scheme":      "agent:\n  base_url: ftp://x/api\n",
		"ws scheme":       "agent:\n  ws_url: http://localhost/ws\n",
		"zero attempts":   "retry:\n  attempts: 0\n",
		"redis no addr":   "frame_bus:\n  redis_enabled: true\n  redis_addr: \"\"\n",
		"negative ping":   "channel:\n  keepalive: -1s\n",
		"missing ws host": "agent:\n  ws_url: ws:///ws\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestParse_ChannelDisabledSkipsWebSocketCheck(t *testing.T) {
	cfg, err := Parse([]byte("agent:\n  ws_url: \"\"\nchannel:\n  enabled: false\n"))
	require.NoError(t, err)
	require.False(t, cfg.Channel.UseChannel())
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  attempts: 7\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Retry.Attempts)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestResolve_OverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  user_id: from-file\nretry:\n  attempts: 2\n"), 0o600))

	cfg, err := Resolve(Overrides{
		ConfigFile:    path,
		BaseURL:       "https://agent.example.com/api/v1",
		RetryAttempts: 9,
		RetryDelay:    "10ms",
		Keepalive:     "0s",
		NoChannel:     true,
	})
	require.NoError(t, err)
	require.Equal(t, "https://agent.example.com/api/v1", cfg.Agent.BaseURL)
	require.Equal(t, "from-file", cfg.Agent.UserID)
	require.Equal(t, 9, cfg.Retry.Attempts)
	require.Equal(t, 10*time.Millisecond, cfg.Retry.BaseDelay)
	require.Equal(t, time.Duration(0), cfg.Channel.Keepalive)
	require.False(t, cfg.Channel.UseChannel())
}

func TestResolve_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Resolve(Overrides{UserID: "bob"})
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, cfg.Agent.BaseURL)
	require.Equal(t, "bob", cfg.Agent.UserID)

	_, err = Resolve(Overrides{CallTimeout: "forever"})
	require.Error(t, err)
}

func TestNewSection(t *testing.T) {
	s, err := NewSection()
	require.NoError(t, err)
	require.Equal(t, Slug, s.GetSlug())
}

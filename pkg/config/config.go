// Package config loads the client configuration from a YAML file. ${VAR} references are expanded
// from the environment before parsing and durations are written as Go duration strings.
package config

import (
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatsync/pkg/framebus"
	"github.com/go-go-golems/chatsync/pkg/store"
)

const (
	DefaultBaseURL      = "http://localhost:8000/api/v1"
	DefaultWebSocketURL = "ws://localhost:8000/api/v1/ws"
)

type Config struct {
	Agent    AgentConfig       `yaml:"agent"`
	Timeouts TimeoutsConfig    `yaml:"timeouts"`
	Retry    RetryConfig       `yaml:"retry"`
	Channel  ChannelConfig     `yaml:"channel"`
	FrameBus framebus.Settings `yaml:"frame_bus"`
	Session  SessionConfig     `yaml:"session"`
}

type AgentConfig struct {
	BaseURL      string `yaml:"base_url"`
	WebSocketURL string `yaml:"ws_url"`
	// UserID is sent with every chat message; a random one is generated when empty.
	UserID string `yaml:"user_id"`
}

type TimeoutsConfig struct {
	Handshake time.Duration `yaml:"-"`
	Call      time.Duration `yaml:"-"`
	Write     time.Duration `yaml:"-"`

	HandshakeRaw string `yaml:"handshake"`
	CallRaw      string `yaml:"call"`
	WriteRaw     string `yaml:"write"`
}

type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"-"`

	BaseDelayRaw string `yaml:"base_delay"`
}

type ChannelConfig struct {
	Enabled            *bool         `yaml:"enabled"`
	AutoReconnect      bool          `yaml:"auto_reconnect"`
	ReconnectAttempts  int           `yaml:"reconnect_attempts"`
	Keepalive          time.Duration `yaml:"-"`
	ReconnectBaseDelay time.Duration `yaml:"-"`

	KeepaliveRaw          string `yaml:"keepalive"`
	ReconnectBaseDelayRaw string `yaml:"reconnect_base_delay"`
}

// UseChannel reports whether the duplex channel should be opened at all.
func (c ChannelConfig) UseChannel() bool {
	return c.Enabled == nil || *c.Enabled
}

type SessionConfig struct {
	Welcome string `yaml:"welcome"`
}

// Default returns a configuration pointing at a local agent.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			BaseURL:      DefaultBaseURL,
			WebSocketURL: DefaultWebSocketURL,
		},
		Timeouts: TimeoutsConfig{
			Handshake: 10 * time.Second,
			Call:      60 * time.Second,
			Write:     5 * time.Second,
		},
		Retry: RetryConfig{
			Attempts:  3,
			BaseDelay: 500 * time.Millisecond,
		},
		Channel: ChannelConfig{
			ReconnectAttempts:  5,
			Keepalive:          30 * time.Second,
			ReconnectBaseDelay: time.Second,
		},
		FrameBus: framebus.DefaultSettings(),
		Session:  SessionConfig{Welcome: store.DefaultWelcome},
	}
}

// Load reads path on top of the defaults. Missing keys keep their default value.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	if err := parseDurations(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing durations")
	}
	cfg.fillUserID()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the environment value. A reference to an unset variable is
// an error; leaving it blank would silently fall back to the default for that key.
func expandEnvVars(s string) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(s, func(match string) string {
		name := envRef.FindStringSubmatch(match)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", errors.Errorf("config references unset environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func parseDurations(cfg *Config) error {
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeouts.handshake", cfg.Timeouts.HandshakeRaw, &cfg.Timeouts.Handshake},
		{"timeouts.call", cfg.Timeouts.CallRaw, &cfg.Timeouts.Call},
		{"timeouts.write", cfg.Timeouts.WriteRaw, &cfg.Timeouts.Write},
		{"retry.base_delay", cfg.Retry.BaseDelayRaw, &cfg.Retry.BaseDelay},
		{"channel.keepalive", cfg.Channel.KeepaliveRaw, &cfg.Channel.Keepalive},
		{"channel.reconnect_base_delay", cfg.Channel.ReconnectBaseDelayRaw, &cfg.Channel.ReconnectBaseDelay},
	} {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return errors.Wrapf(err, "parsing %s %q", d.key, d.raw)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) fillUserID() {
	if strings.TrimSpace(c.Agent.UserID) == "" {
		c.Agent.UserID = uuid.NewString()
	}
}

// Validate returns the first problem found.
func (c *Config) Validate() error {
	if err := checkURL("agent.base_url", c.Agent.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.Channel.UseChannel() {
		if err := checkURL("agent.ws_url", c.Agent.WebSocketURL, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.Retry.Attempts < 1 {
		return errors.New("retry.attempts must be at least 1")
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("retry.base_delay must be positive")
	}
	if c.Timeouts.Handshake <= 0 || c.Timeouts.Call <= 0 || c.Timeouts.Write <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.Channel.Keepalive < 0 {
		return errors.New("channel.keepalive must not be negative")
	}
	if c.Channel.AutoReconnect && c.Channel.ReconnectAttempts < 1 {
		return errors.New("channel.reconnect_attempts must be at least 1 with auto_reconnect")
	}
	if c.FrameBus.RedisEnabled && strings.TrimSpace(c.FrameBus.RedisAddr) == "" {
		return errors.New("frame_bus.redis_addr is required when redis is enabled")
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(err, "%s", key)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return errors.Errorf("%s %q has no host", key, raw)
			}
			return nil
		}
	}
	return errors.Errorf("%s %q must use one of %s", key, raw, strings.Join(schemes, ", "))
}

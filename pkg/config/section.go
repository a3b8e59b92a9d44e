package config

import (
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/pkg/errors"
)

const Slug = "agent"

// Overrides are the command-line settings that take precedence over the file. Zero values
// leave the file (or default) value in place.
type Overrides struct {
	ConfigFile    string `glazed:"config-file"`
	BaseURL       string `glazed:"base-url"`
	WebSocketURL  string `glazed:"ws-url"`
	UserID        string `glazed:"user-id"`
	NoChannel     bool   `glazed:"no-channel"`
	AutoReconnect bool   `glazed:"auto-reconnect"`
	RetryAttempts int    `glazed:"retry-attempts"`
	RetryDelay    string `glazed:"retry-delay"`
	CallTimeout   string `glazed:"call-timeout"`
	Keepalive     string `glazed:"keepalive"`
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		Slug,
		"Agent connection",
		schema.WithFields(
			fields.New("config-file", fields.TypeString, fields.WithDefault(""), fields.WithHelp("YAML configuration file")),
			fields.New("base-url", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Agent REST base URL (default "+DefaultBaseURL+")")),
			fields.New("ws-url", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Agent WebSocket URL prefix (default "+DefaultWebSocketURL+")")),
			fields.New("user-id", fields.TypeString, fields.WithDefault(""), fields.WithHelp("User id sent with chat messages (default random)")),
			fields.New("no-channel", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Never open the WebSocket; use REST only")),
			fields.New("auto-reconnect", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Reopen the WebSocket with backoff after a failure")),
			fields.New("retry-attempts", fields.TypeInteger, fields.WithDefault(0), fields.WithHelp("REST attempts per message (0 = config value)")),
			fields.New("retry-delay", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Base delay between REST attempts, e.g. 500ms")),
			fields.New("call-timeout", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Timeout of one REST call, e.g. 30s")),
			fields.New("keepalive", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Ping interval while connected, e.g. 30s (0 disables)")),
		),
	)
}

// Resolve loads the configured file, or the defaults, and applies the overrides on top.
func Resolve(o Overrides) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	if strings.TrimSpace(o.ConfigFile) != "" {
		cfg, err = Load(o.ConfigFile)
	} else {
		cfg = Default()
		cfg.fillUserID()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Apply(o); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Apply(o Overrides) error {
	if o.BaseURL != "" {
		c.Agent.BaseURL = o.BaseURL
	}
	if o.WebSocketURL != "" {
		c.Agent.WebSocketURL = o.WebSocketURL
	}
	if o.UserID != "" {
		c.Agent.UserID = o.UserID
	}
	if o.NoChannel {
		disabled := false
		c.Channel.Enabled = &disabled
	}
	if o.AutoReconnect {
		c.Channel.AutoReconnect = true
	}
	if o.RetryAttempts > 0 {
		c.Retry.Attempts = o.RetryAttempts
	}
	for _, d := range []struct {
		flag string
		raw  string
		dst  *time.Duration
	}{
		{"retry-delay", o.RetryDelay, &c.Retry.BaseDelay},
		{"call-timeout", o.CallTimeout, &c.Timeouts.Call},
		{"keepalive", o.Keepalive, &c.Channel.Keepalive},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return errors.Wrapf(err, "--%s", d.flag)
		}
		*d.dst = v
	}
	return c.Validate()
}

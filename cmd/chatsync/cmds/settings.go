package cmds

import (
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/framebus"
)

// connectionSections are shared by every command that talks to the agent.
func connectionSections() ([]schema.Section, error) {
	agent, err := config.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build agent section")
	}
	bus, err := framebus.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build frame bus section")
	}
	return []schema.Section{agent, bus}, nil
}

// resolveConfig merges the config file with the agent and frame bus flags.
func resolveConfig(parsed *values.Values) (*config.Config, error) {
	var o config.Overrides
	if err := parsed.DecodeSectionInto(config.Slug, &o); err != nil {
		return nil, errors.Wrap(err, "decode agent settings")
	}
	cfg, err := config.Resolve(o)
	if err != nil {
		return nil, err
	}

	var bus framebus.Settings
	if err := parsed.DecodeSectionInto(framebus.Slug, &bus); err != nil {
		return nil, errors.Wrap(err, "decode frame bus settings")
	}
	if bus.RedisEnabled {
		cfg.FrameBus.RedisEnabled = true
	}
	if bus.RedisAddr != "" {
		cfg.FrameBus.RedisAddr = bus.RedisAddr
	}
	if bus.RedisGroup != "" {
		cfg.FrameBus.RedisGroup = bus.RedisGroup
	}
	if bus.RedisConsumer != "" {
		cfg.FrameBus.RedisConsumer = bus.RedisConsumer
	}
	if bus.BufferSize > 0 {
		cfg.FrameBus.BufferSize = bus.BufferSize
	}
	return cfg, cfg.Validate()
}

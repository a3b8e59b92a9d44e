package framebus

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const Slug = "frame-bus"

// Settings selects the transport that carries inbound frames from the channel to the router.
// The default is an in-process Watermill GoChannel; Redis Streams lets other local processes
// observe the same frames.
type Settings struct {
	RedisEnabled  bool   `glazed:"redis-enabled" yaml:"redis_enabled"`
	RedisAddr     string `glazed:"redis-addr" yaml:"redis_addr"`
	RedisGroup    string `glazed:"redis-group" yaml:"redis_group"`
	RedisConsumer string `glazed:"redis-consumer" yaml:"redis_consumer"`
	BufferSize    int    `glazed:"frame-buffer" yaml:"buffer_size"`
}

func DefaultSettings() Settings {
	return Settings{
		RedisAddr:     "localhost:6379",
		RedisGroup:    "chatsync",
		RedisConsumer: "client-1",
		BufferSize:    256,
	}
}

func NewSection() (schema.Section, error) {
	return schema.NewSection(
		Slug,
		"Inbound frame bus (Watermill)",
		schema.WithFields(
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Carry inbound frames over Redis Streams instead of in-memory")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Redis consumer group")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Redis consumer name")),
			fields.New("frame-buffer", fields.TypeInteger, fields.WithDefault(0), fields.WithHelp("In-memory subscriber buffer size (0 = default)")),
		),
	)
}

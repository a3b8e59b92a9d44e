package cmds

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatsync/pkg/config"
	"github.com/go-go-golems/chatsync/pkg/session"
	"github.com/go-go-golems/chatsync/pkg/transport/rest"
)

type sessionSettings struct {
	SessionID string `glazed:"session-id"`
}

func restClient(parsed *values.Values) (*rest.Client, error) {
	var o config.Overrides
	if err := parsed.DecodeSectionInto(config.Slug, &o); err != nil {
		return nil, errors.Wrap(err, "decode agent settings")
	}
	cfg, err := config.Resolve(o)
	if err != nil {
		return nil, err
	}
	return rest.NewClient(rest.Config{
		BaseURL: cfg.Agent.BaseURL,
		UserID:  cfg.Agent.UserID,
		Timeout: cfg.Timeouts.Call,
	})
}

func glazeSections() ([]schema.Section, error) {
	agent, err := config.NewSection()
	if err != nil {
		return nil, err
	}
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettings, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}
	return []schema.Section{agent, glazedSection, commandSettings}, nil
}

type HistoryCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*HistoryCommand)(nil)

func NewHistoryCommand() (*HistoryCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}
	return &HistoryCommand{CommandDescription: cmds.NewCommandDescription(
		"history",
		cmds.WithShort("List the messages the agent recorded for a session"),
		cmds.WithArguments(
			fields.New("session-id", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Session id")),
		),
		cmds.WithSections(sections...),
	)}, nil
}

func (c *HistoryCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &sessionSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	client, err := restClient(parsed)
	if err != nil {
		return err
	}
	msgs, err := client.History(ctx, session.ID(s.SessionID))
	if err != nil {
		return errors.Wrap(err, "fetch history")
	}
	for _, m := range msgs {
		tools := make([]string, 0, len(m.ToolResults))
		for _, tr := range m.ToolResults {
			tools = append(tools, tr.ToolName)
		}
		row := types.NewRow(
			types.MRP("id", m.ID),
			types.MRP("role", string(m.Role)),
			types.MRP("timestamp", m.CreatedAt),
			types.MRP("content", m.PlainText()),
			types.MRP("tools", strings.Join(tools, ",")),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type HealthCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*HealthCommand)(nil)

func NewHealthCommand() (*HealthCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}
	return &HealthCommand{CommandDescription: cmds.NewCommandDescription(
		"health",
		cmds.WithShort("Show the agent health and the state of its services"),
		cmds.WithSections(sections...),
	)}, nil
}

func (c *HealthCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	client, err := restClient(parsed)
	if err != nil {
		return err
	}
	h, err := client.Health(ctx)
	if err != nil {
		return errors.Wrap(err, "health check")
	}
	names := make([]string, 0, len(h.Services))
	for name := range h.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := gp.AddRow(ctx, types.NewRow(
		types.MRP("service", "agent"),
		types.MRP("status", h.Status),
		types.MRP("version", h.Version),
		types.MRP("timestamp", h.Timestamp),
	)); err != nil {
		return err
	}
	for _, name := range names {
		if err := gp.AddRow(ctx, types.NewRow(
			types.MRP("service", name),
			types.MRP("status", h.Services[name]),
			types.MRP("version", h.Version),
			types.MRP("timestamp", h.Timestamp),
		)); err != nil {
			return err
		}
	}
	return nil
}

type ClearCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*ClearCommand)(nil)

func NewClearCommand() (*ClearCommand, error) {
	agent, err := config.NewSection()
	if err != nil {
		return nil, err
	}
	return &ClearCommand{CommandDescription: cmds.NewCommandDescription(
		"clear",
		cmds.WithShort("Ask the agent to forget a session"),
		cmds.WithArguments(
			fields.New("session-id", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Session id")),
		),
		cmds.WithSections(agent),
	)}, nil
}

func (c *ClearCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &sessionSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	client, err := restClient(parsed)
	if err != nil {
		return err
	}
	if err := client.ClearSession(ctx, session.ID(s.SessionID)); err != nil {
		return errors.Wrap(err, "clear session")
	}
	_, err = io.WriteString(w, "cleared "+s.SessionID+"\n")
	return err
}

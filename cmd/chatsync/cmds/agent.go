package cmds

import (
	"context"
	"sort"
	"strings"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
)

type ToolsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ToolsCommand)(nil)

type ToolsSettings struct {
	Search   string `glazed:"search"`
	Category string `glazed:"category"`
}

func NewToolsCommand() (*ToolsCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}
	return &ToolsCommand{CommandDescription: cmds.NewCommandDescription(
		"tools",
		cmds.WithShort("List the tools the agent can use"),
		cmds.WithFlags(
			fields.New("search", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Only tools whose name, description or category match")),
			fields.New("category", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Only tools in this category")),
		),
		cmds.WithSections(sections...),
	)}, nil
}

func (c *ToolsCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &ToolsSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	client, err := restClient(parsed)
	if err != nil {
		return err
	}

	var matches []chat.ToolMatch
	if s.Search != "" {
		res, err := client.SearchTools(ctx, s.Search)
		if err != nil {
			return errors.Wrap(err, "search tools")
		}
		matches = res.Results
	} else {
		tools, err := client.Tools(ctx)
		if err != nil {
			return errors.Wrap(err, "list tools")
		}
		for _, t := range tools {
			matches = append(matches, chat.ToolMatch{Name: t.Name, Description: t.Description, Category: t.Category, Enabled: t.Enabled})
		}
	}

	for _, t := range matches {
		if s.Category != "" && !strings.EqualFold(t.Category, s.Category) {
			continue
		}
		if err := gp.AddRow(ctx, types.NewRow(
			types.MRP("name", t.Name),
			types.MRP("category", t.Category),
			types.MRP("enabled", t.Enabled),
			types.MRP("description", t.Description),
		)); err != nil {
			return err
		}
	}
	return nil
}

type ToolCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ToolCommand)(nil)

type toolSettings struct {
	Name string `glazed:"name"`
}

func NewToolCommand() (*ToolCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}
	return &ToolCommand{CommandDescription: cmds.NewCommandDescription(
		"tool",
		cmds.WithShort("Show the parameters of one tool"),
		cmds.WithArguments(
			fields.New("name", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Tool name")),
		),
		cmds.WithSections(sections...),
	)}, nil
}

// RunIntoGlazeProcessor emits one row per tool parameter.
func (c *ToolCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &toolSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	client, err := restClient(parsed)
	if err != nil {
		return err
	}
	tool, err := client.Tool(ctx, s.Name)
	if err != nil {
		return errors.Wrapf(err, "fetch tool %s", s.Name)
	}

	required := map[string]bool{}
	for _, p := range tool.RequiredParams {
		required[p] = true
	}
	params := make([]string, 0, len(tool.Parameters))
	for p := range tool.Parameters {
		params = append(params, p)
	}
	sort.Strings(params)
	for _, p := range params {
		var typ, help string
		if spec, ok := tool.Parameters[p].(map[string]any); ok {
			typ, _ = spec["type"].(string)
			help, _ = spec["description"].(string)
		}
		if err := gp.AddRow(ctx, types.NewRow(
			types.MRP("tool", tool.Name),
			types.MRP("parameter", p),
			types.MRP("type", typ),
			types.MRP("required", required[p]),
			types.MRP("description", help),
		)); err != nil {
			return err
		}
	}
	return nil
}

type ToolCategoriesCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ToolCategoriesCommand)(nil)

func NewToolCategoriesCommand() (*ToolCategoriesCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}
	return &ToolCategoriesCommand{CommandDescription: cmds.NewCommandDescription(
		"tool-categories",
		cmds.WithShort("List tool categories and the tools in each"),
		cmds.WithSections(sections...),
	)}, nil
}

func (c *ToolCategoriesCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	client, err := restClient(parsed)
	if err != nil {
		return err
	}
	cats, err := client.ToolCategories(ctx)
	if err != nil {
		return errors.Wrap(err, "list tool categories")
	}
	for _, name := range cats.Categories {
		d := cats.Details[name]
		if err := gp.AddRow(ctx, types.NewRow(
			types.MRP("category", name),
			types.MRP("tool_count", d.ToolCount),
			types.MRP("tools", strings.Join(d.Tools, ",")),
		)); err != nil {
			return err
		}
	}
	return nil
}

type SessionsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*SessionsCommand)(nil)

func NewSessionsCommand() (*SessionsCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}
	return &SessionsCommand{CommandDescription: cmds.NewCommandDescription(
		"sessions",
		cmds.WithShort("List the sessions the agent is holding"),
		cmds.WithSections(sections...),
	)}, nil
}

func (c *SessionsCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	client, err := restClient(parsed)
	if err != nil {
		return err
	}
	res, err := client.Sessions(ctx)
	if err != nil {
		return errors.Wrap(err, "list sessions")
	}
	ids := make([]string, 0, len(res.Sessions))
	for id := range res.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		meta := res.Sessions[id]
		created := chat.SessionStats{CreatedAt: meta.CreatedAt}.Created()
		if err := gp.AddRow(ctx, types.NewRow(
			types.MRP("session_id", id),
			types.MRP("created_at", created),
			types.MRP("message_count", meta.MessageCount),
		)); err != nil {
			return err
		}
	}
	return nil
}

type SessionStatsCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*SessionStatsCommand)(nil)

func NewSessionStatsCommand() (*SessionStatsCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}
	return &SessionStatsCommand{CommandDescription: cmds.NewCommandDescription(
		"session-stats",
		cmds.WithShort("Show what the agent holds for one session"),
		cmds.WithArguments(
			fields.New("session-id", fields.TypeString, fields.WithRequired(true), fields.WithHelp("Session id")),
		),
		cmds.WithSections(sections...),
	)}, nil
}

func (c *SessionStatsCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	s := &sessionSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	client, err := restClient(parsed)
	if err != nil {
		return err
	}
	stats, err := client.SessionStats(ctx, session.ID(s.SessionID))
	if err != nil {
		return errors.Wrap(err, "fetch session stats")
	}
	lastActivity := ""
	if stats.LastActivity != nil {
		lastActivity = *stats.LastActivity
	}
	return gp.AddRow(ctx, types.NewRow(
		types.MRP("session_id", stats.SessionID),
		types.MRP("created_at", stats.Created()),
		types.MRP("message_count", stats.MessageCount),
		types.MRP("conversation_length", stats.ConversationLength),
		types.MRP("last_activity", lastActivity),
	))
}

type StatusCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*StatusCommand)(nil)

func NewStatusCommand() (*StatusCommand, error) {
	sections, err := glazeSections()
	if err != nil {
		return nil, err
	}
	return &StatusCommand{CommandDescription: cmds.NewCommandDescription(
		"status",
		cmds.WithShort("Show the agent's detailed system status"),
		cmds.WithSections(sections...),
	)}, nil
}

func (c *StatusCommand) RunIntoGlazeProcessor(ctx context.Context, parsed *values.Values, gp middlewares.Processor) error {
	client, err := restClient(parsed)
	if err != nil {
		return err
	}
	st, err := client.SystemStatus(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch system status")
	}
	return gp.AddRow(ctx, types.NewRow(
		types.MRP("status", st.System.Status),
		types.MRP("version", st.System.Version),
		types.MRP("debug", st.System.DebugMode),
		types.MRP("tools", st.Tools.TotalTools),
		types.MRP("enabled_tools", st.Tools.EnabledTools),
		types.MRP("sessions", st.Sessions.ActiveSessions),
		types.MRP("messages", st.Sessions.TotalMessages),
		types.MRP("websocket_connections", st.Connections.WebSocketConnections),
	))
}

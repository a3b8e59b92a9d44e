package cmds

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/engine"
)

type ChatCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*ChatCommand)(nil)

type ChatSettings struct {
	Message      string `glazed:"message"`
	NoColor      bool   `glazed:"no-color"`
	HideProgress bool   `glazed:"hide-progress"`
	Wait         string `glazed:"wait"`
}

func NewChatCommand() (*ChatCommand, error) {
	sections, err := connectionSections()
	if err != nil {
		return nil, err
	}
	desc := cmds.NewCommandDescription(
		"chat",
		cmds.WithShort("Chat with the agent"),
		cmds.WithLong(`Chat with the agent over a WebSocket, falling back to REST when the socket is down.

Without --message, reads one message per line from stdin. Lines starting with / are commands:
  /new        start a new session
  /reconnect  reopen the WebSocket
  /history    print the agent's record of this session
  /replay     ask the agent to replay the session over the WebSocket (logged at debug level)
  /health     show the agent health
  /quit       exit`),
		cmds.WithFlags(
			fields.New("message", fields.TypeString, fields.WithDefault(""), fields.WithHelp("Send a single message, print the answer and exit")),
			fields.New("no-color", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Disable colored output")),
			fields.New("hide-progress", fields.TypeBool, fields.WithDefault(false), fields.WithHelp("Do not print progress updates")),
			fields.New("wait", fields.TypeString, fields.WithDefault("2m"), fields.WithHelp("How long --message waits for the answer")),
		),
		cmds.WithSections(sections...),
	)
	return &ChatCommand{CommandDescription: desc}, nil
}

func (c *ChatCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &ChatSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	cfg, err := resolveConfig(parsed)
	if err != nil {
		return err
	}
	if s.NoColor {
		color.NoColor = true
	}

	out := newTranscript(w, !s.HideProgress)
	eng, err := engine.New(ctx, cfg, engine.WithListener(out.OnChange))
	if err != nil {
		return errors.Wrap(err, "start engine")
	}
	defer func() { _ = eng.Close() }()

	if eng.HasChannel() {
		if err := eng.Coordinator.Connect(ctx); err != nil {
			log.Warn().Err(err).Msg("websocket unavailable, messages will use REST")
		}
	}

	if s.Message != "" {
		wait, err := time.ParseDuration(s.Wait)
		if err != nil {
			return errors.Wrap(err, "--wait")
		}
		return sendAndWait(ctx, eng, s.Message, wait)
	}
	return repl(ctx, eng, out, os.Stdin)
}

func sendAndWait(ctx context.Context, eng *engine.Engine, text string, wait time.Duration) error {
	if err := eng.Coordinator.Send(ctx, text); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := waitIdle(ctx, eng); err != nil {
		return errors.Wrap(err, "waiting for the answer")
	}
	if msg := eng.Store.LastError(); msg != "" {
		return &chat.RemoteError{Message: msg}
	}
	return nil
}

// waitIdle blocks until no request is in flight.
func waitIdle(ctx context.Context, eng *engine.Engine) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for eng.Store.Loading() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func repl(ctx context.Context, eng *engine.Engine, out *transcript, in *os.File) error {
	interactive := isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd())
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// The reader is not joined on exit: a read from a terminal cannot be interrupted.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	prompt := func() {
		if interactive {
			out.Printf("%s ", color.GreenString(">"))
		}
	}
	prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			quit, err := handleLine(ctx, eng, out, strings.TrimSpace(line))
			if err != nil {
				log.Debug().Err(err).Msg("command failed")
			}
			if quit {
				return nil
			}
			if err := waitIdle(ctx, eng); err != nil {
				return nil
			}
			prompt()
		}
	}
}

func handleLine(ctx context.Context, eng *engine.Engine, out *transcript, line string) (bool, error) {
	co := eng.Coordinator
	switch {
	case line == "":
		return false, nil
	case line == "/quit" || line == "/exit":
		return true, nil
	case line == "/new":
		id, err := co.NewSession(ctx)
		if err != nil {
			out.Printf("%s\n", color.YellowString("new session %s, websocket unavailable: %v", id, err))
			return false, err
		}
		return false, nil
	case line == "/reconnect":
		if err := co.Reconnect(ctx); err != nil {
			out.Printf("%s\n", color.RedString("reconnect failed: %v", err))
			return false, err
		}
		return false, nil
	case line == "/history":
		msgs, err := co.History(ctx)
		if err != nil {
			out.Printf("%s\n", color.RedString("history failed: %v", err))
			return false, err
		}
		for _, m := range msgs {
			out.Printf("%s %s: %s\n", color.HiBlackString(m.CreatedAt.Format("15:04:05")), label(m.Role), m.PlainText())
		}
		return false, nil
	case line == "/replay":
		if err := co.RequestHistory(ctx); err != nil {
			out.Printf("%s\n", color.RedString("history request failed: %v", err))
			return false, err
		}
		return false, nil
	case line == "/health":
		h, err := co.Health(ctx)
		if err != nil {
			out.Printf("%s\n", color.RedString("health check failed: %v", err))
			return false, err
		}
		out.Printf("agent %s (version %s)\n", h.Status, h.Version)
		return false, nil
	case strings.HasPrefix(line, "/"):
		out.Printf("unknown command %s\n", line)
		return false, nil
	}
	// Failures are already in the transcript as error messages.
	return false, co.Send(ctx, line)
}

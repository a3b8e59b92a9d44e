package cmds

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/store"
)

// transcript prints store changes as they are committed.
type transcript struct {
	mu       sync.Mutex
	w        io.Writer
	progress bool
	lastPct  int
}

func newTranscript(w io.Writer, showProgress bool) *transcript {
	return &transcript{w: w, progress: showProgress, lastPct: -1}
}

var roleLabels = map[chat.Role]func(a ...interface{}) string{
	chat.RoleUser:          color.New(color.FgGreen, color.Bold).SprintFunc(),
	chat.RoleAssistant:     color.New(color.FgCyan, color.Bold).SprintFunc(),
	chat.RoleSystem:        color.New(color.FgYellow).SprintFunc(),
	chat.RoleToolExecution: color.New(color.FgMagenta).SprintFunc(),
	chat.RoleError:         color.New(color.FgRed, color.Bold).SprintFunc(),
}

func label(role chat.Role) string {
	if f, ok := roleLabels[role]; ok {
		return f(string(role))
	}
	return string(role)
}

// OnChange is registered as a store listener; it runs under the store lock.
func (t *transcript) OnChange(c store.Change) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch c.Kind {
	case store.ChangeMessageAppended:
		if c.Message == nil || c.Message.Role == chat.RoleUser {
			return
		}
		t.lastPct = -1
		t.printMessage(*c.Message)
	case store.ChangeProgress:
		if !t.progress || c.Snapshot.Progress == nil {
			return
		}
		p := c.Snapshot.Progress
		pct := int(p.Fraction * 100)
		if pct == t.lastPct {
			return
		}
		t.lastPct = pct
		_, _ = fmt.Fprintf(t.w, "%s %3d%% %s\n", color.HiBlackString("..."), pct, p.Text)
	case store.ChangeConnectionState:
		_, _ = fmt.Fprintf(t.w, "%s\n", color.HiBlackString("[connection: %s]", c.Snapshot.State))
	}
}

func (t *transcript) printMessage(m chat.Message) {
	_, _ = fmt.Fprintf(t.w, "%s: %s\n", label(m.Role), m.PlainText())
	var tools []string
	for _, tr := range m.ToolResults {
		tools = append(tools, fmt.Sprintf("%s (%s)", tr.ToolName, tr.Status))
	}
	if len(tools) > 0 {
		_, _ = fmt.Fprintf(t.w, "  %s %s\n", color.HiBlackString("tools:"), strings.Join(tools, ", "))
	}
}

func (t *transcript) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.w, format, args...)
}

package chat

import (
	"time"

	"github.com/pkg/errors"
)

type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

var ErrToolResultTerminal = errors.New("tool result already in a terminal state")

func (s ToolStatus) Terminal() bool {
	return s == ToolCompleted || s == ToolFailed
}

func (s ToolStatus) rank() int {
	switch s {
	case ToolPending:
		return 0
	case ToolRunning:
		return 1
	case ToolCompleted, ToolFailed:
		return 2
	}
	return -1
}

type ToolResult struct {
	ToolName string         `json:"tool_name"`
	Status   ToolStatus     `json:"status"`
	Payload  map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	// Elapsed is execution_time on the wire, in seconds.
	Elapsed float64 `json:"execution_time,omitempty"`
}

func (t ToolResult) Duration() time.Duration {
	return time.Duration(t.Elapsed * float64(time.Second))
}

// Advance moves the result forward: pending -> running -> completed|failed. Staying in the
// same non-terminal state is allowed; going backwards or leaving a terminal state is not.
func (t *ToolResult) Advance(next ToolStatus) error {
	if t == nil {
		return errors.New("tool result is nil")
	}
	if next.rank() < 0 {
		return errors.Errorf("unknown tool status %q", next)
	}
	if t.Status == "" {
		t.Status = next
		return nil
	}
	if t.Status.Terminal() {
		return errors.Wrapf(ErrToolResultTerminal, "%s: %s -> %s", t.ToolName, t.Status, next)
	}
	if next.rank() < t.Status.rank() {
		return errors.Errorf("%s: tool status cannot go from %s back to %s", t.ToolName, t.Status, next)
	}
	t.Status = next
	return nil
}

package protocol

import (
	"strings"
	"time"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
)

// HistoryEntry is one message as the agent reports it in a history listing, over either transport.
type HistoryEntry struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	Content     []chat.ContentPart `json:"content"`
	Timestamp   string             `json:"timestamp"`
	ToolResults []chat.ToolResult  `json:"tool_results,omitempty"`
}

// The agent emits ISO-8601 timestamps, usually without a zone.
var historyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseHistoryTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range historyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (h HistoryEntry) ToMessage(sessionID session.ID) chat.Message {
	role := chat.Role(h.Type)
	if !role.Valid() {
		role = chat.RoleSystem
	}
	return chat.Message{
		ID:          h.ID,
		Role:        role,
		Parts:       append([]chat.ContentPart(nil), h.Content...),
		CreatedAt:   parseHistoryTime(h.Timestamp),
		SessionID:   sessionID,
		ToolResults: append([]chat.ToolResult(nil), h.ToolResults...),
	}
}

func HistoryToMessages(entries []HistoryEntry, sessionID session.ID) []chat.Message {
	out := make([]chat.Message, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ToMessage(sessionID))
	}
	return out
}

func MessageToHistoryEntry(m chat.Message) HistoryEntry {
	return HistoryEntry{
		ID:          m.ID,
		Type:        string(m.Role),
		Content:     append([]chat.ContentPart(nil), m.Parts...),
		Timestamp:   m.CreatedAt.Format("2006-01-02T15:04:05.999999"),
		ToolResults: append([]chat.ToolResult(nil), m.ToolResults...),
	}
}

// Package chat holds the data model shared by the transports, the router and the store:
// messages, content parts, tool results, progress updates and connection states.
package chat

import (
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/go-go-golems/chatsync/pkg/session"
)

// Role says who produced a message.
type Role string

const (
	RoleUser          Role = "user"
	RoleAssistant     Role = "assistant"
	RoleSystem        Role = "system"
	RoleToolExecution Role = "tool_execution"
	RoleError         Role = "error"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleToolExecution, RoleError:
		return true
	}
	return false
}

// ContentKind tags the payload of a ContentPart.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentCode  ContentKind = "code"
	ContentImage ContentKind = "image"
	ContentData  ContentKind = "data"
	ContentError ContentKind = "error"
)

// Valid reports whether k is one of the known kinds.
func (k ContentKind) Valid() bool {
	switch k {
	case ContentText, ContentCode, ContentImage, ContentData, ContentError:
		return true
	}
	return false
}

// ContentPart is one piece of a message. Payload is either a string or a structured value
// decoded from JSON.
type ContentPart struct {
	Kind     ContentKind    `json:"type"`
	Payload  any            `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Text returns the payload when it is a string.
func (p ContentPart) Text() (string, bool) {
	s, ok := p.Payload.(string)
	return s, ok
}

// TextPart is a plain text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Payload: text}
}

// ErrorPart is a content part carrying an error description.
func ErrorPart(text string) ContentPart {
	return ContentPart{Kind: ContentError, Payload: text}
}

// Message is one entry of the conversation log. Once appended to the store it is never edited.
type Message struct {
	ID          string        `json:"id"`
	Role        Role          `json:"type"`
	Parts       []ContentPart `json:"content"`
	CreatedAt   time.Time     `json:"timestamp"`
	SessionID   session.ID    `json:"session_id"`
	ToolResults []ToolResult  `json:"tool_results,omitempty"`

	// RemoteID is the message_id assigned by the agent, when there is one.
	RemoteID  string   `json:"remote_id,omitempty"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// NewMessageID returns a sortable identifier; ids generated later in the process compare greater.
func NewMessageID() string {
	return strings.ToLower(ulid.Make().String())
}

// NewMessage builds a message with a fresh id, stamped now.
func NewMessage(role Role, sessionID session.ID, parts ...ContentPart) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      role,
		Parts:     append([]ContentPart(nil), parts...),
		CreatedAt: time.Now(),
		SessionID: sessionID,
	}
}

// NewTextMessage builds a message with a single text part.
func NewTextMessage(role Role, sessionID session.ID, text string) Message {
	return NewMessage(role, sessionID, TextPart(text))
}

// NewErrorMessage builds the error-role message shown for a failed request.
func NewErrorMessage(sessionID session.ID, text string) Message {
	return NewMessage(RoleError, sessionID, ErrorPart(text))
}

// PlainText concatenates all string payloads of the message.
func (m Message) PlainText() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		s, ok := p.Text()
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(s)
	}
	return sb.String()
}

// Clone copies the slices so the caller cannot alias the store's state.
func (m Message) Clone() Message {
	out := m
	out.Parts = append([]ContentPart(nil), m.Parts...)
	if m.ToolResults != nil {
		out.ToolResults = append([]ToolResult(nil), m.ToolResults...)
	}
	if m.ToolsUsed != nil {
		out.ToolsUsed = append([]string(nil), m.ToolsUsed...)
	}
	return out
}

// ProgressUpdate is the transient "agent is working" indicator. At most one is live at a time.
type ProgressUpdate struct {
	Text      string
	Fraction  float64
	SessionID session.ID
}

// NewProgressUpdate builds a progress indicator with fraction clamped to [0, 1].
func NewProgressUpdate(sessionID session.ID, text string, fraction float64) ProgressUpdate {
	return ProgressUpdate{Text: text, Fraction: ClampFraction(fraction), SessionID: sessionID}
}

// ClampFraction limits f to [0, 1]; NaN becomes 0.
func ClampFraction(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// ConnectionState is the lifecycle state of the duplex channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateErrored      ConnectionState = "errored"
)

// AgentResponse is the terminal result of a request over either transport.
type AgentResponse struct {
	MessageID      string        `json:"message_id"`
	ResponseType   Role          `json:"response_type,omitempty"`
	Content        []ContentPart `json:"content"`
	ToolsUsed      []string      `json:"tools_used,omitempty"`
	ToolResults    []ToolResult  `json:"tool_results,omitempty"`
	ProcessingTime float64       `json:"processing_time,omitempty"`
	SessionID      session.ID    `json:"session_id,omitempty"`
}

// ToMessage builds the assistant message appended for this response. When the agent only
// reports tool names, each one is recorded as a completed tool result.
func (r AgentResponse) ToMessage(sessionID session.ID) Message {
	msg := NewMessage(RoleAssistant, sessionID, r.Content...)
	msg.RemoteID = r.MessageID
	if len(r.ToolsUsed) > 0 {
		msg.ToolsUsed = append([]string(nil), r.ToolsUsed...)
	}
	switch {
	case len(r.ToolResults) > 0:
		msg.ToolResults = append([]ToolResult(nil), r.ToolResults...)
	case len(r.ToolsUsed) > 0:
		msg.ToolResults = make([]ToolResult, 0, len(r.ToolsUsed))
		for _, name := range r.ToolsUsed {
			msg.ToolResults = append(msg.ToolResults, ToolResult{ToolName: name, Status: ToolCompleted})
		}
	}
	return msg
}

// Health is the agent's answer to a health check.
type Health struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp,omitempty"`
	Version   string            `json:"version,omitempty"`
	Services  map[string]string `json:"services,omitempty"`
}

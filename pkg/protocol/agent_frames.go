package protocol

import (
	"time"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
)

// Constructors for the frames the agent side emits. The client never sends these; they are used
// by the in-process agent in pkg/agenttest and by tests.

func NewSessionInitializedFrame(id session.ID) Frame {
	return Frame{Tag: TagSessionInitialized, Data: map[string]any{"session_id": id.String(), "status": "connected"}}
}

func NewMessageReceivedFrame(messageID string) Frame {
	return Frame{Tag: TagMessageReceived, Data: map[string]any{"message_id": messageID}}
}

func NewProgressFrame(id session.ID, text string, fraction float64) Frame {
	return Frame{Tag: TagProgressUpdate, Data: map[string]any{
		"message":    text,
		"progress":   fraction,
		"session_id": id.String(),
	}}
}

func NewAgentResponseFrame(resp chat.AgentResponse) Frame {
	data := map[string]any{
		"message_id":      resp.MessageID,
		"content":         resp.Content,
		"processing_time": resp.ProcessingTime,
		"session_id":      resp.SessionID.String(),
	}
	if len(resp.ToolsUsed) > 0 {
		data["tools_used"] = resp.ToolsUsed
	}
	if len(resp.ToolResults) > 0 {
		data["tool_results"] = resp.ToolResults
	}
	return Frame{Tag: TagAgentResponse, Data: data}
}

// NewErrorFrame mirrors the agent, which does not tag error frames with a session.
func NewErrorFrame(message string) Frame {
	return Frame{Tag: TagError, Data: map[string]any{
		"error":     message,
		"timestamp": float64(time.Now().UnixMilli()) / 1000,
	}}
}

func NewPongFrame(now time.Time) Frame {
	return Frame{Tag: TagPong, Data: map[string]any{"timestamp": float64(now.UnixMilli()) / 1000}}
}

func NewSessionHistoryFrame(id session.ID, history []chat.Message) Frame {
	entries := make([]HistoryEntry, 0, len(history))
	for _, m := range history {
		entries = append(entries, MessageToHistoryEntry(m))
	}
	return Frame{Tag: TagSessionHistory, Data: map[string]any{"session_id": id.String(), "history": entries}}
}

func NewSystemMessageFrame(text string) Frame {
	return Frame{Tag: TagSystemMessage, Data: map[string]any{
		"message":   text,
		"timestamp": float64(time.Now().UnixMilli()) / 1000,
	}}
}

// Package protocol defines the JSON frames exchanged with the agent over the duplex channel.
//
// Every frame is an envelope {"type": tag, "data": {...}, "timestamp"?: ...}. Outbound frames are
// built with the constructors in this file; inbound frames are decoded by Decode into a closed set
// of variants that callers consume through the Handler interface.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatsync/pkg/session"
)

// Outbound tags.
const (
	TagSessionInit    = "session_init"
	TagChatMessage    = "chat_message"
	TagSessionHistory = "session_history"
	TagPing           = "ping"
)

// Inbound tags. TagSessionHistory is shared by the request and its answer.
const (
	TagSessionInitialized = "session_initialized"
	TagMessageReceived    = "message_received"
	TagProgressUpdate     = "progress_update"
	TagAgentResponse      = "agent_response"
	TagError              = "error"
	TagPong               = "pong"
	TagSystemMessage      = "system_message"
)

type Frame struct {
	Tag       string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp,omitempty"`
}

func (f Frame) Encode() ([]byte, error) {
	if strings.TrimSpace(f.Tag) == "" {
		return nil, errors.New("frame tag is empty")
	}
	if f.Data == nil {
		f.Data = map[string]any{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s frame", f.Tag)
	}
	return b, nil
}

// DecodeFrame parses the envelope without interpreting the tag.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, errors.Wrap(err, "decode frame")
	}
	if strings.TrimSpace(f.Tag) == "" {
		return Frame{}, errors.New("frame has no type")
	}
	return f, nil
}

// SessionID returns data.session_id when it is a non-empty string.
func (f Frame) SessionID() session.ID {
	if f.Data == nil {
		return ""
	}
	s, _ := f.Data["session_id"].(string)
	return session.ID(strings.TrimSpace(s))
}

// String returns data[key] when it is a string.
func (f Frame) String(key string) string {
	if f.Data == nil {
		return ""
	}
	s, _ := f.Data[key].(string)
	return s
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func NewSessionInit(id session.ID) Frame {
	return Frame{
		Tag:       TagSessionInit,
		Data:      map[string]any{"session_id": id.String()},
		Timestamp: stamp(),
	}
}

func NewChatMessage(text string, id session.ID, userID string) Frame {
	return Frame{
		Tag: TagChatMessage,
		Data: map[string]any{
			"message":    text,
			"session_id": id.String(),
			"user_id":    userID,
		},
		Timestamp: stamp(),
	}
}

func NewSessionHistoryRequest(id session.ID) Frame {
	return Frame{
		Tag:       TagSessionHistory,
		Data:      map[string]any{"session_id": id.String()},
		Timestamp: stamp(),
	}
}

func NewPing(now time.Time) Frame {
	return Frame{
		Tag:       TagPing,
		Data:      map[string]any{"timestamp": now.UnixMilli()},
		Timestamp: stamp(),
	}
}

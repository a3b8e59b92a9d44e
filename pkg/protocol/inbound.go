package protocol

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
)

// Inbound is a decoded frame from the agent. The set of implementations is closed: every
// variant calls exactly one Handler method, so adding a variant breaks every Handler until it
// handles the new case.
type Inbound interface {
	Tag() string
	Session() session.ID
	Accept(h Handler)
}

type Handler interface {
	HandleSessionInitialized(SessionInitialized)
	HandleMessageReceived(MessageReceived)
	HandleProgressUpdate(ProgressUpdate)
	HandleAgentResponse(AgentResponse)
	HandleError(ErrorFrame)
	HandlePong(Pong)
	HandleSessionHistory(SessionHistory)
	HandleSystemMessage(SystemMessage)
	HandleUnrecognized(Unrecognized)
}

type SessionInitialized struct {
	SessionID session.ID
	Status    string
}

type MessageReceived struct {
	SessionID session.ID
	MessageID string
}

type ProgressUpdate struct {
	SessionID session.ID
	Text      string
	Fraction  float64
}

type AgentResponse struct {
	SessionID session.ID
	Response  chat.AgentResponse
}

type ErrorFrame struct {
	SessionID session.ID
	Message   string
}

type Pong struct {
	SessionID session.ID
	Timestamp float64
}

type SessionHistory struct {
	SessionID session.ID
	History   []chat.Message
}

type SystemMessage struct {
	SessionID session.ID
	Text      string
}

type Unrecognized struct {
	SessionID session.ID
	RawTag    string
	Raw       []byte
}

func (f SessionInitialized) Tag() string         { return TagSessionInitialized }
func (f SessionInitialized) Session() session.ID { return f.SessionID }
func (f SessionInitialized) Accept(h Handler)    { h.HandleSessionInitialized(f) }

func (f MessageReceived) Tag() string         { return TagMessageReceived }
func (f MessageReceived) Session() session.ID { return f.SessionID }
func (f MessageReceived) Accept(h Handler)    { h.HandleMessageReceived(f) }

func (f ProgressUpdate) Tag() string         { return TagProgressUpdate }
func (f ProgressUpdate) Session() session.ID { return f.SessionID }
func (f ProgressUpdate) Accept(h Handler)    { h.HandleProgressUpdate(f) }

func (f AgentResponse) Tag() string         { return TagAgentResponse }
func (f AgentResponse) Session() session.ID { return f.SessionID }
func (f AgentResponse) Accept(h Handler)    { h.HandleAgentResponse(f) }

func (f ErrorFrame) Tag() string         { return TagError }
func (f ErrorFrame) Session() session.ID { return f.SessionID }
func (f ErrorFrame) Accept(h Handler)    { h.HandleError(f) }

func (f Pong) Tag() string         { return TagPong }
func (f Pong) Session() session.ID { return f.SessionID }
func (f Pong) Accept(h Handler)    { h.HandlePong(f) }

func (f SessionHistory) Tag() string         { return TagSessionHistory }
func (f SessionHistory) Session() session.ID { return f.SessionID }
func (f SessionHistory) Accept(h Handler)    { h.HandleSessionHistory(f) }

func (f SystemMessage) Tag() string         { return TagSystemMessage }
func (f SystemMessage) Session() session.ID { return f.SessionID }
func (f SystemMessage) Accept(h Handler)    { h.HandleSystemMessage(f) }

func (f Unrecognized) Tag() string         { return f.RawTag }
func (f Unrecognized) Session() session.ID { return f.SessionID }
func (f Unrecognized) Accept(h Handler)    { h.HandleUnrecognized(f) }

type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireProgress struct {
	Message   string   `json:"message"`
	Progress  *float64 `json:"progress"`
	SessionID string   `json:"session_id"`
}

type wireError struct {
	Error     string `json:"error"`
	SessionID string `json:"session_id"`
}

type wireHistory struct {
	SessionID string         `json:"session_id"`
	History   []HistoryEntry `json:"history"`
}

type wireSessionInitialized struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

type wireMessageReceived struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`
}

type wirePong struct {
	Timestamp float64 `json:"timestamp"`
	SessionID string  `json:"session_id"`
}

type wireSystemMessage struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Decode parses one inbound frame. Frames that carry no session_id are attributed to
// connSession, the identity of the connection they arrived on. Malformed frames produce a
// *chat.ProtocolError; unknown tags decode to Unrecognized without error.
func Decode(raw []byte, connSession session.ID) (Inbound, error) {
	var env wireEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &chat.ProtocolError{Err: errors.Wrap(err, "invalid json")}
	}
	tag := strings.TrimSpace(env.Type)
	if tag == "" {
		return nil, &chat.ProtocolError{Err: errors.New("frame has no type")}
	}
	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	sid := func(s string) session.ID {
		if s = strings.TrimSpace(s); s != "" {
			return session.ID(s)
		}
		return connSession
	}
	bad := func(err error) (Inbound, error) {
		return nil, &chat.ProtocolError{Tag: tag, Err: err}
	}

	switch tag {
	case TagSessionInitialized:
		var w wireSessionInitialized
		if err := json.Unmarshal(data, &w); err != nil {
			return bad(err)
		}
		return SessionInitialized{SessionID: sid(w.SessionID), Status: w.Status}, nil
	case TagMessageReceived:
		var w wireMessageReceived
		if err := json.Unmarshal(data, &w); err != nil {
			return bad(err)
		}
		return MessageReceived{SessionID: sid(w.SessionID), MessageID: w.MessageID}, nil
	case TagProgressUpdate:
		var w wireProgress
		if err := json.Unmarshal(data, &w); err != nil {
			return bad(err)
		}
		fraction := 0.0
		if w.Progress != nil {
			fraction = chat.ClampFraction(*w.Progress)
		}
		return ProgressUpdate{SessionID: sid(w.SessionID), Text: w.Message, Fraction: fraction}, nil
	case TagAgentResponse:
		var resp chat.AgentResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return bad(err)
		}
		return AgentResponse{SessionID: sid(string(resp.SessionID)), Response: resp}, nil
	case TagError:
		var w wireError
		if err := json.Unmarshal(data, &w); err != nil {
			return bad(err)
		}
		if strings.TrimSpace(w.Error) == "" {
			w.Error = "unknown error"
		}
		return ErrorFrame{SessionID: sid(w.SessionID), Message: w.Error}, nil
	case TagPong:
		var w wirePong
		if err := json.Unmarshal(data, &w); err != nil {
			return bad(err)
		}
		return Pong{SessionID: sid(w.SessionID), Timestamp: w.Timestamp}, nil
	case TagSessionHistory:
		var w wireHistory
		if err := json.Unmarshal(data, &w); err != nil {
			return bad(err)
		}
		id := sid(w.SessionID)
		return SessionHistory{SessionID: id, History: HistoryToMessages(w.History, id)}, nil
	case TagSystemMessage:
		var w wireSystemMessage
		if err := json.Unmarshal(data, &w); err != nil {
			return bad(err)
		}
		return SystemMessage{SessionID: sid(w.SessionID), Text: w.Message}, nil
	default:
		var head struct {
			SessionID string `json:"session_id"`
		}
		_ = json.Unmarshal(data, &head)
		return Unrecognized{SessionID: sid(head.SessionID), RawTag: tag, Raw: append([]byte(nil), raw...)}, nil
	}
}

package chat

import "time"

// ToolDefinition describes one tool the agent can run on the user's behalf.
type ToolDefinition struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	RequiredParams []string       `json:"required_params,omitempty"`
	Category       string         `json:"category"`
	Enabled        bool           `json:"enabled"`
}

type ToolCategory struct {
	ToolCount int      `json:"tool_count"`
	Tools     []string `json:"tools"`
}

type ToolCategories struct {
	Categories []string                `json:"categories"`
	Details    map[string]ToolCategory `json:"details"`
}

type ToolMatch struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Enabled     bool   `json:"enabled"`
}

// ToolSearch is the agent's answer to a tool search. The agent matches the query against tool
// names, descriptions and categories.
type ToolSearch struct {
	Query   string      `json:"query"`
	Results []ToolMatch `json:"results"`
	Count   int         `json:"count"`
}

// SessionStats summarizes what the agent holds for one session.
type SessionStats struct {
	SessionID          string  `json:"session_id"`
	CreatedAt          float64 `json:"created_at"`
	MessageCount       int     `json:"message_count"`
	ConversationLength int     `json:"conversation_length"`
	LastActivity       *string `json:"last_activity"`
}

// Created converts the agent's unix-seconds timestamp.
func (s SessionStats) Created() time.Time {
	sec := int64(s.CreatedAt)
	return time.Unix(sec, int64((s.CreatedAt-float64(sec))*1e9))
}

type SessionSummary struct {
	CreatedAt    float64 `json:"created_at"`
	MessageCount int     `json:"message_count"`
}

// ActiveSessions lists every session the agent currently keeps, keyed by session id.
type ActiveSessions struct {
	ActiveSessions int                       `json:"active_sessions"`
	Sessions       map[string]SessionSummary `json:"sessions"`
}

type ToolState struct {
	Enabled     bool   `json:"enabled"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// SystemStatus is the agent's detailed status report.
type SystemStatus struct {
	System struct {
		Status    string `json:"status"`
		Version   string `json:"version"`
		DebugMode bool   `json:"debug_mode"`
	} `json:"system"`
	Tools struct {
		TotalTools   int                  `json:"total_tools"`
		EnabledTools int                  `json:"enabled_tools"`
		ToolStatus   map[string]ToolState `json:"tool_status"`
	} `json:"tools"`
	Sessions struct {
		ActiveSessions int `json:"active_sessions"`
		TotalMessages  int `json:"total_messages"`
	} `json:"sessions"`
	Connections struct {
		WebSocketConnections int `json:"websocket_connections"`
	} `json:"connections"`
}

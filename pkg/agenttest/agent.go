// Package agenttest is an in-process stand-in for the remote agent. It speaks the same WebSocket
// frames and REST endpoints as the real service so the client can be exercised end to end.
package agenttest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/protocol"
	"github.com/go-go-golems/chatsync/pkg/session"
)

// APIPrefix is where the agent mounts its routes.
const APIPrefix = "/api/v1"

// Query is one user message as the agent received it.
type Query struct {
	Message   string     `json:"message"`
	SessionID session.ID `json:"session_id"`
	UserID    string     `json:"user_id,omitempty"`
}

// Responder produces the answer to a query. Returning an error makes the agent report it.
type Responder func(q Query) (chat.AgentResponse, error)

type ProgressStep struct {
	Text     string
	Fraction float64
}

// DefaultProgress mirrors the stages the real agent reports.
var DefaultProgress = []ProgressStep{
	{Text: "Analyzing your request...", Fraction: 0.1},
	{Text: "Executing tools...", Fraction: 0.5},
	{Text: "Generating response...", Fraction: 0.9},
}

// DefaultTools is the registry the agent reports unless WithTools replaces it.
var DefaultTools = []chat.ToolDefinition{
	{
		Name:        "text_generation",
		Description: "Generate text responses using AI language models",
		Parameters: map[string]any{
			"prompt": map[string]any{"type": "string", "description": "The text prompt to generate a response for"},
		},
		RequiredParams: []string{"prompt"},
		Category:       "ai",
		Enabled:        true,
	},
}

type Agent struct {
	upgrader  websocket.Upgrader
	responder Responder
	progress  []ProgressStep
	delay     time.Duration
	// closeCode, when set, makes the agent close the connection right after acknowledging a chat
	// message instead of answering it.
	closeCode int
	tools     []chat.ToolDefinition
	logger    zerolog.Logger

	mu          sync.Mutex
	history     map[session.ID][]chat.Message
	sessions    map[session.ID]*chat.SessionSummary
	conns       map[*websocket.Conn]*connState
	received    []protocol.Frame
	restQueries []Query
	chatFails   []int
}

type connState struct {
	writeMu sync.Mutex
	session session.ID
}

type Option func(*Agent)

func WithResponder(r Responder) Option {
	return func(a *Agent) { a.responder = r }
}

func WithProgress(steps ...ProgressStep) Option {
	return func(a *Agent) { a.progress = append([]ProgressStep(nil), steps...) }
}

// WithDelay pauses before every answer, over both transports.
func WithDelay(d time.Duration) Option {
	return func(a *Agent) { a.delay = d }
}

// WithTools replaces the tool registry.
func WithTools(tools ...chat.ToolDefinition) Option {
	return func(a *Agent) { a.tools = append([]chat.ToolDefinition(nil), tools...) }
}

// WithCloseAfterReceipt makes the agent acknowledge each WebSocket chat message and then close the
// connection with code, leaving the message unanswered.
func WithCloseAfterReceipt(code int) Option {
	return func(a *Agent) { a.closeCode = code }
}

func New(opts ...Option) *Agent {
	a := &Agent{
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		responder: EchoResponder,
		progress:  DefaultProgress,
		logger:    log.With().Str("component", "agenttest").Logger(),
		tools:     DefaultTools,
		history:   map[session.ID][]chat.Message{},
		sessions:  map[session.ID]*chat.SessionSummary{},
		conns:     map[*websocket.Conn]*connState{},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// EchoResponder answers with the query text.
func EchoResponder(q Query) (chat.AgentResponse, error) {
	return chat.AgentResponse{
		MessageID:      uuid.NewString(),
		ResponseType:   chat.RoleAssistant,
		Content:        []chat.ContentPart{chat.TextPart("echo: " + q.Message)},
		ToolsUsed:      []string{"text_generation"},
		ProcessingTime: 0.01,
		SessionID:      q.SessionID,
	}, nil
}

func (a *Agent) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+APIPrefix+"/ws/{connID}", a.handleWS)
	mux.HandleFunc("POST "+APIPrefix+"/chat", a.handleChat)
	mux.HandleFunc("GET "+APIPrefix+"/sessions/{id}/history", a.handleHistory)
	mux.HandleFunc("DELETE "+APIPrefix+"/sessions/{id}", a.handleClear)
	mux.HandleFunc("GET "+APIPrefix+"/health", a.handleHealth)
	mux.HandleFunc("GET "+APIPrefix+"/tools", a.handleTools)
	mux.HandleFunc("GET "+APIPrefix+"/tools/categories", a.handleToolCategories)
	mux.HandleFunc("GET "+APIPrefix+"/tools/{name}", a.handleTool)
	mux.HandleFunc("POST "+APIPrefix+"/tools/search", a.handleToolSearch)
	mux.HandleFunc("GET "+APIPrefix+"/sessions", a.handleSessions)
	mux.HandleFunc("GET "+APIPrefix+"/sessions/{id}/stats", a.handleSessionStats)
	mux.HandleFunc("GET "+APIPrefix+"/system/status", a.handleSystemStatus)
	return mux
}

// FailNextChats makes the next REST chat calls fail with the given HTTP statuses, in order.
func (a *Agent) FailNextChats(statuses ...int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chatFails = append(a.chatFails, statuses...)
}

// Frames returns every frame the client sent over WebSocket.
func (a *Agent) Frames() []protocol.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]protocol.Frame(nil), a.received...)
}

func (a *Agent) FramesWithTag(tag string) []protocol.Frame {
	var out []protocol.Frame
	for _, f := range a.Frames() {
		if f.Tag == tag {
			out = append(out, f)
		}
	}
	return out
}

func (a *Agent) RESTQueries() []Query {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Query(nil), a.restQueries...)
}

func (a *Agent) History(id session.ID) []chat.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]chat.Message(nil), a.history[id]...)
}

func (a *Agent) ConnectionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// Push sends f to every open connection.
func (a *Agent) Push(f protocol.Frame) {
	a.mu.Lock()
	targets := make(map[*websocket.Conn]*connState, len(a.conns))
	for c, st := range a.conns {
		targets[c] = st
	}
	a.mu.Unlock()
	for c, st := range targets {
		a.write(c, st, f)
	}
}

// DropConnections closes every connection without a close handshake, as a network failure would.
func (a *Agent) DropConnections() {
	a.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()
	for _, c := range conns {
		_ = c.UnderlyingConn().Close()
	}
}

func (a *Agent) write(c *websocket.Conn, st *connState, f protocol.Frame) {
	b, err := f.Encode()
	if err != nil {
		a.logger.Error().Err(err).Msg("encode frame")
		return
	}
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
		a.logger.Debug().Err(err).Msg("write frame failed")
	}
}

func (a *Agent) closeConn(c *websocket.Conn, st *connState, code int) {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, "agent closing")
	if err := c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		a.logger.Debug().Err(err).Msg("write close failed")
	}
}

func (a *Agent) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	st := &connState{}
	a.mu.Lock()
	a.conns[conn] = st
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.conns, conn)
		a.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := protocol.DecodeFrame(data)
		if err != nil {
			a.write(conn, st, protocol.NewErrorFrame("Invalid frame: "+err.Error()))
			continue
		}
		a.mu.Lock()
		a.received = append(a.received, f)
		a.mu.Unlock()
		a.handleFrame(conn, st, f)
	}
}

func (a *Agent) handleFrame(conn *websocket.Conn, st *connState, f protocol.Frame) {
	switch f.Tag {
	case protocol.TagSessionInit:
		id := f.SessionID()
		if id.IsZero() {
			a.write(conn, st, protocol.NewErrorFrame("No session_id provided"))
			return
		}
		st.session = id
		a.write(conn, st, protocol.NewSessionInitializedFrame(id))
	case protocol.TagChatMessage:
		q := Query{Message: f.String("message"), SessionID: f.SessionID(), UserID: f.String("user_id")}
		if strings.TrimSpace(q.Message) == "" {
			a.write(conn, st, protocol.NewErrorFrame("Empty message received"))
			return
		}
		a.write(conn, st, protocol.NewMessageReceivedFrame(uuid.NewString()))
		if a.closeCode != 0 {
			a.closeConn(conn, st, a.closeCode)
			return
		}
		for _, p := range a.progress {
			a.write(conn, st, protocol.NewProgressFrame(q.SessionID, p.Text, p.Fraction))
		}
		resp, err := a.answer(q)
		if err != nil {
			a.write(conn, st, protocol.NewErrorFrame("Error processing chat message: "+err.Error()))
			return
		}
		a.write(conn, st, protocol.NewAgentResponseFrame(resp))
	case protocol.TagSessionHistory:
		id := f.SessionID()
		if id.IsZero() {
			a.write(conn, st, protocol.NewErrorFrame("No session_id provided"))
			return
		}
		a.write(conn, st, protocol.NewSessionHistoryFrame(id, a.History(id)))
	case protocol.TagPing:
		a.write(conn, st, protocol.NewPongFrame(time.Now()))
	default:
		a.write(conn, st, protocol.NewErrorFrame("Unknown message type: "+f.Tag))
	}
}

func (a *Agent) answer(q Query) (chat.AgentResponse, error) {
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if q.SessionID.IsZero() {
		q.SessionID = session.Generate()
	}
	resp, err := a.responder(q)
	if err != nil {
		return chat.AgentResponse{}, err
	}
	if resp.SessionID.IsZero() {
		resp.SessionID = q.SessionID
	}
	a.mu.Lock()
	meta, ok := a.sessions[q.SessionID]
	if !ok {
		meta = &chat.SessionSummary{CreatedAt: float64(time.Now().UnixNano()) / 1e9}
		a.sessions[q.SessionID] = meta
	}
	meta.MessageCount++
	a.history[q.SessionID] = append(a.history[q.SessionID],
		chat.NewTextMessage(chat.RoleUser, q.SessionID, q.Message),
		resp.ToMessage(q.SessionID),
	)
	a.mu.Unlock()
	return resp, nil
}

func (a *Agent) handleChat(w http.ResponseWriter, r *http.Request) {
	var q Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "invalid body: " + err.Error()})
		return
	}
	a.mu.Lock()
	a.restQueries = append(a.restQueries, q)
	status := 0
	if len(a.chatFails) > 0 {
		status = a.chatFails[0]
		a.chatFails = a.chatFails[1:]
	}
	a.mu.Unlock()
	if status != 0 {
		writeJSON(w, status, map[string]any{"detail": "Chat processing failed: injected failure"})
		return
	}
	if strings.TrimSpace(q.Message) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": "message must not be empty"})
		return
	}
	resp, err := a.answer(q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"detail": "Chat processing failed: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *Agent) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := session.ID(r.PathValue("id"))
	msgs := a.History(id)
	entries := make([]protocol.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, protocol.MessageToHistoryEntry(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    id.String(),
		"history":       entries,
		"message_count": len(entries),
	})
}

func (a *Agent) handleClear(w http.ResponseWriter, r *http.Request) {
	id := session.ID(r.PathValue("id"))
	a.mu.Lock()
	_, ok := a.sessions[id]
	delete(a.history, id)
	delete(a.sessions, id)
	a.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Session '" + id.String() + "' not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Session '" + id.String() + "' cleared successfully"})
}

func (a *Agent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, chat.Health{
		Status:    "healthy",
		Timestamp: time.Now().Format("2006-01-02T15:04:05.999999"),
		Version:   "test",
		Services:  map[string]string{"agent_orchestrator": "healthy"},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *Agent) enabledTools() []chat.ToolDefinition {
	out := make([]chat.ToolDefinition, 0, len(a.tools))
	for _, t := range a.tools {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out
}

func (a *Agent) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.enabledTools())
}

func (a *Agent) handleTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, t := range a.tools {
		if t.Name == name {
			writeJSON(w, http.StatusOK, t)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Tool '" + name + "' not found"})
}

func (a *Agent) handleToolCategories(w http.ResponseWriter, _ *http.Request) {
	res := chat.ToolCategories{Details: map[string]chat.ToolCategory{}}
	for _, t := range a.enabledTools() {
		d, ok := res.Details[t.Category]
		if !ok {
			res.Categories = append(res.Categories, t.Category)
		}
		d.ToolCount++
		d.Tools = append(d.Tools, t.Name)
		res.Details[t.Category] = d
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *Agent) handleToolSearch(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	query := body["query"]
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "Search query is required"})
		return
	}
	q := strings.ToLower(query)
	res := chat.ToolSearch{Query: query, Results: []chat.ToolMatch{}}
	for _, t := range a.enabledTools() {
		if strings.Contains(strings.ToLower(t.Name), q) ||
			strings.Contains(strings.ToLower(t.Description), q) ||
			strings.Contains(strings.ToLower(t.Category), q) {
			res.Results = append(res.Results, chat.ToolMatch{
				Name: t.Name, Description: t.Description, Category: t.Category, Enabled: t.Enabled,
			})
		}
	}
	res.Count = len(res.Results)
	writeJSON(w, http.StatusOK, res)
}

func (a *Agent) handleSessions(w http.ResponseWriter, _ *http.Request) {
	a.mu.Lock()
	res := chat.ActiveSessions{ActiveSessions: len(a.sessions), Sessions: map[string]chat.SessionSummary{}}
	for id, meta := range a.sessions {
		res.Sessions[id.String()] = *meta
	}
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, res)
}

func (a *Agent) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	id := session.ID(r.PathValue("id"))
	a.mu.Lock()
	meta, ok := a.sessions[id]
	var stats chat.SessionStats
	if ok {
		hist := a.history[id]
		stats = chat.SessionStats{
			SessionID:          id.String(),
			CreatedAt:          meta.CreatedAt,
			MessageCount:       meta.MessageCount,
			ConversationLength: len(hist),
		}
		if len(hist) > 0 {
			last := hist[len(hist)-1].CreatedAt.Format(time.RFC3339Nano)
			stats.LastActivity = &last
		}
	}
	a.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Session '" + id.String() + "' not found"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *Agent) handleSystemStatus(w http.ResponseWriter, _ *http.Request) {
	var st chat.SystemStatus
	st.System.Status = "operational"
	st.System.Version = "test"
	st.Tools.TotalTools = len(a.tools)
	st.Tools.ToolStatus = map[string]chat.ToolState{}
	for _, t := range a.tools {
		if t.Enabled {
			st.Tools.EnabledTools++
		}
		st.Tools.ToolStatus[t.Name] = chat.ToolState{Enabled: t.Enabled, Category: t.Category, Description: t.Description}
	}
	a.mu.Lock()
	st.Sessions.ActiveSessions = len(a.sessions)
	for _, meta := range a.sessions {
		st.Sessions.TotalMessages += meta.MessageCount
	}
	st.Connections.WebSocketConnections = len(a.conns)
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, st)
}

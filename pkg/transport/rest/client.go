// Package rest is the request/response fallback to the duplex channel. A call carries the whole
// user message and returns only the terminal answer; no progress is reported over this path.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/protocol"
	"github.com/go-go-golems/chatsync/pkg/session"
)

const defaultTimeout = 30 * time.Second

type Config struct {
	// BaseURL is the API prefix, e.g. http://localhost:8000/api/v1.
	BaseURL string
	UserID  string
	// Timeout bounds each call, including reading the body.
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	base    *url.URL
	userID  string
	timeout time.Duration
	http    *http.Client
	logger  zerolog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("rest base url is empty")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrap(err, "parse rest base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("rest base url %q must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		base:    u,
		userID:  cfg.UserID,
		timeout: cfg.Timeout,
		http:    hc,
		logger:  log.With().Str("component", "rest").Logger(),
	}, nil
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
}

// Call sends one user message and returns the agent's terminal answer.
func (c *Client) Call(ctx context.Context, message string, id session.ID) (chat.AgentResponse, error) {
	var resp chat.AgentResponse
	if strings.TrimSpace(message) == "" {
		return resp, chat.ErrEmptyMessage
	}
	body := chatRequest{Message: message, SessionID: id.String(), UserID: c.userID}
	if err := c.do(ctx, http.MethodPost, "/chat", body, &resp); err != nil {
		return chat.AgentResponse{}, err
	}
	if resp.SessionID.IsZero() {
		resp.SessionID = id
	}
	return resp, nil
}

type historyResponse struct {
	SessionID    string                  `json:"session_id"`
	History      []protocol.HistoryEntry `json:"history"`
	MessageCount int                     `json:"message_count"`
}

// History fetches the agent's record of a session.
func (c *Client) History(ctx context.Context, id session.ID) ([]chat.Message, error) {
	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id.String())+"/history", nil, &resp); err != nil {
		return nil, err
	}
	return protocol.HistoryToMessages(resp.History, id), nil
}

// ClearSession asks the agent to forget a session. A session the agent never saw is not an error.
func (c *Client) ClearSession(ctx context.Context, id session.ID) error {
	err := c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id.String()), nil, nil)
	var remote *chat.RemoteError
	if errors.As(err, &remote) && remote.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) Health(ctx context.Context) (chat.Health, error) {
	var h chat.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

// Tools lists the tools the agent has enabled.
func (c *Client) Tools(ctx context.Context) ([]chat.ToolDefinition, error) {
	var tools []chat.ToolDefinition
	err := c.do(ctx, http.MethodGet, "/tools", nil, &tools)
	return tools, err
}

// Tool fetches one tool definition. An unknown name is a RemoteError with status 404.
func (c *Client) Tool(ctx context.Context, name string) (chat.ToolDefinition, error) {
	var tool chat.ToolDefinition
	if strings.TrimSpace(name) == "" {
		return tool, errors.New("tool name is empty")
	}
	err := c.do(ctx, http.MethodGet, "/tools/"+url.PathEscape(name), nil, &tool)
	return tool, err
}

func (c *Client) ToolCategories(ctx context.Context) (chat.ToolCategories, error) {
	var cats chat.ToolCategories
	err := c.do(ctx, http.MethodGet, "/tools/categories", nil, &cats)
	return cats, err
}

// SearchTools asks the agent for enabled tools matching query.
func (c *Client) SearchTools(ctx context.Context, query string) (chat.ToolSearch, error) {
	var res chat.ToolSearch
	if strings.TrimSpace(query) == "" {
		return res, errors.New("search query is empty")
	}
	err := c.do(ctx, http.MethodPost, "/tools/search", map[string]string{"query": query}, &res)
	return res, err
}

// SessionStats reports what the agent holds for a session. An unknown session is a RemoteError
// with status 404.
func (c *Client) SessionStats(ctx context.Context, id session.ID) (chat.SessionStats, error) {
	var stats chat.SessionStats
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id.String())+"/stats", nil, &stats)
	return stats, err
}

func (c *Client) Sessions(ctx context.Context) (chat.ActiveSessions, error) {
	var res chat.ActiveSessions
	err := c.do(ctx, http.MethodGet, "/sessions", nil, &res)
	return res, err
}

func (c *Client) SystemStatus(ctx context.Context) (chat.SystemStatus, error) {
	var st chat.SystemStatus
	err := c.do(ctx, http.MethodGet, "/system/status", nil, &st)
	return st, err
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	op := method + " " + path
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return &chat.ConnectionError{Op: op, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return &chat.ConnectionError{Op: op, Err: err}
	}
	c.logger.Debug().
		Str("op", op).
		Int("status", res.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("rest call finished")

	if res.StatusCode >= 400 {
		return classifyStatus(op, res.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &chat.ProtocolError{Tag: op, Err: errors.Wrap(err, "decode response")}
	}
	return nil
}

// classifyStatus maps an HTTP failure to the error taxonomy. Overload and server faults may
// clear up on retry; everything else the agent said on purpose.
func classifyStatus(op string, status int, raw []byte) error {
	detail := errorDetail(raw)
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		if detail == "" {
			detail = http.StatusText(status)
		}
		return &chat.ConnectionError{Op: op, Err: errors.Errorf("http %d: %s", status, detail)}
	}
	if detail == "" {
		detail = http.StatusText(status)
	}
	return &chat.RemoteError{Message: detail, StatusCode: status}
}

func errorDetail(raw []byte) string {
	var body struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return strings.TrimSpace(string(raw))
	}
	switch d := body.Detail.(type) {
	case string:
		return d
	case nil:
		return body.Error
	default:
		b, _ := json.Marshal(d)
		return string(b)
	}
}

package agenttest

import (
	"net/http/httptest"
	"strings"
	"testing"
)

// Server is an Agent listening on a loopback test server.
type Server struct {
	*Agent
	HTTP *httptest.Server
}

func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	a := New(opts...)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return &Server{Agent: a, HTTP: srv}
}

// BaseURL is the REST prefix, e.g. http://127.0.0.1:1234/api/v1.
func (s *Server) BaseURL() string {
	return s.HTTP.URL + APIPrefix
}

// WSURL is the WebSocket prefix; clients append a connection id.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.HTTP.URL, "http") + APIPrefix + "/ws"
}

// Package router applies decoded inbound frames to the conversation store.
package router

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/protocol"
	"github.com/go-go-golems/chatsync/pkg/session"
	"github.com/go-go-golems/chatsync/pkg/store"
)

// DiagnosticsSink receives frames that could not be understood. It never affects the session.
type DiagnosticsSink func(err error)

type Router struct {
	store       *store.Store
	diagnostics DiagnosticsSink
	now         func() time.Time
	logger      zerolog.Logger
}

var _ protocol.Handler = (*Router)(nil)

type Option func(*Router)

func WithDiagnostics(sink DiagnosticsSink) Option {
	return func(r *Router) { r.diagnostics = sink }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

func New(s *store.Store, opts ...Option) *Router {
	r := &Router{
		store:  s,
		now:    time.Now,
		logger: log.With().Str("component", "router").Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Route decodes one raw frame that arrived on the connection opened for conn and applies it.
// Malformed frames are reported to the diagnostics sink and otherwise ignored.
func (r *Router) Route(raw []byte, conn session.ID) {
	in, err := protocol.Decode(raw, conn)
	if err != nil {
		r.diagnose(err)
		return
	}
	r.Dispatch(in)
}

func (r *Router) Dispatch(in protocol.Inbound) {
	if in == nil {
		return
	}
	in.Accept(r)
}

func (r *Router) diagnose(err error) {
	r.logger.Warn().Err(err).Msg("ignoring inbound frame")
	if r.diagnostics != nil {
		r.diagnostics(err)
	}
}

func (r *Router) sessionLogger(id session.ID) *zerolog.Event {
	return r.logger.Debug().Str("session_id", id.String())
}

func (r *Router) HandleSessionInitialized(f protocol.SessionInitialized) {
	r.sessionLogger(f.SessionID).Str("status", f.Status).Msg("session initialized")
}

func (r *Router) HandleMessageReceived(f protocol.MessageReceived) {
	r.sessionLogger(f.SessionID).Str("message_id", f.MessageID).Msg("message acknowledged")
}

func (r *Router) HandleProgressUpdate(f protocol.ProgressUpdate) {
	r.store.Apply(f.SessionID, func(tx *store.Tx) {
		tx.SetProgress(chat.NewProgressUpdate(f.SessionID, f.Text, f.Fraction))
	})
}

func (r *Router) HandleAgentResponse(f protocol.AgentResponse) {
	applied := r.store.Apply(f.SessionID, func(tx *store.Tx) {
		tx.SetLoading(false)
		tx.ClearProgress()
		tx.AppendMessage(f.Response.ToMessage(f.SessionID))
	})
	if applied {
		r.sessionLogger(f.SessionID).
			Str("message_id", f.Response.MessageID).
			Float64("processing_time", f.Response.ProcessingTime).
			Msg("agent response applied")
	}
}

func (r *Router) HandleError(f protocol.ErrorFrame) {
	applied := r.store.Apply(f.SessionID, func(tx *store.Tx) {
		tx.SetLoading(false)
		tx.ClearProgress()
		tx.SetError(f.Message)
		tx.AppendMessage(chat.NewErrorMessage(f.SessionID, f.Message))
	})
	if !applied {
		return
	}
	r.logger.Warn().Str("session_id", f.SessionID.String()).Str("error", f.Message).Msg("agent reported an error")
}

func (r *Router) HandlePong(f protocol.Pong) {
	r.store.Apply(f.SessionID, func(tx *store.Tx) {
		tx.MarkPong(r.now())
	})
	r.sessionLogger(f.SessionID).Float64("timestamp", f.Timestamp).Msg("pong")
}

func (r *Router) HandleSessionHistory(f protocol.SessionHistory) {
	r.sessionLogger(f.SessionID).Int("count", len(f.History)).Msg("session history received")
}

func (r *Router) HandleSystemMessage(f protocol.SystemMessage) {
	r.store.Apply(f.SessionID, func(tx *store.Tx) {
		tx.AppendMessage(chat.NewTextMessage(chat.RoleSystem, f.SessionID, f.Text))
	})
}

func (r *Router) HandleUnrecognized(f protocol.Unrecognized) {
	r.diagnose(&chat.ProtocolError{Tag: f.RawTag, Err: errors.New("unrecognized frame type")})
}

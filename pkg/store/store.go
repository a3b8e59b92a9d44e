// Package store holds the conversation state of the active session: the message log, the
// connection indicator, the loading flag, the live progress update and the last error.
//
// Every mutation is applied under one lock as an indivisible replacement, so readers never see
// a half-applied change. Messages and progress updates that carry a session other than the
// active one are dropped.
package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
)

const DefaultWelcome = "New conversation started. How can I help?"

type Store struct {
	mu sync.Mutex

	session  session.ID
	epoch    uint64
	messages []chat.Message
	state    chat.ConnectionState
	loading  bool
	progress *chat.ProgressUpdate
	errText  string
	lastPong time.Time

	welcome   string
	listeners map[int]Listener
	nextID    int
	logger    zerolog.Logger
}

type Option func(*Store)

// WithWelcome sets the system message appended on every rotation.
func WithWelcome(text string) Option {
	return func(s *Store) { s.welcome = text }
}

// WithSession starts the store on an existing identity instead of a fresh one.
func WithSession(id session.ID) Option {
	return func(s *Store) {
		if !id.IsZero() {
			s.session = id
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		session:   session.Generate(),
		state:     chat.StateDisconnected,
		welcome:   DefaultWelcome,
		listeners: map[int]Listener{},
		logger:    log.With().Str("component", "store").Logger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnChange registers l for every committed change. Listeners run under the store lock in commit
// order and must not call back into the store.
func (s *Store) OnChange(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// commit runs fn as one transaction and notifies listeners. Caller must hold s.mu.
func (s *Store) commit(fn func(tx *Tx)) {
	tx := &Tx{s: s}
	fn(tx)
	if len(tx.changes) == 0 || len(s.listeners) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, c := range tx.changes {
		c.Snapshot = snap
		for _, l := range s.listeners {
			l(c)
		}
	}
}

// Apply runs fn as one indivisible update if id is still the active session.
func (s *Store) Apply(id session.ID, fn func(tx *Tx)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.session {
		s.logger.Debug().Str("session_id", id.String()).Str("active", s.session.String()).Msg("dropping update for stale session")
		return false
	}
	s.commit(fn)
	return true
}

// ApplyAtEpoch runs fn as one indivisible update if no rotation happened since epoch was read.
func (s *Store) ApplyAtEpoch(epoch uint64, fn func(tx *Tx)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		s.logger.Debug().Uint64("epoch", epoch).Uint64("active", s.epoch).Msg("dropping update for superseded epoch")
		return false
	}
	s.commit(fn)
	return true
}

// Update runs fn unconditionally as one indivisible update.
func (s *Store) Update(fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commit(fn)
}

// AppendMessage appends m to the log. A message without a session joins the active one; a
// message for another session is dropped and false returned.
func (s *Store) AppendMessage(m chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := false
	s.commit(func(tx *Tx) { ok = tx.AppendMessage(m) })
	return ok
}

func (s *Store) SetConnectionState(st chat.ConnectionState) {
	s.Update(func(tx *Tx) { tx.SetConnectionState(st) })
}

func (s *Store) SetLoading(v bool) {
	s.Update(func(tx *Tx) { tx.SetLoading(v) })
}

// SetProgress replaces the live progress update. Last write wins.
func (s *Store) SetProgress(p chat.ProgressUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := false
	s.commit(func(tx *Tx) { ok = tx.SetProgress(p) })
	return ok
}

func (s *Store) ClearProgress() {
	s.Update(func(tx *Tx) { tx.ClearProgress() })
}

// SetError records the last failure; an empty text clears it.
func (s *Store) SetError(text string) {
	s.Update(func(tx *Tx) { tx.SetError(text) })
}

func (s *Store) ClearLog() {
	s.Update(func(tx *Tx) { tx.ClearLog() })
}

func (s *Store) MarkPong(at time.Time) {
	s.Update(func(tx *Tx) { tx.MarkPong(at) })
}

// RotateSession starts a new conversation: the log is cleared, a fresh identity is issued, the
// epoch advances so in-flight completions are discarded, error and progress are cleared and a
// single system welcome message is appended. It returns the new identity and epoch.
func (s *Store) RotateSession() (session.ID, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.session
	next := session.Generate()
	for next == prev {
		next = session.Generate()
	}
	s.commit(func(tx *Tx) {
		tx.ClearLog()
		s.session = next
		s.epoch++
		tx.record(Change{Kind: ChangeSessionRotated})
		tx.SetLoading(false)
		tx.SetError("")
		tx.ClearProgress()
		tx.AppendMessage(chat.NewTextMessage(chat.RoleSystem, next, s.welcome))
	})
	s.logger.Info().Str("from", prev.String()).Str("session_id", next.String()).Uint64("epoch", s.epoch).Msg("session rotated")
	return next, s.epoch
}

func (s *Store) Session() session.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Current returns the active session and epoch read together.
func (s *Store) Current() (session.ID, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.epoch
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Session:  s.session,
		Epoch:    s.epoch,
		Messages: make([]chat.Message, 0, len(s.messages)),
		State:    s.state,
		Loading:  s.loading,
		Error:    s.errText,
		LastPong: s.lastPong,
	}
	for _, m := range s.messages {
		snap.Messages = append(snap.Messages, m.Clone())
	}
	if s.progress != nil {
		p := *s.progress
		snap.Progress = &p
	}
	return snap
}

package store

import (
	"time"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
)

type ChangeKind string

const (
	ChangeMessageAppended ChangeKind = "message_appended"
	ChangeConnectionState ChangeKind = "connection_state"
	ChangeLoading         ChangeKind = "loading"
	ChangeProgress        ChangeKind = "progress"
	ChangeError           ChangeKind = "error"
	ChangeLogCleared      ChangeKind = "log_cleared"
	ChangeSessionRotated  ChangeKind = "session_rotated"
	ChangePong            ChangeKind = "pong"
)

// Change describes one committed mutation. Snapshot is the state after the whole transaction.
type Change struct {
	Kind     ChangeKind
	Message  *chat.Message
	Snapshot Snapshot
}

type Listener func(Change)

// Snapshot is a copy of the store state; it does not alias the store.
type Snapshot struct {
	Session  session.ID
	Epoch    uint64
	Messages []chat.Message
	State    chat.ConnectionState
	Loading  bool
	Progress *chat.ProgressUpdate
	Error    string
	LastPong time.Time
}

func (s Snapshot) LastMessage() (chat.Message, bool) {
	if len(s.Messages) == 0 {
		return chat.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

func (s Snapshot) MessagesByRole(role chat.Role) []chat.Message {
	var out []chat.Message
	for _, m := range s.Messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

func (s Snapshot) Counts() map[chat.Role]int {
	out := map[chat.Role]int{}
	for _, m := range s.Messages {
		out[m.Role]++
	}
	return out
}

func (s *Store) Messages() []chat.Message {
	return s.Snapshot().Messages
}

func (s *Store) LastMessage() (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return chat.Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

func (s *Store) MessagesByRole(role chat.Role) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chat.Message
	for _, m := range s.messages {
		if m.Role == role {
			out = append(out, m.Clone())
		}
	}
	return out
}

func (s *Store) HasMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages) > 0
}

func (s *Store) Counts() map[chat.Role]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[chat.Role]int{}
	for _, m := range s.messages {
		out[m.Role]++
	}
	return out
}

func (s *Store) ConnectionState() chat.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Store) Progress() (chat.ProgressUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progress == nil {
		return chat.ProgressUpdate{}, false
	}
	return *s.progress, true
}

func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errText
}

func (s *Store) LastPong() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPong
}

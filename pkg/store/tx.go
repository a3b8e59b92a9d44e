package store

import (
	"time"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
)

// Tx is the mutation surface handed to Apply, ApplyAtEpoch and Update. It is only valid inside
// the callback.
type Tx struct {
	s       *Store
	changes []Change
}

func (tx *Tx) Session() session.ID { return tx.s.session }

func (tx *Tx) Epoch() uint64 { return tx.s.epoch }

func (tx *Tx) Loading() bool { return tx.s.loading }

func (tx *Tx) record(c Change) {
	tx.changes = append(tx.changes, c)
}

func (tx *Tx) AppendMessage(m chat.Message) bool {
	s := tx.s
	if m.SessionID.IsZero() {
		m.SessionID = s.session
	}
	if m.SessionID != s.session {
		s.logger.Debug().
			Str("session_id", m.SessionID.String()).
			Str("active", s.session.String()).
			Str("role", string(m.Role)).
			Msg("dropping message for stale session")
		return false
	}
	if m.ID == "" {
		m.ID = chat.NewMessageID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m = m.Clone()
	s.messages = append(s.messages, m)
	tx.record(Change{Kind: ChangeMessageAppended, Message: &m})
	return true
}

func (tx *Tx) SetConnectionState(st chat.ConnectionState) {
	if tx.s.state == st {
		return
	}
	tx.s.state = st
	tx.record(Change{Kind: ChangeConnectionState})
}

func (tx *Tx) SetLoading(v bool) {
	if tx.s.loading == v {
		return
	}
	tx.s.loading = v
	tx.record(Change{Kind: ChangeLoading})
}

func (tx *Tx) SetProgress(p chat.ProgressUpdate) bool {
	s := tx.s
	if p.SessionID.IsZero() {
		p.SessionID = s.session
	}
	if p.SessionID != s.session {
		return false
	}
	p.Fraction = chat.ClampFraction(p.Fraction)
	s.progress = &p
	tx.record(Change{Kind: ChangeProgress})
	return true
}

func (tx *Tx) ClearProgress() {
	if tx.s.progress == nil {
		return
	}
	tx.s.progress = nil
	tx.record(Change{Kind: ChangeProgress})
}

func (tx *Tx) SetError(text string) {
	if tx.s.errText == text {
		return
	}
	tx.s.errText = text
	tx.record(Change{Kind: ChangeError})
}

func (tx *Tx) ClearLog() {
	if len(tx.s.messages) == 0 {
		return
	}
	tx.s.messages = nil
	tx.record(Change{Kind: ChangeLogCleared})
}

func (tx *Tx) MarkPong(at time.Time) {
	tx.s.lastPong = at
	tx.record(Change{Kind: ChangePong})
}

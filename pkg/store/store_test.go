package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatsync/pkg/chat"
	"github.com/go-go-golems/chatsync/pkg/session"
)

func TestAppendMessage_KeepsInsertionOrder(t *testing.T) {
	s := New()
	id := s.Session()

	// Timestamps deliberately out of order: the log never sorts.
	now := time.Now()
	texts := []string{"a", "b", "c", "d"}
	for i, text := range texts {
		m := chat.NewTextMessage(chat.RoleUser, id, text)
		m.CreatedAt = now.Add(-time.Duration(i) * time.Minute)
		require.True(t, s.AppendMessage(m))
	}

	msgs := s.Messages()
	require.Len(t, msgs, len(texts))
	for i, text := range texts {
		require.Equal(t, text, msgs[i].PlainText())
	}
}

func TestAppendMessage_DropsOtherSessions(t *testing.T) {
	s := New()
	require.False(t, s.AppendMessage(chat.NewTextMessage(chat.RoleAssistant, "someone-else", "late")))
	require.False(t, s.HasMessages())

	m := chat.NewTextMessage(chat.RoleAssistant, "", "joins active")
	require.True(t, s.AppendMessage(m))
	last, ok := s.LastMessage()
	require.True(t, ok)
	require.Equal(t, s.Session(), last.SessionID)
}

func TestSetProgress_LastWriteWins(t *testing.T) {
	s := New()
	id := s.Session()

	require.True(t, s.SetProgress(chat.NewProgressUpdate(id, "first", 0.3)))
	require.True(t, s.SetProgress(chat.NewProgressUpdate(id, "second", 0.7)))
	p, ok := s.Progress()
	require.True(t, ok)
	require.Equal(t, 0.7, p.Fraction)
	require.Equal(t, "second", p.Text)

	require.False(t, s.SetProgress(chat.NewProgressUpdate("stale", "ignored", 0.9)))
	p, _ = s.Progress()
	require.Equal(t, 0.7, p.Fraction)

	s.ClearProgress()
	_, ok = s.Progress()
	require.False(t, ok)
}

func TestSetProgress_ClampsFraction(t *testing.T) {
	s := New()
	require.True(t, s.SetProgress(chat.ProgressUpdate{Text: "x", Fraction: 4}))
	p, _ := s.Progress()
	require.Equal(t, 1.0, p.Fraction)
}

func TestRotateSession_FromEmptyLog(t *testing.T) {
	s := New(WithWelcome("hello there"))
	before, epoch := s.Current()

	next, nextEpoch := s.RotateSession()
	require.NotEqual(t, before, next)
	require.Equal(t, epoch+1, nextEpoch)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, chat.RoleSystem, msgs[0].Role)
	require.Equal(t, "hello there", msgs[0].PlainText())
	require.Equal(t, next, msgs[0].SessionID)
}

func TestRotateSession_ResetsTransientState(t *testing.T) {
	s := New()
	id := s.Session()
	s.AppendMessage(chat.NewTextMessage(chat.RoleUser, id, "q"))
	s.SetLoading(true)
	s.SetError("boom")
	s.SetProgress(chat.NewProgressUpdate(id, "working", 0.5))

	seen := map[session.ID]bool{id: true}
	for i := 0; i < 5; i++ {
		next, _ := s.RotateSession()
		require.False(t, seen[next])
		seen[next] = true
	}

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 1)
	require.False(t, snap.Loading)
	require.Empty(t, snap.Error)
	require.Nil(t, snap.Progress)
	require.Equal(t, uint64(5), snap.Epoch)
}

func TestApply_GuardsOnSession(t *testing.T) {
	s := New()
	old := s.Session()
	s.RotateSession()

	applied := s.Apply(old, func(tx *Tx) {
		tx.SetLoading(true)
	})
	require.False(t, applied)
	require.False(t, s.Loading())

	applied = s.Apply(s.Session(), func(tx *Tx) {
		tx.SetLoading(true)
		tx.SetError("x")
	})
	require.True(t, applied)
	require.True(t, s.Loading())
	require.Equal(t, "x", s.LastError())
}

func TestApplyAtEpoch_DiscardsAfterRotation(t *testing.T) {
	s := New()
	_, epoch := s.Current()
	s.RotateSession()

	require.False(t, s.ApplyAtEpoch(epoch, func(tx *Tx) {
		tx.AppendMessage(chat.NewTextMessage(chat.RoleAssistant, "", "late answer"))
	}))
	require.Equal(t, map[chat.Role]int{chat.RoleSystem: 1}, s.Counts())
}

func TestOnChange_SeesWholeTransaction(t *testing.T) {
	s := New()
	var changes []Change
	unsubscribe := s.OnChange(func(c Change) { changes = append(changes, c) })

	s.Apply(s.Session(), func(tx *Tx) {
		tx.SetLoading(false) // already false, no change recorded
		tx.SetLoading(true)
		tx.AppendMessage(chat.NewTextMessage(chat.RoleUser, "", "hi"))
		tx.SetError("x")
	})
	require.Len(t, changes, 3)
	require.Equal(t, ChangeLoading, changes[0].Kind)
	require.Equal(t, ChangeMessageAppended, changes[1].Kind)
	require.Equal(t, ChangeError, changes[2].Kind)
	for _, c := range changes {
		require.True(t, c.Snapshot.Loading)
		require.Len(t, c.Snapshot.Messages, 1)
	}

	unsubscribe()
	s.SetError("after")
	require.Len(t, changes, 3)
}

func TestProjections(t *testing.T) {
	s := New()
	id := s.Session()
	_, ok := s.LastMessage()
	require.False(t, ok)

	s.AppendMessage(chat.NewTextMessage(chat.RoleUser, id, "q1"))
	s.AppendMessage(chat.NewTextMessage(chat.RoleAssistant, id, "a1"))
	s.AppendMessage(chat.NewTextMessage(chat.RoleUser, id, "q2"))
	s.AppendMessage(chat.NewErrorMessage(id, "e1"))

	require.True(t, s.HasMessages())
	users := s.MessagesByRole(chat.RoleUser)
	require.Len(t, users, 2)
	require.Equal(t, "q2", users[1].PlainText())
	require.Equal(t, map[chat.Role]int{chat.RoleUser: 2, chat.RoleAssistant: 1, chat.RoleError: 1}, s.Counts())

	snap := s.Snapshot()
	last, ok := snap.LastMessage()
	require.True(t, ok)
	require.Equal(t, chat.RoleError, last.Role)
	require.Len(t, snap.MessagesByRole(chat.RoleAssistant), 1)
	require.Equal(t, s.Counts(), snap.Counts())

	s.ClearLog()
	require.False(t, s.HasMessages())
	require.Equal(t, id, s.Session())
}

func TestSnapshot_DoesNotAlias(t *testing.T) {
	s := New()
	s.AppendMessage(chat.NewTextMessage(chat.RoleUser, "", "original"))
	snap := s.Snapshot()
	snap.Messages[0].Parts[0] = chat.TextPart("mutated")
	require.Equal(t, "original", s.Messages()[0].PlainText())
}

func TestConcurrentAppends(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.AppendMessage(chat.NewTextMessage(chat.RoleUser, "", "x"))
			}
		}()
	}
	wg.Wait()
	require.Len(t, s.Messages(), 1000)
}

func TestConnectionStateAndPong(t *testing.T) {
	s := New()
	require.Equal(t, chat.StateDisconnected, s.ConnectionState())
	s.SetConnectionState(chat.StateConnecting)
	s.SetConnectionState(chat.StateConnected)
	require.Equal(t, chat.StateConnected, s.ConnectionState())

	at := time.Now()
	s.MarkPong(at)
	require.True(t, at.Equal(s.LastPong()))
}

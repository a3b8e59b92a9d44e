package wschannel

import (
	"time"

	"github.com/go-go-golems/chatsync/pkg/session"
)

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
)

// Event reports a lifecycle change of one connection. Session is the identity the connection
// was opened for; listeners must ignore events for identities they no longer track.
type Event struct {
	Kind    EventKind
	Session session.ID
	Err     error
	At      time.Time
}

type Listener func(Event)

// Package session generates the opaque tokens that correlate all traffic of one conversation.
package session

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// ID identifies one conversation attempt. It is immutable for the lifetime of the session and
// travels as session_id on every outbound frame.
type ID string

// Generate returns a new identity: a millisecond timestamp followed by a random suffix, unique
// with overwhelming probability within the process.
func Generate() ID {
	return ID(strings.ToLower(ulid.Make().String()))
}

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return strings.TrimSpace(string(id)) == "" }

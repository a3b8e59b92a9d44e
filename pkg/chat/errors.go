package chat

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyMessage is returned for blank user input. It never reaches a transport.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotConnected is returned when the duplex channel is asked to send without a live connection.
	ErrNotConnected = errors.New("channel is not connected")
)

// ConnectionError is a handshake or transport failure. It is transient: the same request may
// succeed on a later attempt.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "connection error: " + e.Op
	}
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RemoteError is a well-formed error reported by the agent, either as an error frame or as an
// error response. It is not retried.
type RemoteError struct {
	Message    string
	StatusCode int
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("agent error (%d): %s", e.StatusCode, e.Message)
	}
	return "agent error: " + e.Message
}

// ProtocolError describes an inbound frame that could not be understood.
type ProtocolError struct {
	Tag string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}
	return fmt.Sprintf("protocol error (%s): %v", e.Tag, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return false
	}
	var conn *ConnectionError
	return errors.As(err, &conn)
}

// UserFacing renders err as the text shown in an error message.
func UserFacing(err error) string {
	if err == nil {
		return ""
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	return err.Error()
}

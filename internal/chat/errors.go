package chat

import (
	"errors"
	"fmt"
)

var (
	ErrNoCredential   = errors.New("no authorization token found")
	ErrNotConnected   = errors.New("chat: not connected")
	ErrSendBufferFull = errors.New("chat: send buffer full")
	ErrEmptyMessage   = errors.New("chat: empty message")
)

// ConnectionError covers a missing credential or a transport failure. It is
// surfaced as the manager's error state; the caller may retry by connecting
// again.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("chat %s: %v", e.Op, e.Err) }
func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a malformed or unexpected inbound frame. It never tears
// down the connection.
type ProtocolError struct {
	Event string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("chat protocol: %v", e.Err)
	}
	return fmt.Sprintf("chat protocol: event %q: %v", e.Event, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

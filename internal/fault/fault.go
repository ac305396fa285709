// Package fault defines the structured error taxonomy shared by the pool,
// session, executor, shell, and transfer layers. Every failure surfaced to a
// caller is an *Error carrying a Kind plus the connection name and/or session
// id involved, so the caller can decide whether to retry, reconnect, or give
// up without parsing message text.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// Authentication: the remote host rejected the supplied credentials.
	Authentication Kind = "authentication"
	// Connect: network or handshake failure while establishing a transport.
	Connect Kind = "connect"
	// NotFound: unknown connection name or session id.
	NotFound Kind = "not_found"
	// ConnectionUnavailable: the connection is known but its transport is dead.
	ConnectionUnavailable Kind = "connection_unavailable"
	// SessionBusy: a second concurrent operation on a serialized resource.
	SessionBusy Kind = "session_busy"
	// Timeout: the operation exceeded its deadline. Recoverable; the session
	// and connection remain usable.
	Timeout Kind = "timeout"
	// ChannelClosed: an operation on a shell channel that was already closed.
	ChannelClosed Kind = "channel_closed"
	// ResourceExhausted: a configured pool or session limit was reached.
	ResourceExhausted Kind = "resource_exhausted"
	// IO: local filesystem failure during a file transfer.
	IO Kind = "io"
	// RemoteIO: remote-side filesystem failure during a file transfer.
	RemoteIO Kind = "remote_io"
)

// Error is the structured failure type for all caller-facing operations.
type Error struct {
	Kind       Kind
	Connection string
	SessionID  string
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	switch {
	case e.SessionID != "":
		return fmt.Sprintf("%s: session %s: %s", e.Kind, e.SessionID, msg)
	case e.Connection != "":
		return fmt.Sprintf("%s: connection %s: %s", e.Kind, e.Connection, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithConnection returns a copy annotated with the connection name.
func (e *Error) WithConnection(name string) *Error {
	out := *e
	out.Connection = name
	return &out
}

// WithSession returns a copy annotated with the session id.
func (e *Error) WithSession(id string) *Error {
	out := *e
	out.SessionID = id
	return &out
}

// IsKind reports whether err (or anything it wraps) is a fault of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" if err carries no fault classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Package shell manages interactive shell channels. A shell channel is a
// long-lived remote PTY bound to a session, with buffered asynchronous
// output, as opposed to the one-shot exec channels the executor uses.
package shell

import (
	"log/slog"

	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
	"github.com/treykane/sshmux/internal/pool"
)

// DefaultTerm is the TERM value requested when the caller does not name one.
const DefaultTerm = "xterm"

// Sessions is the slice of the session manager the shell manager uses.
type Sessions interface {
	Context(id string) (model.ContextSnapshot, error)
	AttachShell(id string, ch pool.ShellChannel) error
	Shell(id string) (pool.ShellChannel, error)
	DetachShell(id string)
}

// Connections is the slice of the connection pool the shell manager uses.
type Connections interface {
	ActiveTransport(name string) (pool.Transport, func(), error)
}

// Manager opens and tracks one shell channel per session.
type Manager struct {
	cfg      appconfig.Config
	sessions Sessions
	pool     Connections
}

func NewManager(cfg appconfig.Config, sessions Sessions, conns Connections) *Manager {
	return &Manager{cfg: cfg, sessions: sessions, pool: conns}
}

// Open starts a remote PTY shell and binds it to the session. A session
// holds at most one shell; opening a second fails with SessionBusy.
func (m *Manager) Open(sessionID, term string) error {
	if term == "" {
		term = DefaultTerm
	}
	ctx, err := m.sessions.Context(sessionID)
	if err != nil {
		return err
	}
	tr, done, err := m.pool.ActiveTransport(ctx.Connection)
	if err != nil {
		// The session outlives its connection: a missing pool entry means
		// the bound connection went away, not a bad session reference.
		if fault.IsKind(err, fault.NotFound) {
			return fault.Wrap(fault.ConnectionUnavailable, err, "bound connection is no longer registered").
				WithConnection(ctx.Connection).
				WithSession(sessionID)
		}
		return err
	}
	defer done()

	ch, err := tr.OpenShell(term, m.cfg.ShellBufferLimit)
	if err != nil {
		return err
	}
	if err := m.sessions.AttachShell(sessionID, ch); err != nil {
		// Lost the race (or a shell was already open); don't leak the channel.
		if cerr := ch.Close(); cerr != nil {
			slog.Warn("closing orphaned shell channel failed", "session", sessionID, "error", cerr)
		}
		return err
	}
	slog.Info("shell opened", "session", sessionID, "connection", ctx.Connection, "term", term)
	return nil
}

// Send writes one command line to the session's shell and returns the output
// that accumulated during the settle window. If the channel turns out to be
// closed it is detached from the session before the error is returned.
func (m *Manager) Send(sessionID, command string) (string, error) {
	ch, err := m.sessions.Shell(sessionID)
	if err != nil {
		return "", err
	}
	out, err := ch.Send(command)
	if fault.IsKind(err, fault.ChannelClosed) {
		m.sessions.DetachShell(sessionID)
	}
	return out, err
}

// Drain returns and clears any output buffered since the last read.
func (m *Manager) Drain(sessionID string) (string, error) {
	ch, err := m.sessions.Shell(sessionID)
	if err != nil {
		return "", err
	}
	return ch.Drain()
}

// Close shuts the session's shell channel down and detaches it. The session
// itself stays alive.
func (m *Manager) Close(sessionID string) error {
	ch, err := m.sessions.Shell(sessionID)
	if err != nil {
		return err
	}
	cerr := ch.Close()
	m.sessions.DetachShell(sessionID)
	return cerr
}

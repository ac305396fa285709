// Package exec runs remote commands, either inside a session (with context
// carry-over between commands) or as connection-scoped one-shots.
package exec

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
	"github.com/treykane/sshmux/internal/pool"
	"github.com/treykane/sshmux/internal/session"
)

// Sessions is the slice of the session manager the executor uses.
type Sessions interface {
	Begin(id string) (session.Snapshot, func(), error)
	Record(id string, res model.CommandResult)
	SetWorkingDir(id, dir string)
}

// Connections is the slice of the connection pool the executor uses.
type Connections interface {
	ActiveTransport(name string) (pool.Transport, func(), error)
}

// Executor ties sessions to pooled transports.
type Executor struct {
	cfg      appconfig.Config
	sessions Sessions
	pool     Connections
}

func New(cfg appconfig.Config, sessions Sessions, conns Connections) *Executor {
	return &Executor{cfg: cfg, sessions: sessions, pool: conns}
}

// Execute runs one command in a session. The session admits one command at a
// time; the result is appended to its history whether the command succeeded,
// failed, or timed out. A timed-out command leaves the session usable.
//
// The session's working directory and recorded environment are applied by
// prefixing the remote command, since every execution uses a fresh exec
// channel with no server-side state. `cd` commands are intercepted: they run
// `cd <dir> && pwd` remotely and, on success, update the tracked working
// directory instead of being just another command.
func (e *Executor) Execute(ctx context.Context, sessionID, command string, timeout time.Duration) (model.CommandResult, error) {
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout()
	}

	snap, release, err := e.sessions.Begin(sessionID)
	if err != nil {
		return model.CommandResult{}, err
	}
	defer release()

	tr, done, err := e.pool.ActiveTransport(snap.Connection)
	if err != nil {
		return model.CommandResult{}, orphanFault(err, sessionID, snap.Connection)
	}
	defer done()

	if dir, ok := parseChdir(command); ok {
		return e.chdir(ctx, tr, snap, command, dir, timeout)
	}

	res, err := tr.Exec(ctx, wrapCommand(snap, command), timeout)
	res.SessionID = sessionID
	res.Connection = snap.Connection
	res.Command = command
	e.sessions.Record(sessionID, res)
	return res, err
}

// ExecuteDirect runs a one-shot command against a connection with no session
// context and no history.
func (e *Executor) ExecuteDirect(ctx context.Context, connection, command string, timeout time.Duration) (model.CommandResult, error) {
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout()
	}
	tr, done, err := e.pool.ActiveTransport(connection)
	if err != nil {
		return model.CommandResult{}, err
	}
	defer done()

	res, err := tr.Exec(ctx, command, timeout)
	res.Connection = connection
	res.Command = command
	return res, err
}

// chdir validates the target directory remotely and updates the session's
// tracked working directory from the resolved `pwd` output.
func (e *Executor) chdir(ctx context.Context, tr pool.Transport, snap session.Snapshot, command, dir string, timeout time.Duration) (model.CommandResult, error) {
	probe := fmt.Sprintf("cd %s && pwd", shellQuote(dir))
	if dir == "" {
		probe = "cd && pwd"
	}
	res, err := tr.Exec(ctx, wrapCommand(snap, probe), timeout)
	res.SessionID = snap.ID
	res.Connection = snap.Connection
	res.Command = command
	if err == nil && res.ExitCode == 0 {
		if resolved := strings.TrimSpace(res.Stdout); resolved != "" {
			e.sessions.SetWorkingDir(snap.ID, resolved)
		}
	}
	e.sessions.Record(snap.ID, res)
	return res, err
}

// parseChdir reports whether command is a plain `cd` invocation and returns
// its argument. Compound commands ("cd /tmp && make") are not intercepted.
func parseChdir(command string) (string, bool) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "cd" {
		return "", true
	}
	if !strings.HasPrefix(trimmed, "cd ") {
		return "", false
	}
	arg := strings.TrimSpace(strings.TrimPrefix(trimmed, "cd "))
	if arg == "" || strings.ContainsAny(arg, "&|;><") {
		return "", false
	}
	return arg, true
}

// wrapCommand prefixes the raw command with the session's environment
// exports and working directory.
func wrapCommand(snap session.Snapshot, command string) string {
	var parts []string
	if len(snap.Env) > 0 {
		keys := make([]string, 0, len(snap.Env))
		for k := range snap.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("export %s=%s", k, shellQuote(snap.Env[k])))
		}
	}
	if snap.WorkingDir != "" {
		parts = append(parts, fmt.Sprintf("cd %s", shellQuote(snap.WorkingDir)))
	}
	parts = append(parts, command)
	return strings.Join(parts, " && ")
}

// orphanFault reclassifies a missing pool entry as an unavailable connection.
// A session outlives its connection, so from the session's point of view the
// bound name being unregistered means the connection went away, not that the
// caller asked for something that never existed.
func orphanFault(err error, sessionID, connection string) error {
	if !fault.IsKind(err, fault.NotFound) {
		return err
	}
	return fault.Wrap(fault.ConnectionUnavailable, err, "bound connection is no longer registered").
		WithConnection(connection).
		WithSession(sessionID)
}

// shellQuote single-quotes a value for POSIX shells.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`&|;<>(){}*?[]#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

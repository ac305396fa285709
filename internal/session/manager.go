// Package session manages logical multi-turn sessions. Each session is bound
// to one named connection, keeps an ordered command history and a derived
// context (working directory, environment snapshot), and admits at most one
// command at a time. Sessions are process-lifetime state owned exclusively by
// a Manager; there is no package-level instance.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/events"
	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
	"github.com/treykane/sshmux/internal/pool"
)

// Registry is the slice of the connection pool the session manager needs:
// existence checks at session creation.
type Registry interface {
	Exists(name string) bool
}

type session struct {
	id           string
	name         string
	connection   string
	createdAt    time.Time
	lastActivity time.Time
	history      []model.CommandResult
	workingDir   string
	env          map[string]string
	busy         bool
	shell        pool.ShellChannel // nil unless an interactive shell is open
}

// Manager owns the session table.
type Manager struct {
	mu       sync.Mutex
	cfg      appconfig.Config
	registry Registry
	journal  *events.Store // optional
	sessions map[string]*session

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager creates a session manager and starts its idle-cleanup sweep.
// journal may be nil to disable lifecycle event recording.
func NewManager(cfg appconfig.Config, registry Registry, journal *events.Store) *Manager {
	m := &Manager{
		cfg:      cfg,
		registry: registry,
		journal:  journal,
		sessions: make(map[string]*session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Create registers a new session bound to connection. The connection must be
// registered and live at creation time.
func (m *Manager) Create(name, connection string) (string, error) {
	if !m.registry.Exists(connection) {
		return "", fault.New(fault.NotFound, "no such connection").WithConnection(connection)
	}

	m.mu.Lock()
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return "", fault.New(fault.ResourceExhausted, "session limit reached (%d)", m.cfg.MaxSessions)
	}
	id := uuid.NewString()
	now := time.Now()
	m.sessions[id] = &session{
		id:           id,
		name:         name,
		connection:   connection,
		createdAt:    now,
		lastActivity: now,
		env:          make(map[string]string),
	}
	m.mu.Unlock()

	slog.Info("session created", "id", id, "name", name, "connection", connection)
	m.record(events.Event{EventType: events.TypeSessionCreated, Connection: connection, SessionID: id, Message: name})
	return id, nil
}

// Delete removes a session, closing its shell channel first if one is open.
// Deleting an unknown (or already deleted) id fails with NotFound.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fault.New(fault.NotFound, "no such session").WithSession(id)
	}
	delete(m.sessions, id)
	shell := s.shell
	m.mu.Unlock()

	if shell != nil {
		if err := shell.Close(); err != nil {
			slog.Warn("shell close during session delete failed", "session", id, "error", err)
		}
	}
	m.record(events.Event{EventType: events.TypeSessionDeleted, Connection: s.connection, SessionID: id})
	return nil
}

// List returns read-only summaries of all sessions.
func (m *Manager) List() []model.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, infoOf(s))
	}
	return out
}

// History returns the most recent count entries, newest last. count <= 0
// returns the full history.
func (m *Manager) History(id string, count int) ([]model.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fault.New(fault.NotFound, "no such session").WithSession(id)
	}
	h := s.history
	if count > 0 && count < len(h) {
		h = h[len(h)-count:]
	}
	out := make([]model.CommandResult, len(h))
	copy(out, h)
	return out, nil
}

// Context returns the current derived context snapshot.
func (m *Manager) Context(id string) (model.ContextSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.ContextSnapshot{}, fault.New(fault.NotFound, "no such session").WithSession(id)
	}
	env := make(map[string]string, len(s.env))
	for k, v := range s.env {
		env[k] = v
	}
	return model.ContextSnapshot{
		SessionID:  s.id,
		Connection: s.connection,
		WorkingDir: s.workingDir,
		Env:        env,
	}, nil
}

// Snapshot is what the executor needs to run a command on behalf of a
// session: a stable copy taken while the admission gate is held.
type Snapshot struct {
	ID         string
	Connection string
	WorkingDir string
	Env        map[string]string
}

// Begin admits one command into the session. It fails with SessionBusy if
// another command is in flight — concurrent executes are rejected, never
// queued, so history order always matches real execution order. The caller
// must invoke the returned release function exactly once.
func (m *Manager) Begin(id string) (Snapshot, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Snapshot{}, nil, fault.New(fault.NotFound, "no such session").WithSession(id)
	}
	if s.busy {
		return Snapshot{}, nil, fault.New(fault.SessionBusy, "a command is already in flight").WithSession(id)
	}
	s.busy = true
	env := make(map[string]string, len(s.env))
	for k, v := range s.env {
		env[k] = v
	}
	snap := Snapshot{ID: id, Connection: s.connection, WorkingDir: s.workingDir, Env: env}

	release := func() {
		m.mu.Lock()
		if s, ok := m.sessions[id]; ok {
			s.busy = false
			s.lastActivity = time.Now()
		}
		m.mu.Unlock()
	}
	return snap, release, nil
}

// Record appends a result to the session's history, evicting the oldest
// entry when a history limit is configured.
func (m *Manager) Record(id string, res model.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return
	}
	s.history = append(s.history, res)
	if limit := m.cfg.HistoryLimit; limit > 0 && len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.lastActivity = time.Now()
}

// SetWorkingDir updates the session's tracked working directory.
func (m *Manager) SetWorkingDir(id, dir string) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.workingDir = dir
	}
	m.mu.Unlock()
}

// SetEnv records one environment variable in the session context.
func (m *Manager) SetEnv(id, key, value string) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		s.env[key] = value
	}
	m.mu.Unlock()
}

// AttachShell binds an open shell channel to the session. At most one shell
// per session; a second attach fails with SessionBusy.
func (m *Manager) AttachShell(id string, ch pool.ShellChannel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fault.New(fault.NotFound, "no such session").WithSession(id)
	}
	if s.shell != nil {
		return fault.New(fault.SessionBusy, "shell already open").WithSession(id)
	}
	s.shell = ch
	s.lastActivity = time.Now()
	m.record(events.Event{EventType: events.TypeShellOpened, Connection: s.connection, SessionID: id})
	return nil
}

// Shell returns the session's open shell channel.
func (m *Manager) Shell(id string) (pool.ShellChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fault.New(fault.NotFound, "no such session").WithSession(id)
	}
	if s.shell == nil {
		return nil, fault.New(fault.ChannelClosed, "no open shell").WithSession(id)
	}
	return s.shell, nil
}

// DetachShell unbinds the session's shell channel without closing it; the
// caller owns the close.
func (m *Manager) DetachShell(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		s.shell = nil
		s.lastActivity = time.Now()
	}
	m.mu.Unlock()
	if ok {
		m.record(events.Event{EventType: events.TypeShellClosed, Connection: s.connection, SessionID: id})
	}
}

// Sweep deletes sessions idle past the configured threshold. Their bound
// connections are not affected. Sessions with a command in flight are left
// alone regardless of the clock.
func (m *Manager) Sweep() {
	idleAfter := m.cfg.SessionIdleTimeout()
	if idleAfter <= 0 {
		return
	}
	now := time.Now()

	m.mu.Lock()
	var victims []*session
	for id, s := range m.sessions {
		if s.busy {
			continue
		}
		if now.Sub(s.lastActivity) > idleAfter {
			victims = append(victims, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		if s.shell != nil {
			_ = s.shell.Close()
		}
		slog.Info("session swept", "id", s.id, "name", s.name)
		m.record(events.Event{EventType: events.TypeSessionSwept, Connection: s.connection, SessionID: s.id})
	}
}

func (m *Manager) sweepLoop() {
	defer close(m.done)
	t := time.NewTicker(m.cfg.SweepInterval())
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.Sweep()
		case <-m.stop:
			return
		}
	}
}

// Close stops the sweep loop and discards all sessions, closing any open
// shell channels.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range sessions {
		if s.shell != nil {
			_ = s.shell.Close()
		}
	}
}

func (m *Manager) record(evt events.Event) {
	if m.journal == nil {
		return
	}
	if err := m.journal.Append(evt); err != nil {
		slog.Warn("failed to record lifecycle event", "type", evt.EventType, "error", err)
	}
}

func infoOf(s *session) model.SessionInfo {
	return model.SessionInfo{
		ID:           s.id,
		Name:         s.name,
		Connection:   s.connection,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Commands:     len(s.history),
		WorkingDir:   s.workingDir,
		ShellOpen:    s.shell != nil,
	}
}

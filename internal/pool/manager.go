// Package pool maintains the registry of named SSH connections: opening,
// probing, reusing, and sweeping transports. It is the single owner of
// transport lifecycle; sessions and one-shot operations borrow transports
// through ActiveTransport and must release them when done.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/events"
	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
	"github.com/treykane/sshmux/internal/util"
)

type entry struct {
	spec         model.ConnectionSpec
	transport    Transport
	state        model.ConnectionState
	lastActivity time.Time
	inFlight     int // operations currently borrowing the transport
}

// Manager is the connection pool / registry. All state is process-lifetime;
// construct with NewManager and release with Close. There is no package-level
// instance.
type Manager struct {
	mu      sync.Mutex
	cfg     appconfig.Config
	dialer  Dialer
	journal *events.Store // optional
	entries map[string]*entry

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewManager creates a connection pool and starts its background sweep.
// journal may be nil to disable lifecycle event recording.
func NewManager(cfg appconfig.Config, dialer Dialer, journal *events.Store) *Manager {
	m := &Manager{
		cfg:     cfg,
		dialer:  dialer,
		journal: journal,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Connect registers and opens the named connection. Calling Connect for a
// name that is already active is idempotent and does not open a second
// transport. A dead entry under the same name is replaced.
func (m *Manager) Connect(ctx context.Context, spec model.ConnectionSpec) (model.ConnectionInfo, error) {
	if spec.Name == "" {
		return model.ConnectionInfo{}, fault.New(fault.Connect, "connection name is required")
	}
	if spec.Port != 0 {
		if err := util.ValidatePort(spec.Port); err != nil {
			return model.ConnectionInfo{}, fault.Wrap(fault.Connect, err, "invalid port").WithConnection(spec.Name)
		}
	}
	if spec.ConnectTimeout == 0 {
		spec.ConnectTimeout = m.cfg.ConnectTimeout()
	}

	m.mu.Lock()
	if e, ok := m.entries[spec.Name]; ok {
		switch e.state {
		case model.StateActive, model.StateIdle:
			info := infoOf(spec.Name, e)
			m.mu.Unlock()
			return info, nil
		case model.StateConnecting:
			m.mu.Unlock()
			return model.ConnectionInfo{}, fault.New(fault.Connect, "connect already in progress").WithConnection(spec.Name)
		default: // dead: replace below
			if e.transport != nil {
				_ = e.transport.Close()
			}
			delete(m.entries, spec.Name)
		}
	}
	if len(m.entries) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		return model.ConnectionInfo{}, fault.New(fault.ResourceExhausted,
			"connection limit reached (%d)", m.cfg.MaxConnections).WithConnection(spec.Name)
	}
	// Reserve the name and the slot before releasing the lock for the dial.
	e := &entry{spec: spec, state: model.StateConnecting, lastActivity: time.Now()}
	m.entries[spec.Name] = e
	m.mu.Unlock()

	tr, err := m.dialer.Dial(ctx, spec)

	m.mu.Lock()
	cur, registered := m.entries[spec.Name]
	if err != nil {
		if registered && cur == e {
			delete(m.entries, spec.Name)
		}
		m.mu.Unlock()
		m.record(events.Event{EventType: events.TypeConnectFailed, Connection: spec.Name, Message: err.Error()})
		if fault.KindOf(err) != "" {
			return model.ConnectionInfo{}, err
		}
		return model.ConnectionInfo{}, fault.Wrap(fault.Connect, err, "dial %s", spec.Addr()).WithConnection(spec.Name)
	}
	if !registered || cur != e {
		// A Disconnect raced the dial and removed the reservation. The
		// transport we just opened has no home, so close it here.
		m.mu.Unlock()
		if cerr := tr.Close(); cerr != nil {
			slog.Warn("transport close failed", "name", spec.Name, "error", cerr)
		}
		m.record(events.Event{EventType: events.TypeConnectFailed, Connection: spec.Name, Message: "removed while connecting"})
		return model.ConnectionInfo{}, fault.New(fault.Connect, "connection removed while connecting").WithConnection(spec.Name)
	}
	e.transport = tr
	e.state = model.StateActive
	e.lastActivity = time.Now()
	info := infoOf(spec.Name, e)
	m.mu.Unlock()

	slog.Info("connection established", "name", spec.Name, "target", spec.Target())
	m.record(events.Event{EventType: events.TypeConnected, Connection: spec.Name, Message: spec.Target()})
	return info, nil
}

// Disconnect closes the transport and removes the entry. Sessions still bound
// to the name are orphaned; their next operation fails with
// ConnectionUnavailable rather than reconnecting implicitly.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return fault.New(fault.NotFound, "no such connection").WithConnection(name)
	}
	delete(m.entries, name)
	m.mu.Unlock()

	if e.transport != nil {
		if err := e.transport.Close(); err != nil {
			slog.Warn("transport close failed", "name", name, "error", err)
		}
	}
	m.record(events.Event{EventType: events.TypeDisconnected, Connection: name})
	return nil
}

// List returns a read-only snapshot of the registry. It never touches the
// network.
func (m *Manager) List() []model.ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ConnectionInfo, 0, len(m.entries))
	for name, e := range m.entries {
		out = append(out, infoOf(name, e))
	}
	return out
}

// Exists reports whether name is registered with a live (non-dead) transport.
func (m *Manager) Exists(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	return ok && e.state != model.StateDead
}

// ActiveTransport borrows the named connection's transport after a liveness
// probe. The caller must invoke the returned release function when its
// operation completes; the background sweep will not remove an entry that has
// outstanding borrows. A failed probe marks the entry dead — it is never
// reconnected implicitly.
func (m *Manager) ActiveTransport(name string) (Transport, func(), error) {
	m.mu.Lock()
	e, ok := m.entries[name]
	if !ok {
		m.mu.Unlock()
		return nil, nil, fault.New(fault.NotFound, "no such connection").WithConnection(name)
	}
	if e.state == model.StateDead || e.transport == nil {
		m.mu.Unlock()
		return nil, nil, fault.New(fault.ConnectionUnavailable, "transport is dead").WithConnection(name)
	}
	tr := e.transport
	m.mu.Unlock()

	if err := tr.Probe(); err != nil {
		m.markDead(name, err)
		return nil, nil, fault.Wrap(fault.ConnectionUnavailable, err, "liveness probe failed").WithConnection(name)
	}

	m.mu.Lock()
	// Re-check: a sweep or disconnect may have raced the probe.
	e, ok = m.entries[name]
	if !ok || e.transport != tr || e.state == model.StateDead {
		m.mu.Unlock()
		return nil, nil, fault.New(fault.ConnectionUnavailable, "transport is dead").WithConnection(name)
	}
	e.inFlight++
	e.state = model.StateActive
	e.lastActivity = time.Now()
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		if e, ok := m.entries[name]; ok {
			if e.inFlight > 0 {
				e.inFlight--
			}
			e.lastActivity = time.Now()
		}
		m.mu.Unlock()
	}
	return tr, release, nil
}

// Touch refreshes the named connection's last-activity timestamp.
func (m *Manager) Touch(name string) {
	m.mu.Lock()
	if e, ok := m.entries[name]; ok {
		e.lastActivity = time.Now()
	}
	m.mu.Unlock()
}

func (m *Manager) markDead(name string, cause error) {
	m.mu.Lock()
	e, ok := m.entries[name]
	if ok && e.state != model.StateDead {
		e.state = model.StateDead
	}
	m.mu.Unlock()
	if ok {
		slog.Warn("connection marked dead", "name", name, "error", cause)
		m.record(events.Event{EventType: events.TypeConnectionLost, Connection: name, Message: cause.Error()})
	}
}

// Sweep runs one cleanup pass: dead entries and idle entries are closed and
// removed, and quiet-but-live entries get a keepalive probe. Probe failures
// are absorbed here — they mark the entry dead for the next pass instead of
// surfacing an error.
func (m *Manager) Sweep() {
	now := time.Now()
	idleAfter := m.cfg.ConnectionIdleTimeout()
	keepaliveAfter := m.cfg.KeepaliveInterval()

	type victim struct {
		name string
		e    *entry
		why  string
	}
	var victims []victim
	var probes []string

	m.mu.Lock()
	for name, e := range m.entries {
		if e.inFlight > 0 || e.state == model.StateConnecting {
			continue
		}
		switch {
		case e.state == model.StateDead:
			victims = append(victims, victim{name, e, "dead transport"})
			delete(m.entries, name)
		case idleAfter > 0 && now.Sub(e.lastActivity) > idleAfter && openChannels(e) == 0:
			// An open shell channel holds no borrow but still counts as
			// in-use, so such entries age into the keepalive branch instead.
			victims = append(victims, victim{name, e, "idle timeout"})
			delete(m.entries, name)
		case now.Sub(e.lastActivity) > keepaliveAfter:
			e.state = model.StateIdle
			probes = append(probes, name)
		}
	}
	m.mu.Unlock()

	for _, v := range victims {
		if v.e.transport != nil {
			_ = v.e.transport.Close()
		}
		slog.Info("connection swept", "name", v.name, "reason", v.why)
		m.record(events.Event{EventType: events.TypeConnectionSwept, Connection: v.name, Message: v.why})
	}

	for _, name := range probes {
		m.mu.Lock()
		e, ok := m.entries[name]
		var tr Transport
		if ok && e.inFlight == 0 && e.state != model.StateDead {
			tr = e.transport
		}
		m.mu.Unlock()
		if tr == nil {
			continue
		}
		if err := tr.Keepalive(); err != nil {
			m.markDead(name, err)
		}
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

// Close stops the sweep loop and closes every transport.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done

	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for name, e := range entries {
		if e.transport != nil {
			if err := e.transport.Close(); err != nil {
				slog.Warn("transport close failed", "name", name, "error", err)
			}
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

func openChannels(e *entry) int {
	if e.transport == nil {
		return 0
	}
	return e.transport.Channels()
}

func infoOf(name string, e *entry) model.ConnectionInfo {
	port := e.spec.Port
	if port == 0 {
		port = util.DefaultSSHPort
	}
	info := model.ConnectionInfo{
		Name:         name,
		Host:         e.spec.Host,
		Port:         port,
		Username:     e.spec.Username,
		State:        e.state,
		LastActivity: e.lastActivity,
	}
	if e.transport != nil {
		info.Channels = e.transport.Channels()
	}
	return info
}

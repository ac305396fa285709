// Pool tests use fake Dialer/Transport implementations so no network or SSH
// server is required. State isolation: XDG_CONFIG_HOME is pointed at a temp
// dir whenever a journal is involved.
package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
)

type fakeTransport struct {
	probeErr     error
	keepaliveErr error
	closed       bool
	channels     int
	execResult   model.CommandResult
	execErr      error
}

func (f *fakeTransport) Exec(ctx context.Context, command string, timeout time.Duration) (model.CommandResult, error) {
	r := f.execResult
	r.Command = command
	return r, f.execErr
}

func (f *fakeTransport) OpenShell(term string, bufferLimit int) (ShellChannel, error) {
	return nil, errors.New("no shell in fake")
}

func (f *fakeTransport) Upload(localPath, remotePath string) (int64, error)   { return 0, nil }
func (f *fakeTransport) Download(remotePath, localPath string) (int64, error) { return 0, nil }
func (f *fakeTransport) ListDir(path string) ([]model.FileEntry, error)       { return nil, nil }
func (f *fakeTransport) Probe() error                                         { return f.probeErr }
func (f *fakeTransport) Keepalive() error                                     { return f.keepaliveErr }
func (f *fakeTransport) Channels() int                                        { return f.channels }
func (f *fakeTransport) Close() error                                         { f.closed = true; return nil }

type fakeDialer struct {
	err   error
	dials int
	last  *fakeTransport
}

func (f *fakeDialer) Dial(ctx context.Context, spec model.ConnectionSpec) (Transport, error) {
	f.dials++
	if f.err != nil {
		return nil, f.err
	}
	f.last = &fakeTransport{}
	return f.last, nil
}

// gatedDialer blocks inside Dial until the gate is closed, so tests can
// interleave registry operations with an in-flight dial.
type gatedDialer struct {
	fakeDialer
	gate chan struct{}
}

func (g *gatedDialer) Dial(ctx context.Context, spec model.ConnectionSpec) (Transport, error) {
	<-g.gate
	return g.fakeDialer.Dial(ctx, spec)
}

func testConfig() appconfig.Config {
	cfg := appconfig.Default()
	cfg.MaxConnections = 2
	return cfg
}

func spec(name string) model.ConnectionSpec {
	return model.ConnectionSpec{Name: name, Host: "10.0.0.1", Username: "ops", Password: "pw"}
}

func TestConnectThenDisconnectLeavesNoEntry(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testConfig(), d, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background(), spec("web1")); err != nil {
		t.Fatal(err)
	}
	if err := m.Disconnect("web1"); err != nil {
		t.Fatal(err)
	}
	if len(m.List()) != 0 {
		t.Fatalf("expected empty registry, got %d entries", len(m.List()))
	}
	if !d.last.closed {
		t.Fatal("expected transport to be closed on disconnect")
	}
}

func TestConnectIsIdempotentWhileActive(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testConfig(), d, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background(), spec("web1")); err != nil {
		t.Fatal(err)
	}
	info, err := m.Connect(context.Background(), spec("web1"))
	if err != nil {
		t.Fatal(err)
	}
	if d.dials != 1 {
		t.Fatalf("expected 1 dial, got %d", d.dials)
	}
	if info.State != model.StateActive {
		t.Fatalf("expected active, got %s", info.State)
	}
}

func TestConnectReplacesDeadEntry(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testConfig(), d, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background(), spec("web1")); err != nil {
		t.Fatal(err)
	}
	first := d.last
	m.markDead("web1", errors.New("broken pipe"))

	if _, err := m.Connect(context.Background(), spec("web1")); err != nil {
		t.Fatal(err)
	}
	if d.dials != 2 {
		t.Fatalf("expected replacement dial, got %d dials", d.dials)
	}
	if !first.closed {
		t.Fatal("expected dead transport to be closed on replacement")
	}
}

func TestConnectEnforcesLimit(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testConfig(), d, nil) // MaxConnections = 2
	defer m.Close()

	ctx := context.Background()
	for _, n := range []string{"a", "b"} {
		if _, err := m.Connect(ctx, spec(n)); err != nil {
			t.Fatal(err)
		}
	}
	_, err := m.Connect(ctx, spec("c"))
	if !fault.IsKind(err, fault.ResourceExhausted) {
		t.Fatalf("expected ResourceExhausted, got %v", err)
	}
	// Existing connections are unaffected.
	if len(m.List()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m.List()))
	}
}

func TestConnectClassifiesDialFailure(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	m := NewManager(testConfig(), d, nil)
	defer m.Close()

	_, err := m.Connect(context.Background(), spec("web1"))
	if !fault.IsKind(err, fault.Connect) {
		t.Fatalf("expected Connect fault, got %v", err)
	}
	// The reserved slot must have been released.
	if len(m.List()) != 0 {
		t.Fatal("expected failed connect to leave no entry")
	}
}

func TestDisconnectUnknownIsNotFound(t *testing.T) {
	m := NewManager(testConfig(), &fakeDialer{}, nil)
	defer m.Close()

	err := m.Disconnect("ghost")
	if !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestActiveTransportProbeFailureMarksDead(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(testConfig(), d, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background(), spec("web1")); err != nil {
		t.Fatal(err)
	}
	d.last.probeErr = errors.New("EOF")

	_, _, err := m.ActiveTransport("web1")
	if !fault.IsKind(err, fault.ConnectionUnavailable) {
		t.Fatalf("expected ConnectionUnavailable, got %v", err)
	}
	infos := m.List()
	if len(infos) != 1 || infos[0].State != model.StateDead {
		t.Fatalf("expected dead entry to remain listed, got %+v", infos)
	}
	// No implicit reconnect happened.
	if d.dials != 1 {
		t.Fatalf("expected no re-dial, got %d dials", d.dials)
	}
}

func TestSweepRemovesIdleAndDead(t *testing.T) {
	d := &fakeDialer{}
	cfg := testConfig()
	m := NewManager(cfg, d, nil)
	defer m.Close()

	ctx := context.Background()
	if _, err := m.Connect(ctx, spec("stale")); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Connect(ctx, spec("fresh")); err != nil {
		t.Fatal(err)
	}
	m.markDead("fresh", errors.New("probe failed"))

	m.mu.Lock()
	m.entries["stale"].lastActivity = time.Now().Add(-2 * cfg.ConnectionIdleTimeout())
	m.mu.Unlock()

	m.Sweep()

	if len(m.List()) != 0 {
		t.Fatalf("expected both entries swept, got %+v", m.List())
	}
}

func TestSweepSkipsBorrowedEntry(t *testing.T) {
	d := &fakeDialer{}
	cfg := testConfig()
	m := NewManager(cfg, d, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background(), spec("busy")); err != nil {
		t.Fatal(err)
	}
	_, release, err := m.ActiveTransport("busy")
	if err != nil {
		t.Fatal(err)
	}

	// Entry looks idle on the clock, but an operation is in flight.
	m.mu.Lock()
	m.entries["busy"].lastActivity = time.Now().Add(-2 * cfg.ConnectionIdleTimeout())
	m.mu.Unlock()

	m.Sweep()
	if len(m.List()) != 1 {
		t.Fatal("expected borrowed entry to survive the sweep")
	}

	release()
	// After release the activity clock was refreshed, so it survives again.
	m.Sweep()
	if len(m.List()) != 1 {
		t.Fatal("expected released entry with fresh activity to survive")
	}
}

func TestConnectWhileConnectingIsConnectFault(t *testing.T) {
	d := &gatedDialer{gate: make(chan struct{})}
	m := NewManager(testConfig(), d, nil)
	defer m.Close()

	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), spec("web1"))
		done <- err
	}()
	waitForEntry(t, m, "web1")

	_, err := m.Connect(context.Background(), spec("web1"))
	if !fault.IsKind(err, fault.Connect) {
		t.Fatalf("expected Connect fault for in-flight dial, got %v", err)
	}

	close(d.gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestDisconnectDuringDialClosesNewTransport(t *testing.T) {
	d := &gatedDialer{gate: make(chan struct{})}
	m := NewManager(testConfig(), d, nil)
	defer m.Close()

	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), spec("web1"))
		done <- err
	}()
	waitForEntry(t, m, "web1")

	if err := m.Disconnect("web1"); err != nil {
		t.Fatal(err)
	}
	close(d.gate)

	err := <-done
	if !fault.IsKind(err, fault.Connect) {
		t.Fatalf("expected Connect fault after disconnect won the race, got %v", err)
	}
	if len(m.List()) != 0 {
		t.Fatalf("expected empty registry, got %+v", m.List())
	}
	if !d.last.closed {
		t.Fatal("expected the orphaned transport to be closed")
	}
}

func waitForEntry(t *testing.T, m *Manager, name string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !m.Exists(name) {
		if time.Now().After(deadline) {
			t.Fatalf("entry %q never appeared", name)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSweepSparesEntryWithOpenShellChannel(t *testing.T) {
	d := &fakeDialer{}
	cfg := testConfig()
	m := NewManager(cfg, d, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background(), spec("attached")); err != nil {
		t.Fatal(err)
	}
	// No borrow is held while a shell sits attached, only an open channel.
	d.last.channels = 1

	m.mu.Lock()
	m.entries["attached"].lastActivity = time.Now().Add(-2 * cfg.ConnectionIdleTimeout())
	m.mu.Unlock()

	m.Sweep()
	if len(m.List()) != 1 {
		t.Fatal("expected entry with an open shell channel to survive the sweep")
	}
	if d.last.closed {
		t.Fatal("expected transport with an open shell channel to stay open")
	}

	// Once the shell is gone the idle timeout applies again.
	d.last.channels = 0
	m.mu.Lock()
	m.entries["attached"].lastActivity = time.Now().Add(-2 * cfg.ConnectionIdleTimeout())
	m.mu.Unlock()

	m.Sweep()
	if len(m.List()) != 0 {
		t.Fatalf("expected idle entry swept after shell closed, got %+v", m.List())
	}
	if !d.last.closed {
		t.Fatal("expected swept transport to be closed")
	}
}

func TestSweepKeepaliveFailureMarksDead(t *testing.T) {
	d := &fakeDialer{}
	cfg := testConfig()
	m := NewManager(cfg, d, nil)
	defer m.Close()

	if _, err := m.Connect(context.Background(), spec("quiet")); err != nil {
		t.Fatal(err)
	}
	d.last.keepaliveErr = errors.New("broken pipe")

	m.mu.Lock()
	m.entries["quiet"].lastActivity = time.Now().Add(-2 * cfg.KeepaliveInterval())
	m.mu.Unlock()

	m.Sweep()

	infos := m.List()
	if len(infos) != 1 || infos[0].State != model.StateDead {
		t.Fatalf("expected entry marked dead after failed keepalive, got %+v", infos)
	}
}

package shell

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
	"github.com/treykane/sshmux/internal/pool"
)

type fakeChannel struct {
	sent    []string
	sendOut string
	sendErr error
	drained string
	closed  int
}

func (c *fakeChannel) Send(command string) (string, error) {
	c.sent = append(c.sent, command)
	return c.sendOut, c.sendErr
}
func (c *fakeChannel) Drain() (string, error) { return c.drained, nil }
func (c *fakeChannel) Close() error           { c.closed++; return nil }

type fakeSessions struct {
	connection string
	ctxErr     error
	attached   pool.ShellChannel
	attachErr  error
	detached   int
}

func (s *fakeSessions) Context(id string) (model.ContextSnapshot, error) {
	if s.ctxErr != nil {
		return model.ContextSnapshot{}, s.ctxErr
	}
	return model.ContextSnapshot{SessionID: id, Connection: s.connection}, nil
}

func (s *fakeSessions) AttachShell(id string, ch pool.ShellChannel) error {
	if s.attachErr != nil {
		return s.attachErr
	}
	s.attached = ch
	return nil
}

func (s *fakeSessions) Shell(id string) (pool.ShellChannel, error) {
	if s.attached == nil {
		return nil, fault.New(fault.ChannelClosed, "no open shell").WithSession(id)
	}
	return s.attached, nil
}

func (s *fakeSessions) DetachShell(id string) {
	s.attached = nil
	s.detached++
}

type shellTransport struct {
	gotTerm   string
	gotLimit  int
	channel   *fakeChannel
	openErr   error
}

func (t *shellTransport) OpenShell(term string, limit int) (pool.ShellChannel, error) {
	t.gotTerm = term
	t.gotLimit = limit
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.channel, nil
}

func (t *shellTransport) Exec(context.Context, string, time.Duration) (model.CommandResult, error) {
	return model.CommandResult{}, errors.New("not implemented")
}
func (t *shellTransport) Upload(string, string) (int64, error)      { return 0, nil }
func (t *shellTransport) Download(string, string) (int64, error)    { return 0, nil }
func (t *shellTransport) ListDir(string) ([]model.FileEntry, error) { return nil, nil }
func (t *shellTransport) Probe() error                              { return nil }
func (t *shellTransport) Keepalive() error                          { return nil }
func (t *shellTransport) Channels() int                             { return 0 }
func (t *shellTransport) Close() error                              { return nil }

type fakeConns struct {
	tr  pool.Transport
	err error
}

func (c *fakeConns) ActiveTransport(string) (pool.Transport, func(), error) {
	if c.err != nil {
		return nil, nil, c.err
	}
	return c.tr, func() {}, nil
}

func TestOpenBindsChannelToSession(t *testing.T) {
	ch := &fakeChannel{}
	tr := &shellTransport{channel: ch}
	sessions := &fakeSessions{connection: "web"}
	m := NewManager(appconfig.Default(), sessions, &fakeConns{tr: tr})

	if err := m.Open("s1", ""); err != nil {
		t.Fatal(err)
	}
	if tr.gotTerm != DefaultTerm {
		t.Fatalf("term = %q, want %q", tr.gotTerm, DefaultTerm)
	}
	if tr.gotLimit != appconfig.Default().ShellBufferLimit {
		t.Fatalf("buffer limit = %d", tr.gotLimit)
	}
	if sessions.attached != pool.ShellChannel(ch) {
		t.Fatal("channel not attached to session")
	}
}

func TestOpenClosesChannelWhenAttachLoses(t *testing.T) {
	ch := &fakeChannel{}
	tr := &shellTransport{channel: ch}
	sessions := &fakeSessions{
		connection: "web",
		attachErr:  fault.New(fault.SessionBusy, "shell already open"),
	}
	m := NewManager(appconfig.Default(), sessions, &fakeConns{tr: tr})

	err := m.Open("s1", "vt100")
	if !fault.IsKind(err, fault.SessionBusy) {
		t.Fatalf("expected SessionBusy, got %v", err)
	}
	if ch.closed != 1 {
		t.Fatalf("orphaned channel closed %d times, want 1", ch.closed)
	}
}

func TestOpenPropagatesDeadConnection(t *testing.T) {
	sessions := &fakeSessions{connection: "web"}
	conns := &fakeConns{err: fault.New(fault.ConnectionUnavailable, "transport is dead")}
	m := NewManager(appconfig.Default(), sessions, conns)

	if err := m.Open("s1", ""); !fault.IsKind(err, fault.ConnectionUnavailable) {
		t.Fatalf("expected ConnectionUnavailable, got %v", err)
	}
}

func TestOpenOrphanedSessionIsConnectionUnavailable(t *testing.T) {
	// The bound connection was disconnected out from under the session; the
	// pool's lookup miss must surface as an unavailable connection.
	sessions := &fakeSessions{connection: "web"}
	conns := &fakeConns{err: fault.New(fault.NotFound, "no such connection").WithConnection("web")}
	m := NewManager(appconfig.Default(), sessions, conns)

	err := m.Open("s1", "")
	if !fault.IsKind(err, fault.ConnectionUnavailable) {
		t.Fatalf("expected ConnectionUnavailable, got %v", err)
	}
	if fault.IsKind(err, fault.NotFound) {
		t.Fatalf("NotFound must not leak through: %v", err)
	}
}

func TestSendDetachesClosedChannel(t *testing.T) {
	ch := &fakeChannel{sendErr: fault.New(fault.ChannelClosed, "shell channel is closed")}
	sessions := &fakeSessions{connection: "web", attached: ch}
	m := NewManager(appconfig.Default(), sessions, &fakeConns{})

	_, err := m.Send("s1", "ls")
	if !fault.IsKind(err, fault.ChannelClosed) {
		t.Fatalf("expected ChannelClosed, got %v", err)
	}
	if sessions.detached != 1 {
		t.Fatal("dead channel must be detached from the session")
	}
}

func TestSendAndDrainRoundTrip(t *testing.T) {
	ch := &fakeChannel{sendOut: "$ ls\nREADME.md\n", drained: "leftover"}
	sessions := &fakeSessions{connection: "web", attached: ch}
	m := NewManager(appconfig.Default(), sessions, &fakeConns{})

	out, err := m.Send("s1", "ls")
	if err != nil || out != "$ ls\nREADME.md\n" {
		t.Fatalf("send = (%q, %v)", out, err)
	}
	if len(ch.sent) != 1 || ch.sent[0] != "ls" {
		t.Fatalf("sent = %v", ch.sent)
	}

	buf, err := m.Drain("s1")
	if err != nil || buf != "leftover" {
		t.Fatalf("drain = (%q, %v)", buf, err)
	}
}

func TestCloseDetachesAndCloses(t *testing.T) {
	ch := &fakeChannel{}
	sessions := &fakeSessions{connection: "web", attached: ch}
	m := NewManager(appconfig.Default(), sessions, &fakeConns{})

	if err := m.Close("s1"); err != nil {
		t.Fatal(err)
	}
	if ch.closed != 1 || sessions.detached != 1 {
		t.Fatalf("closed=%d detached=%d, want 1/1", ch.closed, sessions.detached)
	}

	if _, err := m.Send("s1", "ls"); !fault.IsKind(err, fault.ChannelClosed) {
		t.Fatalf("send after close: expected ChannelClosed, got %v", err)
	}
}

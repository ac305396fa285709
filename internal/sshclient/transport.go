// Package sshclient implements the SSH transport layer: one Transport per
// remote host, multiplexing exec, shell, and SFTP channels over a single
// authenticated connection via golang.org/x/crypto/ssh.
//
// Channel creation is serialized per transport (chanMu); data moving through
// channels that are already open proceeds concurrently. The pool package owns
// transport lifecycle — nothing here reconnects on its own.
package sshclient

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
	"github.com/treykane/sshmux/internal/pool"
	"github.com/treykane/sshmux/internal/util"
	"golang.org/x/crypto/ssh"
)

// Dialer opens transports for the connection pool.
type Dialer struct {
	insecureSkipHostKey bool
}

// NewDialer creates the production dialer. insecureSkipHostKey disables
// known_hosts verification; it exists for lab and test environments only.
func NewDialer(insecureSkipHostKey bool) *Dialer {
	return &Dialer{insecureSkipHostKey: insecureSkipHostKey}
}

// Dial establishes and authenticates one SSH transport. Connection and
// handshake are bounded by spec.ConnectTimeout and ctx.
func (d *Dialer) Dial(ctx context.Context, spec model.ConnectionSpec) (pool.Transport, error) {
	auth, err := buildAuthMethods(spec)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(d.insecureSkipHostKey)
	if err != nil {
		return nil, fault.Wrap(fault.Connect, err, "host key policy")
	}

	cfg := &ssh.ClientConfig{
		User:            spec.Username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         spec.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: spec.ConnectTimeout}
	if spec.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.ConnectTimeout)
		defer cancel()
	}
	conn, err := dialer.DialContext(ctx, "tcp", spec.Addr())
	if err != nil {
		return nil, fault.Wrap(fault.Connect, err, "dial %s", spec.Addr())
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, spec.Addr(), cfg)
	if err != nil {
		conn.Close()
		return nil, classifyHandshakeErr(err, spec.Addr())
	}

	return &Transport{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

// classifyHandshakeErr distinguishes credential rejection from network and
// protocol failures.
func classifyHandshakeErr(err error, addr string) error {
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied") {
		return fault.Wrap(fault.Authentication, err, "authentication rejected by %s", addr)
	}
	return fault.Wrap(fault.Connect, err, "handshake with %s", addr)
}

// Transport is one live SSH connection. Implements pool.Transport.
type Transport struct {
	client *ssh.Client

	chanMu   sync.Mutex // serializes channel creation
	channels atomic.Int32
	files    *sftp.Client // lazily opened, shared by transfer ops

	closeOnce sync.Once
	closeErr  error
}

// newSession opens an ssh session channel under the creation lock.
func (t *Transport) newSession() (*ssh.Session, error) {
	t.chanMu.Lock()
	defer t.chanMu.Unlock()
	return t.client.NewSession()
}

// lockedBuffer is a bytes.Buffer safe for one writer and one racing reader.
// Needed because a timed-out Exec reads partial output while the remote side
// may still be flushing.
type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// Exec runs one command on a fresh exec channel and captures stdout, stderr,
// exit code, and timing. On timeout the channel is actively torn down (the
// remote process receives a kill) and the partial result is returned with a
// Timeout-classified error; the transport itself remains usable.
func (t *Transport) Exec(ctx context.Context, command string, timeout time.Duration) (model.CommandResult, error) {
	res := model.CommandResult{Command: command, Timestamp: time.Now()}

	sess, err := t.newSession()
	if err != nil {
		return res, fault.Wrap(fault.ConnectionUnavailable, err, "open exec channel")
	}
	t.channels.Add(1)
	defer t.channels.Add(-1)
	defer sess.Close()

	var stdout, stderr lockedBuffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		t.abort(sess, done)
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		res.ExitCode = -1
		res.TimedOut = true
		res.Duration = time.Since(start)
		return res, fault.Wrap(fault.Timeout, ctx.Err(), "command cancelled after %s", res.Duration.Round(time.Millisecond))
	case <-deadline:
		t.abort(sess, done)
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		res.ExitCode = -1
		res.TimedOut = true
		res.Duration = time.Since(start)
		return res, fault.New(fault.Timeout, "command exceeded %s", timeout)
	}

	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if runErr != nil {
		var exitErr *ssh.ExitError
		var missing *ssh.ExitMissingError
		switch {
		case errors.As(runErr, &exitErr):
			res.ExitCode = exitErr.ExitStatus()
		case errors.As(runErr, &missing):
			res.ExitCode = -1
		default:
			return res, fault.Wrap(fault.ConnectionUnavailable, runErr, "exec channel failure")
		}
	}
	return res, nil
}

// abort kills the remote process and closes the channel, then waits briefly
// for the run goroutine to unwind so partial output reads are stable.
func (t *Transport) abort(sess *ssh.Session, done <-chan error) {
	_ = sess.Signal(ssh.SIGKILL)
	_ = sess.Close()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
	}
}

// Probe verifies the transport can still open channels. A probe failure means
// the transport is dead; the caller decides what to do about it.
func (t *Transport) Probe() error {
	sess, err := t.newSession()
	if err != nil {
		return err
	}
	return sess.Close()
}

// Keepalive forces a cheap remote round trip.
func (t *Transport) Keepalive() error {
	ctx, cancel := context.WithTimeout(context.Background(), util.KeepaliveProbeTimeout)
	defer cancel()
	_, err := t.Exec(ctx, `echo keepalive`, util.KeepaliveProbeTimeout)
	return err
}

// Channels reports currently open channels on this transport.
func (t *Transport) Channels() int {
	return int(t.channels.Load())
}

// Close tears down the transport and every channel derived from it.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.chanMu.Lock()
		if t.files != nil {
			_ = t.files.Close()
			t.files = nil
		}
		t.chanMu.Unlock()
		t.closeErr = t.client.Close()
	})
	return t.closeErr
}

package sshclient

import (
	"io"
	"sync"
	"time"

	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/pool"
	"github.com/treykane/sshmux/internal/util"
	"golang.org/x/crypto/ssh"
)

// OpenShell allocates a PTY-backed interactive shell channel. Output is
// captured raw — no terminal-control-sequence interpretation — into a
// buffer bounded by bufferLimit; once the bound is hit the oldest bytes are
// discarded so a non-draining caller cannot grow memory without limit.
func (t *Transport) OpenShell(term string, bufferLimit int) (pool.ShellChannel, error) {
	sess, err := t.newSession()
	if err != nil {
		return nil, fault.Wrap(fault.ConnectionUnavailable, err, "open shell channel")
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if term == "" {
		term = "xterm"
	}
	if err := sess.RequestPty(term, 40, 120, modes); err != nil {
		sess.Close()
		return nil, fault.Wrap(fault.Connect, err, "request pty")
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fault.Wrap(fault.Connect, err, "shell stdin pipe")
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fault.Wrap(fault.Connect, err, "shell stdout pipe")
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return nil, fault.Wrap(fault.Connect, err, "shell stderr pipe")
	}

	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fault.Wrap(fault.Connect, err, "start shell")
	}

	t.channels.Add(1)
	ch := &shellChannel{
		transport: t,
		sess:      sess,
		stdin:     stdin,
		limit:     bufferLimit,
	}
	go ch.capture(stdout)
	go ch.capture(stderr)
	return ch, nil
}

type shellChannel struct {
	transport *Transport
	sess      *ssh.Session
	stdin     io.WriteCloser

	mu     sync.Mutex
	buf    []byte
	limit  int
	closed bool
}

// capture appends stream output to the bounded buffer until the pipe closes.
func (c *shellChannel) capture(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			c.mu.Lock()
			c.buf = append(c.buf, chunk[:n]...)
			if c.limit > 0 && len(c.buf) > c.limit {
				// Keep the newest output; the oldest is gone for good.
				c.buf = c.buf[len(c.buf)-c.limit:]
			}
			c.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (c *shellChannel) take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := string(c.buf)
	c.buf = c.buf[:0]
	return out
}

// Send writes the command and a newline, waits only for immediately
// available output, and returns it. Long-running output is collected by
// later Send or Drain calls.
func (c *shellChannel) Send(command string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", fault.New(fault.ChannelClosed, "shell channel is closed")
	}
	c.mu.Unlock()

	if _, err := io.WriteString(c.stdin, command+"\n"); err != nil {
		return "", fault.Wrap(fault.ChannelClosed, err, "write to shell")
	}
	time.Sleep(util.ShellSettleDelay)
	return c.take(), nil
}

// Drain returns everything buffered since the last read.
func (c *shellChannel) Drain() (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", fault.New(fault.ChannelClosed, "shell channel is closed")
	}
	c.mu.Unlock()
	return c.take(), nil
}

// Close terminates the pseudo-terminal and releases the channel.
func (c *shellChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	_ = c.stdin.Close()
	err := c.sess.Close()
	c.transport.channels.Add(-1)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

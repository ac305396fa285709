package pool

import (
	"context"
	"time"

	"github.com/treykane/sshmux/internal/model"
)

// Transport is the channel-level contract one pooled SSH connection provides.
// The real implementation lives in internal/sshclient; tests substitute fakes.
//
// Channel creation on a single transport must be serialized by the
// implementation. Data transfer on channels that are already open may proceed
// concurrently.
type Transport interface {
	// Exec opens a fresh exec channel, runs command, and captures the result.
	// A timeout of zero means no deadline beyond ctx. On timeout the remote
	// channel is torn down and the partial result is returned alongside a
	// Timeout-classified error.
	Exec(ctx context.Context, command string, timeout time.Duration) (model.CommandResult, error)

	// OpenShell allocates a PTY-backed shell channel. bufferLimit bounds the
	// channel's accumulated-output buffer; once exceeded, oldest output is
	// discarded.
	OpenShell(term string, bufferLimit int) (ShellChannel, error)

	// Upload copies a local file to the remote host, returning bytes written.
	Upload(localPath, remotePath string) (int64, error)

	// Download copies a remote file to the local host, returning bytes written.
	Download(remotePath, localPath string) (int64, error)

	// ListDir lists a remote directory.
	ListDir(path string) ([]model.FileEntry, error)

	// Probe performs a lightweight liveness check without running a command.
	Probe() error

	// Keepalive runs a cheap remote round trip to keep the transport warm.
	Keepalive() error

	// Channels reports the number of currently attached channels.
	Channels() int

	// Close tears down the transport and every channel derived from it.
	Close() error
}

// ShellChannel is one interactive pseudo-terminal channel.
type ShellChannel interface {
	// Send writes the command plus a line terminator and returns whatever
	// output is immediately available. It never waits for command completion.
	Send(command string) (string, error)

	// Drain returns all buffered output accumulated since the last read.
	Drain() (string, error)

	// Close terminates the pseudo-terminal and releases the channel.
	Close() error
}

// Dialer establishes new transports. Abstracted so pool tests run without a
// network.
type Dialer interface {
	Dial(ctx context.Context, spec model.ConnectionSpec) (Transport, error)
}

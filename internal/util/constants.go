// Package util provides common utility functions and constants used across
// the sshmux application. This package is intentionally kept dependency-free
// (no imports from other internal/* packages) to serve as a shared foundation
// without introducing circular dependencies.
package util

import "time"

const (
	// DefaultSSHPort is applied when a ConnectionSpec omits the port.
	DefaultSSHPort = 22

	// KeepaliveProbeTimeout bounds one liveness probe against a transport.
	// The probe is a throwaway command ("echo keepalive") whose only purpose
	// is to force a round trip; if the remote does not answer within this
	// window, the transport is treated as dead. 5 seconds matches the probe
	// budget used by the background sweep, which must never stall an entire
	// sweep pass on one wedged connection.
	KeepaliveProbeTimeout = 5 * time.Second

	// ShellSettleDelay is how long a shell send waits for immediately
	// available output before returning. Sends never block until command
	// completion; anything produced after this window is picked up by a
	// later send or an explicit drain.
	ShellSettleDelay = 200 * time.Millisecond
)

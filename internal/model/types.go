package model

import (
	"fmt"
	"time"
)

// ConnectionSpec fully describes one SSH endpoint and how to authenticate
// against it. Name is the registry key: two specs with the same name refer
// to the same logical connection.
type ConnectionSpec struct {
	Name           string        `yaml:"name" json:"name"`
	Host           string        `yaml:"host" json:"host"`
	Port           int           `yaml:"port,omitempty" json:"port,omitempty"`
	Username       string        `yaml:"username" json:"username"`
	Password       string        `yaml:"password,omitempty" json:"-"`
	KeyFile        string        `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	KeyPassphrase  string        `yaml:"key_passphrase,omitempty" json:"-"`
	UseAgent       bool          `yaml:"use_agent,omitempty" json:"use_agent,omitempty"`
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
}

// Addr returns the dial address, applying the default SSH port.
func (s ConnectionSpec) Addr() string {
	port := s.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", s.Host, port)
}

// Target formats the spec as user@host for logs and display.
func (s ConnectionSpec) Target() string {
	if s.Username == "" {
		return s.Host
	}
	return s.Username + "@" + s.Host
}

// ConnectionState describes the lifecycle of a pooled transport.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateActive     ConnectionState = "active"
	StateIdle       ConnectionState = "idle"
	StateDead       ConnectionState = "dead"
)

// ConnectionInfo is the read-only registry view of one connection.
type ConnectionInfo struct {
	Name         string          `json:"name"`
	Host         string          `json:"host"`
	Port         int             `json:"port"`
	Username     string          `json:"username"`
	State        ConnectionState `json:"state"`
	LastActivity time.Time       `json:"last_activity"`
	Channels     int             `json:"channels"`
}

// CommandResult is one executed command with its captured outcome.
// Immutable once produced; session history stores these in admission order.
type CommandResult struct {
	Connection string        `json:"connection,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	Command    string        `json:"command"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	ExitCode   int           `json:"exit_code"`
	Duration   time.Duration `json:"duration"`
	Timestamp  time.Time     `json:"timestamp"`
	TimedOut   bool          `json:"timed_out,omitempty"`
}

// SessionInfo is the read-only view of one logical session.
type SessionInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Connection   string    `json:"connection"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Commands     int       `json:"commands"`
	WorkingDir   string    `json:"working_dir,omitempty"`
	ShellOpen    bool      `json:"shell_open,omitempty"`
}

// ContextSnapshot is the derived per-session execution context.
type ContextSnapshot struct {
	SessionID  string            `json:"session_id"`
	Connection string            `json:"connection"`
	WorkingDir string            `json:"working_dir"`
	Env        map[string]string `json:"env,omitempty"`
}

// TransferDirection labels a file transfer.
type TransferDirection string

const (
	TransferUpload   TransferDirection = "upload"
	TransferDownload TransferDirection = "download"
)

// TransferResult reports one completed file transfer. Ephemeral: returned to
// the caller and never stored.
type TransferResult struct {
	Connection string            `json:"connection"`
	Direction  TransferDirection `json:"direction"`
	LocalPath  string            `json:"local_path"`
	RemotePath string            `json:"remote_path"`
	Bytes      int64             `json:"bytes"`
}

// FileEntry is one remote directory entry.
type FileEntry struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"` // "file", "directory", or "symlink"
	Size        int64     `json:"size"`
	Permissions string    `json:"permissions,omitempty"`
	Modified    time.Time `json:"modified,omitempty"`
}

// Package main is the entry point for the sshmux binary.
//
// sshmux multiplexes SSH connections, sessions and file transfers behind one
// process: a pooled transport per host, logical sessions with command history
// and context carry-over, persistent shell channels, and SFTP transfers.
//
// When invoked without arguments it launches the TUI dashboard. With
// subcommands (exec, run, shell, upload, download, ls, profile, doctor,
// events) it runs the corresponding CLI operation and exits.
//
// Usage:
//
//	sshmux                          # launch the TUI dashboard
//	sshmux exec web uptime          # one-shot command on saved profile "web"
//	sshmux run deploy@web01         # interactive session with context carry-over
//	sshmux upload web a.tar /srv/   # SFTP upload
//
// The CLI is constructed in internal/cli and the TUI in internal/ui. This
// file wires them together and handles top-level error reporting.
package main

import (
	"fmt"
	"os"

	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/cli"
	"github.com/treykane/sshmux/internal/sshclient"
)

func main() {
	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd := cli.NewRootCommand(sshclient.NewDialer(cfg.InsecureSkipHostKey))
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

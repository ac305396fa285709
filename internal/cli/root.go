// Package cli provides the command-line interface for sshmux.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/doctor"
	"github.com/treykane/sshmux/internal/events"
	"github.com/treykane/sshmux/internal/exec"
	"github.com/treykane/sshmux/internal/model"
	"github.com/treykane/sshmux/internal/pool"
	"github.com/treykane/sshmux/internal/profile"
	"github.com/treykane/sshmux/internal/session"
	"github.com/treykane/sshmux/internal/shell"
	"github.com/treykane/sshmux/internal/transfer"
	"github.com/treykane/sshmux/internal/ui"
	"github.com/treykane/sshmux/internal/util"
)

// app wires the managers together for one process invocation.
type app struct {
	cfg       appconfig.Config
	pool      *pool.Manager
	sessions  *session.Manager
	executor  *exec.Executor
	shells    *shell.Manager
	transfers *transfer.Service
}

func newApp(dialer pool.Dialer) (*app, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return nil, err
	}
	journal := events.NewStore()
	p := pool.NewManager(cfg, dialer, journal)
	s := session.NewManager(cfg, p, journal)
	return &app{
		cfg:       cfg,
		pool:      p,
		sessions:  s,
		executor:  exec.New(cfg, s, p),
		shells:    shell.NewManager(cfg, s, p),
		transfers: transfer.NewService(p),
	}, nil
}

func (a *app) close() {
	a.sessions.Close()
	a.pool.Close()
}

// Connections implements ui.Source.
func (a *app) Connections() []model.ConnectionInfo { return a.pool.List() }

// Sessions implements ui.Source.
func (a *app) Sessions() []model.SessionInfo { return a.sessions.List() }

// connectFlags are the per-command SSH endpoint overrides.
type connectFlags struct {
	port    int
	user    string
	keyFile string
	askPass bool
	agent   bool
}

func (f *connectFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.port, "port", 0, "SSH port (default 22)")
	cmd.Flags().StringVar(&f.user, "user", "", "username (overrides profile / user@host)")
	cmd.Flags().StringVar(&f.keyFile, "key", "", "private key file")
	cmd.Flags().BoolVar(&f.askPass, "ask-pass", false, "prompt for a password (no echo)")
	cmd.Flags().BoolVar(&f.agent, "agent", false, "authenticate via the SSH agent")
}

// resolveSpec turns a target argument into a connection spec. The target is
// either the name of a saved profile or user@host[:port].
func resolveSpec(target string, f connectFlags) (model.ConnectionSpec, error) {
	spec, err := profile.Get(target)
	if err != nil {
		spec, err = parseTarget(target)
		if err != nil {
			return model.ConnectionSpec{}, err
		}
	}
	if f.port > 0 {
		if err := util.ValidatePort(f.port); err != nil {
			return model.ConnectionSpec{}, err
		}
		spec.Port = f.port
	}
	if f.user != "" {
		spec.Username = f.user
	}
	if f.keyFile != "" {
		spec.KeyFile = f.keyFile
	}
	if f.agent {
		spec.UseAgent = true
	}
	if f.askPass {
		pass, err := promptPassword(spec.Target())
		if err != nil {
			return model.ConnectionSpec{}, err
		}
		spec.Password = pass
	}
	return spec, nil
}

func parseTarget(target string) (model.ConnectionSpec, error) {
	spec := model.ConnectionSpec{Name: target}
	rest := target
	if i := strings.Index(rest, "@"); i >= 0 {
		spec.Username = rest[:i]
		rest = rest[i+1:]
	}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		var port int
		if _, err := fmt.Sscanf(rest[i+1:], "%d", &port); err != nil {
			return model.ConnectionSpec{}, fmt.Errorf("bad port in target %q", target)
		}
		if err := util.ValidatePort(port); err != nil {
			return model.ConnectionSpec{}, err
		}
		spec.Port = port
		rest = rest[:i]
	}
	if rest == "" {
		return model.ConnectionSpec{}, fmt.Errorf("no host in target %q", target)
	}
	spec.Host = rest
	spec.Name = rest
	return spec, nil
}

func promptPassword(target string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s password: ", target)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// NewRootCommand creates the root cobra command. dialer lets tests substitute
// the SSH transport.
func NewRootCommand(dialer pool.Dialer) *cobra.Command {
	root := &cobra.Command{
		Use:   "sshmux",
		Short: "SSH connection, session and transfer multiplexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(dialer)
			if err != nil {
				return err
			}
			defer a.close()
			return ui.Run(a.cfg, a)
		},
	}

	root.AddCommand(newExecCmd(dialer))
	root.AddCommand(newRunCmd(dialer))
	root.AddCommand(newShellCmd(dialer))
	root.AddCommand(newUploadCmd(dialer))
	root.AddCommand(newDownloadCmd(dialer))
	root.AddCommand(newLsCmd(dialer))
	root.AddCommand(newProfileCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newEventsCmd())
	return root
}

func connectTarget(a *app, target string, f connectFlags) (model.ConnectionSpec, error) {
	spec, err := resolveSpec(target, f)
	if err != nil {
		return model.ConnectionSpec{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ConnectTimeout())
	defer cancel()
	if _, err := a.pool.Connect(ctx, spec); err != nil {
		return model.ConnectionSpec{}, err
	}
	return spec, nil
}

func newExecCmd(dialer pool.Dialer) *cobra.Command {
	var flags connectFlags
	var timeoutSec int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "exec <target> <command...>",
		Short: "Run one command on a host and print the result",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(dialer)
			if err != nil {
				return err
			}
			defer a.close()

			spec, err := connectTarget(a, args[0], flags)
			if err != nil {
				return err
			}
			command := strings.Join(args[1:], " ")
			res, err := a.executor.ExecuteDirect(context.Background(), spec.Name, command, time.Duration(timeoutSec)*time.Second)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			fmt.Print(res.Stdout)
			if res.Stderr != "" {
				fmt.Fprint(os.Stderr, res.Stderr)
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("command exited with status %d", res.ExitCode)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "command timeout in seconds (0 = configured default)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newUploadCmd(dialer pool.Dialer) *cobra.Command {
	var flags connectFlags
	cmd := &cobra.Command{
		Use:   "upload <target> <local> <remote>",
		Short: "Upload a local file over SFTP",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(dialer)
			if err != nil {
				return err
			}
			defer a.close()

			spec, err := connectTarget(a, args[0], flags)
			if err != nil {
				return err
			}
			res, err := a.transfers.Upload(spec.Name, args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Printf("uploaded %s -> %s:%s (%d bytes)\n", res.LocalPath, spec.Name, res.RemotePath, res.Bytes)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newDownloadCmd(dialer pool.Dialer) *cobra.Command {
	var flags connectFlags
	cmd := &cobra.Command{
		Use:   "download <target> <remote> <local>",
		Short: "Download a remote file over SFTP",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(dialer)
			if err != nil {
				return err
			}
			defer a.close()

			spec, err := connectTarget(a, args[0], flags)
			if err != nil {
				return err
			}
			res, err := a.transfers.Download(spec.Name, args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Printf("downloaded %s:%s -> %s (%d bytes)\n", spec.Name, res.RemotePath, res.LocalPath, res.Bytes)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newLsCmd(dialer pool.Dialer) *cobra.Command {
	var flags connectFlags
	var long, jsonOut bool
	cmd := &cobra.Command{
		Use:   "ls <target> [path]",
		Short: "List a remote directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(dialer)
			if err != nil {
				return err
			}
			defer a.close()

			spec, err := connectTarget(a, args[0], flags)
			if err != nil {
				return err
			}
			path := "."
			if len(args) == 2 {
				path = args[1]
			}
			entries, err := a.transfers.ListDir(spec.Name, path, long || jsonOut)
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if long {
				for _, e := range entries {
					fmt.Printf("%-9s %4s %10d %s %s\n", e.Type, e.Permissions, e.Size, e.Modified.Format("2006-01-02 15:04"), e.Name)
				}
				return nil
			}
			for _, e := range entries {
				suffix := ""
				if e.Type == "directory" {
					suffix = "/"
				}
				fmt.Println(e.Name + suffix)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVarP(&long, "long", "l", false, "detailed listing")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newProfileCmd() *cobra.Command {
	root := &cobra.Command{Use: "profile", Short: "Manage saved connection profiles"}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := profile.LoadAll()
			if err != nil {
				return err
			}
			fmt.Printf("%-18s %-28s %-8s %-16s %s\n", "NAME", "HOST", "PORT", "USER", "KEY")
			for _, p := range all {
				port := p.Port
				if port == 0 {
					port = util.DefaultSSHPort
				}
				fmt.Printf("%-18s %-28s %-8d %-16s %s\n", p.Name, p.Host, port, util.EmptyDash(p.Username), util.EmptyDash(p.KeyFile))
			}
			return nil
		},
	}

	var add model.ConnectionSpec
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Save or replace a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			add.Name = args[0]
			if add.Port != 0 {
				if err := util.ValidatePort(add.Port); err != nil {
					return err
				}
			}
			if err := profile.Save(add); err != nil {
				return err
			}
			fmt.Printf("saved profile %s\n", add.Name)
			return nil
		},
	}
	addCmd.Flags().StringVar(&add.Host, "host", "", "hostname or address (required)")
	addCmd.Flags().IntVar(&add.Port, "port", 0, "SSH port (default 22)")
	addCmd.Flags().StringVar(&add.Username, "user", "", "username")
	addCmd.Flags().StringVar(&add.KeyFile, "key", "", "private key file")
	addCmd.Flags().BoolVar(&add.UseAgent, "agent", false, "authenticate via the SSH agent")
	_ = addCmd.MarkFlagRequired("host")

	show := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one profile as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profile.Get(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := profile.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("removed profile %s\n", args[0])
			return nil
		},
	}

	root.AddCommand(list, addCmd, show, remove)
	return root
}

func newDoctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := doctor.Run()
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if len(report.Issues) == 0 {
				fmt.Println("no issues found")
				return nil
			}
			for _, issue := range report.Issues {
				fmt.Printf("[%s] %s (%s)\n    %s\n    fix: %s\n", strings.ToUpper(string(issue.Severity)), issue.Message, issue.Target, issue.Check, issue.Recommendation)
			}
			if report.HasHigh() {
				return fmt.Errorf("high severity issues found")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var connection, sessionID, eventType string
	var limit int
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the lifecycle event journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := events.NewStore()
			evts, err := store.Read(events.Query{
				Connection: connection,
				SessionID:  sessionID,
				EventType:  eventType,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			sort.Slice(evts, func(i, j int) bool { return evts[i].Timestamp.Before(evts[j].Timestamp) })
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(evts)
			}
			for _, e := range evts {
				fmt.Printf("%s %-20s conn=%s session=%s %s\n",
					e.Timestamp.Format(time.RFC3339), e.EventType, util.EmptyDash(e.Connection), util.EmptyDash(e.SessionID), e.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&connection, "connection", "", "filter by connection name")
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session id")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum events to show (0 = all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

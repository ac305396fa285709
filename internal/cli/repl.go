package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/pool"
)

// newRunCmd starts an interactive session loop: each line runs through the
// session executor, so working directory and environment carry over between
// commands. Meta commands start with a colon.
func newRunCmd(dialer pool.Dialer) *cobra.Command {
	var flags connectFlags
	var sessionName string
	var restoreFile string
	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Interactive session with context carry-over",
		Args:  cobra.ExactArgs(1),
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

			var id string
			if restoreFile != "" {
				data, err := os.ReadFile(restoreFile)
				if err != nil {
					return err
				}
				id, err = a.sessions.Import(data)
				if err != nil {
					return err
				}
				fmt.Printf("restored session %s\n", id)
			} else {
				id, err = a.sessions.Create(sessionName, spec.Name)
				if err != nil {
					return err
				}
			}
			defer func() { _ = a.sessions.Delete(id) }()

			return runSessionLoop(a, id, cmd.InOrStdin())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&sessionName, "name", "interactive", "session name")
	cmd.Flags().StringVar(&restoreFile, "restore", "", "restore a previously exported session file")
	return cmd
}

func runSessionLoop(a *app, id string, in io.Reader) error {
	fmt.Println("Type commands; :history, :context, :export <file>, :quit for control.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			quit, err := runMeta(a, id, line)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			if quit {
				return nil
			}
			continue
		}

		res, err := a.executor.Execute(context.Background(), id, line, 0)
		if err != nil && !fault.IsKind(err, fault.Timeout) {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		fmt.Print(res.Stdout)
		if res.Stderr != "" {
			fmt.Fprint(os.Stderr, res.Stderr)
		}
		if res.TimedOut {
			fmt.Fprintln(os.Stderr, "(command timed out; session is still usable)")
		} else if res.ExitCode != 0 {
			fmt.Fprintf(os.Stderr, "(exit %d)\n", res.ExitCode)
		}
	}
}

func runMeta(a *app, id, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case ":quit", ":q", ":exit":
		return true, nil
	case ":history":
		hist, err := a.sessions.History(id, 20)
		if err != nil {
			return false, err
		}
		for _, h := range hist {
			marker := fmt.Sprintf("%d", h.ExitCode)
			if h.TimedOut {
				marker = "timeout"
			}
			fmt.Printf("[%s] %s (%s)\n", marker, h.Command, h.Duration.Round(time.Millisecond))
		}
		return false, nil
	case ":context":
		ctx, err := a.sessions.Context(id)
		if err != nil {
			return false, err
		}
		fmt.Printf("connection=%s cwd=%s\n", ctx.Connection, ctx.WorkingDir)
		for k, v := range ctx.Env {
			fmt.Printf("  %s=%s\n", k, v)
		}
		return false, nil
	case ":export":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: :export <file>")
		}
		data, err := a.sessions.Export(id)
		if err != nil {
			return false, err
		}
		if err := os.WriteFile(fields[1], data, 0o600); err != nil {
			return false, err
		}
		fmt.Printf("session exported to %s\n", fields[1])
		return false, nil
	default:
		return false, fmt.Errorf("unknown meta command %s", fields[0])
	}
}

// newShellCmd opens a persistent remote PTY bound to a fresh session and
// relays lines into it. Unlike `run`, output is whatever the remote shell
// printed during the settle window, prompt included.
func newShellCmd(dialer pool.Dialer) *cobra.Command {
	var flags connectFlags
	var termName string
	cmd := &cobra.Command{
		Use:   "shell <target>",
		Short: "Attach to a persistent remote shell",
		Args:  cobra.ExactArgs(1),
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
			id, err := a.sessions.Create("shell", spec.Name)
			if err != nil {
				return err
			}
			defer func() { _ = a.sessions.Delete(id) }()

			if termName == "" {
				termName = os.Getenv("TERM")
			}
			if err := a.shells.Open(id, termName); err != nil {
				return err
			}
			defer func() { _ = a.shells.Close(id) }()

			if banner, err := a.shells.Drain(id); err == nil && banner != "" {
				fmt.Print(banner)
			}
			if term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Println("(line-buffered shell; type exit or Ctrl+D to leave)")
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for scanner.Scan() {
				out, err := a.shells.Send(id, scanner.Text())
				if err != nil {
					if fault.IsKind(err, fault.ChannelClosed) {
						return nil
					}
					return err
				}
				fmt.Print(out)
			}
			return scanner.Err()
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&termName, "term", "", "TERM to request for the remote PTY")
	return cmd
}

// Package ui renders a live terminal dashboard over the connection pool and
// session table. It is read-only: lifecycle changes go through the CLI.
package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/treykane/sshmux/internal/appconfig"
	"github.com/treykane/sshmux/internal/model"
	"github.com/treykane/sshmux/internal/util"
)

// Source supplies dashboard snapshots.
type Source interface {
	Connections() []model.ConnectionInfo
	Sessions() []model.SessionInfo
}

type tickMsg time.Time

type modelUI struct {
	src         Source
	cfg         appconfig.Config
	connections []model.ConnectionInfo
	sessions    []model.SessionInfo
	filtered    []model.ConnectionInfo
	sel         int
	filter      string
	filterMode  bool
	showHelp    bool
	status      string
	width       int
	height      int
}

func initialModel(cfg appconfig.Config, src Source) modelUI {
	m := modelUI{cfg: cfg, src: src}
	m.refresh()
	m.status = "Ready. j/k to move, / to filter, q to quit."
	return m
}

func (m *modelUI) refresh() {
	conns := m.src.Connections()
	sort.Slice(conns, func(i, j int) bool { return conns[i].Name < conns[j].Name })
	m.connections = conns

	sessions := m.src.Sessions()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
	m.sessions = sessions

	m.applyFilter()
}

func (m *modelUI) applyFilter() {
	if strings.TrimSpace(m.filter) == "" {
		m.filtered = append([]model.ConnectionInfo(nil), m.connections...)
	} else {
		f := strings.ToLower(strings.TrimSpace(m.filter))
		m.filtered = nil
		for _, c := range m.connections {
			if strings.Contains(strings.ToLower(c.Name), f) || strings.Contains(strings.ToLower(c.Host), f) {
				m.filtered = append(m.filtered, c)
			}
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func tickCmd(seconds int) tea.Cmd {
	if seconds <= 0 {
		seconds = 3
	}
	return tea.Tick(time.Duration(seconds)*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m modelUI) Init() tea.Cmd {
	return tickCmd(m.cfg.UI.RefreshSeconds)
}

func (m modelUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, tickCmd(m.cfg.UI.RefreshSeconds)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		if m.filterMode {
			switch msg.String() {
			case "enter", "esc":
				m.filterMode = false
				m.applyFilter()
				return m, nil
			case "backspace":
				if len(m.filter) > 0 {
					m.filter = m.filter[:len(m.filter)-1]
				}
				m.applyFilter()
				return m, nil
			default:
				if len(msg.String()) == 1 {
					m.filter += msg.String()
					m.applyFilter()
				}
				return m, nil
			}
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "j", "down":
			if m.sel < len(m.filtered)-1 {
				m.sel++
			}
		case "k", "up":
			if m.sel > 0 {
				m.sel--
			}
		case "/":
			m.filterMode = true
			m.status = "Filter mode: type and press Enter"
		case "?":
			m.showHelp = !m.showHelp
		case "r":
			m.refresh()
			m.status = "Refreshed pool and session snapshot"
		}
	}
	return m, nil
}

func (m modelUI) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("sshmux Dashboard")
	subhead := fmt.Sprintf("connections=%d shown=%d sessions=%d refresh=%ds",
		len(m.connections), len(m.filtered), len(m.sessions), clampRefresh(m.cfg.UI.RefreshSeconds))

	left := strings.Builder{}
	left.WriteString("j/k to navigate; state shown per connection.\n")
	for i, c := range m.filtered {
		cursor := " "
		if i == m.sel {
			cursor = ">"
		}
		left.WriteString(fmt.Sprintf("%s %-18s %-28s %-10s ch=%d\n", cursor, c.Name, hostPort(c), c.State, c.Channels))
	}
	if len(m.filtered) == 0 {
		left.WriteString("  (no connections matched)\n")
	}

	detail := strings.Builder{}
	if len(m.filtered) > 0 {
		c := m.filtered[m.sel]
		detail.WriteString(fmt.Sprintf("Name: %s\nHost: %s\nUser: %s\nState: %s\nChannels: %d\nLast activity: %s\n",
			c.Name, hostPort(c), util.EmptyDash(c.Username), c.State, c.Channels, sinceString(c.LastActivity)))
		detail.WriteString("\nSessions on this connection:\n")
		n := 0
		for _, s := range m.sessions {
			if s.Connection != c.Name {
				continue
			}
			n++
			mark := " "
			if s.ShellOpen {
				mark = "S"
			}
			detail.WriteString(fmt.Sprintf("  [%s] %-14s %s cmds=%d\n", mark, util.EmptyDash(s.Name), shortID(s.ID), s.Commands))
		}
		if n == 0 {
			detail.WriteString("  (none)\n")
		}
	} else {
		detail.WriteString("Pick a connection to view its sessions.\n")
	}

	tbl := strings.Builder{}
	tbl.WriteString(fmt.Sprintf("%-10s %-14s %-18s %-8s %-6s %-10s\n", "ID", "NAME", "CONNECTION", "CMDS", "SHELL", "IDLE"))
	for _, s := range m.sessions {
		shell := "-"
		if s.ShellOpen {
			shell = "open"
		}
		tbl.WriteString(fmt.Sprintf("%-10s %-14s %-18s %-8d %-6s %-10s\n",
			shortID(s.ID), util.EmptyDash(s.Name), s.Connection, s.Commands, shell, sinceString(s.LastActivity)))
	}
	if len(m.sessions) == 0 {
		tbl.WriteString("(none)\n")
	}

	filterLine := fmt.Sprintf("Filter: %s", m.filter)
	if m.filterMode {
		filterLine += " (typing...)"
	}
	quickHelp := "Keys: / filter | r refresh | ? help | q quit"

	main := m.renderMainPanels(left.String(), detail.String())
	sessions := m.renderPanel("Sessions", tbl.String(), m.effectiveWidth(), lipgloss.Color("63"))
	status := m.renderPanel("Status", m.status, m.effectiveWidth(), lipgloss.Color("205"))
	help := ""
	if m.showHelp {
		help = m.renderPanel("Help", m.helpBlock(), m.effectiveWidth(), lipgloss.Color("244"))
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		head,
		subhead,
		filterLine,
		quickHelp,
		main,
		sessions,
		help,
		status,
	)
}

// Run starts the dashboard and blocks until the user quits.
func Run(cfg appconfig.Config, src Source) error {
	p := tea.NewProgram(initialModel(cfg, src), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func hostPort(c model.ConnectionInfo) string {
	port := c.Port
	if port == 0 {
		port = util.DefaultSSHPort
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sinceString(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return 3
	}
	return seconds
}

func (m modelUI) renderMainPanels(connsPanel, detailsPanel string) string {
	width := m.effectiveWidth()
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderPanel("Connections", connsPanel, width, lipgloss.Color("39")),
			m.renderPanel("Details", detailsPanel, width, lipgloss.Color("69")),
		)
	}
	leftWidth := width / 2
	rightWidth := width - leftWidth
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderPanel("Connections", connsPanel, leftWidth, lipgloss.Color("39")),
		m.renderPanel("Details", detailsPanel, rightWidth, lipgloss.Color("69")),
	)
}

func (m modelUI) helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move selection.",
		"  Filtering: press /, type name/host text, then Enter.",
		"  Refresh: press r (also happens automatically).",
		"  Quit: press q or Ctrl+C. Connections stay up; use the CLI to disconnect.",
	}, "\n")
}

func (m modelUI) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func (m modelUI) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}

// Package tui renders a terminal view of a model run's log.
package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tOgg1/workbench/internal/logwatch"
)

const (
	defaultRefreshInterval = 500 * time.Millisecond
	defaultTailLines       = 20
	maxBufferedLines       = 2000
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Config controls the watch view.
type Config struct {
	// Dir is the workspace holding the run-log files.
	Dir             string
	RefreshInterval time.Duration
	TailLines       int
}

// Run follows the newest run log under cfg.Dir until the user quits or
// ctx is done.
func Run(ctx context.Context, cfg Config) error {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = defaultTailLines
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan logwatch.Update, 64)
	follower := logwatch.NewFollower(cfg.Dir, cfg.RefreshInterval)
	followDone := make(chan struct{})
	go func() {
		defer close(followDone)
		_ = follower.Run(ctx, func(u logwatch.Update) {
			select {
			case updates <- u:
			case <-ctx.Done():
			}
		})
	}()

	program := tea.NewProgram(newModel(cfg, updates), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	cancel()
	<-followDone
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

type tickMsg struct{}

type updateMsg struct {
	update logwatch.Update
}

type model struct {
	cfg     Config
	updates <-chan logwatch.Update

	path     string
	lines    []string
	switches int
	frame    int
	started  time.Time
	follow   bool
	offset   int

	width    int
	height   int
	quitting bool
}

func newModel(cfg Config, updates <-chan logwatch.Update) model {
	return model{
		cfg:     cfg,
		updates: updates,
		started: time.Now(),
		follow:  true,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.tickCmd())
}

func (m model) waitForUpdate() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	updates := m.updates
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return nil
		}
		return updateMsg{update: u}
	}
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(m.cfg.RefreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		m.frame++
		return m, m.tickCmd()
	case updateMsg:
		m.apply(msg.update)
		return m, m.waitForUpdate()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "f":
			m.follow = !m.follow
			m.offset = 0
		case "up", "k":
			m.follow = false
			m.offset = minInt(m.offset+1, maxInt(0, len(m.lines)-m.tailLines()))
		case "down", "j":
			m.offset = maxInt(0, m.offset-1)
			if m.offset == 0 {
				m.follow = true
			}
		}
	}
	return m, nil
}

func (m *model) apply(u logwatch.Update) {
	if u.Switched {
		m.path = u.Path
		m.lines = nil
		m.offset = 0
		m.switches++
	}
	if len(u.Lines) == 0 {
		return
	}
	m.lines = append(m.lines, u.Lines...)
	if over := len(m.lines) - maxBufferedLines; over > 0 {
		m.lines = append([]string(nil), m.lines[over:]...)
	}
	if !m.follow {
		m.offset = minInt(m.offset+len(u.Lines), maxInt(0, len(m.lines)-m.tailLines()))
	}
}

func (m model) tailLines() int {
	n := m.cfg.TailLines
	if n <= 0 {
		n = defaultTailLines
	}
	if m.height > 0 {
		n = minInt(n, maxInt(1, m.height-4))
	}
	return n
}

func (m model) visibleLines() []string {
	n := m.tailLines()
	end := len(m.lines) - m.offset
	start := maxInt(0, end-n)
	return m.lines[start:end]
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func (m model) View() string {
	if m.quitting {
		return ""
	}

	spinner := spinnerFrames[m.frame%len(spinnerFrames)]
	title := "waiting for a run log in " + m.cfg.Dir
	if m.path != "" {
		title = filepath.Base(m.path)
	}
	header := headerStyle.Render(fmt.Sprintf("%s %s", spinner, title))

	var body strings.Builder
	if m.path == "" {
		body.WriteString(mutedStyle.Render("no log file yet"))
		body.WriteString("\n")
	}
	for _, line := range m.visibleLines() {
		body.WriteString(styleLine(line))
		body.WriteString("\n")
	}

	mode := "follow"
	if !m.follow {
		mode = fmt.Sprintf("scrolled -%d", m.offset)
	}
	footer := mutedStyle.Render(fmt.Sprintf(
		"lines:%d  %s  elapsed:%s  keys: f follow  j/k scroll  q quit",
		len(m.lines), mode, time.Since(m.started).Truncate(time.Second),
	))

	return lipgloss.JoinVertical(lipgloss.Left, header, body.String(), footer)
}

func styleLine(line string) string {
	switch {
	case strings.Contains(line, " ERROR ") || strings.Contains(line, "Traceback"):
		return errorStyle.Render(line)
	case strings.Contains(line, " WARNING "):
		return warnStyle.Render(line)
	default:
		return line
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package tui

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/workbench/internal/logwatch"
)

func applyUpdate(t *testing.T, m model, u logwatch.Update) model {
	t.Helper()
	next, _ := m.Update(updateMsg{update: u})
	return next.(model)
}

func TestModelAppliesUpdates(t *testing.T) {
	m := newModel(Config{Dir: "/ws", RefreshInterval: time.Second, TailLines: 3}, nil)
	require.Contains(t, m.View(), "waiting for a run log in /ws")

	m = applyUpdate(t, m, logwatch.Update{
		Path:     "/ws/InVEST-carbon-log-2024-01-01--00_00_00.txt",
		Switched: true,
		Lines:    []string{"one", "two", "three", "four"},
	})
	require.Equal(t, []string{"two", "three", "four"}, m.visibleLines())
	view := m.View()
	require.Contains(t, view, "InVEST-carbon-log-2024-01-01--00_00_00.txt")
	require.NotContains(t, view, "one")

	// A newer file replaces the buffer.
	m = applyUpdate(t, m, logwatch.Update{Path: "/ws/InVEST-carbon-log-2024-01-02--00_00_00.txt", Switched: true})
	require.Empty(t, m.visibleLines())
	require.Equal(t, 2, m.switches)
}

func TestModelScrolling(t *testing.T) {
	m := newModel(Config{TailLines: 2}, nil)
	lines := make([]string, 5)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %d", i)
	}
	m = applyUpdate(t, m, logwatch.Update{Path: "p", Switched: true, Lines: lines})

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(model)
	require.False(t, m.follow)
	require.Equal(t, []string{"line 2", "line 3"}, m.visibleLines())

	// New lines keep a scrolled view anchored.
	m = applyUpdate(t, m, logwatch.Update{Path: "p", Lines: []string{"line 5"}})
	require.Equal(t, []string{"line 2", "line 3"}, m.visibleLines())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	m = next.(model)
	require.True(t, m.follow)
	require.Equal(t, []string{"line 4", "line 5"}, m.visibleLines())
}

func TestModelQuit(t *testing.T) {
	m := newModel(Config{}, nil)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.Empty(t, next.View())
}

func TestStyleLineKeepsText(t *testing.T) {
	require.Contains(t, styleLine("2024 ERROR boom"), "boom")
	require.Equal(t, "plain", styleLine("plain"))
}

// Package picker is the interactive multi-select used for manual chapter
// selection. Whatever order the user toggles items in, the returned selection
// is in document order.
package picker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrAborted is returned when the user quits without confirming a selection.
var ErrAborted = errors.New("chapter selection aborted")

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Margin(1, 0, 1, 2)
	itemStyle     = lipgloss.NewStyle().PaddingLeft(2)
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#ECFD65"})
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#ECFD65"})
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Margin(1, 0, 0, 2)
	helpStyle     = lipgloss.NewStyle().Margin(1, 0, 0, 2)
)

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	All     key.Binding
	None    key.Binding
	Confirm key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Toggle:  key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "toggle")),
		All:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "select all")),
		None:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "select none")),
		Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "confirm")),
		Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "abort")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Toggle, k.All, k.Confirm, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Toggle}, {k.All, k.None, k.Confirm, k.Quit}}
}

type model struct {
	title    string
	items    []string
	cursor   int
	selected map[int]bool
	status   string
	done     bool
	aborted  bool
	keys     keyMap
	help     help.Model
}

func newModel(title string, items []string) model {
	return model{
		title:    title,
		items:    items,
		selected: make(map[int]bool),
		keys:     defaultKeyMap(),
		help:     help.New(),
	}
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch {
	case key.Matches(keyMsg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, m.keys.Toggle):
		m.selected[m.cursor] = !m.selected[m.cursor]
		m.status = ""
	case key.Matches(keyMsg, m.keys.All):
		for i := range m.items {
			m.selected[i] = true
		}
		m.status = ""
	case key.Matches(keyMsg, m.keys.None):
		m.selected = make(map[int]bool)
	case key.Matches(keyMsg, m.keys.Confirm):
		if m.selectionCount() == 0 {
			m.status = "Select at least one chapter"
			return m, nil
		}
		m.done = true
		return m, tea.Quit
	case key.Matches(keyMsg, m.keys.Quit):
		m.aborted = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m model) View() string {
	if m.done || m.aborted {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteByte('\n')

	for i, item := range m.items {
		cursor := "  "
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		check := "[ ]"
		name := item
		if m.selected[i] {
			check = selectedStyle.Render("[x]")
			name = selectedStyle.Render(item)
		}
		b.WriteString(itemStyle.Render(fmt.Sprintf("%s%s %s", cursor, check, name)))
		b.WriteByte('\n')
	}

	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status))
		b.WriteByte('\n')
	}
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	b.WriteByte('\n')
	return b.String()
}

func (m model) selectionCount() int {
	n := 0
	for _, on := range m.selected {
		if on {
			n++
		}
	}
	return n
}

// indices returns the selected item indices in document order.
func (m model) indices() []int {
	var out []int
	for i := range m.items {
		if m.selected[i] {
			out = append(out, i)
		}
	}
	return out
}

// Choose runs the picker and returns the selected indices in document order.
// At least one selection is enforced here, at the interaction boundary.
func Choose(title string, items []string) ([]int, error) {
	p := tea.NewProgram(newModel(title, items))
	out, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("unable to run chapter picker: %w", err)
	}
	final, ok := out.(model)
	if !ok || final.aborted {
		return nil, ErrAborted
	}
	return final.indices(), nil
}

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"steelwool/internal/adapter/tui/theme"
)

// KeyHint represents a single keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string // e.g. "Enter"
	Desc string // e.g. "Send"
}

// StatusBarModel renders a bottom status bar with keybinding hints and
// the active provider, model and transcript.
type StatusBarModel struct {
	Hints        []KeyHint
	ProviderName string
	ModelName    string
	TranscriptID string
	Extra        string // additional status text (e.g. "Thinking...")
	width        int
}

// NewStatusBar creates a status bar with default hints.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar as a single line. Hints are dropped from the
// right when the bar is too narrow for them and the session info.
func (m StatusBarModel) View() string {
	right := m.sessionInfo()
	if m.Extra != "" {
		if right != "" {
			right += "  "
		}
		right += theme.TextInfo.Render(m.Extra)
	}
	rightW := lipgloss.Width(right)
	inner := m.width - theme.StatusBar.GetHorizontalFrameSize()

	sep := "  " + theme.Dim.Render("|") + "  "
	var left string
	for _, h := range m.Hints {
		next := theme.StatusKey.Render(h.Key) + ": " + h.Desc
		if left != "" {
			next = left + sep + next
		}
		if m.width > 0 && lipgloss.Width(next)+rightW+1 > inner {
			break
		}
		left = next
	}

	gap := max(inner-lipgloss.Width(left)-rightW, 1)
	return theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m StatusBarModel) sessionInfo() string {
	var parts []string
	for _, p := range []string{m.ProviderName, m.ModelName, shortID(m.TranscriptID)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return theme.TextMuted.Render(strings.Join(parts, " "+theme.Symbols.Bullet+" "))
}

// shortID keeps the random tail of a transcript ULID, enough to tell
// sessions apart.
func shortID(id string) string {
	const keep = 8
	if len(id) <= keep {
		return id
	}
	return "#" + id[len(id)-keep:]
}

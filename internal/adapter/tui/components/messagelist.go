package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"steelwool/internal/adapter/tui/theme"
	"steelwool/internal/domain"
)

// MessageRole identifies the sender of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
	RoleError     MessageRole = "error"
)

// RoleFor maps a conversation role onto the role shown in the chat view.
func RoleFor(r domain.Role) MessageRole {
	switch r {
	case domain.RoleUser:
		return RoleUser
	case domain.RoleModel:
		return RoleAssistant
	case domain.RoleTool, domain.RoleFunction:
		return RoleTool
	default:
		return RoleSystem
	}
}

// ChatMessage represents a single entry in the chat view.
type ChatMessage struct {
	Role      MessageRole
	Content   string
	Rendered  string // cached glamour output; empty means not yet rendered
	Timestamp time.Time
}

// MessageListModel manages an ordered list of chat messages with an
// optional ring buffer cap.
type MessageListModel struct {
	Messages    []ChatMessage
	MaxMessages int // 0 = unlimited
	trimCount   int
	width       int
	md          *MarkdownRenderer
}

// NewMessageList creates an empty message list.
func NewMessageList() MessageListModel {
	return MessageListModel{}
}

// SetWidth updates the rendering width and clears cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.md = nil
	for i := range m.Messages {
		m.Messages[i].Rendered = ""
	}
}

// Add appends a message, trimming the oldest ones past MaxMessages.
func (m *MessageListModel) Add(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.Messages = append(m.Messages, msg)
	if m.MaxMessages > 0 && len(m.Messages) > m.MaxMessages {
		excess := len(m.Messages) - m.MaxMessages
		m.Messages = m.Messages[excess:]
		m.trimCount += excess
	}
}

// Clear removes all messages.
func (m *MessageListModel) Clear() {
	m.Messages = nil
	m.trimCount = 0
}

// UpdateLast replaces the content of the last message (for streaming).
func (m *MessageListModel) UpdateLast(content string) {
	if len(m.Messages) == 0 {
		return
	}
	m.Messages[len(m.Messages)-1].Content = content
	m.Messages[len(m.Messages)-1].Rendered = ""
}

// View renders all messages as a single string.
func (m *MessageListModel) View() string {
	if len(m.Messages) == 0 {
		return theme.TextMuted.Render("  No messages yet. Start a conversation!")
	}

	width := ContentWidth(m.width)
	var sb strings.Builder
	if m.trimCount > 0 {
		sb.WriteString(theme.TextMuted.Render(fmt.Sprintf("  (%d older messages trimmed)", m.trimCount)) + "\n\n")
	}
	for i := range m.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(&m.Messages[i], width))
	}
	return sb.String()
}

func (m *MessageListModel) renderMessage(msg *ChatMessage, width int) string {
	header := roleLabel(msg.Role) + " " + theme.Timestamp.Render(msg.Timestamp.Format("15:04"))

	var body string
	switch msg.Role {
	case RoleAssistant:
		if msg.Rendered == "" {
			if m.md == nil {
				m.md = NewMarkdownRenderer(width)
			}
			msg.Rendered = m.md.Render(msg.Content)
		}
		body = strings.TrimRight(msg.Rendered, "\n")
	case RoleError:
		body = "  " + theme.TextError.Render(wrapText(msg.Content, width-2))
	case RoleTool:
		body = "  " + theme.Dim.Render(wrapText(strings.TrimRight(msg.Content, "\n"), width-2))
	default:
		body = "  " + wrapText(msg.Content, width-2)
	}

	if strings.TrimSpace(body) == "" {
		return header
	}
	return header + "\n" + body
}

func roleLabel(role MessageRole) string {
	switch role {
	case RoleUser:
		return theme.UserLabel.Render(theme.Symbols.User)
	case RoleAssistant:
		return theme.BotLabel.Render(theme.Symbols.Bot)
	case RoleTool:
		return theme.ToolLabel.Render(theme.Symbols.Tool + " Tool results")
	case RoleError:
		return theme.ErrorLabel.Render(theme.Symbols.Error + " Error")
	default:
		return theme.SystemLabel.Render("System")
	}
}

// MarkdownRenderer renders assistant output with glamour, falling back to
// the raw text when glamour cannot render it.
type MarkdownRenderer struct {
	r *glamour.TermRenderer
}

// NewMarkdownRenderer creates a renderer that wraps at width.
func NewMarkdownRenderer(width int) *MarkdownRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return &MarkdownRenderer{}
	}
	return &MarkdownRenderer{r: r}
}

// Render returns content as styled terminal text.
func (mr *MarkdownRenderer) Render(content string) string {
	if mr.r == nil {
		return "  " + content
	}
	out, err := mr.r.Render(content)
	if err != nil {
		return "  " + content
	}
	return out
}

// wrapText wraps text to width with a 2-space indent on continuation lines.
// Uses rune-based indexing to safely handle multibyte UTF-8.
func wrapText(s string, width int) string {
	var out []string
	for _, para := range strings.Split(s, "\n") {
		out = append(out, wrapLine(para, width))
	}
	return strings.Join(out, "\n  ")
}

func wrapLine(s string, width int) string {
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return s
	}
	var lines []string
	for len(runes) > width {
		idx := -1
		for i := width - 1; i > 0; i-- {
			if runes[i] == ' ' {
				idx = i
				break
			}
		}
		if idx <= 0 {
			idx = width
		}
		lines = append(lines, string(runes[:idx]))
		runes = runes[idx:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return strings.Join(lines, "\n  ")
}

// ContentWidth calculates the content width respecting MaxContentWidth.
func ContentWidth(termWidth int) int {
	return theme.Clamp(termWidth-4, 40, theme.MaxContentWidth)
}

// Divider renders a horizontal line at the given width.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", max(width, 0)))
}

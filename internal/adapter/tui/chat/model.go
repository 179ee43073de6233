package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"steelwool/internal/adapter/tui/components"
	"steelwool/internal/adapter/tui/theme"
	"steelwool/internal/adapter/tui/uxerror"
	"steelwool/internal/domain"
	"steelwool/internal/usecase"
)

// Deps are the dependencies injected into the chat model.
type Deps struct {
	Conversation Turner
	// History is the conversation to continue; nil starts an empty one.
	History *usecase.History
	// Save persists the history after every completed turn. Optional.
	Save         func(ctx context.Context, h *usecase.History) error
	ProviderName string
	ModelName    string
	TranscriptID string
	Logger       *slog.Logger
}

// Model is the root Bubble Tea model for the chat UI.
type Model struct {
	deps Deps

	chatView  components.ChatView
	input     textarea.Model
	statusBar components.StatusBarModel
	spinner   spinner.Model

	history *usecase.History

	waiting   bool
	streamed  strings.Builder // content of the reply being streamed
	streaming bool            // an assistant entry for the streamed reply exists
	turnStart int             // history length once the user message is appended
	width     int
	height    int
	quitting  bool

	// gen is bumped on every new turn and on cancel; messages of older
	// turns are dropped.
	gen      uint64
	cancelFn context.CancelFunc
	events   <-chan tea.Msg
}

// maxChatEntries caps the entries kept on screen; the history itself is
// never trimmed.
const maxChatEntries = 1000

// New creates the chat model. Messages already in deps.History are shown.
func New(deps Deps) *Model {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	h := deps.History
	if h == nil {
		h = usecase.NewHistory()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.Prompt = "> "
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	sb := components.NewStatusBar()
	sb.ProviderName = deps.ProviderName
	sb.ModelName = deps.ModelName
	sb.TranscriptID = deps.TranscriptID
	sb.Hints = defaultHints()

	chatView := components.NewChatView(maxChatEntries)
	for _, msg := range h.Messages() {
		if msg.Content == "" {
			continue
		}
		chatView.Append(components.ChatMessage{Role: components.RoleFor(msg.Role), Content: msg.Content})
	}

	return &Model{
		deps:      deps,
		chatView:  chatView,
		input:     ta,
		statusBar: sb,
		spinner:   s,
		history:   h,
	}
}

// History returns the conversation as of the last completed turn.
func (m *Model) History() *usecase.History { return m.history }

// Init starts the spinner and the cursor blink.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textarea.Blink)
}

// Update handles all incoming messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case DeltaMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		m.handleDelta(msg.Delta)
		return m, listen(m.events)

	case TurnDoneMsg:
		if msg.Gen != m.gen {
			return m, nil
		}
		return m, m.handleTurnDone(msg)

	case SavedMsg:
		if msg.Err != nil {
			m.deps.Logger.Warn("save transcript failed", "error", msg.Err)
			m.chatView.Append(components.ChatMessage{
				Role:    components.RoleError,
				Content: "Could not save the conversation: " + msg.Err.Error(),
			})
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	if !m.waiting {
		if _, isMouse := msg.(tea.MouseMsg); !isMouse {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
	}
	var cmd tea.Cmd
	m.chatView, cmd = m.chatView.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View renders the entire chat UI.
func (m *Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = theme.Dim.Render("> waiting for response...") + "\n" +
			m.spinner.View() + " " + m.statusBar.Extra
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.chatView.View(),
		components.Divider(m.width),
		inputView,
		m.statusBar.View(),
	)
}

func (m *Model) layout() {
	const inputH, statusH, dividerH = 3, 1, 1
	contentH := max(m.height-inputH-statusH-dividerH, 5)

	m.statusBar.SetWidth(m.width)
	m.chatView.Resize(m.width, contentH)
	m.input.SetWidth(max(m.width-2, 10))
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			m.cancelTurn("Request cancelled.")
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyCtrlL:
		return m.handleSlashCommand("/clear")

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd

	case tea.KeyEnter:
		if msg.Alt || m.waiting {
			break
		}
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			return m, nil
		}
		m.input.Reset()
		if strings.HasPrefix(value, "/") {
			return m.handleSlashCommand(value)
		}
		return m, m.submit(value)
	}

	if m.waiting {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit starts a turn for text.
func (m *Model) submit(text string) tea.Cmd {
	if m.deps.Conversation == nil {
		m.chatView.Append(components.ChatMessage{Role: components.RoleError, Content: "No provider configured."})
		return nil
	}

	m.chatView.Append(components.ChatMessage{Role: components.RoleUser, Content: text})

	m.gen++
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelFn = cancel

	m.waiting = true
	m.streaming = false
	m.streamed.Reset()
	m.input.Blur()
	m.statusBar.Extra = "Thinking..."

	// The turn works on a copy so a cancelled turn cannot touch the
	// history the next turn starts from.
	working := usecase.NewHistory(m.history.Messages()...)
	m.turnStart = working.Len() + 1
	m.events = startTurn(ctx, m.deps.Conversation, working, text, m.gen)
	return listen(m.events)
}

func (m *Model) handleDelta(d domain.PromptResponseDelta) {
	if d.ToolCall != nil {
		m.statusBar.Extra = "Calling " + d.ToolCall.Name + "..."
	}
	if d.Content == "" {
		return
	}
	m.streamed.WriteString(d.Content)
	if !m.streaming {
		m.streaming = true
		m.chatView.Append(components.ChatMessage{Role: components.RoleAssistant, Content: m.streamed.String()})
		return
	}
	m.chatView.ReplaceLast(m.streamed.String())
}

func (m *Model) handleTurnDone(msg TurnDoneMsg) tea.Cmd {
	streamed := m.streaming
	m.finishTurn()

	if msg.Err != nil {
		if !errors.Is(msg.Err, context.Canceled) {
			m.chatView.Append(components.ChatMessage{
				Role:    components.RoleError,
				Content: uxerror.Humanize(msg.Err).Render(),
			})
		}
		// Keep the history as it was before the failed turn.
		return nil
	}
	if msg.History == nil {
		return nil
	}

	added := msg.History.Messages()
	if m.turnStart <= len(added) {
		added = added[m.turnStart:]
	} else {
		added = nil
	}
	for i, hm := range added {
		if hm.Content == "" {
			continue
		}
		// The first model message is the reply that was streamed already.
		if i == 0 && streamed && hm.Role == domain.RoleModel {
			m.chatView.ReplaceLast(hm.Content)
			continue
		}
		m.chatView.Append(components.ChatMessage{Role: components.RoleFor(hm.Role), Content: hm.Content})
	}

	m.history = msg.History
	return saveCmd(m.deps.Save, m.history)
}

func (m *Model) finishTurn() {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.events = nil
	m.waiting = false
	m.streaming = false
	m.streamed.Reset()
	m.statusBar.Extra = ""
	m.input.Focus()
}

// cancelTurn abandons the in-flight turn and bumps the generation so its
// remaining messages are ignored.
func (m *Model) cancelTurn(reason string) {
	m.gen++
	m.finishTurn()
	m.chatView.Append(components.ChatMessage{Role: components.RoleSystem, Content: reason})
}

func (m *Model) handleSlashCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/help":
		m.chatView.Append(components.ChatMessage{
			Role: components.RoleSystem,
			Content: `Available commands:
  /help      - Show this help
  /clear     - Start a new conversation
  /cancel    - Cancel the active request
  /history   - Show conversation size
  /quit      - Exit

Keybindings:
  Enter      - Send message
  Alt+Enter  - New line
  PgUp/PgDn  - Scroll chat
  Ctrl+L     - Clear conversation
  Ctrl+C     - Cancel/Quit`,
		})
		return m, nil

	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit

	case "/clear":
		if m.waiting {
			m.cancelTurn("Request cancelled.")
		}
		m.history = usecase.NewHistory()
		m.chatView.Reset()
		m.chatView.Append(components.ChatMessage{
			Role:    components.RoleSystem,
			Content: theme.Symbols.Success + " Conversation cleared.",
		})
		return m, saveCmd(m.deps.Save, m.history)

	case "/cancel":
		if m.waiting {
			m.cancelTurn("Request cancelled.")
		} else {
			m.chatView.Append(components.ChatMessage{Role: components.RoleSystem, Content: "No active request to cancel."})
		}
		return m, nil

	case "/history":
		m.chatView.Append(components.ChatMessage{
			Role:    components.RoleSystem,
			Content: fmt.Sprintf("%d messages in this conversation.", m.history.Len()),
		})
		return m, nil

	default:
		m.chatView.Append(components.ChatMessage{
			Role:    components.RoleSystem,
			Content: fmt.Sprintf("Unknown command: %s. Type /help for available commands.", fields[0]),
		})
		return m, nil
	}
}

func defaultHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "Alt+Enter", Desc: "Newline"},
		{Key: "?", Desc: "/help"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}

// Run starts the chat program and blocks until the user quits. It returns
// the final history.
func Run(ctx context.Context, deps Deps) (*usecase.History, error) {
	m := New(deps)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return m.History(), err
	}
	return m.History(), nil
}

package components

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// ChatView shows a message list in a scrollable viewport. It follows new
// output while the user is at the bottom and stops following once they
// scroll up, until they scroll back down.
type ChatView struct {
	Messages MessageListModel

	vp     viewport.Model
	sized  bool
	follow bool
}

// NewChatView creates a chat view keeping at most maxMessages entries
// (0 keeps all). The viewport is created on the first Resize.
func NewChatView(maxMessages int) ChatView {
	list := NewMessageList()
	list.MaxMessages = maxMessages
	return ChatView{Messages: list, follow: true}
}

// Resize sets the viewport dimensions and re-renders.
func (v *ChatView) Resize(w, h int) {
	v.Messages.SetWidth(w)
	if v.sized {
		v.vp.Width, v.vp.Height = w, h
	} else {
		v.vp = viewport.New(w, h)
		v.vp.MouseWheelEnabled = true
		v.vp.MouseWheelDelta = 3
		v.sized = true
	}
	v.sync()
}

// Append adds msg to the end of the list.
func (v *ChatView) Append(msg ChatMessage) {
	v.Messages.Add(msg)
	v.sync()
}

// ReplaceLast swaps the content of the newest entry, for streamed replies.
func (v *ChatView) ReplaceLast(content string) {
	v.Messages.UpdateLast(content)
	v.sync()
}

// Reset empties the view and scrolls back to the top.
func (v *ChatView) Reset() {
	v.Messages.Clear()
	v.follow = true
	v.sync()
	v.vp.GotoTop()
}

// Update forwards scroll input to the viewport.
func (v ChatView) Update(msg tea.Msg) (ChatView, tea.Cmd) {
	if !v.sized {
		return v, nil
	}
	var cmd tea.Cmd
	v.vp, cmd = v.vp.Update(msg)
	v.follow = v.vp.AtBottom()
	return v, cmd
}

// View renders the visible part of the conversation.
func (v ChatView) View() string {
	if !v.sized {
		return "  Initializing..."
	}
	return v.vp.View()
}

func (v *ChatView) sync() {
	if !v.sized {
		return
	}
	v.vp.SetContent(v.Messages.View())
	if v.follow {
		v.vp.GotoBottom()
	}
}

package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"steelwool/internal/domain"
	"steelwool/internal/usecase"
)

// Turner runs one conversation turn. *usecase.Conversation implements it.
type Turner interface {
	Turn(ctx context.Context, h *usecase.History, userText string, onDelta func(domain.PromptResponseDelta)) (*usecase.History, error)
}

// startTurn runs the turn in the background and feeds its deltas and final
// result into the returned channel, which is closed when the turn ends.
// Sends give up once ctx is cancelled so an abandoned turn never blocks.
func startTurn(ctx context.Context, conv Turner, h *usecase.History, text string, gen uint64) <-chan tea.Msg {
	ch := make(chan tea.Msg, 16)
	send := func(msg tea.Msg) {
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(ch)
		out, err := conv.Turn(ctx, h, text, func(d domain.PromptResponseDelta) {
			send(DeltaMsg{Delta: d, Gen: gen})
		})
		send(TurnDoneMsg{History: out, Err: err, Gen: gen})
	}()
	return ch
}

// listen waits for the next message of a running turn.
func listen(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// saveCmd persists h through save.
func saveCmd(save func(context.Context, *usecase.History) error, h *usecase.History) tea.Cmd {
	if save == nil || h == nil {
		return nil
	}
	return func() tea.Msg {
		return SavedMsg{Err: save(context.Background(), h)}
	}
}

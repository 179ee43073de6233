// Package chat implements the interactive Bubble Tea chat UI.
package chat

import (
	"steelwool/internal/domain"
	"steelwool/internal/usecase"
)

// DeltaMsg carries one streamed fragment of the current reply.
// Gen identifies the turn so fragments of a cancelled turn can be dropped.
type DeltaMsg struct {
	Delta domain.PromptResponseDelta
	Gen   uint64
}

// TurnDoneMsg signals that a turn finished, successfully or not.
type TurnDoneMsg struct {
	History *usecase.History
	Err     error
	Gen     uint64
}

// SavedMsg reports the outcome of persisting the conversation.
type SavedMsg struct {
	Err error
}

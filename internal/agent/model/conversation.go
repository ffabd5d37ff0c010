package model

import (
	"context"
)

// StateRepository is the conversation checkpoint collaborator. It is keyed by
// conversation ID and provides at-least atomic-per-turn durability: the graph
// loads (or creates) the full state at the start of a turn and saves it once
// at the end. Turns for one conversation are serialized upstream, so no
// concurrent-write resolution is needed here.
type StateRepository interface {
	// LoadOrCreate returns the persisted state for the conversation, or a
	// fresh empty state when none exists yet.
	LoadOrCreate(ctx context.Context, conversationID string) (*ConversationState, error)

	// Save persists the full state for the conversation.
	Save(ctx context.Context, state *ConversationState) error

	// Clear removes the persisted state for a conversation.
	Clear(ctx context.Context, conversationID string) error
}

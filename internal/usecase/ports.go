package usecase

import (
	"context"

	"cart-recovery-agent/internal/domain"
)

// Store is the durable conversation state. Mutating methods persist a full
// snapshot before returning and never fail.
type Store interface {
	Conversation(key string) (domain.ConversationRecord, bool)
	EnsureConversation(ctx context.Context, key string) domain.ConversationRecord
	ResetConversation(ctx context.Context, key string, data domain.CustomerData)
	AppendTurns(ctx context.Context, key string, turns ...domain.Turn)
	IsAllowed(key string) bool
	Alias(raw string) (string, bool)
	LearnAlias(ctx context.Context, raw, key string)
	AllowedConversations() []domain.ConversationRecord
}

type Sender interface {
	Send(ctx context.Context, to, text string) error
	SendMedia(ctx context.Context, to, mediaURL, caption string) error
}

type Presence interface {
	StartTyping(ctx context.Context, chatID string) error
	ClearTyping(ctx context.Context, chatID string) error
}

type HistoryFetcher interface {
	FetchMessages(ctx context.Context, chatID string, limit int) ([]domain.ChannelMessage, error)
}

type AddressResolver interface {
	ResolveAddress(ctx context.Context, candidate string) (string, error)
}

// Transport is everything the core needs from the chat channel.
type Transport interface {
	Sender
	Presence
	HistoryFetcher
	AddressResolver
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

// Generator produces the next assistant text for a conversation.
type Generator interface {
	Generate(ctx context.Context, history []domain.Turn, data domain.CustomerData) (string, error)
}

// MessageRecorder receives every observed channel message for diagnostics.
type MessageRecorder interface {
	Record(msg domain.ChannelMessage)
}

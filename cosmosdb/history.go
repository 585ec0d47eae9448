package cosmosdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// MessageStore is the subset of Store that History needs.
type MessageStore interface {
	Get(ctx context.Context, userID, id string) (Conversation, error)
	AppendMessages(ctx context.Context, userID, id string, msgs ...Message) error
	ReplaceMessages(ctx context.Context, userID, id string, msgs []Message) error
}

// History exposes one conversation as a langchaingo chat message history, so
// it can back a conversation buffer memory.
type History struct {
	store          MessageStore
	userID         string
	conversationID string
}

var _ schema.ChatMessageHistory = (*History)(nil)

func NewHistory(store MessageStore, userID, conversationID string) *History {
	return &History{store: store, userID: userID, conversationID: conversationID}
}

func (h *History) AddMessage(ctx context.Context, message llms.ChatMessage) error {
	senderType, err := senderTypeOf(message.GetType())
	if err != nil {
		return err
	}
	return h.store.AppendMessages(ctx, h.userID, h.conversationID, h.message(senderType, message.GetContent()))
}

func (h *History) AddUserMessage(ctx context.Context, text string) error {
	return h.store.AppendMessages(ctx, h.userID, h.conversationID, h.message(SenderUser, text))
}

func (h *History) AddAIMessage(ctx context.Context, text string) error {
	return h.store.AppendMessages(ctx, h.userID, h.conversationID, h.message(SenderBot, text))
}

// Clear drops the messages but keeps the conversation.
func (h *History) Clear(ctx context.Context) error {
	return h.store.ReplaceMessages(ctx, h.userID, h.conversationID, nil)
}

// Messages returns the conversation as chat messages. A missing conversation
// has no history.
func (h *History) Messages(ctx context.Context) ([]llms.ChatMessage, error) {
	c, err := h.store.Get(ctx, h.userID, h.conversationID)
	if errors.Is(err, ErrNotFound) {
		return []llms.ChatMessage{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]llms.ChatMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, toChatMessage(m))
	}
	return out, nil
}

func (h *History) SetMessages(ctx context.Context, messages []llms.ChatMessage) error {
	msgs := make([]Message, 0, len(messages))
	for _, cm := range messages {
		senderType, err := senderTypeOf(cm.GetType())
		if err != nil {
			return err
		}
		msgs = append(msgs, h.message(senderType, cm.GetContent()))
	}
	return h.store.ReplaceMessages(ctx, h.userID, h.conversationID, msgs)
}

func (h *History) message(senderType, content string) Message {
	m := Message{Content: content, SenderType: senderType}
	if senderType == SenderUser {
		id := h.userID
		m.SenderID = &id
	}
	return m
}

func senderTypeOf(t llms.ChatMessageType) (string, error) {
	switch t {
	case llms.ChatMessageTypeHuman:
		return SenderUser, nil
	case llms.ChatMessageTypeAI:
		return SenderBot, nil
	case llms.ChatMessageTypeSystem:
		return SenderSystem, nil
	default:
		return "", fmt.Errorf("unsupported chat message type %q", t)
	}
}

func toChatMessage(m Message) llms.ChatMessage {
	switch m.SenderType {
	case SenderUser:
		return llms.HumanChatMessage{Content: m.Content}
	case SenderSystem:
		return llms.SystemChatMessage{Content: m.Content}
	default:
		return llms.AIChatMessage{Content: m.Content}
	}
}

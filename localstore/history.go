package localstore

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/abhirockzz/livestock-chat-assistant/state"
)

// SaveHistory stores the transcript under KeyChatHistory. Superseded by
// server-side history; kept so transcripts written by older clients can be
// read back.
func SaveHistory(ctx context.Context, s Store, messages []state.ChatMessage) error {
	data, err := json.Marshal(messages)
	if err != nil {
		return err
	}
	return s.Set(ctx, KeyChatHistory, string(data))
}

// LoadHistory never fails: a missing or unreadable transcript is logged and
// reported as empty.
func LoadHistory(ctx context.Context, s Store, logger *slog.Logger) []state.ChatMessage {
	raw, ok, err := s.Get(ctx, KeyChatHistory)
	if err != nil {
		logger.Error("loading chat history", "error", err)
		return []state.ChatMessage{}
	}
	if !ok || raw == "" {
		return []state.ChatMessage{}
	}

	var messages []state.ChatMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		logger.Error("decoding chat history", "error", err)
		return []state.ChatMessage{}
	}
	if messages == nil {
		messages = []state.ChatMessage{}
	}
	return messages
}

func ClearHistory(ctx context.Context, s Store) error {
	return s.Delete(ctx, KeyChatHistory)
}

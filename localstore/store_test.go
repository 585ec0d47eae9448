package localstore

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/abhirockzz/livestock-chat-assistant/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	f, err := OpenFile(filepath.Join(t.TempDir(), "nested", "client.json"))
	require.NoError(t, err)
	return map[string]Store{
		"Memory": NewMemory(),
		"File":   f,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, KeyCurrentConversation)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, KeyCurrentConversation, "c1"))
			require.NoError(t, s.Set(ctx, KeyUserToken, "tok"))

			v, ok, err := s.Get(ctx, KeyCurrentConversation)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "c1", v)

			require.NoError(t, s.Delete(ctx, KeyCurrentConversation))
			require.NoError(t, s.Delete(ctx, KeyCurrentConversation))

			_, ok, err = s.Get(ctx, KeyCurrentConversation)
			require.NoError(t, err)
			assert.False(t, ok)

			v, _, _ = s.Get(ctx, KeyUserToken)
			assert.Equal(t, "tok", v)
		})
	}
}

func TestFileSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "client.json")

	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Set(ctx, KeyCurrentConversation, "abc123"))

	reopened, err := OpenFile(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, KeyCurrentConversation)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)
}

func TestFileCorrupt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "client.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	f, err := OpenFile(path)
	require.NoError(t, err)

	_, _, err = f.Get(ctx, KeyCurrentConversation)
	assert.ErrorIs(t, err, ErrCorrupt)

	// A write replaces the corrupt file.
	require.NoError(t, f.Set(ctx, KeyCurrentConversation, "c1"))
	v, ok, err := f.Get(ctx, KeyCurrentConversation)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c1", v)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	s := NewMemory()

	assert.Empty(t, LoadHistory(ctx, s, logger))

	msgs := []state.ChatMessage{
		{ID: "1", Text: "Xin chào", IsUser: true, Timestamp: "2025-03-01T08:00:00Z"},
		{ID: "2", Text: "Chào bạn", IsUser: false, Timestamp: "2025-03-01T08:00:01Z"},
	}
	require.NoError(t, SaveHistory(ctx, s, msgs))
	assert.Equal(t, msgs, LoadHistory(ctx, s, logger))

	require.NoError(t, ClearHistory(ctx, s))
	assert.Empty(t, LoadHistory(ctx, s, logger))

	require.NoError(t, s.Set(ctx, KeyChatHistory, "garbage"))
	loaded := LoadHistory(ctx, s, logger)
	assert.NotNil(t, loaded)
	assert.Empty(t, loaded)
}

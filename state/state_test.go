package state

import (
	"sync"
	"testing"
	"time"

	"github.com/abhirockzz/livestock-chat-assistant/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func TestReduceChat(t *testing.T) {
	t.Run("Add message does not alias input", func(t *testing.T) {
		before := Chat{Messages: make([]ChatMessage, 1, 4)}
		after := ReduceChat(before, AddMessage{Message: NewMessage("m2", "hi", true, t0)})

		require.Len(t, after.Messages, 2)
		assert.Len(t, before.Messages, 1)
		assert.Equal(t, "hi", after.Messages[1].Text)
		assert.Equal(t, "2025-03-01T08:00:00Z", after.Messages[1].Timestamp)

		// Appending to before again must not overwrite after's second entry.
		other := ReduceChat(before, AddMessage{Message: NewMessage("m3", "other", true, t0)})
		assert.Equal(t, "hi", after.Messages[1].Text)
		assert.Equal(t, "other", other.Messages[1].Text)
	})

	t.Run("Set messages replaces wholesale", func(t *testing.T) {
		s := Chat{Messages: []ChatMessage{{ID: "old"}}}
		s = ReduceChat(s, SetMessages{Messages: []ChatMessage{{ID: "a"}, {ID: "b"}}})
		require.Len(t, s.Messages, 2)
		assert.Equal(t, "a", s.Messages[0].ID)

		s = ReduceChat(s, SetMessages{})
		assert.NotNil(t, s.Messages)
		assert.Empty(t, s.Messages)
	})

	t.Run("Loading and errors", func(t *testing.T) {
		s := ReduceChat(Chat{Error: "old"}, SetLoading{Loading: true})
		assert.True(t, s.IsLoading)
		assert.Empty(t, s.Error)

		s = ReduceChat(s, SetError{Error: "boom"})
		assert.False(t, s.IsLoading)
		assert.Equal(t, "boom", s.Error)

		s = ReduceChat(s, ClearError{})
		assert.Empty(t, s.Error)
	})

	t.Run("Toggle", func(t *testing.T) {
		s := ReduceChat(Chat{}, ToggleChat{})
		assert.True(t, s.IsOpen)
		s = ReduceChat(s, ToggleChat{})
		assert.False(t, s.IsOpen)
	})

	t.Run("Restore history only into empty transcript", func(t *testing.T) {
		stored := []ChatMessage{{ID: "legacy"}}

		s := ReduceChat(Chat{}, RestoreHistory{Messages: stored})
		require.Len(t, s.Messages, 1)

		s = ReduceChat(Chat{Messages: []ChatMessage{{ID: "live"}}}, RestoreHistory{Messages: stored})
		require.Len(t, s.Messages, 1)
		assert.Equal(t, "live", s.Messages[0].ID)
	})
}

func TestReduceAuth(t *testing.T) {
	s := ReduceAuth(Auth{Status: StatusIdle}, LoginStarted{})
	assert.Equal(t, StatusLoading, s.Status)

	s = ReduceAuth(s, LoginSucceeded{User: User{ID: "u1"}, Token: "tok"})
	assert.Equal(t, StatusSucceeded, s.Status)
	assert.Equal(t, "tok", s.Token)
	require.NotNil(t, s.User)
	assert.Equal(t, "u1", s.User.ID)

	s = ReduceAuth(s, Logout{})
	assert.Equal(t, Auth{Status: StatusIdle}, s)

	s = ReduceAuth(s, LoginFailed{Error: "Login failed"})
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "Login failed", s.Error)
}

func TestReduceBatches(t *testing.T) {
	s := ReduceBatches(Batches{}, BatchesRequested{})
	assert.Equal(t, StatusLoading, s.Status)

	s = ReduceBatches(s, BatchesLoaded{Items: []api.Batch{{AssetID: "b1"}}})
	assert.Equal(t, StatusSucceeded, s.Status)
	require.Len(t, s.Items, 1)

	s = ReduceBatches(s, BatchesFailed{})
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, msgBatchesFailed, s.Error)
}

func TestStore(t *testing.T) {
	store := NewStore(Initial())

	var seen []int
	store.Subscribe(func(s State) {
		seen = append(seen, len(s.Chat.Messages))
	})

	store.Dispatch(AddMessage{Message: ChatMessage{ID: "1"}})
	store.Dispatch(AddMessage{Message: ChatMessage{ID: "2"}})
	store.Dispatch(TokenRestored{Token: "tok"})

	assert.Equal(t, []int{1, 2, 2}, seen)
	assert.Equal(t, "tok", store.Token())
	assert.Len(t, store.State().Chat.Messages, 2)
}

func TestStoreConcurrentDispatch(t *testing.T) {
	store := NewStore(Initial())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Dispatch(AddMessage{Message: ChatMessage{Text: "x"}})
		}()
	}
	wg.Wait()

	assert.Len(t, store.State().Chat.Messages, 50)
}

package server

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/abhirockzz/livestock-chat-assistant/cosmosdb"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/schema"
)

// Repository persists conversations per user.
type Repository interface {
	List(ctx context.Context, userID string, limit, offset int) ([]cosmosdb.Conversation, error)
	Get(ctx context.Context, userID, id string) (cosmosdb.Conversation, error)
	Create(ctx context.Context, userID, title string) (cosmosdb.Conversation, error)
	UpdateTitle(ctx context.Context, userID, id, title string) (cosmosdb.Conversation, error)
	Delete(ctx context.Context, userID, id string) error
	History(userID, conversationID string) schema.ChatMessageHistory
}

type cosmosRepository struct {
	*cosmosdb.Store
}

// NewCosmosRepository adapts a Cosmos DB store to Repository.
func NewCosmosRepository(store *cosmosdb.Store) Repository {
	return cosmosRepository{Store: store}
}

func (r cosmosRepository) History(userID, conversationID string) schema.ChatMessageHistory {
	return r.Store.History(userID, conversationID)
}

// MemoryRepository keeps conversations in process memory.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]map[string]*cosmosdb.Conversation
	now   func() time.Time
	last  time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[string]map[string]*cosmosdb.Conversation),
		now:   time.Now,
	}
}

func (m *MemoryRepository) List(_ context.Context, userID string, limit, offset int) ([]cosmosdb.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]cosmosdb.Conversation, 0, len(m.users[userID]))
	for _, c := range m.users[userID] {
		summary := *c
		summary.Messages = nil
		all = append(all, summary)
	}
	slices.SortFunc(all, func(a, b cosmosdb.Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})

	offset = max(offset, 0)
	if offset >= len(all) {
		return []cosmosdb.Conversation{}, nil
	}
	end := len(all)
	if limit > 0 {
		end = min(offset+limit, end)
	}
	return all[offset:end], nil
}

func (m *MemoryRepository) Get(_ context.Context, userID, id string) (cosmosdb.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.users[userID][id]
	if !ok {
		return cosmosdb.Conversation{}, cosmosdb.ErrNotFound
	}
	out := *c
	out.Messages = slices.Clone(c.Messages)
	return out, nil
}

func (m *MemoryRepository) Create(_ context.Context, userID, title string) (cosmosdb.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.tick()
	c := &cosmosdb.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		Messages:  []cosmosdb.Message{},
	}
	c.Touch(now)
	if m.users[userID] == nil {
		m.users[userID] = make(map[string]*cosmosdb.Conversation)
	}
	m.users[userID][c.ID] = c
	return *c, nil
}

func (m *MemoryRepository) UpdateTitle(_ context.Context, userID, id, title string) (cosmosdb.Conversation, error) {
	var out cosmosdb.Conversation
	err := m.update(userID, id, func(c *cosmosdb.Conversation) {
		c.Title = title
		out = *c
	})
	out.Messages = nil
	return out, err
}

func (m *MemoryRepository) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID][id]; !ok {
		return cosmosdb.ErrNotFound
	}
	delete(m.users[userID], id)
	return nil
}

func (m *MemoryRepository) AppendMessages(_ context.Context, userID, id string, msgs ...cosmosdb.Message) error {
	return m.update(userID, id, func(c *cosmosdb.Conversation) {
		c.Messages = append(c.Messages, cosmosdb.Stamp(id, msgs, m.now())...)
	})
}

func (m *MemoryRepository) ReplaceMessages(_ context.Context, userID, id string, msgs []cosmosdb.Message) error {
	return m.update(userID, id, func(c *cosmosdb.Conversation) {
		c.Messages = cosmosdb.Stamp(id, msgs, m.now())
	})
}

func (m *MemoryRepository) History(userID, conversationID string) schema.ChatMessageHistory {
	return cosmosdb.NewHistory(m, userID, conversationID)
}

func (m *MemoryRepository) update(userID, id string, fn func(*cosmosdb.Conversation)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.users[userID][id]
	if !ok {
		return cosmosdb.ErrNotFound
	}
	c.Touch(m.tick())
	fn(c)
	return nil
}

// tick returns a strictly increasing timestamp so list order follows write
// order. Callers hold m.mu.
func (m *MemoryRepository) tick() time.Time {
	now := m.now().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	return now
}

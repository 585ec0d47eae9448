// Package cosmosdb stores chat conversations in Azure Cosmos DB, one item per
// conversation partitioned by user id.
package cosmosdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/google/uuid"
)

const (
	PartitionKeyPath = "/userid"

	SenderUser   = "user"
	SenderBot    = "bot"
	SenderSystem = "system"

	maxReplaceAttempts = 5
)

var ErrNotFound = errors.New("conversation not found")

// Conversation is the stored item. Messages is empty in list results.
type Conversation struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userid"`
	Email      string    `json:"email,omitempty"`
	FacilityID string    `json:"facilityID,omitempty"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	// UpdatedMicros mirrors UpdatedAt as a number. The JSON form of a
	// time.Time trims trailing zeros and does not sort as a string.
	UpdatedMicros int64     `json:"updated_us"`
	Messages      []Message `json:"messages"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	SenderType     string    `json:"sender_type"`
	SenderID       *string   `json:"sender_id"`
	Timestamp      time.Time `json:"timestamp"`
}

type Store struct {
	container *azcosmos.ContainerClient
	now       func() time.Time
}

// New opens databaseName/containerName. The container must exist and be
// partitioned on PartitionKeyPath.
func New(client *azcosmos.Client, databaseName, containerName string) (*Store, error) {
	database, err := client.NewDatabase(databaseName)
	if err != nil {
		return nil, err
	}

	container, err := database.NewContainer(containerName)
	if err != nil {
		return nil, err
	}

	return NewFromContainer(container), nil
}

func NewFromContainer(container *azcosmos.ContainerClient) *Store {
	return &Store{container: container, now: time.Now}
}

// List returns the user's conversations, most recently updated first,
// without their messages.
func (s *Store) List(ctx context.Context, userID string, limit, offset int) ([]Conversation, error) {
	query := fmt.Sprintf(
		"SELECT c.id, c.userid, c.email, c.facilityID, c.title, c.created_at, c.updated_at FROM c WHERE c.userid = @userid ORDER BY c.updated_us DESC OFFSET %d LIMIT %d",
		max(offset, 0), max(limit, 1))

	pk := azcosmos.NewPartitionKeyString(userID)
	pager := s.container.NewQueryItemsPager(query, pk, &azcosmos.QueryOptions{
		QueryParameters: []azcosmos.QueryParameter{{Name: "@userid", Value: userID}},
	})

	conversations := []Conversation{}
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying conversations: %w", err)
		}
		for _, raw := range page.Items {
			var c Conversation
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, fmt.Errorf("decoding conversation: %w", err)
			}
			conversations = append(conversations, c)
		}
	}
	return conversations, nil
}

func (s *Store) Get(ctx context.Context, userID, id string) (Conversation, error) {
	c, _, err := s.read(ctx, userID, id)
	return c, err
}

func (s *Store) Create(ctx context.Context, userID, title string) (Conversation, error) {
	now := s.now().UTC()
	c := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		Messages:  []Message{},
	}
	c.Touch(now)

	body, err := json.Marshal(c)
	if err != nil {
		return Conversation{}, err
	}
	if _, err := s.container.CreateItem(ctx, azcosmos.NewPartitionKeyString(userID), body, nil); err != nil {
		return Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateTitle(ctx context.Context, userID, id, title string) (Conversation, error) {
	return s.update(ctx, userID, id, func(c *Conversation) {
		c.Title = title
	})
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	_, err := s.container.DeleteItem(ctx, azcosmos.NewPartitionKeyString(userID), id, nil)
	if isStatus(err, http.StatusNotFound) {
		return ErrNotFound
	}
	return err
}

// AppendMessages adds msgs to the end of the conversation. Message ids,
// conversation ids and timestamps are filled in when missing.
func (s *Store) AppendMessages(ctx context.Context, userID, id string, msgs ...Message) error {
	_, err := s.update(ctx, userID, id, func(c *Conversation) {
		c.Messages = append(c.Messages, Stamp(id, msgs, s.now())...)
	})
	return err
}

// ReplaceMessages overwrites the conversation's messages.
func (s *Store) ReplaceMessages(ctx context.Context, userID, id string, msgs []Message) error {
	_, err := s.update(ctx, userID, id, func(c *Conversation) {
		c.Messages = Stamp(id, msgs, s.now())
	})
	return err
}

// History returns a langchaingo chat history bound to one conversation.
func (s *Store) History(userID, conversationID string) *History {
	return NewHistory(s, userID, conversationID)
}

// Touch sets the update time.
func (c *Conversation) Touch(now time.Time) {
	c.UpdatedAt = now.UTC()
	c.UpdatedMicros = c.UpdatedAt.UnixMicro()
}

// Stamp fills in ids, the conversation id and missing timestamps.
func Stamp(conversationID string, msgs []Message, now time.Time) []Message {
	out := make([]Message, 0, len(msgs))
	now = now.UTC()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.ConversationID = conversationID
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		out = append(out, m)
	}
	return out
}

// update applies fn with optimistic concurrency, retrying when another
// writer replaced the item in between.
func (s *Store) update(ctx context.Context, userID, id string, fn func(*Conversation)) (Conversation, error) {
	pk := azcosmos.NewPartitionKeyString(userID)

	for attempt := 0; ; attempt++ {
		c, etag, err := s.read(ctx, userID, id)
		if err != nil {
			return Conversation{}, err
		}

		fn(&c)
		c.Touch(s.now())

		body, err := json.Marshal(c)
		if err != nil {
			return Conversation{}, err
		}

		_, err = s.container.ReplaceItem(ctx, pk, id, body, &azcosmos.ItemOptions{IfMatchEtag: &etag})
		if err == nil {
			return c, nil
		}
		if !isStatus(err, http.StatusPreconditionFailed) || attempt+1 >= maxReplaceAttempts {
			return Conversation{}, fmt.Errorf("replacing conversation %s: %w", id, err)
		}
	}
}

func (s *Store) read(ctx context.Context, userID, id string) (Conversation, azcore.ETag, error) {
	resp, err := s.container.ReadItem(ctx, azcosmos.NewPartitionKeyString(userID), id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return Conversation{}, "", ErrNotFound
		}
		return Conversation{}, "", fmt.Errorf("reading conversation %s: %w", id, err)
	}

	var c Conversation
	if err := json.Unmarshal(resp.Value, &c); err != nil {
		return Conversation{}, "", fmt.Errorf("decoding conversation %s: %w", id, err)
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	return c, resp.ETag, nil
}

func isStatus(err error, status int) bool {
	var responseErr *azcore.ResponseError
	if errors.As(err, &responseErr) {
		return responseErr.StatusCode == status
	}
	return false
}

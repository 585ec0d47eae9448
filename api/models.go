package api

import (
	"encoding/json"
	"time"
)

// Conversation is a conversation summary as returned by /conversations.
type Conversation struct {
	ID         string    `json:"_id"`
	Title      string    `json:"title"`
	Email      string    `json:"email"`
	FacilityID string    `json:"facilityID"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UnmarshalJSON accepts timestamps in any common ISO 8601 form. A missing
// or unparseable timestamp decodes as the zero time instead of failing the
// whole list.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	type plain Conversation
	aux := struct {
		*plain
		CreatedAt any `json:"created_at"`
		UpdatedAt any `json:"updated_at"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.CreatedAt = parseTimestamp(aux.CreatedAt)
	c.UpdatedAt = parseTimestamp(aux.UpdatedAt)
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTimestamp reads a string timestamp, or a number of milliseconds since
// the epoch. Timestamps without a zone are taken as UTC.
func parseTimestamp(v any) time.Time {
	switch v := v.(type) {
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t
			}
		}
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Time{}
}

type SenderType string

const (
	SenderUser SenderType = "user"
	SenderBot  SenderType = "bot"
)

// Message is one stored message of a conversation.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Content        string     `json:"content"`
	SenderType     SenderType `json:"sender_type"`
	SenderID       *string    `json:"sender_id"`
	Timestamp      string     `json:"timestamp"`
}

type MessagesPage struct {
	Messages      []Message `json:"messages"`
	Total         int       `json:"total"`
	TotalMessages int       `json:"total_messages"`
	Limit         int       `json:"limit"`
	Offset        int       `json:"offset"`
}

type MessagesResponse struct {
	Success bool         `json:"success"`
	Data    MessagesPage `json:"data"`
}

type TitleRequest struct {
	Title string `json:"title"`
}

type ChatRequest struct {
	Question          string `json:"question"`
	ConversationTitle string `json:"conversation_title,omitempty"`
}

// ChatResponse tolerates the field spellings the backend has used over time.
type ChatResponse struct {
	Answer              string `json:"answer,omitempty"`
	Response            string `json:"response,omitempty"`
	Message             string `json:"message,omitempty"`
	Error               string `json:"error,omitempty"`
	ConversationIDCamel string `json:"conversationId,omitempty"`
	ConversationIDSnake string `json:"conversation_id,omitempty"`
	ConversationTitle   string `json:"conversation_title,omitempty"`
	UserMessageID       string `json:"user_message_id,omitempty"`
	BotMessageID        string `json:"bot_message_id,omitempty"`
}

// Reply returns the assistant text, falling back to a fixed apology when the
// backend sent none.
func (r ChatResponse) Reply() string {
	switch {
	case r.Answer != "":
		return r.Answer
	case r.Response != "":
		return r.Response
	case r.Message != "":
		return r.Message
	default:
		return MsgNoAnswer
	}
}

// ConversationID returns the server-assigned conversation id, if any.
func (r ChatResponse) ConversationID() string {
	if r.ConversationIDCamel != "" {
		return r.ConversationIDCamel
	}
	return r.ConversationIDSnake
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type LoginResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Batch is a farming asset owned by the caller's facility.
type Batch struct {
	AssetID          string   `json:"assetID"`
	SKU              string   `json:"sku,omitempty"`
	ProductName      string   `json:"productName"`
	Status           string   `json:"status"`
	OwnerOrg         string   `json:"ownerOrg,omitempty"`
	OriginalQuantity Quantity `json:"originalQuantity"`
	CurrentQuantity  Quantity `json:"currentQuantity"`
	AverageWeight    Quantity `json:"averageWeight"`
}

type KnowledgeItem struct {
	ID              string `json:"_id,omitempty"`
	Content         string `json:"content,omitempty"`
	Stage           string `json:"stage,omitempty"`
	Species         string `json:"species,omitempty"`
	MinAgeDays      *int   `json:"min_age_days,omitempty"`
	MaxAgeDays      *int   `json:"max_age_days,omitempty"`
	RecommendedFeed string `json:"recommended_feed,omitempty"`
	FeedDosage      string `json:"feed_dosage,omitempty"`
	Medication      string `json:"medication,omitempty"`
	Notes           string `json:"notes,omitempty"`
	CreatedByEmail  string `json:"createdByEmail,omitempty"`
	FacilityID      string `json:"facilityID,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

type UploadKnowledgeResponse struct {
	Success  bool            `json:"success"`
	Inserted int             `json:"inserted"`
	Items    []KnowledgeItem `json:"items,omitempty"`
}

type MyKnowledgeResponse struct {
	Count      int             `json:"count"`
	Items      []KnowledgeItem `json:"items"`
	FacilityID string          `json:"facilityID,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

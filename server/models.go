package server

// Request and response types
type TitleRequest struct {
	Title string `json:"title"`
}

type ChatRequest struct {
	Question          string `json:"question"`
	ConversationTitle string `json:"conversation_title,omitempty"`
}

type ChatResponse struct {
	Answer            string `json:"answer"`
	ConversationID    string `json:"conversationId"`
	ConversationTitle string `json:"conversation_title"`
	UserMessageID     string `json:"user_message_id,omitempty"`
	BotMessageID      string `json:"bot_message_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type ConversationInfo struct {
	ID         string `json:"_id"`
	Title      string `json:"title"`
	Email      string `json:"email,omitempty"`
	FacilityID string `json:"facilityID,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type MessageInfo struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	Content        string  `json:"content"`
	SenderType     string  `json:"sender_type"`
	SenderID       *string `json:"sender_id"`
	Timestamp      string  `json:"timestamp"`
}

type MessagesPage struct {
	Messages      []MessageInfo `json:"messages"`
	Total         int           `json:"total"`
	TotalMessages int           `json:"total_messages"`
	Limit         int           `json:"limit"`
	Offset        int           `json:"offset"`
}

type ChatHistoryResponse struct {
	Success bool         `json:"success"`
	Data    MessagesPage `json:"data"`
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/abhirockzz/livestock-chat-assistant/cosmosdb"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/outputparser"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
)

const (
	template = `You are an assistant for livestock farmers. Answer in the language the farmer uses.
{{.chat_history}}
Human: {{.human_input}}
AI:`

	// DefaultTitle is the placeholder clients send for untitled conversations.
	DefaultTitle = "New Chat"

	maxTitleLength = 50

	defaultConversationLimit = 10
	defaultMessageLimit      = 50

	contentFilterReply = "I apologize, but I can't respond to that request as it triggered the content filter. Please try rephrasing your question."
	chatFailedReply    = "I apologize, but I encountered an error processing your request. Please try again later."
)

var (
	promptsTemplate prompts.PromptTemplate
)

func init() {
	promptsTemplate = prompts.NewPromptTemplate(
		template,
		[]string{"chat_history", "human_input"},
	)
}

type App struct {
	repo Repository
	llm  llms.Model
}

func New(repo Repository, llm llms.Model) *App {
	return &App{repo: repo, llm: llm}
}

// Routes returns the API handler. Every route requires a bearer token.
func (app *App) Routes(verifier TokenVerifier) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations", app.HandleListConversations)
	mux.HandleFunc("POST /conversations", app.HandleCreateConversation)
	mux.HandleFunc("GET /conversations/{id}/messages", app.HandleGetHistory)
	mux.HandleFunc("PUT /conversations/{id}", app.HandleUpdateConversation)
	mux.HandleFunc("DELETE /conversations/{id}", app.HandleDeleteConversation)
	mux.HandleFunc("POST /chat", app.HandleChat)
	mux.HandleFunc("POST /chat/{id}", app.HandleChat)
	return RequireToken(verifier, mux)
}

func (app *App) newChain(history schema.ChatMessageHistory) chains.LLMChain {
	chatMemory := memory.NewConversationBuffer(
		memory.WithMemoryKey("chat_history"),
		memory.WithInputKey("human_input"),
		memory.WithOutputKey("text"),
		memory.WithChatHistory(history),
	)

	return chains.LLMChain{
		Prompt:       promptsTemplate,
		LLM:          app.llm,
		Memory:       chatMemory,
		OutputParser: outputparser.NewSimple(),
		OutputKey:    "text",
	}
}

// HandleChat answers a question. Without an id in the path a conversation is
// created first and its id returned.
func (app *App) HandleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := userFromContext(r.Context())

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		sendErrorResponse(w, "Question is required", http.StatusBadRequest)
		return
	}

	var (
		conv    cosmosdb.Conversation
		err     error
		created bool
	)
	if id := r.PathValue("id"); id == "" {
		conv, err = app.repo.Create(r.Context(), userID, chatTitle(req.ConversationTitle, question))
		created = err == nil
	} else {
		conv, err = app.repo.Get(r.Context(), userID, id)
		if err == nil && conv.Title == DefaultTitle {
			conv, err = app.repo.UpdateTitle(r.Context(), userID, id, chatTitle(req.ConversationTitle, question))
		}
	}
	if errors.Is(err, cosmosdb.ErrNotFound) {
		sendErrorResponse(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error preparing conversation: %v", err)
		sendErrorResponse(w, "Failed to create chat session", http.StatusInternalServerError)
		return
	}

	response := ChatResponse{
		ConversationID:    conv.ID,
		ConversationTitle: conv.Title,
	}

	out, err := chains.Call(r.Context(), app.newChain(app.repo.History(userID, conv.ID)),
		map[string]any{"human_input": question})
	if err != nil {
		log.Printf("Error generating response: %v", err)
		if strings.Contains(strings.ToLower(err.Error()), "content management policy") {
			response.Answer = contentFilterReply
			sendJSON(w, http.StatusOK, response)
			return
		}
		// the client never learns the id of a conversation created here
		if created {
			if err := app.repo.Delete(r.Context(), userID, conv.ID); err != nil {
				log.Printf("Error removing conversation %s after failed chat: %v", conv.ID, err)
			}
		}
		sendErrorResponse(w, chatFailedReply, http.StatusInternalServerError)
		return
	}

	response.Answer, _ = out["text"].(string)

	// memory saved the exchange; report the ids it was stored under
	if stored, err := app.repo.Get(r.Context(), userID, conv.ID); err == nil {
		response.UserMessageID, response.BotMessageID = lastExchange(stored.Messages)
	} else {
		log.Printf("Error reading back conversation %s: %v", conv.ID, err)
	}

	end := time.Now()
	log.Printf("Answered question in conversation %s for %s in %s", conv.ID, userID, end.Sub(start))

	sendJSON(w, http.StatusOK, response)
}

func (app *App) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := userFromContext(r.Context())
	conversationID := r.PathValue("id")

	limit, offset, ok := pageParams(w, r, defaultMessageLimit)
	if !ok {
		return
	}

	conv, err := app.repo.Get(r.Context(), userID, conversationID)
	if errors.Is(err, cosmosdb.ErrNotFound) {
		sendErrorResponse(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error retrieving messages: %v", err)
		sendErrorResponse(w, "Failed to retrieve chat history", http.StatusInternalServerError)
		return
	}

	page := pageOf(conv.Messages, limit, offset)
	messageInfos := make([]MessageInfo, 0, len(page))
	for _, msg := range page {
		messageInfos = append(messageInfos, toMessageInfo(msg))
	}

	response := ChatHistoryResponse{
		Success: true,
		Data: MessagesPage{
			Messages:      messageInfos,
			Total:         len(messageInfos),
			TotalMessages: len(conv.Messages),
			Limit:         limit,
			Offset:        offset,
		},
	}

	end := time.Now()
	log.Printf("Retrieved %d messages for conversation %s in %s", len(messageInfos), conversationID, end.Sub(start))

	sendJSON(w, http.StatusOK, response)
}

// Function to handle retrieving all conversations for a user
func (app *App) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := userFromContext(r.Context())

	limit, offset, ok := pageParams(w, r, defaultConversationLimit)
	if !ok {
		return
	}

	stored, err := app.repo.List(r.Context(), userID, limit, offset)
	if err != nil {
		log.Printf("Error querying for conversations: %v", err)
		sendErrorResponse(w, "Failed to retrieve conversations", http.StatusInternalServerError)
		return
	}

	conversations := make([]ConversationInfo, 0, len(stored))
	for _, c := range stored {
		conversations = append(conversations, toConversationInfo(c))
	}

	end := time.Now()
	log.Printf("%d conversations retrieved for %s in %s", len(conversations), userID, end.Sub(start))

	sendJSON(w, http.StatusOK, conversations)
}

func (app *App) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	// the body is optional
	var req TitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		sendErrorResponse(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DefaultTitle
	}

	conv, err := app.repo.Create(r.Context(), userID, title)
	if err != nil {
		log.Printf("Error creating conversation: %v", err)
		sendErrorResponse(w, "Failed to create conversation", http.StatusInternalServerError)
		return
	}

	log.Printf("Created conversation %s for %s", conv.ID, userID)
	sendJSON(w, http.StatusCreated, toConversationInfo(conv))
}

func (app *App) HandleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	conversationID := r.PathValue("id")

	var req TitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		sendErrorResponse(w, "Title is required", http.StatusBadRequest)
		return
	}

	conv, err := app.repo.UpdateTitle(r.Context(), userID, conversationID, title)
	if errors.Is(err, cosmosdb.ErrNotFound) {
		sendErrorResponse(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error renaming conversation: %v", err)
		sendErrorResponse(w, "Failed to update conversation", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, toConversationInfo(conv))
}

func (app *App) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	userID := userFromContext(r.Context())
	conversationID := r.PathValue("id")

	err := app.repo.Delete(r.Context(), userID, conversationID)
	if errors.Is(err, cosmosdb.ErrNotFound) {
		sendErrorResponse(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error deleting conversation: %v", err)
		sendErrorResponse(w, "Failed to delete conversation", http.StatusInternalServerError)
		return
	}

	end := time.Now()
	log.Printf("Deleted conversation %s for user %s in %s", conversationID, userID, end.Sub(start))
	w.WriteHeader(http.StatusNoContent)
}

// chatTitle uses the client's title unless it is the placeholder, otherwise
// the start of the question.
func chatTitle(requested, question string) string {
	if t := strings.TrimSpace(requested); t != "" && t != DefaultTitle {
		return t
	}
	title := strings.Join(strings.Fields(question), " ")
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleLength])) + "..."
}

func lastExchange(msgs []cosmosdb.Message) (userMessageID, botMessageID string) {
	for i := len(msgs) - 1; i >= 0 && (userMessageID == "" || botMessageID == ""); i-- {
		switch msgs[i].SenderType {
		case cosmosdb.SenderUser:
			if userMessageID == "" {
				userMessageID = msgs[i].ID
			}
		case cosmosdb.SenderBot:
			if botMessageID == "" {
				botMessageID = msgs[i].ID
			}
		}
	}
	return userMessageID, botMessageID
}

func pageParams(w http.ResponseWriter, r *http.Request, defaultLimit int) (limit, offset int, ok bool) {
	limit, offset = defaultLimit, 0
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			sendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest)
			return 0, 0, false
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			sendErrorResponse(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func pageOf(msgs []cosmosdb.Message, limit, offset int) []cosmosdb.Message {
	if offset >= len(msgs) {
		return nil
	}
	return msgs[offset:min(offset+limit, len(msgs))]
}

func toConversationInfo(c cosmosdb.Conversation) ConversationInfo {
	return ConversationInfo{
		ID:         c.ID,
		Title:      c.Title,
		Email:      c.Email,
		FacilityID: c.FacilityID,
		CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toMessageInfo(m cosmosdb.Message) MessageInfo {
	return MessageInfo{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Content:        m.Content,
		SenderType:     m.SenderType,
		SenderID:       m.SenderID,
		Timestamp:      m.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// Helper function to send error responses
func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	sendJSON(w, statusCode, ErrorResponse{Error: message, Message: message})
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

const (
	aliceToken = "tok-alice"
	bobToken   = "tok-bob"
)

type fakeLLM struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt strings.Builder
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				prompt.WriteString(text.Text)
			}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt.String())
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func newTestApp(t *testing.T) (http.Handler, *fakeLLM) {
	t.Helper()
	llm := &fakeLLM{reply: "Cho gà ăn cám khởi động."}
	app := New(NewMemoryRepository(), llm)
	return app.Routes(StaticTokens{aliceToken: "alice", bobToken: "bob"}), llm
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAuthentication(t *testing.T) {
	h, _ := newTestApp(t)

	t.Run("Missing token", func(t *testing.T) {
		w := do(t, h, "GET", "/conversations", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Unknown token", func(t *testing.T) {
		w := do(t, h, "GET", "/conversations", "nope", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Message, "token")
	})

	t.Run("Valid token", func(t *testing.T) {
		w := do(t, h, "GET", "/conversations", aliceToken, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})
}

func TestConversationLifecycle(t *testing.T) {
	h, _ := newTestApp(t)

	var created ConversationInfo
	t.Run("Create", func(t *testing.T) {
		w := do(t, h, "POST", "/conversations", aliceToken, TitleRequest{Title: "Đàn vịt"})
		require.Equal(t, http.StatusCreated, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "Đàn vịt", created.Title)
	})

	t.Run("Create without title", func(t *testing.T) {
		w := do(t, h, "POST", "/conversations", aliceToken, nil)
		require.Equal(t, http.StatusCreated, w.Code)
		var c ConversationInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
		assert.Equal(t, DefaultTitle, c.Title)
	})

	t.Run("Rename", func(t *testing.T) {
		w := do(t, h, "PUT", "/conversations/"+created.ID, aliceToken, TitleRequest{Title: "Đàn vịt bầu"})
		require.Equal(t, http.StatusOK, w.Code)
		var c ConversationInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
		assert.Equal(t, "Đàn vịt bầu", c.Title)
	})

	t.Run("List newest first", func(t *testing.T) {
		w := do(t, h, "GET", "/conversations", aliceToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var list []ConversationInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list, 2)
		assert.Equal(t, created.ID, list[0].ID, "renamed conversation was updated last")
	})

	t.Run("Other users cannot see it", func(t *testing.T) {
		w := do(t, h, "GET", "/conversations", bobToken, nil)
		assert.JSONEq(t, "[]", w.Body.String())

		w = do(t, h, "GET", "/conversations/"+created.ID+"/messages", bobToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		w := do(t, h, "DELETE", "/conversations/"+created.ID, aliceToken, nil)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.Bytes())

		w = do(t, h, "GET", "/conversations/"+created.ID+"/messages", aliceToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Delete non-existent conversation", func(t *testing.T) {
		w := do(t, h, "DELETE", "/conversations/non_existent", aliceToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Rename without title", func(t *testing.T) {
		w := do(t, h, "PUT", "/conversations/whatever", aliceToken, TitleRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestChatFlow(t *testing.T) {
	h, llm := newTestApp(t)

	var first ChatResponse
	t.Run("First question creates the conversation", func(t *testing.T) {
		w := do(t, h, "POST", "/chat", aliceToken, ChatRequest{Question: "Gà con 3 ngày tuổi nên ăn gì?", ConversationTitle: DefaultTitle})
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))

		assert.NotEmpty(t, first.ConversationID)
		assert.Equal(t, "Gà con 3 ngày tuổi nên ăn gì?", first.ConversationTitle)
		assert.Equal(t, "Cho gà ăn cám khởi động.", first.Answer)
		assert.NotEmpty(t, first.UserMessageID)
		assert.NotEmpty(t, first.BotMessageID)
	})

	t.Run("Follow-up sees the history", func(t *testing.T) {
		llm.reply = "Khoảng 4 lần mỗi ngày."
		w := do(t, h, "POST", "/chat/"+first.ConversationID, aliceToken, ChatRequest{Question: "Bao nhiêu lần một ngày?"})
		require.Equal(t, http.StatusOK, w.Code)

		var resp ChatResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, first.ConversationID, resp.ConversationID)
		assert.Equal(t, first.ConversationTitle, resp.ConversationTitle)

		prompt := llm.lastPrompt()
		assert.Contains(t, prompt, "Human: Gà con 3 ngày tuổi nên ăn gì?")
		assert.Contains(t, prompt, "AI: Cho gà ăn cám khởi động.")
		assert.Contains(t, prompt, "Bao nhiêu lần một ngày?")
	})

	t.Run("Get history", func(t *testing.T) {
		w := do(t, h, "GET", "/conversations/"+first.ConversationID+"/messages", aliceToken, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp ChatHistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		require.Len(t, resp.Data.Messages, 4)
		assert.Equal(t, 4, resp.Data.TotalMessages)

		msgs := resp.Data.Messages
		assert.Equal(t, first.UserMessageID, msgs[0].ID)
		assert.Equal(t, "user", msgs[0].SenderType)
		assert.Equal(t, "Gà con 3 ngày tuổi nên ăn gì?", msgs[0].Content)
		require.NotNil(t, msgs[0].SenderID)
		assert.Equal(t, "alice", *msgs[0].SenderID)
		assert.Equal(t, first.BotMessageID, msgs[1].ID)
		assert.Equal(t, "bot", msgs[1].SenderType)
		assert.Nil(t, msgs[1].SenderID)
		assert.Equal(t, first.ConversationID, msgs[1].ConversationID)
	})

	t.Run("Paged history", func(t *testing.T) {
		w := do(t, h, "GET", "/conversations/"+first.ConversationID+"/messages?limit=2&offset=2", aliceToken, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp ChatHistoryResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Data.Messages, 2)
		assert.Equal(t, "Bao nhiêu lần một ngày?", resp.Data.Messages[0].Content)
		assert.Equal(t, 2, resp.Data.Limit)
		assert.Equal(t, 2, resp.Data.Offset)
	})

	t.Run("Placeholder title is replaced on first question", func(t *testing.T) {
		w := do(t, h, "POST", "/conversations", aliceToken, nil)
		var c ConversationInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))

		w = do(t, h, "POST", "/chat/"+c.ID, aliceToken, ChatRequest{Question: "Vịt bị tiêu chảy", ConversationTitle: DefaultTitle})
		require.Equal(t, http.StatusOK, w.Code)
		var resp ChatResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Vịt bị tiêu chảy", resp.ConversationTitle)
	})
}

func TestChatErrors(t *testing.T) {
	h, llm := newTestApp(t)

	t.Run("Invalid JSON", func(t *testing.T) {
		w := do(t, h, "POST", "/chat", aliceToken, "invalid json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Contains(t, resp.Error, "request format")
	})

	t.Run("Empty question", func(t *testing.T) {
		w := do(t, h, "POST", "/chat", aliceToken, ChatRequest{Question: "   "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Contains(t, resp.Error, "Question")
	})

	t.Run("Unknown conversation", func(t *testing.T) {
		w := do(t, h, "POST", "/chat/missing", aliceToken, ChatRequest{Question: "hi"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Content filter", func(t *testing.T) {
		llm.err = errors.New("The response was filtered due to the prompt triggering Azure OpenAI's content management policy")
		defer func() { llm.err = nil }()

		w := do(t, h, "POST", "/chat", aliceToken, ChatRequest{Question: "hi"})
		require.Equal(t, http.StatusOK, w.Code)
		var resp ChatResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, contentFilterReply, resp.Answer)
		assert.NotEmpty(t, resp.ConversationID)
	})

	t.Run("Model failure", func(t *testing.T) {
		llm.err = errors.New("connection refused")
		defer func() { llm.err = nil }()

		before := countConversations(t, h, aliceToken)
		for range 2 {
			w := do(t, h, "POST", "/chat", aliceToken, ChatRequest{Question: "Gà bị tiêu chảy?"})
			assert.Equal(t, http.StatusInternalServerError, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, chatFailedReply, resp.Message)
		}
		assert.Equal(t, before, countConversations(t, h, aliceToken))
	})

	t.Run("Model failure keeps existing conversation", func(t *testing.T) {
		w := do(t, h, "POST", "/conversations", aliceToken, TitleRequest{Title: "Đàn gà"})
		require.Equal(t, http.StatusCreated, w.Code)
		var conv ConversationInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conv))

		llm.err = errors.New("connection refused")
		defer func() { llm.err = nil }()

		w = do(t, h, "POST", "/chat/"+conv.ID, aliceToken, ChatRequest{Question: "hi"})
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		w = do(t, h, "GET", "/conversations/"+conv.ID+"/messages", aliceToken, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Wrong HTTP method", func(t *testing.T) {
		w := do(t, h, "GET", "/chat", aliceToken, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func countConversations(t *testing.T, h http.Handler, token string) int {
	t.Helper()
	w := do(t, h, "GET", "/conversations?limit=100", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []ConversationInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	return len(list)
}

func TestPagination(t *testing.T) {
	h, _ := newTestApp(t)
	for i := range 3 {
		do(t, h, "POST", "/conversations", aliceToken, TitleRequest{Title: fmt.Sprintf("c%d", i)})
	}

	w := do(t, h, "GET", "/conversations?limit=2", aliceToken, nil)
	var page []ConversationInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page, 2)

	w = do(t, h, "GET", "/conversations?limit=2&offset=2", aliceToken, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page, 1)

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1"} {
		w := do(t, h, "GET", "/conversations?"+q, aliceToken, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestChatTitle(t *testing.T) {
	assert.Equal(t, "Đàn heo", chatTitle("Đàn heo", "question"))
	assert.Equal(t, "Heo nái bỏ ăn", chatTitle(DefaultTitle, "  Heo nái\n bỏ ăn "))
	assert.Equal(t, "Heo nái bỏ ăn", chatTitle("", "Heo nái bỏ ăn"))

	long := strings.Repeat("ă", 80)
	assert.Equal(t, strings.Repeat("ă", maxTitleLength)+"...", chatTitle("", long))
}

func TestParseStaticTokens(t *testing.T) {
	tokens, err := ParseStaticTokens(" a:alice , b:bob,")
	require.NoError(t, err)
	assert.Equal(t, StaticTokens{"a": "alice", "b": "bob"}, tokens)

	user, ok := tokens.Verify(context.Background(), "b")
	assert.True(t, ok)
	assert.Equal(t, "bob", user)

	_, ok = tokens.Verify(context.Background(), "c")
	assert.False(t, ok)

	_, err = ParseStaticTokens("broken")
	assert.Error(t, err)

	_, err = ParseStaticTokens("")
	assert.Error(t, err)
}

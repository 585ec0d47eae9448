package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultConversationLimit = 10
	DefaultMessageLimit      = 50
	DefaultKnowledgeLimit    = 20

	defaultRequestTimeout = 60 * time.Second
)

// AuthHeaders builds the headers sent with every request.
func AuthHeaders(token string) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// Options configures a Client. The zero value is usable.
type Options struct {
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client talks to the chat backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for baseURL, e.g. "https://host/api".
func NewClient(baseURL string, opts *Options) *Client {
	if opts == nil {
		opts = &Options{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// ListConversations returns the caller's conversations.
func (c *Client) ListConversations(ctx context.Context, token string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = DefaultConversationLimit
	}
	path := "/conversations?" + pageQuery(limit, offset).Encode()

	var out []Conversation
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ConversationMessages returns one page of a conversation's messages.
func (c *Client) ConversationMessages(ctx context.Context, token, conversationID string, limit, offset int) (MessagesPage, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages?" + pageQuery(limit, offset).Encode()

	var out MessagesResponse
	if err := c.do(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return MessagesPage{}, err
	}
	return out.Data, nil
}

func (c *Client) CreateConversation(ctx context.Context, token, title string) (Conversation, error) {
	var out Conversation
	err := c.do(ctx, http.MethodPost, "/conversations", token, TitleRequest{Title: title}, &out)
	return out, err
}

func (c *Client) UpdateConversationTitle(ctx context.Context, token, conversationID, title string) (Conversation, error) {
	var out Conversation
	err := c.do(ctx, http.MethodPut, "/conversations/"+url.PathEscape(conversationID), token, TitleRequest{Title: title}, &out)
	return out, err
}

// DeleteConversation succeeds only on 204 No Content.
func (c *Client) DeleteConversation(ctx context.Context, token, conversationID string) error {
	resp, err := c.send(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(conversationID), token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := CheckResponse(resp); err != nil {
		return err
	}
	// 2xx other than 204 is still a failure for this endpoint.
	return &HTTPError{StatusCode: resp.StatusCode, Status: statusText(resp), Message: errorMessage(resp.Body)}
}

// SendChat posts a question without a conversation id; the backend creates
// the conversation and returns its id.
func (c *Client) SendChat(ctx context.Context, token, question, title string) (ChatResponse, error) {
	var out ChatResponse
	err := c.do(ctx, http.MethodPost, "/chat", token, ChatRequest{Question: question, ConversationTitle: title}, &out)
	return out, err
}

// SendChatTo posts a question to an existing conversation.
func (c *Client) SendChatTo(ctx context.Context, token, conversationID, question, title string) (ChatResponse, error) {
	var out ChatResponse
	err := c.do(ctx, http.MethodPost, "/chat/"+url.PathEscape(conversationID), token, ChatRequest{Question: question, ConversationTitle: title}, &out)
	return out, err
}

// Login exchanges credentials for a bearer token. It is the only call that
// does not need one.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	body, err := json.Marshal(LoginRequest{Email: email, Password: password})
	if err != nil {
		return LoginResponse{}, err
	}
	resp, err := c.roundTrip(ctx, http.MethodPost, "/auth/login", "", body)
	if err != nil {
		return LoginResponse{}, err
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		return LoginResponse{}, err
	}
	var out LoginResponse
	if err := decode(resp.Body, &out); err != nil {
		return LoginResponse{}, err
	}
	return out, nil
}

func (c *Client) ListBatches(ctx context.Context, token string) ([]Batch, error) {
	var out []Batch
	if err := c.do(ctx, http.MethodGet, "/facilities/my/assets", token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) UploadKnowledge(ctx context.Context, token string, items []KnowledgeItem) (UploadKnowledgeResponse, error) {
	var out UploadKnowledgeResponse
	err := c.do(ctx, http.MethodPost, "/knowledge/upload", token, items, &out)
	return out, err
}

func (c *Client) MyKnowledge(ctx context.Context, token string, limit, offset int, includeEmail bool) (MyKnowledgeResponse, error) {
	if limit <= 0 {
		limit = DefaultKnowledgeLimit
	}
	q := pageQuery(limit, offset)
	q.Set("include_email", strconv.FormatBool(includeEmail))

	var out MyKnowledgeResponse
	err := c.do(ctx, http.MethodGet, "/knowledge/mine?"+q.Encode(), token, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	resp, err := c.send(ctx, method, path, token, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		c.logger.Warn("api request rejected", "method", method, "path", path, "status", resp.StatusCode, "error", err)
		return err
	}
	if out == nil {
		return nil
	}
	return decode(resp.Body, out)
}

// send refuses to go to the network without a token.
func (c *Client) send(ctx context.Context, method, path, token string, in any) (*http.Response, error) {
	if token == "" {
		return nil, ErrAuthRequired
	}

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return nil, err
		}
	}
	return c.roundTrip(ctx, method, path, token, body)
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header = AuthHeaders(token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("api request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	c.logger.Debug("api request", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))
	return resp, nil
}

func decode(r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}

func pageQuery(limit, offset int) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return q
}

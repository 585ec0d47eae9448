// Package session drives the chat: it keeps the transcript in step with the
// active conversation and sends messages, reconciling provisional
// conversations with the ids the backend assigns.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/abhirockzz/livestock-chat-assistant/api"
	"github.com/abhirockzz/livestock-chat-assistant/conversation"
	"github.com/abhirockzz/livestock-chat-assistant/localstore"
	"github.com/abhirockzz/livestock-chat-assistant/state"
	"github.com/google/uuid"
)

// API is the part of *api.Client the controller calls.
type API interface {
	conversation.API
	ConversationMessages(ctx context.Context, token, conversationID string, limit, offset int) (api.MessagesPage, error)
	SendChat(ctx context.Context, token, question, title string) (api.ChatResponse, error)
	SendChatTo(ctx context.Context, token, conversationID, question, title string) (api.ChatResponse, error)
	Login(ctx context.Context, email, password string) (api.LoginResponse, error)
	ListBatches(ctx context.Context, token string) ([]api.Batch, error)
	UploadKnowledge(ctx context.Context, token string, items []api.KnowledgeItem) (api.UploadKnowledgeResponse, error)
	MyKnowledge(ctx context.Context, token string, limit, offset int, includeEmail bool) (api.MyKnowledgeResponse, error)
}

type Options struct {
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID generates message ids. Defaults to uuid.NewString.
	NewID func() string
	// MessageLimit is the page size used when loading history.
	MessageLimit int
	// Directory options; Logger and Now are inherited when unset.
	Directory *conversation.Options
}

// Controller is safe for concurrent use. Every exported method that talks to
// the backend blocks until the round trip finishes.
type Controller struct {
	api          API
	store        *state.Store
	local        localstore.Store
	dir          *conversation.Directory
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
	messageLimit int
}

func New(client API, store *state.Store, local localstore.Store, opts *Options) *Controller {
	if opts == nil {
		opts = &Options{}
	}
	c := &Controller{
		api:          client,
		store:        store,
		local:        local,
		logger:       opts.Logger,
		now:          opts.Now,
		newID:        opts.NewID,
		messageLimit: opts.MessageLimit,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.messageLimit <= 0 {
		c.messageLimit = api.DefaultMessageLimit
	}

	dirOpts := conversation.Options{}
	if opts.Directory != nil {
		dirOpts = *opts.Directory
	}
	if dirOpts.Logger == nil {
		dirOpts.Logger = c.logger
	}
	if dirOpts.Now == nil {
		dirOpts.Now = c.now
	}
	c.dir = conversation.New(client, store, local, &dirOpts)
	return c
}

// Directory exposes the conversation list.
func (c *Controller) Directory() *conversation.Directory {
	return c.dir
}

func (c *Controller) State() state.State {
	return c.store.State()
}

// Sync brings the transcript in line with the active conversation:
//
//   - no active conversation: clear the transcript (only if non-empty);
//   - provisional: no fetch, keep what is shown;
//   - already loaded or loading: nothing;
//   - otherwise fetch the history and replace the transcript.
//
// A failed fetch still marks the conversation loaded so it is not retried
// in a loop; the transcript is left as it was. A fetch that completes after
// the user moved to another conversation is discarded.
func (c *Controller) Sync(ctx context.Context) {
	id := c.dir.Active()

	if id == "" {
		if len(c.store.State().Chat.Messages) > 0 {
			c.store.Dispatch(state.ClearMessages{})
		}
		c.dir.ResetLoaded()
		return
	}

	if conversation.IsProvisional(id) {
		c.dir.MarkLoaded(id)
		if len(c.store.State().Chat.Messages) == 0 {
			c.store.Dispatch(state.SetMessages{Messages: []state.ChatMessage{}})
		}
		return
	}

	if !c.dir.BeginLoad(id) {
		return
	}

	c.logger.Debug("loading messages", "conversation_id", id)
	messages, err := c.fetchMessages(ctx, id)

	if c.dir.Active() != id {
		c.logger.Info("discarding stale messages", "conversation_id", id)
		c.dir.ResetLoad(id)
		return
	}

	c.dir.MarkLoaded(id)
	if err != nil {
		c.logger.Error("loading messages", "conversation_id", id, "error", err)
		return
	}
	c.store.Dispatch(state.SetMessages{Messages: messages})
	c.logger.Debug("messages loaded", "conversation_id", id, "count", len(messages))
}

func (c *Controller) fetchMessages(ctx context.Context, id string) ([]state.ChatMessage, error) {
	token := c.store.Token()
	if token == "" {
		return nil, api.ErrAuthRequired
	}

	page, err := c.api.ConversationMessages(ctx, token, id, c.messageLimit, 0)
	if err != nil {
		return nil, err
	}

	out := make([]state.ChatMessage, 0, len(page.Messages))
	for _, m := range page.Messages {
		out = append(out, state.ChatMessage{
			ID:        m.ID,
			Text:      m.Content,
			IsUser:    m.SenderType == api.SenderUser,
			Timestamp: m.Timestamp,
		})
	}
	return out, nil
}

// Send appends text as a user message right away, then posts it. Without a
// confirmed conversation the message goes to the create-on-first-message
// endpoint and the provisional conversation is promoted to the returned id.
//
// Only a missing login is returned as an error. Backend failures end up in
// the transcript as an assistant message and in the chat error.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	token := c.store.Token()
	if token == "" {
		c.store.Dispatch(state.SetError{Error: api.MsgLoginRequired})
		return api.ErrAuthRequired
	}

	id := c.dir.Active()
	c.appendMessage(text, true)

	c.store.Dispatch(state.SetLoading{Loading: true})
	var (
		resp api.ChatResponse
		err  error
	)
	if conversation.IsProvisional(id) {
		resp, err = c.sendFirst(ctx, token, id, text)
	} else {
		resp, err = c.sendTo(ctx, token, id, text)
	}

	if err != nil {
		c.logger.Error("sending message", "conversation_id", id, "error", err)
		c.store.Dispatch(state.SetError{Error: err.Error()})
		c.appendMessage(api.FormatError(err), false)
		return nil
	}

	c.store.Dispatch(state.SetLoading{Loading: false})
	c.appendMessage(resp.Reply(), false)
	return nil
}

func (c *Controller) sendFirst(ctx context.Context, token, id, text string) (api.ChatResponse, error) {
	if id == "" {
		id = c.dir.CreateProvisional(ctx)
		c.Sync(ctx)
	}

	resp, err := c.api.SendChat(ctx, token, text, conversation.DefaultTitle)
	if err != nil {
		return resp, err
	}

	realID := resp.ConversationID()
	if realID == "" {
		c.logger.Warn("chat response without conversation id", "temp_id", id)
		return resp, nil
	}

	c.dir.Promote(ctx, id, realID, resp.ConversationTitle)
	// The next Sync reloads from the backend so the optimistic message is
	// replaced by the stored one.
	c.dir.ResetLoad(realID)
	return resp, nil
}

func (c *Controller) sendTo(ctx context.Context, token, id, text string) (api.ChatResponse, error) {
	title, ok := c.dir.Title(id)
	if !ok || title == "" {
		title = conversation.DefaultTitle
	}

	resp, err := c.api.SendChatTo(ctx, token, id, text, title)
	if err != nil {
		return resp, err
	}
	if resp.ConversationTitle != "" && resp.ConversationTitle != title {
		c.dir.Rename(id, resp.ConversationTitle)
	}
	return resp, nil
}

func (c *Controller) appendMessage(text string, isUser bool) {
	c.store.Dispatch(state.AddMessage{Message: state.NewMessage(c.newID(), text, isUser, c.now())})
}

// StartNew opens an empty provisional conversation.
func (c *Controller) StartNew(ctx context.Context) string {
	id := c.dir.CreateProvisional(ctx)
	c.store.Dispatch(state.SetMessages{Messages: []state.ChatMessage{}})
	c.dir.MarkLoaded(id)
	return id
}

// Select switches to id and reloads its messages, unless a load for id is
// already in flight.
func (c *Controller) Select(ctx context.Context, id string) {
	c.dir.ResetIfLoaded(id)
	c.dir.SwitchTo(ctx, id)
	c.Sync(ctx)
}

// Remove deletes a conversation and syncs the transcript to whatever
// became active.
func (c *Controller) Remove(ctx context.Context, id string) error {
	if err := c.dir.Remove(ctx, id); err != nil {
		return err
	}
	c.Sync(ctx)
	return nil
}

// Refresh reloads the conversation list and syncs the transcript.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.dir.List(ctx); err != nil {
		return err
	}
	c.Sync(ctx)
	return nil
}

func (c *Controller) Toggle() {
	c.store.Dispatch(state.ToggleChat{})
}

func (c *Controller) ClearError() {
	c.store.Dispatch(state.ClearError{})
}

// ClearHistory empties the transcript and the legacy stored transcript.
func (c *Controller) ClearHistory(ctx context.Context) {
	c.store.Dispatch(state.ClearMessages{})
	if err := localstore.ClearHistory(ctx, c.local); err != nil {
		c.logger.Warn("clearing stored history", "error", err)
	}
}

// LoadLegacyHistory shows a transcript saved by older clients, only when
// nothing else is shown.
func (c *Controller) LoadLegacyHistory(ctx context.Context) {
	messages := localstore.LoadHistory(ctx, c.local, c.logger)
	c.store.Dispatch(state.RestoreHistory{Messages: messages})
}

// HandleAuthError clears the chat and logs out.
func (c *Controller) HandleAuthError(ctx context.Context) {
	c.ClearHistory(ctx)
	c.Logout(ctx)
}

// Login authenticates and remembers the token.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	c.store.Dispatch(state.LoginStarted{})

	resp, err := c.api.Login(ctx, email, password)
	if err != nil {
		msg := "Login failed"
		var httpErr *api.HTTPError
		if errors.As(err, &httpErr) && httpErr.Message != "" {
			msg = httpErr.Message
		}
		c.store.Dispatch(state.LoginFailed{Error: msg})
		return err
	}

	c.store.Dispatch(state.LoginSucceeded{
		User:  state.User{ID: resp.User.ID, Name: resp.User.Name, Email: resp.User.Email},
		Token: resp.Token,
	})
	if err := c.local.Set(ctx, localstore.KeyUserToken, resp.Token); err != nil {
		c.logger.Warn("persisting token", "error", err)
	}
	return nil
}

// UseToken installs a token obtained elsewhere, e.g. from configuration.
func (c *Controller) UseToken(ctx context.Context, token string) {
	c.store.Dispatch(state.TokenRestored{Token: token})
	if err := c.local.Set(ctx, localstore.KeyUserToken, token); err != nil {
		c.logger.Warn("persisting token", "error", err)
	}
}

// RestoreToken loads a previously stored token. It reports whether one was
// found.
func (c *Controller) RestoreToken(ctx context.Context) bool {
	token, ok, err := c.local.Get(ctx, localstore.KeyUserToken)
	if err != nil {
		c.logger.Warn("reading stored token", "error", err)
		return false
	}
	if !ok || token == "" {
		return false
	}
	c.store.Dispatch(state.TokenRestored{Token: token})
	return true
}

func (c *Controller) Logout(ctx context.Context) {
	c.store.Dispatch(state.ClearMessages{})
	c.store.Dispatch(state.Logout{})
	if err := c.local.Delete(ctx, localstore.KeyUserToken); err != nil {
		c.logger.Warn("removing stored token", "error", err)
	}
}

// FetchBatches loads the facility's batches into the batches slice.
func (c *Controller) FetchBatches(ctx context.Context) error {
	c.store.Dispatch(state.BatchesRequested{})

	batches, err := c.api.ListBatches(ctx, c.store.Token())
	if err != nil {
		c.logger.Error("fetching batches", "error", err)
		c.store.Dispatch(state.BatchesFailed{Error: err.Error()})
		return err
	}
	c.store.Dispatch(state.BatchesLoaded{Items: batches})
	return nil
}

func (c *Controller) UploadKnowledge(ctx context.Context, items []api.KnowledgeItem) (api.UploadKnowledgeResponse, error) {
	resp, err := c.api.UploadKnowledge(ctx, c.store.Token(), items)
	if err != nil {
		c.logger.Error("uploading knowledge", "count", len(items), "error", err)
		return api.UploadKnowledgeResponse{}, err
	}
	return resp, nil
}

func (c *Controller) MyKnowledge(ctx context.Context, limit, offset int, includeEmail bool) (api.MyKnowledgeResponse, error) {
	resp, err := c.api.MyKnowledge(ctx, c.store.Token(), limit, offset, includeEmail)
	if err != nil {
		c.logger.Error("listing knowledge", "error", err)
		return api.MyKnowledgeResponse{Items: []api.KnowledgeItem{}}, err
	}
	return resp, nil
}

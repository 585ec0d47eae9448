// Package conversation keeps the client's list of conversations and the
// active conversation pointer.
//
// A conversation starts either confirmed (loaded from the backend) or
// provisional (created locally, id prefixed with TempPrefix). A provisional
// conversation is promoted to its server id after the first message round
// trip; there is no way back.
package conversation

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abhirockzz/livestock-chat-assistant/api"
	"github.com/abhirockzz/livestock-chat-assistant/localstore"
	"github.com/google/uuid"
)

const (
	TempPrefix   = "local-"
	DefaultTitle = "New Chat"
)

// IsProvisional reports whether id is unset or a client-side temporary id.
func IsProvisional(id string) bool {
	return id == "" || strings.HasPrefix(id, TempPrefix)
}

// Summary is one row of the conversation list.
type Summary struct {
	ID         string
	Title      string
	Email      string
	FacilityID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (s Summary) Provisional() bool {
	return IsProvisional(s.ID)
}

func fromAPI(c api.Conversation) Summary {
	return Summary{
		ID:         c.ID,
		Title:      c.Title,
		Email:      c.Email,
		FacilityID: c.FacilityID,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

// API is the part of *api.Client the directory calls.
type API interface {
	ListConversations(ctx context.Context, token string, limit, offset int) ([]api.Conversation, error)
	CreateConversation(ctx context.Context, token, title string) (api.Conversation, error)
	UpdateConversationTitle(ctx context.Context, token, conversationID, title string) (api.Conversation, error)
	DeleteConversation(ctx context.Context, token, conversationID string) error
}

// TokenSource yields the current bearer token, "" when logged out.
type TokenSource interface {
	Token() string
}

type Options struct {
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// NewID generates the suffix of provisional ids. Defaults to uuid.NewString.
	NewID func() string
	// PageSize is the number of conversations fetched by List.
	PageSize int
}

// Directory is safe for concurrent use. Network calls run without holding
// the lock, so a slow request never blocks readers.
type Directory struct {
	api      API
	tokens   TokenSource
	store    localstore.Store
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	pageSize int

	mu        sync.Mutex
	entries   []Summary
	active    string
	loads     map[string]LoadState
	isLoading bool
	lastErr   error
}

func New(client API, tokens TokenSource, store localstore.Store, opts *Options) *Directory {
	if opts == nil {
		opts = &Options{}
	}
	d := &Directory{
		api:      client,
		tokens:   tokens,
		store:    store,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
		pageSize: opts.PageSize,
		loads:    make(map[string]LoadState),
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	if d.pageSize <= 0 {
		d.pageSize = api.DefaultConversationLimit
	}
	return d
}

// List fetches the caller's conversations, newest first, and restores the
// persisted active pointer. On failure the current list is kept.
// Provisional entries survive a refresh since the server does not know them.
func (d *Directory) List(ctx context.Context) error {
	token := d.tokens.Token()
	if token == "" {
		return api.ErrAuthRequired
	}

	d.setLoading(true)
	defer d.setLoading(false)

	start := time.Now()
	remote, err := d.api.ListConversations(ctx, token, d.pageSize, 0)
	if err != nil {
		d.logger.Error("loading conversations", "error", err)
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
		return err
	}

	fetched := make([]Summary, 0, len(remote))
	for _, c := range remote {
		fetched = append(fetched, fromAPI(c))
	}
	sortByUpdated(fetched)

	stored, hasStored := d.readPointer(ctx)

	d.mu.Lock()
	var local []Summary
	for _, e := range d.entries {
		if e.Provisional() {
			local = append(local, e)
		}
	}
	d.entries = append(local, fetched...)
	d.lastErr = nil
	if hasStored {
		d.active = stored
	}
	d.mu.Unlock()

	d.logger.Info("conversations loaded", "count", len(fetched), "elapsed", time.Since(start))
	return nil
}

// CreateProvisional adds a local placeholder conversation at the head of
// the list and makes it active. No network call is made.
func (d *Directory) CreateProvisional(ctx context.Context) string {
	now := d.now().UTC()
	id := TempPrefix + d.newID()

	d.mu.Lock()
	d.entries = slices.Insert(d.entries, 0, Summary{
		ID:        id,
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	})
	d.active = id
	d.mu.Unlock()

	d.writePointer(ctx, id)
	return id
}

// CreateConfirmed creates the conversation on the backend first and makes
// it active.
func (d *Directory) CreateConfirmed(ctx context.Context) (string, error) {
	token := d.tokens.Token()
	if token == "" {
		return "", api.ErrAuthRequired
	}

	created, err := d.api.CreateConversation(ctx, token, DefaultTitle)
	if err != nil {
		d.logger.Error("creating conversation", "error", err)
		return "", err
	}

	d.mu.Lock()
	d.entries = slices.Insert(d.entries, 0, fromAPI(created))
	d.active = created.ID
	d.mu.Unlock()

	d.writePointer(ctx, created.ID)
	return created.ID, nil
}

// Promote replaces tempID with the server-assigned realID and makes realID
// active. An empty title keeps the current one. If tempID is gone, realID is
// inserted at the head unless it is already listed, so repeated calls never
// produce two entries for realID.
func (d *Directory) Promote(ctx context.Context, tempID, realID, title string) {
	now := d.now().UTC()

	d.mu.Lock()
	tempIdx := d.indexOf(tempID)
	realIdx := d.indexOf(realID)

	switch {
	case realIdx >= 0:
		if title != "" {
			d.entries[realIdx].Title = title
		}
		d.entries[realIdx].UpdatedAt = now
		if tempIdx >= 0 && tempIdx != realIdx {
			d.entries = slices.Delete(d.entries, tempIdx, tempIdx+1)
		}
	case tempIdx >= 0:
		e := &d.entries[tempIdx]
		e.ID = realID
		if title != "" {
			e.Title = title
		}
		e.UpdatedAt = now
	default:
		if title == "" {
			title = DefaultTitle
		}
		d.entries = slices.Insert(d.entries, 0, Summary{
			ID:        realID,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if tempID != realID {
		delete(d.loads, tempID)
	}
	d.active = realID
	d.mu.Unlock()

	d.logger.Debug("conversation promoted", "temp_id", tempID, "id", realID)
	d.writePointer(ctx, realID)
}

// Rename updates a title locally.
func (d *Directory) Rename(id, title string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.indexOf(id)
	if i < 0 {
		return false
	}
	d.entries[i].Title = title
	d.entries[i].UpdatedAt = d.now().UTC()
	return true
}

// RenameRemote stores the title on the backend, then locally. Provisional
// conversations are only renamed locally.
func (d *Directory) RenameRemote(ctx context.Context, id, title string) error {
	if IsProvisional(id) {
		d.Rename(id, title)
		return nil
	}

	token := d.tokens.Token()
	if token == "" {
		return api.ErrAuthRequired
	}

	updated, err := d.api.UpdateConversationTitle(ctx, token, id, title)
	if err != nil {
		d.logger.Error("renaming conversation", "id", id, "error", err)
		return err
	}
	if updated.Title != "" {
		title = updated.Title
	}
	d.Rename(id, title)
	return nil
}

// SwitchTo makes id the active conversation.
func (d *Directory) SwitchTo(ctx context.Context, id string) {
	d.mu.Lock()
	d.active = id
	d.mu.Unlock()

	d.writePointer(ctx, id)
}

// Remove deletes a conversation. Provisional ids are never sent to the
// backend. When the active conversation is removed the pointer moves to the
// most recently updated remaining one, or is cleared.
func (d *Directory) Remove(ctx context.Context, id string) error {
	token := d.tokens.Token()
	if token == "" {
		return api.ErrAuthRequired
	}

	if !IsProvisional(id) {
		if err := d.api.DeleteConversation(ctx, token, id); err != nil {
			d.logger.Error("deleting conversation", "id", id, "error", err)
			d.mu.Lock()
			d.lastErr = err
			d.mu.Unlock()
			return err
		}
	}

	d.mu.Lock()
	if i := d.indexOf(id); i >= 0 {
		d.entries = slices.Delete(d.entries, i, i+1)
	}
	delete(d.loads, id)

	wasActive := d.active == id
	next := ""
	if wasActive {
		next = d.mostRecentLocked()
		d.active = next
	}
	d.mu.Unlock()

	if !wasActive {
		return nil
	}
	if next == "" {
		d.clearPointer(ctx)
		return nil
	}
	d.writePointer(ctx, next)
	return nil
}

// Active returns the active conversation id, "" when none.
func (d *Directory) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Conversations returns a copy of the list in display order.
func (d *Directory) Conversations() []Summary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.entries)
}

func (d *Directory) Title(id string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.indexOf(id); i >= 0 {
		return d.entries[i].Title, true
	}
	return "", false
}

func (d *Directory) IsLoading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isLoading
}

// Err returns the error of the last failed list or delete, if any.
func (d *Directory) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *Directory) setLoading(v bool) {
	d.mu.Lock()
	d.isLoading = v
	d.mu.Unlock()
}

func (d *Directory) indexOf(id string) int {
	return slices.IndexFunc(d.entries, func(s Summary) bool { return s.ID == id })
}

func (d *Directory) mostRecentLocked() string {
	best := -1
	for i, e := range d.entries {
		if best < 0 || e.UpdatedAt.After(d.entries[best].UpdatedAt) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return d.entries[best].ID
}

func (d *Directory) readPointer(ctx context.Context) (string, bool) {
	v, ok, err := d.store.Get(ctx, localstore.KeyCurrentConversation)
	if err != nil {
		d.logger.Warn("reading active conversation", "error", err)
		return "", false
	}
	return v, ok && v != ""
}

func (d *Directory) writePointer(ctx context.Context, id string) {
	if err := d.store.Set(ctx, localstore.KeyCurrentConversation, id); err != nil {
		d.logger.Warn("persisting active conversation", "id", id, "error", err)
	}
}

func (d *Directory) clearPointer(ctx context.Context) {
	if err := d.store.Delete(ctx, localstore.KeyCurrentConversation); err != nil {
		d.logger.Warn("clearing active conversation", "error", err)
	}
}

func sortByUpdated(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].UpdatedAt.After(s[j].UpdatedAt)
	})
}

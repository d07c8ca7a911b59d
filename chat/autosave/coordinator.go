// Package autosave owns the decision of whether an in-progress chat
// transcript should be persisted, and whether persistence should create a
// new conversation record or update an existing one.
//
// After every completed assistant turn the coordinator decides exactly one
// of: do nothing, create a record, or update the current record — exactly
// once per batch of new turns, with no duplicate writes and no lost writes.
// Saves are debounced behind a fixed quiet window and serialized behind an
// in-flight guard. Store failures never propagate; they surface as
// notifications and the next natural trigger retries the same operation.
package autosave

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/papertalk/papertalk/chat"
	"github.com/papertalk/papertalk/store"
)

const (
	// DefaultQuietWindow is the debounce window between the last qualifying
	// transcript change and the save that persists it.
	DefaultQuietWindow = 500 * time.Millisecond

	// maxTitleRunes bounds auto-generated conversation titles.
	maxTitleRunes = 50
)

// ConversationStore is the persistence surface the coordinator drives.
// *store.Store satisfies it.
type ConversationStore interface {
	CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error)
	GetConversation(ctx context.Context, uid string) (*store.Conversation, error)
	ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error)
	UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error)
	DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error
}

// Coordinator reconciles a live transcript with its persisted conversation
// record. All transcript access goes through the coordinator, which
// serializes the session the way the original UI event loop did.
type Coordinator struct {
	conversations ConversationStore
	notifier      chat.Notifier
	logger        *slog.Logger
	creatorID     int32

	// baseCtx is used for debounced background saves; a request context
	// would be cancelled before the quiet window elapses.
	baseCtx context.Context
	quiet   time.Duration
	now     func() time.Time

	mu         sync.Mutex
	transcript *chat.Transcript
	pending    *debouncer

	// Coordinator memory. currentUID is empty exactly when no record has
	// been created for the current session's transcript; lastSaved never
	// exceeds the live transcript length.
	currentUID string
	lastSaved  int
	inFlight   bool

	// session increments whenever the transcript is replaced wholesale
	// (load, new conversation, delete-current). A save completing against
	// an older session must not mutate memory.
	session uint64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithQuietWindow overrides the debounce window.
func WithQuietWindow(d time.Duration) Option {
	return func(c *Coordinator) { c.quiet = d }
}

// WithBaseContext sets the context used for debounced background saves.
func WithBaseContext(ctx context.Context) Option {
	return func(c *Coordinator) { c.baseCtx = ctx }
}

// WithLogger overrides the coordinator's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func withScheduler(schedule scheduleFunc) Option {
	return func(c *Coordinator) { c.pending = newDebouncer(schedule) }
}

func withClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a coordinator for one user session. creatorID is the
// authenticated owner; persistence requires it.
func New(conversations ConversationStore, transcript *chat.Transcript, notifier chat.Notifier, creatorID int32, opts ...Option) *Coordinator {
	c := &Coordinator{
		conversations: conversations,
		transcript:    transcript,
		notifier:      notifier,
		logger:        slog.Default(),
		creatorID:     creatorID,
		baseCtx:       context.Background(),
		quiet:         DefaultQuietWindow,
		now:           time.Now,
		pending:       newDebouncer(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AppendTurn adds a turn to the live transcript and re-evaluates the save
// trigger.
func (c *Coordinator) AppendTurn(turn chat.Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.Append(turn)
	c.evaluateLocked()
}

// SetGenerating flips the assistant-generating flag and re-evaluates the
// save trigger. Flipping to true cancels any pending save.
func (c *Coordinator) SetGenerating(generating bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.SetGenerating(generating)
	c.evaluateLocked()
}

// Turns returns a copy of the live transcript.
func (c *Coordinator) Turns() []chat.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Turns()
}

// Len returns the live transcript length.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Len()
}

// IsGenerating reports whether the assistant is mid-answer.
func (c *Coordinator) IsGenerating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.IsGenerating()
}

// CurrentConversationID returns the adopted record id, or "" when the
// session has no persisted record yet.
func (c *Coordinator) CurrentConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentUID
}

// LastSavedCount returns the transcript length at the last successful save.
func (c *Coordinator) LastSavedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSaved
}

// eligibleLocked is the trigger condition: every clause must hold for a
// save to be scheduled.
func (c *Coordinator) eligibleLocked() bool {
	if c.transcript.IsGenerating() {
		return false
	}
	if c.creatorID == 0 {
		return false
	}
	if c.inFlight {
		return false
	}
	n := c.transcript.Len()
	if n == 0 {
		return false
	}
	// A lone user turn with no answer yet is never persisted.
	if n < 2 {
		return false
	}
	// Nothing new since the last successful save; guards against re-saving
	// on unrelated re-evaluations.
	if n <= c.lastSaved {
		return false
	}
	return true
}

// evaluateLocked schedules a debounced save when the trigger condition
// holds and cancels the pending one when it does not. Only the most
// recently scheduled save may execute.
func (c *Coordinator) evaluateLocked() {
	if !c.eligibleLocked() {
		c.pending.Cancel()
		return
	}
	session := c.session
	c.pending.Schedule(c.quiet, func() { c.fire(session) })
}

// fire runs when the quiet window elapses. The trigger condition is
// re-checked: if it stopped holding, the save is dropped.
func (c *Coordinator) fire(session uint64) {
	c.mu.Lock()
	if session != c.session || !c.eligibleLocked() {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	turns := c.transcript.Turns()
	target := c.currentUID
	c.mu.Unlock()

	c.executeSave(c.baseCtx, session, target, turns)
}

// SaveNow flushes the transcript immediately, skipping the quiet window.
// It is a no-op when the trigger condition does not hold.
func (c *Coordinator) SaveNow(ctx context.Context) error {
	c.mu.Lock()
	c.pending.Cancel()
	if !c.eligibleLocked() {
		c.mu.Unlock()
		return nil
	}
	c.inFlight = true
	turns := c.transcript.Turns()
	target := c.currentUID
	session := c.session
	c.mu.Unlock()

	err := c.executeSave(ctx, session, target, turns)
	if err == nil {
		c.notifier.Notify(chat.Notification{Message: "Conversation saved", Severity: chat.SeveritySuccess})
	}
	return err
}

// executeSave performs one create or update against the store. target is
// the conversation id captured at schedule time; a completed save is only
// applied to coordinator memory when the session and target still match,
// so a stale save never mutates state for the wrong conversation.
func (c *Coordinator) executeSave(ctx context.Context, session uint64, target string, turns []chat.Turn) error {
	if target != "" {
		_, err := c.conversations.UpdateConversation(ctx, &store.UpdateConversation{
			UID:   target,
			Turns: &turns,
		})
		c.mu.Lock()
		c.inFlight = false
		if err != nil {
			// Memory unchanged: the next trigger retries the update
			// against the same id.
			c.mu.Unlock()
			c.logger.Warn("failed to update conversation", "conversation_id", target, "error", err)
			c.notifier.Notify(chat.Notification{Message: "Failed to save conversation", Severity: chat.SeverityError})
			return err
		}
		if session == c.session && c.currentUID == target && len(turns) > c.lastSaved {
			c.lastSaved = len(turns)
		}
		c.mu.Unlock()
		return nil
	}

	title := autoTitle(firstUserText(turns), c.now())
	created, err := c.conversations.CreateConversation(ctx, &store.Conversation{
		CreatorID: c.creatorID,
		Title:     title,
		Turns:     turns,
	})
	c.mu.Lock()
	c.inFlight = false
	if err != nil {
		// Id stays unset so the next trigger retries creation. A retry
		// after a successful-but-unacknowledged create may duplicate the
		// record; update always replaces history wholesale, so this never
		// corrupts data.
		c.mu.Unlock()
		c.logger.Warn("failed to create conversation", "creator_id", c.creatorID, "error", err)
		c.notifier.Notify(chat.Notification{Message: "Failed to save conversation", Severity: chat.SeverityError})
		return err
	}
	if session == c.session && c.currentUID == "" {
		c.currentUID = created.UID
		if len(turns) > c.lastSaved {
			c.lastSaved = len(turns)
		}
	}
	c.mu.Unlock()
	return nil
}

// Load replaces the live transcript wholesale with a stored conversation
// and resets the save baseline so just-loaded content does not trigger a
// spurious save. A missing record is a no-op.
func (c *Coordinator) Load(ctx context.Context, uid string) (*store.Conversation, error) {
	record, err := c.conversations.GetConversation(ctx, uid)
	if err != nil {
		c.logger.Warn("failed to load conversation", "conversation_id", uid, "error", err)
		c.notifier.Notify(chat.Notification{Message: "Failed to load conversation", Severity: chat.SeverityError})
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	c.mu.Lock()
	c.pending.Cancel()
	c.session++
	c.transcript.Replace(record.Turns)
	c.currentUID = record.UID
	c.lastSaved = len(record.Turns)
	c.mu.Unlock()
	return record, nil
}

// NewConversation clears the live transcript and coordinator memory.
func (c *Coordinator) NewConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending.Cancel()
	c.session++
	c.transcript.Clear()
	c.currentUID = ""
	c.lastSaved = 0
}

// Delete removes a stored conversation. When the deleted record is the one
// currently open, the transcript and coordinator memory are cleared before
// the delete is issued, so a pending auto-save cannot race the deletion and
// resurrect the record.
func (c *Coordinator) Delete(ctx context.Context, uid string) error {
	if uid == "" {
		return nil
	}

	c.mu.Lock()
	if uid == c.currentUID {
		c.pending.Cancel()
		c.session++
		c.transcript.Clear()
		c.currentUID = ""
		c.lastSaved = 0
	}
	c.mu.Unlock()

	if err := c.conversations.DeleteConversation(ctx, &store.DeleteConversation{UID: uid}); err != nil {
		c.logger.Warn("failed to delete conversation", "conversation_id", uid, "error", err)
		c.notifier.Notify(chat.Notification{Message: "Failed to delete conversation", Severity: chat.SeverityError})
		return err
	}
	return nil
}

// Rename updates a stored conversation's title. Coordinator memory is
// unaffected.
func (c *Coordinator) Rename(ctx context.Context, uid string, title string) error {
	if uid == "" {
		return nil
	}
	if _, err := c.conversations.UpdateConversation(ctx, &store.UpdateConversation{
		UID:   uid,
		Title: &title,
	}); err != nil {
		c.logger.Warn("failed to rename conversation", "conversation_id", uid, "error", err)
		c.notifier.Notify(chat.Notification{Message: "Failed to rename conversation", Severity: chat.SeverityError})
		return err
	}
	return nil
}

// AdoptFromList reconciles the session with a record that was created but
// whose create response was never observed: when no id is adopted yet and
// the owner's newest record has exactly the live transcript's history
// length, that record is treated as ours. Best effort and idempotent;
// running it twice with no new turns neither double-adopts nor re-saves.
func (c *Coordinator) AdoptFromList(ctx context.Context) error {
	c.mu.Lock()
	if c.currentUID != "" || c.inFlight || c.transcript.Len() < 2 {
		c.mu.Unlock()
		return nil
	}
	session := c.session
	c.mu.Unlock()

	limit := 1
	list, err := c.conversations.ListConversations(ctx, &store.FindConversation{
		CreatorID: &c.creatorID,
		Limit:     &limit,
	})
	if err != nil {
		c.logger.Warn("failed to list conversations for adoption", "creator_id", c.creatorID, "error", err)
		return err
	}
	if len(list) == 0 {
		return nil
	}

	newest := list[0]
	c.mu.Lock()
	if session == c.session && c.currentUID == "" && len(newest.Turns) == c.transcript.Len() {
		c.currentUID = newest.UID
		c.lastSaved = len(newest.Turns)
	}
	c.mu.Unlock()
	return nil
}

// firstUserText returns the text of the first user turn in turns.
func firstUserText(turns []chat.Turn) string {
	for _, turn := range turns {
		if turn.Role == chat.RoleUser {
			return turn.Text
		}
	}
	return ""
}

// autoTitle derives a conversation title from the first user turn,
// truncated with an ellipsis; with no user turn yet it falls back to a
// readable creation timestamp.
func autoTitle(firstUser string, now time.Time) string {
	title := strings.ReplaceAll(firstUser, "\n", " ")
	title = strings.ReplaceAll(title, "\r", " ")
	title = strings.TrimSpace(title)
	if title == "" {
		return "Conversation " + now.Format("Jan 2, 2006 3:04 PM")
	}
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes]) + "..."
	}
	return title
}

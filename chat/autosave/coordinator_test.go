package autosave

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertalk/papertalk/chat"
	"github.com/papertalk/papertalk/store"
)

// manualScheduler replaces the timer-backed scheduler so tests control
// exactly when the quiet window elapses.
type manualScheduler struct {
	mu        sync.Mutex
	pending   func()
	pendingID int
	seq       int
	lastDelay time.Duration
}

func (s *manualScheduler) schedule(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := s.seq
	s.pending = fn
	s.pendingID = id
	s.lastDelay = d
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.pendingID != id || s.pending == nil {
			return false
		}
		s.pending = nil
		return true
	}
}

// Fire runs the pending task as if the quiet window elapsed. It reports
// whether a task was pending.
func (s *manualScheduler) Fire() bool {
	s.mu.Lock()
	fn := s.pending
	s.pending = nil
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

func (s *manualScheduler) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// fakeConversationStore is an in-memory ConversationStore with failure
// injection and mid-call hooks for race scenarios.
type fakeConversationStore struct {
	mu            sync.Mutex
	conversations map[string]*store.Conversation
	updatedSeq    map[string]int
	seq           int
	nextID        int

	creates int
	updates int
	deletes int
	lists   int

	failCreate bool
	failUpdate bool
	failDelete bool
	failGet    bool
	failList   bool

	// Invoked while the store call is in progress, before it completes.
	onCreate func()
	onUpdate func()
}

func newFakeConversationStore() *fakeConversationStore {
	return &fakeConversationStore{
		conversations: make(map[string]*store.Conversation),
		updatedSeq:    make(map[string]int),
	}
}

func (f *fakeConversationStore) CreateConversation(_ context.Context, create *store.Conversation) (*store.Conversation, error) {
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.failCreate {
		return nil, errors.New("create failed")
	}
	f.nextID++
	f.seq++
	record := &store.Conversation{
		UID:       fmt.Sprintf("conv-%d", f.nextID),
		CreatorID: create.CreatorID,
		Title:     create.Title,
		Turns:     append([]chat.Turn(nil), create.Turns...),
	}
	f.conversations[record.UID] = record
	f.updatedSeq[record.UID] = f.seq
	return record, nil
}

func (f *fakeConversationStore) GetConversation(_ context.Context, uid string) (*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, errors.New("get failed")
	}
	record, ok := f.conversations[uid]
	if !ok {
		return nil, nil
	}
	copied := *record
	copied.Turns = append([]chat.Turn(nil), record.Turns...)
	return &copied, nil
}

func (f *fakeConversationStore) ListConversations(_ context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.failList {
		return nil, errors.New("list failed")
	}
	var list []*store.Conversation
	for _, record := range f.conversations {
		if find.CreatorID != nil && record.CreatorID != *find.CreatorID {
			continue
		}
		copied := *record
		copied.Turns = append([]chat.Turn(nil), record.Turns...)
		list = append(list, &copied)
	}
	// Newest first, by last write.
	for i := 0; i < len(list); i++ {
		for j := i + 1; j < len(list); j++ {
			if f.updatedSeq[list[j].UID] > f.updatedSeq[list[i].UID] {
				list[i], list[j] = list[j], list[i]
			}
		}
	}
	if find.Limit != nil && len(list) > *find.Limit {
		list = list[:*find.Limit]
	}
	return list, nil
}

func (f *fakeConversationStore) UpdateConversation(_ context.Context, update *store.UpdateConversation) (*store.Conversation, error) {
	if f.onUpdate != nil {
		f.onUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.failUpdate {
		return nil, errors.New("update failed")
	}
	record, ok := f.conversations[update.UID]
	if !ok {
		return nil, errors.Errorf("conversation %s not found", update.UID)
	}
	if update.Title != nil {
		record.Title = *update.Title
	}
	if update.Turns != nil {
		record.Turns = append([]chat.Turn(nil), *update.Turns...)
	}
	f.seq++
	f.updatedSeq[record.UID] = f.seq
	copied := *record
	copied.Turns = append([]chat.Turn(nil), record.Turns...)
	return &copied, nil
}

func (f *fakeConversationStore) DeleteConversation(_ context.Context, del *store.DeleteConversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.failDelete {
		return errors.New("delete failed")
	}
	if _, ok := f.conversations[del.UID]; !ok {
		return errors.Errorf("conversation %s not found", del.UID)
	}
	delete(f.conversations, del.UID)
	delete(f.updatedSeq, del.UID)
	return nil
}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	mu            sync.Mutex
	notifications []chat.Notification
}

func (n *recordingNotifier) Notify(notification chat.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *recordingNotifier) All() []chat.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]chat.Notification(nil), n.notifications...)
}

func (n *recordingNotifier) Last() (chat.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notifications) == 0 {
		return chat.Notification{}, false
	}
	return n.notifications[len(n.notifications)-1], true
}

var testClock = func() time.Time {
	return time.Date(2025, time.March, 14, 15, 9, 0, 0, time.UTC)
}

func newTestCoordinator(fake *fakeConversationStore) (*Coordinator, *manualScheduler, *recordingNotifier) {
	scheduler := &manualScheduler{}
	notifier := &recordingNotifier{}
	c := New(fake, chat.NewTranscript(), notifier, 1,
		withScheduler(scheduler.schedule),
		withClock(testClock),
	)
	return c, scheduler, notifier
}

func appendExchange(c *Coordinator, question, answer string) {
	c.AppendTurn(chat.UserTurn(question))
	c.SetGenerating(true)
	c.AppendTurn(chat.AssistantTurn(answer, nil))
	c.SetGenerating(false)
}

func TestFirstExchangeCreatesConversation(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	appendExchange(c, "what is a transcript", "a list of turns")

	require.True(t, scheduler.HasPending(), "save should be scheduled after the exchange")
	assert.Equal(t, DefaultQuietWindow, scheduler.lastDelay)
	require.True(t, scheduler.Fire())

	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, 0, fake.updates)
	assert.Equal(t, "conv-1", c.CurrentConversationID())
	assert.Equal(t, 2, c.LastSavedCount())

	record, err := fake.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "what is a transcript", record.Title)
	assert.Len(t, record.Turns, 2)
	assert.Equal(t, int32(1), record.CreatorID)
}

func TestLoneUserTurnIsNeverSaved(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	c.AppendTurn(chat.UserTurn("hello"))

	assert.False(t, scheduler.HasPending())
	assert.False(t, scheduler.Fire())
	assert.Equal(t, 0, fake.creates)
}

func TestGeneratingSuppressesSave(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	c.AppendTurn(chat.UserTurn("hello"))
	c.SetGenerating(true)
	c.AppendTurn(chat.AssistantTurn("hi", nil))

	assert.False(t, scheduler.HasPending(), "no save while the assistant is generating")

	c.SetGenerating(false)
	require.True(t, scheduler.HasPending())
	require.True(t, scheduler.Fire())
	assert.Equal(t, 1, fake.creates)
}

func TestRapidTurnsCoalesceIntoOneSave(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	appendExchange(c, "first question", "first answer")
	appendExchange(c, "second question", "second answer")

	require.True(t, scheduler.Fire())
	assert.False(t, scheduler.Fire(), "superseded saves must not run")

	assert.Equal(t, 1, fake.creates)
	record, err := fake.GetConversation(context.Background(), c.CurrentConversationID())
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Len(t, record.Turns, 4)
	assert.Equal(t, 4, c.LastSavedCount())
}

func TestLaterExchangesUpdateExistingConversation(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	appendExchange(c, "first question", "first answer")
	require.True(t, scheduler.Fire())
	uid := c.CurrentConversationID()
	require.NotEmpty(t, uid)

	appendExchange(c, "second question", "second answer")
	require.True(t, scheduler.Fire())

	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, 1, fake.updates)
	assert.Equal(t, uid, c.CurrentConversationID())
	record, err := fake.GetConversation(context.Background(), uid)
	require.NoError(t, err)
	assert.Len(t, record.Turns, 4)
	assert.Equal(t, 4, c.LastSavedCount())
}

func TestNothingNewMeansNoSave(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	appendExchange(c, "question", "answer")
	require.True(t, scheduler.Fire())

	// Re-evaluation without new turns must not schedule another save.
	c.SetGenerating(false)
	assert.False(t, scheduler.HasPending())
	assert.False(t, scheduler.Fire())
	assert.Equal(t, 1, fake.creates)
	assert.Equal(t, 0, fake.updates)
}

func TestCreateFailureRetriesOnNextTrigger(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, notifier := newTestCoordinator(fake)

	fake.failCreate = true
	appendExchange(c, "question", "answer")
	require.True(t, scheduler.Fire())

	assert.Equal(t, "", c.CurrentConversationID())
	assert.Equal(t, 0, c.LastSavedCount())
	last, ok := notifier.Last()
	require.True(t, ok)
	assert.Equal(t, "Failed to save conversation", last.Message)
	assert.Equal(t, chat.SeverityError, last.Severity)

	fake.failCreate = false
	appendExchange(c, "another question", "another answer")
	require.True(t, scheduler.Fire())

	assert.Equal(t, 2, fake.creates)
	assert.Equal(t, "conv-1", c.CurrentConversationID())
	assert.Equal(t, 4, c.LastSavedCount())
}

func TestUpdateFailureRetriesSameConversation(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, notifier := newTestCoordinator(fake)

	appendExchange(c, "question", "answer")
	require.True(t, scheduler.Fire())
	uid := c.CurrentConversationID()

	fake.failUpdate = true
	appendExchange(c, "second question", "second answer")
	require.True(t, scheduler.Fire())

	assert.Equal(t, 2, c.LastSavedCount(), "baseline unchanged after a failed update")
	last, ok := notifier.Last()
	require.True(t, ok)
	assert.Equal(t, chat.SeverityError, last.Severity)

	fake.failUpdate = false
	appendExchange(c, "third question", "third answer")
	require.True(t, scheduler.Fire())

	assert.Equal(t, uid, c.CurrentConversationID())
	assert.Equal(t, 6, c.LastSavedCount())
	record, err := fake.GetConversation(context.Background(), uid)
	require.NoError(t, err)
	assert.Len(t, record.Turns, 6)
}

func TestStaleCreateDoesNotAdoptIntoNewSession(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	// The session is reset while the create is in flight; the completed
	// create must not leak its id into the new session.
	fake.onCreate = func() {
		fake.onCreate = nil
		c.NewConversation()
	}

	appendExchange(c, "question", "answer")
	require.True(t, scheduler.Fire())

	assert.Equal(t, 1, fake.creates, "the create itself still ran")
	assert.Equal(t, "", c.CurrentConversationID())
	assert.Equal(t, 0, c.LastSavedCount())
	assert.Equal(t, 0, c.Len())
}

func TestStaleUpdateDoesNotAdvanceBaseline(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	appendExchange(c, "question", "answer")
	require.True(t, scheduler.Fire())

	fake.onUpdate = func() {
		fake.onUpdate = nil
		c.NewConversation()
	}
	appendExchange(c, "second question", "second answer")
	require.True(t, scheduler.Fire())

	assert.Equal(t, "", c.CurrentConversationID())
	assert.Equal(t, 0, c.LastSavedCount())
}

func TestSaveNowFlushesImmediately(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, notifier := newTestCoordinator(fake)

	appendExchange(c, "question", "answer")
	require.True(t, scheduler.HasPending())

	require.NoError(t, c.SaveNow(context.Background()))

	assert.False(t, scheduler.Fire(), "pending debounced save was cancelled")
	assert.Equal(t, 1, fake.creates)
	last, ok := notifier.Last()
	require.True(t, ok)
	assert.Equal(t, "Conversation saved", last.Message)
	assert.Equal(t, chat.SeveritySuccess, last.Severity)
}

func TestSaveNowWithNothingToSaveIsNoOp(t *testing.T) {
	fake := newFakeConversationStore()
	c, _, notifier := newTestCoordinator(fake)

	require.NoError(t, c.SaveNow(context.Background()))

	assert.Equal(t, 0, fake.creates)
	assert.Empty(t, notifier.All())
}

func TestLoadReplacesTranscriptAndBaseline(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	stored, err := fake.CreateConversation(context.Background(), &store.Conversation{
		CreatorID: 1,
		Title:     "older chat",
		Turns: []chat.Turn{
			chat.UserTurn("old question"),
			chat.AssistantTurn("old answer", nil),
		},
	})
	require.NoError(t, err)

	appendExchange(c, "draft question", "draft answer")

	record, err := c.Load(context.Background(), stored.UID)
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Equal(t, stored.UID, c.CurrentConversationID())
	assert.Equal(t, 2, c.LastSavedCount())
	turns := c.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "old question", turns[0].Text)

	// Loaded content alone must not trigger a save.
	assert.False(t, scheduler.Fire())
	assert.Equal(t, 0, fake.updates)
}

func TestLoadMissingConversationIsNoOp(t *testing.T) {
	fake := newFakeConversationStore()
	c, _, notifier := newTestCoordinator(fake)

	appendExchange(c, "question", "answer")

	record, err := c.Load(context.Background(), "no-such-uid")
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Equal(t, 2, c.Len(), "transcript untouched")
	assert.Empty(t, notifier.All())
}

func TestLoadFailureNotifies(t *testing.T) {
	fake := newFakeConversationStore()
	c, _, notifier := newTestCoordinator(fake)
	fake.failGet = true

	_, err := c.Load(context.Background(), "conv-1")
	require.Error(t, err)
	last, ok := notifier.Last()
	require.True(t, ok)
	assert.Equal(t, "Failed to load conversation", last.Message)
}

func TestNewConversationResetsSession(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	appendExchange(c, "question", "answer")
	require.True(t, scheduler.Fire())
	require.NotEmpty(t, c.CurrentConversationID())

	c.NewConversation()

	assert.Equal(t, "", c.CurrentConversationID())
	assert.Equal(t, 0, c.LastSavedCount())
	assert.Equal(t, 0, c.Len())
	assert.False(t, scheduler.Fire())
}

func TestDeleteCurrentConversationClearsSessionFirst(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	appendExchange(c, "question", "answer")
	require.True(t, scheduler.Fire())
	uid := c.CurrentConversationID()

	// New turns schedule another save; deleting must cancel it.
	appendExchange(c, "second question", "second answer")
	require.True(t, scheduler.HasPending())

	require.NoError(t, c.Delete(context.Background(), uid))

	assert.Equal(t, "", c.CurrentConversationID())
	assert.Equal(t, 0, c.Len())
	assert.False(t, scheduler.Fire(), "pending save cancelled before the delete")
	assert.Equal(t, 1, fake.deletes)

	record, err := fake.GetConversation(context.Background(), uid)
	require.NoError(t, err)
	assert.Nil(t, record, "record stays deleted, not resurrected by a save")
}

func TestDeleteOtherConversationLeavesSessionAlone(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	other, err := fake.CreateConversation(context.Background(), &store.Conversation{
		CreatorID: 1,
		Title:     "other",
		Turns:     []chat.Turn{chat.UserTurn("x"), chat.AssistantTurn("y", nil)},
	})
	require.NoError(t, err)

	appendExchange(c, "question", "answer")
	require.True(t, scheduler.Fire())
	uid := c.CurrentConversationID()

	require.NoError(t, c.Delete(context.Background(), other.UID))

	assert.Equal(t, uid, c.CurrentConversationID())
	assert.Equal(t, 2, c.Len())
}

func TestDeleteFailureNotifies(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, notifier := newTestCoordinator(fake)

	appendExchange(c, "question", "answer")
	require.True(t, scheduler.Fire())
	uid := c.CurrentConversationID()

	fake.failDelete = true
	err := c.Delete(context.Background(), uid)
	require.Error(t, err)
	last, ok := notifier.Last()
	require.True(t, ok)
	assert.Equal(t, "Failed to delete conversation", last.Message)
	// Memory was cleared before the store call; the session does not
	// reattach to a record whose deletion may or may not have happened.
	assert.Equal(t, "", c.CurrentConversationID())
}

func TestRenameUpdatesTitleOnly(t *testing.T) {
	fake := newFakeConversationStore()
	c, scheduler, _ := newTestCoordinator(fake)

	appendExchange(c, "question", "answer")
	require.True(t, scheduler.Fire())
	uid := c.CurrentConversationID()

	require.NoError(t, c.Rename(context.Background(), uid, "better title"))

	record, err := fake.GetConversation(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, "better title", record.Title)
	assert.Len(t, record.Turns, 2)
	assert.Equal(t, 2, c.LastSavedCount())
}

func TestAdoptFromListPicksUpUnacknowledgedCreate(t *testing.T) {
	fake := newFakeConversationStore()
	c, _, _ := newTestCoordinator(fake)

	// Simulates a create that succeeded but whose response was lost: the
	// record exists, the coordinator has no id.
	stored, err := fake.CreateConversation(context.Background(), &store.Conversation{
		CreatorID: 1,
		Title:     "question",
		Turns:     []chat.Turn{chat.UserTurn("question"), chat.AssistantTurn("answer", nil)},
	})
	require.NoError(t, err)

	c.AppendTurn(chat.UserTurn("question"))
	c.AppendTurn(chat.AssistantTurn("answer", nil))

	require.NoError(t, c.AdoptFromList(context.Background()))
	assert.Equal(t, stored.UID, c.CurrentConversationID())
	assert.Equal(t, 2, c.LastSavedCount())

	// Idempotent: a second pass has an adopted id and never hits the store.
	lists := fake.lists
	require.NoError(t, c.AdoptFromList(context.Background()))
	assert.Equal(t, lists, fake.lists)
}

func TestAdoptFromListSkipsOnLengthMismatch(t *testing.T) {
	fake := newFakeConversationStore()
	c, _, _ := newTestCoordinator(fake)

	_, err := fake.CreateConversation(context.Background(), &store.Conversation{
		CreatorID: 1,
		Title:     "question",
		Turns:     []chat.Turn{chat.UserTurn("question"), chat.AssistantTurn("answer", nil)},
	})
	require.NoError(t, err)

	c.AppendTurn(chat.UserTurn("question"))
	c.AppendTurn(chat.AssistantTurn("answer", nil))
	c.AppendTurn(chat.UserTurn("followup"))
	c.AppendTurn(chat.AssistantTurn("more", nil))

	require.NoError(t, c.AdoptFromList(context.Background()))
	assert.Equal(t, "", c.CurrentConversationID(), "length mismatch means the newest record is not ours")
}

func TestAutoTitle(t *testing.T) {
	now := testClock()

	tests := []struct {
		name      string
		firstUser string
		want      string
	}{
		{
			name:      "plain question",
			firstUser: "what is in my contract",
			want:      "what is in my contract",
		},
		{
			name:      "newlines flattened",
			firstUser: "first line\nsecond line",
			want:      "first line second line",
		},
		{
			name:      "whitespace only falls back to timestamp",
			firstUser: "   \n  ",
			want:      "Conversation Mar 14, 2025 3:09 PM",
		},
		{
			name:      "empty falls back to timestamp",
			firstUser: "",
			want:      "Conversation Mar 14, 2025 3:09 PM",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, autoTitle(tt.firstUser, now))
		})
	}
}

func TestAutoTitleTruncatesLongQuestions(t *testing.T) {
	long := ""
	for i := 0; i < 20; i++ {
		long += "abcde"
	}
	title := autoTitle(long, testClock())
	assert.Len(t, []rune(title), maxTitleRunes+3)
	assert.Equal(t, "...", title[len(title)-3:])
}

func TestSessionManagerReusesCoordinators(t *testing.T) {
	fake := newFakeConversationStore()
	manager := NewSessionManager(fake, &recordingNotifier{})

	first := manager.Get(1)
	second := manager.Get(1)
	other := manager.Get(2)

	assert.Same(t, first, second)
	assert.NotSame(t, first, other)
}

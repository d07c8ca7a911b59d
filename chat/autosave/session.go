package autosave

import (
	"sync"

	"github.com/papertalk/papertalk/chat"
)

// SessionManager hands out one coordinator per authenticated user. A
// coordinator is created lazily on first use and lives for the process
// lifetime, mirroring one browser session per user.
type SessionManager struct {
	conversations ConversationStore
	notifier      chat.Notifier
	opts          []Option

	mu       sync.Mutex
	sessions map[int32]*Coordinator
}

// NewSessionManager creates a session manager. opts are applied to every
// coordinator it creates.
func NewSessionManager(conversations ConversationStore, notifier chat.Notifier, opts ...Option) *SessionManager {
	return &SessionManager{
		conversations: conversations,
		notifier:      notifier,
		opts:          opts,
		sessions:      make(map[int32]*Coordinator),
	}
}

// Get returns the coordinator for creatorID, creating it if needed.
func (m *SessionManager) Get(creatorID int32) *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.sessions[creatorID]; ok {
		return c
	}
	c := New(m.conversations, chat.NewTranscript(), m.notifier, creatorID, m.opts...)
	m.sessions[creatorID] = c
	return c
}

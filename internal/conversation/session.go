package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/reqai/internal/llm"
)

// Greeting opens every new or reset session.
const Greeting = "Hello! I'm the ReqAI assistant. How can I help you extract and manage requirements today?"

// ErrTurnInProgress is returned when a session is already handling a turn.
var ErrTurnInProgress = errors.New("a turn is already in progress for this session")

// Session is one user's conversation. Turns are serialized: a second turn
// started while one is running fails with ErrTurnInProgress.
type Session struct {
	ID string

	turn    sync.Mutex
	mu      sync.Mutex
	history []llm.Message

	lastUsed time.Time // guarded by the owning SessionStore
}

func newSession(id string, now time.Time) *Session {
	return &Session{ID: id, history: InitialHistory(), lastUsed: now}
}

func greeting() llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: Greeting}
}

// InitialHistory is the history of a session that has not started a turn.
func InitialHistory() []llm.Message {
	return []llm.Message{greeting()}
}

// BeginTurn claims the session for one turn. The returned func releases it.
func (s *Session) BeginTurn() (func(), error) {
	if !s.turn.TryLock() {
		return nil, ErrTurnInProgress
	}
	return s.turn.Unlock, nil
}

// History returns a copy of the stored messages.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Append adds messages to the end of the history.
func (s *Session) Append(msgs ...llm.Message) {
	s.mu.Lock()
	s.history = append(s.history, msgs...)
	s.mu.Unlock()
}

// Reset drops everything but the greeting.
func (s *Session) Reset() {
	s.mu.Lock()
	s.history = InitialHistory()
	s.mu.Unlock()
}

const (
	// DefaultSessionIdle is how long an untouched session is kept.
	DefaultSessionIdle = 24 * time.Hour
	// DefaultMaxSessions caps the number of live sessions.
	DefaultMaxSessions = 1000
)

// SessionStore keeps sessions in memory. Sessions idle for longer than the
// idle limit are dropped, and once the cap is reached creating a session
// evicts the least recently used one.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idle     time.Duration
	max      int
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return NewSessionStoreWithLimits(DefaultSessionIdle, DefaultMaxSessions)
}

// NewSessionStoreWithLimits creates a store with the given idle limit and
// cap. A zero value disables that limit.
func NewSessionStoreWithLimits(idle time.Duration, maxSessions int) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		idle:     idle,
		max:      maxSessions,
		now:      time.Now,
	}
}

// Get returns the live session with id, if any, and marks it used.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lookup(id, st.now())
}

// GetOrCreate returns the session with id, or a fresh session with a new id
// when id is empty, unknown or expired.
func (st *SessionStore) GetOrCreate(id string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.now()
	if s, ok := st.lookup(id, now); ok {
		return s
	}

	st.prune(now)
	if st.max > 0 && len(st.sessions) >= st.max {
		st.evictOldest()
	}
	s := newSession(uuid.NewString(), now)
	st.sessions[s.ID] = s
	return s
}

func (st *SessionStore) lookup(id string, now time.Time) (*Session, bool) {
	s, ok := st.sessions[id]
	if !ok || id == "" {
		return nil, false
	}
	if st.expired(s, now) {
		delete(st.sessions, id)
		return nil, false
	}
	s.lastUsed = now
	return s, true
}

func (st *SessionStore) expired(s *Session, now time.Time) bool {
	return st.idle > 0 && now.Sub(s.lastUsed) > st.idle
}

func (st *SessionStore) prune(now time.Time) {
	for id, s := range st.sessions {
		if st.expired(s, now) {
			delete(st.sessions, id)
		}
	}
}

func (st *SessionStore) evictOldest() {
	var oldest *Session
	for _, s := range st.sessions {
		if oldest == nil || s.lastUsed.Before(oldest.lastUsed) {
			oldest = s
		}
	}
	if oldest != nil {
		delete(st.sessions, oldest.ID)
	}
}

// Delete forgets the session with id.
func (st *SessionStore) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len returns the number of stored sessions.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

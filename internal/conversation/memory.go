package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type session struct {
	history    []Turn
	language   string
	lastActive time.Time
}

// MemoryStore keeps sessions in process memory. A single mutex guards the
// map and every session in it, so sweeps never observe a half-written session.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*session

	maxHistory      int
	idleTTL         time.Duration
	defaultLanguage string
	now             func() time.Time
	log             *slog.Logger
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithMaxHistory bounds the number of turns kept per user.
func WithMaxHistory(n int) Option {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithIdleTTL sets how long a session may stay untouched before eviction.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

// WithDefaultLanguage sets the language reported for unknown users.
func WithDefaultLanguage(code string) Option {
	return func(s *MemoryStore) {
		if code != "" {
			s.defaultLanguage = code
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *MemoryStore) {
		if log != nil {
			s.log = log
		}
	}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		sessions:        make(map[string]*session),
		maxHistory:      DefaultMaxHistory,
		idleTTL:         DefaultIdleTTL,
		defaultLanguage: DefaultLanguage,
		now:             time.Now,
		log:             slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "conversation_store", "backend", "memory")
	return s
}

// History returns a copy of the user's turns.
func (s *MemoryStore) History(_ context.Context, userID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return []Turn{}
	}
	out := make([]Turn, len(sess.history))
	copy(out, sess.history)
	return out
}

// Language returns the user's language or the default.
func (s *MemoryStore) Language(_ context.Context, userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok && sess.language != "" {
		return sess.language
	}
	return s.defaultLanguage
}

// getOrCreate must be called with mu held.
func (s *MemoryStore) getOrCreate(userID string) *session {
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{language: s.defaultLanguage}
		s.sessions[userID] = sess
	}
	return sess
}

// AddTurn appends the exchange and trims from the front.
func (s *MemoryStore) AddTurn(_ context.Context, userID, userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreate(userID)
	sess.history = append(sess.history,
		Turn{Role: RoleUser, Text: userText},
		Turn{Role: RoleAssistant, Text: assistantText},
	)
	if over := len(sess.history) - s.maxHistory; over > 0 {
		// Copy into a fresh slice so the dropped turns can be collected.
		trimmed := make([]Turn, s.maxHistory)
		copy(trimmed, sess.history[over:])
		sess.history = trimmed
	}
	sess.lastActive = s.now()
}

// SetLanguage records the language and touches the session.
func (s *MemoryStore) SetLanguage(_ context.Context, userID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreate(userID)
	sess.language = code
	sess.lastActive = s.now()
}

// Clear drops the session.
func (s *MemoryStore) Clear(_ context.Context, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Sweep removes sessions whose last activity is older than the idle TTL.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.idleTTL)
	evicted := 0
	for id, sess := range s.sessions {
		if sess.lastActive.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.log.DebugContext(ctx, "Evicted idle sessions", "evicted", evicted, "remaining", len(s.sessions))
	}
	return evicted
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Package session maps chat IDs to assistant threads so a conversation
// keeps its context across messages. Entries expire after a TTL of
// inactivity and the store is capped to bound memory on busy bots.
package session

import (
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an idle conversation keeps its thread.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxEntries caps the number of tracked conversations.
	DefaultMaxEntries = 10000
)

type entry struct {
	threadID string
	lastSeen time.Time
}

// Store tracks chatID → threadID with TTL-based expiry.
type Store struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]entry
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the idle expiry for sessions.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithMaxEntries overrides the session cap.
func WithMaxEntries(n int) Option {
	return func(s *Store) { s.maxEntries = n }
}

func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		ttl:        DefaultTTL,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		sessions:   make(map[string]entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the thread for a chat and refreshes its last-seen time.
// Expired entries are treated as absent.
func (s *Store) Get(chatID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[chatID]
	if !ok {
		return "", false
	}
	if s.now().Sub(e.lastSeen) > s.ttl {
		delete(s.sessions, chatID)
		return "", false
	}
	e.lastSeen = s.now()
	s.sessions[chatID] = e
	return e.threadID, true
}

// Put records the thread for a chat. When the store is full the oldest
// entry is evicted first.
func (s *Store) Put(chatID, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[chatID]; !ok && len(s.sessions) >= s.maxEntries {
		s.evictOldestLocked()
	}
	s.sessions[chatID] = entry{threadID: threadID, lastSeen: s.now()}
}

// Evict removes the session for a chat, forcing the next message to
// start a fresh thread.
func (s *Store) Evict(chatID string) {
	s.mu.Lock()
	delete(s.sessions, chatID)
	s.mu.Unlock()
}

// Len returns the number of tracked sessions, including not-yet-swept
// expired ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) evictOldestLocked() {
	var oldest string
	var oldestSeen time.Time
	for id, e := range s.sessions {
		if oldest == "" || e.lastSeen.Before(oldestSeen) {
			oldest = id
			oldestSeen = e.lastSeen
		}
	}
	if oldest != "" {
		delete(s.sessions, oldest)
	}
}

package ttlset

import (
	"sync"
	"time"
)

// A bounded set of opaque tokens that expire after a fixed TTL. Used by the
// chat sender to recognize its own broadcast echo: insert on send, check on
// receive. After the TTL a token is no longer suppressed.
type Set struct {
	ttl     time.Duration
	maxSize int
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func New(ttl time.Duration) *Set {
	return &Set{
		ttl:     ttl,
		maxSize: 1024,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Add records a token. It expires after the set's TTL.
func (s *Set) Add(token string) {
	if token == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked()
	s.entries[token] = s.now().Add(s.ttl)
}

// Contains reports whether a token is present and not yet expired.
func (s *Set) Contains(token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deadline, ok := s.entries[token]
	if !ok {
		return false
	}
	if s.now().After(deadline) {
		delete(s.entries, token)
		return false
	}
	return true
}

// Len returns the number of live entries.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	return len(s.entries)
}

func (s *Set) purgeLocked() {
	now := s.now()
	for token, deadline := range s.entries {
		if now.After(deadline) {
			delete(s.entries, token)
		}
	}

	// Tokens carry enough entropy that the set should never grow this far;
	// reset rather than leak if a caller misbehaves.
	if len(s.entries) > s.maxSize {
		s.entries = make(map[string]time.Time)
	}
}

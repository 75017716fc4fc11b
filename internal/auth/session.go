package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// KeyBytes is the session key length: 256 bits (§4.7).
const KeyBytes = 32

// DefaultSessionDuration is how long a session is valid absent a
// durationOverride argument to CreateSession.
const DefaultSessionDuration = 24 * time.Hour

// Session is a short-lived capability: a random key plus the role and
// expiry it was issued with.
type Session struct {
	Key        [KeyBytes]byte
	PlayerName string
	Role       Role
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Fingerprint returns a short, non-reversible identifier for logging —
// security events never log the raw key (§4.7, §7).
func (s Session) Fingerprint() string {
	sum := sha256.Sum256(s.Key[:])
	return hex.EncodeToString(sum[:4])
}

func (s Session) expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Store issues and validates sessions. Writes are serialized through mu,
// matching §5's "Session store: readers hold immutable snapshots; writes
// are serialized through the session grain owner."
type Store struct {
	mu       sync.RWMutex
	sessions map[[KeyBytes]byte]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[[KeyBytes]byte]*Session)}
}

// CreateSession generates a fresh 256-bit random key via crypto/rand (§4.7).
func (s *Store) CreateSession(playerName string, role Role, durationOverride time.Duration) (*Session, error) {
	var key [KeyBytes]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("auth: failed to generate session key: %w", err)
	}
	duration := DefaultSessionDuration
	if durationOverride > 0 {
		duration = durationOverride
	}
	now := time.Now().UTC()
	sess := &Session{
		Key:        key,
		PlayerName: playerName,
		Role:       role,
		IssuedAt:   now,
		ExpiresAt:  now.Add(duration),
	}
	s.mu.Lock()
	s.sessions[key] = sess
	s.mu.Unlock()
	return sess, nil
}

// Validate checks a presented key against the stored keys (P6:
// ValidateSessionKey must not early-exit on the first differing byte). It
// scans the stored sessions and compares each stored key with
// crypto/subtle.ConstantTimeCompare, so no single comparison stops at the
// first differing byte; the scan itself stops at the first matching key.
func (s *Store) Validate(presented [KeyBytes]byte) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for storedKey, sess := range s.sessions {
		if subtle.ConstantTimeCompare(storedKey[:], presented[:]) == 1 {
			if sess.expired(time.Now().UTC()) {
				return nil, false
			}
			return sess, true
		}
	}
	return nil, false
}

// Revoke invalidates a session immediately (used on explicit logout or a
// detected compromise).
func (s *Store) Revoke(key [KeyBytes]byte) {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
}

// PruneExpired removes sessions past their expiry and returns how many it
// removed. No scheduled job calls it; Validate rejects expired sessions on
// its own.
func (s *Store) PruneExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for k, sess := range s.sessions {
		if sess.expired(now) {
			delete(s.sessions, k)
			pruned++
		}
	}
	return pruned
}

package auth

import (
	"sync"
	"time"
)

// revocationEntry stores metadata about a revoked JWT token.
type revocationEntry struct {
	ExpiresAt time.Time
	UserID    string
}

// maxTokenLifetime bounds how long a per-user revocation cutoff must be
// retained. Any token issued before the cutoff has expired on its own
// once this much time has passed.
const maxTokenLifetime = 24 * time.Hour

// TokenRevocationStore manages revoked JWT tokens in memory. Individual
// tokens are revoked by JTI (JWT ID claim); whole users are revoked with
// a cutoff timestamp that invalidates every token issued before it.
// Expired entries are cleaned up automatically. Thread-safe.
type TokenRevocationStore struct {
	mu          sync.RWMutex
	entries     map[string]revocationEntry // JTI -> entry
	userCutoffs map[string]time.Time       // userID -> revoke-before
	done        chan struct{}
}

// NewTokenRevocationStore creates a new store and starts a background
// goroutine that cleans up expired entries every 5 minutes.
func NewTokenRevocationStore() *TokenRevocationStore {
	s := &TokenRevocationStore{
		entries:     make(map[string]revocationEntry),
		userCutoffs: make(map[string]time.Time),
		done:        make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Revoke adds a token's JTI to the revocation list. The expiresAt time
// indicates when the token would have naturally expired; the entry is
// dropped after that time since an expired token needs no tracking.
func (s *TokenRevocationStore) Revoke(jti string, expiresAt time.Time) {
	s.RevokeForUser(jti, "", expiresAt)
}

// RevokeForUser adds a token's JTI to the revocation list and records
// which user it belonged to.
func (s *TokenRevocationStore) RevokeForUser(jti, userID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[jti] = revocationEntry{
		ExpiresAt: expiresAt,
		UserID:    userID,
	}
}

// IsRevoked checks if a token JTI has been revoked.
func (s *TokenRevocationStore) IsRevoked(jti string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[jti]
	return ok
}

// RevokeAllForUser invalidates every outstanding token for the user by
// recording the current time as a cutoff: any token issued before it is
// treated as revoked. Tokens issued afterwards (a fresh login) are
// unaffected. Returns the recorded cutoff.
func (s *TokenRevocationStore) RevokeAllForUser(userID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now()
	s.userCutoffs[userID] = cutoff
	return cutoff
}

// IsUserRevoked reports whether a token issued at issuedAt for the given
// user falls under a user-wide revocation.
func (s *TokenRevocationStore) IsUserRevoked(userID string, issuedAt time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff, ok := s.userCutoffs[userID]
	return ok && issuedAt.Before(cutoff)
}

// Count returns the number of individually revoked tokens.
func (s *TokenRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Entries returns a snapshot of all current revocation entries.
func (s *TokenRevocationStore) Entries() []RevocationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]RevocationInfo, 0, len(s.entries))
	for jti, entry := range s.entries {
		result = append(result, RevocationInfo{
			JTI:       jti,
			UserID:    entry.UserID,
			ExpiresAt: entry.ExpiresAt,
		})
	}
	return result
}

// RevocationInfo is a public representation of a revocation entry.
type RevocationInfo struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Close stops the background cleanup goroutine. It is safe to call
// multiple times but only the first call has effect.
func (s *TokenRevocationStore) Close() {
	select {
	case <-s.done:
		// already closed
	default:
		close(s.done)
	}
}

// cleanupLoop periodically removes expired revocation entries.
func (s *TokenRevocationStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes revocation entries whose tokens have expired and user
// cutoffs old enough that no token issued before them can still be live.
func (s *TokenRevocationStore) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, jti)
		}
	}
	for userID, cutoff := range s.userCutoffs {
		if now.Sub(cutoff) > maxTokenLifetime {
			delete(s.userCutoffs, userID)
		}
	}
}

// Package memory provides in-memory implementations of the outbound ports.
// For development and testing only: nothing is encrypted or persisted.
package memory

import (
	"context"
	"sync"

	"github.com/keywarden/keywarden/internal/domain/policy"
)

// PolicyStore implements policy.Store with a per-account map. The lock
// state is modeled explicitly so the aggregation engine's gating can be
// exercised without real key material.
type PolicyStore struct {
	mu           sync.RWMutex
	activeUserID string
	unlocked     map[string]bool
	accounts     map[string]map[string]policy.Data
}

// NewPolicyStore creates an empty in-memory policy store.
func NewPolicyStore() *PolicyStore {
	return &PolicyStore{
		unlocked: make(map[string]bool),
		accounts: make(map[string]map[string]policy.Data),
	}
}

// SetActive switches the active account.
func (s *PolicyStore) SetActive(userID string) {
	s.mu.Lock()
	s.activeUserID = userID
	s.mu.Unlock()
}

// SetUnlocked marks an account's vault as unlocked or locked.
func (s *PolicyStore) SetUnlocked(userID string, unlocked bool) {
	s.mu.Lock()
	s.unlocked[userID] = unlocked
	s.mu.Unlock()
}

// ActiveUserID returns the id of the active account.
func (s *PolicyStore) ActiveUserID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeUserID == "" {
		return "", policy.ErrNoActiveAccount
	}
	return s.activeUserID, nil
}

// EncryptedPolicies returns a copy of the active account's policy map.
func (s *PolicyStore) EncryptedPolicies(_ context.Context) (map[string]policy.Data, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeUserID == "" {
		return nil, policy.ErrNoActiveAccount
	}
	if !s.unlocked[s.activeUserID] {
		return nil, policy.ErrLocked
	}

	out := make(map[string]policy.Data, len(s.accounts[s.activeUserID]))
	for id, d := range s.accounts[s.activeUserID] {
		out[id] = d
	}
	return out, nil
}

// SetEncryptedPolicies replaces the policy map for the given account; an
// empty userID addresses the active account.
func (s *PolicyStore) SetEncryptedPolicies(_ context.Context, userID string, policies map[string]policy.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := userID
	if target == "" {
		target = s.activeUserID
	}
	if target == "" {
		return policy.ErrNoActiveAccount
	}

	stored := make(map[string]policy.Data, len(policies))
	for id, d := range policies {
		stored[id] = d
	}
	s.accounts[target] = stored
	return nil
}

// Compile-time interface verification.
var _ policy.Store = (*PolicyStore)(nil)

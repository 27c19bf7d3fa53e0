package policy

import (
	"context"
	"errors"
)

// Store errors surfaced by implementations.
var (
	// ErrLocked is returned when the store cannot decrypt because the
	// active account's vault is locked.
	ErrLocked = errors.New("policy store is locked")
	// ErrNoActiveAccount is returned when no account is active.
	ErrNoActiveAccount = errors.New("no active account")
)

// Store is the outbound port to the persisted, per-account policy map.
// Implementations hold the at-rest form (possibly sealed) and expose
// decrypt-on-read access; callers only ever see plaintext Data records.
type Store interface {
	// EncryptedPolicies returns the persisted policy map for the active
	// account, decrypted. Returns ErrLocked while the vault is locked and
	// ErrNoActiveAccount when no account is active.
	EncryptedPolicies(ctx context.Context) (map[string]Data, error)

	// SetEncryptedPolicies replaces the persisted policy map for the given
	// account. An empty userID addresses the active account. The write is
	// all-or-nothing: on error no partial state is persisted.
	SetEncryptedPolicies(ctx context.Context, userID string, policies map[string]Data) error

	// ActiveUserID returns the id of the active account, or
	// ErrNoActiveAccount when none is active.
	ActiveUserID(ctx context.Context) (string, error)
}

package state

import "time"

// vaultFile is the on-disk schema for vault.json. Policy payloads are
// sealed per account; nothing in this file is plaintext policy data.
type vaultFile struct {
	// Version is the schema version, currently "1".
	Version string `json:"version"`
	// Accounts maps account (user) ids to their sealed records.
	Accounts map[string]accountRecord `json:"accounts"`
	// CreatedAt is when the vault file was first created (UTC).
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the vault file was last written (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}

// accountRecord holds one account's sealed vault material.
type accountRecord struct {
	// PassphraseHash is the argon2id encoded hash of the unlock passphrase.
	PassphraseHash string `json:"passphrase_hash"`
	// KeySalt is the base64 KDF salt used to derive the key-encryption key
	// from the passphrase.
	KeySalt string `json:"key_salt"`
	// SealedKey is the base64 sealed vault key (nonce || ciphertext).
	SealedKey string `json:"sealed_key"`
	// Policies is the base64 sealed policy map (nonce || ciphertext of the
	// JSON-encoded map[id]policy.Data). Empty means no policies.
	Policies string `json:"policies,omitempty"`
	// CreatedAt is when the account was registered (UTC).
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the account record was last written (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}

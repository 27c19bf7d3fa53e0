// Package state implements the file-backed, sealed policy store. Policy
// maps are persisted per account in vault.json, encrypted with a per-account
// vault key; the vault key is itself sealed under a key derived from the
// account's unlock passphrase. The file is written atomically
// (write-tmp-then-rename) with automatic backups and file locking (flock
// for cross-process, mutex for in-process).
package state

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"

	"github.com/keywarden/keywarden/internal/domain/policy"
)

// Errors surfaced by the file store in addition to the policy.Store errors.
var (
	// ErrAccountExists is returned when registering an already-known account.
	ErrAccountExists = errors.New("account already registered")
	// ErrUnknownAccount is returned for operations against an unregistered account.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrBadPassphrase is returned when an unlock passphrase does not verify.
	ErrBadPassphrase = errors.New("passphrase does not match")
)

// FileStore is the file-backed implementation of policy.Store. It also
// owns the runtime session material: which account is active and the
// unlocked vault keys. Locked accounts have no key in memory, so their
// policy payloads are unreadable by construction.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu           sync.Mutex
	activeUserID string
	keys         map[string][]byte // unlocked vault keys by account id
}

// NewFileStore creates a FileStore for the given vault file path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
		keys:   make(map[string][]byte),
	}
}

// Path returns the configured vault file path.
func (s *FileStore) Path() string {
	return s.path
}

// Exists returns true if the vault file exists on disk.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// CreateAccount registers a new account: hashes the passphrase for
// verification, generates a vault key, and seals it under the
// passphrase-derived key. The new account starts locked.
func (s *FileStore) CreateAccount(ctx context.Context, userID, passphrase string) error {
	if userID == "" {
		return errors.New("account id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := vault.Accounts[userID]; ok {
		return ErrAccountExists
	}

	hash, err := argon2id.CreateHash(passphrase, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("hash passphrase: %w", err)
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}

	vaultKey, err := newVaultKey()
	if err != nil {
		return err
	}
	defer zero(vaultKey)

	kek := deriveKEK(passphrase, salt)
	defer zero(kek)

	sealedKey, err := seal(kek, vaultKey)
	if err != nil {
		return fmt.Errorf("seal vault key: %w", err)
	}

	now := time.Now().UTC()
	vault.Accounts[userID] = accountRecord{
		PassphraseHash: hash,
		KeySalt:        base64.StdEncoding.EncodeToString(salt),
		SealedKey:      base64.StdEncoding.EncodeToString(sealedKey),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.save(vault); err != nil {
		return err
	}

	s.logger.Info("account registered", "user_id", userID)
	return nil
}

// SetActive switches the active account. The previous account's vault key
// stays in memory so switching back does not require another unlock; use
// Lock to discard keys.
func (s *FileStore) SetActive(userID string) {
	s.mu.Lock()
	s.activeUserID = userID
	s.mu.Unlock()
}

// ActiveUserID returns the id of the active account.
func (s *FileStore) ActiveUserID(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeUserID == "" {
		return "", policy.ErrNoActiveAccount
	}
	return s.activeUserID, nil
}

// Unlock verifies the passphrase for the given account and brings its
// vault key into memory. Returns ErrBadPassphrase on mismatch.
func (s *FileStore) Unlock(ctx context.Context, userID, passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	vault, err := s.load()
	if err != nil {
		return err
	}
	rec, ok := vault.Accounts[userID]
	if !ok {
		return ErrUnknownAccount
	}

	match, err := argon2id.ComparePasswordAndHash(passphrase, rec.PassphraseHash)
	if err != nil {
		return fmt.Errorf("verify passphrase: %w", err)
	}
	if !match {
		return ErrBadPassphrase
	}

	salt, err := base64.StdEncoding.DecodeString(rec.KeySalt)
	if err != nil {
		return fmt.Errorf("decode key salt: %w", err)
	}
	sealedKey, err := base64.StdEncoding.DecodeString(rec.SealedKey)
	if err != nil {
		return fmt.Errorf("decode sealed key: %w", err)
	}

	kek := deriveKEK(passphrase, salt)
	defer zero(kek)

	vaultKey, err := open(kek, sealedKey)
	if err != nil {
		return fmt.Errorf("unseal vault key: %w", err)
	}

	s.keys[userID] = vaultKey
	s.logger.Info("account unlocked", "user_id", userID)
	return nil
}

// Lock discards the in-memory vault key for the given account. Sealed
// policies remain on disk but are unreadable until the next Unlock.
func (s *FileStore) Lock(userID string) {
	s.mu.Lock()
	if key, ok := s.keys[userID]; ok {
		zero(key)
		delete(s.keys, userID)
		s.logger.Info("account locked", "user_id", userID)
	}
	s.mu.Unlock()
}

// Unlocked reports whether the given account's vault key is in memory.
func (s *FileStore) Unlocked(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[userID]
	return ok
}

// EncryptedPolicies returns the active account's policy map, decrypted.
func (s *FileStore) EncryptedPolicies(_ context.Context) (map[string]policy.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeUserID == "" {
		return nil, policy.ErrNoActiveAccount
	}
	key, ok := s.keys[s.activeUserID]
	if !ok {
		return nil, policy.ErrLocked
	}

	vault, err := s.load()
	if err != nil {
		return nil, err
	}
	rec, ok := vault.Accounts[s.activeUserID]
	if !ok {
		return nil, ErrUnknownAccount
	}

	if rec.Policies == "" {
		return map[string]policy.Data{}, nil
	}

	blob, err := base64.StdEncoding.DecodeString(rec.Policies)
	if err != nil {
		return nil, fmt.Errorf("decode sealed policies: %w", err)
	}
	plaintext, err := open(key, blob)
	if err != nil {
		return nil, fmt.Errorf("unseal policies: %w", err)
	}

	var policies map[string]policy.Data
	if err := json.Unmarshal(plaintext, &policies); err != nil {
		return nil, fmt.Errorf("parse policies: %w", err)
	}
	return policies, nil
}

// SetEncryptedPolicies replaces the persisted policy map for the given
// account; an empty userID addresses the active account. Writing an empty
// set needs no vault key (the sealed blob is simply dropped), so clears
// work against locked accounts too. Non-empty writes require the target
// account to be unlocked.
func (s *FileStore) SetEncryptedPolicies(_ context.Context, userID string, policies map[string]policy.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := userID
	if target == "" {
		target = s.activeUserID
	}
	if target == "" {
		return policy.ErrNoActiveAccount
	}

	vault, err := s.load()
	if err != nil {
		return err
	}
	rec, ok := vault.Accounts[target]
	if !ok {
		return ErrUnknownAccount
	}

	if len(policies) == 0 {
		rec.Policies = ""
	} else {
		key, ok := s.keys[target]
		if !ok {
			return policy.ErrLocked
		}
		plaintext, err := json.Marshal(policies)
		if err != nil {
			return fmt.Errorf("marshal policies: %w", err)
		}
		blob, err := seal(key, plaintext)
		if err != nil {
			return fmt.Errorf("seal policies: %w", err)
		}
		rec.Policies = base64.StdEncoding.EncodeToString(blob)
	}

	rec.UpdatedAt = time.Now().UTC()
	vault.Accounts[target] = rec

	return s.save(vault)
}

// load reads and parses the vault file. A missing file yields an empty
// vault. Warns if the existing file has permissions more open than 0600.
func (s *FileStore) load() (*vaultFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			now := time.Now().UTC()
			return &vaultFile{
				Version:   "1",
				Accounts:  make(map[string]accountRecord),
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		}
		return nil, fmt.Errorf("read vault file: %w", err)
	}

	// Check file permissions and warn if too open. Skip on Windows where
	// Unix permission bits are not supported.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				s.logger.Warn("vault file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var vault vaultFile
	if err := json.Unmarshal(data, &vault); err != nil {
		return nil, fmt.Errorf("parse vault file: %w", err)
	}
	if vault.Accounts == nil {
		vault.Accounts = make(map[string]accountRecord)
	}
	return &vault, nil
}

// save writes the vault file to disk atomically:
//  1. Acquire flock on path+".lock"
//  2. Copy current file to path+".bak" (ignored if no current file)
//  3. Write to path+".tmp" with 0600 permissions and fsync
//  4. Rename path+".tmp" -> path
//
// Callers must hold s.mu.
func (s *FileStore) save(vault *vaultFile) error {
	vault.UpdatedAt = time.Now().UTC()

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		bakPath := s.path + ".bak"
		if writeErr := os.WriteFile(bakPath, currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(vault, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal vault: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on vault file", "error", err)
	}

	s.logger.Debug("vault saved", "path", s.path)
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it over
// the target path. On any error the temp file is cleaned up.
func (s *FileStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to vault: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ policy.Store = (*FileStore)(nil)

// Package sqlite implements a SQLite-backed policy store for server
// deployments. Policy rows are stored per account and replaced
// transactionally, so a failed write never leaves a partial set behind.
// Unlike the file store, payloads are not sealed here; at-rest protection
// is delegated to disk encryption on the host.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/keywarden/keywarden/internal/domain/policy"
)

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	user_id         TEXT    NOT NULL,
	policy_id       TEXT    NOT NULL,
	organization_id TEXT    NOT NULL,
	type            INTEGER NOT NULL,
	enabled         INTEGER NOT NULL,
	data            TEXT,
	PRIMARY KEY (user_id, policy_id)
);
`

// Store is the SQLite implementation of policy.Store. The active account
// and per-account lock flags are runtime state, mirroring the file store's
// session semantics.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu           sync.RWMutex
	activeUserID string
	unlocked     map[string]bool
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// modernc.org/sqlite serializes writes internally; a single connection
	// avoids SQLITE_BUSY under concurrent mutation.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.Info("sqlite policy store opened", "path", path)
	return &Store{
		db:       db,
		logger:   logger,
		unlocked: make(map[string]bool),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetActive switches the active account.
func (s *Store) SetActive(userID string) {
	s.mu.Lock()
	s.activeUserID = userID
	s.mu.Unlock()
}

// SetUnlocked marks an account's vault as unlocked or locked.
func (s *Store) SetUnlocked(userID string, unlocked bool) {
	s.mu.Lock()
	s.unlocked[userID] = unlocked
	s.mu.Unlock()
}

// ActiveUserID returns the id of the active account.
func (s *Store) ActiveUserID(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeUserID == "" {
		return "", policy.ErrNoActiveAccount
	}
	return s.activeUserID, nil
}

// EncryptedPolicies returns the active account's policy map.
func (s *Store) EncryptedPolicies(ctx context.Context) (map[string]policy.Data, error) {
	s.mu.RLock()
	userID := s.activeUserID
	unlocked := s.unlocked[userID]
	s.mu.RUnlock()

	if userID == "" {
		return nil, policy.ErrNoActiveAccount
	}
	if !unlocked {
		return nil, policy.ErrLocked
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT policy_id, organization_id, type, enabled, data FROM policies WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	policies := make(map[string]policy.Data)
	for rows.Next() {
		var (
			d       policy.Data
			enabled int
			payload sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.OrganizationID, &d.Type, &enabled, &payload); err != nil {
			return nil, fmt.Errorf("scan policy row: %w", err)
		}
		d.Enabled = enabled != 0
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &d.Data); err != nil {
				return nil, fmt.Errorf("parse policy payload %s: %w", d.ID, err)
			}
		}
		policies[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy rows: %w", err)
	}
	return policies, nil
}

// SetEncryptedPolicies transactionally replaces the policy set for the
// given account; an empty userID addresses the active account.
func (s *Store) SetEncryptedPolicies(ctx context.Context, userID string, policies map[string]policy.Data) error {
	s.mu.RLock()
	target := userID
	if target == "" {
		target = s.activeUserID
	}
	s.mu.RUnlock()

	if target == "" {
		return policy.ErrNoActiveAccount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM policies WHERE user_id = ?`, target); err != nil {
		return fmt.Errorf("delete policies: %w", err)
	}

	for id, d := range policies {
		var payload any
		if d.Data != nil {
			encoded, err := json.Marshal(d.Data)
			if err != nil {
				return fmt.Errorf("marshal policy payload %s: %w", id, err)
			}
			payload = string(encoded)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO policies (user_id, policy_id, organization_id, type, enabled, data) VALUES (?, ?, ?, ?, ?, ?)`,
			target, id, d.OrganizationID, int(d.Type), boolToInt(d.Enabled), payload); err != nil {
			return fmt.Errorf("insert policy %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit policies: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Compile-time interface verification.
var _ policy.Store = (*Store)(nil)

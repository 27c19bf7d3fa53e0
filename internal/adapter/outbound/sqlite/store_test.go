package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/keywarden/keywarden/internal/domain/policy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "policies.db"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.SetActive("user-1")
	s.SetUnlocked("user-1", true)

	want := map[string]policy.Data{
		"1": {
			ID:             "1",
			OrganizationID: "org-a",
			Type:           policy.TypeMasterPassword,
			Enabled:        true,
			Data:           map[string]any{"minLength": float64(12)},
		},
		"2": {
			ID:             "2",
			OrganizationID: "org-b",
			Type:           policy.TypeSingleOrg,
			Enabled:        false,
		},
	}
	if err := s.SetEncryptedPolicies(ctx, "", want); err != nil {
		t.Fatalf("SetEncryptedPolicies: %v", err)
	}

	got, err := s.EncryptedPolicies(ctx)
	if err != nil {
		t.Fatalf("EncryptedPolicies: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("policies = %+v, want 2 entries", got)
	}
	p1 := got["1"]
	if p1.OrganizationID != "org-a" || p1.Type != policy.TypeMasterPassword || !p1.Enabled {
		t.Errorf("policy 1 = %+v", p1)
	}
	if v, ok := p1.Data["minLength"].(float64); !ok || v != 12 {
		t.Errorf("policy 1 payload = %+v", p1.Data)
	}
	if got["2"].Data != nil {
		t.Errorf("policy 2 payload = %+v, want nil", got["2"].Data)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policies.db")

	s, err := Open(ctx, path, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.SetActive("user-1")
	s.SetUnlocked("user-1", true)
	if err := s.SetEncryptedPolicies(ctx, "", map[string]policy.Data{
		"1": {ID: "1", Type: policy.TypeTwoFactor, Enabled: true},
	}); err != nil {
		t.Fatalf("SetEncryptedPolicies: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(ctx, path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	s2.SetActive("user-1")
	s2.SetUnlocked("user-1", true)

	got, err := s2.EncryptedPolicies(ctx)
	if err != nil {
		t.Fatalf("EncryptedPolicies after reopen: %v", err)
	}
	if len(got) != 1 || got["1"].Type != policy.TypeTwoFactor {
		t.Errorf("policies after reopen = %+v", got)
	}
}

func TestStoreGating(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.EncryptedPolicies(ctx); !errors.Is(err, policy.ErrNoActiveAccount) {
		t.Errorf("read with no account = %v, want ErrNoActiveAccount", err)
	}
	if err := s.SetEncryptedPolicies(ctx, "", nil); !errors.Is(err, policy.ErrNoActiveAccount) {
		t.Errorf("write with no account = %v, want ErrNoActiveAccount", err)
	}

	s.SetActive("user-1")
	if _, err := s.EncryptedPolicies(ctx); !errors.Is(err, policy.ErrLocked) {
		t.Errorf("read while locked = %v, want ErrLocked", err)
	}
}

func TestStoreReplaceSemantics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.SetActive("user-1")
	s.SetUnlocked("user-1", true)

	if err := s.SetEncryptedPolicies(ctx, "", map[string]policy.Data{
		"1": {ID: "1", Enabled: true},
		"2": {ID: "2", Enabled: true},
	}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := s.SetEncryptedPolicies(ctx, "", map[string]policy.Data{
		"3": {ID: "3", Enabled: true},
	}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := s.EncryptedPolicies(ctx)
	if err != nil {
		t.Fatalf("EncryptedPolicies: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("policies = %+v, want only the replacement set", got)
	}
	if _, ok := got["3"]; !ok {
		t.Errorf("policies = %+v, want policy 3", got)
	}
}

func TestStoreAddressedWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.SetActive("user-1")
	s.SetUnlocked("user-1", true)

	if err := s.SetEncryptedPolicies(ctx, "", map[string]policy.Data{
		"1": {ID: "1", Enabled: true},
	}); err != nil {
		t.Fatalf("write to active account: %v", err)
	}

	// An addressed write lands on the named account and leaves the
	// active account's rows untouched.
	if err := s.SetEncryptedPolicies(ctx, "user-2", map[string]policy.Data{}); err != nil {
		t.Fatalf("write to named account: %v", err)
	}

	got, err := s.EncryptedPolicies(ctx)
	if err != nil {
		t.Fatalf("EncryptedPolicies: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("active account policies = %+v, want 1 entry", got)
	}
}

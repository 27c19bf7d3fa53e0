package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/keywarden/keywarden/internal/domain/policy"
)

func TestPolicyStoreGating(t *testing.T) {
	ctx := context.Background()
	s := NewPolicyStore()

	if _, err := s.EncryptedPolicies(ctx); !errors.Is(err, policy.ErrNoActiveAccount) {
		t.Errorf("read with no account = %v, want ErrNoActiveAccount", err)
	}

	s.SetActive("user-1")
	if _, err := s.EncryptedPolicies(ctx); !errors.Is(err, policy.ErrLocked) {
		t.Errorf("read while locked = %v, want ErrLocked", err)
	}

	s.SetUnlocked("user-1", true)
	got, err := s.EncryptedPolicies(ctx)
	if err != nil {
		t.Fatalf("read while unlocked: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("fresh account policies = %+v, want empty", got)
	}
}

func TestPolicyStoreWriteTargets(t *testing.T) {
	ctx := context.Background()
	s := NewPolicyStore()
	s.SetActive("user-1")
	s.SetUnlocked("user-1", true)

	if err := s.SetEncryptedPolicies(ctx, "", map[string]policy.Data{
		"1": {ID: "1", Type: policy.TypeMasterPassword, Enabled: true},
	}); err != nil {
		t.Fatalf("write to active account: %v", err)
	}

	// Addressed writes land on the named account, not the active one.
	if err := s.SetEncryptedPolicies(ctx, "user-2", map[string]policy.Data{}); err != nil {
		t.Fatalf("write to named account: %v", err)
	}

	got, err := s.EncryptedPolicies(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("active account policies = %+v, want 1 entry", got)
	}
}

func TestPolicyStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewPolicyStore()
	s.SetActive("user-1")
	s.SetUnlocked("user-1", true)

	if err := s.SetEncryptedPolicies(ctx, "", map[string]policy.Data{
		"1": {ID: "1", Enabled: true},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	first, _ := s.EncryptedPolicies(ctx)
	delete(first, "1")

	second, _ := s.EncryptedPolicies(ctx)
	if len(second) != 1 {
		t.Error("mutating a returned map should not affect the store")
	}
}

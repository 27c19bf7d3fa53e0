// Package service contains application services.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/keywarden/keywarden/internal/domain/account"
	"github.com/keywarden/keywarden/internal/domain/organization"
	"github.com/keywarden/keywarden/internal/domain/policy"
)

// PolicyService maintains a derived snapshot of the active account's
// decrypted policies and answers policy queries against it. The snapshot
// is empty whenever no account is active or the vault is locked, and is
// recomputed on every account transition and every persisted mutation.
// Reads are lock-free via atomic.Value.
type PolicyService struct {
	store    policy.Store
	orgs     organization.Provider
	accounts *account.Signal
	logger   *slog.Logger

	snapshot atomic.Value // stores []policy.Policy, sorted by id

	mu sync.Mutex // serializes mutations

	watchMu     sync.Mutex
	watchers    map[uint64]chan []policy.Policy
	nextWatchID uint64

	unsubscribe func()
}

// NewPolicyService creates a PolicyService and computes the initial
// snapshot. It subscribes to the account signal, so anything that keeps
// the store's session state in sync with the signal must be subscribed
// before the service is constructed.
func NewPolicyService(
	ctx context.Context,
	store policy.Store,
	orgs organization.Provider,
	accounts *account.Signal,
	logger *slog.Logger,
) *PolicyService {
	s := &PolicyService{
		store:    store,
		orgs:     orgs,
		accounts: accounts,
		logger:   logger,
		watchers: make(map[uint64]chan []policy.Policy),
	}
	s.snapshot.Store([]policy.Policy{})
	s.Refresh(ctx)

	if accounts != nil {
		s.unsubscribe = accounts.Subscribe(func(account.State) {
			s.Refresh(context.Background())
		})
	}
	return s
}

// Close detaches the service from the account signal and closes all
// watcher channels.
func (s *PolicyService) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
}

// Refresh recomputes the snapshot from the store and publishes it to
// watchers. A locked vault or missing account yields the empty snapshot;
// other store faults are logged and also yield the empty snapshot so the
// published state never goes stale.
func (s *PolicyService) Refresh(ctx context.Context) {
	encrypted, err := s.store.EncryptedPolicies(ctx)
	if err != nil {
		if !errors.Is(err, policy.ErrLocked) && !errors.Is(err, policy.ErrNoActiveAccount) {
			s.logger.Warn("policy snapshot refresh failed", "error", err)
		}
		s.publish([]policy.Policy{})
		return
	}

	decoded := make([]policy.Policy, 0, len(encrypted))
	for _, d := range encrypted {
		decoded = append(decoded, policy.New(d))
	}
	// Map iteration order is random; sort by id for a stable emission order.
	sort.Slice(decoded, func(i, j int) bool { return decoded[i].ID < decoded[j].ID })

	s.publish(decoded)
}

// publish stores the snapshot and fans it out to watchers. Watcher
// channels hold the latest value only; a slow consumer sees the newest
// snapshot, not every intermediate one.
func (s *PolicyService) publish(policies []policy.Policy) {
	s.snapshot.Store(policies)

	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- policies:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- policies
		}
	}
}

// loadSnapshot returns the current snapshot atomically (lock-free).
func (s *PolicyService) loadSnapshot() []policy.Policy {
	return s.snapshot.Load().([]policy.Policy)
}

// GetAll returns the current snapshot, optionally filtered by type.
// It never fails; a locked or absent account reads as no policies.
func (s *PolicyService) GetAll(_ context.Context, types ...policy.Type) []policy.Policy {
	snapshot := s.loadSnapshot()
	if len(types) == 0 {
		return append([]policy.Policy{}, snapshot...)
	}

	out := make([]policy.Policy, 0, len(snapshot))
	for _, p := range snapshot {
		for _, t := range types {
			if p.Type == t {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Watch returns a channel carrying the latest snapshot. The current
// snapshot is delivered immediately; the channel is closed when ctx is
// cancelled or the service shuts down.
func (s *PolicyService) Watch(ctx context.Context) <-chan []policy.Policy {
	ch := make(chan []policy.Policy, 1)
	ch <- s.loadSnapshot()

	s.watchMu.Lock()
	id := s.nextWatchID
	s.nextWatchID++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if c, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(c)
		}
	}()
	return ch
}

// Upsert inserts or replaces one policy in the active account's
// persisted set. A missing id is assigned a fresh UUID. The store write
// is the commit point; on failure the snapshot is left untouched.
func (s *PolicyService) Upsert(ctx context.Context, d policy.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.EncryptedPolicies(ctx)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	next := make(map[string]policy.Data, len(current)+1)
	for id, existing := range current {
		next[id] = existing
	}
	next[d.ID] = d

	if err := s.store.SetEncryptedPolicies(ctx, "", next); err != nil {
		return fmt.Errorf("persist policies: %w", err)
	}

	s.Refresh(ctx)
	return nil
}

// Replace overwrites the active account's persisted policy set. A nil or
// empty map persists the empty set.
func (s *PolicyService) Replace(ctx context.Context, policies map[string]policy.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]policy.Data, len(policies))
	for id, d := range policies {
		if d.ID == "" {
			d.ID = id
		}
		next[d.ID] = d
	}

	if err := s.store.SetEncryptedPolicies(ctx, "", next); err != nil {
		return fmt.Errorf("persist policies: %w", err)
	}

	s.Refresh(ctx)
	return nil
}

// Clear issues exactly one store write of the empty policy set, addressed
// at the supplied account id, or at the active account when the id is
// empty. The write lands wherever the store files the named account, so
// an id naming a different account leaves the active account's policies
// in place.
func (s *PolicyService) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetEncryptedPolicies(ctx, userID, map[string]policy.Data{}); err != nil {
		return fmt.Errorf("clear policies: %w", err)
	}

	s.Refresh(ctx)
	return nil
}

// PolicyAppliesToUser reports whether an enabled policy of the given type
// binds the user: the user must belong to at least one enabled,
// policy-using organization at status Accepted or above without the
// manage-policies permission, and an enabled policy of that type for such
// an organization must satisfy filter. A nil filter accepts every policy.
// An empty userID means the active account.
func (s *PolicyService) PolicyAppliesToUser(ctx context.Context, t policy.Type, filter func(policy.Policy) bool, userID string) (bool, error) {
	if userID == "" {
		active, err := s.store.ActiveUserID(ctx)
		if err != nil {
			if errors.Is(err, policy.ErrNoActiveAccount) {
				return false, nil
			}
			return false, fmt.Errorf("resolve active account: %w", err)
		}
		userID = active
	}

	orgs, err := s.orgs.GetAll(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load organizations: %w", err)
	}

	subject := make(map[string]bool, len(orgs))
	for _, org := range orgs {
		if org.SubjectToPolicies() {
			subject[org.ID] = true
		}
	}
	if len(subject) == 0 {
		return false, nil
	}

	for _, p := range s.GetAll(ctx, t) {
		if !p.Enabled || !subject[p.OrganizationID] {
			continue
		}
		if filter == nil || filter(p) {
			return true, nil
		}
	}
	return false, nil
}

// MasterPasswordOptions folds the snapshot's enabled master-password
// policies into one enforced record; nil means no enforcement.
func (s *PolicyService) MasterPasswordOptions(ctx context.Context) *policy.MasterPasswordOptions {
	return policy.MergeMasterPasswordOptions(s.GetAll(ctx))
}

// ResetPasswordOptions resolves the reset-password options for one
// organization from the snapshot.
func (s *PolicyService) ResetPasswordOptions(ctx context.Context, organizationID string) (policy.ResetPasswordOptions, bool) {
	return policy.ResolveResetPasswordOptions(s.GetAll(ctx), organizationID)
}

package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/keywarden/keywarden/internal/domain/organization"
)

// OrgProvider implements organization.Provider from a static membership
// table, optionally loaded from a YAML fixture file.
type OrgProvider struct {
	mu          sync.RWMutex
	memberships map[string][]organization.Organization
}

// NewOrgProvider creates an empty membership provider.
func NewOrgProvider() *OrgProvider {
	return &OrgProvider{memberships: make(map[string][]organization.Organization)}
}

// SetMemberships replaces the organizations for one user.
func (p *OrgProvider) SetMemberships(userID string, orgs []organization.Organization) {
	p.mu.Lock()
	p.memberships[userID] = append([]organization.Organization{}, orgs...)
	p.mu.Unlock()
}

// GetAll returns the organizations the given user belongs to. Unknown
// users yield an empty list, not an error.
func (p *OrgProvider) GetAll(_ context.Context, userID string) ([]organization.Organization, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]organization.Organization{}, p.memberships[userID]...), nil
}

// membershipFixture is the YAML schema for a membership fixture file:
//
//	memberships:
//	  user-1:
//	    - id: org-a
//	      enabled: true
//	      uses_policies: true
//	      status: 2
//	      permissions:
//	        manage_policies: false
type membershipFixture struct {
	Memberships map[string][]organization.Organization `yaml:"memberships"`
}

// LoadOrgProviderFromFile creates an OrgProvider from a YAML fixture file.
func LoadOrgProviderFromFile(path string) (*OrgProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read membership fixture: %w", err)
	}

	var fixture membershipFixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, fmt.Errorf("parse membership fixture: %w", err)
	}

	p := NewOrgProvider()
	for userID, orgs := range fixture.Memberships {
		p.SetMemberships(userID, orgs)
	}
	return p, nil
}

// Compile-time interface verification.
var _ organization.Provider = (*OrgProvider)(nil)

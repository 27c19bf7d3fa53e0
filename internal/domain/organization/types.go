// Package organization contains the membership context consumed during
// policy applicability checks: the organizations a user belongs to, each
// annotated with enablement, policy-use, membership status, and the user's
// permission set within it.
package organization

import "context"

// UserStatus is the user's membership status within an organization.
// The ordinals mirror the wire encoding.
type UserStatus int

const (
	// UserStatusInvited means the user has been invited but has not accepted.
	UserStatusInvited UserStatus = iota
	// UserStatusAccepted means the user accepted the invitation.
	UserStatusAccepted
	// UserStatusConfirmed means the user's membership has been confirmed.
	UserStatusConfirmed
)

// Permissions is the user's permission set within an organization. Only the
// permissions relevant to policy enforcement are modeled.
type Permissions struct {
	ManagePolicies bool `json:"managePolicies" yaml:"manage_policies"`
}

// Organization is one organization a user belongs to, as reported by the
// membership provider.
type Organization struct {
	ID           string      `json:"id" yaml:"id"`
	Enabled      bool        `json:"enabled" yaml:"enabled"`
	UsesPolicies bool        `json:"usesPolicies" yaml:"uses_policies"`
	Status       UserStatus  `json:"status" yaml:"status"`
	Permissions  Permissions `json:"permissions" yaml:"permissions"`
}

// SubjectToPolicies reports whether this membership places the user under
// the organization's policy enforcement: the organization is enabled and
// uses policies, the user's status is at least accepted, and the user does
// not hold the manage-policies permission (which exempts its holder).
func (o Organization) SubjectToPolicies() bool {
	return o.Enabled &&
		o.UsesPolicies &&
		o.Status >= UserStatusAccepted &&
		!o.Permissions.ManagePolicies
}

// Provider is the outbound port to the organization membership service.
type Provider interface {
	// GetAll returns the organizations the given user belongs to.
	GetAll(ctx context.Context, userID string) ([]Organization, error)
}

package service

import (
	"github.com/keywarden/keywarden/internal/domain/policy"
)

// PolicyResponse is one policy entry as the identity token's sync payload
// carries it. Field names keep the upstream wire casing.
type PolicyResponse struct {
	ID             string         `json:"Id"`
	OrganizationID string         `json:"OrganizationId"`
	Type           policy.Type    `json:"Type"`
	Enabled        bool           `json:"Enabled"`
	Data           map[string]any `json:"Data"`
}

// ListResponse is the token payload's policy list wrapper.
type ListResponse struct {
	Data []PolicyResponse `json:"Data"`
}

// MapPoliciesFromToken converts a token policy list into domain policies.
// A nil response or nil list maps to nil; an empty list maps to an empty
// slice; otherwise every entry maps in order. The shape never errors.
func MapPoliciesFromToken(list *ListResponse) []policy.Policy {
	if list == nil || list.Data == nil {
		return nil
	}

	policies := make([]policy.Policy, 0, len(list.Data))
	for _, r := range list.Data {
		policies = append(policies, policy.New(policy.Data{
			ID:             r.ID,
			OrganizationID: r.OrganizationID,
			Type:           r.Type,
			Enabled:        r.Enabled,
			Data:           r.Data,
		}))
	}
	return policies
}

package policy

// ResolveResetPasswordOptions finds the enabled reset-password policy for
// one organization and derives its auto-enrollment flag. The boolean result
// reports whether such a policy exists. A nil policy set yields the default
// options with false.
//
// At most one reset-password policy is expected per organization; when the
// caller supplies more than one, the first encountered wins.
func ResolveResetPasswordOptions(policies []Policy, organizationID string) (ResetPasswordOptions, bool) {
	if policies == nil {
		return ResetPasswordOptions{}, false
	}

	for _, p := range policies {
		if p.Type != TypeResetPassword || !p.Enabled || p.OrganizationID != organizationID {
			continue
		}
		return ResetPasswordOptions{
			AutoEnrollEnabled: payloadBool(p.Data, "autoEnrollEnabled", false),
		}, true
	}

	return ResetPasswordOptions{}, false
}

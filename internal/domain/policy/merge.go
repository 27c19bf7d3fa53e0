package policy

// MergeMasterPasswordOptions folds all enabled master-password policies in
// the given set into a single enforced options record using
// most-restrictive-wins semantics: numeric fields take the maximum across
// policies, boolean requirements are OR-ed. Fields absent from a policy's
// payload count as that field's default and do not affect the fold, so the
// result is invariant under permutation of the input.
//
// Returns nil when no enabled master-password policy with a payload is
// present, meaning no enforcement applies.
func MergeMasterPasswordOptions(policies []Policy) *MasterPasswordOptions {
	var enforced *MasterPasswordOptions

	for _, p := range policies {
		if p.Type != TypeMasterPassword || !p.Enabled || p.Data == nil {
			continue
		}
		if enforced == nil {
			enforced = &MasterPasswordOptions{}
		}

		if v := payloadInt(p.Data, "minComplexity", 0); v > enforced.MinComplexity {
			enforced.MinComplexity = v
		}
		if v := payloadInt(p.Data, "minLength", 0); v > enforced.MinLength {
			enforced.MinLength = v
		}
		enforced.RequireUpper = enforced.RequireUpper || payloadBool(p.Data, "requireUpper", false)
		enforced.RequireLower = enforced.RequireLower || payloadBool(p.Data, "requireLower", false)
		enforced.RequireNumbers = enforced.RequireNumbers || payloadBool(p.Data, "requireNumbers", false)
		enforced.RequireSpecial = enforced.RequireSpecial || payloadBool(p.Data, "requireSpecial", false)
	}

	return enforced
}

package policy

import "unicode"

// EvaluateMasterPassword checks a candidate password and its strength score
// against an enforced options record. It returns false when any enforced
// requirement is violated and true otherwise, including for a nil or zero
// options record. Pure function: no I/O, no side effects.
func EvaluateMasterPassword(passwordStrength int, newPassword string, enforced *MasterPasswordOptions) bool {
	if enforced == nil {
		return true
	}

	runes := []rune(newPassword)
	if enforced.MinLength > 0 && len(runes) < enforced.MinLength {
		return false
	}
	if enforced.MinComplexity > 0 && passwordStrength < enforced.MinComplexity {
		return false
	}
	if enforced.RequireUpper && !containsClass(runes, unicode.IsUpper) {
		return false
	}
	if enforced.RequireLower && !containsClass(runes, unicode.IsLower) {
		return false
	}
	if enforced.RequireNumbers && !containsClass(runes, unicode.IsDigit) {
		return false
	}
	if enforced.RequireSpecial && !containsClass(runes, isSpecial) {
		return false
	}
	return true
}

func containsClass(runes []rune, match func(rune) bool) bool {
	for _, r := range runes {
		if match(r) {
			return true
		}
	}
	return false
}

// isSpecial reports whether r is a non-alphanumeric character.
func isSpecial(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

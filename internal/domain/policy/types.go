// Package policy contains the domain model for organization policies:
// the policy value types, the typed payload views, and the pure
// aggregation functions (master-password merge, password evaluation,
// reset-password resolution).
package policy

// Type identifies the kind of organization policy. The ordinals mirror
// the wire encoding used by the directory/token endpoints and must not
// be reordered.
type Type int

const (
	// TypeTwoFactor requires members to enable two-factor authentication.
	TypeTwoFactor Type = iota
	// TypeMasterPassword enforces master password strength requirements.
	TypeMasterPassword
	// TypePasswordGenerator constrains the password generator defaults.
	TypePasswordGenerator
	// TypeSingleOrg restricts members to a single organization.
	TypeSingleOrg
	// TypeRequireSSO requires members to authenticate via SSO.
	TypeRequireSSO
	// TypePersonalOwnership disables personal vault item ownership.
	TypePersonalOwnership
	// TypeDisableSend disables the Send feature for members.
	TypeDisableSend
	// TypeSendOptions constrains Send feature options.
	TypeSendOptions
	// TypeResetPassword enables the password-reset-assistance program.
	TypeResetPassword
	// TypeMaximumVaultTimeout caps the vault timeout for members.
	TypeMaximumVaultTimeout
	// TypeDisablePersonalVaultExport disables personal vault export.
	TypeDisablePersonalVaultExport
)

// String returns a stable name for the policy type, used in logs and metrics.
func (t Type) String() string {
	switch t {
	case TypeTwoFactor:
		return "two_factor"
	case TypeMasterPassword:
		return "master_password"
	case TypePasswordGenerator:
		return "password_generator"
	case TypeSingleOrg:
		return "single_org"
	case TypeRequireSSO:
		return "require_sso"
	case TypePersonalOwnership:
		return "personal_ownership"
	case TypeDisableSend:
		return "disable_send"
	case TypeSendOptions:
		return "send_options"
	case TypeResetPassword:
		return "reset_password"
	case TypeMaximumVaultTimeout:
		return "maximum_vault_timeout"
	case TypeDisablePersonalVaultExport:
		return "disable_personal_vault_export"
	default:
		return "unknown"
	}
}

// Data is the persisted and transport form of a policy. The payload is
// untyped; the per-type schema lives in the typed payload views below.
type Data struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	Type           Type           `json:"type"`
	Enabled        bool           `json:"enabled"`
	Data           map[string]any `json:"data,omitempty"`
}

// Policy is the immutable decoded domain value. It is constructed only
// from a Data record and never mutated afterwards.
type Policy struct {
	ID             string
	OrganizationID string
	Type           Type
	Enabled        bool
	Data           map[string]any
}

// New constructs a Policy from its persisted form.
func New(d Data) Policy {
	return Policy{
		ID:             d.ID,
		OrganizationID: d.OrganizationID,
		Type:           d.Type,
		Enabled:        d.Enabled,
		Data:           d.Data,
	}
}

// MasterPasswordOptions is the enforced configuration produced by folding
// all applicable master-password policies. The zero value means no
// requirement is enforced.
type MasterPasswordOptions struct {
	MinComplexity  int  `json:"minComplexity"`
	MinLength      int  `json:"minLength"`
	RequireUpper   bool `json:"requireUpper"`
	RequireLower   bool `json:"requireLower"`
	RequireNumbers bool `json:"requireNumbers"`
	RequireSpecial bool `json:"requireSpecial"`
}

// ResetPasswordOptions is the enforced configuration derived from an
// organization's reset-password policy.
type ResetPasswordOptions struct {
	AutoEnrollEnabled bool `json:"autoEnrollEnabled"`
}

// payloadInt reads an integer field from an untyped payload. JSON numbers
// decode as float64, so both representations are accepted. Absent or
// mistyped fields yield the default.
func payloadInt(data map[string]any, key string, def int) int {
	v, ok := data[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return def
	}
}

// payloadBool reads a boolean field from an untyped payload. Absent or
// mistyped fields yield the default.
func payloadBool(data map[string]any, key string, def bool) bool {
	v, ok := data[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

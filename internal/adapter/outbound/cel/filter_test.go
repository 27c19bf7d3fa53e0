package cel

import (
	"strings"
	"testing"

	"github.com/keywarden/keywarden/internal/domain/policy"
)

func newTestEvaluator(t *testing.T) *FilterEvaluator {
	t.Helper()
	e, err := NewFilterEvaluator()
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	return e
}

func TestFilterEvaluate(t *testing.T) {
	e := newTestEvaluator(t)

	p := policy.New(policy.Data{
		ID:             "1",
		OrganizationID: "org-1",
		Type:           policy.TypeMasterPassword,
		Enabled:        true,
		Data:           map[string]any{"minLength": 14, "requireUpper": true},
	})

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"enabled flag", "enabled", true},
		{"type match", "type == 1", true},
		{"type mismatch", "type == 8", false},
		{"organization match", `organization_id == "org-1"`, true},
		{"payload field", `"minLength" in data && data.minLength >= 12`, true},
		{"payload field below threshold", `"minLength" in data && data.minLength >= 20`, false},
		{"absent payload field", `"autoEnrollEnabled" in data`, false},
		{"boolean payload field", `"requireUpper" in data && data.requireUpper == true`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prg, err := e.Compile(tt.expr)
			if err != nil {
				t.Fatalf("compile %q: %v", tt.expr, err)
			}
			got, err := e.Evaluate(prg, p)
			if err != nil {
				t.Fatalf("evaluate %q: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("evaluate %q = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestFilterEvaluateNilPayload(t *testing.T) {
	e := newTestEvaluator(t)

	prg, err := e.Compile(`"minLength" in data`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	got, err := e.Evaluate(prg, policy.New(policy.Data{ID: "1", Type: policy.TypeDisableSend, Enabled: true}))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if got {
		t.Error("membership test against nil payload should be false")
	}
}

func TestValidateExpression(t *testing.T) {
	e := newTestEvaluator(t)

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"valid", "enabled && type == 1", false},
		{"empty", "", true},
		{"too long", "enabled && " + strings.Repeat("true && ", 200) + "true", true},
		{"too deeply nested", strings.Repeat("(", 60) + "true" + strings.Repeat(")", 60), true},
		{"unknown variable", "no_such_var == 1", true},
		{"not boolean", "type + 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.ValidateExpression(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateExpression(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestCompileCaching(t *testing.T) {
	e := newTestEvaluator(t)

	first, err := e.Compile("enabled")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	second, err := e.Compile("enabled")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(e.programs) != 1 {
		t.Errorf("cache size = %d, want 1", len(e.programs))
	}

	// Both programs must evaluate identically.
	p := policy.New(policy.Data{ID: "1", Enabled: true})
	gotFirst, err := e.Evaluate(first, p)
	if err != nil {
		t.Fatalf("evaluate first: %v", err)
	}
	gotSecond, err := e.Evaluate(second, p)
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}
	if !gotFirst || !gotSecond {
		t.Errorf("cached program results = (%v, %v), want (true, true)", gotFirst, gotSecond)
	}
}

func TestFilterFunc(t *testing.T) {
	e := newTestEvaluator(t)

	filter, err := e.FilterFunc(`"autoEnrollEnabled" in data && data.autoEnrollEnabled == true`)
	if err != nil {
		t.Fatalf("FilterFunc: %v", err)
	}

	enrolled := policy.New(policy.Data{
		ID:   "1",
		Type: policy.TypeResetPassword,
		Data: map[string]any{"autoEnrollEnabled": true},
	})
	notEnrolled := policy.New(policy.Data{
		ID:   "2",
		Type: policy.TypeResetPassword,
		Data: map[string]any{"autoEnrollEnabled": false},
	})

	if !filter(enrolled) {
		t.Error("filter should match policy with autoEnrollEnabled=true")
	}
	if filter(notEnrolled) {
		t.Error("filter should not match policy with autoEnrollEnabled=false")
	}

	if _, err := e.FilterFunc("not valid ((("); err == nil {
		t.Error("FilterFunc should reject invalid expressions")
	}
}

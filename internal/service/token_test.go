package service

import (
	"encoding/json"
	"testing"

	"github.com/keywarden/keywarden/internal/domain/policy"
)

func TestMapPoliciesFromToken(t *testing.T) {
	t.Run("nil response", func(t *testing.T) {
		if got := MapPoliciesFromToken(nil); got != nil {
			t.Errorf("MapPoliciesFromToken(nil) = %+v, want nil", got)
		}
	})

	t.Run("nil list", func(t *testing.T) {
		if got := MapPoliciesFromToken(&ListResponse{}); got != nil {
			t.Errorf("nil list = %+v, want nil", got)
		}
	})

	t.Run("empty list", func(t *testing.T) {
		got := MapPoliciesFromToken(&ListResponse{Data: []PolicyResponse{}})
		if got == nil || len(got) != 0 {
			t.Errorf("empty list = %#v, want empty non-nil slice", got)
		}
	})

	t.Run("order preserved", func(t *testing.T) {
		got := MapPoliciesFromToken(&ListResponse{Data: []PolicyResponse{
			{ID: "b", OrganizationID: "org-1", Type: policy.TypeSingleOrg, Enabled: true},
			{ID: "a", OrganizationID: "org-2", Type: policy.TypeMasterPassword, Enabled: false,
				Data: map[string]any{"minLength": float64(14)}},
		}})
		if len(got) != 2 {
			t.Fatalf("mapped = %+v, want 2 entries", got)
		}
		if got[0].ID != "b" || got[1].ID != "a" {
			t.Errorf("order = [%s %s], want [b a]", got[0].ID, got[1].ID)
		}
		if got[1].Type != policy.TypeMasterPassword || got[1].Data["minLength"] != float64(14) {
			t.Errorf("second entry = %+v", got[1])
		}
	})
}

func TestListResponseWireShape(t *testing.T) {
	// The sync payload uses capitalized field names.
	raw := `{"Data":[{"Id":"1","OrganizationId":"org-a","Type":1,"Enabled":true,"Data":{"minLength":12}}]}`

	var list ListResponse
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := MapPoliciesFromToken(&list)
	if len(got) != 1 {
		t.Fatalf("mapped = %+v, want 1 entry", got)
	}
	p := got[0]
	if p.ID != "1" || p.OrganizationID != "org-a" || p.Type != policy.TypeMasterPassword || !p.Enabled {
		t.Errorf("mapped policy = %+v", p)
	}
	if v, ok := p.Data["minLength"].(float64); !ok || v != 12 {
		t.Errorf("payload = %+v", p.Data)
	}
}

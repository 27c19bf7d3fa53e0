package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/keywarden/keywarden/internal/domain/policy"
	"github.com/keywarden/keywarden/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// toData converts a decoded policy back to its wire form.
func toData(p policy.Policy) policy.Data {
	return policy.Data{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		Type:           p.Type,
		Enabled:        p.Enabled,
		Data:           p.Data,
	}
}

// parseType reads an integer policy type from a query parameter.
func parseType(raw string) (policy.Type, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return policy.Type(n), nil
}

// handleListPolicies serves GET /v1/policies with an optional ?type filter.
func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	var types []policy.Type
	if raw := r.URL.Query().Get("type"); raw != "" {
		t, err := parseType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid type parameter")
			return
		}
		types = append(types, t)
	}

	policies := s.service.GetAll(r.Context(), types...)
	s.metrics.SnapshotSize.Set(float64(len(s.service.GetAll(r.Context()))))

	out := make([]policy.Data, 0, len(policies))
	for _, p := range policies {
		out = append(out, toData(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": out})
}

// handleUpsertPolicy serves PUT /v1/policies/{id}.
func (s *Server) handleUpsertPolicy(w http.ResponseWriter, r *http.Request) {
	var d policy.Data
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy body")
		return
	}
	// The path id wins over whatever the body carries.
	d.ID = r.PathValue("id")

	if err := s.service.Upsert(r.Context(), d); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toData(policy.New(d)))
}

// handleReplacePolicies serves PUT /v1/policies with a full policy list.
func (s *Server) handleReplacePolicies(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Policies []policy.Data `json:"policies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy list body")
		return
	}

	set := make(map[string]policy.Data, len(body.Policies))
	for _, d := range body.Policies {
		if d.ID == "" {
			writeError(w, http.StatusBadRequest, "policy without id")
			return
		}
		set[d.ID] = d
	}

	if err := s.service.Replace(r.Context(), set); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": len(set)})
}

// handleClearPolicies serves DELETE /v1/policies with an optional
// ?user_id addressing a specific account.
func (s *Server) handleClearPolicies(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if err := s.service.Clear(r.Context(), userID); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePolicyApplies serves GET /v1/policies/applies. The optional
// ?filter parameter is a CEL predicate over the policy.
func (s *Server) handlePolicyApplies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	t, err := parseType(q.Get("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid type parameter")
		return
	}

	var filter func(policy.Policy) bool
	if expr := q.Get("filter"); expr != "" {
		filter, err = s.filters.FilterFunc(expr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid filter expression: "+err.Error())
			return
		}
	}

	applies, err := s.service.PolicyAppliesToUser(r.Context(), t, filter, q.Get("user_id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	result := "exempt"
	if applies {
		result = "applies"
	}
	s.metrics.PolicyChecks.WithLabelValues(result).Inc()

	writeJSON(w, http.StatusOK, map[string]bool{"applies": applies})
}

// handleEvaluatePassword serves POST /v1/passwords/evaluate. The
// candidate password is checked against the merged master-password
// policy of the active account.
func (s *Server) handleEvaluatePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
		Strength int    `json:"strength"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid evaluation body")
		return
	}

	enforced := s.service.MasterPasswordOptions(r.Context())
	valid := policy.EvaluateMasterPassword(body.Strength, body.Password, enforced)

	result := "fail"
	if valid {
		result = "pass"
	}
	s.metrics.PasswordEvaluations.WithLabelValues(result).Inc()

	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    valid,
		"enforced": enforced,
	})
}

// handleResetPasswordOptions serves GET /v1/policies/reset-password.
func (s *Server) handleResetPasswordOptions(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}

	opts, found := s.service.ResetPasswordOptions(r.Context(), orgID)
	writeJSON(w, http.StatusOK, map[string]any{
		"options": opts,
		"found":   found,
	})
}

// handleTokenPolicies serves POST /v1/policies/token, mapping a token
// sync payload into domain policies without touching the store.
func (s *Server) handleTokenPolicies(w http.ResponseWriter, r *http.Request) {
	var list service.ListResponse
	if err := json.NewDecoder(r.Body).Decode(&list); err != nil {
		writeError(w, http.StatusBadRequest, "invalid token payload")
		return
	}

	mapped := service.MapPoliciesFromToken(&list)
	out := make([]policy.Data, 0, len(mapped))
	for _, p := range mapped {
		out = append(out, toData(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": out})
}

// writeStoreError maps store faults onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	logger := LoggerFromContext(r.Context())
	switch {
	case errors.Is(err, policy.ErrNoActiveAccount):
		writeError(w, http.StatusConflict, "no active account")
	case errors.Is(err, policy.ErrLocked):
		writeError(w, http.StatusConflict, "vault is locked")
	default:
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

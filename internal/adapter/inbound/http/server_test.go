package http

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/keywarden/keywarden/internal/adapter/outbound/cel"
	"github.com/keywarden/keywarden/internal/adapter/outbound/memory"
	"github.com/keywarden/keywarden/internal/domain/account"
	"github.com/keywarden/keywarden/internal/domain/organization"
	"github.com/keywarden/keywarden/internal/domain/policy"
	"github.com/keywarden/keywarden/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	server   *Server
	store    *memory.PolicyStore
	orgs     *memory.OrgProvider
	signal   *account.Signal
	registry *prometheus.Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store := memory.NewPolicyStore()
	orgs := memory.NewOrgProvider()
	signal := account.NewSignal()
	signal.Subscribe(func(st account.State) {
		store.SetActive(st.UserID)
		if st.UserID != "" {
			store.SetUnlocked(st.UserID, st.Unlocked)
		}
	})

	svc := service.NewPolicyService(context.Background(), store, orgs, signal, testLogger())
	t.Cleanup(svc.Close)

	filters, err := cel.NewFilterEvaluator()
	if err != nil {
		t.Fatalf("NewFilterEvaluator: %v", err)
	}

	registry := prometheus.NewRegistry()
	opts = append([]Option{WithLogger(testLogger()), WithRegistry(registry)}, opts...)
	return &fixture{
		server:   NewServer(svc, filters, opts...),
		store:    store,
		orgs:     orgs,
		signal:   signal,
		registry: registry,
	}
}

func (f *fixture) unlockAs(userID string) {
	f.signal.SetActive(userID)
	f.signal.SetUnlocked(true)
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

func TestPolicyCRUD(t *testing.T) {
	f := newFixture(t)
	f.unlockAs("user-1")

	rec := f.do(t, http.MethodPut, "/v1/policies/1",
		`{"organizationId":"org-a","type":1,"enabled":true,"data":{"minLength":12}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/v1/policies", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Policies []policy.Data `json:"policies"`
	}
	decodeBody(t, rec, &list)
	if len(list.Policies) != 1 || list.Policies[0].ID != "1" {
		t.Fatalf("listed policies = %+v", list.Policies)
	}

	// Type filter returns nothing for a type we never stored.
	rec = f.do(t, http.MethodGet, "/v1/policies?type=3", "")
	decodeBody(t, rec, &list)
	if len(list.Policies) != 0 {
		t.Errorf("filtered policies = %+v, want none", list.Policies)
	}

	rec = f.do(t, http.MethodPut, "/v1/policies",
		`{"policies":[{"id":"2","type":3,"enabled":true},{"id":"3","type":8,"enabled":true}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("replace status = %d, body %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodDelete, "/v1/policies", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/policies", "")
	decodeBody(t, rec, &list)
	if len(list.Policies) != 0 {
		t.Errorf("policies after clear = %+v, want none", list.Policies)
	}
}

func TestUpsertConflictsWhileLocked(t *testing.T) {
	f := newFixture(t)
	f.signal.SetActive("user-1") // active but locked

	rec := f.do(t, http.MethodPut, "/v1/policies/1", `{"type":1,"enabled":true}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("upsert while locked = %d, want 409", rec.Code)
	}
}

func TestPolicyApplies(t *testing.T) {
	f := newFixture(t)
	f.unlockAs("user-1")
	f.orgs.SetMemberships("user-1", []organization.Organization{{
		ID: "org-a", Enabled: true, UsesPolicies: true,
		Status: organization.UserStatusConfirmed,
	}})

	rec := f.do(t, http.MethodPut, "/v1/policies/1",
		`{"organizationId":"org-a","type":1,"enabled":true,"data":{"minLength":12}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d", rec.Code)
	}

	var resp struct {
		Applies bool `json:"applies"`
	}

	rec = f.do(t, http.MethodGet, "/v1/policies/applies?type=1&user_id=user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("applies status = %d, body %s", rec.Code, rec.Body)
	}
	decodeBody(t, rec, &resp)
	if !resp.Applies {
		t.Error("applies = false, want true")
	}

	// CEL filter that the stored policy cannot satisfy.
	rec = f.do(t, http.MethodGet,
		"/v1/policies/applies?type=1&user_id=user-1&filter="+
			"int(data.minLength)+%3E+20", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("filtered applies status = %d, body %s", rec.Code, rec.Body)
	}
	decodeBody(t, rec, &resp)
	if resp.Applies {
		t.Error("filtered applies = true, want false")
	}

	rec = f.do(t, http.MethodGet, "/v1/policies/applies?type=1&filter=%28%28", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want 400", rec.Code)
	}
}

func TestEvaluatePassword(t *testing.T) {
	f := newFixture(t)
	f.unlockAs("user-1")

	rec := f.do(t, http.MethodPut, "/v1/policies/1",
		`{"organizationId":"org-a","type":1,"enabled":true,"data":{"minLength":12,"requireUpper":true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d", rec.Code)
	}

	var resp struct {
		Valid bool `json:"valid"`
	}

	rec = f.do(t, http.MethodPost, "/v1/passwords/evaluate",
		`{"password":"Str0ngEnough!","strength":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d", rec.Code)
	}
	decodeBody(t, rec, &resp)
	if !resp.Valid {
		t.Error("valid = false, want true")
	}

	rec = f.do(t, http.MethodPost, "/v1/passwords/evaluate",
		`{"password":"short","strength":4}`)
	decodeBody(t, rec, &resp)
	if resp.Valid {
		t.Error("short password passed")
	}
}

func TestResetPasswordOptions(t *testing.T) {
	f := newFixture(t)
	f.unlockAs("user-1")

	rec := f.do(t, http.MethodPut, "/v1/policies/1",
		`{"organizationId":"org-a","type":8,"enabled":true,"data":{"autoEnrollEnabled":true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert status = %d", rec.Code)
	}

	var resp struct {
		Options policy.ResetPasswordOptions `json:"options"`
		Found   bool                        `json:"found"`
	}
	rec = f.do(t, http.MethodGet, "/v1/policies/reset-password?organization_id=org-a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	decodeBody(t, rec, &resp)
	if !resp.Found || !resp.Options.AutoEnrollEnabled {
		t.Errorf("response = %+v", resp)
	}

	rec = f.do(t, http.MethodGet, "/v1/policies/reset-password?organization_id=org-b", "")
	decodeBody(t, rec, &resp)
	if resp.Found {
		t.Errorf("unknown org resolved = %+v", resp)
	}

	rec = f.do(t, http.MethodGet, "/v1/policies/reset-password", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing org id status = %d, want 400", rec.Code)
	}
}

func TestTokenPolicies(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/policies/token",
		`{"Data":[{"Id":"1","OrganizationId":"org-a","Type":1,"Enabled":true,"Data":{"minLength":12}}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var resp struct {
		Policies []policy.Data `json:"policies"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Policies) != 1 || resp.Policies[0].ID != "1" {
		t.Errorf("mapped policies = %+v", resp.Policies)
	}
}

func TestSecretAuth(t *testing.T) {
	secret := "super-secret"
	sum := sha256.Sum256([]byte(secret))
	f := newFixture(t, WithSecretHash("sha256:"+hex.EncodeToString(sum[:])))

	rec := f.do(t, http.MethodGet, "/v1/policies", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no credentials status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("correct secret status = %d, want 200", rec.Code)
	}

	// Health and metrics stay open.
	rec = f.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
}

func TestRequestMetricsRecorded(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/v1/policies", "")

	families, err := f.registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	var requests *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "keywarden_requests_total" {
			requests = mf
		}
	}
	if requests == nil {
		t.Fatal("keywarden_requests_total not registered")
	}

	var total float64
	for _, m := range requests.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	if total < 1 {
		t.Errorf("requests_total = %v, want >= 1", total)
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/policies", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing generated X-Request-ID header")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	out := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(out, req)
	if got := out.Header().Get("X-Request-ID"); got != "fixed-id" {
		t.Errorf("X-Request-ID = %q, want fixed-id", got)
	}
}

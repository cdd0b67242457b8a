package rules

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	alertsvc "github.com/good-yellow-bee/sentinel/internal/alerts"
	"github.com/good-yellow-bee/sentinel/internal/bus"
	"github.com/good-yellow-bee/sentinel/internal/models"
	"github.com/good-yellow-bee/sentinel/internal/storage"
)

func setupTestService(t *testing.T) *alertsvc.Service {
	t.Helper()

	store := storage.NewSQLStorage(storage.DriverSQLite, filepath.Join(t.TempDir(), "rules.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mb := bus.NewMemoryBus(16)
	t.Cleanup(func() { mb.Close() })

	svc, err := alertsvc.NewService(alertsvc.Options{Store: store, Publisher: mb})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func setupRouter(svc Service) http.Handler {
	h := NewHandler(svc, nil)
	r := chi.NewRouter()
	r.Get("/rules", h.List)
	r.Post("/rules", h.Create)
	r.Get("/rules/{id}", h.Get)
	r.Put("/rules/{id}", h.Update)
	r.Delete("/rules/{id}", h.Delete)
	return r
}

func request(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeRule(t *testing.T, rec *httptest.ResponseRecorder) *models.Rule {
	t.Helper()
	var env struct {
		Data models.Rule `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return &env.Data
}

func TestHandler_CreateDefaults(t *testing.T) {
	svc := setupTestService(t)
	router := setupRouter(svc)

	rec := request(t, router, "POST", "/rules", `{"name":"watchlist","rule_type":"blacklist","conditions":{"subject_types":["blacklist"]}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rule := decodeRule(t, rec)
	if rule.ID == "" {
		t.Error("expected generated id")
	}
	if rule.Priority != models.DefaultPriority {
		t.Errorf("priority = %d, want %d", rule.Priority, models.DefaultPriority)
	}
	if rule.CooldownSeconds != models.DefaultCooldownSeconds {
		t.Errorf("cooldown = %d, want %d", rule.CooldownSeconds, models.DefaultCooldownSeconds)
	}
	if !rule.IsActive {
		t.Error("new rule should be active")
	}
	if rule.CreatedBy != "anonymous" {
		t.Errorf("created_by = %q, want anonymous", rule.CreatedBy)
	}

	if got := len(svc.Rules().Snapshot()); got != 1 {
		t.Errorf("rule set has %d rules after create, want 1", got)
	}
}

func TestHandler_CreateInvalid(t *testing.T) {
	router := setupRouter(setupTestService(t))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing name", `{"rule_type":"blacklist"}`, http.StatusBadRequest},
		{"unknown type", `{"name":"x","rule_type":"teleport"}`, http.StatusBadRequest},
		{"priority too high", `{"name":"x","rule_type":"crowd","priority":11}`, http.StatusBadRequest},
		{"negative cooldown", `{"name":"x","rule_type":"crowd","cooldown_seconds":-1}`, http.StatusBadRequest},
		{"confidence out of range", `{"name":"x","rule_type":"crowd","conditions":{"min_confidence":1.5}}`, http.StatusBadRequest},
		{"bad time", `{"name":"x","rule_type":"time_restriction","conditions":{"time_range":{"start":"25:00","end":"06:00"}}}`, http.StatusBadRequest},
		{"custom without expression", `{"name":"x","rule_type":"custom"}`, http.StatusBadRequest},
		{"unknown field", `{"name":"x","rule_type":"crowd","severity":"high"}`, http.StatusBadRequest},
		{"malformed json", `{"name":`, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := request(t, router, "POST", "/rules", tc.body)
			if rec.Code != tc.code {
				t.Errorf("status = %d, want %d, body = %s", rec.Code, tc.code, rec.Body.String())
			}
		})
	}

	rec := request(t, router, "GET", "/rules", "")
	var env struct {
		Data ListResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data.Items) != 0 {
		t.Errorf("invalid rules were persisted: %d", len(env.Data.Items))
	}
}

func TestHandler_UpdatePartial(t *testing.T) {
	router := setupRouter(setupTestService(t))

	rec := request(t, router, "POST", "/rules", `{"name":"lobby","rule_type":"geofence","priority":3,"conditions":{"cameras":["cam-1"]}}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	created := decodeRule(t, rec)

	rec = request(t, router, "PUT", "/rules/"+created.ID, `{"priority":9,"is_active":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}
	updated := decodeRule(t, rec)

	if updated.Priority != 9 || updated.IsActive {
		t.Errorf("updated priority=%d active=%v", updated.Priority, updated.IsActive)
	}
	if updated.Name != "lobby" || len(updated.Conditions.Cameras) != 1 {
		t.Errorf("unspecified fields changed: %+v", updated)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("created_at changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}

	rec = request(t, router, "PUT", "/rules/"+created.ID, `{"priority":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid update status = %d, want 400", rec.Code)
	}
	rec = request(t, router, "GET", "/rules/"+created.ID, "")
	if got := decodeRule(t, rec); got.Priority != 9 {
		t.Errorf("invalid update was persisted: priority = %d", got.Priority)
	}
}

func TestHandler_DeleteAndNotFound(t *testing.T) {
	router := setupRouter(setupTestService(t))

	rec := request(t, router, "POST", "/rules", `{"name":"tmp","rule_type":"crowd"}`)
	created := decodeRule(t, rec)

	rec = request(t, router, "DELETE", "/rules/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	for _, method := range []string{"GET", "DELETE"} {
		rec = request(t, router, method, "/rules/"+created.ID, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s after delete: status = %d, want 404", method, rec.Code)
		}
	}
	rec = request(t, router, "PUT", "/rules/"+created.ID, `{"priority":2}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("PUT after delete: status = %d, want 404", rec.Code)
	}
}

func TestHandler_ListFilters(t *testing.T) {
	router := setupRouter(setupTestService(t))

	request(t, router, "POST", "/rules", `{"name":"a","rule_type":"crowd"}`)
	request(t, router, "POST", "/rules", `{"name":"b","rule_type":"geofence","is_active":false}`)

	tests := []struct {
		query string
		want  int
		code  int
	}{
		{"", 2, http.StatusOK},
		{"active=true", 1, http.StatusOK},
		{"rule_type=geofence", 1, http.StatusOK},
		{"rule_type=teleport", 0, http.StatusBadRequest},
		{"active=maybe", 0, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			rec := request(t, router, "GET", "/rules?"+tc.query, "")
			if rec.Code != tc.code {
				t.Fatalf("status = %d, want %d", rec.Code, tc.code)
			}
			if tc.code != http.StatusOK {
				return
			}
			var env struct {
				Data ListResponse `json:"data"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(env.Data.Items) != tc.want {
				t.Errorf("items = %d, want %d", len(env.Data.Items), tc.want)
			}
		})
	}
}

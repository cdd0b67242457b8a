package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	alertsvc "github.com/good-yellow-bee/sentinel/internal/alerts"
	"github.com/good-yellow-bee/sentinel/internal/errs"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

// mockService keeps alerts in memory and runs the real lifecycle rules.
type mockService struct {
	mu         sync.Mutex
	alerts     map[string]*models.Alert
	lastFilter models.AlertFilter
	listErr    error
}

func newMockService(alerts ...*models.Alert) *mockService {
	m := &mockService{alerts: make(map[string]*models.Alert)}
	for _, a := range alerts {
		m.alerts[a.ID] = a
	}
	return m
}

func (m *mockService) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, errs.NotFound("alert", id)
	}
	return a.Clone(), nil
}

func (m *mockService) ListAlerts(_ context.Context, filter models.AlertFilter) ([]*models.Alert, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	var out []*models.Alert
	for _, a := range m.alerts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a.Clone())
	}
	return out, int64(len(out)), nil
}

func (m *mockService) Stats(context.Context) (*models.AlertStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &models.AlertStats{ByStatus: map[string]int{}, ByPriority: map[int]int{}, ByRuleType: map[string]int{}}
	for _, a := range m.alerts {
		stats.Total++
		stats.ByStatus[string(a.Status)]++
	}
	return stats, nil
}

func (m *mockService) apply(id string, fn func(*models.Alert, time.Time) error) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, errs.NotFound("alert", id)
	}
	next := a.Clone()
	if err := fn(next, time.Now()); err != nil {
		return nil, err
	}
	m.alerts[id] = next
	return next.Clone(), nil
}

func (m *mockService) Acknowledge(_ context.Context, id, actor, note string) (*models.Alert, error) {
	return m.apply(id, func(a *models.Alert, now time.Time) error { return alertsvc.Acknowledge(a, actor, note, now) })
}

func (m *mockService) Resolve(_ context.Context, id, note string) (*models.Alert, error) {
	return m.apply(id, func(a *models.Alert, now time.Time) error { return alertsvc.Resolve(a, note, now) })
}

func (m *mockService) MarkFalsePositive(_ context.Context, id, note string) (*models.Alert, error) {
	return m.apply(id, func(a *models.Alert, now time.Time) error { return alertsvc.MarkFalsePositive(a, note, now) })
}

func (m *mockService) Escalate(_ context.Context, id, note string) (*models.Alert, error) {
	return m.apply(id, func(a *models.Alert, now time.Time) error { return alertsvc.Escalate(a, note, now) })
}

func (m *mockService) AddNote(_ context.Context, id, note string) (*models.Alert, error) {
	return m.apply(id, func(a *models.Alert, now time.Time) error { return alertsvc.AddNote(a, note, now) })
}

func openAlert(id string, priority int) *models.Alert {
	return &models.Alert{
		ID:        id,
		RuleID:    "rule-1",
		RuleName:  "watchlist",
		RuleType:  models.RuleTypeBlacklist,
		CameraID:  "cam-1",
		Status:    models.AlertStatusOpen,
		Priority:  priority,
		CreatedAt: time.Now().Add(-90 * time.Minute),
	}
}

func setupRouter(svc Service) http.Handler {
	h := NewHandler(svc, nil)
	r := chi.NewRouter()
	r.Get("/alerts", h.List)
	r.Get("/alerts/stats", h.Stats)
	r.Get("/alerts/{id}", h.Get)
	r.Post("/alerts/{id}/acknowledge", h.Acknowledge)
	r.Post("/alerts/{id}/resolve", h.Resolve)
	r.Post("/alerts/{id}/false-positive", h.FalsePositive)
	r.Post("/alerts/{id}/escalate", h.Escalate)
	r.Post("/alerts/{id}/notes", h.AddNote)
	return r
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, env
}

func TestHandler_List(t *testing.T) {
	svc := newMockService(openAlert("a1", 5), openAlert("a2", 8))
	router := setupRouter(svc)

	rec, env := do(t, router, "GET", "/alerts?status=open&camera_id=cam-1&skip=0&limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var page struct {
		Items []map[string]any `json:"items"`
		Total int64            `json:"total"`
		Limit int              `json:"limit"`
	}
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Errorf("total = %d, items = %d, want 2/2", page.Total, len(page.Items))
	}
	if page.Limit != 10 {
		t.Errorf("limit = %d, want 10", page.Limit)
	}
	if age, ok := page.Items[0]["age_minutes"].(float64); !ok || age < 89 {
		t.Errorf("age_minutes = %v, want ~90", page.Items[0]["age_minutes"])
	}
	if svc.lastFilter.CameraID != "cam-1" || svc.lastFilter.Status != models.AlertStatusOpen {
		t.Errorf("filter = %+v", svc.lastFilter)
	}
}

func TestHandler_ListInvalidQuery(t *testing.T) {
	router := setupRouter(newMockService())

	tests := []struct {
		name  string
		query string
	}{
		{"unknown status", "status=closed"},
		{"bad limit", "limit=abc"},
		{"negative skip", "skip=-5"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := do(t, router, "GET", "/alerts?"+tc.query, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
				t.Errorf("error = %+v", env.Error)
			}
		})
	}
}

func TestHandler_ListInternalError(t *testing.T) {
	svc := newMockService()
	svc.listErr = errors.New("database is locked")
	rec, env := do(t, setupRouter(svc), "GET", "/alerts", "")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if env.Error == nil || strings.Contains(env.Error.Message, "locked") {
		t.Errorf("internal error leaked: %+v", env.Error)
	}
}

func TestHandler_GetNotFound(t *testing.T) {
	rec, env := do(t, setupRouter(newMockService()), "GET", "/alerts/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestHandler_Stats(t *testing.T) {
	rec, env := do(t, setupRouter(newMockService(openAlert("a1", 5))), "GET", "/alerts/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats models.AlertStats
	if err := json.Unmarshal(env.Data, &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 1 || stats.ByStatus["open"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHandler_Lifecycle(t *testing.T) {
	svc := newMockService(openAlert("a1", 5))
	router := setupRouter(svc)

	rec, env := do(t, router, "POST", "/alerts/a1/acknowledge", `{"notes":"on it"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got models.Alert
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != models.AlertStatusAcknowledged {
		t.Errorf("status = %q, want acknowledged", got.Status)
	}
	if got.AcknowledgedBy != "anonymous" {
		t.Errorf("acknowledged_by = %q, want anonymous", got.AcknowledgedBy)
	}
	if !strings.Contains(got.Notes, "on it") {
		t.Errorf("notes = %q", got.Notes)
	}

	// No body is allowed.
	rec, _ = do(t, router, "POST", "/alerts/a1/escalate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("escalate status = %d", rec.Code)
	}

	// Escalated alerts can only be closed as false positives.
	rec, env = do(t, router, "POST", "/alerts/a1/resolve", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("resolve escalated status = %d, want 409", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "CONFLICT" {
		t.Errorf("error = %+v", env.Error)
	}

	rec, _ = do(t, router, "POST", "/alerts/a1/false-positive", `{"notes":"cat"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("false-positive status = %d", rec.Code)
	}

	rec, _ = do(t, router, "POST", "/alerts/a1/acknowledge", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("acknowledge terminal status = %d, want 409", rec.Code)
	}
}

func TestHandler_AddNote(t *testing.T) {
	svc := newMockService(openAlert("a1", 5))
	router := setupRouter(svc)

	rec, _ := do(t, router, "POST", "/alerts/a1/notes", `{"notes":"checked footage"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	a, _ := svc.GetAlert(context.Background(), "a1")
	if a.Status != models.AlertStatusOpen {
		t.Errorf("note changed status to %q", a.Status)
	}

	rec, _ = do(t, router, "POST", "/alerts/a1/notes", `{"notes":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank note status = %d, want 400", rec.Code)
	}
}

func TestHandler_InvalidBody(t *testing.T) {
	rec, _ := do(t, setupRouter(newMockService(openAlert("a1", 5))), "POST", "/alerts/a1/resolve", `{notes`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

package detections

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/good-yellow-bee/sentinel/internal/models"
)

type stubService struct {
	alert *models.Alert
	err   error
	got   models.Detection
	calls int
}

func (s *stubService) HandleDetection(_ context.Context, d models.Detection) (*models.Alert, error) {
	s.calls++
	s.got = d
	return s.alert, s.err
}

func post(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/v1/detections", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	return rec
}

func TestCreate_RaisesAlert(t *testing.T) {
	svc := &stubService{alert: &models.Alert{ID: "a1", Status: models.AlertStatusOpen, Priority: 7}}
	h := NewHandler(svc, nil)

	rec := post(h, `{"camera_id":"cam-1","subject_id":"s-1","subject_type":"blacklist","confidence":0.93}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if svc.got.CameraID != "cam-1" || svc.got.Confidence != 0.93 {
		t.Errorf("detection passed = %+v", svc.got)
	}

	var env struct {
		Data struct {
			Alert *struct {
				ID       string `json:"id"`
				Priority int    `json:"priority"`
			} `json:"alert"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Data.Alert == nil || env.Data.Alert.ID != "a1" || env.Data.Alert.Priority != 7 {
		t.Errorf("alert = %+v", env.Data.Alert)
	}
}

func TestCreate_NoMatch(t *testing.T) {
	h := NewHandler(&stubService{}, nil)

	rec := post(h, `{"camera_id":"cam-1","confidence":0.4}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"alert":null`) {
		t.Errorf("body = %s, want alert:null", rec.Body.String())
	}
}

func TestCreate_BadBody(t *testing.T) {
	svc := &stubService{}
	h := NewHandler(svc, nil)

	rec := post(h, `{"camera_id":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if svc.calls != 0 {
		t.Error("service should not be called for a bad body")
	}
}

func TestCreate_StorageError(t *testing.T) {
	h := NewHandler(&stubService{err: errors.New("disk full")}, nil)

	rec := post(h, `{"camera_id":"cam-1","confidence":0.9}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

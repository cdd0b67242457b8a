// Package alerts serves the alert listing and lifecycle endpoints.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/api/middleware"
	"github.com/good-yellow-bee/sentinel/internal/api/render"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

// Service is the alert service used by the handler.
type Service interface {
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, int64, error)
	Stats(ctx context.Context) (*models.AlertStats, error)
	Acknowledge(ctx context.Context, id, actor, note string) (*models.Alert, error)
	Resolve(ctx context.Context, id, note string) (*models.Alert, error)
	MarkFalsePositive(ctx context.Context, id, note string) (*models.Alert, error)
	Escalate(ctx context.Context, id, note string) (*models.Alert, error)
	AddNote(ctx context.Context, id, note string) (*models.Alert, error)
}

// AlertResponse is an alert plus its age, which external escalation
// policies use instead of server-side timers.
type AlertResponse struct {
	*models.Alert
	AgeMinutes int `json:"age_minutes"`
}

// NewAlertResponse builds the API view of a.
func NewAlertResponse(a *models.Alert, now time.Time) *AlertResponse {
	if a == nil {
		return nil
	}
	return &AlertResponse{Alert: a, AgeMinutes: a.AgeMinutes(now)}
}

// LifecycleRequest is the body of lifecycle and note requests.
type LifecycleRequest struct {
	Notes string `json:"notes"`
}

// Handler handles alert endpoints.
type Handler struct {
	svc    Service
	now    func() time.Time
	logger *zap.Logger
}

// NewHandler creates an alert handler.
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:    svc,
		now:    time.Now,
		logger: logger.With(zap.String("component", "alerts_api")),
	}
}

// List returns alerts filtered by status, rule, subject and camera.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	skip, limit, perr := render.ParsePaging(r)
	if perr != nil {
		render.JSONError(w, perr)
		return
	}

	filter := models.AlertFilter{
		RuleID:    q.Get("rule_id"),
		SubjectID: q.Get("subject_id"),
		CameraID:  q.Get("camera_id"),
		Offset:    skip,
		Limit:     limit,
	}
	if s := q.Get("status"); s != "" {
		status, ok := models.ParseAlertStatus(s)
		if !ok {
			render.JSONError(w, render.NewValidationError("unknown status: "+s))
			return
		}
		filter.Status = status
	}

	items, total, err := h.svc.ListAlerts(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list alerts", err)
		return
	}

	now := h.now()
	resp := make([]*AlertResponse, len(items))
	for i, a := range items {
		resp[i] = NewAlertResponse(a, now)
	}
	render.OK(w, render.PaginatedResponse{
		Items: resp,
		Total: total,
		Skip:  skip,
		Limit: limit,
	})
}

// Stats returns alert counts by status, priority and rule type.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		h.fail(w, r, "alert stats", err)
		return
	}
	render.OK(w, stats)
}

// Get returns one alert.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get alert", err)
		return
	}
	render.OK(w, NewAlertResponse(a, h.now()))
}

// Acknowledge marks an alert as seen by the calling operator.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	actor := middleware.Actor(r.Context())
	h.lifecycle(w, r, "acknowledge", func(ctx context.Context, id, note string) (*models.Alert, error) {
		return h.svc.Acknowledge(ctx, id, actor, note)
	})
}

// Resolve closes an alert.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "resolve", h.svc.Resolve)
}

// FalsePositive closes an alert as a false positive.
func (h *Handler) FalsePositive(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "mark false positive", h.svc.MarkFalsePositive)
}

// Escalate escalates an alert.
func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "escalate", h.svc.Escalate)
}

// AddNote appends a note without changing state.
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, "add note", h.svc.AddNote)
}

type lifecycleFunc func(ctx context.Context, id, note string) (*models.Alert, error)

func (h *Handler) lifecycle(w http.ResponseWriter, r *http.Request, op string, fn lifecycleFunc) {
	var req LifecycleRequest
	if err := decodeOptional(r, &req); err != nil {
		render.JSONError(w, render.NewBadRequest("invalid request body"))
		return
	}

	a, err := fn(r.Context(), chi.URLParam(r, "id"), req.Notes)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	render.OK(w, NewAlertResponse(a, h.now()))
}

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	apiErr := render.FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
	}
	render.JSONError(w, apiErr)
}

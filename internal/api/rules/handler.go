// Package rules serves alert rule management endpoints.
package rules

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/api/middleware"
	"github.com/good-yellow-bee/sentinel/internal/api/render"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

// Service is the rule management API used by the handler.
type Service interface {
	CreateRule(ctx context.Context, rule *models.Rule) (*models.Rule, error)
	UpdateRule(ctx context.Context, rule *models.Rule) (*models.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	GetRule(ctx context.Context, id string) (*models.Rule, error)
	ListRules(ctx context.Context, filter models.RuleFilter) ([]*models.Rule, error)
}

// Request is the body of create and update requests. Absent fields keep
// their default on create and their stored value on update.
type Request struct {
	Name            *string            `json:"name"`
	Description     *string            `json:"description"`
	RuleType        *models.RuleType   `json:"rule_type"`
	Conditions      *models.Conditions `json:"conditions"`
	Actions         *models.Actions    `json:"actions"`
	IsActive        *bool              `json:"is_active"`
	Priority        *int               `json:"priority"`
	CooldownSeconds *int               `json:"cooldown_seconds"`
}

func (req *Request) applyTo(r *models.Rule) {
	if req.Name != nil {
		r.Name = *req.Name
	}
	if req.Description != nil {
		r.Description = *req.Description
	}
	if req.RuleType != nil {
		r.Type = *req.RuleType
	}
	if req.Conditions != nil {
		r.Conditions = *req.Conditions
	}
	if req.Actions != nil {
		r.Actions = *req.Actions
	}
	if req.IsActive != nil {
		r.IsActive = *req.IsActive
	}
	if req.Priority != nil {
		r.Priority = *req.Priority
	}
	if req.CooldownSeconds != nil {
		r.CooldownSeconds = *req.CooldownSeconds
	}
}

// ListResponse is returned by List.
type ListResponse struct {
	Items []*models.Rule `json:"items"`
	Skip  int            `json:"skip"`
	Limit int            `json:"limit"`
}

// Handler handles rule endpoints.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// NewHandler creates a rule handler.
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger.With(zap.String("component", "rules_api"))}
}

// List returns stored rules. Supports ?active=true and ?rule_type=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	skip, limit, perr := render.ParsePaging(r)
	if perr != nil {
		render.JSONError(w, perr)
		return
	}

	filter := models.RuleFilter{Offset: skip, Limit: limit}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			render.JSONError(w, render.NewValidationError("active must be a boolean"))
			return
		}
		filter.ActiveOnly = active
	}
	if v := q.Get("rule_type"); v != "" {
		rt := models.RuleType(v)
		if !rt.Valid() {
			render.JSONError(w, render.NewValidationError("unknown rule_type: "+v))
			return
		}
		filter.Type = rt
	}

	items, err := h.svc.ListRules(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list rules", err)
		return
	}
	if items == nil {
		items = []*models.Rule{}
	}
	render.OK(w, ListResponse{Items: items, Skip: skip, Limit: limit})
}

// Create validates and stores a new rule.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := render.DecodeJSON(r, &req); err != nil {
		render.Err(w, err)
		return
	}

	rule := models.NewRule("", "")
	req.applyTo(rule)
	rule.CreatedBy = middleware.Actor(r.Context())

	created, err := h.svc.CreateRule(r.Context(), rule)
	if err != nil {
		h.fail(w, r, "create rule", err)
		return
	}
	render.Created(w, created)
}

// Get returns one rule.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.svc.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get rule", err)
		return
	}
	render.OK(w, rule)
}

// Update applies a partial update to a stored rule.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := render.DecodeJSON(r, &req); err != nil {
		render.Err(w, err)
		return
	}

	existing, err := h.svc.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "update rule", err)
		return
	}
	req.applyTo(existing)

	updated, err := h.svc.UpdateRule(r.Context(), existing)
	if err != nil {
		h.fail(w, r, "update rule", err)
		return
	}
	render.OK(w, updated)
}

// Delete removes a rule. Alerts it raised are kept.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "delete rule", err)
		return
	}
	render.NoContent(w)
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

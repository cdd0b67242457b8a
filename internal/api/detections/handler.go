// Package detections accepts detection events from the recognition
// pipeline.
package detections

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/api/alerts"
	"github.com/good-yellow-bee/sentinel/internal/api/middleware"
	"github.com/good-yellow-bee/sentinel/internal/api/render"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

// Service ingests detections.
type Service interface {
	HandleDetection(ctx context.Context, d models.Detection) (*models.Alert, error)
}

// Response reports the alert raised by a detection, if any.
type Response struct {
	Alert *alerts.AlertResponse `json:"alert"`
}

// Handler handles the detection ingest endpoint.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// NewHandler creates a detection handler.
func NewHandler(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger.With(zap.String("component", "detections_api"))}
}

// Create evaluates one detection. It answers 201 when an alert was raised
// and 202 when the detection was accepted without one.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var d models.Detection
	if err := render.DecodeJSON(r, &d); err != nil {
		render.Err(w, err)
		return
	}

	alert, err := h.svc.HandleDetection(r.Context(), d)
	if err != nil {
		h.logger.Error("handle detection failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("camera_id", d.CameraID),
			zap.Error(err))
		render.Err(w, err)
		return
	}

	if alert == nil {
		render.JSON(w, http.StatusAccepted, Response{})
		return
	}
	render.Created(w, Response{Alert: alerts.NewAlertResponse(alert, time.Now())})
}

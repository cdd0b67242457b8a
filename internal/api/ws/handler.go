// Package ws upgrades HTTP requests to websocket clients of the hub.
package ws

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/api/render"
	"github.com/good-yellow-bee/sentinel/internal/hub"
)

// DefaultMaxConnections caps concurrent websocket clients.
const DefaultMaxConnections = 1000

// Config configures the websocket endpoints.
type Config struct {
	Client         hub.ClientConfig
	MaxConnections int
	// AllowedOrigins restricts browser origins. Empty allows any origin.
	AllowedOrigins []string
}

// Handler serves /ws endpoints.
type Handler struct {
	hub      *hub.Hub
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a websocket handler bound to h.
func NewHandler(h *hub.Hub, cfg Config, logger *zap.Logger) *Handler {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &Handler{
		hub:    h,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "ws")),
	}
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     handler.checkOrigin,
	}
	return handler
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// Channel serves /ws/{channel}. The detections channel accepts a
// camera_id query parameter to receive one camera only.
func (h *Handler) Channel(w http.ResponseWriter, r *http.Request) {
	ch, err := hub.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		render.Err(w, err)
		return
	}
	h.serve(w, r, ch, r.URL.Query().Get("camera_id"))
}

// CameraStream serves /ws/cameras/{camera_id}/stream.
func (h *Handler) CameraStream(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, hub.ChannelCameras, chi.URLParam(r, "camera_id"))
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, ch hub.Channel, cameraID string) {
	if h.hub.Total() >= h.cfg.MaxConnections {
		h.logger.Warn("rejecting websocket, connection limit reached",
			zap.Int("max_connections", h.cfg.MaxConnections))
		render.JSONError(w, render.ErrTooManyConnections)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := hub.NewClient(h.hub, conn, ch, cameraID, h.cfg.Client, h.logger)
	if err := client.Start(); err != nil {
		h.logger.Warn("websocket subscribe failed", zap.String("channel", ch.String()), zap.Error(err))
		_ = client.Close()
	}
}

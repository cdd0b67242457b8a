package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/alerting"
	"github.com/good-yellow-bee/sentinel/internal/bus"
	"github.com/good-yellow-bee/sentinel/internal/errs"
	"github.com/good-yellow-bee/sentinel/internal/metrics"
	"github.com/good-yellow-bee/sentinel/internal/models"
	"github.com/good-yellow-bee/sentinel/internal/storage"
)

// DefaultRefreshInterval is how often Run reloads rules from the store.
const DefaultRefreshInterval = 30 * time.Second

// Options configures a Service.
type Options struct {
	Store     storage.Storage
	Engine    *alerting.Engine
	Rules     *alerting.RuleSet
	Publisher bus.Publisher
	// RefreshInterval controls how often Run reloads stored rules.
	RefreshInterval time.Duration
	Now             func() time.Time
	Logger          *zap.Logger
}

// Service turns detections into alerts and manages alerts and rules.
type Service struct {
	store   storage.Storage
	engine  *alerting.Engine
	rules   *alerting.RuleSet
	pub     bus.Publisher
	refresh time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// NewService creates a service. Store and Publisher are required.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Engine == nil {
		opts.Engine = alerting.NewEngine(alerting.EngineOptions{Logger: opts.Logger})
	}
	if opts.Rules == nil {
		opts.Rules = alerting.NewRuleSet(opts.Logger)
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		store:   opts.Store,
		engine:  opts.Engine,
		rules:   opts.Rules,
		pub:     opts.Publisher,
		refresh: opts.RefreshInterval,
		now:     opts.Now,
		logger:  opts.Logger.With(zap.String("component", "alert_service")),
	}, nil
}

// Rules returns the rule set the service evaluates against.
func (s *Service) Rules() *alerting.RuleSet { return s.rules }

// Engine returns the rule engine.
func (s *Service) Engine() *alerting.Engine { return s.engine }

// AlertSummary is the payload of an "alert" message.
type AlertSummary struct {
	ID         string             `json:"id"`
	RuleID     string             `json:"rule_id,omitempty"`
	RuleName   string             `json:"rule_name,omitempty"`
	RuleType   models.RuleType    `json:"rule_type,omitempty"`
	SubjectID  string             `json:"subject_id,omitempty"`
	CameraID   string             `json:"camera_id,omitempty"`
	SightingID string             `json:"sighting_id,omitempty"`
	Status     models.AlertStatus `json:"status"`
	Priority   int                `json:"priority"`
	Notes      string             `json:"notes,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// AlertUpdate is the payload of lifecycle messages.
type AlertUpdate struct {
	AlertID        string             `json:"alert_id"`
	Status         models.AlertStatus `json:"status"`
	Priority       int                `json:"priority"`
	AcknowledgedBy string             `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time         `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time         `json:"resolved_at,omitempty"`
	EscalatedAt    *time.Time         `json:"escalated_at,omitempty"`
	Notes          string             `json:"notes,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

func summarize(a *models.Alert) AlertSummary {
	return AlertSummary{
		ID:         a.ID,
		RuleID:     a.RuleID,
		RuleName:   a.RuleName,
		RuleType:   a.RuleType,
		SubjectID:  a.SubjectID,
		CameraID:   a.CameraID,
		SightingID: a.SightingID,
		Status:     a.Status,
		Priority:   a.Priority,
		Notes:      a.Notes,
		CreatedAt:  a.CreatedAt,
	}
}

// HandleDetection publishes d and raises an alert when a rule matches. It
// returns nil when no alert was raised. Malformed detections never match.
func (s *Service) HandleDetection(ctx context.Context, d models.Detection) (*models.Alert, error) {
	tc := d.Context()
	if !tc.Valid() || (!tc.HasCamera() && !tc.HasSubject()) {
		s.logger.Debug("ignoring malformed detection",
			zap.String("camera_id", d.CameraID),
			zap.String("subject_id", d.SubjectID),
			zap.Float64("confidence", d.Confidence))
		metrics.EngineMalformedTotal.Inc()
		return nil, nil
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = s.now().UTC()
		tc.Timestamp = d.Timestamp
	}

	s.publish(ctx, bus.TopicDetections, bus.TypeDetection, d)

	match, err := s.engine.Evaluate(ctx, tc, s.rules.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("evaluate rules: %w", err)
	}
	if match == nil {
		return nil, nil
	}

	trigger, err := json.Marshal(tc)
	if err != nil {
		return nil, fmt.Errorf("encode trigger data: %w", err)
	}

	rule := match.Rule
	alert := &models.Alert{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		RuleType:    rule.Type,
		SubjectID:   tc.SubjectID,
		CameraID:    tc.CameraID,
		SightingID:  tc.SightingID,
		TriggerData: trigger,
		Status:      models.AlertStatusOpen,
		Priority:    rule.Priority,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Alerts().Create(ctx, alert); err != nil {
		return nil, fmt.Errorf("store alert: %w", err)
	}
	metrics.AlertsCreatedTotal.WithLabelValues(string(rule.Type)).Inc()

	s.logger.Info("alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", rule.ID),
		zap.String("rule_name", rule.Name),
		zap.Int("priority", alert.Priority),
		zap.String("suppression_key", match.SuppressionKey))

	s.publish(ctx, bus.TopicAlerts, bus.TypeAlert, summarize(alert))
	return alert, nil
}

// publish sends a message and only logs failures; delivery is best effort
// once the alert is stored.
func (s *Service) publish(ctx context.Context, topic, typ string, data any) {
	msg, err := bus.NewMessage(typ, data)
	if err == nil {
		err = s.pub.Publish(ctx, topic, msg)
	}
	if err != nil {
		metrics.BusPublishErrors.WithLabelValues(topic).Inc()
		s.logger.Warn("publish failed",
			zap.String("topic", topic),
			zap.String("type", typ),
			zap.Error(err))
		return
	}
	metrics.BusPublishedTotal.WithLabelValues(topic).Inc()
}

// Acknowledge records that actor has taken ownership of the alert.
func (s *Service) Acknowledge(ctx context.Context, id, actor, note string) (*models.Alert, error) {
	return s.transition(ctx, id, updateAcknowledged, func(a *models.Alert, now time.Time) error {
		return Acknowledge(a, actor, note, now)
	})
}

// Resolve closes the alert as handled.
func (s *Service) Resolve(ctx context.Context, id, note string) (*models.Alert, error) {
	return s.transition(ctx, id, updateResolved, func(a *models.Alert, now time.Time) error {
		return Resolve(a, note, now)
	})
}

// MarkFalsePositive closes the alert as a false alarm.
func (s *Service) MarkFalsePositive(ctx context.Context, id, note string) (*models.Alert, error) {
	return s.transition(ctx, id, updateFalsePositive, func(a *models.Alert, now time.Time) error {
		return MarkFalsePositive(a, note, now)
	})
}

// Escalate escalates the alert and republishes it so clients surface it again.
func (s *Service) Escalate(ctx context.Context, id, note string) (*models.Alert, error) {
	return s.transition(ctx, id, updateEscalated, func(a *models.Alert, now time.Time) error {
		return Escalate(a, note, now)
	})
}

// AddNote appends a note to the alert.
func (s *Service) AddNote(ctx context.Context, id, note string) (*models.Alert, error) {
	return s.transition(ctx, id, updateNote, func(a *models.Alert, now time.Time) error {
		return AddNote(a, note, now)
	})
}

// Lifecycle update kinds, used as metric labels and in logs.
const (
	updateAcknowledged  = "acknowledged"
	updateResolved      = "resolved"
	updateFalsePositive = "false_positive"
	updateEscalated     = "escalated"
	updateNote          = "note"
)

// maxUpdateAttempts bounds retries of an update that lost a race to a
// change that left the status alone, such as a concurrent note.
const maxUpdateAttempts = 10

func (s *Service) transition(ctx context.Context, id, kind string, apply func(*models.Alert, time.Time) error) (*models.Alert, error) {
	var (
		current, next *models.Alert
		now           time.Time
	)
	for attempt := 1; ; attempt++ {
		var err error
		current, err = s.store.Alerts().GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		now = s.now().UTC()
		next = current.Clone()
		if err := apply(next, now); err != nil {
			if errors.Is(err, errs.ErrConflict) {
				metrics.AlertConflictsTotal.Inc()
			}
			return nil, err
		}

		err = s.store.Alerts().UpdateLifecycle(ctx, next, current.Status)
		if err == nil {
			break
		}
		var ce *errs.ConflictError
		if errors.As(err, &ce) && ce.From == string(current.Status) && attempt < maxUpdateAttempts {
			continue
		}
		if errors.Is(err, errs.ErrConflict) {
			metrics.AlertConflictsTotal.Inc()
		}
		return nil, err
	}
	metrics.AlertTransitionsTotal.WithLabelValues(kind).Inc()

	s.logger.Info("alert updated",
		zap.String("alert_id", next.ID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next.Status)),
		zap.String("update", kind))

	switch kind {
	case updateAcknowledged, updateResolved:
		s.publish(ctx, bus.TopicAlerts, kind, AlertUpdate{
			AlertID:        next.ID,
			Status:         next.Status,
			Priority:       next.Priority,
			AcknowledgedBy: next.AcknowledgedBy,
			AcknowledgedAt: next.AcknowledgedAt,
			ResolvedAt:     next.ResolvedAt,
			EscalatedAt:    next.EscalatedAt,
			Notes:          next.Notes,
			UpdatedAt:      now,
		})
	default:
		// No client type of its own: republish the alert so clients
		// replace their copy.
		s.publish(ctx, bus.TopicAlerts, bus.TypeAlert, summarize(next))
	}
	return next, nil
}

// GetAlert returns one alert.
func (s *Service) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	return s.store.Alerts().GetByID(ctx, id)
}

// ListAlerts returns a page of alerts and the total matching count.
func (s *Service) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, int64, error) {
	return s.store.Alerts().List(ctx, filter)
}

// Stats summarises stored alerts.
func (s *Service) Stats(ctx context.Context) (*models.AlertStats, error) {
	return s.store.Alerts().Stats(ctx)
}

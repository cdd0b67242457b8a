package alerting

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/metrics"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

// Match is the outcome of a successful evaluation.
type Match struct {
	Rule           *models.Rule
	SuppressionKey string
	At             time.Time
}

// Engine evaluates trigger contexts against rule snapshots.
type Engine struct {
	cooldowns CooldownStore
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger

	// stats tracks engine statistics.
	stats *EngineStats
}

// EngineStats tracks engine statistics using atomic operations for lock-free access.
type EngineStats struct {
	Evaluations    atomic.Int64
	Matches        atomic.Int64
	Suppressed     atomic.Int64
	Malformed      atomic.Int64
	CooldownErrors atomic.Int64
}

// EngineOptions configures the rule engine.
type EngineOptions struct {
	// Cooldowns stores suppression entries. Defaults to an in-memory store.
	Cooldowns CooldownStore
	// Location is used for time-of-day and weekday conditions. Defaults to UTC.
	Location *time.Location
	// Now supplies the clock for contexts without a timestamp.
	Now    func() time.Time
	Logger *zap.Logger
}

// NewEngine creates a new rule engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Cooldowns == nil {
		opts.Cooldowns = NewMemoryCooldownStore()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Engine{
		cooldowns: opts.Cooldowns,
		loc:       opts.Location,
		now:       opts.Now,
		logger:    opts.Logger.With(zap.String("component", "rule_engine")),
		stats:     &EngineStats{},
	}
}

// Evaluate selects the rule that should raise an alert for tc, or returns
// nil when no active rule matches or every match is on cooldown.
//
// Matching candidates are tried by priority desc, then creation order asc,
// whatever order rules is in. The first one whose cooldown can be acquired
// wins; the cooldown entry is written before Evaluate returns. A malformed
// context never matches.
func (e *Engine) Evaluate(ctx context.Context, tc models.TriggerContext, rules []*CompiledRule) (*Match, error) {
	e.stats.Evaluations.Add(1)
	metrics.EngineEvaluationsTotal.Inc()

	if !tc.Valid() {
		e.stats.Malformed.Add(1)
		metrics.EngineMalformedTotal.Inc()
		e.logger.Debug("malformed trigger context",
			zap.String("camera_id", tc.CameraID),
			zap.Float64("confidence", tc.Confidence))
		return nil, nil
	}
	if tc.Timestamp.IsZero() {
		tc.Timestamp = e.now()
	}

	key := tc.SuppressionKey()

	var candidates []*CompiledRule
	for _, cr := range rules {
		if cr == nil || !cr.Rule.IsActive || !cr.Matches(tc, e.loc) {
			continue
		}
		candidates = append(candidates, cr)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].precedes(candidates[j])
	})

	for _, cr := range candidates {
		if ttl := cr.Rule.Cooldown(); ttl > 0 {
			acquired, err := e.cooldowns.Acquire(ctx, CooldownKey(cr.Rule.ID, key), ttl, tc.Timestamp)
			if err != nil {
				// Fail open: a duplicate alert beats a lost one.
				e.stats.CooldownErrors.Add(1)
				e.logger.Warn("cooldown store unavailable, firing without suppression",
					zap.String("rule_id", cr.Rule.ID),
					zap.Error(err))
			} else if !acquired {
				e.stats.Suppressed.Add(1)
				metrics.EngineSuppressedTotal.Inc()
				continue
			}
		}

		e.stats.Matches.Add(1)
		metrics.EngineMatchesTotal.Inc()
		return &Match{
			Rule:           cr.Rule,
			SuppressionKey: key,
			At:             tc.Timestamp,
		}, nil
	}

	return nil, nil
}

// EngineStatsSnapshot is a snapshot of engine statistics for reporting.
type EngineStatsSnapshot struct {
	Evaluations    int64 `json:"evaluations"`
	Matches        int64 `json:"matches"`
	Suppressed     int64 `json:"suppressed"`
	Malformed      int64 `json:"malformed"`
	CooldownErrors int64 `json:"cooldown_errors"`
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() EngineStatsSnapshot {
	return EngineStatsSnapshot{
		Evaluations:    e.stats.Evaluations.Load(),
		Matches:        e.stats.Matches.Load(),
		Suppressed:     e.stats.Suppressed.Load(),
		Malformed:      e.stats.Malformed.Load(),
		CooldownErrors: e.stats.CooldownErrors.Load(),
	}
}

package alerting

import (
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/metrics"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

// Rule sources merged into a RuleSet.
const (
	SourceStore = "store"
	SourceFile  = "file"
)

// RuleSet holds the current immutable snapshot of compiled rules. Readers
// never block writers: Replace builds a new snapshot and swaps it in, and
// an evaluation keeps the slice it started with.
type RuleSet struct {
	mu       sync.Mutex // serialises Replace
	sources  map[string][]*CompiledRule
	snapshot atomic.Pointer[[]*CompiledRule]
	logger   *zap.Logger
}

// NewRuleSet creates an empty rule set.
func NewRuleSet(logger *zap.Logger) *RuleSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	rs := &RuleSet{
		sources: make(map[string][]*CompiledRule),
		logger:  logger.With(zap.String("component", "ruleset")),
	}
	empty := []*CompiledRule{}
	rs.snapshot.Store(&empty)
	return rs
}

// Snapshot returns the current rules ordered by priority desc, then
// creation order.
func (rs *RuleSet) Snapshot() []*CompiledRule {
	return *rs.snapshot.Load()
}

// Len returns the number of rules in the current snapshot.
func (rs *RuleSet) Len() int {
	return len(rs.Snapshot())
}

// Replace compiles rules for source and publishes a new merged snapshot.
// Rules that fail validation are logged and skipped; it returns how many
// were skipped.
func (rs *RuleSet) Replace(source string, rules []*models.Rule) int {
	compiled := make([]*CompiledRule, 0, len(rules))
	skipped := 0
	for i, r := range rules {
		cr, err := Compile(r)
		if err != nil {
			skipped++
			rs.logger.Warn("skipping invalid rule",
				zap.String("source", source),
				zap.String("rule_id", r.ID),
				zap.String("rule_name", r.Name),
				zap.Error(err))
			continue
		}
		cr.order = i
		compiled = append(compiled, cr)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.sources[source] = compiled
	rs.publishLocked()

	return skipped
}

func (rs *RuleSet) publishLocked() {
	var merged []*CompiledRule
	for _, rules := range rs.sources {
		merged = append(merged, rules...)
	}

	// Creation order first, so ties on priority keep it. File rules carry
	// no timestamp and fall back to their position in the file.
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.Rule.CreatedAt.Equal(b.Rule.CreatedAt) {
			return a.Rule.CreatedAt.Before(b.Rule.CreatedAt)
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.Rule.ID < b.Rule.ID
	})

	// Each snapshot gets fresh copies so seq never mutates a published rule.
	next := make([]*CompiledRule, len(merged))
	for i, cr := range merged {
		c := *cr
		c.seq = i
		next[i] = &c
	}

	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Rule.Priority > next[j].Rule.Priority
	})

	rs.snapshot.Store(&next)
	metrics.RulesLoaded.Set(float64(len(next)))
	rs.logger.Debug("rule snapshot published", zap.Int("rules", len(next)))
}

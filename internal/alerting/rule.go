// Package alerting implements the rule engine of the alert pipeline. It
// compiles rules into immutable snapshots, matches detection contexts
// against their conditions and applies per-subject cooldown suppression.
package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/good-yellow-bee/sentinel/internal/errs"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

// CompiledRule is a validated rule with its conditions precomputed for
// matching. It is immutable once built.
type CompiledRule struct {
	// Rule is a private copy of the source rule.
	Rule *models.Rule

	// seq is the position in the creation order of the owning snapshot.
	seq int
	// order is the declaration index within the rule's source.
	order int

	subjectTypes map[string]struct{}
	subjectIDs   map[string]struct{}
	cameras      map[string]struct{}
	excluded     map[string]struct{}
	minConf      float64
	hasMinConf   bool
	window       *clockWindow
	days         [7]bool
	hasDays      bool
	expr         *ExprMatcher
}

// Seq returns the creation-order index assigned by the owning RuleSet.
func (cr *CompiledRule) Seq() int { return cr.seq }

// precedes reports whether cr wins over other when both match: higher
// priority first, then earlier creation.
func (cr *CompiledRule) precedes(other *CompiledRule) bool {
	a, b := cr.Rule, other.Rule
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if cr.seq != other.seq {
		return cr.seq < other.seq
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	if cr.order != other.order {
		return cr.order < other.order
	}
	return a.ID < b.ID
}

// Compile validates rule and precomputes its conditions. Validation
// failures are returned as *errs.ValidationError.
func Compile(rule *models.Rule) (*CompiledRule, error) {
	if rule == nil {
		return nil, errs.Validation("rule", "rule is required")
	}
	if err := Validate(rule); err != nil {
		return nil, err
	}

	r := rule.Clone()
	cond := r.Conditions
	cr := &CompiledRule{
		Rule:         r,
		subjectTypes: toSet(cond.SubjectTypes, true),
		subjectIDs:   toSet(cond.SubjectIDs, false),
		cameras:      toSet(cond.Cameras, false),
		excluded:     toSet(cond.ExcludeTypes, true),
	}

	if cond.MinConfidence != nil {
		cr.minConf = *cond.MinConfidence
		cr.hasMinConf = true
	}

	if cond.TimeRange != nil {
		w, err := parseClockWindow(cond.TimeRange.Start, cond.TimeRange.End)
		if err != nil {
			return nil, errs.Validation("conditions.time_range", "%v", err)
		}
		cr.window = w
	}

	for _, d := range cond.Days {
		wd, ok := parseWeekday(d)
		if !ok {
			return nil, errs.Validation("conditions.days", "unknown day %q", d)
		}
		cr.days[wd] = true
		cr.hasDays = true
	}

	if cond.Expression != "" {
		m, err := NewExprMatcher(cond.Expression)
		if err != nil {
			return nil, errs.Validation("conditions.expression", "%v", err)
		}
		cr.expr = m
	}

	return cr, nil
}

// Validate checks the structural constraints of a rule without compiling
// its expression.
func Validate(r *models.Rule) error {
	if strings.TrimSpace(r.Name) == "" {
		return errs.Validation("name", "rule name is required")
	}
	if len(r.Name) > 255 {
		return errs.Validation("name", "must be 255 characters or less")
	}
	if r.Type == "" {
		return errs.Validation("rule_type", "rule type is required for rule %q", r.Name)
	}
	if !r.Type.Valid() {
		return errs.Validation("rule_type", "invalid rule type %q for rule %q", r.Type, r.Name)
	}
	if r.Priority < models.MinPriority || r.Priority > models.MaxPriority {
		return errs.Validation("priority", "must be between %d and %d, got %d",
			models.MinPriority, models.MaxPriority, r.Priority)
	}
	if r.CooldownSeconds < 0 {
		return errs.Validation("cooldown_seconds", "must not be negative, got %d", r.CooldownSeconds)
	}

	cond := r.Conditions
	if mc := cond.MinConfidence; mc != nil && (*mc < 0 || *mc > 1) {
		return errs.Validation("conditions.min_confidence", "must be between 0 and 1, got %v", *mc)
	}
	if cond.TimeRange != nil {
		if _, err := parseClockWindow(cond.TimeRange.Start, cond.TimeRange.End); err != nil {
			return errs.Validation("conditions.time_range", "%v", err)
		}
	}
	for _, d := range cond.Days {
		if _, ok := parseWeekday(d); !ok {
			return errs.Validation("conditions.days", "unknown day %q", d)
		}
	}

	switch {
	case r.Type == models.RuleTypeCustom && strings.TrimSpace(cond.Expression) == "":
		return errs.Validation("conditions.expression", "expression is required for custom rule %q", r.Name)
	case r.Type != models.RuleTypeCustom && cond.Expression != "":
		return errs.Validation("conditions.expression", "expression is only allowed on custom rules")
	}

	return nil
}

func toSet(values []string, fold bool) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if fold {
			v = strings.ToLower(v)
		}
		set[v] = struct{}{}
	}
	return set
}

// clockWindow is a time-of-day window in minutes since midnight.
type clockWindow struct {
	start, end int
}

func parseClockWindow(start, end string) (*clockWindow, error) {
	s, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("invalid start %q: %w", start, err)
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("invalid end %q: %w", end, err)
	}
	return &clockWindow{start: s, end: e}, nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM")
	}
	return t.Hour()*60 + t.Minute(), nil
}

// contains reports whether minute-of-day m lies in the window. Start is
// inclusive and end exclusive; start > end wraps past midnight and
// start == end covers the whole day.
func (w *clockWindow) contains(m int) bool {
	switch {
	case w.start == w.end:
		return true
	case w.start < w.end:
		return m >= w.start && m < w.end
	default:
		return m >= w.start || m < w.end
	}
}

func parseWeekday(s string) (time.Weekday, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday, true
	case "mon", "monday":
		return time.Monday, true
	case "tue", "tues", "tuesday":
		return time.Tuesday, true
	case "wed", "wednesday":
		return time.Wednesday, true
	case "thu", "thurs", "thursday":
		return time.Thursday, true
	case "fri", "friday":
		return time.Friday, true
	case "sat", "saturday":
		return time.Saturday, true
	default:
		return 0, false
	}
}

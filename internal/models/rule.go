// Package models defines domain models for the sentinel alert pipeline.
package models

import (
	"time"

	"gopkg.in/yaml.v3"
)

// RuleType identifies what a rule is meant to detect. The set is closed.
type RuleType string

const (
	RuleTypeBlacklist       RuleType = "blacklist"
	RuleTypeWhitelist       RuleType = "whitelist"
	RuleTypeGeofence        RuleType = "geofence"
	RuleTypeLoitering       RuleType = "loitering"
	RuleTypeTailgating      RuleType = "tailgating"
	RuleTypeCrowd           RuleType = "crowd"
	RuleTypeTimeRestriction RuleType = "time_restriction"
	RuleTypeCustom          RuleType = "custom"
)

// RuleTypes lists every accepted rule type.
var RuleTypes = []RuleType{
	RuleTypeBlacklist,
	RuleTypeWhitelist,
	RuleTypeGeofence,
	RuleTypeLoitering,
	RuleTypeTailgating,
	RuleTypeCrowd,
	RuleTypeTimeRestriction,
	RuleTypeCustom,
}

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	for _, rt := range RuleTypes {
		if rt == t {
			return true
		}
	}
	return false
}

const (
	// DefaultPriority is applied when a rule is created without one.
	DefaultPriority = 5
	// DefaultCooldownSeconds is applied when a rule is created without one.
	DefaultCooldownSeconds = 300
	MinPriority            = 1
	MaxPriority            = 10
)

// TimeRange is a time-of-day window in "HH:MM" form. Start after End wraps
// past midnight.
type TimeRange struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// Conditions is the predicate set of a rule. Every field is optional and an
// unset field matches everything.
type Conditions struct {
	// SubjectTypes allow-lists subject types (e.g. "blacklist", "vip", "employee").
	SubjectTypes []string `json:"subject_types,omitempty" yaml:"subject_types,omitempty"`
	// SubjectIDs allow-lists individual subjects.
	SubjectIDs []string `json:"subject_ids,omitempty" yaml:"subject_ids,omitempty"`
	// Cameras allow-lists camera ids.
	Cameras []string `json:"cameras,omitempty" yaml:"cameras,omitempty"`
	// MinConfidence rejects detections below the threshold.
	MinConfidence *float64 `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	// TimeRange restricts matching to a time-of-day window.
	TimeRange *TimeRange `json:"time_range,omitempty" yaml:"time_range,omitempty"`
	// Days restricts matching to weekdays ("mon", "tuesday", ...).
	Days []string `json:"days,omitempty" yaml:"days,omitempty"`
	// ExcludeTypes rejects subjects of these types regardless of other matches.
	ExcludeTypes []string `json:"exclude_types,omitempty" yaml:"exclude_types,omitempty"`
	// Expression is an expr-lang boolean expression, only used by custom rules.
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Actions describes what should happen when a rule fires. Stored and
// returned, never executed by the pipeline itself.
type Actions struct {
	Webhook string   `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	Email   []string `json:"email,omitempty" yaml:"email,omitempty"`
	SMS     []string `json:"sms,omitempty" yaml:"sms,omitempty"`
	Push    bool     `json:"push,omitempty" yaml:"push,omitempty"`
}

// Rule is a persistent alert rule.
type Rule struct {
	ID              string     `json:"id" yaml:"id,omitempty"`
	Name            string     `json:"name" yaml:"name"`
	Description     string     `json:"description,omitempty" yaml:"description,omitempty"`
	Type            RuleType   `json:"rule_type" yaml:"rule_type"`
	Conditions      Conditions `json:"conditions" yaml:"conditions"`
	Actions         Actions    `json:"actions" yaml:"actions,omitempty"`
	IsActive        bool       `json:"is_active" yaml:"is_active"`
	Priority        int        `json:"priority" yaml:"priority"`
	CooldownSeconds int        `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	CreatedBy       string     `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at" yaml:"created_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at" yaml:"updated_at,omitempty"`
}

// NewRule creates an active rule with default priority and cooldown.
func NewRule(name string, ruleType RuleType) *Rule {
	now := time.Now().UTC()
	return &Rule{
		Name:            name,
		Type:            ruleType,
		IsActive:        true,
		Priority:        DefaultPriority,
		CooldownSeconds: DefaultCooldownSeconds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// UnmarshalYAML applies the same defaults as NewRule to fields a rules
// file leaves out.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	type plain Rule
	p := plain{
		IsActive:        true,
		Priority:        DefaultPriority,
		CooldownSeconds: DefaultCooldownSeconds,
	}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// Cooldown returns the cooldown window as a duration.
func (r *Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	c := *r
	c.Conditions.SubjectTypes = cloneStrings(r.Conditions.SubjectTypes)
	c.Conditions.SubjectIDs = cloneStrings(r.Conditions.SubjectIDs)
	c.Conditions.Cameras = cloneStrings(r.Conditions.Cameras)
	c.Conditions.Days = cloneStrings(r.Conditions.Days)
	c.Conditions.ExcludeTypes = cloneStrings(r.Conditions.ExcludeTypes)
	if r.Conditions.MinConfidence != nil {
		v := *r.Conditions.MinConfidence
		c.Conditions.MinConfidence = &v
	}
	if r.Conditions.TimeRange != nil {
		tr := *r.Conditions.TimeRange
		c.Conditions.TimeRange = &tr
	}
	c.Actions.Email = cloneStrings(r.Actions.Email)
	c.Actions.SMS = cloneStrings(r.Actions.SMS)
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// RuleFilter narrows rule listings.
type RuleFilter struct {
	ActiveOnly bool
	Type       RuleType
	Offset     int
	Limit      int
}

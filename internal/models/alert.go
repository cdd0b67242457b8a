package models

import (
	"encoding/json"
	"time"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "open"
	AlertStatusAcknowledged  AlertStatus = "acknowledged"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
	AlertStatusEscalated     AlertStatus = "escalated"
)

// Terminal reports whether no further transition is possible.
func (s AlertStatus) Terminal() bool {
	return s == AlertStatusResolved || s == AlertStatusFalsePositive
}

// ParseAlertStatus converts a string to AlertStatus. ok is false for unknown values.
func ParseAlertStatus(s string) (AlertStatus, bool) {
	switch AlertStatus(s) {
	case AlertStatusOpen, AlertStatusAcknowledged, AlertStatusResolved,
		AlertStatusFalsePositive, AlertStatusEscalated:
		return AlertStatus(s), true
	default:
		return "", false
	}
}

// Alert is raised once per rule match. Rule, subject, camera and sighting
// ids are weak references: the referents may be deleted without touching
// the alert.
type Alert struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id,omitempty"`
	RuleName       string          `json:"rule_name,omitempty"`
	RuleType       RuleType        `json:"rule_type,omitempty"`
	SubjectID      string          `json:"subject_id,omitempty"`
	CameraID       string          `json:"camera_id,omitempty"`
	SightingID     string          `json:"sighting_id,omitempty"`
	TriggerData    json.RawMessage `json:"trigger_data,omitempty"`
	Status         AlertStatus     `json:"status"`
	Priority       int             `json:"priority"`
	AcknowledgedBy string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	EscalatedAt    *time.Time      `json:"escalated_at,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	// Version increments on every stored update.
	Version int64 `json:"version"`
}

// Clone returns a deep copy of the alert.
func (a *Alert) Clone() *Alert {
	c := *a
	if a.TriggerData != nil {
		c.TriggerData = append(json.RawMessage(nil), a.TriggerData...)
	}
	c.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	c.ResolvedAt = cloneTime(a.ResolvedAt)
	c.EscalatedAt = cloneTime(a.EscalatedAt)
	return &c
}

// AgeMinutes returns whole minutes elapsed since creation.
func (a *Alert) AgeMinutes(now time.Time) int {
	return int(now.Sub(a.CreatedAt) / time.Minute)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AlertFilter selects alerts for listing.
type AlertFilter struct {
	Status    AlertStatus
	RuleID    string
	SubjectID string
	CameraID  string
	Offset    int
	Limit     int
}

// AlertStats summarises alerts for dashboards.
type AlertStats struct {
	Total      int            `json:"total"`
	Open       int            `json:"open"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[int]int    `json:"by_priority"`
	ByRuleType map[string]int `json:"by_rule_type"`
}

package models

import (
	"math"
	"time"
)

// Suppression key prefixes used for cooldown bookkeeping.
const (
	suppressSubject = "subject:"
	suppressCamera  = "camera:"
	SuppressGlobal  = "global"
)

// TriggerContext is the fact-set of one detection event used for rule
// evaluation. Subject and camera fields are empty when unknown.
type TriggerContext struct {
	SubjectID   string    `json:"subject_id,omitempty"`
	SubjectType string    `json:"subject_type,omitempty"`
	CameraID    string    `json:"camera_id,omitempty"`
	SightingID  string    `json:"sighting_id,omitempty"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// HasSubject reports whether the detection was matched to a known subject.
func (tc TriggerContext) HasSubject() bool { return tc.SubjectID != "" }

// HasCamera reports whether the detection carries a camera id.
func (tc TriggerContext) HasCamera() bool { return tc.CameraID != "" }

// Valid reports whether the context can be evaluated. Malformed contexts
// never match any rule.
func (tc TriggerContext) Valid() bool {
	if math.IsNaN(tc.Confidence) || tc.Confidence < 0 || tc.Confidence > 1 {
		return false
	}
	return true
}

// SuppressionKey returns the cooldown granularity for this context: the
// subject when known, else the camera, else a global key.
func (tc TriggerContext) SuppressionKey() string {
	switch {
	case tc.SubjectID != "":
		return suppressSubject + tc.SubjectID
	case tc.CameraID != "":
		return suppressCamera + tc.CameraID
	default:
		return SuppressGlobal
	}
}

// Detection is the inbound event produced by the recognition collaborator.
type Detection struct {
	SightingID   string    `json:"sighting_id,omitempty"`
	SubjectID    string    `json:"subject_id,omitempty"`
	SubjectType  string    `json:"subject_type,omitempty"`
	SubjectLabel string    `json:"subject_label,omitempty"`
	CameraID     string    `json:"camera_id,omitempty"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
	BoundingBox  []float64 `json:"bbox,omitempty"`
}

// Context projects the detection onto the fields used by rule evaluation.
func (d *Detection) Context() TriggerContext {
	return TriggerContext{
		SubjectID:   d.SubjectID,
		SubjectType: d.SubjectType,
		CameraID:    d.CameraID,
		SightingID:  d.SightingID,
		Confidence:  d.Confidence,
		Timestamp:   d.Timestamp,
	}
}

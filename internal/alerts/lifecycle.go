// Package alerts raises alerts from detections and drives them through
// their lifecycle.
package alerts

import (
	"strings"
	"time"

	"github.com/good-yellow-bee/sentinel/internal/errs"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

var transitions = map[models.AlertStatus][]models.AlertStatus{
	models.AlertStatusOpen: {
		models.AlertStatusAcknowledged,
		models.AlertStatusResolved,
		models.AlertStatusFalsePositive,
		models.AlertStatusEscalated,
	},
	models.AlertStatusAcknowledged: {
		models.AlertStatusResolved,
		models.AlertStatusFalsePositive,
		models.AlertStatusEscalated,
	},
	models.AlertStatusEscalated: {
		models.AlertStatusFalsePositive,
	},
}

// CanTransition reports whether an alert in from may move to to.
func CanTransition(from, to models.AlertStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func check(a *models.Alert, to models.AlertStatus) error {
	if !CanTransition(a.Status, to) {
		return &errs.ConflictError{AlertID: a.ID, From: string(a.Status), To: string(to)}
	}
	return nil
}

// Acknowledge marks a as acknowledged by actor.
func Acknowledge(a *models.Alert, actor, note string, now time.Time) error {
	if actor == "" {
		return errs.Validation("acknowledged_by", "actor is required")
	}
	if err := check(a, models.AlertStatusAcknowledged); err != nil {
		return err
	}
	a.Status = models.AlertStatusAcknowledged
	a.AcknowledgedBy = actor
	a.AcknowledgedAt = &now
	appendNote(a, note, now)
	return nil
}

// Resolve closes a as handled.
func Resolve(a *models.Alert, note string, now time.Time) error {
	if err := check(a, models.AlertStatusResolved); err != nil {
		return err
	}
	a.Status = models.AlertStatusResolved
	a.ResolvedAt = &now
	appendNote(a, note, now)
	return nil
}

// MarkFalsePositive closes a as a false alarm. ResolvedAt records the
// closure time.
func MarkFalsePositive(a *models.Alert, note string, now time.Time) error {
	if err := check(a, models.AlertStatusFalsePositive); err != nil {
		return err
	}
	a.Status = models.AlertStatusFalsePositive
	a.ResolvedAt = &now
	appendNote(a, note, now)
	return nil
}

// Escalate hands a to a higher tier. Priority is left unchanged.
func Escalate(a *models.Alert, note string, now time.Time) error {
	if err := check(a, models.AlertStatusEscalated); err != nil {
		return err
	}
	a.Status = models.AlertStatusEscalated
	a.EscalatedAt = &now
	appendNote(a, note, now)
	return nil
}

// AddNote appends a note without changing state. It is allowed in every
// state, terminal ones included.
func AddNote(a *models.Alert, note string, now time.Time) error {
	if strings.TrimSpace(note) == "" {
		return errs.Validation("notes", "note is required")
	}
	appendNote(a, note, now)
	return nil
}

func appendNote(a *models.Alert, note string, now time.Time) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	line := "[" + now.UTC().Format(time.RFC3339) + "] " + note
	if a.Notes == "" {
		a.Notes = line
		return
	}
	a.Notes += "\n" + line
}

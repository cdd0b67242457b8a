package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/good-yellow-bee/sentinel/internal/errs"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

const alertColumns = `id, rule_id, rule_name, rule_type, subject_id, camera_id, sighting_id,
	trigger_data, status, priority, acknowledged_by, acknowledged_at, resolved_at,
	escalated_at, notes, created_at, version`

type sqlAlertRepo struct {
	q *querier
}

func (r *sqlAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.exec(ctx, query,
		alert.ID, nullString(alert.RuleID), nullString(alert.RuleName), nullString(string(alert.RuleType)),
		nullString(alert.SubjectID), nullString(alert.CameraID), nullString(alert.SightingID),
		nullString(string(alert.TriggerData)), string(alert.Status), alert.Priority,
		nullString(alert.AcknowledgedBy), nullTime(alert.AcknowledgedAt), nullTime(alert.ResolvedAt),
		nullTime(alert.EscalatedAt), nullString(alert.Notes), alert.CreatedAt.UTC(), alert.Version,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqlAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`
	alert, err := scanAlert(r.q.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("alert", id)
	}
	return alert, err
}

func (r *sqlAlertRepo) UpdateLifecycle(ctx context.Context, alert *models.Alert, expected models.AlertStatus) error {
	query := `
		UPDATE alerts SET status = ?, acknowledged_by = ?, acknowledged_at = ?,
			resolved_at = ?, escalated_at = ?, notes = ?, version = version + 1
		WHERE id = ? AND status = ? AND version = ?
	`
	result, err := r.q.exec(ctx, query,
		string(alert.Status), nullString(alert.AcknowledgedBy), nullTime(alert.AcknowledgedAt),
		nullTime(alert.ResolvedAt), nullTime(alert.EscalatedAt), nullString(alert.Notes),
		alert.ID, string(expected), alert.Version,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 1 {
		alert.Version++
		return nil
	}

	// Distinguish a missing alert from a concurrent transition.
	var status string
	err = r.q.queryRow(ctx, "SELECT status FROM alerts WHERE id = ?", alert.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound("alert", alert.ID)
	}
	if err != nil {
		return fmt.Errorf("read alert status: %w", err)
	}
	return &errs.ConflictError{AlertID: alert.ID, From: status, To: string(alert.Status)}
}

func (r *sqlAlertRepo) List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, int64, error) {
	where := ` WHERE 1=1`
	var args []any
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.RuleID != "" {
		where += ` AND rule_id = ?`
		args = append(args, filter.RuleID)
	}
	if filter.SubjectID != "" {
		where += ` AND subject_id = ?`
		args = append(args, filter.SubjectID)
	}
	if filter.CameraID != "" {
		where += ` AND camera_id = ?`
		args = append(args, filter.CameraID)
	}

	var total int64
	if err := r.q.queryRow(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts` + where +
		` ORDER BY priority DESC, created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, total, nil
}

func (r *sqlAlertRepo) Stats(ctx context.Context) (*models.AlertStats, error) {
	stats := &models.AlertStats{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[int]int),
		ByRuleType: make(map[string]int),
	}

	if err := r.groupCount(ctx, "status", func(key string, n int) {
		stats.ByStatus[key] = n
		stats.Total += n
	}); err != nil {
		return nil, err
	}
	stats.Open = stats.ByStatus[string(models.AlertStatusOpen)]

	if err := r.groupCount(ctx, "priority", func(key string, n int) {
		p, _ := strconv.Atoi(key)
		stats.ByPriority[p] = n
	}); err != nil {
		return nil, err
	}

	if err := r.groupCount(ctx, "rule_type", func(key string, n int) {
		if key == "" {
			key = "unknown"
		}
		stats.ByRuleType[key] += n
	}); err != nil {
		return nil, err
	}

	return stats, nil
}

// groupCount runs a COUNT(*) GROUP BY over column. column is always a
// constant from this file.
func (r *sqlAlertRepo) groupCount(ctx context.Context, column string, fn func(key string, n int)) error {
	rows, err := r.q.query(ctx,
		`SELECT COALESCE(CAST(`+column+` AS TEXT), ''), COUNT(*) FROM alerts GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("count alerts by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan alert count: %w", err)
		}
		fn(key, n)
	}
	return rows.Err()
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		alert          models.Alert
		ruleID         sql.NullString
		ruleName       sql.NullString
		ruleType       sql.NullString
		subjectID      sql.NullString
		cameraID       sql.NullString
		sightingID     sql.NullString
		triggerData    sql.NullString
		status         string
		acknowledgedBy sql.NullString
		acknowledgedAt sql.NullTime
		resolvedAt     sql.NullTime
		escalatedAt    sql.NullTime
		notes          sql.NullString
	)
	err := row.Scan(
		&alert.ID, &ruleID, &ruleName, &ruleType, &subjectID, &cameraID, &sightingID,
		&triggerData, &status, &alert.Priority, &acknowledgedBy, &acknowledgedAt, &resolvedAt,
		&escalatedAt, &notes, &alert.CreatedAt, &alert.Version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.RuleID = ruleID.String
	alert.RuleName = ruleName.String
	alert.RuleType = models.RuleType(ruleType.String)
	alert.SubjectID = subjectID.String
	alert.CameraID = cameraID.String
	alert.SightingID = sightingID.String
	if triggerData.Valid && triggerData.String != "" {
		alert.TriggerData = []byte(triggerData.String)
	}
	alert.Status = models.AlertStatus(status)
	alert.AcknowledgedBy = acknowledgedBy.String
	alert.AcknowledgedAt = timePtr(acknowledgedAt)
	alert.ResolvedAt = timePtr(resolvedAt)
	alert.EscalatedAt = timePtr(escalatedAt)
	alert.Notes = notes.String
	alert.CreatedAt = alert.CreatedAt.UTC()
	return &alert, nil
}

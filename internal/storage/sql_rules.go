package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/good-yellow-bee/sentinel/internal/errs"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

const ruleColumns = `id, name, description, rule_type, conditions_json, actions_json,
	is_active, priority, cooldown_seconds, created_by, created_at, updated_at`

type sqlRuleRepo struct {
	q *querier
}

func (r *sqlRuleRepo) Create(ctx context.Context, rule *models.Rule) error {
	condJSON, actJSON, err := marshalRuleParts(rule)
	if err != nil {
		return err
	}

	query := `INSERT INTO rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.q.exec(ctx, query,
		rule.ID, rule.Name, nullString(rule.Description), string(rule.Type), condJSON, actJSON,
		boolToInt(rule.IsActive), rule.Priority, rule.CooldownSeconds, nullString(rule.CreatedBy),
		rule.CreatedAt.UTC(), rule.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (r *sqlRuleRepo) GetByID(ctx context.Context, id string) (*models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`
	rule, err := scanRule(r.q.queryRow(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("rule", id)
	}
	return rule, err
}

func (r *sqlRuleRepo) Update(ctx context.Context, rule *models.Rule) error {
	condJSON, actJSON, err := marshalRuleParts(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE rules SET name = ?, description = ?, rule_type = ?, conditions_json = ?,
			actions_json = ?, is_active = ?, priority = ?, cooldown_seconds = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.q.exec(ctx, query,
		rule.Name, nullString(rule.Description), string(rule.Type), condJSON, actJSON,
		boolToInt(rule.IsActive), rule.Priority, rule.CooldownSeconds, rule.UpdatedAt.UTC(),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errs.NotFound("rule", rule.ID)
	}
	return nil
}

func (r *sqlRuleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.q.exec(ctx, "DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errs.NotFound("rule", id)
	}
	return nil
}

func (r *sqlRuleRepo) List(ctx context.Context, filter models.RuleFilter) ([]*models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE 1=1`
	var args []any
	if filter.ActiveOnly {
		query += ` AND is_active = 1`
	}
	if filter.Type != "" {
		query += ` AND rule_type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func marshalRuleParts(rule *models.Rule) (string, string, error) {
	condJSON, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("marshal conditions: %w", err)
	}
	actJSON, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", fmt.Errorf("marshal actions: %w", err)
	}
	return string(condJSON), string(actJSON), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*models.Rule, error) {
	var (
		rule        models.Rule
		description sql.NullString
		ruleType    string
		condJSON    string
		actJSON     string
		isActive    int
		createdBy   sql.NullString
	)
	err := row.Scan(
		&rule.ID, &rule.Name, &description, &ruleType, &condJSON, &actJSON,
		&isActive, &rule.Priority, &rule.CooldownSeconds, &createdBy,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan rule: %w", err)
	}

	rule.Description = description.String
	rule.Type = models.RuleType(ruleType)
	rule.IsActive = isActive == 1
	rule.CreatedBy = createdBy.String
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()

	if err := json.Unmarshal([]byte(condJSON), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal conditions of rule %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actJSON), &rule.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions of rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}

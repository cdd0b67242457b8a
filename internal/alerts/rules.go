package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/sentinel/internal/alerting"
	"github.com/good-yellow-bee/sentinel/internal/models"
)

// CreateRule validates and stores a new rule, then reloads the rule set.
func (s *Service) CreateRule(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	r := rule.Clone()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	now := s.now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	if _, err := alerting.Compile(r); err != nil {
		return nil, err
	}
	if err := s.store.Rules().Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	s.logger.Info("rule created", zap.String("rule_id", r.ID), zap.String("name", r.Name))

	s.reloadAfterWrite(ctx)
	return r, nil
}

// UpdateRule replaces a stored rule. Creation metadata is preserved.
func (s *Service) UpdateRule(ctx context.Context, rule *models.Rule) (*models.Rule, error) {
	existing, err := s.store.Rules().GetByID(ctx, rule.ID)
	if err != nil {
		return nil, err
	}

	r := rule.Clone()
	r.CreatedAt = existing.CreatedAt
	r.CreatedBy = existing.CreatedBy
	r.UpdatedAt = s.now().UTC()

	if _, err := alerting.Compile(r); err != nil {
		return nil, err
	}
	if err := s.store.Rules().Update(ctx, r); err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}
	s.logger.Info("rule updated", zap.String("rule_id", r.ID))

	s.reloadAfterWrite(ctx)
	return r, nil
}

// DeleteRule removes a rule. Alerts raised by it are kept.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	if err := s.store.Rules().Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("rule deleted", zap.String("rule_id", id))

	s.reloadAfterWrite(ctx)
	return nil
}

// GetRule returns one stored rule.
func (s *Service) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	return s.store.Rules().GetByID(ctx, id)
}

// ListRules returns stored rules.
func (s *Service) ListRules(ctx context.Context, filter models.RuleFilter) ([]*models.Rule, error) {
	return s.store.Rules().List(ctx, filter)
}

// ReloadRules replaces the store source of the rule set with the rules
// currently persisted.
func (s *Service) ReloadRules(ctx context.Context) error {
	rules, err := s.store.Rules().List(ctx, models.RuleFilter{})
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	if skipped := s.rules.Replace(alerting.SourceStore, rules); skipped > 0 {
		s.logger.Warn("skipped invalid stored rules", zap.Int("count", skipped))
	}
	return nil
}

func (s *Service) reloadAfterWrite(ctx context.Context) {
	if err := s.ReloadRules(ctx); err != nil {
		s.logger.Error("reload rules after write", zap.Error(err))
	}
}

// Run reloads stored rules periodically until ctx is cancelled, picking
// up edits made by other processes.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ReloadRules(ctx); err != nil {
		s.logger.Error("initial rule load failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.ReloadRules(ctx); err != nil {
				s.logger.Warn("rule refresh failed", zap.Error(err))
			}
		}
	}
}

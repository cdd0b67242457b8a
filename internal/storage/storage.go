// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"

	"github.com/good-yellow-bee/sentinel/internal/models"
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error
	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Repository accessors
	Rules() RuleRepository
	Alerts() AlertRepository
}

// RuleRepository defines operations for alert rule management.
type RuleRepository interface {
	Create(ctx context.Context, rule *models.Rule) error
	GetByID(ctx context.Context, id string) (*models.Rule, error)
	Update(ctx context.Context, rule *models.Rule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.RuleFilter) ([]*models.Rule, error)
}

// AlertRepository defines operations for raised alerts. Alerts are never
// deleted through this interface.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	// UpdateLifecycle persists the lifecycle fields of alert only if the
	// stored status still equals expected and the stored version equals
	// alert.Version. On success alert.Version is incremented. It returns
	// errs.ErrConflict when the row moved underneath the caller.
	UpdateLifecycle(ctx context.Context, alert *models.Alert, expected models.AlertStatus) error
	// List returns alerts ordered by priority desc, then creation time desc,
	// together with the total count matching filter.
	List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, int64, error)
	Stats(ctx context.Context) (*models.AlertStats, error)
}

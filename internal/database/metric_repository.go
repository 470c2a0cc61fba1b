package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/coursecheck/internal/domain"
)

// MetricRepository handles database operations for metric configurations.
type MetricRepository struct {
	db *sqlx.DB
}

// NewMetricRepository creates a new metric repository.
func NewMetricRepository(db *sqlx.DB) *MetricRepository {
	return &MetricRepository{db: db}
}

// GetConfiguration retrieves a metric configuration by its ID.
func (r *MetricRepository) GetConfiguration(ctx context.Context, id string) (*domain.MetricConfiguration, error) {
	var cfg domain.MetricConfiguration
	query := `SELECT id, name, created_at, updated_at FROM metric_configurations WHERE id = $1`

	err := r.db.GetContext(ctx, &cfg, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("metric configuration %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get metric configuration: %w", err)
	}

	return &cfg, nil
}

// ListActiveMetrics retrieves a configuration's active metrics in display order.
func (r *MetricRepository) ListActiveMetrics(ctx context.Context, configID string) ([]domain.Metric, error) {
	var metrics []domain.Metric
	query := `
		SELECT id, configuration_id, name, prompt_text, display_order, is_active
		FROM metric_items
		WHERE configuration_id = $1 AND is_active = TRUE
		ORDER BY display_order ASC
	`

	err := r.db.SelectContext(ctx, &metrics, query, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}

	if metrics == nil {
		metrics = []domain.Metric{}
	}

	return metrics, nil
}

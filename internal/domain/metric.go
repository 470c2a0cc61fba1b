package domain

import "time"

// Standard metric names used when a run is in fixed metrics mode.
// Each has a built-in prompt; any other name carries its own prompt text.
const (
	MetricClarity      = "clarity"
	MetricAccuracy     = "accuracy"
	MetricEngagement   = "engagement"
	MetricStructure    = "structure"
	MetricCompleteness = "completeness"
)

// StandardMetrics returns the built-in metric set in display order.
func StandardMetrics() []Metric {
	names := []string{
		MetricClarity,
		MetricAccuracy,
		MetricEngagement,
		MetricStructure,
		MetricCompleteness,
	}
	metrics := make([]Metric, len(names))
	for i, name := range names {
		metrics[i] = Metric{Name: name, DisplayOrder: i, IsActive: true}
	}
	return metrics
}

// MetricConfiguration is a named, ordered set of user-defined metrics.
type MetricConfiguration struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Metric is one scoring dimension evaluated independently per lesson.
type Metric struct {
	ID              string `db:"id" json:"id"`
	ConfigurationID string `db:"configuration_id" json:"configuration_id"`
	Name            string `db:"name" json:"name"`
	PromptText      string `db:"prompt_text" json:"prompt_text"`
	DisplayOrder    int    `db:"display_order" json:"display_order"`
	IsActive        bool   `db:"is_active" json:"is_active"`
}

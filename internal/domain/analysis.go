package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// AnalysisStatus represents the aggregate outcome of one analysis.
type AnalysisStatus string

const (
	// AnalysisStatusRunning means metric evaluations are still in flight.
	AnalysisStatusRunning AnalysisStatus = "running"
	// AnalysisStatusCompleted means every metric succeeded.
	AnalysisStatusCompleted AnalysisStatus = "completed"
	// AnalysisStatusPartial means some metrics succeeded and some failed.
	AnalysisStatusPartial AnalysisStatus = "partial"
	// AnalysisStatusFailed means no metric succeeded.
	AnalysisStatusFailed AnalysisStatus = "failed"
)

// MetricResult is the scored outcome of one metric for one lesson.
type MetricResult struct {
	Score            int      `json:"score"`
	Comment          string   `json:"comment"`
	Examples         []string `json:"examples,omitempty"`
	DetailedAnalysis string   `json:"detailed_analysis,omitempty"`
}

// ResultsMap maps metric name to its result. Stored as JSONB.
type ResultsMap map[string]MetricResult

// Scan implements the sql.Scanner interface.
func (m *ResultsMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("unsupported type for ResultsMap")
	}

	if len(data) == 0 {
		*m = ResultsMap{}
		return nil
	}

	return json.Unmarshal(data, m)
}

// Value implements the driver.Valuer interface.
func (m ResultsMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// AnalysisRecord is the persisted outcome of analyzing one piece of content.
// It is created in running state and finalized exactly once.
type AnalysisRecord struct {
	ID                    string         `db:"id" json:"id"`
	LessonID              *string        `db:"lesson_id" json:"lesson_id,omitempty"`
	Content               string         `db:"content" json:"-"`
	Status                AnalysisStatus `db:"status" json:"status"`
	Title                 string         `db:"title" json:"title"`
	Results               ResultsMap     `db:"results" json:"results"`
	ModelUsed             string         `db:"model_used" json:"model_used"`
	ContentHash           string         `db:"content_hash" json:"content_hash"`
	UserID                *string        `db:"user_id" json:"user_id,omitempty"`
	SessionID             *string        `db:"session_id" json:"session_id,omitempty"`
	ConfigurationSnapshot JSONBMap       `db:"configuration_snapshot" json:"configuration_snapshot"`
	CreatedAt             time.Time      `db:"created_at" json:"created_at"`
	CompletedAt           *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// LLMCall is one audit record of a provider request made during an analysis.
type LLMCall struct {
	ID          string    `db:"id" json:"id"`
	AnalysisID  string    `db:"analysis_id" json:"analysis_id"`
	Metric      string    `db:"metric" json:"metric"`
	Provider    string    `db:"provider" json:"provider"`
	Model       string    `db:"model" json:"model"`
	DurationMs  int64     `db:"duration_ms" json:"duration_ms"`
	PromptChars int       `db:"prompt_chars" json:"prompt_chars"`
	Success     bool      `db:"success" json:"success"`
	Error       *string   `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

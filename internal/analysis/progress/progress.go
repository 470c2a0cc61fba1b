// Package progress tracks per-metric completion for in-flight analyses.
// The store is per-process and in-memory only: it exists for UI polling,
// is discarded when an analysis finishes, and does not survive a restart.
// Losing it mid-analysis is an accepted limitation, not an error condition.
package progress

import "sync"

// MetricStatus is the lifecycle of one metric evaluation.
type MetricStatus string

const (
	StatusPending    MetricStatus = "pending"
	StatusProcessing MetricStatus = "processing"
	StatusCompleted  MetricStatus = "completed"
	StatusFailed     MetricStatus = "failed"
)

// MetricProgress is one metric's current state, with progress 0-100.
type MetricProgress struct {
	Status   MetricStatus `json:"status"`
	Progress int          `json:"progress"`
}

// Store is a mutex-guarded map of analysis id to per-metric progress.
type Store struct {
	mu       sync.RWMutex
	analyses map[string]map[string]MetricProgress
}

// NewStore creates an empty progress store.
func NewStore() *Store {
	return &Store{analyses: make(map[string]map[string]MetricProgress)}
}

// Begin registers an analysis with every metric at pending/0.
func (s *Store) Begin(analysisID string, metricNames []string) {
	entries := make(map[string]MetricProgress, len(metricNames))
	for _, name := range metricNames {
		entries[name] = MetricProgress{Status: StatusPending}
	}

	s.mu.Lock()
	s.analyses[analysisID] = entries
	s.mu.Unlock()
}

// Set updates one metric's status and progress. Unknown analyses or
// metrics are ignored; the caller may have already discarded the entry.
func (s *Store) Set(analysisID, metric string, status MetricStatus, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.analyses[analysisID]
	if !ok {
		return
	}
	if _, ok := entries[metric]; !ok {
		return
	}
	entries[metric] = MetricProgress{Status: status, Progress: pct}
}

// Advance raises one metric's progress without changing its status,
// never past the given ceiling. Used for interim ticks while a provider
// call is outstanding.
func (s *Store) Advance(analysisID, metric string, step, ceiling int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.analyses[analysisID]
	if !ok {
		return
	}
	entry, ok := entries[metric]
	if !ok || entry.Status != StatusProcessing {
		return
	}

	entry.Progress += step
	if entry.Progress > ceiling {
		entry.Progress = ceiling
	}
	entries[metric] = entry
}

// Snapshot returns a copy of an analysis's per-metric progress.
func (s *Store) Snapshot(analysisID string) (map[string]MetricProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.analyses[analysisID]
	if !ok {
		return nil, false
	}

	out := make(map[string]MetricProgress, len(entries))
	for name, entry := range entries {
		out[name] = entry
	}
	return out, true
}

// Discard drops an analysis's progress entries.
func (s *Store) Discard(analysisID string) {
	s.mu.Lock()
	delete(s.analyses, analysisID)
	s.mu.Unlock()
}

package progress_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/coursecheck/internal/analysis/progress"
)

func TestStore_BeginAndSnapshot(t *testing.T) {
	store := progress.NewStore()
	store.Begin("a1", []string{"clarity", "accuracy"})

	snap, ok := store.Snapshot("a1")
	require.True(t, ok)
	assert.Len(t, snap, 2)
	assert.Equal(t, progress.MetricProgress{Status: progress.StatusPending}, snap["clarity"])

	_, ok = store.Snapshot("missing")
	assert.False(t, ok)
}

func TestStore_SetClampsBounds(t *testing.T) {
	store := progress.NewStore()
	store.Begin("a1", []string{"clarity"})

	store.Set("a1", "clarity", progress.StatusProcessing, 150)
	snap, _ := store.Snapshot("a1")
	assert.Equal(t, 100, snap["clarity"].Progress)

	store.Set("a1", "clarity", progress.StatusFailed, -5)
	snap, _ = store.Snapshot("a1")
	assert.Equal(t, 0, snap["clarity"].Progress)
	assert.Equal(t, progress.StatusFailed, snap["clarity"].Status)
}

func TestStore_SetIgnoresUnknownEntries(t *testing.T) {
	store := progress.NewStore()
	store.Begin("a1", []string{"clarity"})

	store.Set("a1", "unregistered", progress.StatusCompleted, 100)
	store.Set("gone", "clarity", progress.StatusCompleted, 100)

	snap, _ := store.Snapshot("a1")
	assert.Equal(t, progress.StatusPending, snap["clarity"].Status)
}

func TestStore_AdvanceRespectsCeiling(t *testing.T) {
	store := progress.NewStore()
	store.Begin("a1", []string{"clarity"})
	store.Set("a1", "clarity", progress.StatusProcessing, 5)

	for i := 0; i < 20; i++ {
		store.Advance("a1", "clarity", 10, 90)
	}

	snap, _ := store.Snapshot("a1")
	assert.Equal(t, 90, snap["clarity"].Progress)
	assert.Equal(t, progress.StatusProcessing, snap["clarity"].Status)
}

func TestStore_AdvanceOnlyWhileProcessing(t *testing.T) {
	store := progress.NewStore()
	store.Begin("a1", []string{"clarity"})

	// Pending metrics do not tick.
	store.Advance("a1", "clarity", 10, 90)
	snap, _ := store.Snapshot("a1")
	assert.Equal(t, 0, snap["clarity"].Progress)

	// Neither do finished ones.
	store.Set("a1", "clarity", progress.StatusCompleted, 100)
	store.Advance("a1", "clarity", 10, 90)
	snap, _ = store.Snapshot("a1")
	assert.Equal(t, 100, snap["clarity"].Progress)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	store := progress.NewStore()
	store.Begin("a1", []string{"clarity"})

	snap, _ := store.Snapshot("a1")
	snap["clarity"] = progress.MetricProgress{Status: progress.StatusFailed, Progress: 7}

	fresh, _ := store.Snapshot("a1")
	assert.Equal(t, progress.MetricProgress{Status: progress.StatusPending}, fresh["clarity"])
}

func TestStore_Discard(t *testing.T) {
	store := progress.NewStore()
	store.Begin("a1", []string{"clarity"})
	store.Discard("a1")

	_, ok := store.Snapshot("a1")
	assert.False(t, ok)
}

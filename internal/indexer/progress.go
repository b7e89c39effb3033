package indexer

import (
	"sync/atomic"
	"time"
)

// Stage is the indexing pipeline's current activity (spec.md §4.5 "Progress
// reporting").
type Stage string

const (
	StageIdle      Stage = "idle"
	StageScanning  Stage = "scanning"
	StageIndexing  Stage = "indexing"
	StageEmbedding Stage = "embedding"
	StageTagging   Stage = "tagging"
	StageComplete  Stage = "complete"
)

// Snapshot is the Facade-visible progress state for one job. total_discovered
// may grow during Scanning, since discovery and batch processing run
// concurrently.
type Snapshot struct {
	SourceID        string
	Stage           Stage
	Processed       int
	TotalDiscovered int
	ETASeconds      float64 // 0 when not yet estimable
	Err             string  // error that ended the last run, if any
}

// progressTracker holds an atomically-swapped Snapshot plus the throughput
// samples needed for the ETA's exponentially weighted average. Grounded on
// the teacher's preference for a single atomic checkpoint value over
// fine-grained per-field locking (spec.md §9 "avoid fine-grained locking"),
// generalized from the teacher's SQLite-persisted checkpoint row
// (store's StateKey* pattern) to an in-memory, copy-on-read pointer — a
// progress snapshot does not need to survive a restart the way an
// embedding-resume checkpoint does.
type progressTracker struct {
	snapshot atomic.Pointer[Snapshot]

	// EWMA throughput state, touched only from the single pipeline
	// goroutine driving a job, so it needs no lock of its own.
	lastSampleAt time.Time
	ewmaRate     float64 // records/sec
}

// ewmaAlpha is the weight given to the newest sample. One sample is taken
// per advance call (one per batch), not per fixed time window.
const ewmaAlpha = 0.3

func newProgressTracker(sourceID string) *progressTracker {
	t := &progressTracker{}
	t.snapshot.Store(&Snapshot{SourceID: sourceID, Stage: StageIdle})
	return t
}

// current returns the latest snapshot. Safe for concurrent callers.
func (t *progressTracker) current() Snapshot {
	return *t.snapshot.Load()
}

// setStage updates the stage, leaving counters untouched.
func (t *progressTracker) setStage(stage Stage) {
	prev := t.current()
	prev.Stage = stage
	t.snapshot.Store(&prev)
}

// setTotalDiscovered records discovery's running count as it grows.
func (t *progressTracker) setTotalDiscovered(n int) {
	prev := t.current()
	prev.TotalDiscovered = n
	t.snapshot.Store(&prev)
}

// advance records that delta more records finished processing, updates the
// EWMA throughput estimate, and recomputes ETA.
func (t *progressTracker) advance(delta int) {
	now := time.Now()
	prev := t.current()
	prev.Processed += delta

	if !t.lastSampleAt.IsZero() {
		elapsed := now.Sub(t.lastSampleAt).Seconds()
		if elapsed > 0 {
			instantRate := float64(delta) / elapsed
			if t.ewmaRate == 0 {
				t.ewmaRate = instantRate
			} else {
				t.ewmaRate = ewmaAlpha*instantRate + (1-ewmaAlpha)*t.ewmaRate
			}
		}
	}
	t.lastSampleAt = now

	if t.ewmaRate > 0 && prev.TotalDiscovered > prev.Processed {
		remaining := prev.TotalDiscovered - prev.Processed
		prev.ETASeconds = float64(remaining) / t.ewmaRate
	} else {
		prev.ETASeconds = 0
	}

	t.snapshot.Store(&prev)
}

// setError records err in the snapshot. The pipeline calls it with the
// error that ends a run, just before Run returns that error.
func (t *progressTracker) setError(err error) {
	prev := t.current()
	if err != nil {
		prev.Err = err.Error()
	}
	t.snapshot.Store(&prev)
}

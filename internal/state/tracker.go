// Package state manages the cross-invocation processing snapshot and the
// cumulative per-source counters that survive across runs.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openshelf/bibcat/internal/model"
)

// Backend is the slice of the store the tracker persists through.
type Backend interface {
	LoadProcessingState(ctx context.Context) (*model.ProcessingState, error)
	SaveProcessingState(ctx context.Context, state *model.ProcessingState) error
	LoadCumulativeState(ctx context.Context) (*model.CumulativeState, error)
	SaveCumulativeState(ctx context.Context, state *model.CumulativeState) error
}

// Tracker owns the processing state for one run. All mutations go through
// its mutex and are persisted before the method returns, so a kill between
// items loses at most the item in flight.
type Tracker struct {
	mu      sync.Mutex
	backend Backend
	state   *model.ProcessingState

	// Per-run deltas, accumulated into the cumulative state at FinishRun.
	runSourceCounts map[model.Source]int
	runCompleted    int
}

// NewTracker creates a tracker over the given backend.
func NewTracker(backend Backend) *Tracker {
	return &Tracker{
		backend:         backend,
		runSourceCounts: make(map[model.Source]int),
	}
}

// Begin loads the persisted snapshot (or initializes one), bumps the run
// counter, and persists. A corrupt snapshot is fatal: resuming from a
// half-readable state risks double-processing, so the error propagates
// unwrapped for the caller to refuse startup on.
func (t *Tracker) Begin(ctx context.Context, totalItems int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, err := t.backend.LoadProcessingState(ctx)
	if err != nil {
		return err
	}
	if st == nil {
		st = model.NewProcessingState(totalItems)
	}
	if st.PerSourceCounts == nil {
		st.PerSourceCounts = make(map[model.Source]int)
	}
	if totalItems > st.TotalItems {
		st.TotalItems = totalItems
	}
	st.RunCount++
	t.state = st

	zap.L().Info("processing state loaded",
		zap.Int("run", st.RunCount),
		zap.Int("total_items", st.TotalItems),
		zap.Int("completed", len(st.CompletedItemIDs)),
		zap.Int("failed", len(st.FailedItemIDs)),
	)
	return t.persistLocked(ctx)
}

// Completed reports whether the item finished in a previous run (or earlier
// in this one).
func (t *Tracker) Completed(itemID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Completed(itemID)
}

// MarkCompleted records a finished item and the sources that contributed
// facts to it, then persists. Marking an already-completed item again is a
// no-op so reruns cannot inflate counters.
func (t *Tracker) MarkCompleted(ctx context.Context, itemID string, sources []model.Source) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Completed(itemID) {
		return nil
	}
	t.state.CompletedItemIDs = append(t.state.CompletedItemIDs, itemID)
	t.state.FailedItemIDs = removeID(t.state.FailedItemIDs, itemID)
	t.state.LastItemID = itemID
	t.runCompleted++
	for _, s := range sources {
		t.state.PerSourceCounts[s]++
		t.runSourceCounts[s]++
	}
	return t.persistLocked(ctx)
}

// MarkFailed records an item that could not be completed this run.
func (t *Tracker) MarkFailed(ctx context.Context, itemID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Completed(itemID) || containsID(t.state.FailedItemIDs, itemID) {
		return nil
	}
	t.state.FailedItemIDs = append(t.state.FailedItemIDs, itemID)
	t.state.LastItemID = itemID
	return t.persistLocked(ctx)
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() model.ProcessingState {
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := *t.state
	cp.CompletedItemIDs = append([]string(nil), t.state.CompletedItemIDs...)
	cp.FailedItemIDs = append([]string(nil), t.state.FailedItemIDs...)
	cp.PerSourceCounts = make(map[model.Source]int, len(t.state.PerSourceCounts))
	for k, v := range t.state.PerSourceCounts {
		cp.PerSourceCounts[k] = v
	}
	return cp
}

// FinishRun folds this run's deltas into the cumulative state. Counts only
// ever accumulate positive deltas, the processed total is monotonic, and
// the no-enrichment count is derived from totals so reprocessing an item
// cannot drift it.
func (t *Tracker) FinishRun(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cum, err := t.backend.LoadCumulativeState(ctx)
	if err != nil {
		return err
	}
	if cum == nil {
		cum = model.NewCumulativeState(t.state.TotalItems)
	}
	if cum.SourceCounts == nil {
		cum.SourceCounts = make(map[model.Source]int)
	}

	for source, delta := range t.runSourceCounts {
		if delta > 0 {
			cum.SourceCounts[source] += delta
		}
	}
	if processed := len(t.state.CompletedItemIDs); processed > cum.TotalItemsProcessed {
		cum.TotalItemsProcessed = processed
	}
	cum.RunsCompleted++
	cum.NoEnrichment = t.state.TotalItems - cum.TotalItemsProcessed
	if cum.NoEnrichment < 0 {
		cum.NoEnrichment = 0
	}
	if t.state.TotalItems > 0 {
		cum.OverallPercentage = float64(cum.TotalItemsProcessed) / float64(t.state.TotalItems) * 100
	}
	cum.UpdatedAt = time.Now().UTC()

	if err := t.backend.SaveCumulativeState(ctx, cum); err != nil {
		return eris.Wrap(err, "save cumulative state")
	}

	zap.L().Info("run finished",
		zap.Int("run", t.state.RunCount),
		zap.Int("completed_this_run", t.runCompleted),
		zap.Int("completed_total", len(t.state.CompletedItemIDs)),
		zap.Float64("overall_pct", cum.OverallPercentage),
	)
	return nil
}

func (t *Tracker) persistLocked(ctx context.Context) error {
	if t.state.TotalItems > 0 {
		t.state.OverallPercentage = float64(len(t.state.CompletedItemIDs)) / float64(t.state.TotalItems) * 100
	}
	t.state.UpdatedAt = time.Now().UTC()
	t.state.Normalize()
	if err := t.backend.SaveProcessingState(ctx, t.state); err != nil {
		return eris.Wrap(err, "save processing state")
	}
	return nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

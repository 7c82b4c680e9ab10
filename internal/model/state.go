package model

import (
	"sort"
	"time"
)

// ProcessingState is the single cross-invocation progress snapshot for the
// batch driver. It is persisted after every completed item and re-read at
// startup; an item appears in CompletedItemIDs only after its canonical
// record has been written, so interrupting a run never leaves a half-done
// item marked complete.
type ProcessingState struct {
	TotalItems        int            `json:"total_items"`
	CompletedItemIDs  []string       `json:"completed_item_ids"`
	PerSourceCounts   map[Source]int `json:"per_source_counts"`
	FailedItemIDs     []string       `json:"failed_item_ids"`
	LastItemID        string         `json:"last_item_id"`
	RunCount          int            `json:"run_count"`
	OverallPercentage float64        `json:"overall_percentage"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewProcessingState returns an empty state for a batch of totalItems.
func NewProcessingState(totalItems int) *ProcessingState {
	return &ProcessingState{
		TotalItems:      totalItems,
		PerSourceCounts: make(map[Source]int),
	}
}

// Completed reports whether the item has already been fully processed.
func (s *ProcessingState) Completed(itemID string) bool {
	for _, id := range s.CompletedItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// Normalize sorts the ID slices so that two snapshots with the same logical
// content serialize identically.
func (s *ProcessingState) Normalize() {
	sort.Strings(s.CompletedItemIDs)
	sort.Strings(s.FailedItemIDs)
}

// CumulativeState aggregates per-source counts across every historical run.
// Counts only ever accumulate positive deltas; the no-enrichment count is
// derived from totals rather than summed, so reprocessing an item across
// runs cannot drift it.
type CumulativeState struct {
	TotalItemsProcessed int            `json:"total_items_processed"`
	SourceCounts        map[Source]int `json:"source_counts_cumulative"`
	NoEnrichment        int            `json:"no_enrichment"`
	RunsCompleted       int            `json:"runs_completed"`
	OverallPercentage   float64        `json:"overall_completion_percentage"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// NewCumulativeState returns an empty cumulative tracker for totalItems.
func NewCumulativeState(totalItems int) *CumulativeState {
	return &CumulativeState{
		SourceCounts: make(map[Source]int),
		NoEnrichment: totalItems,
	}
}

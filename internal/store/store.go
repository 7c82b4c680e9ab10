// Package store persists everything that must survive a process restart:
// the item set, the append-only fact history, canonical records, the lookup
// cache, the batch processing state, and the provider failure ledger.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/openshelf/bibcat/internal/model"
)

// ErrStateCorrupt is returned when a persisted processing-state snapshot
// exists but cannot be parsed. The batch driver treats it as fatal rather
// than silently resetting progress.
var ErrStateCorrupt = eris.New("processing state snapshot is corrupt")

// Store defines the persistence interface for the enrichment pipeline.
type Store interface {
	// Items
	UpsertItem(ctx context.Context, item model.Item) error
	GetItem(ctx context.Context, barcode string) (*model.Item, error)
	ListItems(ctx context.Context) ([]model.Item, error)

	// Facts (append-only; purge is maintenance only)
	InsertFacts(ctx context.Context, facts []model.Fact) error
	ListFacts(ctx context.Context, itemID string) ([]model.Fact, error)
	PurgeFacts(ctx context.Context, itemID string) (int, error)

	// Canonical records (the durable sink)
	WriteCanonicalRecord(ctx context.Context, record *model.CanonicalRecord) error
	GetCanonicalRecord(ctx context.Context, itemID string) (*model.CanonicalRecord, error)
	ListCanonicalRecords(ctx context.Context, limit, offset int) ([]model.CanonicalRecord, error)

	// Lookup cache (fingerprint -> provider payload, successes only)
	GetCacheEntry(ctx context.Context, fingerprint string) ([]byte, bool, error)
	PutCacheEntry(ctx context.Context, fingerprint string, payload []byte) error

	// Processing state (single-row snapshots)
	LoadProcessingState(ctx context.Context) (*model.ProcessingState, error)
	SaveProcessingState(ctx context.Context, state *model.ProcessingState) error
	LoadCumulativeState(ctx context.Context) (*model.CumulativeState, error)
	SaveCumulativeState(ctx context.Context, state *model.CumulativeState) error

	// Provider failures
	RecordFailure(ctx context.Context, failure model.ProviderFailure) error
	ListFailures(ctx context.Context, limit int) ([]model.ProviderFailure, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

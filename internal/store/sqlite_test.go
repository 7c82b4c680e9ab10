package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openshelf/bibcat/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Items ---

func TestSQLite_Item_UpsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	item := model.Item{
		Barcode:    "B000001",
		Title:      "The Catcher in the Rye",
		Author:     "Salinger, J. D.",
		ISBN:       "9780316769488",
		CallNumber: "PZ7.S33 Cat",
	}
	require.NoError(t, st.UpsertItem(ctx, item))

	got, err := st.GetItem(ctx, "B000001")
	require.NoError(t, err)
	assert.Equal(t, item, *got)
}

func TestSQLite_Item_UpsertOverwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertItem(ctx, model.Item{Barcode: "B000002", Title: "First"}))
	require.NoError(t, st.UpsertItem(ctx, model.Item{Barcode: "B000002", Title: "Second"}))

	got, err := st.GetItem(ctx, "B000002")
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Title)

	items, err := st.ListItems(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestSQLite_Item_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetItem(context.Background(), "B999999")
	assert.Error(t, err)
}

// --- Facts ---

func TestSQLite_Facts_InsertAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	facts := []model.Fact{
		{ItemID: "B000001", Field: model.FieldTitle, Value: "The Catcher in the Rye",
			Source: model.SourceGoogleBooks, Confidence: 0.9, Method: model.MatchExactIdentifier, ObservedAt: base},
		{ItemID: "B000001", Field: model.FieldPublisher, Value: "Little, Brown",
			Source: model.SourceOpenLibrary, Confidence: 0.7, Method: model.MatchFuzzySearch, ObservedAt: base.Add(time.Minute)},
		{ItemID: "B000009", Field: model.FieldTitle, Value: "Other Book",
			Source: model.SourceLocalMARC, Confidence: 1.0, Method: model.MatchExactIdentifier, ObservedAt: base},
	}
	require.NoError(t, st.InsertFacts(ctx, facts))

	got, err := st.ListFacts(ctx, "B000001")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.FieldTitle, got[0].Field)
	assert.Equal(t, model.SourceGoogleBooks, got[0].Source)
	assert.Equal(t, model.MatchExactIdentifier, got[0].Method)
	assert.True(t, got[0].ObservedAt.Equal(base))
	assert.Equal(t, model.FieldPublisher, got[1].Field)
}

func TestSQLite_Facts_AppendOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := model.Fact{ItemID: "B000003", Field: model.FieldISBN, Value: "9780000000001",
		Source: model.SourceGoogleBooks, Confidence: 0.9, Method: model.MatchExactIdentifier, ObservedAt: base}
	correction := first
	correction.Value = "9780000000002"
	correction.ObservedAt = base.Add(time.Hour)

	require.NoError(t, st.InsertFacts(ctx, []model.Fact{first}))
	require.NoError(t, st.InsertFacts(ctx, []model.Fact{correction}))

	got, err := st.ListFacts(ctx, "B000003")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "9780000000001", got[0].Value)
	assert.Equal(t, "9780000000002", got[1].Value)
}

func TestSQLite_Facts_Purge(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.InsertFacts(ctx, []model.Fact{
		{ItemID: "B000004", Field: model.FieldTitle, Value: "A", Source: model.SourceLocalMARC,
			Confidence: 1.0, Method: model.MatchExactIdentifier, ObservedAt: time.Now()},
		{ItemID: "B000004", Field: model.FieldAuthor, Value: "B", Source: model.SourceLocalMARC,
			Confidence: 1.0, Method: model.MatchExactIdentifier, ObservedAt: time.Now()},
	}))

	n, err := st.PurgeFacts(ctx, "B000004")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := st.ListFacts(ctx, "B000004")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Purging again is a no-op, not an error.
	n, err = st.PurgeFacts(ctx, "B000004")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// --- Canonical records ---

func TestSQLite_CanonicalRecord_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := &model.CanonicalRecord{
		ItemID: "B000005",
		Fields: map[model.FieldName]model.FieldValue{
			model.FieldTitle: {
				Value:         "Treasure Island",
				WinningSource: model.SourceLibraryOfCongress,
				Confidence:    0.95,
				Contributors:  []model.Source{model.SourceGoogleBooks, model.SourceLibraryOfCongress},
				Conflict:      true,
			},
		},
	}
	require.NoError(t, st.WriteCanonicalRecord(ctx, rec))

	got, err := st.GetCanonicalRecord(ctx, "B000005")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec, got)
}

func TestSQLite_CanonicalRecord_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetCanonicalRecord(context.Background(), "B999999")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_CanonicalRecord_OverwriteAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"B000007", "B000006"} {
		rec := &model.CanonicalRecord{
			ItemID: id,
			Fields: map[model.FieldName]model.FieldValue{
				model.FieldTitle: {Value: "v1", WinningSource: model.SourceLocalMARC, Confidence: 1.0,
					Contributors: []model.Source{model.SourceLocalMARC}},
			},
		}
		require.NoError(t, st.WriteCanonicalRecord(ctx, rec))
	}

	updated := &model.CanonicalRecord{
		ItemID: "B000006",
		Fields: map[model.FieldName]model.FieldValue{
			model.FieldTitle: {Value: "v2", WinningSource: model.SourceGoogleBooks, Confidence: 0.9,
				Contributors: []model.Source{model.SourceGoogleBooks}},
		},
	}
	require.NoError(t, st.WriteCanonicalRecord(ctx, updated))

	records, err := st.ListCanonicalRecords(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "B000006", records[0].ItemID)
	assert.Equal(t, "v2", records[0].Fields[model.FieldTitle].Value)
	assert.Equal(t, "B000007", records[1].ItemID)
}

// --- Cache entries ---

func TestSQLite_Cache_PutAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutCacheEntry(ctx, "fp-abc", []byte(`{"items":[]}`)))

	payload, ok, err := st.GetCacheEntry(ctx, "fp-abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"items":[]}`, string(payload))
}

func TestSQLite_Cache_Miss(t *testing.T) {
	st := newTestSQLiteStore(t)

	payload, ok, err := st.GetCacheEntry(context.Background(), "fp-missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, payload)
}

func TestSQLite_Cache_RepeatPutIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutCacheEntry(ctx, "fp-dup", []byte("payload")))
	require.NoError(t, st.PutCacheEntry(ctx, "fp-dup", []byte("payload")))

	payload, ok, err := st.GetCacheEntry(ctx, "fp-dup")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "payload", string(payload))
}

// --- Processing state ---

func TestSQLite_ProcessingState_EmptyLoad(t *testing.T) {
	st := newTestSQLiteStore(t)

	state, err := st.LoadProcessingState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestSQLite_ProcessingState_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	state := model.NewProcessingState(10)
	state.CompletedItemIDs = []string{"B000001", "B000002"}
	state.PerSourceCounts[model.SourceGoogleBooks] = 2
	state.LastItemID = "B000002"
	state.RunCount = 3
	state.OverallPercentage = 20.0
	state.UpdatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveProcessingState(ctx, state))

	got, err := st.LoadProcessingState(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, state, got)
}

func TestSQLite_ProcessingState_Corrupt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.db.ExecContext(ctx,
		`INSERT INTO processing_state (id, snapshot, updated_at) VALUES (1, ?, ?)`,
		`{"total_items": 10, "completed_item_ids": [`, time.Now().UTC(),
	)
	require.NoError(t, err)

	_, err = st.LoadProcessingState(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStateCorrupt))
}

// --- Cumulative state ---

func TestSQLite_CumulativeState_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	state := model.NewCumulativeState(100)
	state.TotalItemsProcessed = 40
	state.SourceCounts[model.SourceLibraryOfCongress] = 25
	state.NoEnrichment = 60
	state.RunsCompleted = 2
	state.OverallPercentage = 40.0
	state.UpdatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveCumulativeState(ctx, state))

	got, err := st.LoadCumulativeState(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, state, got)
}

func TestSQLite_CumulativeState_Corrupt(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.db.ExecContext(ctx,
		`INSERT INTO cumulative_state (id, snapshot, updated_at) VALUES (1, ?, ?)`,
		`not json at all`, time.Now().UTC(),
	)
	require.NoError(t, err)

	_, err = st.LoadCumulativeState(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStateCorrupt))
}

// --- Provider failures ---

func TestSQLite_Failures_RecordAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.RecordFailure(ctx, model.ProviderFailure{
		ItemID: "B000001", Source: model.SourceGoogleBooks,
		Reason: "status 503", Transient: true, OccurredAt: base,
	}))
	require.NoError(t, st.RecordFailure(ctx, model.ProviderFailure{
		ItemID: "B000002", Source: model.SourceLibraryOfCongress,
		Reason: "status 404", Transient: false, OccurredAt: base.Add(time.Minute),
	}))

	failures, err := st.ListFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	// Newest first.
	assert.Equal(t, "B000002", failures[0].ItemID)
	assert.False(t, failures[0].Transient)
	assert.Equal(t, "B000001", failures[1].ItemID)
	assert.True(t, failures[1].Transient)
}

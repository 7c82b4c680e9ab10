package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/openshelf/bibcat/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS items (
	barcode     TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	author      TEXT NOT NULL DEFAULT '',
	isbn        TEXT NOT NULL DEFAULT '',
	call_number TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS facts (
	id          TEXT PRIMARY KEY,
	item_id     TEXT NOT NULL,
	field       TEXT NOT NULL,
	value       TEXT NOT NULL,
	source      TEXT NOT NULL,
	confidence  REAL NOT NULL,
	method      TEXT NOT NULL,
	observed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS canonical_records (
	item_id    TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	payload     BLOB NOT NULL,
	fetched_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	snapshot   TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cumulative_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	snapshot   TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_failures (
	id          TEXT PRIMARY KEY,
	item_id     TEXT NOT NULL,
	source      TEXT NOT NULL,
	reason      TEXT NOT NULL,
	transient   INTEGER NOT NULL,
	occurred_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facts_item_id ON facts(item_id);
CREATE INDEX IF NOT EXISTS idx_facts_item_field ON facts(item_id, field);
CREATE INDEX IF NOT EXISTS idx_failures_item_id ON provider_failures(item_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertItem(ctx context.Context, item model.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (barcode, title, author, isbn, call_number) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(barcode) DO UPDATE SET title=excluded.title, author=excluded.author,
		 isbn=excluded.isbn, call_number=excluded.call_number`,
		item.Barcode, item.Title, item.Author, item.ISBN, item.CallNumber,
	)
	return eris.Wrapf(err, "sqlite: upsert item %s", item.Barcode)
}

func (s *SQLiteStore) GetItem(ctx context.Context, barcode string) (*model.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT barcode, title, author, isbn, call_number FROM items WHERE barcode = ?`,
		barcode,
	)
	var it model.Item
	err := row.Scan(&it.Barcode, &it.Title, &it.Author, &it.ISBN, &it.CallNumber)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("item not found: %s", barcode)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get item")
	}
	return &it, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context) ([]model.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT barcode, title, author, isbn, call_number FROM items ORDER BY barcode`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.Barcode, &it.Title, &it.Author, &it.ISBN, &it.CallNumber); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func (s *SQLiteStore) InsertFacts(ctx context.Context, facts []model.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert facts")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO facts (id, item_id, field, value, source, confidence, method, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert fact")
	}
	defer stmt.Close()

	for _, f := range facts {
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), f.ItemID, string(f.Field), f.Value,
			string(f.Source), f.Confidence, string(f.Method), f.ObservedAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert fact for %s", f.ItemID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert facts")
}

func (s *SQLiteStore) ListFacts(ctx context.Context, itemID string) ([]model.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, field, value, source, confidence, method, observed_at
		 FROM facts WHERE item_id = ? ORDER BY observed_at, rowid`,
		itemID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list facts")
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		var f model.Fact
		var field, source, method string
		if err := rows.Scan(&f.ItemID, &field, &f.Value, &source, &f.Confidence, &method, &f.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		f.Field = model.FieldName(field)
		f.Source = model.Source(source)
		f.Method = model.MatchMethod(method)
		facts = append(facts, f)
	}
	return facts, eris.Wrap(rows.Err(), "sqlite: list facts iterate")
}

func (s *SQLiteStore) PurgeFacts(ctx context.Context, itemID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE item_id = ?`, itemID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: purge facts %s", itemID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) WriteCanonicalRecord(ctx context.Context, record *model.CanonicalRecord) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal canonical record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO canonical_records (item_id, record, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(item_id) DO UPDATE SET record=excluded.record, updated_at=excluded.updated_at`,
		record.ItemID, string(recordJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: write canonical record %s", record.ItemID)
}

func (s *SQLiteStore) GetCanonicalRecord(ctx context.Context, itemID string) (*model.CanonicalRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record FROM canonical_records WHERE item_id = ?`, itemID,
	)
	var recordJSON string
	err := row.Scan(&recordJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get canonical record")
	}
	var rec model.CanonicalRecord
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal canonical record")
	}
	return &rec, nil
}

func (s *SQLiteStore) ListCanonicalRecords(ctx context.Context, limit, offset int) ([]model.CanonicalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM canonical_records ORDER BY item_id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list canonical records")
	}
	defer rows.Close()

	var records []model.CanonicalRecord
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan canonical record")
		}
		var rec model.CanonicalRecord
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal canonical record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list canonical records iterate")
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cache_entries WHERE fingerprint = ?`, fingerprint,
	)
	var payload []byte
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get cache entry")
	}
	return payload, true, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, fingerprint string, payload []byte) error {
	// Same fingerprint means same payload, so overwrite is idempotent.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (fingerprint, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET payload=excluded.payload, fetched_at=excluded.fetched_at`,
		fingerprint, payload, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) LoadProcessingState(ctx context.Context) (*model.ProcessingState, error) {
	return loadSnapshot[model.ProcessingState](ctx, s.db, "processing_state")
}

func (s *SQLiteStore) SaveProcessingState(ctx context.Context, state *model.ProcessingState) error {
	return saveSnapshot(ctx, s.db, "processing_state", state)
}

func (s *SQLiteStore) LoadCumulativeState(ctx context.Context) (*model.CumulativeState, error) {
	return loadSnapshot[model.CumulativeState](ctx, s.db, "cumulative_state")
}

func (s *SQLiteStore) SaveCumulativeState(ctx context.Context, state *model.CumulativeState) error {
	return saveSnapshot(ctx, s.db, "cumulative_state", state)
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, failure model.ProviderFailure) error {
	occurredAt := failure.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_failures (id, item_id, source, reason, transient, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), failure.ItemID, string(failure.Source), failure.Reason,
		boolToInt(failure.Transient), occurredAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record failure for %s", failure.ItemID)
}

func (s *SQLiteStore) ListFailures(ctx context.Context, limit int) ([]model.ProviderFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, source, reason, transient, occurred_at FROM provider_failures
		 ORDER BY occurred_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close()

	var failures []model.ProviderFailure
	for rows.Next() {
		var f model.ProviderFailure
		var source string
		var transient int
		if err := rows.Scan(&f.ItemID, &source, &f.Reason, &transient, &f.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		f.Source = model.Source(source)
		f.Transient = transient != 0
		failures = append(failures, f)
	}
	return failures, eris.Wrap(rows.Err(), "sqlite: list failures iterate")
}

// helpers

func loadSnapshot[T any](ctx context.Context, db *sql.DB, table string) (*T, error) {
	row := db.QueryRowContext(ctx, `SELECT snapshot FROM `+table+` WHERE id = 1`)
	var snapshot string
	err := row.Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load %s", table)
	}
	var state T
	if err := json.Unmarshal([]byte(snapshot), &state); err != nil {
		return nil, eris.Wrapf(ErrStateCorrupt, "sqlite: %s: %v", table, err)
	}
	return &state, nil
}

func saveSnapshot[T any](ctx context.Context, db *sql.DB, table string, state *T) error {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal %s", table)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO `+table+` (id, snapshot, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET snapshot=excluded.snapshot, updated_at=excluded.updated_at`,
		string(snapshot), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save %s", table)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

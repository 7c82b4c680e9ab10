package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/openshelf/bibcat/internal/db"
	"github.com/openshelf/bibcat/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
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
	confidence  DOUBLE PRECISION NOT NULL,
	method      TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS canonical_records (
	item_id    TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	payload     BYTEA NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS cumulative_state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	snapshot   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_failures (
	id          TEXT PRIMARY KEY,
	item_id     TEXT NOT NULL,
	source      TEXT NOT NULL,
	reason      TEXT NOT NULL,
	transient   BOOLEAN NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facts_item_id ON facts(item_id);
CREATE INDEX IF NOT EXISTS idx_facts_item_field ON facts(item_id, field);
CREATE INDEX IF NOT EXISTS idx_failures_item_id ON provider_failures(item_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertItem(ctx context.Context, item model.Item) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO items (barcode, title, author, isbn, call_number) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (barcode) DO UPDATE SET title=excluded.title, author=excluded.author,
		 isbn=excluded.isbn, call_number=excluded.call_number`,
		item.Barcode, item.Title, item.Author, item.ISBN, item.CallNumber,
	)
	return eris.Wrapf(err, "postgres: upsert item %s", item.Barcode)
}

func (s *PostgresStore) GetItem(ctx context.Context, barcode string) (*model.Item, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT barcode, title, author, isbn, call_number FROM items WHERE barcode = $1`,
		barcode,
	)
	var it model.Item
	err := row.Scan(&it.Barcode, &it.Title, &it.Author, &it.ISBN, &it.CallNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("item not found: %s", barcode)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get item")
	}
	return &it, nil
}

func (s *PostgresStore) ListItems(ctx context.Context) ([]model.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT barcode, title, author, isbn, call_number FROM items ORDER BY barcode`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.Barcode, &it.Title, &it.Author, &it.ISBN, &it.CallNumber); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

func (s *PostgresStore) InsertFacts(ctx context.Context, facts []model.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(facts))
	for _, f := range facts {
		rows = append(rows, []any{
			uuid.New().String(), f.ItemID, string(f.Field), f.Value,
			string(f.Source), f.Confidence, string(f.Method), f.ObservedAt.UTC(),
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "facts",
		[]string{"id", "item_id", "field", "value", "source", "confidence", "method", "observed_at"},
		rows,
	)
	return eris.Wrap(err, "postgres: insert facts")
}

func (s *PostgresStore) ListFacts(ctx context.Context, itemID string) ([]model.Fact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT item_id, field, value, source, confidence, method, observed_at
		 FROM facts WHERE item_id = $1 ORDER BY observed_at`,
		itemID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list facts")
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		var f model.Fact
		var field, source, method string
		if err := rows.Scan(&f.ItemID, &field, &f.Value, &source, &f.Confidence, &method, &f.ObservedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		f.Field = model.FieldName(field)
		f.Source = model.Source(source)
		f.Method = model.MatchMethod(method)
		facts = append(facts, f)
	}
	return facts, eris.Wrap(rows.Err(), "postgres: list facts iterate")
}

func (s *PostgresStore) PurgeFacts(ctx context.Context, itemID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM facts WHERE item_id = $1`, itemID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: purge facts %s", itemID)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) WriteCanonicalRecord(ctx context.Context, record *model.CanonicalRecord) error {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal canonical record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO canonical_records (item_id, record, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (item_id) DO UPDATE SET record=excluded.record, updated_at=excluded.updated_at`,
		record.ItemID, string(recordJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: write canonical record %s", record.ItemID)
}

func (s *PostgresStore) GetCanonicalRecord(ctx context.Context, itemID string) (*model.CanonicalRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT record FROM canonical_records WHERE item_id = $1`, itemID,
	)
	var recordJSON []byte
	err := row.Scan(&recordJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get canonical record")
	}
	var rec model.CanonicalRecord
	if err := json.Unmarshal(recordJSON, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal canonical record")
	}
	return &rec, nil
}

func (s *PostgresStore) ListCanonicalRecords(ctx context.Context, limit, offset int) ([]model.CanonicalRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM canonical_records ORDER BY item_id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list canonical records")
	}
	defer rows.Close()

	var records []model.CanonicalRecord
	for rows.Next() {
		var recordJSON []byte
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan canonical record")
		}
		var rec model.CanonicalRecord
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal canonical record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list canonical records iterate")
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, fingerprint string) ([]byte, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT payload FROM cache_entries WHERE fingerprint = $1`, fingerprint,
	)
	var payload []byte
	err := row.Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get cache entry")
	}
	return payload, true, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, fingerprint string, payload []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (fingerprint, payload, fetched_at) VALUES ($1, $2, $3)
		 ON CONFLICT (fingerprint) DO UPDATE SET payload=excluded.payload, fetched_at=excluded.fetched_at`,
		fingerprint, payload, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) LoadProcessingState(ctx context.Context) (*model.ProcessingState, error) {
	return loadPGSnapshot[model.ProcessingState](ctx, s.pool, "processing_state")
}

func (s *PostgresStore) SaveProcessingState(ctx context.Context, state *model.ProcessingState) error {
	return savePGSnapshot(ctx, s.pool, "processing_state", state)
}

func (s *PostgresStore) LoadCumulativeState(ctx context.Context) (*model.CumulativeState, error) {
	return loadPGSnapshot[model.CumulativeState](ctx, s.pool, "cumulative_state")
}

func (s *PostgresStore) SaveCumulativeState(ctx context.Context, state *model.CumulativeState) error {
	return savePGSnapshot(ctx, s.pool, "cumulative_state", state)
}

func (s *PostgresStore) RecordFailure(ctx context.Context, failure model.ProviderFailure) error {
	occurredAt := failure.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_failures (id, item_id, source, reason, transient, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), failure.ItemID, string(failure.Source), failure.Reason,
		failure.Transient, occurredAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record failure for %s", failure.ItemID)
}

func (s *PostgresStore) ListFailures(ctx context.Context, limit int) ([]model.ProviderFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT item_id, source, reason, transient, occurred_at FROM provider_failures
		 ORDER BY occurred_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var failures []model.ProviderFailure
	for rows.Next() {
		var f model.ProviderFailure
		var source string
		if err := rows.Scan(&f.ItemID, &source, &f.Reason, &f.Transient, &f.OccurredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		f.Source = model.Source(source)
		failures = append(failures, f)
	}
	return failures, eris.Wrap(rows.Err(), "postgres: list failures iterate")
}

// helpers

func loadPGSnapshot[T any](ctx context.Context, pool db.Pool, table string) (*T, error) {
	row := pool.QueryRow(ctx, `SELECT snapshot FROM `+table+` WHERE id = 1`)
	var snapshot []byte
	err := row.Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load %s", table)
	}
	var state T
	if err := json.Unmarshal(snapshot, &state); err != nil {
		return nil, eris.Wrapf(ErrStateCorrupt, "postgres: %s: %v", table, err)
	}
	return &state, nil
}

func savePGSnapshot[T any](ctx context.Context, pool db.Pool, table string, state *T) error {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal %s", table)
	}
	_, err = pool.Exec(ctx,
		`INSERT INTO `+table+` (id, snapshot, updated_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET snapshot=excluded.snapshot, updated_at=excluded.updated_at`,
		string(snapshot), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save %s", table)
}

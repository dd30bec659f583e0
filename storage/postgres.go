package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cbnsndwch/struktura/schema"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS struktura_collections (
	id         TEXT PRIMARY KEY,
	slug       TEXT NOT NULL UNIQUE,
	definition JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS struktura_records (
	collection_id TEXT NOT NULL,
	id            TEXT NOT NULL,
	seq           BIGINT NOT NULL,
	data          JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	created_by    TEXT NOT NULL DEFAULT '',
	updated_by    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (collection_id, id),
	UNIQUE (collection_id, seq)
);
CREATE INDEX IF NOT EXISTS struktura_records_data_idx ON struktura_records USING GIN (data jsonb_path_ops);
`

// PostgresStore keeps schemas and records in PostgreSQL, record data in a
// jsonb column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL, verifies the connection and
// creates the tables when missing.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set in environment")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

const recordColumns = `id, seq, data, created_at, updated_at, created_by, updated_by`

func scanEntry(row pgx.Row) (schema.Entry, error) {
	var e schema.Entry
	var data []byte
	if err := row.Scan(&e.Meta.ID, &e.Meta.Seq, &data, &e.Meta.CreatedAt, &e.Meta.UpdatedAt, &e.Meta.CreatedBy, &e.Meta.UpdatedBy); err != nil {
		return schema.Entry{}, err
	}
	r, err := decodeRecord(data)
	if err != nil {
		return schema.Entry{}, err
	}
	e.Data = r
	e.Meta.CreatedAt = e.Meta.CreatedAt.UTC()
	e.Meta.UpdatedAt = e.Meta.UpdatedAt.UTC()
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]schema.Entry, error) {
	defer rows.Close()
	var out []schema.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FetchByID implements Reader.
func (p *PostgresStore) FetchByID(ctx context.Context, collectionID, id string) (schema.Entry, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM struktura_records WHERE collection_id = $1 AND id = $2`,
		collectionID, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Entry{}, fmt.Errorf("record %s of collection %s: %w", id, collectionID, ErrNotFound)
	}
	if err != nil {
		return schema.Entry{}, fmt.Errorf("failed to fetch record %s: %w", id, err)
	}
	return e, nil
}

// FetchRelated implements Reader.
func (p *PostgresStore) FetchRelated(ctx context.Context, collectionID string, m Match) ([]schema.Entry, error) {
	value, err := jsonValue(m.Value)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM struktura_records
		 WHERE collection_id = $1 AND data -> $2 = $3::jsonb ORDER BY seq`,
		collectionID, m.Field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch related records: %w", err)
	}
	return collectEntries(rows)
}

// List implements Lister.
func (p *PostgresStore) List(ctx context.Context, collectionID string) ([]schema.Entry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM struktura_records WHERE collection_id = $1 ORDER BY seq`,
		collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return collectEntries(rows)
}

// lockCollection serialises writers of one collection for the rest of tx.
func lockCollection(ctx context.Context, tx pgx.Tx, collectionID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, collectionID)
	return err
}

func checkUniquePG(ctx context.Context, tx pgx.Tx, collectionID, selfID string, data schema.Record, fields []string) error {
	for _, field := range fields {
		v, ok := data[field]
		if !ok || v == nil {
			continue
		}
		value, err := jsonValue(v)
		if err != nil {
			return err
		}
		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM struktura_records
			 WHERE collection_id = $1 AND id <> $2 AND data -> $3 = $4::jsonb)`,
			collectionID, selfID, field, value).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check unique field %s: %w", field, err)
		}
		if exists {
			return &UniqueError{CollectionID: collectionID, Field: field, Value: v}
		}
	}
	return nil
}

// Insert implements Writer.
func (p *PostgresStore) Insert(ctx context.Context, collectionID string, data schema.Record, opts WriteOptions) (schema.Entry, error) {
	norm, raw, err := normalize(data)
	if err != nil {
		return schema.Entry{}, err
	}
	var e schema.Entry
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := lockCollection(ctx, tx, collectionID); err != nil {
			return err
		}
		if err := checkUniquePG(ctx, tx, collectionID, "", norm, opts.Unique); err != nil {
			return err
		}
		now := time.Now().UTC()
		e.Meta = schema.RecordMeta{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now, CreatedBy: opts.Actor, UpdatedBy: opts.Actor}
		return tx.QueryRow(ctx,
			`INSERT INTO struktura_records (collection_id, id, seq, data, created_at, updated_at, created_by, updated_by)
			 SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $4, $5, $5 FROM struktura_records WHERE collection_id = $1
			 RETURNING seq`,
			collectionID, e.Meta.ID, raw, now, opts.Actor).Scan(&e.Meta.Seq)
	})
	if err != nil {
		return schema.Entry{}, fmt.Errorf("failed to insert record: %w", err)
	}
	e.Data = norm
	return e, nil
}

// Update implements Writer.
func (p *PostgresStore) Update(ctx context.Context, collectionID, id string, data schema.Record, opts WriteOptions) (schema.Entry, error) {
	norm, raw, err := normalize(data)
	if err != nil {
		return schema.Entry{}, err
	}
	var e schema.Entry
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := lockCollection(ctx, tx, collectionID); err != nil {
			return err
		}
		if err := checkUniquePG(ctx, tx, collectionID, id, norm, opts.Unique); err != nil {
			return err
		}
		row := tx.QueryRow(ctx,
			`UPDATE struktura_records SET data = $3, updated_at = $4, updated_by = $5
			 WHERE collection_id = $1 AND id = $2 RETURNING `+recordColumns,
			collectionID, id, raw, time.Now().UTC(), opts.Actor)
		var err error
		e, err = scanEntry(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("record %s of collection %s: %w", id, collectionID, ErrNotFound)
		}
		return err
	})
	if err != nil {
		return schema.Entry{}, fmt.Errorf("failed to update record: %w", err)
	}
	return e, nil
}

// Delete implements Writer.
func (p *PostgresStore) Delete(ctx context.Context, collectionID, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM struktura_records WHERE collection_id = $1 AND id = $2`, collectionID, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record %s of collection %s: %w", id, collectionID, ErrNotFound)
	}
	return nil
}

// SaveSchema implements SchemaStore.
func (p *PostgresStore) SaveSchema(ctx context.Context, s schema.CollectionSchema) error {
	def, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode schema %s: %w", s.Slug, err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO struktura_collections (id, slug, definition, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET slug = EXCLUDED.slug, definition = EXCLUDED.definition, updated_at = EXCLUDED.updated_at`,
		s.ID, s.Slug, def, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save schema %s: %w", s.Slug, err)
	}
	return nil
}

// DeleteSchema implements SchemaStore.
func (p *PostgresStore) DeleteSchema(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM struktura_collections WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete schema %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("collection %s: %w", id, ErrNotFound)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM struktura_records WHERE collection_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete records of %s: %w", id, err)
		}
		return nil
	})
}

// LoadSchemas implements SchemaStore.
func (p *PostgresStore) LoadSchemas(ctx context.Context) ([]schema.CollectionSchema, error) {
	rows, err := p.pool.Query(ctx, `SELECT definition FROM struktura_collections ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	defer rows.Close()
	var out []schema.CollectionSchema
	for rows.Next() {
		var def []byte
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		var s schema.CollectionSchema
		if err := json.Unmarshal(def, &s); err != nil {
			return nil, fmt.Errorf("failed to decode stored schema: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Ping implements Store.
func (p *PostgresStore) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close implements Store.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cbnsndwch/struktura/schema"
)

var sqliteSchema = []string{
	`PRAGMA foreign_keys=ON;`,
	`CREATE TABLE IF NOT EXISTS collections (
		id         TEXT PRIMARY KEY,
		slug       TEXT NOT NULL UNIQUE,
		definition TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS records (
		collection_id TEXT NOT NULL,
		id            TEXT NOT NULL,
		seq           INTEGER NOT NULL,
		data          TEXT NOT NULL,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL,
		created_by    TEXT NOT NULL DEFAULT '',
		updated_by    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (collection_id, id),
		UNIQUE (collection_id, seq)
	);`,
}

// SQLiteStore keeps schemas and records in a SQLite file through the pure-Go
// modernc driver. Record data is a JSON text column queried with the JSON
// operators.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating when needed) the database at path. The
// special path ":memory:" opens a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = "file:" + path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one connection: writes are serialised and :memory: stays one database
	db.SetMaxOpenConns(1)
	for _, s := range sqliteSchema {
		if _, err := db.ExecContext(ctx, s); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// jsonPath quotes a field name as a SQLite JSON path.
func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (schema.Entry, error) {
	var e schema.Entry
	var data string
	if err := row.Scan(&e.Meta.ID, &e.Meta.Seq, &data, &e.Meta.CreatedAt, &e.Meta.UpdatedAt, &e.Meta.CreatedBy, &e.Meta.UpdatedBy); err != nil {
		return schema.Entry{}, err
	}
	r, err := decodeRecord([]byte(data))
	if err != nil {
		return schema.Entry{}, err
	}
	e.Data = r
	e.Meta.CreatedAt = e.Meta.CreatedAt.UTC()
	e.Meta.UpdatedAt = e.Meta.UpdatedAt.UTC()
	return e, nil
}

func (s *SQLiteStore) queryEntries(ctx context.Context, query string, args ...any) ([]schema.Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []schema.Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FetchByID implements Reader.
func (s *SQLiteStore) FetchByID(ctx context.Context, collectionID, id string) (schema.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE collection_id = ? AND id = ?`, collectionID, id)
	e, err := scanSQLiteEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.Entry{}, fmt.Errorf("record %s of collection %s: %w", id, collectionID, ErrNotFound)
	}
	if err != nil {
		return schema.Entry{}, fmt.Errorf("failed to fetch record %s: %w", id, err)
	}
	return e, nil
}

// FetchRelated implements Reader.
func (s *SQLiteStore) FetchRelated(ctx context.Context, collectionID string, m Match) ([]schema.Entry, error) {
	value, err := jsonValue(m.Value)
	if err != nil {
		return nil, err
	}
	out, err := s.queryEntries(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE collection_id = ? AND data -> ? = json(?) ORDER BY seq`,
		collectionID, jsonPath(m.Field), value)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch related records: %w", err)
	}
	return out, nil
}

// List implements Lister.
func (s *SQLiteStore) List(ctx context.Context, collectionID string) ([]schema.Entry, error) {
	out, err := s.queryEntries(ctx,
		`SELECT `+recordColumns+` FROM records WHERE collection_id = ? ORDER BY seq`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) checkUnique(ctx context.Context, tx *sql.Tx, collectionID, selfID string, data schema.Record, fields []string) error {
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
		err = tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM records WHERE collection_id = ? AND id <> ? AND data -> ? = json(?))`,
			collectionID, selfID, jsonPath(field), value).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check unique field %s: %w", field, err)
		}
		if exists {
			return &UniqueError{CollectionID: collectionID, Field: field, Value: v}
		}
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Insert implements Writer.
func (s *SQLiteStore) Insert(ctx context.Context, collectionID string, data schema.Record, opts WriteOptions) (schema.Entry, error) {
	norm, raw, err := normalize(data)
	if err != nil {
		return schema.Entry{}, err
	}
	now := time.Now().UTC()
	e := schema.Entry{
		Meta: schema.RecordMeta{ID: uuid.NewString(), CreatedAt: now, UpdatedAt: now, CreatedBy: opts.Actor, UpdatedBy: opts.Actor},
		Data: norm,
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkUnique(ctx, tx, collectionID, "", norm, opts.Unique); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE collection_id = ?`, collectionID,
		).Scan(&e.Meta.Seq); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO records (collection_id, id, seq, data, created_at, updated_at, created_by, updated_by)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			collectionID, e.Meta.ID, e.Meta.Seq, string(raw), now, now, opts.Actor, opts.Actor)
		return err
	})
	if err != nil {
		return schema.Entry{}, fmt.Errorf("failed to insert record: %w", err)
	}
	return e, nil
}

// Update implements Writer.
func (s *SQLiteStore) Update(ctx context.Context, collectionID, id string, data schema.Record, opts WriteOptions) (schema.Entry, error) {
	norm, raw, err := normalize(data)
	if err != nil {
		return schema.Entry{}, err
	}
	var e schema.Entry
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkUnique(ctx, tx, collectionID, id, norm, opts.Unique); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE records SET data = ?, updated_at = ?, updated_by = ? WHERE collection_id = ? AND id = ?`,
			string(raw), time.Now().UTC(), opts.Actor, collectionID, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("record %s of collection %s: %w", id, collectionID, ErrNotFound)
		}
		e, err = scanSQLiteEntry(tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM records WHERE collection_id = ? AND id = ?`, collectionID, id))
		return err
	})
	if err != nil {
		return schema.Entry{}, fmt.Errorf("failed to update record: %w", err)
	}
	return e, nil
}

// Delete implements Writer.
func (s *SQLiteStore) Delete(ctx context.Context, collectionID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection_id = ? AND id = ?`, collectionID, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record %s of collection %s: %w", id, collectionID, ErrNotFound)
	}
	return nil
}

// SaveSchema implements SchemaStore.
func (s *SQLiteStore) SaveSchema(ctx context.Context, cs schema.CollectionSchema) error {
	def, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("failed to encode schema %s: %w", cs.Slug, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO collections (id, slug, definition, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET slug = excluded.slug, definition = excluded.definition, updated_at = excluded.updated_at`,
		cs.ID, cs.Slug, string(def), cs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save schema %s: %w", cs.Slug, err)
	}
	return nil
}

// DeleteSchema implements SchemaStore.
func (s *SQLiteStore) DeleteSchema(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete schema %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("collection %s: %w", id, ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM records WHERE collection_id = ?`, id)
		return err
	})
}

// LoadSchemas implements SchemaStore.
func (s *SQLiteStore) LoadSchemas(ctx context.Context) ([]schema.CollectionSchema, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM collections ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	defer rows.Close()
	var out []schema.CollectionSchema
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, err
		}
		var cs schema.CollectionSchema
		if err := json.Unmarshal([]byte(def), &cs); err != nil {
			return nil, fmt.Errorf("failed to decode stored schema: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

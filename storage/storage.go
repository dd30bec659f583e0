// Package storage defines the persistence capabilities the engine consumes
// and provides memory, PostgreSQL and SQLite implementations of them.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cbnsndwch/struktura/schema"
)

var (
	// ErrNotFound is returned when a record or collection does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUniqueViolation is returned when a write would duplicate the value
	// of a unique field.
	ErrUniqueViolation = errors.New("unique constraint violated")
)

// UniqueError names the field whose unique rule a write violated.
type UniqueError struct {
	CollectionID string
	Field        string
	Value        any
}

func (e *UniqueError) Error() string {
	return fmt.Sprintf("value %v of field %s is already used by another record of collection %s", e.Value, e.Field, e.CollectionID)
}

func (e *UniqueError) Is(target error) bool { return target == ErrUniqueViolation }

// Match selects the records whose Field holds Value.
type Match struct {
	Field string
	Value any
}

// WriteOptions carry what a write needs beyond the record data.
type WriteOptions struct {
	// Unique lists the fields whose values must not repeat within the
	// collection. They are checked atomically with the write.
	Unique []string
	// Actor is recorded as the creator or last modifier.
	Actor string
}

// Reader fetches records. It is the capability the computed-field
// resolver consumes.
type Reader interface {
	// FetchByID returns ErrNotFound when the record does not exist.
	FetchByID(ctx context.Context, collectionID, id string) (schema.Entry, error)
	// FetchRelated returns every record of the collection matching m, in
	// creation order.
	FetchRelated(ctx context.Context, collectionID string, m Match) ([]schema.Entry, error)
}

// Lister lists every record of a collection in creation order.
type Lister interface {
	List(ctx context.Context, collectionID string) ([]schema.Entry, error)
}

// Writer persists validated records.
type Writer interface {
	Insert(ctx context.Context, collectionID string, data schema.Record, opts WriteOptions) (schema.Entry, error)
	// Update replaces the data of a record.
	Update(ctx context.Context, collectionID, id string, data schema.Record, opts WriteOptions) (schema.Entry, error)
	Delete(ctx context.Context, collectionID, id string) error
}

// SchemaStore persists collection schemas on behalf of the registry.
type SchemaStore interface {
	SaveSchema(ctx context.Context, s schema.CollectionSchema) error
	// DeleteSchema removes the schema and every record of the collection.
	DeleteSchema(ctx context.Context, id string) error
	LoadSchemas(ctx context.Context) ([]schema.CollectionSchema, error)
}

// Store is a complete backend.
type Store interface {
	Reader
	Lister
	Writer
	SchemaStore
	Ping(ctx context.Context) error
	Close() error
}

// jsonValue renders a value the way it is stored in JSON documents. Unique
// checks and related-record matches compare these renderings.
func jsonValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return string(data), nil
}

// normalize converts a record to its JSON-decoded form so that every
// backend returns the same value types.
func normalize(r schema.Record) (schema.Record, []byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode record: %w", err)
	}
	var out schema.Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if out == nil {
		out = schema.Record{}
	}
	return out, data, nil
}

func decodeRecord(data []byte) (schema.Record, error) {
	var r schema.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if r == nil {
		r = schema.Record{}
	}
	return r, nil
}

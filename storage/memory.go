package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cbnsndwch/struktura/schema"
)

// MemoryStore keeps everything in process memory. Records are stored in
// their JSON-decoded form, exactly as the SQL backends return them.
type MemoryStore struct {
	mu      sync.RWMutex
	schemas map[string]schema.CollectionSchema
	records map[string]map[string]schema.Entry
	seqs    map[string]int64
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schemas: map[string]schema.CollectionSchema{},
		records: map[string]map[string]schema.Entry{},
		seqs:    map[string]int64{},
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func cloneEntry(e schema.Entry) schema.Entry {
	return schema.Entry{Meta: e.Meta, Data: e.Data.Clone()}
}

// FetchByID implements Reader.
func (m *MemoryStore) FetchByID(ctx context.Context, collectionID, id string) (schema.Entry, error) {
	if err := ctx.Err(); err != nil {
		return schema.Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.records[collectionID][id]
	if !ok {
		return schema.Entry{}, fmt.Errorf("record %s of collection %s: %w", id, collectionID, ErrNotFound)
	}
	return cloneEntry(e), nil
}

// FetchRelated implements Reader.
func (m *MemoryStore) FetchRelated(ctx context.Context, collectionID string, match Match) ([]schema.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := jsonValue(match.Value)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []schema.Entry
	for _, e := range m.sorted(collectionID) {
		v, ok := e.Data[match.Field]
		if !ok {
			continue
		}
		if got, err := jsonValue(v); err == nil && got == want {
			out = append(out, cloneEntry(e))
		}
	}
	return out, nil
}

// List implements Lister.
func (m *MemoryStore) List(ctx context.Context, collectionID string) ([]schema.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.sorted(collectionID)
	out := make([]schema.Entry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

func (m *MemoryStore) sorted(collectionID string) []schema.Entry {
	entries := make([]schema.Entry, 0, len(m.records[collectionID]))
	for _, e := range m.records[collectionID] {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Meta.Seq < entries[j].Meta.Seq })
	return entries
}

// checkUnique must be called with the write lock held.
func (m *MemoryStore) checkUnique(collectionID, selfID string, data schema.Record, fields []string) error {
	for _, field := range fields {
		v, ok := data[field]
		if !ok || v == nil {
			continue
		}
		want, err := jsonValue(v)
		if err != nil {
			return err
		}
		for id, e := range m.records[collectionID] {
			if id == selfID {
				continue
			}
			if other, ok := e.Data[field]; ok {
				if got, err := jsonValue(other); err == nil && got == want {
					return &UniqueError{CollectionID: collectionID, Field: field, Value: v}
				}
			}
		}
	}
	return nil
}

// Insert implements Writer.
func (m *MemoryStore) Insert(ctx context.Context, collectionID string, data schema.Record, opts WriteOptions) (schema.Entry, error) {
	if err := ctx.Err(); err != nil {
		return schema.Entry{}, err
	}
	norm, _, err := normalize(data)
	if err != nil {
		return schema.Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkUnique(collectionID, "", norm, opts.Unique); err != nil {
		return schema.Entry{}, err
	}
	now := m.now()
	m.seqs[collectionID]++
	e := schema.Entry{
		Meta: schema.RecordMeta{
			ID:        uuid.NewString(),
			Seq:       m.seqs[collectionID],
			CreatedAt: now,
			UpdatedAt: now,
			CreatedBy: opts.Actor,
			UpdatedBy: opts.Actor,
		},
		Data: norm,
	}
	if m.records[collectionID] == nil {
		m.records[collectionID] = map[string]schema.Entry{}
	}
	m.records[collectionID][e.Meta.ID] = e
	return cloneEntry(e), nil
}

// Update implements Writer.
func (m *MemoryStore) Update(ctx context.Context, collectionID, id string, data schema.Record, opts WriteOptions) (schema.Entry, error) {
	if err := ctx.Err(); err != nil {
		return schema.Entry{}, err
	}
	norm, _, err := normalize(data)
	if err != nil {
		return schema.Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.records[collectionID][id]
	if !ok {
		return schema.Entry{}, fmt.Errorf("record %s of collection %s: %w", id, collectionID, ErrNotFound)
	}
	if err := m.checkUnique(collectionID, id, norm, opts.Unique); err != nil {
		return schema.Entry{}, err
	}
	e.Data = norm
	e.Meta.UpdatedAt = m.now()
	e.Meta.UpdatedBy = opts.Actor
	m.records[collectionID][id] = e
	return cloneEntry(e), nil
}

// Delete implements Writer.
func (m *MemoryStore) Delete(ctx context.Context, collectionID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[collectionID][id]; !ok {
		return fmt.Errorf("record %s of collection %s: %w", id, collectionID, ErrNotFound)
	}
	delete(m.records[collectionID], id)
	return nil
}

// SaveSchema implements SchemaStore.
func (m *MemoryStore) SaveSchema(ctx context.Context, s schema.CollectionSchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemas[s.ID] = s.Clone()
	return nil
}

// DeleteSchema implements SchemaStore.
func (m *MemoryStore) DeleteSchema(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schemas[id]; !ok {
		return fmt.Errorf("collection %s: %w", id, ErrNotFound)
	}
	delete(m.schemas, id)
	delete(m.records, id)
	delete(m.seqs, id)
	return nil
}

// LoadSchemas implements SchemaStore. Schemas come back ordered by slug.
func (m *MemoryStore) LoadSchemas(ctx context.Context) ([]schema.CollectionSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schema.CollectionSchema, 0, len(m.schemas))
	for _, s := range m.schemas {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

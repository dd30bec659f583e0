// Package resolver derives the values of computed fields: system fields from
// storage metadata, lookups and rollups from related records, and formulas
// from the record's own values.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cbnsndwch/struktura/formula"
	"github.com/cbnsndwch/struktura/metrics"
	"github.com/cbnsndwch/struktura/registry"
	"github.com/cbnsndwch/struktura/schema"
	"github.com/cbnsndwch/struktura/storage"
)

// maxDepth bounds how far lookups and rollups follow computed fields of
// related collections.
const maxDepth = 8

// Schemas hands out compiled collection snapshots by id or slug.
// *registry.Registry implements it.
type Schemas interface {
	Snapshot(ref string) (*registry.Snapshot, error)
}

// Resolver computes derived field values. It never writes to the records it
// is given or to storage.
type Resolver struct {
	reader  storage.Reader
	schemas Schemas
	cache   *Cache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache memoises resolved values.
func WithCache(c *Cache) Option { return func(r *Resolver) { r.cache = c } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Resolver) { r.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Resolver) { r.logger = l } }

// New creates a resolver reading related records from reader.
func New(reader storage.Reader, schemas Schemas, opts ...Option) *Resolver {
	r := &Resolver{reader: reader, schemas: schemas, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the values of the computed fields of entry, keyed by field
// name. Absent values are left out. Related records that are missing, or
// whose fetch was cancelled, make the dependent value absent; other storage
// failures are returned.
func (r *Resolver) Resolve(ctx context.Context, snap *registry.Snapshot, entry schema.Entry) (schema.Record, error) {
	start := time.Now()
	defer func() { r.metrics.ObserveResolve(snap.Schema.Slug, time.Since(start)) }()

	key := keyOf(snap, entry)
	if values, ok := r.cache.get(key); ok {
		r.metrics.CacheHit()
		return values, nil
	}
	if r.cache != nil {
		r.metrics.CacheMiss()
	}

	deps := map[string]bool{}
	values, err := r.resolve(ctx, snap, entry, 0, deps)
	if err != nil {
		return nil, err
	}
	r.cache.put(key, values, deps)
	return values.Clone(), nil
}

// Merge returns the stored values of entry brought to the current schema
// together with its computed values.
func (r *Resolver) Merge(ctx context.Context, snap *registry.Snapshot, entry schema.Entry) (schema.Record, error) {
	computed, err := r.Resolve(ctx, snap, entry)
	if err != nil {
		return nil, err
	}
	out := snap.Plan.Normalize(entry.Data)
	for k, v := range computed {
		out[k] = v
	}
	return out, nil
}

func (r *Resolver) resolve(ctx context.Context, snap *registry.Snapshot, entry schema.Entry, depth int, deps map[string]bool) (schema.Record, error) {
	s := snap.Schema
	data := snap.Plan.Normalize(entry.Data)
	out := schema.Record{}
	env := func(name string) (any, bool) {
		if v, ok := out[name]; ok {
			return v, true
		}
		v, ok := data[name]
		return v, ok
	}

	for _, name := range snap.ComputeOrder {
		def, ok := s.Field(name)
		if !ok {
			continue
		}
		var (
			v   any
			err error
		)
		switch o := def.Options.(type) {
		case *schema.LookupOptions:
			v, err = r.lookup(ctx, o, data, depth, deps)
		case *schema.RollupOptions:
			v, err = r.rollup(ctx, o, entry.Meta.ID, depth, deps)
		case *schema.FormulaOptions:
			v = r.formula(s, def, o, env)
		default:
			v = system(def, entry.Meta)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s.%s: %w", s.Slug, name, err)
		}
		if v != nil {
			out[name] = v
		}
	}
	return out, nil
}

// system resolves fields derived from storage metadata.
func system(def schema.FieldDefinition, meta schema.RecordMeta) any {
	switch def.Type {
	case schema.TypeAutoIncrement:
		if meta.Seq <= 0 {
			return nil
		}
		start, prefix := int64(1), ""
		if o, ok := def.Options.(*schema.AutoIncrementOptions); ok {
			if o.StartAt > 0 {
				start = o.StartAt
			}
			prefix = o.Prefix
		}
		n := start + meta.Seq - 1
		if prefix != "" {
			return prefix + strconv.FormatInt(n, 10)
		}
		return float64(n)
	case schema.TypeCreatedTime:
		return timeOrNil(meta.CreatedAt)
	case schema.TypeModifiedTime:
		return timeOrNil(meta.UpdatedAt)
	case schema.TypeCreatedBy:
		return stringOrNil(meta.CreatedBy)
	case schema.TypeModifiedBy:
		return stringOrNil(meta.UpdatedBy)
	}
	return nil
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func stringOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Resolver) formula(s schema.CollectionSchema, def schema.FieldDefinition, o *schema.FormulaOptions, env formula.Env) any {
	e, err := formula.Parse(o.Formula)
	if err != nil {
		return nil
	}
	v, err := e.Eval(env)
	if err != nil {
		r.logger.Debug("Formula evaluation failed",
			slog.String("collection", s.Slug),
			slog.String("field", def.Name),
			slog.Any("error", err))
		return nil
	}
	return v
}

// absent reports whether err means the related data is simply not there.
func absent(ctx context.Context, err error) bool {
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}

// related returns the snapshot of a target collection, or nil when the
// collection is gone.
func (r *Resolver) related(ref string, deps map[string]bool) *registry.Snapshot {
	snap, err := r.schemas.Snapshot(ref)
	if err != nil {
		return nil
	}
	deps[snap.Schema.ID] = true
	return snap
}

// fieldValue reads one field of a related entry, resolving it first when it
// is computed itself.
func (r *Resolver) fieldValue(ctx context.Context, snap *registry.Snapshot, entry schema.Entry, field string, depth int, deps map[string]bool) (any, error) {
	def, ok := snap.Schema.Field(field)
	if !ok {
		return nil, nil
	}
	if !schema.IsComputed(def.Type) {
		return snap.Plan.Normalize(entry.Data)[field], nil
	}
	if depth >= maxDepth {
		return nil, nil
	}
	values, err := r.resolve(ctx, snap, entry, depth+1, deps)
	if err != nil {
		return nil, err
	}
	return values[field], nil
}

func (r *Resolver) lookup(ctx context.Context, o *schema.LookupOptions, data schema.Record, depth int, deps map[string]bool) (any, error) {
	id, ok := data[o.ReferenceField].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return nil, nil
	}
	target := r.related(o.ReferencedCollection, deps)
	if target == nil {
		return nil, nil
	}
	entry, err := r.reader.FetchByID(ctx, target.Schema.ID, id)
	if err != nil {
		if absent(ctx, err) {
			return nil, nil
		}
		return nil, err
	}
	return r.fieldValue(ctx, target, entry, o.DisplayField, depth, deps)
}

func (r *Resolver) rollup(ctx context.Context, o *schema.RollupOptions, id string, depth int, deps map[string]bool) (any, error) {
	target := r.related(o.ReferencedCollection, deps)
	if target == nil || id == "" {
		return Reduce(o.Function, nil), nil
	}
	entries, err := r.reader.FetchRelated(ctx, target.Schema.ID, storage.Match{Field: o.RelationField, Value: id})
	if err != nil {
		if absent(ctx, err) {
			return Reduce(o.Function, nil), nil
		}
		return nil, err
	}
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		if o.Function == schema.RollupCount {
			values = append(values, true)
			continue
		}
		v, err := r.fieldValue(ctx, target, e, o.TargetField, depth, deps)
		if err != nil {
			if absent(ctx, err) {
				continue
			}
			return nil, err
		}
		values = append(values, v)
	}
	return Reduce(o.Function, values), nil
}

// Package registry owns the authoritative schemas of all collections. It is
// the only writer of schema state: every mutation is validated, serialised
// per collection, persisted and then published as a new immutable snapshot.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbnsndwch/struktura/events"
	"github.com/cbnsndwch/struktura/metrics"
	"github.com/cbnsndwch/struktura/schema"
	"github.com/cbnsndwch/struktura/storage"
	"github.com/cbnsndwch/struktura/validator"
)

// DeletePolicy decides what deleting a field used by views does.
type DeletePolicy string

const (
	// DeleteStrict rejects the deletion with a FieldInUse integrity error.
	DeleteStrict DeletePolicy = "strict"
	// DeleteLenient strips the field from the views that use it.
	DeleteLenient DeletePolicy = "lenient"
)

// ParseDeletePolicy parses a policy name; empty means strict.
func ParseDeletePolicy(s string) (DeletePolicy, error) {
	switch DeletePolicy(s) {
	case "", DeleteStrict:
		return DeleteStrict, nil
	case DeleteLenient:
		return DeleteLenient, nil
	}
	return "", fmt.Errorf("delete policy %q must be strict or lenient", s)
}

// CollectionLookup answers whether relational fields may target a
// collection. References are collection ids or slugs.
type CollectionLookup interface {
	Exists(ctx context.Context, ref string) (bool, error)
	IsActive(ctx context.Context, ref string) (bool, error)
}

// Snapshot is an immutable, compiled view of one collection schema.
// Readers must not modify it.
type Snapshot struct {
	Schema schema.CollectionSchema
	Plan   *validator.Plan
	// ComputeOrder lists the computed fields so that every field comes after
	// the computed fields it reads.
	ComputeOrder []string
}

type collection struct {
	snap atomic.Pointer[Snapshot]
}

// Registry is the collection schema registry. It is safe for concurrent use:
// mutations are serialised, reads never block on them and always observe a
// complete snapshot.
type Registry struct {
	// graph is held for the whole of every mutation. Integrity checks read
	// other collections (reference targets, referrers, computation cycles),
	// so they must not interleave with mutations of those collections.
	graph sync.Mutex

	// mu guards the indexes only; it is never held across storage or bus
	// calls.
	mu          sync.RWMutex
	collections map[string]*collection
	slugs       map[string]string

	validator *validator.Validator
	lookup    CollectionLookup
	bus       events.Bus
	store     storage.SchemaStore
	policy    DeletePolicy
	unknown   validator.UnknownFieldPolicy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLookup sets the capability consulted for relational targets. The
// registry answers itself by default.
func WithLookup(l CollectionLookup) Option { return func(r *Registry) { r.lookup = l } }

// WithBus sets the bus schema changes are announced on. Events are
// published in commit order while mutations are still serialised, so
// handlers may read the registry but must not mutate it synchronously.
func WithBus(b events.Bus) Option { return func(r *Registry) { r.bus = b } }

// WithDeletePolicy sets the field deletion policy.
func WithDeletePolicy(p DeletePolicy) Option { return func(r *Registry) { r.policy = p } }

// WithStore persists every committed schema.
func WithStore(s storage.SchemaStore) Option { return func(r *Registry) { r.store = s } }

// WithCustomRules sets the custom validation rules fields may use.
func WithCustomRules(c validator.CustomRules) Option {
	return func(r *Registry) { r.validator = validator.New(c) }
}

// WithUnknownFieldPolicy sets the policy compiled into record validation plans.
func WithUnknownFieldPolicy(p validator.UnknownFieldPolicy) Option {
	return func(r *Registry) { r.unknown = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		collections: map[string]*collection{},
		slugs:       map[string]string{},
		validator:   validator.New(nil),
		bus:         events.Nop{},
		policy:      DeleteStrict,
		unknown:     validator.UnknownFieldsStrict,
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.lookup == nil {
		r.lookup = r
	}
	return r
}

// DeletePolicy returns the configured field deletion policy.
func (r *Registry) DeletePolicy() DeletePolicy { return r.policy }

// Validator returns the validator the registry compiles schemas with.
func (r *Registry) Validator() *validator.Validator { return r.validator }

// resolveID maps a collection id or slug to an id.
func (r *Registry) resolveID(ref string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.collections[ref]; ok {
		return ref, true
	}
	id, ok := r.slugs[ref]
	return id, ok
}

// ResolveID maps a collection id or slug to the collection id.
func (r *Registry) ResolveID(ref string) (string, bool) { return r.resolveID(ref) }

func (r *Registry) collection(ref string) (*collection, error) {
	id, ok := r.resolveID(ref)
	if ok {
		r.mu.RLock()
		c := r.collections[id]
		r.mu.RUnlock()
		if c != nil {
			return c, nil
		}
	}
	return nil, fmt.Errorf("collection %s: %w", ref, schema.ErrCollectionNotFound)
}

// Snapshot returns the current snapshot of a collection.
func (r *Registry) Snapshot(ref string) (*Snapshot, error) {
	c, err := r.collection(ref)
	if err != nil {
		return nil, err
	}
	return c.snap.Load(), nil
}

// GetSchema returns a copy of the current schema of a collection, by id or
// slug.
func (r *Registry) GetSchema(ref string) (schema.CollectionSchema, error) {
	snap, err := r.Snapshot(ref)
	if err != nil {
		return schema.CollectionSchema{}, err
	}
	return snap.Schema.Clone(), nil
}

// BySlug returns a copy of the schema owning slug.
func (r *Registry) BySlug(slug string) (schema.CollectionSchema, error) {
	r.mu.RLock()
	id, ok := r.slugs[slug]
	r.mu.RUnlock()
	if !ok {
		return schema.CollectionSchema{}, fmt.Errorf("collection %s: %w", slug, schema.ErrCollectionNotFound)
	}
	return r.GetSchema(id)
}

// List returns copies of every schema ordered by slug.
func (r *Registry) List() []schema.CollectionSchema {
	r.mu.RLock()
	out := make([]schema.CollectionSchema, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c.snap.Load().Schema.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// snapshots returns the current snapshot of every collection.
func (r *Registry) snapshots() map[string]*Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Snapshot, len(r.collections))
	for id, c := range r.collections {
		out[id] = c.snap.Load()
	}
	return out
}

// Exists implements CollectionLookup.
func (r *Registry) Exists(_ context.Context, ref string) (bool, error) {
	_, ok := r.resolveID(ref)
	return ok, nil
}

// IsActive implements CollectionLookup.
func (r *Registry) IsActive(_ context.Context, ref string) (bool, error) {
	snap, err := r.Snapshot(ref)
	if err != nil {
		return false, nil
	}
	return snap.Schema.IsActive, nil
}

// Load replaces the registry contents with the schemas held by the store.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.graph.Lock()
	defer r.graph.Unlock()
	schemas, err := r.store.LoadSchemas(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}
	collections := make(map[string]*collection, len(schemas))
	slugs := make(map[string]string, len(schemas))
	for _, s := range schemas {
		snap, err := r.compile(s)
		if err != nil {
			return fmt.Errorf("stored schema %s is invalid: %w", s.Slug, err)
		}
		c := &collection{}
		c.snap.Store(snap)
		collections[s.ID] = c
		slugs[s.Slug] = s.ID
	}
	r.mu.Lock()
	r.collections = collections
	r.slugs = slugs
	r.mu.Unlock()
	r.logger.Info("Loaded collection schemas", slog.Int("count", len(schemas)))
	return nil
}

// compile builds the snapshot of a schema.
func (r *Registry) compile(s schema.CollectionSchema) (*Snapshot, error) {
	plan, err := r.validator.Plan(s, r.unknown)
	if err != nil {
		return nil, err
	}
	order, err := computeOrder(s)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Schema: s, Plan: plan, ComputeOrder: order}, nil
}

// commit persists next and swaps it in as the current snapshot of c. It
// returns the event announcing the change, which the caller publishes once
// the indexes are up to date. r.graph must be held.
func (r *Registry) commit(ctx context.Context, c *collection, next schema.CollectionSchema, e events.Event) (events.Event, error) {
	next.Version++
	next.UpdatedAt = r.now()
	snap, err := r.compile(next)
	if err != nil {
		return events.Event{}, err
	}
	if r.store != nil {
		if err := r.store.SaveSchema(ctx, next); err != nil {
			return events.Event{}, fmt.Errorf("failed to persist schema %s: %w", next.Slug, err)
		}
	}
	c.snap.Store(snap)
	e.CollectionID = next.ID
	e.Slug = next.Slug
	e.Version = next.Version
	return e, nil
}

func (r *Registry) publish(ctx context.Context, e events.Event) {
	e.At = r.now()
	if err := r.bus.Publish(ctx, e); err != nil {
		r.logger.Warn("Failed to publish schema event",
			slog.String("kind", string(e.Kind)),
			slog.String("collection", e.CollectionID),
			slog.Any("error", err))
	}
}

// mutate runs fn against a copy of the current schema of ref and commits
// the result. Nothing is committed when fn or the commit fails.
func (r *Registry) mutate(ctx context.Context, op, ref string, fn func(next *schema.CollectionSchema) (events.Event, error)) (s schema.CollectionSchema, err error) {
	defer func() { r.observe(op, ref, err) }()

	r.graph.Lock()
	defer r.graph.Unlock()
	s, e, err := r.mutateLocked(ctx, ref, fn)
	if err != nil {
		return schema.CollectionSchema{}, err
	}
	r.publish(ctx, e)
	return s, nil
}

// mutateLocked is mutate without locking or publishing. r.graph must be
// held.
func (r *Registry) mutateLocked(ctx context.Context, ref string, fn func(next *schema.CollectionSchema) (events.Event, error)) (schema.CollectionSchema, events.Event, error) {
	c, err := r.collection(ref)
	if err != nil {
		return schema.CollectionSchema{}, events.Event{}, err
	}
	next := c.snap.Load().Schema.Clone()
	e, err := fn(&next)
	if err != nil {
		return schema.CollectionSchema{}, events.Event{}, err
	}
	if e, err = r.commit(ctx, c, next, e); err != nil {
		return schema.CollectionSchema{}, events.Event{}, err
	}
	return c.snap.Load().Schema.Clone(), e, nil
}

func (r *Registry) observe(op, ref string, err error) {
	r.metrics.ObserveMutation(op, err)
	if err != nil {
		r.logger.Debug("Schema mutation rejected",
			slog.String("operation", op),
			slog.String("collection", ref),
			slog.Any("error", err))
		return
	}
	r.logger.Info("Schema mutation committed",
		slog.String("operation", op),
		slog.String("collection", ref))
}

// Package records is the record-facing side of the engine: it validates
// payloads against the current schema snapshot before they are written,
// resolves computed fields on the way out and evaluates views.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cbnsndwch/struktura/events"
	"github.com/cbnsndwch/struktura/metrics"
	"github.com/cbnsndwch/struktura/registry"
	"github.com/cbnsndwch/struktura/resolver"
	"github.com/cbnsndwch/struktura/schema"
	"github.com/cbnsndwch/struktura/storage"
	"github.com/cbnsndwch/struktura/view"
)

// Store is the storage the service reads and writes records through.
type Store interface {
	storage.Reader
	storage.Lister
	storage.Writer
}

type actorKey struct{}

// WithActor returns a context carrying the user recorded as creator or
// modifier of the records written with it.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor carried by ctx.
func ActorFrom(ctx context.Context) string {
	a, _ := ctx.Value(actorKey{}).(string)
	return a
}

// Service validates, stores, resolves and queries records.
type Service struct {
	registry *registry.Registry
	store    Store
	resolver *resolver.Resolver
	bus      events.Bus
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResolver replaces the default resolver, for instance with one that
// caches.
func WithResolver(r *resolver.Resolver) Option { return func(s *Service) { s.resolver = r } }

// WithBus sets the bus record changes are announced on.
func WithBus(b events.Bus) Option { return func(s *Service) { s.bus = b } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// New creates a record service over the schemas of reg and the records of
// store.
func New(reg *registry.Registry, store Store, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		store:    store,
		bus:      events.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = resolver.New(store, reg, resolver.WithMetrics(s.metrics), resolver.WithLogger(s.logger))
	}
	return s
}

// Validate checks a payload against the current schema of a collection
// without writing it.
func (s *Service) Validate(_ context.Context, ref string, payload schema.Record) (schema.Outcome, error) {
	snap, err := s.registry.Snapshot(ref)
	if err != nil {
		return schema.Outcome{}, err
	}
	out := snap.Plan.Validate(payload)
	s.metrics.ObserveValidation(snap.Schema.Slug, out)
	return out, nil
}

// Create validates payload and stores the coerced record. An invalid
// payload, including a repeated unique value, returns *schema.RecordError.
func (s *Service) Create(ctx context.Context, ref string, payload schema.Record) (schema.Entry, error) {
	snap, err := s.registry.Snapshot(ref)
	if err != nil {
		return schema.Entry{}, err
	}
	out := snap.Plan.Validate(payload)
	s.metrics.ObserveValidation(snap.Schema.Slug, out)
	if err := out.Err(snap.Schema.ID); err != nil {
		return schema.Entry{}, err
	}

	e, err := s.store.Insert(ctx, snap.Schema.ID, out.Record, s.writeOptions(ctx, snap))
	if err != nil {
		return schema.Entry{}, s.writeError(snap, err)
	}
	s.publish(ctx, events.RecordCreated, snap, e.Meta.ID)
	return s.resolve(ctx, snap, e)
}

// Update validates payload and replaces the stored data of record id with
// the coerced record.
func (s *Service) Update(ctx context.Context, ref, id string, payload schema.Record) (schema.Entry, error) {
	snap, err := s.registry.Snapshot(ref)
	if err != nil {
		return schema.Entry{}, err
	}
	out := snap.Plan.Validate(payload)
	s.metrics.ObserveValidation(snap.Schema.Slug, out)
	if err := out.Err(snap.Schema.ID); err != nil {
		return schema.Entry{}, err
	}

	e, err := s.store.Update(ctx, snap.Schema.ID, id, out.Record, s.writeOptions(ctx, snap))
	if err != nil {
		return schema.Entry{}, s.writeError(snap, err)
	}
	s.publish(ctx, events.RecordUpdated, snap, id)
	return s.resolve(ctx, snap, e)
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, ref, id string) error {
	snap, err := s.registry.Snapshot(ref)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, snap.Schema.ID, id); err != nil {
		return fmt.Errorf("failed to delete record %s of %s: %w", id, snap.Schema.Slug, err)
	}
	s.publish(ctx, events.RecordDeleted, snap, id)
	return nil
}

// Get returns a record with its computed fields resolved.
func (s *Service) Get(ctx context.Context, ref, id string) (schema.Entry, error) {
	snap, err := s.registry.Snapshot(ref)
	if err != nil {
		return schema.Entry{}, err
	}
	e, err := s.store.FetchByID(ctx, snap.Schema.ID, id)
	if err != nil {
		return schema.Entry{}, fmt.Errorf("failed to fetch record %s of %s: %w", id, snap.Schema.Slug, err)
	}
	return s.resolve(ctx, snap, e)
}

// Query evaluates a saved view over every record of a collection. An empty
// view name shows every field of every record in creation order.
func (s *Service) Query(ctx context.Context, ref, viewName string, opts ...view.Option) (view.Result, error) {
	snap, err := s.registry.Snapshot(ref)
	if err != nil {
		return view.Result{}, err
	}
	v := schema.ViewDefinition{Type: schema.ViewTable}
	if viewName != "" {
		var ok bool
		if v, ok = snap.Schema.View(viewName); !ok {
			return view.Result{}, fmt.Errorf("view %s of collection %s: %w", viewName, snap.Schema.Slug, schema.ErrViewNotFound)
		}
	}

	entries, err := s.store.List(ctx, snap.Schema.ID)
	if err != nil {
		return view.Result{}, fmt.Errorf("failed to list records of %s: %w", snap.Schema.Slug, err)
	}
	rows := make([]schema.Entry, 0, len(entries))
	for _, e := range entries {
		r, err := s.resolve(ctx, snap, e)
		if err != nil {
			return view.Result{}, err
		}
		rows = append(rows, r)
	}
	return view.Apply(v, snap.Schema, rows, opts...), nil
}

func (s *Service) resolve(ctx context.Context, snap *registry.Snapshot, e schema.Entry) (schema.Entry, error) {
	data, err := s.resolver.Merge(ctx, snap, e)
	if err != nil {
		return schema.Entry{}, err
	}
	return schema.Entry{Meta: e.Meta, Data: data}, nil
}

func (s *Service) writeOptions(ctx context.Context, snap *registry.Snapshot) storage.WriteOptions {
	return storage.WriteOptions{Unique: snap.Plan.UniqueFields(), Actor: ActorFrom(ctx)}
}

// writeError turns a unique violation reported by storage into a record
// violation carrying the rule's message.
func (s *Service) writeError(snap *registry.Snapshot, err error) error {
	var ue *storage.UniqueError
	if !errors.As(err, &ue) {
		return fmt.Errorf("failed to store record of %s: %w", snap.Schema.Slug, err)
	}
	msg := fmt.Sprintf("%s must be unique", ue.Field)
	if def, ok := snap.Schema.Field(ue.Field); ok {
		for _, r := range def.Validations {
			if r.Kind == schema.RuleUnique && r.Message != "" {
				msg = r.Message
			}
		}
	}
	return &schema.RecordError{
		CollectionID: snap.Schema.ID,
		Violations:   schema.Violations{{Field: ue.Field, Code: schema.CodeUnique, Message: msg}},
	}
}

func (s *Service) publish(ctx context.Context, kind events.Kind, snap *registry.Snapshot, id string) {
	e := events.Event{Kind: kind, CollectionID: snap.Schema.ID, Slug: snap.Schema.Slug, RecordID: id, Version: snap.Schema.Version, At: time.Now().UTC()}
	if err := s.bus.Publish(ctx, e); err != nil {
		s.logger.Warn("Failed to publish record event",
			slog.String("kind", string(kind)),
			slog.String("record", id),
			slog.Any("error", err))
	}
}

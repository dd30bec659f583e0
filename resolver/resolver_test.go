package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbnsndwch/struktura/events"
	"github.com/cbnsndwch/struktura/metrics"
	"github.com/cbnsndwch/struktura/registry"
	"github.com/cbnsndwch/struktura/schema"
	"github.com/cbnsndwch/struktura/storage"
)

type fixture struct {
	reg       *registry.Registry
	store     *storage.MemoryStore
	customers *registry.Snapshot
	orders    *registry.Snapshot
}

func rollup(name string, fn schema.RollupFunction, target string) schema.FieldDefinition {
	return schema.FieldDefinition{Name: name, Type: schema.TypeRollup, Options: &schema.RollupOptions{
		ReferencedCollection: "orders",
		RelationField:        "customer",
		TargetField:          target,
		Function:             fn,
	}}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	reg := registry.New()
	_, err := reg.CreateCollection(ctx, registry.CollectionInput{
		Name:   "Customers",
		Fields: []schema.FieldDefinition{{Name: "name", Type: schema.TypeText}},
	})
	require.NoError(t, err)
	_, err = reg.CreateCollection(ctx, registry.CollectionInput{
		Name: "Orders",
		Fields: []schema.FieldDefinition{
			{Name: "number", Type: schema.TypeAutoIncrement, Options: &schema.AutoIncrementOptions{Prefix: "ORD-", StartAt: 100}},
			{Name: "customer", Type: schema.TypeReference, Options: &schema.ReferenceOptions{ReferencedCollection: "customers"}},
			{Name: "amount", Type: schema.TypeNumber},
			{Name: "customerName", Type: schema.TypeLookup, Options: &schema.LookupOptions{
				ReferencedCollection: "customers", ReferenceField: "customer", DisplayField: "name",
			}},
			{Name: "double", Type: schema.TypeFormula, Options: &schema.FormulaOptions{Formula: "{amount} * 2"}},
			{Name: "label", Type: schema.TypeFormula, Options: &schema.FormulaOptions{Formula: `{number} & " for " & {customerName}`}},
			{Name: "created", Type: schema.TypeCreatedTime},
			{Name: "author", Type: schema.TypeCreatedBy},
		},
	})
	require.NoError(t, err)
	for _, def := range []schema.FieldDefinition{
		rollup("orderCount", schema.RollupCount, ""),
		rollup("spent", schema.RollupSum, "amount"),
		rollup("average", schema.RollupAvg, "amount"),
		rollup("largest", schema.RollupMax, "amount"),
		rollup("numbers", schema.RollupConcat, "number"),
	} {
		_, err := reg.CreateField(ctx, "customers", def)
		require.NoError(t, err)
	}

	f := &fixture{reg: reg, store: storage.NewMemoryStore()}
	f.refresh(t)
	return f
}

func (f *fixture) refresh(t *testing.T) {
	var err error
	f.customers, err = f.reg.Snapshot("customers")
	require.NoError(t, err)
	f.orders, err = f.reg.Snapshot("orders")
	require.NoError(t, err)
}

func (f *fixture) insert(t *testing.T, snap *registry.Snapshot, data schema.Record) schema.Entry {
	t.Helper()
	e, err := f.store.Insert(context.Background(), snap.Schema.ID, data, storage.WriteOptions{Actor: "u1"})
	require.NoError(t, err)
	return e
}

func TestResolveOrder(t *testing.T) {
	f := newFixture(t)
	ada := f.insert(t, f.customers, schema.Record{"name": "Ada"})
	order := f.insert(t, f.orders, schema.Record{"customer": ada.Meta.ID, "amount": 10.0})
	before := order.Data.Clone()

	got, err := New(f.store, f.reg).Resolve(context.Background(), f.orders, order)
	require.NoError(t, err)

	assert.Equal(t, "ORD-100", got["number"])
	assert.Equal(t, "Ada", got["customerName"])
	assert.Equal(t, 20.0, got["double"])
	assert.Equal(t, "ORD-100 for Ada", got["label"])
	assert.Equal(t, "u1", got["author"])
	assert.IsType(t, time.Time{}, got["created"])
	assert.Equal(t, before, order.Data, "entry is not modified")
}

func TestResolveRollups(t *testing.T) {
	f := newFixture(t)
	ada := f.insert(t, f.customers, schema.Record{"name": "Ada"})
	f.insert(t, f.orders, schema.Record{"customer": ada.Meta.ID, "amount": 10.0})
	f.insert(t, f.orders, schema.Record{"customer": ada.Meta.ID, "amount": 30.0})
	f.insert(t, f.orders, schema.Record{"customer": "someone-else", "amount": 99.0})

	got, err := New(f.store, f.reg).Resolve(context.Background(), f.customers, ada)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got["orderCount"])
	assert.Equal(t, 40.0, got["spent"])
	assert.Equal(t, 20.0, got["average"])
	assert.Equal(t, 30.0, got["largest"])
	assert.Equal(t, "ORD-100, ORD-101", got["numbers"])
}

func TestResolveEmptyRollups(t *testing.T) {
	f := newFixture(t)
	lonely := f.insert(t, f.customers, schema.Record{"name": "Grace"})

	got, err := New(f.store, f.reg).Resolve(context.Background(), f.customers, lonely)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got["orderCount"])
	assert.Equal(t, 0.0, got["spent"])
	assert.Equal(t, "", got["numbers"])
	assert.NotContains(t, got, "average")
	assert.NotContains(t, got, "largest")
}

func TestResolveMissingRelated(t *testing.T) {
	f := newFixture(t)
	order := f.insert(t, f.orders, schema.Record{"customer": "deleted-customer", "amount": 5.0})

	got, err := New(f.store, f.reg).Resolve(context.Background(), f.orders, order)
	require.NoError(t, err)
	assert.NotContains(t, got, "customerName")
	assert.Equal(t, "ORD-100 for ", got["label"], "& formats absent values as empty text")
	assert.Equal(t, 10.0, got["double"])
}

func TestResolveCancelledFetch(t *testing.T) {
	f := newFixture(t)
	ada := f.insert(t, f.customers, schema.Record{"name": "Ada"})
	order := f.insert(t, f.orders, schema.Record{"customer": ada.Meta.ID, "amount": 5.0})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := New(f.store, f.reg).Resolve(ctx, f.orders, order)
	require.NoError(t, err)
	assert.NotContains(t, got, "customerName")
	assert.Equal(t, "ORD-100", got["number"])
}

func TestMerge(t *testing.T) {
	f := newFixture(t)
	ada := f.insert(t, f.customers, schema.Record{"name": "Ada"})
	order := f.insert(t, f.orders, schema.Record{"customer": ada.Meta.ID, "amount": 7.0, "stale": "x"})

	got, err := New(f.store, f.reg).Merge(context.Background(), f.orders, order)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got["amount"])
	assert.Equal(t, "Ada", got["customerName"])
	assert.NotContains(t, got, "stale")
}

func TestCache(t *testing.T) {
	f := newFixture(t)
	bus := events.NewLocalBus()
	cache := NewCache(0)
	bus.Subscribe(cache.Handle)
	reg := prometheus.NewRegistry()
	r := New(f.store, f.reg, WithCache(cache), WithMetrics(metrics.New(reg)))
	ctx := context.Background()

	ada := f.insert(t, f.customers, schema.Record{"name": "Ada"})
	f.insert(t, f.orders, schema.Record{"customer": ada.Meta.ID, "amount": 10.0})

	first, err := r.Resolve(ctx, f.customers, ada)
	require.NoError(t, err)
	second, err := r.Resolve(ctx, f.customers, ada)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.Len())

	// a new order changes the rollups of its customer
	e := f.insert(t, f.orders, schema.Record{"customer": ada.Meta.ID, "amount": 5.0})
	require.NoError(t, bus.Publish(ctx, events.Event{Kind: events.RecordCreated, CollectionID: f.orders.Schema.ID, RecordID: e.Meta.ID}))
	assert.Equal(t, 0, cache.Len())

	third, err := r.Resolve(ctx, f.customers, ada)
	require.NoError(t, err)
	assert.Equal(t, 15.0, third["spent"])

	// unrelated collections leave entries alone
	require.NoError(t, bus.Publish(ctx, events.Event{Kind: events.CollectionCreated, CollectionID: "other"}))
	assert.Equal(t, 1, cache.Len())

	count, err := testutil.GatherAndCount(reg, "struktura_resolve_cache_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "hit and miss series")
}

func TestReduce(t *testing.T) {
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		fn     schema.RollupFunction
		values []any
		want   any
	}{
		{name: "count empty", fn: schema.RollupCount, want: 0.0},
		{name: "sum empty", fn: schema.RollupSum, want: 0.0},
		{name: "avg empty", fn: schema.RollupAvg, want: nil},
		{name: "min empty", fn: schema.RollupMin, want: nil},
		{name: "max empty", fn: schema.RollupMax, want: nil},
		{name: "concat empty", fn: schema.RollupConcat, want: ""},
		{name: "sum skips non-numbers", fn: schema.RollupSum, values: []any{1.0, "x", nil, 2.0}, want: 3.0},
		{name: "min numbers", fn: schema.RollupMin, values: []any{3.0, 1.0, 2.0}, want: 1.0},
		{name: "max dates", fn: schema.RollupMax, values: []any{d1, d2}, want: d2},
		{name: "concat skips blanks", fn: schema.RollupConcat, values: []any{"a", "", nil, 2.0}, want: "a, 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reduce(tt.fn, tt.values))
		})
	}
}

func TestAutoIncrementDefaults(t *testing.T) {
	def := schema.FieldDefinition{Name: "n", Type: schema.TypeAutoIncrement}
	assert.Equal(t, 3.0, system(def, schema.RecordMeta{Seq: 3}))
	assert.Nil(t, system(def, schema.RecordMeta{}))
}

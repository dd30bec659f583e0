package diff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbnsndwch/struktura/registry"
	"github.com/cbnsndwch/struktura/schema"
)

func types(ops []Operation) []OperationType {
	out := make([]OperationType, len(ops))
	for i, op := range ops {
		out[i] = op.Type
	}
	return out
}

func shop() []registry.CollectionInput {
	return []registry.CollectionInput{
		{
			Name: "Customers",
			Fields: []schema.FieldDefinition{
				{Name: "name", Type: schema.TypeText, Required: true},
				{Name: "orderCount", Type: schema.TypeRollup, Options: &schema.RollupOptions{
					ReferencedCollection: "orders",
					RelationField:        "customer",
					TargetField:          "amount",
					Function:             schema.RollupCount,
				}},
			},
		},
		{
			Name: "Orders",
			Fields: []schema.FieldDefinition{
				{Name: "customer", Type: schema.TypeReference, Options: &schema.ReferenceOptions{ReferencedCollection: "customers"}},
				{Name: "customerName", Type: schema.TypeLookup, Options: &schema.LookupOptions{
					ReferencedCollection: "customers",
					ReferenceField:       "customer",
					DisplayField:         "name",
				}},
				{Name: "double", Type: schema.TypeFormula, Options: &schema.FormulaOptions{Formula: "amount * 2"}},
				{Name: "amount", Type: schema.TypeNumber},
			},
		},
	}
}

func TestCreateFromScratch(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()

	ops := Collections(shop(), nil)
	assert.Equal(t, []OperationType{
		CreateCollection, CreateCollection,
		AddField,                     // orders.customer
		AddField, AddField, AddField, // rollup, lookup, formula
	}, types(ops))
	assert.Equal(t, []string{"name"}, fieldNames(ops[0].Input.Fields))
	assert.Equal(t, []string{"amount"}, fieldNames(ops[1].Input.Fields))

	n, err := Apply(ctx, reg, ops)
	require.NoError(t, err)
	assert.Equal(t, len(ops), n)

	orders, err := reg.BySlug("orders")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"customer", "customerName", "double", "amount"}, orders.FieldNames())

	assert.Empty(t, Collections(shop(), reg.List()), "applied plan converges")
}

func TestEvolve(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	_, err := Apply(ctx, reg, Collections(shop(), nil))
	require.NoError(t, err)

	desired := shop()
	desired[0].Description = "People who buy"
	desired[1].Fields = []schema.FieldDefinition{
		{Name: "customer", Type: schema.TypeReference, Options: &schema.ReferenceOptions{ReferencedCollection: "customers"}},
		{Name: "amount", Type: schema.TypeNumber, Required: true},
		{Name: "double", Type: schema.TypeFormula, Options: &schema.FormulaOptions{Formula: "amount * 3 + tip"}},
		{Name: "tip", Type: schema.TypeNumber},
	}
	desired[1].Views = []schema.ViewDefinition{{
		Name:          "Big",
		Type:          schema.ViewTable,
		VisibleFields: []string{"amount", "tip"},
		Filter:        &schema.Filter{Field: "amount", Op: schema.OpGt, Value: 10},
	}}

	ops := Collections(desired, reg.List())
	assert.Equal(t, []OperationType{UpdateCollection, UpdateField, AddField, UpdateField, AddView, DropField}, types(ops))
	assert.Equal(t, "customerName", ops[5].FieldName)

	_, err = Apply(ctx, reg, ops)
	require.NoError(t, err)
	assert.Empty(t, Collections(desired, reg.List()))

	customers, err := reg.BySlug("customers")
	require.NoError(t, err)
	assert.Equal(t, "People who buy", customers.Description)
}

func TestReplaceAndDropView(t *testing.T) {
	current := []schema.CollectionSchema{{
		ID:       "c1",
		Name:     "Tasks",
		Slug:     "tasks",
		IsActive: true,
		Fields: []schema.FieldDefinition{
			{Name: "title", Type: schema.TypeText},
			{Name: "due", Type: schema.TypeText},
		},
		Views: []schema.ViewDefinition{
			{Name: "All", Type: schema.ViewTable},
			{Name: "Due", Type: schema.ViewTable, Sort: []schema.SortKey{{Field: "due"}}},
		},
	}}
	desired := []registry.CollectionInput{{
		Name: "Tasks",
		Fields: []schema.FieldDefinition{
			{Name: "title", Type: schema.TypeText},
			{Name: "due", Type: schema.TypeDate},
		},
		Views: []schema.ViewDefinition{{Name: "All", Type: schema.ViewGrid}},
	}}

	ops := Collections(desired, current)
	assert.Equal(t, []OperationType{DropView, ReplaceField, UpdateView}, types(ops))
	assert.Equal(t, "DROP_VIEW tasks/Due", ops[0].String())
	assert.Equal(t, "REPLACE_FIELD tasks.due -> date", ops[1].String())
}

func TestPrune(t *testing.T) {
	current := []schema.CollectionSchema{
		{ID: "p", Slug: "projects", IsActive: true, Fields: []schema.FieldDefinition{{Name: "name", Type: schema.TypeText}}},
		{ID: "t", Slug: "tasks", IsActive: true, Fields: []schema.FieldDefinition{
			{Name: "project", Type: schema.TypeReference, Options: &schema.ReferenceOptions{ReferencedCollection: "p"}},
		}},
	}

	assert.Empty(t, Collections(nil, current), "nothing is dropped without pruning")

	ops := Collections(nil, current, WithPrune())
	require.Len(t, ops, 2)
	assert.Equal(t, "tasks", ops[0].Collection, "referrers go first")
	assert.Equal(t, "projects", ops[1].Collection)

	reg := registry.New()
	ctx := context.Background()
	_, err := reg.CreateCollection(ctx, registry.CollectionInput{ID: "p", Name: "Projects", Fields: current[0].Fields})
	require.NoError(t, err)
	_, err = reg.CreateCollection(ctx, registry.CollectionInput{ID: "t", Name: "Tasks", Fields: current[1].Fields})
	require.NoError(t, err)

	n, err := Apply(ctx, reg, ops)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, reg.List())
}

func TestApplyStopsAtFirstFailure(t *testing.T) {
	reg := registry.New()
	ops := []Operation{
		{Type: AddField, Collection: "missing", Field: &schema.FieldDefinition{Name: "x", Type: schema.TypeText}},
		{Type: AddView, Collection: "missing", View: &schema.ViewDefinition{Name: "v", Type: schema.ViewTable}},
	}
	n, err := Apply(context.Background(), reg, ops)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, schema.ErrCollectionNotFound)
	assert.ErrorContains(t, err, "ADD_FIELD missing.x (text)")
}

func fieldNames(fs []schema.FieldDefinition) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Name
	}
	return out
}

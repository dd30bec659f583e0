package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbnsndwch/struktura/schema"
)

func people() schema.CollectionSchema {
	return schema.CollectionSchema{
		ID:   "people",
		Slug: "people",
		Fields: []schema.FieldDefinition{
			{Name: "name", Type: schema.TypeText},
			{Name: "age", Type: schema.TypeNumber},
			{Name: "status", Type: schema.TypeSelect, Options: &schema.SelectOptions{Choices: []schema.Choice{
				{Value: "todo"}, {Value: "doing"}, {Value: "done"},
			}}},
			{Name: "tags", Type: schema.TypeMultiSelect, Options: &schema.SelectOptions{Choices: []schema.Choice{
				{Value: "a"}, {Value: "b"},
			}}},
			{Name: "born", Type: schema.TypeDate},
		},
	}
}

func entries(data ...schema.Record) []schema.Entry {
	out := make([]schema.Entry, len(data))
	for i, d := range data {
		out[i] = schema.Entry{Meta: schema.RecordMeta{ID: string(rune('a' + i)), Seq: int64(i + 1)}, Data: d}
	}
	return out
}

func ids(rows []schema.Entry) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Meta.ID
	}
	return out
}

func TestSortAndProject(t *testing.T) {
	rows := entries(
		schema.Record{"name": "x", "age": 30.0},
		schema.Record{"name": "y", "age": 10.0},
		schema.Record{"name": "z", "age": 20.0},
	)
	v := schema.ViewDefinition{
		Name:          "By age",
		Type:          schema.ViewTable,
		VisibleFields: []string{"age"},
		Sort:          []schema.SortKey{{Field: "age", Direction: schema.Asc}},
	}

	res := Apply(v, people(), rows)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, []schema.Record{{"age": 10.0}, {"age": 20.0}, {"age": 30.0}}, []schema.Record{res.Rows[0].Data, res.Rows[1].Data, res.Rows[2].Data})
	assert.Equal(t, []string{"age"}, res.Fields)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, "x", rows[0].Data["name"], "input rows are untouched")
}

func TestSortAbsentLastAndStable(t *testing.T) {
	rows := entries(
		schema.Record{"age": 5.0},
		schema.Record{},
		schema.Record{"age": 7.0},
		schema.Record{"age": 5.0},
	)
	for _, dir := range []schema.Direction{schema.Asc, schema.Desc} {
		t.Run(string(dir), func(t *testing.T) {
			res := Apply(schema.ViewDefinition{Sort: []schema.SortKey{{Field: "age", Direction: dir}}}, people(), rows)
			want := []string{"a", "d", "c", "b"}
			if dir == schema.Desc {
				want = []string{"c", "a", "d", "b"}
			}
			assert.Equal(t, want, ids(res.Rows))
		})
	}
}

func TestSortByChoiceOrderThenName(t *testing.T) {
	rows := entries(
		schema.Record{"status": "done", "name": "b"},
		schema.Record{"status": "todo", "name": "z"},
		schema.Record{"status": "done", "name": "a"},
		schema.Record{"status": "doing", "name": "m"},
	)
	res := Apply(schema.ViewDefinition{Sort: []schema.SortKey{{Field: "status"}, {Field: "name"}}}, people(), rows)
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids(res.Rows))
}

func TestFilter(t *testing.T) {
	rows := entries(
		schema.Record{"name": "Ada Lovelace", "age": 36.0, "status": "done", "tags": []string{"a"}, "born": time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC)},
		schema.Record{"name": "Grace Hopper", "age": 85.0, "status": "doing", "tags": []string{"a", "b"}},
		schema.Record{"name": "Alan", "status": "todo"},
	)

	tests := []struct {
		name   string
		filter schema.Filter
		want   []string
	}{
		{name: "eq coerces", filter: schema.Filter{Field: "age", Op: schema.OpEq, Value: "36"}, want: []string{"a"}},
		{name: "neq", filter: schema.Filter{Field: "status", Op: schema.OpNeq, Value: "done"}, want: []string{"b", "c"}},
		{name: "gt skips absent", filter: schema.Filter{Field: "age", Op: schema.OpGt, Value: 40}, want: []string{"b"}},
		{name: "lte", filter: schema.Filter{Field: "age", Op: schema.OpLte, Value: 36}, want: []string{"a"}},
		{name: "contains text", filter: schema.Filter{Field: "name", Op: schema.OpContains, Value: "HOP"}, want: []string{"b"}},
		{name: "contains list", filter: schema.Filter{Field: "tags", Op: schema.OpContains, Value: "b"}, want: []string{"b"}},
		{name: "eq list member", filter: schema.Filter{Field: "tags", Op: schema.OpEq, Value: "a"}, want: []string{"a", "b"}},
		{name: "in", filter: schema.Filter{Field: "status", Op: schema.OpIn, Value: []any{"todo", "done"}}, want: []string{"a", "c"}},
		{name: "empty", filter: schema.Filter{Field: "age", Op: schema.OpEmpty}, want: []string{"c"}},
		{name: "not empty", filter: schema.Filter{Field: "born", Op: schema.OpNotEmpty}, want: []string{"a"}},
		{name: "date", filter: schema.Filter{Field: "born", Op: schema.OpLt, Value: "1900-01-01"}, want: []string{"a"}},
		{
			name: "and/or",
			filter: schema.Filter{
				And: []schema.Filter{{Field: "name", Op: schema.OpContains, Value: "a"}},
				Or:  []schema.Filter{{Field: "status", Op: schema.OpEq, Value: "todo"}, {Field: "age", Op: schema.OpGte, Value: 80}},
			},
			want: []string{"b", "c"},
		},
		{name: "missing field fails closed", filter: schema.Filter{Field: "deleted", Op: schema.OpEmpty}, want: []string{}},
		{
			name: "missing field inside or fails closed",
			filter: schema.Filter{Or: []schema.Filter{
				{Field: "name", Op: schema.OpNotEmpty},
				{Field: "deleted", Op: schema.OpEq, Value: 1},
			}},
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.filter
			res := Apply(schema.ViewDefinition{Filter: &f}, people(), rows)
			assert.Equal(t, tt.want, ids(res.Rows))
			assert.Equal(t, len(tt.want), res.Total)
		})
	}
}

func TestGroup(t *testing.T) {
	rows := entries(
		schema.Record{"name": "a", "status": "done"},
		schema.Record{"name": "b"},
		schema.Record{"name": "c", "status": "todo"},
		schema.Record{"name": "d", "status": "done"},
	)
	res := Apply(schema.ViewDefinition{
		Type:          schema.ViewKanban,
		VisibleFields: []string{"name"},
		Group:         &schema.GroupExpression{Field: "status"},
	}, people(), rows)

	require.Len(t, res.Groups, 3)
	assert.Equal(t, "todo", res.Groups[0].Key)
	assert.Equal(t, []string{"c"}, ids(res.Groups[0].Rows))
	assert.Equal(t, "done", res.Groups[1].Key)
	assert.Equal(t, []string{"a", "d"}, ids(res.Groups[1].Rows))
	assert.True(t, res.Groups[2].Ungrouped)
	assert.Equal(t, []string{"b"}, ids(res.Groups[2].Rows))
	assert.Equal(t, schema.Record{"name": "c"}, res.Groups[0].Rows[0].Data, "group field need not be visible")

	t.Run("descending keeps ungrouped last", func(t *testing.T) {
		res := Apply(schema.ViewDefinition{Group: &schema.GroupExpression{Field: "age", Direction: schema.Desc}}, people(), entries(
			schema.Record{"age": 1.0},
			schema.Record{},
			schema.Record{"age": 3.0},
		))
		require.Len(t, res.Groups, 3)
		assert.Equal(t, 3.0, res.Groups[0].Key)
		assert.Equal(t, 1.0, res.Groups[1].Key)
		assert.True(t, res.Groups[2].Ungrouped)
	})
}

func TestPagination(t *testing.T) {
	var data []schema.Record
	for i := 0; i < 10; i++ {
		data = append(data, schema.Record{"age": float64(10 - i)})
	}
	rows := entries(data...)
	v := schema.ViewDefinition{Sort: []schema.SortKey{{Field: "age"}}}

	res := Apply(v, people(), rows, WithPage(2, 3))
	assert.Equal(t, 10, res.Total)
	require.Len(t, res.Rows, 3)
	assert.Equal(t, 3.0, res.Rows[0].Data["age"])
	assert.Equal(t, 5.0, res.Rows[2].Data["age"])

	assert.Empty(t, Apply(v, people(), rows, WithPage(20, 5)).Rows)
	assert.Len(t, Apply(v, people(), rows, WithPage(8, 0)).Rows, 2)
}

func TestProjectionDefaultsToSchemaOrder(t *testing.T) {
	res := Apply(schema.ViewDefinition{VisibleFields: nil}, people(), entries(schema.Record{"name": "x"}))
	assert.Equal(t, []string{"name", "age", "status", "tags", "born"}, res.Fields)

	res = Apply(schema.ViewDefinition{VisibleFields: []string{"gone", "name"}}, people(), entries(schema.Record{"name": "x"}))
	assert.Equal(t, []string{"name"}, res.Fields)
}

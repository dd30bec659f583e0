package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOptions(t *testing.T) {
	t.Run("illegal key on text", func(t *testing.T) {
		opts, vs := DecodeOptions("title", TypeText, map[string]any{"precision": 2})
		assert.Nil(t, opts)
		require.Len(t, vs, 1)
		assert.Equal(t, CodeOptions, vs[0].Code)
		assert.Equal(t, "title", vs[0].Field)
	})

	t.Run("number precision from yaml int", func(t *testing.T) {
		opts, vs := DecodeOptions("age", TypeNumber, map[string]any{"precision": 0})
		require.Empty(t, vs)
		num, ok := opts.(*NumberOptions)
		require.True(t, ok)
		require.NotNil(t, num.Precision)
		assert.Equal(t, 0, *num.Precision)
	})

	t.Run("choices as strings and maps", func(t *testing.T) {
		opts, vs := DecodeOptions("status", TypeSelect, map[string]any{
			"choices": []any{"todo", map[string]any{"value": "done", "label": "Done"}},
		})
		require.Empty(t, vs)
		sel := opts.(*SelectOptions)
		assert.Equal(t, []Choice{{Value: "todo"}, {Value: "done", Label: "Done"}}, sel.Choices)
		assert.Equal(t, 1, sel.Index("done"))
		assert.Equal(t, -1, sel.Index("nope"))
	})

	t.Run("wrong value kind and illegal key reported together", func(t *testing.T) {
		_, vs := DecodeOptions("owner", TypeReference, map[string]any{
			"referencedCollection": 42,
			"choices":              []any{"a"},
		})
		assert.Len(t, vs, 2)
	})

	t.Run("rollup", func(t *testing.T) {
		opts, vs := DecodeOptions("total", TypeRollup, map[string]any{
			"referencedCollection": "orders",
			"relationField":        "customer",
			"targetField":          "amount",
			"rollupFunction":       "sum",
		})
		require.Empty(t, vs)
		assert.Equal(t, &RollupOptions{
			ReferencedCollection: "orders",
			RelationField:        "customer",
			TargetField:          "amount",
			Function:             RollupSum,
		}, opts)
		assert.Equal(t, "orders", ReferencedCollection(opts))
	})
}

func TestFieldDefinitionJSON(t *testing.T) {
	precision := 2
	def := FieldDefinition{
		Name:         "price",
		Type:         TypeCurrency,
		Required:     true,
		DefaultValue: 0.0,
		Validations:  []ValidationRule{{Kind: RuleMin, Value: "0"}},
		Options:      &CurrencyOptions{Precision: &precision, Code: "USD"},
	}

	data, err := json.Marshal(def)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"currency"`)

	var back FieldDefinition
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, def.Name, back.Name)
	assert.Equal(t, TypeCurrency, back.Type)
	assert.Equal(t, def.Options, back.Options)
	assert.Equal(t, def.Validations, back.Validations)

	t.Run("unknown stored type is an error", func(t *testing.T) {
		var f FieldDefinition
		err := json.Unmarshal([]byte(`{"name":"x","type":"money"}`), &f)
		assert.ErrorIs(t, err, ErrUnknownType)
	})
}

func TestViewWithoutField(t *testing.T) {
	view := ViewDefinition{
		Name:          "Board",
		Type:          ViewKanban,
		VisibleFields: []string{"title", "status", "age"},
		Filter: &Filter{And: []Filter{
			{Field: "age", Op: OpGte, Value: 18},
			{Or: []Filter{{Field: "age", Op: OpLt, Value: 65}}},
			{Field: "title", Op: OpNotEmpty},
		}},
		Sort:  []SortKey{{Field: "age", Direction: Desc}, {Field: "title"}},
		Group: &GroupExpression{Field: "status"},
	}

	assert.True(t, view.References("age"))
	assert.Equal(t, []string{"title", "status", "age"}, view.ReferencedFields())

	stripped := view.WithoutField("age")
	assert.False(t, stripped.References("age"))
	assert.Equal(t, []string{"title", "status"}, stripped.VisibleFields)
	assert.Equal(t, []SortKey{{Field: "title"}}, stripped.Sort)
	require.NotNil(t, stripped.Filter)
	assert.Equal(t, []string{"title"}, stripped.Filter.Fields())
	assert.Equal(t, view.Group, stripped.Group)
	assert.Equal(t, view.Name, stripped.Name)
	assert.Equal(t, view.Type, stripped.Type)

	// the original is untouched
	assert.Len(t, view.VisibleFields, 3)

	onlyGroup := view.WithoutField("status")
	assert.Nil(t, onlyGroup.Group)
}

func TestFilterWithoutEverything(t *testing.T) {
	f := Filter{Or: []Filter{{Field: "a", Op: OpEq, Value: 1}, {Field: "a", Op: OpEq, Value: 2}}}
	assert.Nil(t, f.Without("a"))
}

func TestRecordClone(t *testing.T) {
	r := Record{"tags": []any{"a"}, "meta": map[string]any{"k": "v"}}
	c := r.Clone()
	c["tags"].([]any)[0] = "b"
	c["meta"].(map[string]any)["k"] = "w"
	assert.Equal(t, "a", r["tags"].([]any)[0])
	assert.Equal(t, "v", r["meta"].(map[string]any)["k"])
}

func TestOutcome(t *testing.T) {
	ok := Valid(Record{"age": 30.0})
	assert.True(t, ok.IsValid())
	assert.NoError(t, ok.Err("people"))

	bad := Invalid(Violations{{Field: "age", Code: CodeMin, Message: "too small"}})
	assert.False(t, bad.IsValid())
	err := bad.Err("people")
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Contains(t, err.Error(), "age (min): too small")
}

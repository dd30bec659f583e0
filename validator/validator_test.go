package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbnsndwch/struktura/schema"
)

func intPtr(n int) *int { return &n }

func violationsOf(t *testing.T, err error) schema.Violations {
	t.Helper()
	var de *schema.DefinitionError
	require.True(t, errors.As(err, &de), "expected *schema.DefinitionError, got %v", err)
	return de.Violations
}

func TestFieldValid(t *testing.T) {
	tests := []schema.FieldDefinition{
		{Name: "title", Type: schema.TypeText, Required: true, Validations: []schema.ValidationRule{
			{Kind: schema.RuleMin, Value: "3"},
			{Kind: schema.RulePattern, Value: `^[A-Z]`},
		}},
		{Name: "age", Type: schema.TypeNumber, DefaultValue: 18, Validations: []schema.ValidationRule{
			{Kind: schema.RuleMin, Value: "0"},
			{Kind: schema.RuleMax, Value: "150"},
		}},
		{Name: "price", Type: schema.TypeCurrency, Options: &schema.CurrencyOptions{Precision: intPtr(2), Code: "EUR"}},
		{Name: "status", Type: schema.TypeSelect, DefaultValue: "open", Options: &schema.SelectOptions{Choices: []schema.Choice{{Value: "open"}, {Value: "closed"}}}},
		{Name: "owner", Type: schema.TypeReference, Options: &schema.ReferenceOptions{ReferencedCollection: "users"}},
		{Name: "total", Type: schema.TypeRollup, Options: &schema.RollupOptions{ReferencedCollection: "items", RelationField: "order", TargetField: "amount", Function: schema.RollupSum}},
		{Name: "items", Type: schema.TypeRollup, Options: &schema.RollupOptions{ReferencedCollection: "items", RelationField: "order", Function: schema.RollupCount}},
		{Name: "net", Type: schema.TypeFormula, Options: &schema.FormulaOptions{Formula: "{price} * 0.8"}},
		{Name: "due", Type: schema.TypeDate, Validations: []schema.ValidationRule{{Kind: schema.RuleMin, Value: "2024-01-01"}}},
		{Name: "code", Type: schema.TypeText, Validations: []schema.ValidationRule{{Kind: schema.RuleUnique}, {Kind: schema.RuleCustom, Value: "slug"}}},
		{Name: "created", Type: schema.TypeCreatedTime},
	}
	for _, def := range tests {
		t.Run(def.Name, func(t *testing.T) {
			assert.NoError(t, ValidateField(def, []string{"other"}))
		})
	}
}

func TestFieldCollectsEveryViolation(t *testing.T) {
	def := schema.FieldDefinition{
		Name: strings.Repeat("x", 51),
		Type: schema.TypeBoolean,
		Validations: []schema.ValidationRule{
			{Kind: schema.RuleMin, Value: "1"},
			{Kind: schema.RulePattern, Value: "a"},
			{Kind: "between"},
		},
		Options: &schema.NumberOptions{Precision: intPtr(2)},
	}
	vs := violationsOf(t, ValidateField(def, nil))
	assert.Equal(t, []schema.Code{
		schema.CodeName,
		schema.CodeOptions,
		schema.CodeValidation,
		schema.CodeValidation,
		schema.CodeValidation,
	}, vs.Codes())
}

func TestFieldViolations(t *testing.T) {
	tests := []struct {
		name     string
		def      schema.FieldDefinition
		existing []string
		want     []schema.Code
	}{
		{
			name: "empty name",
			def:  schema.FieldDefinition{Type: schema.TypeText},
			want: []schema.Code{schema.CodeName},
		},
		{
			name:     "duplicate name",
			def:      schema.FieldDefinition{Name: "title", Type: schema.TypeText},
			existing: []string{"title"},
			want:     []schema.Code{schema.CodeName},
		},
		{
			name: "braces in name",
			def:  schema.FieldDefinition{Name: "{x}", Type: schema.TypeText},
			want: []schema.Code{schema.CodeName},
		},
		{
			name: "reference without target",
			def:  schema.FieldDefinition{Name: "owner", Type: schema.TypeReference},
			want: []schema.Code{schema.CodeReference},
		},
		{
			name: "blank reference target",
			def:  schema.FieldDefinition{Name: "owner", Type: schema.TypeReference, Options: &schema.ReferenceOptions{ReferencedCollection: "  "}},
			want: []schema.Code{schema.CodeReference},
		},
		{
			name: "select without choices",
			def:  schema.FieldDefinition{Name: "status", Type: schema.TypeSelect},
			want: []schema.Code{schema.CodeOptions},
		},
		{
			name: "duplicate choices",
			def:  schema.FieldDefinition{Name: "status", Type: schema.TypeSelect, Options: &schema.SelectOptions{Choices: []schema.Choice{{Value: "a"}, {Value: "a"}}}},
			want: []schema.Code{schema.CodeOptions},
		},
		{
			name: "bad formula",
			def:  schema.FieldDefinition{Name: "f", Type: schema.TypeFormula, Options: &schema.FormulaOptions{Formula: "1 +"}},
			want: []schema.Code{schema.CodeOptions},
		},
		{
			name: "rollup sum without target field",
			def:  schema.FieldDefinition{Name: "t", Type: schema.TypeRollup, Options: &schema.RollupOptions{ReferencedCollection: "c", RelationField: "r", Function: schema.RollupSum}},
			want: []schema.Code{schema.CodeOptions},
		},
		{
			name: "computed with rule, required and default",
			def: schema.FieldDefinition{Name: "f", Type: schema.TypeFormula, Required: true, DefaultValue: 1,
				Options: &schema.FormulaOptions{Formula: "1"}, Validations: []schema.ValidationRule{{Kind: schema.RuleMin, Value: "0"}}},
			want: []schema.Code{schema.CodeValidation, schema.CodeValidation, schema.CodeDefaultValue},
		},
		{
			name: "unique on list",
			def:  schema.FieldDefinition{Name: "tags", Type: schema.TypeArray, Validations: []schema.ValidationRule{{Kind: schema.RuleUnique}}},
			want: []schema.Code{schema.CodeValidation},
		},
		{
			name: "non numeric bound",
			def:  schema.FieldDefinition{Name: "n", Type: schema.TypeNumber, Validations: []schema.ValidationRule{{Kind: schema.RuleMax, Value: "ten"}}},
			want: []schema.Code{schema.CodeValidation},
		},
		{
			name: "invalid pattern",
			def:  schema.FieldDefinition{Name: "s", Type: schema.TypeText, Validations: []schema.ValidationRule{{Kind: schema.RulePattern, Value: "("}}},
			want: []schema.Code{schema.CodeValidation},
		},
		{
			name: "unregistered custom rule",
			def:  schema.FieldDefinition{Name: "s", Type: schema.TypeText, Validations: []schema.ValidationRule{{Kind: schema.RuleCustom, Value: "isbn"}}},
			want: []schema.Code{schema.CodeValidation},
		},
		{
			name: "default violates own rule",
			def:  schema.FieldDefinition{Name: "age", Type: schema.TypeNumber, DefaultValue: -1, Validations: []schema.ValidationRule{{Kind: schema.RuleMin, Value: "0"}}},
			want: []schema.Code{schema.CodeDefaultValue},
		},
		{
			name: "default of wrong shape",
			def:  schema.FieldDefinition{Name: "age", Type: schema.TypeNumber, DefaultValue: "old"},
			want: []schema.Code{schema.CodeDefaultValue},
		},
		{
			name: "default not a choice",
			def:  schema.FieldDefinition{Name: "s", Type: schema.TypeSelect, DefaultValue: "x", Options: &schema.SelectOptions{Choices: []schema.Choice{{Value: "a"}}}},
			want: []schema.Code{schema.CodeDefaultValue},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs := violationsOf(t, ValidateField(tt.def, tt.existing))
			assert.Equal(t, tt.want, vs.Codes(), vs.Error())
		})
	}
}

func TestFieldUnknownType(t *testing.T) {
	err := ValidateField(schema.FieldDefinition{Name: "x"}, nil)
	assert.ErrorIs(t, err, schema.ErrUnknownType)

	_, err = New(nil).FieldInput(schema.FieldInput{Name: "x", Type: "money"}, nil)
	var ute *schema.UnknownTypeError
	require.ErrorAs(t, err, &ute)
	assert.Equal(t, "money", ute.Name)
}

func TestFieldInputIllegalOption(t *testing.T) {
	_, err := New(nil).FieldInput(schema.FieldInput{
		Name:    "title",
		Type:    "text",
		Options: map[string]any{"precision": 2},
	}, nil)
	vs := violationsOf(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, schema.CodeOptions, vs[0].Code)
	assert.Contains(t, vs[0].Message, "precision")
}

func TestFieldInputDecodes(t *testing.T) {
	def, err := New(nil).FieldInput(schema.FieldInput{
		Name:    "status",
		Type:    "Select",
		Default: "open",
		Options: map[string]any{"choices": []any{"open", "closed"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.TypeSelect, def.Type)
	opts, ok := def.Options.(*schema.SelectOptions)
	require.True(t, ok)
	assert.Len(t, opts.Choices, 2)
}

func TestCustomRules(t *testing.T) {
	v := New(CustomRules{"even": func(x any) error {
		if f, ok := x.(float64); ok && int(f)%2 != 0 {
			return errors.New("must be even")
		}
		return nil
	}})
	def := schema.FieldDefinition{Name: "n", Type: schema.TypeNumber, Validations: []schema.ValidationRule{{Kind: schema.RuleCustom, Value: "even"}}}
	require.NoError(t, v.Field(def, nil))

	p, err := v.Plan(schema.CollectionSchema{Fields: []schema.FieldDefinition{def}}, UnknownFieldsStrict)
	require.NoError(t, err)
	out := p.Validate(schema.Record{"n": 3})
	require.Len(t, out.Violations, 1)
	assert.Equal(t, schema.CodeCustom, out.Violations[0].Code)
	assert.Equal(t, "n must be even", out.Violations[0].Message)

	assert.Error(t, ValidateField(def, nil), "default rules do not know even")
}

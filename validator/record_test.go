package validator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbnsndwch/struktura/schema"
)

func ageSchema() schema.CollectionSchema {
	return schema.CollectionSchema{
		ID:   "people",
		Slug: "people",
		Fields: []schema.FieldDefinition{{
			Name:        "age",
			Type:        schema.TypeNumber,
			Required:    true,
			Validations: []schema.ValidationRule{{Kind: schema.RuleMin, Value: "0"}},
		}},
	}
}

func TestValidateRecordAge(t *testing.T) {
	tests := []struct {
		name    string
		payload schema.Record
		want    schema.Record
		codes   []schema.Code
	}{
		{name: "negative", payload: schema.Record{"age": -5}, codes: []schema.Code{schema.CodeMin}},
		{name: "missing", payload: schema.Record{}, codes: []schema.Code{schema.CodeRequired}},
		{name: "numeric string", payload: schema.Record{"age": "30"}, want: schema.Record{"age": 30.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ValidateRecord(ageSchema(), tt.payload)
			require.NoError(t, err)
			if tt.codes != nil {
				assert.False(t, out.IsValid())
				assert.Equal(t, tt.codes, out.Violations.Codes())
				for _, v := range out.Violations {
					assert.Equal(t, "age", v.Field)
				}
				return
			}
			require.True(t, out.IsValid(), out.Violations.Error())
			assert.Equal(t, tt.want, out.Record)
		})
	}
}

func richSchema() schema.CollectionSchema {
	return schema.CollectionSchema{
		ID:   "tasks",
		Slug: "tasks",
		Fields: []schema.FieldDefinition{
			{Name: "title", Type: schema.TypeText, Required: true, Validations: []schema.ValidationRule{
				{Kind: schema.RuleMin, Value: "3"},
				{Kind: schema.RulePattern, Value: `^[A-Z]`, Message: "title must start with a capital"},
			}},
			{Name: "status", Type: schema.TypeSelect, DefaultValue: "todo", Options: &schema.SelectOptions{Choices: []schema.Choice{{Value: "todo"}, {Value: "done"}}}},
			{Name: "tags", Type: schema.TypeMultiSelect, Options: &schema.SelectOptions{Choices: []schema.Choice{{Value: "a"}, {Value: "b"}}},
				Validations: []schema.ValidationRule{{Kind: schema.RuleMax, Value: "1"}}},
			{Name: "estimate", Type: schema.TypeNumber, Options: &schema.NumberOptions{Precision: intPtr(1)},
				Validations: []schema.ValidationRule{{Kind: schema.RuleMin, Value: "0"}, {Kind: schema.RuleMax, Value: "100"}}},
			{Name: "due", Type: schema.TypeDate},
			{Name: "done", Type: schema.TypeBoolean},
			{Name: "contact", Type: schema.TypeEmail},
			{Name: "attachments", Type: schema.TypeAttachment},
			{Name: "meta", Type: schema.TypeObject},
			{Name: "number", Type: schema.TypeAutoIncrement},
			{Name: "summary", Type: schema.TypeFormula, Options: &schema.FormulaOptions{Formula: `{title} & "!"`}},
		},
	}
}

func TestPlanValidateCoerces(t *testing.T) {
	p, err := New(nil).Plan(richSchema(), UnknownFieldsStrict)
	require.NoError(t, err)

	out := p.Validate(schema.Record{
		"title":       "Write docs",
		"tags":        []any{"a", "a"},
		"estimate":    "2.26",
		"due":         "2024-03-05T17:30:00Z",
		"done":        "yes",
		"contact":     "ada@example.com",
		"attachments": []any{map[string]any{"name": "spec.pdf", "url": "https://x/spec.pdf", "size": 10}},
		"meta":        map[string]any{"k": "v"},
	})
	require.True(t, out.IsValid(), out.Violations.Error())

	assert.Equal(t, "Write docs", out.Record["title"])
	assert.Equal(t, "todo", out.Record["status"])
	assert.Equal(t, []string{"a"}, out.Record["tags"])
	assert.Equal(t, 2.3, out.Record["estimate"])
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), out.Record["due"])
	assert.Equal(t, true, out.Record["done"])
	assert.Equal(t, []schema.File{{Name: "spec.pdf", URL: "https://x/spec.pdf", MimeType: "application/pdf", Size: 10}}, out.Record["attachments"])
	assert.NotContains(t, out.Record, "number")
	assert.NotContains(t, out.Record, "summary")

	again := p.Validate(out.Record)
	require.True(t, again.IsValid(), again.Violations.Error())
	assert.Equal(t, out.Record, again.Record)
}

func TestPlanValidateReportsEveryViolation(t *testing.T) {
	p, err := New(nil).Plan(richSchema(), UnknownFieldsStrict)
	require.NoError(t, err)

	out := p.Validate(schema.Record{
		"title":    "ab",
		"status":   "blocked",
		"tags":     []any{"a", "b"},
		"estimate": 250,
		"done":     "maybe",
		"summary":  "x",
		"colour":   "red",
	})
	require.False(t, out.IsValid())

	want := []schema.Violation{
		{Field: "title", Code: schema.CodeMin},
		{Field: "title", Code: schema.CodePattern, Message: "title must start with a capital"},
		{Field: "status", Code: schema.CodeTypeMismatch},
		{Field: "tags", Code: schema.CodeMax},
		{Field: "estimate", Code: schema.CodeMax},
		{Field: "done", Code: schema.CodeTypeMismatch},
		{Field: "colour", Code: schema.CodeUnknownField},
		{Field: "summary", Code: schema.CodeReadOnlyField},
	}
	require.Len(t, out.Violations, len(want), out.Violations.Error())
	for i, w := range want {
		got := out.Violations[i]
		assert.Equal(t, w.Field, got.Field, "violation %d", i)
		assert.Equal(t, w.Code, got.Code, "violation %d", i)
		if w.Message != "" {
			assert.Equal(t, w.Message, got.Message)
		}
		assert.NotEmpty(t, got.Message)
	}
	assert.Nil(t, out.Record)
	assert.ErrorIs(t, out.Err("tasks"), schema.ErrInvalidRecord)
}

func TestPlanLenientDropsUnknownFields(t *testing.T) {
	p, err := New(nil).Plan(ageSchema(), UnknownFieldsLenient)
	require.NoError(t, err)

	out := p.Validate(schema.Record{"age": 4, "nickname": "x"})
	require.True(t, out.IsValid())
	assert.Equal(t, schema.Record{"age": 4.0}, out.Record)
}

func TestPlanBlankIsAbsent(t *testing.T) {
	p, err := New(nil).Plan(richSchema(), UnknownFieldsStrict)
	require.NoError(t, err)

	out := p.Validate(schema.Record{"title": "  ", "due": nil})
	assert.Equal(t, []schema.Code{schema.CodeRequired}, out.Violations.Codes())

	out = p.Validate(schema.Record{"title": "Ok!", "due": ""})
	require.True(t, out.IsValid())
	assert.NotContains(t, out.Record, "due")
}

func TestPlanUniqueFields(t *testing.T) {
	s := schema.CollectionSchema{Fields: []schema.FieldDefinition{
		{Name: "email", Type: schema.TypeEmail, Validations: []schema.ValidationRule{{Kind: schema.RuleUnique}}},
		{Name: "name", Type: schema.TypeText},
	}}
	p, err := New(nil).Plan(s, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"email"}, p.UniqueFields())

	// uniqueness is enforced by storage, not by the plan
	out := p.Validate(schema.Record{"email": "a@b.co"})
	assert.True(t, out.IsValid())
}

func TestRequiredRuleMergesWithFlag(t *testing.T) {
	s := schema.CollectionSchema{Fields: []schema.FieldDefinition{{
		Name:        "name",
		Type:        schema.TypeText,
		Required:    true,
		Validations: []schema.ValidationRule{{Kind: schema.RuleRequired, Message: "please enter a name"}},
	}}}
	out, err := ValidateRecord(s, schema.Record{})
	require.NoError(t, err)
	require.Len(t, out.Violations, 1)
	assert.Equal(t, "please enter a name", out.Violations[0].Message)
}

func TestEveryRequiredRuleReports(t *testing.T) {
	s := schema.CollectionSchema{Fields: []schema.FieldDefinition{{
		Name:     "name",
		Type:     schema.TypeText,
		Required: true,
		Validations: []schema.ValidationRule{
			{Kind: schema.RuleRequired, Message: "please enter a name"},
			{Kind: schema.RuleRequired, Message: "names are needed for invoices"},
		},
	}}}
	out, err := ValidateRecord(s, schema.Record{"name": "  "})
	require.NoError(t, err)
	assert.Equal(t, []schema.Code{schema.CodeRequired, schema.CodeRequired}, out.Violations.Codes())
	assert.Equal(t, "please enter a name", out.Violations[0].Message)
	assert.Equal(t, "names are needed for invoices", out.Violations[1].Message)
}

func TestNumberPrecision(t *testing.T) {
	two, ten := 2, 10
	tests := []struct {
		name      string
		precision *int
		in        any
		want      float64
	}{
		{name: "rounds", precision: &two, in: "3.14159", want: 3.14},
		{name: "no precision", in: 3.14159, want: 3.14159},
		{name: "too large to scale", precision: &ten, in: 1e300, want: 1e300},
		{name: "largest float", precision: &two, in: math.MaxFloat64, want: math.MaxFloat64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coerce := CoercerFor(schema.FieldDefinition{
				Name:    "amount",
				Type:    schema.TypeNumber,
				Options: &schema.NumberOptions{Precision: tt.precision},
			})
			got, err := coerce(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.False(t, math.IsInf(got.(float64), 0))
		})
	}
}

func TestParseUnknownFieldPolicy(t *testing.T) {
	p, err := ParseUnknownFieldPolicy("")
	require.NoError(t, err)
	assert.Equal(t, UnknownFieldsStrict, p)

	p, err = ParseUnknownFieldPolicy("Lenient")
	require.NoError(t, err)
	assert.Equal(t, UnknownFieldsLenient, p)

	_, err = ParseUnknownFieldPolicy("loose")
	assert.Error(t, err)
}

func TestPlanNormalize(t *testing.T) {
	s := schema.CollectionSchema{
		ID: "events",
		Fields: []schema.FieldDefinition{
			{Name: "title", Type: schema.TypeText},
			{Name: "when", Type: schema.TypeDate},
			{Name: "seats", Type: schema.TypeNumber},
			{Name: "code", Type: schema.TypeAutoIncrement},
		},
	}
	p, err := New(nil).Plan(s, UnknownFieldsStrict)
	require.NoError(t, err)

	got := p.Normalize(schema.Record{
		"title":   "Launch",
		"when":    "2024-03-01T15:04:05Z",
		"seats":   "many",
		"code":    7.0,
		"removed": "x",
	})
	assert.Equal(t, schema.Record{
		"title": "Launch",
		"when":  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		"seats": "many",
	}, got)
}

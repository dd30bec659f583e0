package view

import (
	"reflect"
	"strings"

	"github.com/cbnsndwch/struktura/formula"
	"github.com/cbnsndwch/struktura/schema"
	"github.com/cbnsndwch/struktura/validator"
)

// predicate tests one record.
type predicate func(schema.Record) bool

func matchNone(schema.Record) bool { return false }
func matchAll(schema.Record) bool  { return true }

// compileFilter turns a filter tree into a predicate. Any comparison naming
// a field the schema does not have, or using an unknown operator, makes the
// whole filter match nothing: fields can be deleted while a view is being
// evaluated.
func compileFilter(f *schema.Filter, s schema.CollectionSchema) predicate {
	if f == nil {
		return matchAll
	}
	p, ok := compileNode(*f, s)
	if !ok {
		return matchNone
	}
	return p
}

func compileNode(f schema.Filter, s schema.CollectionSchema) (predicate, bool) {
	if f.IsGroup() {
		var and, or []predicate
		for _, c := range f.And {
			p, ok := compileNode(c, s)
			if !ok {
				return nil, false
			}
			and = append(and, p)
		}
		for _, c := range f.Or {
			p, ok := compileNode(c, s)
			if !ok {
				return nil, false
			}
			or = append(or, p)
		}
		return func(r schema.Record) bool {
			for _, p := range and {
				if !p(r) {
					return false
				}
			}
			if len(or) == 0 {
				return true
			}
			for _, p := range or {
				if p(r) {
					return true
				}
			}
			return false
		}, true
	}

	def, ok := s.Field(f.Field)
	if !ok || !f.Op.Valid() {
		return nil, false
	}
	return comparison(def, f.Op, f.Value), true
}

// operand coerces a filter value the way record values of def are coerced.
// Values that do not coerce are compared as given.
func operand(def schema.FieldDefinition, v any) any {
	if v == nil || schema.IsComputed(def.Type) {
		return v
	}
	if c, err := validator.CoercerFor(def)(v); err == nil {
		return c
	}
	return v
}

func comparison(def schema.FieldDefinition, op schema.FilterOp, raw any) predicate {
	name := def.Name
	switch op {
	case schema.OpEmpty:
		return func(r schema.Record) bool { return blank(r[name]) }
	case schema.OpNotEmpty:
		return func(r schema.Record) bool { return !blank(r[name]) }
	case schema.OpContains:
		needle := strings.ToLower(formula.Format(raw))
		return func(r schema.Record) bool {
			v := r[name]
			if items, ok := elements(v); ok {
				for _, e := range items {
					if strings.EqualFold(formula.Format(e), needle) {
						return true
					}
				}
				return false
			}
			return v != nil && strings.Contains(strings.ToLower(formula.Format(v)), needle)
		}
	case schema.OpIn:
		options, _ := elements(raw)
		want := make([]any, len(options))
		for i, o := range options {
			want[i] = operand(scalarOf(def), o)
		}
		return func(r schema.Record) bool {
			for _, w := range want {
				if matches(r[name], w) {
					return true
				}
			}
			return false
		}
	}

	want := operand(scalarOf(def), raw)
	if op == schema.OpEq {
		return func(r schema.Record) bool { return matches(r[name], want) }
	}
	if op == schema.OpNeq {
		return func(r schema.Record) bool { return !matches(r[name], want) }
	}
	return func(r schema.Record) bool {
		v := r[name]
		if blank(v) || want == nil {
			return false
		}
		c, ok := compare(v, want)
		if !ok {
			return false
		}
		switch op {
		case schema.OpGt:
			return c > 0
		case schema.OpGte:
			return c >= 0
		case schema.OpLt:
			return c < 0
		default:
			return c <= 0
		}
	}
}

// scalarOf returns the definition single filter values of a list field are
// coerced with: a select for a multiselect, the field itself otherwise.
func scalarOf(def schema.FieldDefinition) schema.FieldDefinition {
	if def.Type == schema.TypeMultiSelect {
		def.Type = schema.TypeSelect
	}
	return def
}

// matches compares a record value with a filter value. A list value matches
// when one of its elements does.
func matches(v, want any) bool {
	if items, ok := elements(v); ok {
		for _, e := range items {
			if equal(e, want) {
				return true
			}
		}
		return false
	}
	return equal(v, want)
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// elements returns the members of a list value.
func elements(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func blank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	if items, ok := elements(v); ok {
		return len(items) == 0
	}
	if files, ok := v.([]schema.File); ok {
		return len(files) == 0
	}
	return false
}

package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cbnsndwch/struktura/schema"
)

// UnknownFieldPolicy decides what happens to payload keys that name no field.
type UnknownFieldPolicy string

const (
	// UnknownFieldsStrict rejects unknown keys with an unknown-field violation.
	UnknownFieldsStrict UnknownFieldPolicy = "strict"
	// UnknownFieldsLenient silently drops unknown keys.
	UnknownFieldsLenient UnknownFieldPolicy = "lenient"
)

// ParseUnknownFieldPolicy parses a policy name; empty means strict.
func ParseUnknownFieldPolicy(s string) (UnknownFieldPolicy, error) {
	switch UnknownFieldPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", UnknownFieldsStrict:
		return UnknownFieldsStrict, nil
	case UnknownFieldsLenient:
		return UnknownFieldsLenient, nil
	}
	return "", fmt.Errorf("unknown field policy %q must be strict or lenient", s)
}

// Plan is a collection schema compiled for record validation. A plan is
// immutable once built and may validate any number of records concurrently.
type Plan struct {
	CollectionID string
	Version      int64

	fields  []*CompiledField
	byName  map[string]*CompiledField
	unknown UnknownFieldPolicy
}

// ValidateRecord compiles the schema with the default custom rules and the
// strict unknown-field policy, then validates one payload.
func ValidateRecord(s schema.CollectionSchema, payload schema.Record) (schema.Outcome, error) {
	p, err := defaultValidator.Plan(s, UnknownFieldsStrict)
	if err != nil {
		return schema.Outcome{}, err
	}
	return p.Validate(payload), nil
}

// Plan compiles every field of the schema.
func (v *Validator) Plan(s schema.CollectionSchema, policy UnknownFieldPolicy) (*Plan, error) {
	if policy == "" {
		policy = UnknownFieldsStrict
	}
	p := &Plan{
		CollectionID: s.ID,
		Version:      s.Version,
		fields:       make([]*CompiledField, 0, len(s.Fields)),
		byName:       make(map[string]*CompiledField, len(s.Fields)),
		unknown:      policy,
	}
	for _, def := range s.Fields {
		cf, err := v.Compile(def)
		if err != nil {
			return nil, fmt.Errorf("failed to compile field %s of collection %s: %w", def.Name, s.Slug, err)
		}
		p.fields = append(p.fields, cf)
		p.byName[def.Name] = cf
	}
	return p, nil
}

// Field returns the compiled form of a field.
func (p *Plan) Field(name string) (*CompiledField, bool) {
	cf, ok := p.byName[name]
	return cf, ok
}

// Fields returns the compiled fields in declaration order.
func (p *Plan) Fields() []*CompiledField {
	return append([]*CompiledField(nil), p.fields...)
}

// UniqueFields returns the names of the fields carrying a unique rule.
func (p *Plan) UniqueFields() []string {
	var out []string
	for _, cf := range p.fields {
		if cf.Unique {
			out = append(out, cf.Def.Name)
		}
	}
	return out
}

// Validate validates and coerces a record payload. The payload is not
// modified. Violations are ordered by field declaration and rule order,
// followed by unknown and read-only keys in key order.
func (p *Plan) Validate(payload schema.Record) schema.Outcome {
	out := make(schema.Record, len(p.fields))
	var vs schema.Violations

	for _, cf := range p.fields {
		if cf.Computed {
			continue
		}
		name := cf.Def.Name
		raw, present := payload[name]
		if !present || blank(raw) {
			if cf.required {
				vs = append(vs, cf.missing()...)
				continue
			}
			if d, ok := cf.Default(); ok {
				out[name] = d
			}
			continue
		}
		value, err := cf.coerce(raw)
		if err != nil {
			vs = append(vs, schema.Violation{
				Field:   name,
				Code:    schema.CodeTypeMismatch,
				Message: fmt.Sprintf("%s: %v", name, err),
			})
			continue
		}
		if blank(value) {
			if cf.required {
				vs = append(vs, cf.missing()...)
			}
			continue
		}
		vs = append(vs, cf.apply(value)...)
		out[name] = value
	}

	var extra []string
	for key := range payload {
		if cf, ok := p.byName[key]; ok && !cf.Computed {
			continue
		}
		extra = append(extra, key)
	}
	sort.Strings(extra)
	for _, key := range extra {
		if cf, ok := p.byName[key]; ok {
			vs = append(vs, schema.Violation{
				Field:   key,
				Code:    schema.CodeReadOnlyField,
				Message: fmt.Sprintf("%s is a %s field and is computed, not written", key, cf.Def.Type),
			})
			continue
		}
		if p.unknown == UnknownFieldsStrict {
			vs = append(vs, schema.Violation{
				Field:   key,
				Code:    schema.CodeUnknownField,
				Message: fmt.Sprintf("%s is not a field of this collection", key),
			})
		}
	}

	if len(vs) > 0 {
		return schema.Invalid(vs)
	}
	return schema.Valid(out)
}

// Normalize brings stored data back to the runtime shapes of the current
// schema: stored JSON turns numbers into float64 and dates into strings.
// Values that no longer coerce, for instance after a type change, are kept
// as stored. Keys naming no stored field are dropped. No rule is applied.
func (p *Plan) Normalize(stored schema.Record) schema.Record {
	out := make(schema.Record, len(stored))
	for _, cf := range p.fields {
		if cf.Computed {
			continue
		}
		raw, ok := stored[cf.Def.Name]
		if !ok || blank(raw) {
			continue
		}
		if v, err := cf.coerce(raw); err == nil {
			out[cf.Def.Name] = v
		} else {
			out[cf.Def.Name] = schema.CloneValue(raw)
		}
	}
	return out
}

// blank reports whether a raw value counts as absent.
func blank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case []schema.File:
		return len(x) == 0
	}
	return false
}

package validator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cbnsndwch/struktura/schema"
)

// CustomRule checks a coerced value for a custom validation rule.
type CustomRule func(value any) error

// CustomRules maps the names usable as the parameter of a custom rule.
type CustomRules map[string]CustomRule

// DefaultCustomRules returns the custom rules available out of the box.
func DefaultCustomRules() CustomRules {
	return CustomRules{
		"nonBlank": func(v any) error {
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				return fmt.Errorf("must not be blank")
			}
			return nil
		},
		"lowercase": func(v any) error {
			if s, ok := v.(string); ok && s != strings.ToLower(s) {
				return fmt.Errorf("must be lowercase")
			}
			return nil
		},
		"slug": func(v any) error {
			if s, ok := v.(string); ok && !slugPattern.MatchString(s) {
				return fmt.Errorf("must be a slug of lowercase letters, digits and dashes")
			}
			return nil
		},
		"alphanumeric": func(v any) error {
			if s, ok := v.(string); ok {
				for _, r := range s {
					if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
						return fmt.Errorf("must contain only letters and digits")
					}
				}
			}
			return nil
		},
		"positive": func(v any) error {
			if f, ok := v.(float64); ok && f <= 0 {
				return fmt.Errorf("must be positive")
			}
			return nil
		},
		"future": func(v any) error {
			if t, ok := v.(time.Time); ok && !t.After(time.Now()) {
				return fmt.Errorf("must be in the future")
			}
			return nil
		},
	}
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// check is one compiled validation rule.
type check struct {
	rule    schema.ValidationRule
	test    func(v any) error
	message string
}

func (c check) violation(field string, err error) schema.Violation {
	msg := c.rule.Message
	if msg == "" {
		msg = c.message
		if c.rule.Kind == schema.RuleCustom && err != nil {
			msg = fmt.Sprintf("%s %s", field, err.Error())
		}
	}
	return schema.Violation{Field: field, Code: schema.Code(c.rule.Kind), Message: msg}
}

// CompiledField is a field definition turned into the functions record
// validation runs: built once when the schema changes and reused for every
// record.
type CompiledField struct {
	Def      schema.FieldDefinition
	Shape    schema.ValueShape
	Computed bool
	Unique   bool

	coerce           Coercer
	required         bool
	requiredMessages []string
	checks           []check
	defaultValue     any
	hasDefault       bool
}

// Coerce converts a raw value to the field's canonical shape.
func (f *CompiledField) Coerce(v any) (any, error) {
	return f.coerce(v)
}

// Default returns the coerced default value of the field.
func (f *CompiledField) Default() (any, bool) {
	return schema.CloneValue(f.defaultValue), f.hasDefault
}

// missing returns the violations of an absent value, one per requirement.
func (f *CompiledField) missing() schema.Violations {
	vs := make(schema.Violations, len(f.requiredMessages))
	for i, msg := range f.requiredMessages {
		vs[i] = schema.Violation{Field: f.Def.Name, Code: schema.CodeRequired, Message: msg}
	}
	return vs
}

// apply runs every rule except required and unique against a coerced value.
func (f *CompiledField) apply(v any) schema.Violations {
	var vs schema.Violations
	for _, c := range f.checks {
		if err := c.test(v); err != nil {
			vs = append(vs, c.violation(f.Def.Name, err))
		}
	}
	return vs
}

// compileRules turns the validation rules of a definition into checks and
// reports each rule that cannot be compiled as a definition violation.
func compileRules(def schema.FieldDefinition, customs CustomRules) ([]check, schema.Violations) {
	var checks []check
	var vs schema.Violations
	fail := func(format string, args ...any) {
		vs = append(vs, schema.Violation{Field: def.Name, Code: schema.CodeValidation, Message: fmt.Sprintf(format, args...)})
	}
	shape := schema.ShapeOf(def.Type)
	computed := schema.IsComputed(def.Type)

	for i, rule := range def.Validations {
		if !rule.Kind.Valid() {
			fail("rule %d has unknown kind %q", i+1, rule.Kind)
			continue
		}
		if computed {
			fail("%s fields are computed and accept no %s rule", def.Type, rule.Kind)
			continue
		}
		switch rule.Kind {
		case schema.RuleRequired:
			// reported by missing
		case schema.RuleUnique:
			if !shape.Indexable() {
				fail("unique rule is not supported for %s fields", def.Type)
			}
		case schema.RuleMin, schema.RuleMax:
			if !shape.Comparable() {
				fail("%s rule is not supported for %s fields", rule.Kind, def.Type)
				continue
			}
			c, err := boundCheck(def.Name, shape, rule)
			if err != nil {
				fail("%s rule: %v", rule.Kind, err)
				continue
			}
			checks = append(checks, c)
		case schema.RulePattern:
			if !shape.Textual() {
				fail("pattern rule is not supported for %s fields", def.Type)
				continue
			}
			re, err := regexp.Compile(rule.Value)
			if err != nil || rule.Value == "" {
				fail("pattern %q is not a valid regular expression", rule.Value)
				continue
			}
			checks = append(checks, check{
				rule:    rule,
				message: fmt.Sprintf("%s must match pattern %s", def.Name, rule.Value),
				test: func(v any) error {
					if s, ok := v.(string); ok && !re.MatchString(s) {
						return fmt.Errorf("no match")
					}
					return nil
				},
			})
		case schema.RuleCustom:
			fn, ok := customs[rule.Value]
			if !ok {
				fail("custom rule %q is not registered", rule.Value)
				continue
			}
			checks = append(checks, check{
				rule:    rule,
				message: fmt.Sprintf("%s failed the %s check", def.Name, rule.Value),
				test:    fn,
			})
		}
	}
	return checks, vs
}

func boundCheck(field string, shape schema.ValueShape, rule schema.ValidationRule) (check, error) {
	isMin := rule.Kind == schema.RuleMin
	word := "at most"
	if isMin {
		word = "at least"
	}
	within := func(c int) bool {
		if isMin {
			return c >= 0
		}
		return c <= 0
	}

	switch {
	case shape == schema.ShapeNumber:
		bound, err := strconv.ParseFloat(strings.TrimSpace(rule.Value), 64)
		if err != nil {
			return check{}, fmt.Errorf("%q is not a number", rule.Value)
		}
		return check{
			rule:    rule,
			message: fmt.Sprintf("%s must be %s %s", field, word, rule.Value),
			test: func(v any) error {
				f, ok := v.(float64)
				if ok && !within(compareFloat(f, bound)) {
					return fmt.Errorf("out of range")
				}
				return nil
			},
		}, nil
	case shape == schema.ShapeDate:
		bound, err := ParseTime(rule.Value)
		if err != nil {
			return check{}, err
		}
		word = "on or before"
		if isMin {
			word = "on or after"
		}
		return check{
			rule:    rule,
			message: fmt.Sprintf("%s must be %s %s", field, word, rule.Value),
			test: func(v any) error {
				t, ok := v.(time.Time)
				if ok && !within(t.Compare(bound)) {
					return fmt.Errorf("out of range")
				}
				return nil
			},
		}, nil
	case shape.Measured():
		bound, err := strconv.Atoi(strings.TrimSpace(rule.Value))
		if err != nil || bound < 0 {
			return check{}, fmt.Errorf("%q is not a non-negative length", rule.Value)
		}
		unit := "items"
		if shape == schema.ShapeString {
			unit = "characters"
		}
		return check{
			rule:    rule,
			message: fmt.Sprintf("%s must have %s %d %s", field, word, bound, unit),
			test: func(v any) error {
				n, ok := lengthOf(v)
				if ok && !within(compareFloat(float64(n), float64(bound))) {
					return fmt.Errorf("out of range")
				}
				return nil
			},
		}, nil
	}
	return check{}, fmt.Errorf("not comparable")
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func lengthOf(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		return len([]rune(x)), true
	case []string:
		return len(x), true
	case []any:
		return len(x), true
	case []schema.File:
		return len(x), true
	}
	return 0, false
}

// Compile builds the compiled form of a definition. The definition must
// already be valid; problems found here are returned as a
// *schema.DefinitionError.
func (v *Validator) Compile(def schema.FieldDefinition) (*CompiledField, error) {
	if !def.Type.Known() {
		return nil, &schema.UnknownTypeError{Name: def.Type.String()}
	}
	checks, vs := compileRules(def, v.customs)
	if len(vs) > 0 {
		return nil, &schema.DefinitionError{Subject: def.Name, Violations: vs}
	}
	cf := &CompiledField{
		Def:      def.Clone(),
		Shape:    schema.ShapeOf(def.Type),
		Computed: schema.IsComputed(def.Type),
		Unique:   def.HasRule(schema.RuleUnique),
		coerce:   CoercerFor(def),
		checks:   checks,
	}
	// The required flag and the first required rule are one requirement;
	// every further required rule reports on its own.
	for _, r := range def.Validations {
		if r.Kind != schema.RuleRequired {
			continue
		}
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("%s is required", def.Name)
		}
		cf.requiredMessages = append(cf.requiredMessages, msg)
	}
	if def.Required && len(cf.requiredMessages) == 0 {
		cf.requiredMessages = []string{fmt.Sprintf("%s is required", def.Name)}
	}
	cf.required = len(cf.requiredMessages) > 0
	if def.DefaultValue != nil && !cf.Computed {
		d, err := cf.coerce(def.DefaultValue)
		if err != nil {
			return nil, &schema.DefinitionError{Subject: def.Name, Violations: schema.Violations{{
				Field: def.Name, Code: schema.CodeDefaultValue, Message: err.Error(),
			}}}
		}
		cf.defaultValue, cf.hasDefault = d, true
	}
	return cf, nil
}

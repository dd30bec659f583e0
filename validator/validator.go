// Package validator validates field and view definitions, compiles field
// definitions into reusable checks and validates record payloads against a
// collection schema.
package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cbnsndwch/struktura/formula"
	"github.com/cbnsndwch/struktura/schema"
)

// MaxNameLength is the longest allowed field or view name, in characters.
const MaxNameLength = 50

// Validator validates definitions and compiles them. It is safe for
// concurrent use.
type Validator struct {
	customs CustomRules
}

// New creates a validator. A nil customs map uses DefaultCustomRules.
func New(customs CustomRules) *Validator {
	if customs == nil {
		customs = DefaultCustomRules()
	}
	return &Validator{customs: customs}
}

var defaultValidator = New(nil)

// ValidateField validates a definition with the default custom rules.
func ValidateField(def schema.FieldDefinition, existingFieldNames []string) error {
	return defaultValidator.Field(def, existingFieldNames)
}

// ValidateInput decodes and validates an untyped definition with the default
// custom rules.
func ValidateInput(in schema.FieldInput, existingFieldNames []string) (schema.FieldDefinition, error) {
	return defaultValidator.FieldInput(in, existingFieldNames)
}

// Field validates a proposed field definition. Every check runs, and all
// problems come back together as a *schema.DefinitionError. A type outside
// the taxonomy is a caller bug and returns *schema.UnknownTypeError instead.
func (v *Validator) Field(def schema.FieldDefinition, existingFieldNames []string) error {
	if !def.Type.Known() {
		return &schema.UnknownTypeError{Name: def.Type.String()}
	}
	vs := v.fieldViolations(def, existingFieldNames)
	if len(vs) > 0 {
		return &schema.DefinitionError{Subject: def.Name, Violations: vs}
	}
	return nil
}

// FieldInput decodes and validates an untyped field definition, returning the
// typed definition on success. Decode problems (illegal option keys, option
// values of the wrong kind) are reported alongside the definition checks.
func (v *Validator) FieldInput(in schema.FieldInput, existingFieldNames []string) (schema.FieldDefinition, error) {
	t, err := schema.ParseFieldType(in.Type)
	if err != nil {
		return schema.FieldDefinition{}, err
	}
	opts, decodeViolations := schema.DecodeOptions(in.Name, t, in.Options)
	def := schema.FieldDefinition{
		Name:         in.Name,
		Type:         t,
		Description:  in.Description,
		Required:     in.Required,
		DefaultValue: in.Default,
		Validations:  append([]schema.ValidationRule(nil), in.Validations...),
		Options:      opts,
	}
	vs := append(decodeViolations, v.fieldViolations(def, existingFieldNames)...)
	if len(vs) > 0 {
		return def, &schema.DefinitionError{Subject: in.Name, Violations: vs}
	}
	return def, nil
}

func (v *Validator) fieldViolations(def schema.FieldDefinition, existing []string) schema.Violations {
	var vs schema.Violations
	add := func(code schema.Code, format string, args ...any) {
		vs = append(vs, schema.Violation{Field: def.Name, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if err := validateName("field", def.Name); err != nil {
		add(schema.CodeName, "%v", err)
	}
	for _, name := range existing {
		if name == def.Name {
			add(schema.CodeName, "field name %q already exists", def.Name)
			break
		}
	}

	vs = append(vs, validateOptions(def)...)

	_, ruleViolations := compileRules(def, v.customs)
	vs = append(vs, ruleViolations...)

	if schema.IsComputed(def.Type) {
		if def.Required {
			add(schema.CodeValidation, "%s fields are computed and cannot be required", def.Type)
		}
		if def.DefaultValue != nil {
			add(schema.CodeDefaultValue, "%s fields are computed and cannot have a default value", def.Type)
		}
	} else if def.DefaultValue != nil && len(ruleViolations) == 0 {
		vs = append(vs, v.defaultViolations(def)...)
	}
	return vs
}

// defaultViolations checks that the default value coerces and satisfies the
// field's own rules. Required and unique do not apply to defaults.
func (v *Validator) defaultViolations(def schema.FieldDefinition) schema.Violations {
	probe := def.Clone()
	probe.DefaultValue = nil
	cf, err := v.Compile(probe)
	if err != nil {
		// option problems are already reported by validateOptions
		return nil
	}
	d, err := cf.Coerce(def.DefaultValue)
	if err != nil {
		return schema.Violations{{
			Field:   def.Name,
			Code:    schema.CodeDefaultValue,
			Message: fmt.Sprintf("default value is invalid: %v", err),
		}}
	}
	var vs schema.Violations
	for _, rv := range cf.apply(d) {
		vs = append(vs, schema.Violation{
			Field:   def.Name,
			Code:    schema.CodeDefaultValue,
			Message: fmt.Sprintf("default value violates its own %s rule: %s", rv.Code, rv.Message),
		})
	}
	return vs
}

// validateName checks the format of a field or view name.
func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return fmt.Errorf("%s name '%s' is too long (max %d characters)", kind, name, MaxNameLength)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%s name '%s' has leading or trailing spaces", kind, name)
	}
	// formulas reference fields as {Name}
	if strings.ContainsAny(name, "{}") {
		return fmt.Errorf("%s name '%s' contains invalid character '{' or '}'", kind, name)
	}
	return nil
}

func validateOptions(def schema.FieldDefinition) schema.Violations {
	var vs schema.Violations
	add := func(format string, args ...any) {
		vs = append(vs, schema.Violation{Field: def.Name, Code: schema.CodeOptions, Message: fmt.Sprintf(format, args...)})
	}

	if def.Options != nil && !def.Options.AppliesTo(def.Type) {
		var keys []string
		for k := range def.Options.Map() {
			keys = append(keys, k)
		}
		add("options %v are not valid for %s fields", keys, def.Type)
		return vs
	}

	relationalTarget := func() {
		if schema.IsRelational(def.Type) && strings.TrimSpace(schema.ReferencedCollection(def.Options)) == "" {
			vs = append(vs, schema.Violation{
				Field:   def.Name,
				Code:    schema.CodeReference,
				Message: fmt.Sprintf("%s fields require the %s option", def.Type, schema.OptReferencedCollection),
			})
		}
	}

	switch o := def.Options.(type) {
	case nil:
		relationalTarget()
		switch def.Type {
		case schema.TypeSelect, schema.TypeMultiSelect:
			add("%s fields require at least one choice", def.Type)
		case schema.TypeFormula:
			add("formula fields require the %s option", schema.OptFormula)
		case schema.TypeLookup:
			add("lookup fields require the %s and %s options", schema.OptReferenceField, schema.OptDisplayField)
		case schema.TypeRollup:
			add("rollup fields require the %s and %s options", schema.OptRelationField, schema.OptRollupFunction)
		}
	case *schema.NumberOptions:
		checkPrecision(o.Precision, add)
	case *schema.CurrencyOptions:
		checkPrecision(o.Precision, add)
		if o.Code != "" && !isCurrencyCode(o.Code) {
			add("currency code %q must be three uppercase letters", o.Code)
		}
	case *schema.SelectOptions:
		if len(o.Choices) == 0 {
			add("%s fields require at least one choice", def.Type)
		}
		seen := map[string]bool{}
		for _, c := range o.Choices {
			if strings.TrimSpace(c.Value) == "" {
				add("choice values cannot be empty")
				continue
			}
			if seen[c.Value] {
				add("duplicate choice %q", c.Value)
			}
			seen[c.Value] = true
		}
	case *schema.FileOptions:
		if o.MaxSize < 0 {
			add("%s cannot be negative", schema.OptMaxSize)
		}
		if o.MaxFiles < 0 {
			add("%s cannot be negative", schema.OptMaxFiles)
		}
	case *schema.ReferenceOptions:
		relationalTarget()
	case *schema.LookupOptions:
		relationalTarget()
		if o.ReferenceField == "" {
			add("lookup fields require the %s option", schema.OptReferenceField)
		}
		if o.DisplayField == "" {
			add("lookup fields require the %s option", schema.OptDisplayField)
		}
	case *schema.RollupOptions:
		relationalTarget()
		if o.RelationField == "" {
			add("rollup fields require the %s option", schema.OptRelationField)
		}
		if !o.Function.Valid() {
			add("rollup function %q must be one of sum, avg, count, min, max, concat", o.Function)
		}
		if o.Function != schema.RollupCount && o.TargetField == "" {
			add("rollup function %q requires the %s option", o.Function, schema.OptTargetField)
		}
	case *schema.FormulaOptions:
		if strings.TrimSpace(o.Formula) == "" {
			add("formula fields require the %s option", schema.OptFormula)
		} else if _, err := formula.Parse(o.Formula); err != nil {
			add("%v", err)
		}
	case *schema.AutoIncrementOptions:
		if o.StartAt < 0 {
			add("%s cannot be negative", schema.OptStartAt)
		}
	}
	return vs
}

func checkPrecision(p *int, add func(string, ...any)) {
	if p != nil && (*p < 0 || *p > 10) {
		add("precision %d must be between 0 and 10", *p)
	}
}

func isCurrencyCode(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

package schema

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Options is the typed configuration of a field. Each implementation is a
// variant of a closed union and only attaches to the field types it names,
// so a precision on a text field has no Go representation.
type Options interface {
	// AppliesTo reports whether the variant may configure fields of type t.
	AppliesTo(t FieldType) bool
	// Map renders the options as the sparse key/value bag used on the wire.
	Map() map[string]any
	isOptions()
}

// RollupFunction reduces the values of related records to one value.
type RollupFunction string

const (
	RollupSum    RollupFunction = "sum"
	RollupAvg    RollupFunction = "avg"
	RollupCount  RollupFunction = "count"
	RollupMin    RollupFunction = "min"
	RollupMax    RollupFunction = "max"
	RollupConcat RollupFunction = "concat"
)

// Valid reports whether f is a supported rollup function.
func (f RollupFunction) Valid() bool {
	switch f {
	case RollupSum, RollupAvg, RollupCount, RollupMin, RollupMax, RollupConcat:
		return true
	}
	return false
}

// NumberOptions configures number and percent fields.
type NumberOptions struct {
	Precision *int
}

// CurrencyOptions configures currency fields.
type CurrencyOptions struct {
	Precision *int
	Code      string
}

// Choice is one selectable value of a select or multiselect field.
type Choice struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

// SelectOptions configures select and multiselect fields.
type SelectOptions struct {
	Choices []Choice
}

// Index returns the position of value among the choices, or -1.
func (o *SelectOptions) Index(value string) int {
	for i, c := range o.Choices {
		if c.Value == value {
			return i
		}
	}
	return -1
}

// FileOptions configures attachment and image fields. Zero limits mean
// unlimited.
type FileOptions struct {
	AllowedTypes []string
	MaxSize      int64
	MaxFiles     int
}

// ReferenceOptions configures reference fields.
type ReferenceOptions struct {
	ReferencedCollection string
}

// LookupOptions configures lookup fields: follow ReferenceField (a reference
// field of the same collection) into ReferencedCollection and project
// DisplayField.
type LookupOptions struct {
	ReferencedCollection string
	ReferenceField       string
	DisplayField         string
}

// RollupOptions configures rollup fields: gather records of
// ReferencedCollection whose RelationField points back at the record and
// reduce their TargetField with Function.
type RollupOptions struct {
	ReferencedCollection string
	RelationField        string
	TargetField          string
	Function             RollupFunction
}

// FormulaOptions configures formula fields.
type FormulaOptions struct {
	Formula string
}

// AutoIncrementOptions configures auto-increment fields.
type AutoIncrementOptions struct {
	Prefix  string
	StartAt int64
}

func (*NumberOptions) isOptions()        {}
func (*CurrencyOptions) isOptions()      {}
func (*SelectOptions) isOptions()        {}
func (*FileOptions) isOptions()          {}
func (*ReferenceOptions) isOptions()     {}
func (*LookupOptions) isOptions()        {}
func (*RollupOptions) isOptions()        {}
func (*FormulaOptions) isOptions()       {}
func (*AutoIncrementOptions) isOptions() {}

func (*NumberOptions) AppliesTo(t FieldType) bool   { return t == TypeNumber || t == TypePercent }
func (*CurrencyOptions) AppliesTo(t FieldType) bool { return t == TypeCurrency }
func (*SelectOptions) AppliesTo(t FieldType) bool {
	return t == TypeSelect || t == TypeMultiSelect
}
func (*FileOptions) AppliesTo(t FieldType) bool          { return t == TypeAttachment || t == TypeImage }
func (*ReferenceOptions) AppliesTo(t FieldType) bool     { return t == TypeReference }
func (*LookupOptions) AppliesTo(t FieldType) bool        { return t == TypeLookup }
func (*RollupOptions) AppliesTo(t FieldType) bool        { return t == TypeRollup }
func (*FormulaOptions) AppliesTo(t FieldType) bool       { return t == TypeFormula }
func (*AutoIncrementOptions) AppliesTo(t FieldType) bool { return t == TypeAutoIncrement }

func (o *NumberOptions) Map() map[string]any {
	m := map[string]any{}
	if o.Precision != nil {
		m[string(OptPrecision)] = *o.Precision
	}
	return m
}

func (o *CurrencyOptions) Map() map[string]any {
	m := map[string]any{}
	if o.Precision != nil {
		m[string(OptPrecision)] = *o.Precision
	}
	if o.Code != "" {
		m[string(OptCurrencyCode)] = o.Code
	}
	return m
}

func (o *SelectOptions) Map() map[string]any {
	choices := make([]any, 0, len(o.Choices))
	for _, c := range o.Choices {
		entry := map[string]any{"value": c.Value}
		if c.Label != "" {
			entry["label"] = c.Label
		}
		if c.Color != "" {
			entry["color"] = c.Color
		}
		choices = append(choices, entry)
	}
	return map[string]any{string(OptChoices): choices}
}

func (o *FileOptions) Map() map[string]any {
	m := map[string]any{}
	if len(o.AllowedTypes) > 0 {
		types := make([]any, len(o.AllowedTypes))
		for i, t := range o.AllowedTypes {
			types[i] = t
		}
		m[string(OptAllowedTypes)] = types
	}
	if o.MaxSize != 0 {
		m[string(OptMaxSize)] = o.MaxSize
	}
	if o.MaxFiles != 0 {
		m[string(OptMaxFiles)] = o.MaxFiles
	}
	return m
}

func (o *ReferenceOptions) Map() map[string]any {
	return map[string]any{string(OptReferencedCollection): o.ReferencedCollection}
}

func (o *LookupOptions) Map() map[string]any {
	return map[string]any{
		string(OptReferencedCollection): o.ReferencedCollection,
		string(OptReferenceField):       o.ReferenceField,
		string(OptDisplayField):         o.DisplayField,
	}
}

func (o *RollupOptions) Map() map[string]any {
	m := map[string]any{
		string(OptReferencedCollection): o.ReferencedCollection,
		string(OptRelationField):        o.RelationField,
		string(OptRollupFunction):       string(o.Function),
	}
	if o.TargetField != "" {
		m[string(OptTargetField)] = o.TargetField
	}
	return m
}

func (o *FormulaOptions) Map() map[string]any {
	return map[string]any{string(OptFormula): o.Formula}
}

func (o *AutoIncrementOptions) Map() map[string]any {
	m := map[string]any{}
	if o.Prefix != "" {
		m[string(OptPrefix)] = o.Prefix
	}
	if o.StartAt != 0 {
		m[string(OptStartAt)] = o.StartAt
	}
	return m
}

// ReferencedCollection returns the target collection id of relational
// options, or "" for every other variant.
func ReferencedCollection(o Options) string {
	switch v := o.(type) {
	case *ReferenceOptions:
		return v.ReferencedCollection
	case *LookupOptions:
		return v.ReferencedCollection
	case *RollupOptions:
		return v.ReferencedCollection
	}
	return ""
}

// CloneOptions returns a deep copy of o.
func CloneOptions(o Options) Options {
	switch v := o.(type) {
	case nil:
		return nil
	case *NumberOptions:
		c := *v
		c.Precision = cloneInt(v.Precision)
		return &c
	case *CurrencyOptions:
		c := *v
		c.Precision = cloneInt(v.Precision)
		return &c
	case *SelectOptions:
		c := SelectOptions{Choices: append([]Choice(nil), v.Choices...)}
		return &c
	case *FileOptions:
		c := *v
		c.AllowedTypes = append([]string(nil), v.AllowedTypes...)
		return &c
	case *ReferenceOptions:
		c := *v
		return &c
	case *LookupOptions:
		c := *v
		return &c
	case *RollupOptions:
		c := *v
		return &c
	case *FormulaOptions:
		c := *v
		return &c
	case *AutoIncrementOptions:
		c := *v
		return &c
	}
	return o
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// DecodeOptions converts the untyped option bag of a field into the typed
// variant for t. Keys that are not legal for t and values of the wrong kind
// are reported as violations against field; the legal remainder is still
// decoded so that every problem surfaces at once.
func DecodeOptions(field string, t FieldType, raw map[string]any) (Options, Violations) {
	if len(raw) == 0 {
		return nil, nil
	}
	var vs Violations
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	legal := map[OptionKey]any{}
	for _, k := range keys {
		if !IsLegalOption(t, OptionKey(k)) {
			vs = append(vs, Violation{
				Field:   field,
				Code:    CodeOptions,
				Message: fmt.Sprintf("option %q is not valid for %s fields", k, t),
			})
			continue
		}
		legal[OptionKey(k)] = raw[k]
	}
	if len(legal) == 0 {
		return nil, vs
	}

	d := optionDecoder{field: field, values: legal}
	var opts Options
	switch t {
	case TypeNumber, TypePercent:
		opts = &NumberOptions{Precision: d.intPtr(OptPrecision)}
	case TypeCurrency:
		opts = &CurrencyOptions{Precision: d.intPtr(OptPrecision), Code: d.str(OptCurrencyCode)}
	case TypeSelect, TypeMultiSelect:
		opts = &SelectOptions{Choices: d.choices(OptChoices)}
	case TypeAttachment, TypeImage:
		opts = &FileOptions{
			AllowedTypes: d.strList(OptAllowedTypes),
			MaxSize:      d.integer(OptMaxSize),
			MaxFiles:     int(d.integer(OptMaxFiles)),
		}
	case TypeReference:
		opts = &ReferenceOptions{ReferencedCollection: d.str(OptReferencedCollection)}
	case TypeLookup:
		opts = &LookupOptions{
			ReferencedCollection: d.str(OptReferencedCollection),
			ReferenceField:       d.str(OptReferenceField),
			DisplayField:         d.str(OptDisplayField),
		}
	case TypeRollup:
		opts = &RollupOptions{
			ReferencedCollection: d.str(OptReferencedCollection),
			RelationField:        d.str(OptRelationField),
			TargetField:          d.str(OptTargetField),
			Function:             RollupFunction(d.str(OptRollupFunction)),
		}
	case TypeFormula:
		opts = &FormulaOptions{Formula: d.str(OptFormula)}
	case TypeAutoIncrement:
		opts = &AutoIncrementOptions{Prefix: d.str(OptPrefix), StartAt: d.integer(OptStartAt)}
	}
	return opts, append(vs, d.violations...)
}

type optionDecoder struct {
	field      string
	values     map[OptionKey]any
	violations Violations
}

func (d *optionDecoder) fail(key OptionKey, want string) {
	d.violations = append(d.violations, Violation{
		Field:   d.field,
		Code:    CodeOptions,
		Message: fmt.Sprintf("option %q must be %s", key, want),
	})
}

func (d *optionDecoder) str(key OptionKey) string {
	v, ok := d.values[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(key, "a string")
		return ""
	}
	return strings.TrimSpace(s)
}

func (d *optionDecoder) integer(key OptionKey) int64 {
	v, ok := d.values[key]
	if !ok || v == nil {
		return 0
	}
	n, ok := toInt64(v)
	if !ok {
		d.fail(key, "an integer")
		return 0
	}
	return n
}

func (d *optionDecoder) intPtr(key OptionKey) *int {
	if _, ok := d.values[key]; !ok {
		return nil
	}
	n := int(d.integer(key))
	return &n
}

func (d *optionDecoder) strList(key OptionKey) []string {
	v, ok := d.values[key]
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				d.fail(key, "a list of strings")
				return nil
			}
			out = append(out, s)
		}
		return out
	}
	d.fail(key, "a list of strings")
	return nil
}

func (d *optionDecoder) choices(key OptionKey) []Choice {
	v, ok := d.values[key]
	if !ok || v == nil {
		return nil
	}
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		for _, s := range list {
			items = append(items, s)
		}
	case []Choice:
		return append([]Choice(nil), list...)
	default:
		d.fail(key, "a list of choices")
		return nil
	}
	out := make([]Choice, 0, len(items))
	for _, item := range items {
		switch c := item.(type) {
		case string:
			out = append(out, Choice{Value: c})
		case map[string]any:
			value, _ := c["value"].(string)
			label, _ := c["label"].(string)
			color, _ := c["color"].(string)
			out = append(out, Choice{Value: value, Label: label, Color: color})
		default:
			d.fail(key, "a list of choices")
			return nil
		}
	}
	return out
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

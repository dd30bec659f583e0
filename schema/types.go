package schema

import (
	"fmt"
	"strings"
)

// FieldType identifies the semantic kind of a field. The set is closed: the
// zero value and anything outside the declared constants is not a field type,
// and ParseFieldType is the only way to obtain one from text.
type FieldType uint8

const (
	TypeText FieldType = iota + 1
	TypeNumber
	TypeBoolean
	TypeDate
	TypeDateTime
	TypeEmail
	TypeURL
	TypePhone
	TypeCurrency
	TypePercent
	TypeSelect
	TypeMultiSelect
	TypeAttachment
	TypeImage
	TypeReference
	TypeLookup
	TypeRollup
	TypeFormula
	TypeAutoIncrement
	TypeCreatedTime
	TypeModifiedTime
	TypeCreatedBy
	TypeModifiedBy
	TypeJSON
	TypeArray
	TypeObject

	typeCount
)

// Category groups field types for display and for documentation.
type Category string

const (
	CategoryPrimitive     Category = "primitive"
	CategoryRichPrimitive Category = "rich-primitive"
	CategorySelection     Category = "selection"
	CategoryFile          Category = "file"
	CategoryRelational    Category = "relational"
	CategoryComputed      Category = "computed"
	CategoryStructural    Category = "structural"
)

// ValueShape is the runtime value contract of a field type after coercion.
type ValueShape string

const (
	ShapeString     ValueShape = "string"
	ShapeNumber     ValueShape = "number"
	ShapeBoolean    ValueShape = "boolean"
	ShapeDate       ValueShape = "date"
	ShapeStringList ValueShape = "string-list"
	ShapeFileList   ValueShape = "file-list"
	ShapeReference  ValueShape = "reference"
	ShapeAny        ValueShape = "any"
	ShapeList       ValueShape = "list"
	ShapeObject     ValueShape = "object"
)

// Comparable reports whether min/max rules are meaningful for the shape.
// Strings and lists compare by length.
func (s ValueShape) Comparable() bool {
	switch s {
	case ShapeNumber, ShapeDate, ShapeString, ShapeStringList, ShapeFileList, ShapeList:
		return true
	}
	return false
}

// Textual reports whether pattern rules are meaningful for the shape.
func (s ValueShape) Textual() bool {
	return s == ShapeString
}

// Indexable reports whether a unique rule can be enforced for the shape.
func (s ValueShape) Indexable() bool {
	switch s {
	case ShapeString, ShapeNumber, ShapeBoolean, ShapeDate, ShapeReference:
		return true
	}
	return false
}

// Measured reports whether min/max compare the length of the value rather
// than the value itself.
func (s ValueShape) Measured() bool {
	switch s {
	case ShapeString, ShapeStringList, ShapeFileList, ShapeList:
		return true
	}
	return false
}

// OptionKey names a configuration key of a field's options.
type OptionKey string

const (
	OptChoices              OptionKey = "choices"
	OptPrecision            OptionKey = "precision"
	OptCurrencyCode         OptionKey = "currencyCode"
	OptReferencedCollection OptionKey = "referencedCollection"
	OptReferenceField       OptionKey = "referenceField"
	OptDisplayField         OptionKey = "displayField"
	OptRelationField        OptionKey = "relationField"
	OptTargetField          OptionKey = "targetField"
	OptRollupFunction       OptionKey = "rollupFunction"
	OptFormula              OptionKey = "formula"
	OptPrefix               OptionKey = "prefix"
	OptStartAt              OptionKey = "startAt"
	OptAllowedTypes         OptionKey = "allowedTypes"
	OptMaxSize              OptionKey = "maxSize"
	OptMaxFiles             OptionKey = "maxFiles"
)

type typeInfo struct {
	name       string
	category   Category
	shape      ValueShape
	options    []OptionKey
	computed   bool
	relational bool
}

var (
	numberKeys   = []OptionKey{OptPrecision}
	currencyKeys = []OptionKey{OptPrecision, OptCurrencyCode}
	choiceKeys   = []OptionKey{OptChoices}
	fileKeys     = []OptionKey{OptAllowedTypes, OptMaxSize, OptMaxFiles}
)

// taxonomy is indexed by FieldType; index 0 is the invalid zero value.
var taxonomy = [typeCount]typeInfo{
	TypeText:          {name: "text", category: CategoryPrimitive, shape: ShapeString},
	TypeNumber:        {name: "number", category: CategoryPrimitive, shape: ShapeNumber, options: numberKeys},
	TypeBoolean:       {name: "boolean", category: CategoryPrimitive, shape: ShapeBoolean},
	TypeDate:          {name: "date", category: CategoryPrimitive, shape: ShapeDate},
	TypeDateTime:      {name: "datetime", category: CategoryPrimitive, shape: ShapeDate},
	TypeEmail:         {name: "email", category: CategoryRichPrimitive, shape: ShapeString},
	TypeURL:           {name: "url", category: CategoryRichPrimitive, shape: ShapeString},
	TypePhone:         {name: "phone", category: CategoryRichPrimitive, shape: ShapeString},
	TypeCurrency:      {name: "currency", category: CategoryRichPrimitive, shape: ShapeNumber, options: currencyKeys},
	TypePercent:       {name: "percent", category: CategoryRichPrimitive, shape: ShapeNumber, options: numberKeys},
	TypeSelect:        {name: "select", category: CategorySelection, shape: ShapeString, options: choiceKeys},
	TypeMultiSelect:   {name: "multiselect", category: CategorySelection, shape: ShapeStringList, options: choiceKeys},
	TypeAttachment:    {name: "attachment", category: CategoryFile, shape: ShapeFileList, options: fileKeys},
	TypeImage:         {name: "image", category: CategoryFile, shape: ShapeFileList, options: fileKeys},
	TypeReference:     {name: "reference", category: CategoryRelational, shape: ShapeReference, options: []OptionKey{OptReferencedCollection}, relational: true},
	TypeLookup:        {name: "lookup", category: CategoryRelational, shape: ShapeAny, options: []OptionKey{OptReferencedCollection, OptReferenceField, OptDisplayField}, relational: true, computed: true},
	TypeRollup:        {name: "rollup", category: CategoryRelational, shape: ShapeAny, options: []OptionKey{OptReferencedCollection, OptRelationField, OptTargetField, OptRollupFunction}, relational: true, computed: true},
	TypeFormula:       {name: "formula", category: CategoryComputed, shape: ShapeAny, options: []OptionKey{OptFormula}, computed: true},
	TypeAutoIncrement: {name: "autoIncrement", category: CategoryComputed, shape: ShapeAny, options: []OptionKey{OptPrefix, OptStartAt}, computed: true},
	TypeCreatedTime:   {name: "createdTime", category: CategoryComputed, shape: ShapeDate, computed: true},
	TypeModifiedTime:  {name: "modifiedTime", category: CategoryComputed, shape: ShapeDate, computed: true},
	TypeCreatedBy:     {name: "createdBy", category: CategoryComputed, shape: ShapeString, computed: true},
	TypeModifiedBy:    {name: "modifiedBy", category: CategoryComputed, shape: ShapeString, computed: true},
	TypeJSON:          {name: "json", category: CategoryStructural, shape: ShapeAny},
	TypeArray:         {name: "array", category: CategoryStructural, shape: ShapeList},
	TypeObject:        {name: "object", category: CategoryStructural, shape: ShapeObject},
}

// typesByName is built from taxonomy for O(1) lookup, case-insensitive.
var typesByName = buildTypesByName()

func buildTypesByName() map[string]FieldType {
	m := make(map[string]FieldType, typeCount)
	for t := TypeText; t < typeCount; t++ {
		m[strings.ToLower(taxonomy[t].name)] = t
	}
	return m
}

// Known reports whether t is a member of the enumeration.
func (t FieldType) Known() bool {
	return t > 0 && t < typeCount
}

func (t FieldType) String() string {
	if !t.Known() {
		return fmt.Sprintf("FieldType(%d)", uint8(t))
	}
	return taxonomy[t].name
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	if !t.Known() {
		return nil, &UnknownTypeError{Name: t.String()}
	}
	return []byte(taxonomy[t].name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseFieldType resolves a field type by name. Names are matched without
// regard to case, so "multiSelect" and "multiselect" are the same type.
func ParseFieldType(name string) (FieldType, error) {
	if t, ok := typesByName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t, nil
	}
	return 0, &UnknownTypeError{Name: name}
}

// AllFieldTypes returns every field type in declaration order.
func AllFieldTypes() []FieldType {
	types := make([]FieldType, 0, typeCount-1)
	for t := TypeText; t < typeCount; t++ {
		types = append(types, t)
	}
	return types
}

func info(t FieldType) typeInfo {
	if !t.Known() {
		// Unknown types are rejected at construction; reaching here is a bug.
		panic(&UnknownTypeError{Name: t.String()})
	}
	return taxonomy[t]
}

// ShapeOf returns the value shape a field type accepts.
func ShapeOf(t FieldType) ValueShape { return info(t).shape }

// CategoryOf returns the category of a field type.
func CategoryOf(t FieldType) Category { return info(t).category }

// IsComputed reports whether values of the type are derived rather than written.
func IsComputed(t FieldType) bool { return info(t).computed }

// IsRelational reports whether the type points at another collection.
func IsRelational(t FieldType) bool { return info(t).relational }

// LegalOptionKeys returns the option keys meaningful for a field type.
func LegalOptionKeys(t FieldType) []OptionKey {
	keys := info(t).options
	out := make([]OptionKey, len(keys))
	copy(out, keys)
	return out
}

// IsLegalOption reports whether key may be set on fields of type t.
func IsLegalOption(t FieldType, key OptionKey) bool {
	for _, k := range info(t).options {
		if k == key {
			return true
		}
	}
	return false
}

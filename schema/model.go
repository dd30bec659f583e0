package schema

import (
	"encoding/json"
	"time"
)

// RuleKind names a validation rule.
type RuleKind string

const (
	RuleRequired RuleKind = "required"
	RuleUnique   RuleKind = "unique"
	RuleMin      RuleKind = "min"
	RuleMax      RuleKind = "max"
	RulePattern  RuleKind = "pattern"
	RuleCustom   RuleKind = "custom"
)

// Valid reports whether k is a known rule kind.
func (k RuleKind) Valid() bool {
	switch k {
	case RuleRequired, RuleUnique, RuleMin, RuleMax, RulePattern, RuleCustom:
		return true
	}
	return false
}

// ValidationRule is one constraint on a field's value. Value is the rule
// parameter in text form: a number or ISO date for min/max, a regular
// expression for pattern, a registered rule name for custom.
type ValidationRule struct {
	Kind    RuleKind `json:"kind" yaml:"kind"`
	Value   string   `json:"value,omitempty" yaml:"value,omitempty"`
	Message string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// FieldDefinition is a typed, named attribute of a collection.
type FieldDefinition struct {
	Name         string
	Type         FieldType
	Description  string
	Required     bool
	DefaultValue any
	Validations  []ValidationRule
	Options      Options
}

// FieldInput is the untyped form of a field definition as it arrives from
// definition files and callers: the type is a name and the options a sparse
// bag. validator.ValidateInput turns it into a FieldDefinition.
type FieldInput struct {
	Name        string           `json:"name" yaml:"name"`
	Type        string           `json:"type" yaml:"type"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool             `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any              `json:"default,omitempty" yaml:"default,omitempty"`
	Validations []ValidationRule `json:"validations,omitempty" yaml:"validations,omitempty"`
	Options     map[string]any   `json:"options,omitempty" yaml:"options,omitempty"`
}

// Input converts the definition back to its untyped form.
func (f FieldDefinition) Input() FieldInput {
	in := FieldInput{
		Name:        f.Name,
		Type:        f.Type.String(),
		Description: f.Description,
		Required:    f.Required,
		Default:     CloneValue(f.DefaultValue),
		Validations: append([]ValidationRule(nil), f.Validations...),
	}
	if f.Options != nil {
		in.Options = f.Options.Map()
	}
	return in
}

// Clone returns a deep copy of the definition.
func (f FieldDefinition) Clone() FieldDefinition {
	f.DefaultValue = CloneValue(f.DefaultValue)
	f.Validations = append([]ValidationRule(nil), f.Validations...)
	f.Options = CloneOptions(f.Options)
	return f
}

// HasRule reports whether the field carries a rule of the given kind.
func (f FieldDefinition) HasRule(kind RuleKind) bool {
	for _, r := range f.Validations {
		if r.Kind == kind {
			return true
		}
	}
	return false
}

// MarshalJSON encodes the definition in its untyped form.
func (f FieldDefinition) MarshalJSON() ([]byte, error) {
	if !f.Type.Known() {
		return nil, &UnknownTypeError{Name: f.Type.String()}
	}
	return json.Marshal(f.Input())
}

// UnmarshalJSON decodes a stored definition. Stored definitions were
// validated on the way in, so any decode violation means corrupted state and
// is returned as an error.
func (f *FieldDefinition) UnmarshalJSON(data []byte) error {
	var in FieldInput
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	t, err := ParseFieldType(in.Type)
	if err != nil {
		return err
	}
	opts, vs := DecodeOptions(in.Name, t, in.Options)
	if len(vs) > 0 {
		return &DefinitionError{Subject: in.Name, Violations: vs}
	}
	*f = FieldDefinition{
		Name:         in.Name,
		Type:         t,
		Description:  in.Description,
		Required:     in.Required,
		DefaultValue: in.Default,
		Validations:  in.Validations,
		Options:      opts,
	}
	return nil
}

// ViewType is the presentation of a view.
type ViewType string

const (
	ViewTable    ViewType = "table"
	ViewGrid     ViewType = "grid"
	ViewList     ViewType = "list"
	ViewKanban   ViewType = "kanban"
	ViewCalendar ViewType = "calendar"
)

// Valid reports whether v is a known view type.
func (v ViewType) Valid() bool {
	switch v {
	case ViewTable, ViewGrid, ViewList, ViewKanban, ViewCalendar:
		return true
	}
	return false
}

// FilterOp is a comparison operator of a filter condition.
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNeq      FilterOp = "neq"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpContains FilterOp = "contains"
	OpIn       FilterOp = "in"
	OpEmpty    FilterOp = "empty"
	OpNotEmpty FilterOp = "notEmpty"
)

// Valid reports whether op is a known operator.
func (op FilterOp) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpContains, OpIn, OpEmpty, OpNotEmpty:
		return true
	}
	return false
}

// Ordering reports whether the operator needs ordered values.
func (op FilterOp) Ordering() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Filter is a node of a boolean filter tree. A node with And or Or children
// is a group; otherwise it is a comparison of Field against Value.
type Filter struct {
	And   []Filter `json:"and,omitempty" yaml:"and,omitempty"`
	Or    []Filter `json:"or,omitempty" yaml:"or,omitempty"`
	Field string   `json:"field,omitempty" yaml:"field,omitempty"`
	Op    FilterOp `json:"op,omitempty" yaml:"op,omitempty"`
	Value any      `json:"value,omitempty" yaml:"value,omitempty"`
}

// IsGroup reports whether the node combines child filters.
func (f Filter) IsGroup() bool {
	return len(f.And) > 0 || len(f.Or) > 0
}

// Fields returns the field names the filter compares, depth first.
func (f Filter) Fields() []string {
	var out []string
	f.walk(func(c Filter) { out = append(out, c.Field) })
	return out
}

func (f Filter) walk(fn func(Filter)) {
	if !f.IsGroup() {
		if f.Field != "" {
			fn(f)
		}
		return
	}
	for _, c := range f.And {
		c.walk(fn)
	}
	for _, c := range f.Or {
		c.walk(fn)
	}
}

// Without returns a copy of the filter with every comparison on field
// removed. Groups left empty disappear; nil means nothing is left.
func (f Filter) Without(field string) *Filter {
	if !f.IsGroup() {
		if f.Field == field {
			return nil
		}
		c := f.Clone()
		return &c
	}
	out := Filter{}
	for _, c := range f.And {
		if p := c.Without(field); p != nil {
			out.And = append(out.And, *p)
		}
	}
	for _, c := range f.Or {
		if p := c.Without(field); p != nil {
			out.Or = append(out.Or, *p)
		}
	}
	if !out.IsGroup() {
		return nil
	}
	return &out
}

// Clone returns a deep copy of the filter.
func (f Filter) Clone() Filter {
	out := Filter{Field: f.Field, Op: f.Op, Value: CloneValue(f.Value)}
	for _, c := range f.And {
		out.And = append(out.And, c.Clone())
	}
	for _, c := range f.Or {
		out.Or = append(out.Or, c.Clone())
	}
	return out
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Valid reports whether d is a known direction; empty means ascending.
func (d Direction) Valid() bool {
	return d == "" || d == Asc || d == Desc
}

// SortKey orders records by one field.
type SortKey struct {
	Field     string    `json:"field" yaml:"field"`
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// GroupExpression buckets records by one field.
type GroupExpression struct {
	Field     string    `json:"field" yaml:"field"`
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
}

// ViewDefinition is a saved projection, filter, sort and grouping over the
// records of a collection.
type ViewDefinition struct {
	Name          string           `json:"name" yaml:"name"`
	Type          ViewType         `json:"type" yaml:"type"`
	VisibleFields []string         `json:"visibleFields,omitempty" yaml:"visibleFields,omitempty"`
	Filter        *Filter          `json:"filter,omitempty" yaml:"filter,omitempty"`
	Sort          []SortKey        `json:"sort,omitempty" yaml:"sort,omitempty"`
	Group         *GroupExpression `json:"group,omitempty" yaml:"group,omitempty"`
}

// ReferencedFields returns every distinct field name the view touches, in
// the order visible fields, filter, sort, group.
func (v ViewDefinition) ReferencedFields() []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, f := range v.VisibleFields {
		add(f)
	}
	if v.Filter != nil {
		for _, f := range v.Filter.Fields() {
			add(f)
		}
	}
	for _, s := range v.Sort {
		add(s.Field)
	}
	if v.Group != nil {
		add(v.Group.Field)
	}
	return out
}

// References reports whether the view touches field.
func (v ViewDefinition) References(field string) bool {
	for _, f := range v.ReferencedFields() {
		if f == field {
			return true
		}
	}
	return false
}

// WithoutField returns a copy of the view with every reference to field
// removed and all other properties unchanged.
func (v ViewDefinition) WithoutField(field string) ViewDefinition {
	out := v.Clone()
	if out.VisibleFields != nil {
		kept := make([]string, 0, len(out.VisibleFields))
		for _, f := range out.VisibleFields {
			if f != field {
				kept = append(kept, f)
			}
		}
		out.VisibleFields = kept
	}
	if out.Filter != nil {
		out.Filter = out.Filter.Without(field)
	}
	if out.Sort != nil {
		kept := make([]SortKey, 0, len(out.Sort))
		for _, s := range out.Sort {
			if s.Field != field {
				kept = append(kept, s)
			}
		}
		out.Sort = kept
	}
	if out.Group != nil && out.Group.Field == field {
		out.Group = nil
	}
	return out
}

// Clone returns a deep copy of the view.
func (v ViewDefinition) Clone() ViewDefinition {
	out := v
	if v.VisibleFields != nil {
		out.VisibleFields = append([]string{}, v.VisibleFields...)
	}
	if v.Filter != nil {
		f := v.Filter.Clone()
		out.Filter = &f
	}
	if v.Sort != nil {
		out.Sort = append([]SortKey{}, v.Sort...)
	}
	if v.Group != nil {
		g := *v.Group
		out.Group = &g
	}
	return out
}

// CollectionSchema is the authoritative definition of a collection.
type CollectionSchema struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description,omitempty"`
	Fields      []FieldDefinition `json:"fields"`
	Views       []ViewDefinition  `json:"views"`
	IsActive    bool              `json:"isActive"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Field returns the field with the given name.
func (s CollectionSchema) Field(name string) (FieldDefinition, bool) {
	if i := s.FieldIndex(name); i >= 0 {
		return s.Fields[i], true
	}
	return FieldDefinition{}, false
}

// FieldIndex returns the declaration index of a field, or -1.
func (s CollectionSchema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FieldNames returns the field names in declaration order.
func (s CollectionSchema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// View returns the view with the given name.
func (s CollectionSchema) View(name string) (ViewDefinition, bool) {
	if i := s.ViewIndex(name); i >= 0 {
		return s.Views[i], true
	}
	return ViewDefinition{}, false
}

// ViewIndex returns the index of a view, or -1.
func (s CollectionSchema) ViewIndex(name string) int {
	for i, v := range s.Views {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// ViewNames returns the view names in declaration order.
func (s CollectionSchema) ViewNames() []string {
	names := make([]string, len(s.Views))
	for i, v := range s.Views {
		names[i] = v.Name
	}
	return names
}

// Clone returns a deep copy of the schema.
func (s CollectionSchema) Clone() CollectionSchema {
	out := s
	out.Fields = make([]FieldDefinition, len(s.Fields))
	for i, f := range s.Fields {
		out.Fields[i] = f.Clone()
	}
	out.Views = make([]ViewDefinition, len(s.Views))
	for i, v := range s.Views {
		out.Views[i] = v.Clone()
	}
	return out
}

// Record maps field names to runtime values.
type Record map[string]any

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = CloneValue(v)
	}
	return out
}

// RecordMeta is storage metadata of a persisted record. System fields
// (auto-increment, created/modified time and user) are derived from it.
type RecordMeta struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	CreatedBy string    `json:"createdBy,omitempty"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
}

// Entry is a persisted record together with its metadata.
type Entry struct {
	Meta RecordMeta `json:"meta"`
	Data Record     `json:"data"`
}

// File describes one uploaded file of an attachment or image field.
type File struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// CloneValue deep-copies the maps and slices of a decoded value.
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = CloneValue(e)
		}
		return out
	case Record:
		return x.Clone()
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	case []File:
		return append([]File(nil), x...)
	}
	return v
}

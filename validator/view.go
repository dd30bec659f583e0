package validator

import (
	"fmt"
	"reflect"

	"github.com/cbnsndwch/struktura/schema"
)

// ValidateView validates a view definition against the fields of its
// collection.
func ValidateView(view schema.ViewDefinition, fields []schema.FieldDefinition, existingViewNames []string) error {
	return defaultValidator.View(view, fields, existingViewNames)
}

// View validates a proposed view definition. Every referenced field must
// exist in fields; all problems are returned together as a
// *schema.DefinitionError.
func (v *Validator) View(view schema.ViewDefinition, fields []schema.FieldDefinition, existingViewNames []string) error {
	var vs schema.Violations
	add := func(format string, args ...any) {
		vs = append(vs, schema.Violation{Field: view.Name, Code: schema.CodeView, Message: fmt.Sprintf(format, args...)})
	}

	if err := validateName("view", view.Name); err != nil {
		vs = append(vs, schema.Violation{Field: view.Name, Code: schema.CodeName, Message: err.Error()})
	}
	for _, name := range existingViewNames {
		if name == view.Name {
			vs = append(vs, schema.Violation{Field: view.Name, Code: schema.CodeName, Message: fmt.Sprintf("view name %q already exists", view.Name)})
			break
		}
	}
	if !view.Type.Valid() {
		add("view type %q must be one of table, grid, list, kanban, calendar", view.Type)
	}

	byName := make(map[string]schema.FieldDefinition, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	lookup := func(name, where string) (schema.FieldDefinition, bool) {
		f, ok := byName[name]
		if !ok {
			add("%s references unknown field %q", where, name)
		}
		return f, ok
	}

	seen := map[string]bool{}
	for _, name := range view.VisibleFields {
		if seen[name] {
			add("visible field %q is listed twice", name)
			continue
		}
		seen[name] = true
		lookup(name, "visible fields")
	}

	if view.Filter != nil {
		validateFilter(*view.Filter, lookup, add)
	}

	for _, s := range view.Sort {
		if !s.Direction.Valid() {
			add("sort direction %q must be asc or desc", s.Direction)
		}
		lookup(s.Field, "sort")
	}

	if view.Group != nil {
		if !view.Group.Direction.Valid() {
			add("group direction %q must be asc or desc", view.Group.Direction)
		}
		if f, ok := lookup(view.Group.Field, "group"); ok && !groupable(f.Type) {
			add("cannot group by %s field %q", f.Type, f.Name)
		}
	} else if view.Type == schema.ViewKanban {
		add("kanban views require a group field")
	}
	if view.Type == schema.ViewCalendar {
		if !hasDateField(view, byName) {
			add("calendar views require a visible date or datetime field")
		}
	}

	if len(vs) > 0 {
		return &schema.DefinitionError{Subject: view.Name, Violations: vs}
	}
	return nil
}

func validateFilter(f schema.Filter, lookup func(string, string) (schema.FieldDefinition, bool), add func(string, ...any)) {
	if f.IsGroup() {
		if f.Field != "" || f.Op != "" {
			add("filter group cannot also compare field %q", f.Field)
		}
		for _, c := range f.And {
			validateFilter(c, lookup, add)
		}
		for _, c := range f.Or {
			validateFilter(c, lookup, add)
		}
		return
	}
	if f.Field == "" {
		add("filter condition has no field")
		return
	}
	if !f.Op.Valid() {
		add("filter operator %q is not supported", f.Op)
		return
	}
	def, ok := lookup(f.Field, "filter")
	if !ok {
		return
	}
	shape := schema.ShapeOf(def.Type)
	switch f.Op {
	case schema.OpGt, schema.OpGte, schema.OpLt, schema.OpLte:
		if isList(shape) || shape == schema.ShapeObject || shape == schema.ShapeBoolean {
			add("operator %s cannot compare %s field %q", f.Op, def.Type, f.Field)
		}
	case schema.OpContains:
		if !shape.Textual() && !isList(shape) {
			add("operator contains cannot be used on %s field %q", def.Type, f.Field)
		}
	case schema.OpIn:
		if !isSlice(f.Value) {
			add("operator in on field %q needs a list value", f.Field)
		}
	case schema.OpEmpty, schema.OpNotEmpty:
		if f.Value != nil {
			add("operator %s on field %q takes no value", f.Op, f.Field)
		}
	}
}

func isList(s schema.ValueShape) bool {
	return s == schema.ShapeStringList || s == schema.ShapeList || s == schema.ShapeFileList
}

func isSlice(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func groupable(t schema.FieldType) bool {
	switch schema.ShapeOf(t) {
	case schema.ShapeFileList, schema.ShapeObject, schema.ShapeList:
		return false
	}
	return t != schema.TypeJSON
}

func hasDateField(view schema.ViewDefinition, byName map[string]schema.FieldDefinition) bool {
	names := view.VisibleFields
	if names == nil {
		for name := range byName {
			names = append(names, name)
		}
	}
	for _, name := range names {
		if f, ok := byName[name]; ok && schema.ShapeOf(f.Type) == schema.ShapeDate {
			return true
		}
	}
	return false
}

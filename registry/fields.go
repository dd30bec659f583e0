package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/cbnsndwch/struktura/events"
	"github.com/cbnsndwch/struktura/schema"
)

// FieldPatch changes properties of an existing field. Nil members stay as
// they are; the type cannot change here (see ReplaceField).
type FieldPatch struct {
	Name         *string
	Description  *string
	Required     *bool
	DefaultValue any
	ClearDefault bool
	Validations  *[]schema.ValidationRule
	Options      schema.Options
	ClearOptions bool
}

func fieldNotFound(s schema.CollectionSchema, name string) error {
	return fmt.Errorf("field %s of collection %s: %w", name, s.Slug, schema.ErrFieldNotFound)
}

// namesExcept returns the field names of s without skip.
func namesExcept(s schema.CollectionSchema, skip string) []string {
	var out []string
	for _, f := range s.Fields {
		if f.Name != skip {
			out = append(out, f.Name)
		}
	}
	return out
}

// CreateField appends a field to a collection.
func (r *Registry) CreateField(ctx context.Context, ref string, def schema.FieldDefinition) (schema.CollectionSchema, error) {
	return r.mutate(ctx, "createField", ref, func(next *schema.CollectionSchema) (events.Event, error) {
		if err := r.validator.Field(def, next.FieldNames()); err != nil {
			return events.Event{}, err
		}
		def = def.Clone()
		next.Fields = append(next.Fields, def)
		if err := r.verify(ctx, *next, def); err != nil {
			return events.Event{}, err
		}
		return events.Event{Kind: events.FieldCreated, Field: def.Name}, nil
	})
}

// UpdateField applies patch to the field called name. A field that views or
// computed fields use cannot be renamed.
func (r *Registry) UpdateField(ctx context.Context, ref, name string, patch FieldPatch) (schema.CollectionSchema, error) {
	return r.mutate(ctx, "updateField", ref, func(next *schema.CollectionSchema) (events.Event, error) {
		i := next.FieldIndex(name)
		if i < 0 {
			return events.Event{}, fieldNotFound(*next, name)
		}
		def := next.Fields[i].Clone()
		if patch.Name != nil && *patch.Name != name {
			views, fields := r.dependents(*next, name)
			if deps := append(views, fields...); len(deps) > 0 {
				return events.Event{}, &schema.IntegrityError{
					Kind:       schema.FieldInUse,
					Collection: next.Slug,
					Field:      name,
					Dependents: deps,
					Message:    fmt.Sprintf("field %s cannot be renamed while in use", name),
				}
			}
			def.Name = *patch.Name
		}
		if patch.Description != nil {
			def.Description = *patch.Description
		}
		if patch.Required != nil {
			def.Required = *patch.Required
		}
		switch {
		case patch.ClearDefault:
			def.DefaultValue = nil
		case patch.DefaultValue != nil:
			def.DefaultValue = schema.CloneValue(patch.DefaultValue)
		}
		if patch.Validations != nil {
			def.Validations = append([]schema.ValidationRule(nil), (*patch.Validations)...)
		}
		switch {
		case patch.ClearOptions:
			def.Options = nil
		case patch.Options != nil:
			def.Options = schema.CloneOptions(patch.Options)
		}

		if err := r.validator.Field(def, namesExcept(*next, name)); err != nil {
			return events.Event{}, err
		}
		next.Fields[i] = def
		if err := r.validateViews(*next); err != nil {
			return events.Event{}, err
		}
		if err := r.verify(ctx, *next, def); err != nil {
			return events.Event{}, err
		}
		return events.Event{Kind: events.FieldUpdated, Field: def.Name}, nil
	})
}

// DeleteField removes a field. Fields read by computed fields are always in
// use; views using the field block the deletion under the strict policy and
// lose every reference to it under the lenient one.
func (r *Registry) DeleteField(ctx context.Context, ref, name string) (schema.CollectionSchema, error) {
	return r.mutate(ctx, "deleteField", ref, func(next *schema.CollectionSchema) (events.Event, error) {
		i := next.FieldIndex(name)
		if i < 0 {
			return events.Event{}, fieldNotFound(*next, name)
		}
		views, fields := r.dependents(*next, name)
		if len(fields) > 0 {
			return events.Event{}, &schema.IntegrityError{
				Kind:       schema.FieldInUse,
				Collection: next.Slug,
				Field:      name,
				Dependents: fields,
				Message:    fmt.Sprintf("field %s is read by computed fields", name),
			}
		}
		next.Fields = append(next.Fields[:i:i], next.Fields[i+1:]...)
		// views using the field implicitly, like a calendar showing all fields
		for _, v := range next.Views {
			if !slices.Contains(views, v.Name) && r.validator.View(v, next.Fields, nil) != nil {
				views = append(views, v.Name)
			}
		}
		if err := r.cascade(next, name, views); err != nil {
			return events.Event{}, err
		}
		return events.Event{Kind: events.FieldDeleted, Field: name}, nil
	})
}

// cascade applies the delete policy to the named views using field. next.Fields
// must already hold the fields the views are left with. Under the lenient
// policy a view that cannot do without the field, such as a kanban view
// grouped by it or a calendar view losing its only date field, still blocks
// the change.
func (r *Registry) cascade(next *schema.CollectionSchema, field string, views []string) error {
	if len(views) == 0 {
		return nil
	}
	if r.policy != DeleteLenient {
		return &schema.IntegrityError{
			Kind:       schema.FieldInUse,
			Collection: next.Slug,
			Field:      field,
			Dependents: views,
			Message:    fmt.Sprintf("field %s is used by views", field),
		}
	}
	affected := make(map[string]bool, len(views))
	for _, name := range views {
		affected[name] = true
	}
	stripped := make([]schema.ViewDefinition, len(next.Views))
	var invalid []string
	for i, v := range next.Views {
		stripped[i] = v
		if !affected[v.Name] {
			continue
		}
		stripped[i] = v.WithoutField(field)
		if r.validator.View(stripped[i], next.Fields, nil) != nil {
			invalid = append(invalid, v.Name)
		}
	}
	if len(invalid) > 0 {
		return &schema.IntegrityError{
			Kind:       schema.FieldInUse,
			Collection: next.Slug,
			Field:      field,
			Dependents: invalid,
			Message:    fmt.Sprintf("views %s cannot do without field %s", strings.Join(invalid, ", "), field),
		}
	}
	next.Views = stripped
	r.logger.Info("Stripped deleted field from views",
		slog.String("collection", next.Slug),
		slog.String("field", field),
		slog.Any("views", views))
	return nil
}

// ReplaceField swaps the definition of a field, typically to change its
// type, in one critical section. The field keeps its position. Views that
// no longer validate against the new definition are handled by the delete
// policy; computed fields must still resolve against it. Stored values are
// not rewritten.
func (r *Registry) ReplaceField(ctx context.Context, ref, name string, def schema.FieldDefinition) (schema.CollectionSchema, error) {
	return r.mutate(ctx, "replaceField", ref, func(next *schema.CollectionSchema) (events.Event, error) {
		i := next.FieldIndex(name)
		if i < 0 {
			return events.Event{}, fieldNotFound(*next, name)
		}
		if err := r.validator.Field(def, namesExcept(*next, name)); err != nil {
			return events.Event{}, err
		}
		def = def.Clone()
		next.Fields[i] = def

		var broken []string
		for _, v := range next.Views {
			if v.References(name) && r.validator.View(v, next.Fields, nil) != nil {
				broken = append(broken, v.Name)
			}
		}
		if def.Name != name {
			// views keep pointing at the old name
			broken = nil
			for _, v := range next.Views {
				if v.References(name) {
					broken = append(broken, v.Name)
				}
			}
		}
		if err := r.cascade(next, name, broken); err != nil {
			return events.Event{}, err
		}
		if err := r.verify(ctx, *next, def); err != nil {
			return events.Event{}, err
		}
		return events.Event{Kind: events.FieldUpdated, Field: def.Name}, nil
	})
}

// validateViews checks every view of s against its current fields.
func (r *Registry) validateViews(s schema.CollectionSchema) error {
	var vs schema.Violations
	for i, v := range s.Views {
		var others []string
		for j, o := range s.Views {
			if j != i {
				others = append(others, o.Name)
			}
		}
		if err := r.validator.View(v, s.Fields, others); err != nil {
			if !collect(&vs, err) {
				return err
			}
		}
	}
	if len(vs) > 0 {
		return &schema.DefinitionError{Subject: s.Name, Violations: vs}
	}
	return nil
}

// Package diff plans the registry operations that turn the stored schemas
// into the ones described by definition files, and applies them.
package diff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cbnsndwch/struktura/formula"
	"github.com/cbnsndwch/struktura/registry"
	"github.com/cbnsndwch/struktura/schema"
)

type OperationType string

const (
	CreateCollection OperationType = "CREATE_COLLECTION"
	UpdateCollection OperationType = "UPDATE_COLLECTION"
	AddField         OperationType = "ADD_FIELD"
	UpdateField      OperationType = "UPDATE_FIELD"
	ReplaceField     OperationType = "REPLACE_FIELD"
	DropField        OperationType = "DROP_FIELD"
	AddView          OperationType = "ADD_VIEW"
	UpdateView       OperationType = "UPDATE_VIEW"
	DropView         OperationType = "DROP_VIEW"
	DropCollection   OperationType = "DROP_COLLECTION"
)

type Operation struct {
	Type       OperationType
	Collection string                    // slug of the collection changed
	Input      *registry.CollectionInput // for CREATE_COLLECTION
	Patch      *registry.CollectionPatch // for UPDATE_COLLECTION
	Field      *schema.FieldDefinition   // for ADD_FIELD, UPDATE_FIELD, REPLACE_FIELD
	FieldName  string                    // for UPDATE_FIELD, REPLACE_FIELD, DROP_FIELD
	View       *schema.ViewDefinition    // for ADD_VIEW, UPDATE_VIEW
	ViewName   string                    // for UPDATE_VIEW, DROP_VIEW
}

func (op Operation) String() string {
	switch op.Type {
	case AddField:
		return fmt.Sprintf("%s %s.%s (%s)", op.Type, op.Collection, op.Field.Name, op.Field.Type)
	case ReplaceField:
		return fmt.Sprintf("%s %s.%s -> %s", op.Type, op.Collection, op.FieldName, op.Field.Type)
	case UpdateField, DropField:
		return fmt.Sprintf("%s %s.%s", op.Type, op.Collection, op.FieldName)
	case AddView:
		return fmt.Sprintf("%s %s/%s", op.Type, op.Collection, op.View.Name)
	case UpdateView, DropView:
		return fmt.Sprintf("%s %s/%s", op.Type, op.Collection, op.ViewName)
	}
	return fmt.Sprintf("%s %s", op.Type, op.Collection)
}

type options struct {
	prune bool
}

// Option tunes planning.
type Option func(*options)

// WithPrune drops stored collections that no definition names.
func WithPrune() Option { return func(o *options) { o.prune = true } }

// Collections compares the desired definitions with the current schemas,
// matched by slug, and returns the operations that reconcile them in the
// order Apply runs them. Stored collections missing from desired are left
// alone unless WithPrune is given.
func Collections(desired []registry.CollectionInput, current []schema.CollectionSchema, opts ...Option) []Operation {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var ops []Operation
	currentBySlug := map[string]schema.CollectionSchema{}
	desiredSlugs := map[string]bool{}

	for _, c := range current {
		currentBySlug[c.Slug] = c
	}

	for _, in := range desired {
		slug := in.Slug
		if slug == "" {
			slug = registry.Slugify(in.Name)
		}
		desiredSlugs[slug] = true

		have, exists := currentBySlug[slug]
		if !exists {
			ops = append(ops, create(slug, in)...)
			continue
		}

		if patch, changed := collectionPatch(in, have); changed {
			ops = append(ops, Operation{Type: UpdateCollection, Collection: slug, Patch: patch})
		}
		ops = append(ops, fields(slug, in.Fields, have.Fields)...)
		ops = append(ops, views(slug, in.Views, have.Views)...)
	}

	if o.prune {
		var pruned []schema.CollectionSchema
		for _, c := range current {
			if !desiredSlugs[c.Slug] {
				pruned = append(pruned, c)
			}
		}
		for _, c := range dropOrder(pruned) {
			ops = append(ops, Operation{Type: DropCollection, Collection: c.Slug})
		}
	}

	Sort(ops)
	return ops
}

// create splits a new collection into its creation, with only the fields
// that cannot depend on other collections or fields, followed by additions
// of the rest. Collections can then point at each other.
func create(slug string, in registry.CollectionInput) []Operation {
	base := in
	base.Slug = slug
	base.Fields = nil
	base.Views = nil
	var ops []Operation
	for _, f := range in.Fields {
		if deferred(f) {
			def := f.Clone()
			ops = append(ops, Operation{Type: AddField, Collection: slug, Field: &def})
			continue
		}
		base.Fields = append(base.Fields, f.Clone())
	}
	for _, v := range in.Views {
		view := v.Clone()
		ops = append(ops, Operation{Type: AddView, Collection: slug, View: &view})
	}
	return append([]Operation{{Type: CreateCollection, Collection: slug, Input: &base}}, ops...)
}

// dropOrder puts collections that other dropped collections point at after
// those pointing at them.
func dropOrder(pruned []schema.CollectionSchema) []schema.CollectionSchema {
	var out []schema.CollectionSchema
	left := append([]schema.CollectionSchema(nil), pruned...)
	for len(left) > 0 {
		var next []schema.CollectionSchema
		for _, c := range left {
			if !referencedByOther(c, left) {
				out = append(out, c)
			} else {
				next = append(next, c)
			}
		}
		if len(next) == len(left) {
			// mutual references; the registry reports them
			return append(out, left...)
		}
		left = next
	}
	return out
}

func referencedByOther(target schema.CollectionSchema, among []schema.CollectionSchema) bool {
	for _, c := range among {
		if c.ID == target.ID && c.Slug == target.Slug {
			continue
		}
		for _, f := range c.Fields {
			if ref := schema.ReferencedCollection(f.Options); ref != "" && (ref == target.ID || ref == target.Slug) {
				return true
			}
		}
	}
	return false
}

func deferred(f schema.FieldDefinition) bool {
	return schema.IsRelational(f.Type) || f.Type == schema.TypeFormula
}

func collectionPatch(in registry.CollectionInput, have schema.CollectionSchema) (*registry.CollectionPatch, bool) {
	var p registry.CollectionPatch
	changed := false
	if in.Name != have.Name {
		name := in.Name
		p.Name = &name
		changed = true
	}
	if in.Description != have.Description {
		desc := in.Description
		p.Description = &desc
		changed = true
	}
	if active := !in.Inactive; active != have.IsActive {
		p.IsActive = &active
		changed = true
	}
	return &p, changed
}

func fields(slug string, want, have []schema.FieldDefinition) []Operation {
	var ops []Operation
	haveByName := map[string]schema.FieldDefinition{}
	wantNames := map[string]bool{}
	for _, f := range have {
		haveByName[f.Name] = f
	}

	for _, f := range want {
		wantNames[f.Name] = true
		def := f.Clone()
		cur, exists := haveByName[f.Name]
		switch {
		case !exists:
			ops = append(ops, Operation{Type: AddField, Collection: slug, Field: &def})
		case cur.Type != f.Type:
			ops = append(ops, Operation{Type: ReplaceField, Collection: slug, FieldName: f.Name, Field: &def})
		case !sameJSON(cur, f):
			ops = append(ops, Operation{Type: UpdateField, Collection: slug, FieldName: f.Name, Field: &def})
		}
	}

	for _, f := range have {
		if !wantNames[f.Name] {
			def := f.Clone()
			ops = append(ops, Operation{Type: DropField, Collection: slug, FieldName: f.Name, Field: &def})
		}
	}
	return ops
}

func views(slug string, want, have []schema.ViewDefinition) []Operation {
	var ops []Operation
	haveByName := map[string]schema.ViewDefinition{}
	wantNames := map[string]bool{}
	for _, v := range have {
		haveByName[v.Name] = v
	}

	for _, v := range want {
		wantNames[v.Name] = true
		view := v.Clone()
		cur, exists := haveByName[v.Name]
		switch {
		case !exists:
			ops = append(ops, Operation{Type: AddView, Collection: slug, View: &view})
		case !sameJSON(cur, v):
			ops = append(ops, Operation{Type: UpdateView, Collection: slug, ViewName: v.Name, View: &view})
		}
	}

	for _, v := range have {
		if !wantNames[v.Name] {
			ops = append(ops, Operation{Type: DropView, Collection: slug, ViewName: v.Name})
		}
	}
	return ops
}

// sameJSON compares two definitions by their stored form, so that values
// read back from storage (float64 numbers, nil versus empty lists) compare
// equal to freshly decoded ones.
func sameJSON(a, b any) bool {
	x, errA := json.Marshal(a)
	y, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(x, y)
}

// Sort orders ops so that each one finds what it needs. Collections exist
// before fields point at them and plain fields before computed fields read
// them. Fields are dropped last, once views and computed fields have been
// moved off them. Computed field additions of one collection keep
// dependency order among themselves.
func Sort(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		return phase(ops[i]) < phase(ops[j])
	})
	orderComputed(ops)
}

func phase(op Operation) int {
	switch op.Type {
	case DropView:
		return 0
	case CreateCollection:
		return 1
	case UpdateCollection:
		return 2
	case AddField, UpdateField, ReplaceField:
		if schema.IsComputed(op.Field.Type) {
			return 4
		}
		return 3
	case AddView, UpdateView:
		return 5
	case DropField:
		if op.Field != nil && schema.IsComputed(op.Field.Type) {
			return 6
		}
		return 7
	case DropCollection:
		return 8
	}
	return 9
}

// orderComputed reorders the computed field additions of each collection so
// that a field comes after the added fields it reads.
func orderComputed(ops []Operation) {
	start := -1
	for i := 0; i <= len(ops); i++ {
		if i < len(ops) && phase(ops[i]) == 4 {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			topo(ops[start:i])
			start = -1
		}
	}
}

func topo(ops []Operation) {
	type key struct{ collection, field string }
	index := map[key]int{}
	for i, op := range ops {
		index[key{op.Collection, op.Field.Name}] = i
	}
	done := make([]bool, len(ops))
	visiting := make([]bool, len(ops))
	out := make([]Operation, 0, len(ops))
	var visit func(i int)
	visit = func(i int) {
		if done[i] || visiting[i] {
			// cycles are left for the registry to report
			return
		}
		visiting[i] = true
		for _, dep := range reads(*ops[i].Field) {
			if j, ok := index[key{ops[i].Collection, dep}]; ok {
				visit(j)
			}
		}
		visiting[i] = false
		done[i] = true
		out = append(out, ops[i])
	}
	for i := range ops {
		visit(i)
	}
	copy(ops, out)
}

func reads(def schema.FieldDefinition) []string {
	switch o := def.Options.(type) {
	case *schema.FormulaOptions:
		if e, err := formula.Parse(o.Formula); err == nil {
			return e.Refs()
		}
	case *schema.LookupOptions:
		return []string{o.ReferenceField}
	}
	return nil
}

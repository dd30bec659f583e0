package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/cbnsndwch/struktura/formula"
	"github.com/cbnsndwch/struktura/schema"
)

func targets(ref string, s schema.CollectionSchema) bool {
	return ref != "" && (ref == s.ID || ref == s.Slug)
}

// localDeps returns the fields of the same collection a computed field
// reads.
func localDeps(def schema.FieldDefinition) []string {
	switch o := def.Options.(type) {
	case *schema.FormulaOptions:
		if e, err := formula.Parse(o.Formula); err == nil {
			return e.Refs()
		}
	case *schema.LookupOptions:
		if o.ReferenceField != "" {
			return []string{o.ReferenceField}
		}
	}
	return nil
}

// computeOrder sorts the computed fields of s so that each one follows the
// computed fields it reads, keeping declaration order otherwise.
func computeOrder(s schema.CollectionSchema) ([]string, error) {
	computed := map[string]schema.FieldDefinition{}
	for _, f := range s.Fields {
		if schema.IsComputed(f.Type) {
			computed[f.Name] = f
		}
	}
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var order, stack []string
	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return cycleError(s, stack, name)
		}
		state[name] = visiting
		stack = append(stack, name)
		for _, dep := range localDeps(computed[name]) {
			if _, ok := computed[dep]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		order = append(order, name)
		return nil
	}
	for _, f := range s.Fields {
		if _, ok := computed[f.Name]; ok {
			if err := visit(f.Name); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

func cycleError(s schema.CollectionSchema, stack []string, back string) error {
	start := 0
	for i, n := range stack {
		if n == back {
			start = i
		}
	}
	cycle := append(append([]string(nil), stack[start:]...), back)
	return &schema.CircularComputationError{Collection: s.Slug, Cycle: cycle}
}

// checkLocalReferences reports computed fields of s reading fields that do
// not exist or have the wrong type.
func checkLocalReferences(s schema.CollectionSchema, def schema.FieldDefinition) schema.Violations {
	var vs schema.Violations
	add := func(format string, args ...any) {
		vs = append(vs, schema.Violation{Field: def.Name, Code: schema.CodeReference, Message: fmt.Sprintf(format, args...)})
	}
	switch o := def.Options.(type) {
	case *schema.FormulaOptions:
		e, err := formula.Parse(o.Formula)
		if err != nil {
			return nil
		}
		for _, ref := range e.Refs() {
			if _, ok := s.Field(ref); !ok {
				add("formula references unknown field %q", ref)
			}
		}
	case *schema.LookupOptions:
		ref, ok := s.Field(o.ReferenceField)
		if !ok {
			add("lookup reference field %q does not exist", o.ReferenceField)
			break
		}
		if ref.Type != schema.TypeReference {
			add("lookup reference field %q must be a reference field, not %s", o.ReferenceField, ref.Type)
			break
		}
		if target := schema.ReferencedCollection(ref.Options); target != o.ReferencedCollection {
			add("lookup targets %q but reference field %q points at %q", o.ReferencedCollection, o.ReferenceField, target)
		}
	}
	return vs
}

// checkTarget verifies the collection a relational field points at through
// the lookup capability, then checks the remote fields it names when the
// target schema is known.
func (r *Registry) checkTarget(ctx context.Context, s schema.CollectionSchema, def schema.FieldDefinition) error {
	ref := schema.ReferencedCollection(def.Options)
	if !schema.IsRelational(def.Type) || ref == "" {
		return nil
	}

	var target *schema.CollectionSchema
	if targets(ref, s) {
		target = &s
	} else {
		exists, err := r.lookup.Exists(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to look up collection %s: %w", ref, err)
		}
		active := false
		if exists {
			if active, err = r.lookup.IsActive(ctx, ref); err != nil {
				return fmt.Errorf("failed to look up collection %s: %w", ref, err)
			}
		}
		if !exists || !active {
			state := "does not exist"
			if exists {
				state = "is not active"
			}
			return &schema.IntegrityError{
				Kind:       schema.UnknownReferenceTarget,
				Collection: s.Slug,
				Field:      def.Name,
				Message:    fmt.Sprintf("field %s references collection %s, which %s", def.Name, ref, state),
			}
		}
		if snap, err := r.Snapshot(ref); err == nil {
			target = &snap.Schema
		}
	}
	if target == nil {
		return nil
	}
	if vs := remoteViolations(s, def, *target); len(vs) > 0 {
		return &schema.DefinitionError{Subject: def.Name, Violations: vs}
	}
	return nil
}

// remoteViolations checks the fields a lookup or rollup of s names in its
// target collection.
func remoteViolations(s schema.CollectionSchema, def schema.FieldDefinition, target schema.CollectionSchema) schema.Violations {
	var vs schema.Violations
	add := func(format string, args ...any) {
		vs = append(vs, schema.Violation{Field: def.Name, Code: schema.CodeReference, Message: fmt.Sprintf(format, args...)})
	}
	switch o := def.Options.(type) {
	case *schema.LookupOptions:
		if _, ok := target.Field(o.DisplayField); !ok {
			add("display field %q does not exist in collection %s", o.DisplayField, target.Slug)
		}
	case *schema.RollupOptions:
		rel, ok := target.Field(o.RelationField)
		switch {
		case !ok:
			add("relation field %q does not exist in collection %s", o.RelationField, target.Slug)
		case rel.Type != schema.TypeReference || !targets(schema.ReferencedCollection(rel.Options), s):
			add("relation field %q of collection %s must be a reference to %s", o.RelationField, target.Slug, s.Slug)
		}
		if o.TargetField != "" {
			if _, ok := target.Field(o.TargetField); !ok {
				add("target field %q does not exist in collection %s", o.TargetField, target.Slug)
			}
		}
	}
	return vs
}

// checkReferrers re-checks the lookups and rollups of other collections
// against next, which replaces the committed version of their target.
func (r *Registry) checkReferrers(next schema.CollectionSchema) error {
	var broken []string
	for id, snap := range r.snapshots() {
		if id == next.ID {
			continue
		}
		for _, f := range snap.Schema.Fields {
			if !targets(schema.ReferencedCollection(f.Options), next) {
				continue
			}
			if len(remoteViolations(snap.Schema, f, next)) > 0 {
				broken = append(broken, snap.Schema.Slug+"."+f.Name)
			}
		}
	}
	if len(broken) == 0 {
		return nil
	}
	sort.Strings(broken)
	return &schema.IntegrityError{
		Kind:       schema.FieldInUse,
		Collection: next.Slug,
		Dependents: broken,
		Message:    fmt.Sprintf("the change would break fields of other collections reading %s", next.Slug),
	}
}

// verify runs the cross-field checks of a mutated schema: local references
// of every computed field, relational targets of the changed fields, fields
// of other collections reading next, and computation cycles.
func (r *Registry) verify(ctx context.Context, next schema.CollectionSchema, changed ...schema.FieldDefinition) error {
	var vs schema.Violations
	for _, def := range next.Fields {
		vs = append(vs, checkLocalReferences(next, def)...)
	}
	if len(vs) > 0 {
		return &schema.DefinitionError{Subject: next.Name, Violations: vs}
	}
	for _, def := range changed {
		if err := r.checkTarget(ctx, next, def); err != nil {
			return err
		}
	}
	if err := r.checkReferrers(next); err != nil {
		return err
	}
	return r.detectCycles(next)
}

type node struct {
	collection string
	field      string
}

// detectCycles looks for dependency cycles between computed fields across
// all collections, with next standing in for its committed version.
func (r *Registry) detectCycles(next schema.CollectionSchema) error {
	all := map[string]schema.CollectionSchema{}
	for id, snap := range r.snapshots() {
		all[id] = snap.Schema
	}
	all[next.ID] = next

	find := func(ref string) (schema.CollectionSchema, bool) {
		for _, s := range all {
			if targets(ref, s) {
				return s, true
			}
		}
		return schema.CollectionSchema{}, false
	}

	edges := func(n node) []node {
		s := all[n.collection]
		def, ok := s.Field(n.field)
		if !ok || !schema.IsComputed(def.Type) {
			return nil
		}
		var out []node
		for _, dep := range localDeps(def) {
			out = append(out, node{s.ID, dep})
		}
		switch o := def.Options.(type) {
		case *schema.LookupOptions:
			if t, ok := find(o.ReferencedCollection); ok {
				out = append(out, node{t.ID, o.DisplayField})
			}
		case *schema.RollupOptions:
			if t, ok := find(o.ReferencedCollection); ok && o.TargetField != "" {
				out = append(out, node{t.ID, o.TargetField})
			}
		}
		return out
	}

	name := func(n node) string {
		return all[n.collection].Slug + "." + n.field
	}

	state := map[node]int{}
	var stack []node
	var visit func(n node) error
	visit = func(n node) error {
		switch state[n] {
		case 2:
			return nil
		case 1:
			start := 0
			for i, m := range stack {
				if m == n {
					start = i
				}
			}
			var cycle []string
			for _, m := range stack[start:] {
				cycle = append(cycle, name(m))
			}
			return &schema.CircularComputationError{Collection: next.Slug, Cycle: append(cycle, name(n))}
		}
		state[n] = 1
		stack = append(stack, n)
		for _, m := range edges(n) {
			if err := visit(m); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[n] = 2
		return nil
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	// start from next so reported cycles begin in the mutated collection
	ids = append([]string{next.ID}, ids...)
	for _, id := range ids {
		for _, f := range all[id].Fields {
			if err := visit(node{id, f.Name}); err != nil {
				return err
			}
		}
	}
	return nil
}

// dependents lists what uses a field of s: the views of s and the computed
// fields (of s or of other collections) reading it.
func (r *Registry) dependents(s schema.CollectionSchema, field string) (views, fields []string) {
	for _, v := range s.Views {
		if v.References(field) {
			views = append(views, v.Name)
		}
	}
	var rest []schema.CollectionSchema
	for id, snap := range r.snapshots() {
		if id != s.ID {
			rest = append(rest, snap.Schema)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Slug < rest[j].Slug })
	others := append([]schema.CollectionSchema{s}, rest...)

	for _, o := range others {
		for _, f := range o.Fields {
			if o.ID == s.ID && f.Name == field {
				continue
			}
			if o.ID == s.ID {
				for _, dep := range localDeps(f) {
					if dep == field {
						fields = append(fields, o.Slug+"."+f.Name)
						break
					}
				}
			}
			switch opts := f.Options.(type) {
			case *schema.LookupOptions:
				if targets(opts.ReferencedCollection, s) && opts.DisplayField == field {
					fields = append(fields, o.Slug+"."+f.Name)
				}
			case *schema.RollupOptions:
				if targets(opts.ReferencedCollection, s) && (opts.RelationField == field || opts.TargetField == field) {
					fields = append(fields, o.Slug+"."+f.Name)
				}
			}
		}
	}
	return views, dedupe(fields)
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// referrers lists the relational fields of other collections targeting s.
func (r *Registry) referrers(s schema.CollectionSchema) []string {
	var out []string
	for id, snap := range r.snapshots() {
		if id == s.ID {
			continue
		}
		for _, f := range snap.Schema.Fields {
			if targets(schema.ReferencedCollection(f.Options), s) {
				out = append(out, snap.Schema.Slug+"."+f.Name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Package view evaluates saved views over records: it filters, sorts,
// groups, paginates and projects them. Evaluation is read-only and never
// fails; a view that no longer fits its schema degrades to fewer results.
package view

import (
	"sort"
	"strings"
	"time"

	"github.com/cbnsndwch/struktura/formula"
	"github.com/cbnsndwch/struktura/schema"
)

// Group is one bucket of a grouped view. The ungrouped bucket collects
// records without a value and is always last.
type Group struct {
	Key       any            `json:"key"`
	Ungrouped bool           `json:"ungrouped,omitempty"`
	Rows      []schema.Entry `json:"rows"`
}

// Result is an evaluated view.
type Result struct {
	// Fields is the projection, in display order.
	Fields []string `json:"fields"`
	// Rows holds the page of records, sorted and projected.
	Rows []schema.Entry `json:"rows"`
	// Groups partitions Rows when the view groups.
	Groups []Group `json:"groups,omitempty"`
	// Total counts the records that passed the filter, before pagination.
	Total int `json:"total"`
}

type options struct {
	offset, limit int
}

// Option tunes evaluation.
type Option func(*options)

// WithPage keeps limit records starting at offset after sorting. A limit of
// zero or less means no limit.
func WithPage(offset, limit int) Option {
	return func(o *options) {
		o.offset, o.limit = offset, limit
	}
}

// Apply evaluates v over rows. Row data is expected in coerced form, as
// produced by record validation or normalisation. The input is not modified.
func Apply(v schema.ViewDefinition, s schema.CollectionSchema, rows []schema.Entry, opts ...Option) Result {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	keep := compileFilter(v.Filter, s)
	selected := make([]schema.Entry, 0, len(rows))
	for _, r := range rows {
		if keep(r.Data) {
			selected = append(selected, r)
		}
	}

	sortRows(selected, v.Sort, s)
	total := len(selected)
	selected = page(selected, o)

	fields := projection(v, s)
	projected := make([]schema.Entry, len(selected))
	for i, r := range selected {
		projected[i] = schema.Entry{Meta: r.Meta, Data: project(r.Data, fields)}
	}

	res := Result{Fields: fields, Rows: projected, Total: total}
	if v.Group != nil {
		res.Groups = group(projected, selected, *v.Group, s)
	}
	return res
}

func page(rows []schema.Entry, o options) []schema.Entry {
	if o.offset > 0 {
		if o.offset >= len(rows) {
			return nil
		}
		rows = rows[o.offset:]
	}
	if o.limit > 0 && o.limit < len(rows) {
		rows = rows[:o.limit]
	}
	return rows
}

// projection returns the visible fields of v that still exist, or every
// field of s when the view names none.
func projection(v schema.ViewDefinition, s schema.CollectionSchema) []string {
	if v.VisibleFields == nil {
		return s.FieldNames()
	}
	out := make([]string, 0, len(v.VisibleFields))
	for _, name := range v.VisibleFields {
		if _, ok := s.Field(name); ok {
			out = append(out, name)
		}
	}
	return out
}

func project(data schema.Record, fields []string) schema.Record {
	out := make(schema.Record, len(fields))
	for _, f := range fields {
		if v, ok := data[f]; ok {
			out[f] = schema.CloneValue(v)
		}
	}
	return out
}

// sortRows orders rows by keys. Absent values sort last in either
// direction; the creation sequence breaks ties.
func sortRows(rows []schema.Entry, keys []schema.SortKey, s schema.CollectionSchema) {
	type key struct {
		field string
		desc  bool
		rank  func(any) (any, bool)
	}
	var ks []key
	for _, k := range keys {
		def, ok := s.Field(k.Field)
		if !ok {
			continue
		}
		ks = append(ks, key{field: k.Field, desc: k.Direction == schema.Desc, rank: ranker(def)})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range ks {
			a, aok := k.rank(rows[i].Data[k.field])
			b, bok := k.rank(rows[j].Data[k.field])
			switch {
			case !aok && !bok:
				continue
			case !aok:
				return false
			case !bok:
				return true
			}
			c, _ := compare(a, b)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return rows[i].Meta.Seq < rows[j].Meta.Seq
	})
}

// ranker maps a value to what it sorts by: the choice index for select
// fields, the value itself otherwise. The second result is false for
// absent values.
func ranker(def schema.FieldDefinition) func(any) (any, bool) {
	if opts, ok := def.Options.(*schema.SelectOptions); ok && def.Type == schema.TypeSelect {
		return func(v any) (any, bool) {
			s, ok := v.(string)
			if !ok || blank(v) {
				return nil, false
			}
			if i := opts.Index(s); i >= 0 {
				return float64(i), true
			}
			// unknown choices after known ones
			return float64(len(opts.Choices)), true
		}
	}
	return func(v any) (any, bool) {
		if blank(v) {
			return nil, false
		}
		if items, ok := elements(v); ok {
			return formula.Format(items), true
		}
		return v, true
	}
}

// group buckets rows by the group field, reading keys from the unprojected
// rows so the group field need not be visible.
func group(projected, full []schema.Entry, g schema.GroupExpression, s schema.CollectionSchema) []Group {
	def, ok := s.Field(g.Field)
	if !ok {
		return []Group{{Ungrouped: true, Rows: projected}}
	}
	rank := ranker(def)
	index := map[string]int{}
	var groups []Group
	var ungrouped []schema.Entry
	for i, r := range full {
		v := r.Data[g.Field]
		if _, ok := rank(v); !ok {
			ungrouped = append(ungrouped, projected[i])
			continue
		}
		id := groupID(v)
		n, seen := index[id]
		if !seen {
			n = len(groups)
			index[id] = n
			groups = append(groups, Group{Key: schema.CloneValue(v)})
		}
		groups[n].Rows = append(groups[n].Rows, projected[i])
	}

	desc := g.Direction == schema.Desc
	sort.SliceStable(groups, func(i, j int) bool {
		a, _ := rank(groups[i].Key)
		b, _ := rank(groups[j].Key)
		c, _ := compare(a, b)
		if desc {
			return c > 0
		}
		return c < 0
	})
	if len(ungrouped) > 0 {
		groups = append(groups, Group{Ungrouped: true, Rows: ungrouped})
	}
	return groups
}

func groupID(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	if items, ok := elements(v); ok {
		return formula.Format(items)
	}
	return formula.Format(v)
}

// compare orders two values of the same kind. The second result is false
// when they cannot be ordered.
func compare(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		if c := strings.Compare(strings.ToLower(x), strings.ToLower(y)); c != 0 {
			return c, true
		}
		return strings.Compare(x, y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

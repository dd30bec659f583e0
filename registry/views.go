package registry

import (
	"context"
	"fmt"

	"github.com/cbnsndwch/struktura/events"
	"github.com/cbnsndwch/struktura/schema"
)

// ViewPatch changes properties of an existing view. Nil members stay as
// they are.
type ViewPatch struct {
	Name          *string
	Type          *schema.ViewType
	VisibleFields *[]string
	Filter        *schema.Filter
	ClearFilter   bool
	Sort          *[]schema.SortKey
	Group         *schema.GroupExpression
	ClearGroup    bool
}

func viewNotFound(s schema.CollectionSchema, name string) error {
	return fmt.Errorf("view %s of collection %s: %w", name, s.Slug, schema.ErrViewNotFound)
}

// CreateView adds a view to a collection.
func (r *Registry) CreateView(ctx context.Context, ref string, view schema.ViewDefinition) (schema.CollectionSchema, error) {
	return r.mutate(ctx, "createView", ref, func(next *schema.CollectionSchema) (events.Event, error) {
		if err := r.validator.View(view, next.Fields, next.ViewNames()); err != nil {
			return events.Event{}, err
		}
		next.Views = append(next.Views, view.Clone())
		return events.Event{Kind: events.ViewCreated, View: view.Name}, nil
	})
}

// UpdateView applies patch to the view called name.
func (r *Registry) UpdateView(ctx context.Context, ref, name string, patch ViewPatch) (schema.CollectionSchema, error) {
	return r.mutate(ctx, "updateView", ref, func(next *schema.CollectionSchema) (events.Event, error) {
		i := next.ViewIndex(name)
		if i < 0 {
			return events.Event{}, viewNotFound(*next, name)
		}
		v := next.Views[i].Clone()
		if patch.Name != nil {
			v.Name = *patch.Name
		}
		if patch.Type != nil {
			v.Type = *patch.Type
		}
		if patch.VisibleFields != nil {
			// a nil list shows every field
			v.VisibleFields = nil
			if *patch.VisibleFields != nil {
				v.VisibleFields = append([]string{}, (*patch.VisibleFields)...)
			}
		}
		switch {
		case patch.ClearFilter:
			v.Filter = nil
		case patch.Filter != nil:
			f := patch.Filter.Clone()
			v.Filter = &f
		}
		if patch.Sort != nil {
			v.Sort = append([]schema.SortKey{}, (*patch.Sort)...)
		}
		switch {
		case patch.ClearGroup:
			v.Group = nil
		case patch.Group != nil:
			g := *patch.Group
			v.Group = &g
		}

		var others []string
		for j, o := range next.Views {
			if j != i {
				others = append(others, o.Name)
			}
		}
		if err := r.validator.View(v, next.Fields, others); err != nil {
			return events.Event{}, err
		}
		next.Views[i] = v
		return events.Event{Kind: events.ViewUpdated, View: v.Name}, nil
	})
}

// DeleteView removes a view.
func (r *Registry) DeleteView(ctx context.Context, ref, name string) (schema.CollectionSchema, error) {
	return r.mutate(ctx, "deleteView", ref, func(next *schema.CollectionSchema) (events.Event, error) {
		i := next.ViewIndex(name)
		if i < 0 {
			return events.Event{}, viewNotFound(*next, name)
		}
		next.Views = append(next.Views[:i:i], next.Views[i+1:]...)
		return events.Event{Kind: events.ViewDeleted, View: name}, nil
	})
}

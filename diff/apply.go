package diff

import (
	"context"
	"fmt"

	"github.com/cbnsndwch/struktura/registry"
)

// Apply runs ops against reg in dependency order and stops at the first
// failure. It returns how many operations were applied; each one commits on
// its own, so a failure leaves the earlier ones in place.
func Apply(ctx context.Context, reg *registry.Registry, ops []Operation) (int, error) {
	ordered := append([]Operation(nil), ops...)
	Sort(ordered)
	for i, op := range ordered {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := apply(ctx, reg, op); err != nil {
			return i, fmt.Errorf("%s: %w", op, err)
		}
	}
	return len(ordered), nil
}

func apply(ctx context.Context, reg *registry.Registry, op Operation) error {
	var err error
	switch op.Type {
	case CreateCollection:
		_, err = reg.CreateCollection(ctx, *op.Input)
	case UpdateCollection:
		_, err = reg.UpdateCollection(ctx, op.Collection, *op.Patch)
	case DropCollection:
		err = reg.DeleteCollection(ctx, op.Collection)
	case AddField:
		_, err = reg.CreateField(ctx, op.Collection, *op.Field)
	case UpdateField:
		_, err = reg.UpdateField(ctx, op.Collection, op.FieldName, fieldPatch(op))
	case ReplaceField:
		_, err = reg.ReplaceField(ctx, op.Collection, op.FieldName, *op.Field)
	case DropField:
		_, err = reg.DeleteField(ctx, op.Collection, op.FieldName)
	case AddView:
		_, err = reg.CreateView(ctx, op.Collection, *op.View)
	case UpdateView:
		_, err = reg.UpdateView(ctx, op.Collection, op.ViewName, viewPatch(op))
	case DropView:
		_, err = reg.DeleteView(ctx, op.Collection, op.ViewName)
	default:
		err = fmt.Errorf("unknown operation type %q", op.Type)
	}
	return err
}

// fieldPatch sets every patchable property to the desired definition.
func fieldPatch(op Operation) registry.FieldPatch {
	def := op.Field.Clone()
	return registry.FieldPatch{
		Description:  &def.Description,
		Required:     &def.Required,
		DefaultValue: def.DefaultValue,
		ClearDefault: def.DefaultValue == nil,
		Validations:  &def.Validations,
		Options:      def.Options,
		ClearOptions: def.Options == nil,
	}
}

func viewPatch(op Operation) registry.ViewPatch {
	v := op.View.Clone()
	return registry.ViewPatch{
		Type:          &v.Type,
		VisibleFields: &v.VisibleFields,
		Filter:        v.Filter,
		ClearFilter:   v.Filter == nil,
		Sort:          &v.Sort,
		Group:         v.Group,
		ClearGroup:    v.Group == nil,
	}
}

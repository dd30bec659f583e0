package cmd

import (
	"context"

	"github.com/cbnsndwch/struktura/diff"
	"github.com/cbnsndwch/struktura/loader"
	"github.com/cbnsndwch/struktura/logging"
	"github.com/cbnsndwch/struktura/registry"
)

// definitions loads the collection definition files named by args, falling
// back to the configured collection paths.
func (o *rootOptions) definitions(args []string) ([]loader.Definition, error) {
	paths := args
	if len(paths) == 0 {
		paths = o.cfg.Collections.Paths
	}
	return loader.LoadCollections(paths...)
}

func inputs(defs []loader.Definition) []registry.CollectionInput {
	out := make([]registry.CollectionInput, len(defs))
	for i, d := range defs {
		out[i] = d.Input
	}
	return out
}

// plan applies definitions to an empty in-memory registry. It is how
// definitions are checked without touching configured storage: every
// integrity rule the live registry enforces runs here too.
func plan(ctx context.Context, defs []loader.Definition) (*registry.Registry, error) {
	reg := registry.New(registry.WithLogger(logging.Discard()))
	if _, err := diff.Apply(ctx, reg, diff.Collections(inputs(defs), nil)); err != nil {
		return nil, err
	}
	return reg, nil
}

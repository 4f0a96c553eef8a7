// Package configtree resolves raw configuration trees against schemas.
//
// A configuration is a plain tree of maps, slices and scalars, as
// produced by any JSON or YAML decoder. Resolution walks the tree
// under a Schema, interpolates ${...} expressions in strings (which
// may reference other parts of the same configuration), evaluates
// function calls written as single-key dictionaries like
// {"__splice__": "a.b"}, and converts each leaf to its declared type.
//
// References between values are resolved lazily and memoized, so an
// expensive value is computed once no matter how many strings mention
// it, and only the parts of the tree a reference actually touches are
// resolved on its behalf. Reference cycles are reported as errors
// rather than hanging.
package configtree

import (
	"context"

	"github.com/vk/configtree/internal/ctxlog"
)

// Resolve resolves a raw configuration tree against a schema and
// returns the fully resolved tree: maps and slices with every string
// interpolated, every function call evaluated and every leaf converted
// to its schema type.
//
// By default the built-in converters and core functions are available;
// options override converters, functions, global variables, filters
// and function-call detection. The context carries cancellation for
// user functions and the logger used for debug tracing.
func Resolve(ctx context.Context, cfg any, schema *Schema, options ...Option) (any, error) {
	opts := &ResolutionOptions{
		Converters: DefaultConverters(),
		Functions:  CoreFunctions(),
		Detector:   DefaultFunctionCallDetector,
	}
	for _, option := range options {
		option(opts)
	}
	opts.evalFuncs = evalFunctions(opts.Filters)

	if err := validateSchema(schema, nil, opts.leafTypeNames(), true); err != nil {
		return nil, err
	}

	log := ctxlog.FromContext(ctx)
	log.Debug("Resolving configuration.", "schema_type", schemaTypeName(schema))

	root, err := makeNode(ctx, cfg, schema, opts, nil, nil, nil, ModeStandard)
	if err != nil {
		return nil, err
	}
	resolved, err := root.resolve(ctx)
	if err != nil {
		return nil, err
	}

	if opts.PreserveType {
		return preserveShape(cfg, resolved)
	}
	return resolved, nil
}

func schemaTypeName(s *Schema) string {
	if s == nil {
		return "any"
	}
	if s.Dynamic != nil {
		return "dynamic"
	}
	return s.Type
}

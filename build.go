package configtree

import (
	"context"
	"sort"
)

// makeNode turns a raw configuration fragment and its schema into a
// node. Dispatch order matters: dynamic schemas are materialized
// first, then nulls are checked, then dictionaries are screened for
// function calls, and only then does the value's shape pick the node
// kind.
func makeNode(ctx context.Context, cfg any, schema *Schema, opts *ResolutionOptions, parent node, kp Keypath, locals map[string]any, mode Mode) (node, error) {
	if schema != nil && schema.Dynamic != nil {
		computed, err := schema.Dynamic(cfg, kp)
		if err != nil {
			return nil, &InvalidSchemaError{Reason: err.Error(), Keypath: kp}
		}
		if err := validateSchema(computed, kp, opts.leafTypeNames(), false); err != nil {
			return nil, err
		}
		schema = computed
	}
	if schema == nil {
		schema = Any()
	}

	if cfg == nil {
		if schema.Nullable || schema.Type == "any" {
			return &valueNode{
				baseNode: baseNode{parent: parent, locals: locals},
				opts:     opts,
				keypath:  kp,
				raw:      nil,
				typeName: "any",
				nullable: true,
				mode:     mode,
			}, nil
		}
		return nil, newResolutionError(kp, "Unexpectedly null.")
	}

	switch value := cfg.(type) {
	case map[string]any:
		if mode != ModeRaw && opts.Detector != nil {
			call, err := opts.Detector(value, opts.Functions)
			if err != nil {
				return nil, newResolutionError(kp, "%s", err.Error())
			}
			if call != nil {
				return &funcNode{
					baseNode: baseNode{parent: parent, locals: locals},
					opts:     opts,
					keypath:  kp,
					name:     call.Name,
					fn:       call.Fn,
					input:    call.Input,
					schema:   schema,
					mode:     mode,
				}, nil
			}
		}
		return makeDictNode(ctx, value, schema, opts, parent, kp, locals, mode)
	case []any:
		return makeListNode(ctx, value, schema, opts, parent, kp, locals, mode)
	default:
		typeName := schema.Type
		if typeName == "dict" || typeName == "list" {
			return nil, newResolutionError(kp, "Expected a %s.", typeName)
		}
		return &valueNode{
			baseNode: baseNode{parent: parent, locals: locals},
			opts:     opts,
			keypath:  kp,
			raw:      value,
			typeName: typeName,
			nullable: schema.Nullable || schema.Type == "any",
			mode:     mode,
		}, nil
	}
}

// makeDictNode validates the dictionary's keys against the schema and
// builds children in a stable order: required keys, optional keys,
// extras, each group sorted.
func makeDictNode(ctx context.Context, cfg map[string]any, schema *Schema, opts *ResolutionOptions, parent node, kp Keypath, locals map[string]any, mode Mode) (node, error) {
	if schema.Type == "any" {
		schema = &Schema{Type: "dict", ExtraKeysSchema: &Schema{Type: "any", Nullable: true}}
	}

	n := &dictNode{
		baseNode: baseNode{parent: parent, locals: locals},
		opts:     opts,
		keypath:  kp,
		children: make(map[string]node, len(cfg)),
	}

	addChild := func(key string, raw any, childSchema *Schema) error {
		child, err := makeNode(ctx, raw, childSchema, opts, n, kp.Child(key), nil, mode)
		if err != nil {
			return err
		}
		n.children[key] = child
		n.keys = append(n.keys, key)
		return nil
	}

	seen := make(map[string]struct{}, len(cfg))

	for _, key := range sortedKeys(schema.RequiredKeys) {
		raw, ok := cfg[key]
		if !ok {
			return nil, newResolutionError(kp.Child(key), "Dictionary is missing required key %q.", key)
		}
		seen[key] = struct{}{}
		if err := addChild(key, raw, schema.RequiredKeys[key]); err != nil {
			return nil, err
		}
	}

	for _, key := range sortedKeys(schema.OptionalKeys) {
		opt := schema.OptionalKeys[key]
		raw, ok := cfg[key]
		if ok {
			seen[key] = struct{}{}
			if err := addChild(key, raw, opt.Schema); err != nil {
				return nil, err
			}
			continue
		}
		if opt.HasDefault {
			// Defaults are configuration fragments in their own right
			// and go through the same machinery as present values.
			if err := addChild(key, opt.Default, opt.Schema); err != nil {
				return nil, err
			}
		}
	}

	var extras []string
	for key := range cfg {
		if _, ok := seen[key]; !ok {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	for _, key := range extras {
		if schema.ExtraKeysSchema == nil {
			return nil, newResolutionError(kp.Child(key), "Dictionary contains unexpected extra key %q.", key)
		}
		if err := addChild(key, cfg[key], schema.ExtraKeysSchema); err != nil {
			return nil, err
		}
	}

	return n, nil
}

func makeListNode(ctx context.Context, cfg []any, schema *Schema, opts *ResolutionOptions, parent node, kp Keypath, locals map[string]any, mode Mode) (node, error) {
	elementSchema := schema.ElementSchema
	if schema.Type == "any" || elementSchema == nil {
		elementSchema = &Schema{Type: "any", Nullable: true}
	}

	n := &listNode{
		baseNode: baseNode{parent: parent, locals: locals},
		opts:     opts,
		keypath:  kp,
		children: make([]node, len(cfg)),
	}
	for i, raw := range cfg {
		child, err := makeNode(ctx, raw, elementSchema, opts, n, kp.Index(i), nil, mode)
		if err != nil {
			return nil, err
		}
		n.children[i] = child
	}
	return n, nil
}

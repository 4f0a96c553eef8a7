package configtree

import (
	"context"
	"fmt"
	"strconv"

	"github.com/vk/configtree/internal/ctxlog"
)

// resolveState is the memoization state of a leaf or function-call
// node. A node re-entered while pending is part of a reference cycle.
type resolveState int

const (
	stateUndiscovered resolveState = iota
	statePending
	stateResolved
)

// node is one vertex of the configuration tree. Container nodes own
// their children; leaf and function-call nodes memoize their result so
// that repeated references resolve the work only once.
type node interface {
	resolve(ctx context.Context) (any, error)
	parentNode() node
	localVariables() map[string]any
}

type baseNode struct {
	parent node
	locals map[string]any
}

func (b *baseNode) parentNode() node               { return b.parent }
func (b *baseNode) localVariables() map[string]any { return b.locals }

// rootOf walks to the top of the tree.
func rootOf(n node) node {
	for n.parentNode() != nil {
		n = n.parentNode()
	}
	return n
}

// lookupLocal searches for a local variable starting at n and walking
// toward the root. The nearest binding wins.
func lookupLocal(n node, name string) (any, bool) {
	for cur := n; cur != nil; cur = cur.parentNode() {
		if vars := cur.localVariables(); vars != nil {
			if v, ok := vars[name]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// dictNode is an internal dictionary whose children are ordered: the
// schema's required keys first, then optional keys, then extras, each
// group sorted by name.
type dictNode struct {
	baseNode
	opts     *ResolutionOptions
	keypath  Keypath
	keys     []string
	children map[string]node
}

func (n *dictNode) resolve(ctx context.Context) (any, error) {
	log := ctxlog.FromContext(ctx)
	log.Debug("Resolving dictionary node.", "keypath", n.keypath.String())

	out := make(map[string]any, len(n.children))
	for _, key := range n.keys {
		value, err := n.children[key].resolve(ctx)
		if err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

// childAt descends one level, evaluating function calls along the way.
func (n *dictNode) childAt(ctx context.Context, key string) (node, error) {
	child, ok := n.children[key]
	if !ok {
		return nil, fmt.Errorf("key %q does not exist", key)
	}
	return derefFunctionCalls(ctx, child)
}

// listNode is an internal list.
type listNode struct {
	baseNode
	opts     *ResolutionOptions
	keypath  Keypath
	children []node
}

func (n *listNode) resolve(ctx context.Context) (any, error) {
	log := ctxlog.FromContext(ctx)
	log.Debug("Resolving list node.", "keypath", n.keypath.String())

	out := make([]any, len(n.children))
	for i, child := range n.children {
		value, err := child.resolve(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = value
	}
	return out, nil
}

func (n *listNode) childAt(ctx context.Context, i int) (node, error) {
	if i < 0 || i >= len(n.children) {
		return nil, fmt.Errorf("index %d does not exist", i)
	}
	return derefFunctionCalls(ctx, n.children[i])
}

// valueNode is a leaf. Resolution interpolates the raw value when it is
// a string, then hands the result to the converter for the leaf type.
type valueNode struct {
	baseNode
	opts     *ResolutionOptions
	keypath  Keypath
	raw      any
	typeName string
	nullable bool
	mode     Mode

	state    resolveState
	resolved any
}

func (n *valueNode) resolve(ctx context.Context) (any, error) {
	switch n.state {
	case stateResolved:
		return n.resolved, nil
	case statePending:
		return nil, newResolutionError(n.keypath, "Circular reference.")
	}
	n.state = statePending

	log := ctxlog.FromContext(ctx)
	log.Debug("Resolving value node.",
		"keypath", n.keypath.String(),
		"type", n.typeName,
		"mode", n.mode.String())

	value := n.raw
	if s, ok := value.(string); ok && n.mode != ModeRaw {
		interpolated, err := n.interpolate(ctx, s)
		if err != nil {
			n.state = stateUndiscovered
			return nil, wrapAtLeaf(err, n.keypath)
		}
		value = interpolated
	}

	if value == nil && (n.nullable || n.typeName == "any") {
		n.resolved = nil
		n.state = stateResolved
		return nil, nil
	}

	if n.typeName != "any" {
		converter, ok := n.opts.Converters[n.typeName]
		if !ok {
			n.state = stateUndiscovered
			return nil, newResolutionError(n.keypath, "No converter provided for type: %q.", n.typeName)
		}
		converted, err := converter(value)
		if err != nil {
			n.state = stateUndiscovered
			return nil, wrapAtLeaf(err, n.keypath)
		}
		value = converted
	}

	n.resolved = value
	n.state = stateResolved
	return value, nil
}

// funcNode is a detected function call. evaluate runs the function and
// rebuilds its output as a node; resolve then resolves that node. Both
// are memoized.
type funcNode struct {
	baseNode
	opts    *ResolutionOptions
	keypath Keypath
	name    string
	fn      Function
	input   any
	schema  *Schema
	mode    Mode

	state  resolveState
	result node
}

func (n *funcNode) resolve(ctx context.Context) (any, error) {
	result, err := n.evaluate(ctx)
	if err != nil {
		return nil, err
	}
	return result.resolve(ctx)
}

// evaluate calls the function and turns its output into a node. The
// output is either an internal node (core functions manipulate the
// tree directly) or a raw configuration fragment rebuilt under the
// declared schema. A function returning another call is evaluated
// through.
func (n *funcNode) evaluate(ctx context.Context) (node, error) {
	switch n.state {
	case stateResolved:
		return n.result, nil
	case statePending:
		return nil, newResolutionError(n.keypath, "Circular reference.")
	}
	n.state = statePending

	log := ctxlog.FromContext(ctx)
	log.Debug("Evaluating function call.", "keypath", n.keypath.String(), "function", n.name)

	input := n.input
	if n.fn.ResolveInput {
		resolved, err := n.resolveFragment(ctx, input, permissiveSchemaFor(input), nil)
		if err != nil {
			n.state = stateUndiscovered
			return nil, err
		}
		input = resolved
	}

	args := &FunctionArgs{
		Input:    input,
		Root:     wrapContainer(rootOf(n)),
		Keypath:  n.keypath,
		Schema:   n.schema,
		Resolve:  n.makeResolver(ctx),
		Context:  ctx,
		Options:  n.opts,
		rootNode: rootOf(n),
		callNode: n,
	}

	output, err := n.fn.Fn(args)
	if err != nil {
		n.state = stateUndiscovered
		return nil, wrapAtLeaf(err, n.keypath)
	}

	result, ok := output.(node)
	if !ok {
		built, err := makeNode(ctx, output, n.schema, n.opts, n, n.keypath, nil, n.mode)
		if err != nil {
			n.state = stateUndiscovered
			return nil, err
		}
		result = built
	}

	if inner, ok := result.(*funcNode); ok {
		evaluated, err := inner.evaluate(ctx)
		if err != nil {
			n.state = stateUndiscovered
			return nil, err
		}
		result = evaluated
	}

	n.result = result
	n.state = stateResolved
	return result, nil
}

// resolveFragment builds and resolves an arbitrary configuration
// fragment as a child of this call, in this call's mode.
func (n *funcNode) resolveFragment(ctx context.Context, cfg any, schema *Schema, locals map[string]any) (any, error) {
	if schema == nil {
		schema = n.schema
	}
	built, err := makeNode(ctx, cfg, schema, n.opts, n, n.keypath, locals, n.mode)
	if err != nil {
		return nil, err
	}
	return built.resolve(ctx)
}

func (n *funcNode) makeResolver(ctx context.Context) Resolver {
	return func(cfg any, schema *Schema, localVariables map[string]any) (any, error) {
		return n.resolveFragment(ctx, cfg, schema, localVariables)
	}
}

// permissiveSchemaFor returns the "accept anything" schema matching the
// shape of a raw value, used to pre-resolve function inputs.
func permissiveSchemaFor(value any) *Schema {
	switch value.(type) {
	case map[string]any:
		return &Schema{Type: "dict", ExtraKeysSchema: &Schema{Type: "any", Nullable: true}}
	case []any:
		return &Schema{Type: "list", ElementSchema: &Schema{Type: "any", Nullable: true}}
	default:
		return &Schema{Type: "any", Nullable: true}
	}
}

// derefFunctionCalls evaluates chained function calls until a concrete
// node surfaces.
func derefFunctionCalls(ctx context.Context, n node) (node, error) {
	for {
		call, ok := n.(*funcNode)
		if !ok {
			return n, nil
		}
		result, err := call.evaluate(ctx)
		if err != nil {
			return nil, err
		}
		n = result
	}
}

// nodeAtKeypath descends a dotted keypath through containers,
// evaluating function calls along the way.
func nodeAtKeypath(ctx context.Context, n node, kp Keypath) (node, error) {
	cur, err := derefFunctionCalls(ctx, n)
	if err != nil {
		return nil, err
	}
	for _, segment := range kp {
		switch c := cur.(type) {
		case *dictNode:
			cur, err = c.childAt(ctx, segment)
		case *listNode:
			i, serr := strconv.Atoi(segment)
			if serr != nil {
				return nil, fmt.Errorf("key %q does not exist", segment)
			}
			cur, err = c.childAt(ctx, i)
		default:
			return nil, fmt.Errorf("key %q does not exist", segment)
		}
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

package configtree

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/vk/configtree/internal/ctxlog"
)

// interpolate evaluates ${...} interpolations in s. In full mode the
// pass repeats until the string stops changing, so interpolations that
// produce further interpolations eventually bottom out.
func (n *valueNode) interpolate(ctx context.Context, s string) (string, error) {
	out, err := n.interpolateOnce(ctx, s)
	if err != nil || n.mode != ModeFull {
		return out, err
	}
	for out != s {
		s = out
		out, err = n.interpolateOnce(ctx, s)
		if err != nil {
			return "", err
		}
	}
	return out, nil
}

func (n *valueNode) interpolateOnce(ctx context.Context, s string) (string, error) {
	expr, diags := hclsyntax.ParseTemplate([]byte(s), "<value>", hcl.InitialPos)
	if diags.HasErrors() {
		return "", diagError(diags)
	}

	variables, err := n.assembleScope(ctx, expr.Variables())
	if err != nil {
		return "", err
	}

	evalCtx := &hcl.EvalContext{
		Variables: variables,
		Functions: n.opts.evalFuncs,
	}
	val, diags := expr.Value(evalCtx)
	if diags.HasErrors() {
		return "", diagError(diags)
	}

	// A template that is a single interpolation yields the expression's
	// own type; the contract is that interpolation produces a string
	// and the converter takes it from there.
	str, convErr := convert.Convert(val, cty.String)
	if convErr != nil {
		return "", fmt.Errorf("cannot render expression result as a string: %s", convErr)
	}
	if str.IsNull() {
		return "", fmt.Errorf("expression produced a null value")
	}
	return str.AsString(), nil
}

// assembleScope resolves every variable the template references and
// builds the evaluator's variable table. Only the referenced endpoints
// are resolved; whole containers resolve eagerly only when referenced
// as a whole (including references with dynamic indices, which surface
// here as bare root names).
func (n *valueNode) assembleScope(ctx context.Context, traversals []hcl.Traversal) (map[string]cty.Value, error) {
	log := ctxlog.FromContext(ctx)

	roots := make(map[string]*scopeEntry)
	for _, traversal := range traversals {
		rootName := traversal.RootName()
		log.Debug("Resolving template reference.",
			"keypath", n.keypath.String(),
			"reference", traversalString(traversal))

		base, found, err := n.lookupVariable(ctx, rootName)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, newResolutionError(n.keypath, "'%s' is undefined.", rootName)
		}

		endpoint, err := walkSteps(ctx, base, traversal[1:], traversal)
		if err != nil {
			return nil, wrapAtLeaf(err, n.keypath)
		}
		cv, err := endpointToCty(ctx, endpoint)
		if err != nil {
			return nil, wrapAtLeaf(err, n.keypath)
		}

		if roots[rootName] == nil {
			roots[rootName] = &scopeEntry{}
		}
		entry := roots[rootName]
		for _, step := range traversal[1:] {
			name, index, isIndex := stepKey(step)
			if isIndex {
				entry = entry.elem(index)
			} else {
				entry = entry.attr(name)
			}
		}
		entry.value = cv
		entry.hasValue = true
	}

	variables := make(map[string]cty.Value, len(roots))
	for name, entry := range roots {
		variables[name] = entry.toCty()
	}
	return variables, nil
}

// lookupVariable finds the base value for a root name. Local variables
// shadow root container keys, which shadow global variables.
func (n *valueNode) lookupVariable(ctx context.Context, name string) (any, bool, error) {
	if v, ok := lookupLocal(n, name); ok {
		return v, true, nil
	}

	root, err := derefFunctionCalls(ctx, rootOf(n))
	if err != nil {
		return nil, false, err
	}
	if d, ok := root.(*dictNode); ok {
		if _, exists := d.children[name]; exists {
			child, err := d.childAt(ctx, name)
			if err != nil {
				return nil, false, err
			}
			v, err := wrapValue(ctx, child)
			if err != nil {
				return nil, false, err
			}
			return v, true, nil
		}
	}

	if n.opts.InjectRootAs != "" && name == n.opts.InjectRootAs {
		if c := wrapContainer(rootOf(n)); c != nil {
			return c, true, nil
		}
	}

	if v, ok := n.opts.GlobalVariables[name]; ok {
		return v, true, nil
	}
	return nil, false, nil
}

// walkSteps descends attribute and index steps through lazy containers
// and plain values, resolving only what the path touches.
func walkSteps(ctx context.Context, cur any, steps hcl.Traversal, full hcl.Traversal) (any, error) {
	for _, step := range steps {
		if fc, ok := cur.(*UnresolvedFunctionCall); ok {
			evaluated, err := derefFunctionCalls(ctx, fc.node)
			if err != nil {
				return nil, err
			}
			if cur = wrapContainer(evaluated); cur == nil {
				return nil, fmt.Errorf("'%s' is undefined.", traversalString(full))
			}
		}

		name, index, isIndex := stepKey(step)

		var err error
		switch c := cur.(type) {
		case *UnresolvedDict:
			if isIndex {
				return nil, fmt.Errorf("'%s' is undefined.", traversalString(full))
			}
			if !c.HasKey(name) {
				return nil, fmt.Errorf("'%s' is undefined.", traversalString(full))
			}
			cur, err = c.Get(ctx, name)
		case *UnresolvedList:
			if !isIndex {
				return nil, fmt.Errorf("'%s' is undefined.", traversalString(full))
			}
			if index < 0 || index >= c.Len() {
				return nil, fmt.Errorf("'%s' is undefined.", traversalString(full))
			}
			cur, err = c.Index(ctx, index)
		case map[string]any:
			v, ok := c[name]
			if isIndex || !ok {
				return nil, fmt.Errorf("'%s' is undefined.", traversalString(full))
			}
			cur = v
		case []any:
			if !isIndex || index < 0 || index >= len(c) {
				return nil, fmt.Errorf("'%s' is undefined.", traversalString(full))
			}
			cur = c[index]
		default:
			return nil, fmt.Errorf("'%s' is undefined.", traversalString(full))
		}
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// endpointToCty converts the walked-to endpoint for the evaluator. A
// container endpoint means the template wants the whole thing, so it
// resolves eagerly.
func endpointToCty(ctx context.Context, endpoint any) (cty.Value, error) {
	if c, ok := endpoint.(UnresolvedContainer); ok {
		resolved, err := c.Resolve(ctx)
		if err != nil {
			return cty.NilVal, err
		}
		return valueToCty(resolved)
	}
	return valueToCty(endpoint)
}

// stepKey extracts the attribute name or integer index of a traversal
// step. String indices (foo["bar"]) count as attribute accesses.
func stepKey(step hcl.Traverser) (name string, index int, isIndex bool) {
	switch t := step.(type) {
	case hcl.TraverseAttr:
		return t.Name, 0, false
	case hcl.TraverseIndex:
		if t.Key.Type() == cty.String {
			return t.Key.AsString(), 0, false
		}
		i, _ := t.Key.AsBigFloat().Int64()
		return "", int(i), true
	default:
		return "", 0, false
	}
}

func traversalString(traversal hcl.Traversal) string {
	out := traversal.RootName()
	for _, step := range traversal[1:] {
		name, index, isIndex := stepKey(step)
		if isIndex {
			out = fmt.Sprintf("%s.%d", out, index)
		} else {
			out = fmt.Sprintf("%s.%s", out, name)
		}
	}
	return out
}

func diagError(diags hcl.Diagnostics) error {
	for _, d := range diags {
		if d.Severity == hcl.DiagError {
			return fmt.Errorf("%s: %s", d.Summary, d.Detail)
		}
	}
	return fmt.Errorf("%s", diags.Error())
}

// evalFunctions merges the evaluator builtins with user filters.
// Filters win on name collisions.
func evalFunctions(filters map[string]function.Function) map[string]function.Function {
	funcs := map[string]function.Function{
		"abs":        stdlib.AbsoluteFunc,
		"ceil":       stdlib.CeilFunc,
		"floor":      stdlib.FloorFunc,
		"int":        stdlib.IntFunc,
		"max":        stdlib.MaxFunc,
		"min":        stdlib.MinFunc,
		"parseint":   stdlib.ParseIntFunc,
		"pow":        stdlib.PowFunc,
		"signum":     stdlib.SignumFunc,
		"chomp":      stdlib.ChompFunc,
		"format":     stdlib.FormatFunc,
		"formatlist": stdlib.FormatListFunc,
		"indent":     stdlib.IndentFunc,
		"join":       stdlib.JoinFunc,
		"lower":      stdlib.LowerFunc,
		"regex":      stdlib.RegexFunc,
		"regexall":   stdlib.RegexAllFunc,
		"replace":    stdlib.ReplaceFunc,
		"split":      stdlib.SplitFunc,
		"strlen":     stdlib.StrlenFunc,
		"substr":     stdlib.SubstrFunc,
		"title":      stdlib.TitleFunc,
		"trim":       stdlib.TrimFunc,
		"trimprefix": stdlib.TrimPrefixFunc,
		"trimspace":  stdlib.TrimSpaceFunc,
		"trimsuffix": stdlib.TrimSuffixFunc,
		"upper":      stdlib.UpperFunc,
		"coalesce":   stdlib.CoalesceFunc,
		"compact":    stdlib.CompactFunc,
		"concat":     stdlib.ConcatFunc,
		"contains":   stdlib.ContainsFunc,
		"distinct":   stdlib.DistinctFunc,
		"element":    stdlib.ElementFunc,
		"flatten":    stdlib.FlattenFunc,
		"keys":       stdlib.KeysFunc,
		"length":     stdlib.LengthFunc,
		"lookup":     stdlib.LookupFunc,
		"merge":      stdlib.MergeFunc,
		"range":      stdlib.RangeFunc,
		"reverse":    stdlib.ReverseListFunc,
		"slice":      stdlib.SliceFunc,
		"sort":       stdlib.SortFunc,
		"values":     stdlib.ValuesFunc,
		"zipmap":     stdlib.ZipmapFunc,
		"csvdecode":  stdlib.CSVDecodeFunc,
		"jsondecode": stdlib.JSONDecodeFunc,
		"jsonencode": stdlib.JSONEncodeFunc,
		"formatdate": stdlib.FormatDateFunc,
		"timestamp":  timestampFunc,
	}
	for name, fn := range filters {
		funcs[name] = fn
	}
	return funcs
}

// timestampFunc turns an ISO date or datetime string into Unix seconds
// so templates can order temporal values with numeric comparison.
var timestampFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "value", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		t, err := parseTemporal(args[0].AsString())
		if err != nil {
			return cty.NilVal, err
		}
		return cty.NumberIntVal(t.Unix()), nil
	},
})

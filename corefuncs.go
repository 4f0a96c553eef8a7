package configtree

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// CoreFunctions returns the built-in function set: splice, raw,
// resolve, fully_resolve, template, use, if and let. These are the
// functions available by default; WithFunctions replaces them.
func CoreFunctions() FunctionSet {
	return FunctionSet{
		"splice":        NewRawFunction(spliceFn),
		"raw":           NewRawFunction(rawFn),
		"resolve":       NewRawFunction(resolveFn),
		"fully_resolve": NewRawFunction(fullyResolveFn),
		"template":      NewRawFunction(templateFn),
		"use":           NewRawFunction(useFn),
		"if":            NewRawFunction(ifFn),
		"let":           NewRawFunction(letFn),
	}
}

// spliceFn copies the resolved value at another keypath into this one,
// then rebuilds it under the call's schema. The keypath string is taken
// literally; it is never interpolated.
func spliceFn(args *FunctionArgs) (any, error) {
	path, ok := args.Input.(string)
	if !ok {
		return nil, errors.New("Input to 'splice' must be a string.")
	}
	target, err := nodeAtKeypath(args.Context, args.rootNode, ParseKeypath(path))
	if err != nil {
		return nil, fmt.Errorf("Keypath '%s' does not exist.", path)
	}
	resolved, err := target.resolve(args.Context)
	if err != nil {
		return nil, err
	}
	return makeNode(args.Context, resolved, args.Schema, args.Options, args.callNode, args.Keypath, nil, ModeStandard)
}

// rawFn protects its input from interpolation and function-call
// detection. The subtree is parentless so nothing inside it can reach
// back into the surrounding tree.
func rawFn(args *FunctionArgs) (any, error) {
	return makeNode(args.Context, args.Input, args.Schema, args.Options, nil, args.Keypath, nil, ModeRaw)
}

// resolveFn re-enables standard resolution inside a raw region.
func resolveFn(args *FunctionArgs) (any, error) {
	return makeNode(args.Context, args.Input, args.Schema, args.Options, args.callNode, args.Keypath, nil, ModeStandard)
}

// fullyResolveFn resolves its input with repeated interpolation until
// strings stop changing.
func fullyResolveFn(args *FunctionArgs) (any, error) {
	return makeNode(args.Context, args.Input, args.Schema, args.Options, args.callNode, args.Keypath, nil, ModeFull)
}

// templateFn stores its input, unresolved, under a "__template__" key
// so that 'use' can find it later.
func templateFn(args *FunctionArgs) (any, error) {
	wrapped := map[string]any{"__template__": args.Input}
	return makeNode(args.Context, wrapped, args.Schema, args.Options, nil, args.Keypath, nil, ModeRaw)
}

// useFn instantiates a template stored elsewhere in the tree,
// optionally deep-merging overrides into it, and resolves the result
// in place.
func useFn(args *FunctionArgs) (any, error) {
	var path string
	var overrides map[string]any

	switch input := args.Input.(type) {
	case string:
		path = input
	case map[string]any:
		rawPath, ok := input["template"]
		if !ok {
			return nil, errors.New("Dict input to 'use' must contain a 'template' key.")
		}
		if path, ok = rawPath.(string); !ok {
			return nil, errors.New("The 'template' value in 'use' must be a string.")
		}
		if rawOverrides, present := input["overrides"]; present {
			if overrides, ok = rawOverrides.(map[string]any); !ok {
				return nil, errors.New("The 'overrides' value in 'use' must be a dictionary.")
			}
		}
		var extra []string
		for key := range input {
			if key != "template" && key != "overrides" {
				extra = append(extra, key)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return nil, fmt.Errorf("Unexpected keys in 'use': ['%s'].", strings.Join(extra, "', '"))
		}
	default:
		return nil, errors.New("Input to 'use' must be a string or a dictionary.")
	}

	target, err := nodeAtKeypath(args.Context, args.rootNode, ParseKeypath(path))
	if err != nil {
		return nil, fmt.Errorf("Keypath '%s' does not exist.", path)
	}
	call, ok := target.(*dictNode)
	if !ok {
		return nil, errors.New("The target of 'use' must be a '__template__' function call.")
	}
	bodyNode, ok := call.children["__template__"]
	if !ok {
		return nil, errors.New("The target of 'use' must be a '__template__' function call.")
	}

	body := rawConfigurationOf(bodyNode)
	if overrides != nil {
		bodyDict, ok := body.(map[string]any)
		if !ok {
			return nil, errors.New("Overrides can only be applied when the template resolves to a dictionary.")
		}
		merged, err := deepUpdate(bodyDict, overrides)
		if err != nil {
			return nil, err
		}
		body = merged
	}

	return makeNode(args.Context, body, args.Schema, args.Options, args.callNode, args.Keypath, nil, ModeStandard)
}

// ifFn resolves its condition under a boolean schema and then resolves
// only the taken branch; the untaken branch is never built.
func ifFn(args *FunctionArgs) (any, error) {
	input, ok := args.Input.(map[string]any)
	if !ok {
		return nil, errors.New("Input to 'if' must be a dictionary.")
	}
	if len(input) != 3 {
		return nil, errors.New("Input to 'if' must be a dictionary with keys 'condition', 'then' and 'else'.")
	}
	for _, key := range []string{"condition", "then", "else"} {
		if _, present := input[key]; !present {
			return nil, errors.New("Input to 'if' must be a dictionary with keys 'condition', 'then' and 'else'.")
		}
	}

	condition, err := args.Resolve(input["condition"], &Schema{Type: "boolean"}, nil)
	if err != nil {
		return nil, err
	}
	branch := input["else"]
	if condition.(bool) {
		branch = input["then"]
	}
	return args.Resolve(branch, args.Schema, nil)
}

// letFn binds local variables and references around its 'in' subtree.
func letFn(args *FunctionArgs) (any, error) {
	input, ok := args.Input.(map[string]any)
	if !ok {
		return nil, errors.New("Input to 'let' must be a dictionary.")
	}
	inCfg, hasIn := input["in"]
	if !hasIn {
		return nil, errors.New("Input to 'let' must contain an 'in' key.")
	}
	rawVariables, hasVariables := input["variables"]
	rawReferences, hasReferences := input["references"]
	if !hasVariables && !hasReferences {
		return nil, errors.New("Input to 'let' must contain 'variables' and/or 'references'.")
	}

	locals := make(map[string]any)
	if hasVariables {
		variables, ok := rawVariables.(map[string]any)
		if !ok {
			return nil, errors.New("The value of 'variables' in 'let' must be a dictionary.")
		}
		resolved, err := args.Resolve(variables, permissiveSchemaFor(variables), nil)
		if err != nil {
			return nil, err
		}
		resolvedDict, ok := resolved.(map[string]any)
		if !ok {
			return nil, errors.New("The value of 'variables' in 'let' must be a dictionary.")
		}
		for name, value := range resolvedDict {
			locals[name] = value
		}
	}

	inNode, err := makeNode(args.Context, inCfg, args.Schema, args.Options, args.callNode, args.Keypath, locals, args.callNode.mode)
	if err != nil {
		return nil, err
	}

	if hasReferences {
		references, ok := rawReferences.(map[string]any)
		if !ok {
			return nil, errors.New("The value of 'references' in 'let' must be a dictionary.")
		}
		for _, name := range sortedKeys(references) {
			token, _ := references[name].(string)
			value, err := resolveReference(args, inNode, token)
			if err != nil {
				return nil, err
			}
			locals[name] = value
		}
	}

	return inNode, nil
}

// resolveReference turns a 'let' reference token into the value bound
// to the reference name.
func resolveReference(args *FunctionArgs, inNode node, token string) (any, error) {
	switch token {
	case "__this__":
		c := wrapContainer(inNode)
		if c == nil {
			return nil, errors.New("'__this__' cannot be used when 'in' is a scalar value.")
		}
		return c, nil
	case "__previous__":
		parent, ok := args.callNode.parentNode().(*listNode)
		if !ok {
			return nil, errors.New("'__previous__' can only be used inside a list.")
		}
		index := -1
		for i, child := range parent.children {
			if child == node(args.callNode) {
				index = i
				break
			}
		}
		if index == 0 {
			return nil, errors.New("'__previous__' cannot be used on the first element of a list.")
		}
		if index < 0 {
			return nil, errors.New("'__previous__' can only be used inside a list.")
		}
		// Function-call siblings are wrapped unevaluated; the call runs
		// only when the reference is actually read.
		previous := parent.children[index-1]
		if c := wrapContainer(previous); c != nil {
			return c, nil
		}
		return previous.resolve(args.Context)
	default:
		return nil, fmt.Errorf("References in 'let' must be '__this__' or '__previous__', got '%s'.", token)
	}
}

// rawConfigurationOf reconstructs the raw configuration fragment that
// produced a subtree. Template bodies are stored raw, so this walk
// surfaces them for re-use.
func rawConfigurationOf(n node) any {
	switch c := n.(type) {
	case *dictNode:
		out := make(map[string]any, len(c.keys))
		for _, key := range c.keys {
			out[key] = rawConfigurationOf(c.children[key])
		}
		return out
	case *listNode:
		out := make([]any, len(c.children))
		for i, child := range c.children {
			out[i] = rawConfigurationOf(child)
		}
		return out
	case *valueNode:
		return c.raw
	case *funcNode:
		return map[string]any{"__" + c.name + "__": c.input}
	default:
		return nil
	}
}

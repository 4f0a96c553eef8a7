package stdfuncs

import (
	"errors"

	"github.com/vk/configtree"
)

// List returns the list function group: concatenate, filter, loop,
// range and zip.
func List() configtree.FunctionSet {
	return configtree.FunctionSet{
		"concatenate": configtree.NewFunction(listConcatenate),
		"filter":      configtree.NewRawFunction(listFilter),
		"loop":        configtree.NewRawFunction(listLoop),
		"range":       configtree.NewFunction(listRange),
		"zip":         configtree.NewFunction(listZip),
	}
}

func asListList(input any) ([][]any, bool) {
	list, ok := input.([]any)
	if !ok {
		return nil, false
	}
	out := make([][]any, len(list))
	for i, item := range list {
		inner, ok := item.([]any)
		if !ok {
			return nil, false
		}
		out[i] = inner
	}
	return out, true
}

func listConcatenate(args *configtree.FunctionArgs) (any, error) {
	lists, ok := asListList(args.Input)
	if !ok {
		return nil, errors.New("Input to 'concatenate' must be a list of lists.")
	}
	if len(lists) == 0 {
		return nil, errors.New("Input to 'concatenate' must be a non-empty list of lists.")
	}

	var out []any
	for _, list := range lists {
		out = append(out, list...)
	}
	if out == nil {
		out = []any{}
	}
	return out, nil
}

// listZip zips lists together, stopping at the shortest.
func listZip(args *configtree.FunctionArgs) (any, error) {
	lists, ok := asListList(args.Input)
	if !ok {
		return nil, errors.New("Input to 'zip' must be a list of lists.")
	}
	if len(lists) == 0 {
		return nil, errors.New("Input to 'zip' must be a non-empty list of lists.")
	}

	shortest := len(lists[0])
	for _, list := range lists[1:] {
		if len(list) < shortest {
			shortest = len(list)
		}
	}
	out := make([]any, shortest)
	for i := 0; i < shortest; i++ {
		entry := make([]any, len(lists))
		for j, list := range lists {
			entry[j] = list[i]
		}
		out[i] = entry
	}
	return out, nil
}

func listRange(args *configtree.FunctionArgs) (any, error) {
	input, ok := args.Input.(map[string]any)
	if !ok {
		return nil, errors.New("Input to 'range' must be a dictionary.")
	}
	if _, present := input["stop"]; !present {
		return nil, errors.New("Input to 'range' must be a dictionary with a key 'stop'.")
	}
	for key := range input {
		if key != "start" && key != "stop" && key != "step" {
			return nil, errors.New("Input to 'range' must be a dictionary with keys 'start', 'stop' and 'step'.")
		}
	}

	start, stop, step := 0, 0, 1
	read := func(key string, dst *int) bool {
		raw, present := input[key]
		if !present {
			return true
		}
		n, ok := asInt(raw)
		if ok {
			*dst = n
		}
		return ok
	}
	if !read("start", &start) || !read("stop", &stop) || !read("step", &step) {
		return nil, errors.New("The values of 'start', 'stop' and 'step' in 'range' must be integers.")
	}

	out := []any{}
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, i)
		}
	} else if step < 0 {
		for i := start; i > stop; i += step {
			out = append(out, i)
		}
	}
	return out, nil
}

// listLoop resolves one copy of a configuration per element of a list,
// binding each element to a local variable. The output element schema
// comes from the call's declared list schema.
func listLoop(args *configtree.FunctionArgs) (any, error) {
	input, ok := args.Input.(map[string]any)
	if !ok {
		return nil, errors.New("Input to 'loop' must be a dictionary with keys 'variable', 'over' and 'in'.")
	}
	for _, key := range []string{"variable", "over", "in"} {
		if _, present := input[key]; !present {
			return nil, errors.New("Input to 'loop' must be a dictionary with keys 'variable', 'over' and 'in'.")
		}
	}
	variable, ok := input["variable"].(string)
	if !ok {
		return nil, errors.New("The 'variable' in 'loop' must be a string.")
	}

	anyListSchema := &configtree.Schema{Type: "list", ElementSchema: &configtree.Schema{Type: "any"}}
	rawOver, err := args.Resolve(input["over"], anyListSchema, nil)
	if err != nil {
		return nil, err
	}
	over := rawOver.([]any)

	elementSchema := &configtree.Schema{Type: "any"}
	if args.Schema != nil && args.Schema.ElementSchema != nil {
		elementSchema = args.Schema.ElementSchema
	}

	out := make([]any, len(over))
	for i, element := range over {
		resolved, err := args.Resolve(input["in"], elementSchema, map[string]any{variable: element})
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

// listFilter keeps the elements of a list for which a boolean
// condition holds, binding each element to a local variable while the
// condition is resolved.
func listFilter(args *configtree.FunctionArgs) (any, error) {
	input, ok := args.Input.(map[string]any)
	if !ok {
		return nil, errors.New("Input to 'filter' must be a dictionary with keys 'iterable', 'variable' and 'condition'.")
	}
	for _, key := range []string{"iterable", "variable", "condition"} {
		if _, present := input[key]; !present {
			return nil, errors.New("Input to 'filter' must be a dictionary with keys 'iterable', 'variable' and 'condition'.")
		}
	}
	variable, ok := input["variable"].(string)
	if !ok {
		return nil, errors.New("The 'variable' in 'filter' must be a string.")
	}

	anyListSchema := &configtree.Schema{Type: "list", ElementSchema: &configtree.Schema{Type: "any"}}
	rawIterable, err := args.Resolve(input["iterable"], anyListSchema, nil)
	if err != nil {
		return nil, err
	}
	iterable := rawIterable.([]any)

	out := []any{}
	for _, element := range iterable {
		keep, err := args.Resolve(input["condition"], &configtree.Schema{Type: "boolean"}, map[string]any{variable: element})
		if err != nil {
			return nil, err
		}
		if keep.(bool) {
			out = append(out, element)
		}
	}
	return out, nil
}

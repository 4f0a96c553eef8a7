package stdfuncs

import (
	"errors"

	"github.com/mitchellh/copystructure"

	"github.com/vk/configtree"
)

// Dict returns the dictionary function group: from_items, update and
// update_shallow.
func Dict() configtree.FunctionSet {
	return configtree.FunctionSet{
		"from_items":     configtree.NewRawFunction(dictFromItems),
		"update":         configtree.NewFunction(dictUpdate),
		"update_shallow": configtree.NewFunction(dictUpdateShallow),
	}
}

func asDictList(input any) ([]map[string]any, bool) {
	list, ok := input.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, len(list))
	for i, item := range list {
		dct, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out[i] = dct
	}
	return out, true
}

// dictUpdateShallow merges dictionaries left to right, replacing whole
// values.
func dictUpdateShallow(args *configtree.FunctionArgs) (any, error) {
	dicts, ok := asDictList(args.Input)
	if !ok {
		return nil, errors.New("Input to 'update_shallow' must be a list of dictionaries.")
	}
	if len(dicts) == 0 {
		return nil, errors.New("Input to 'update_shallow' must be a non-empty list of dictionaries.")
	}

	copied, err := copystructure.Copy(dicts[0])
	if err != nil {
		return nil, err
	}
	out := copied.(map[string]any)
	for _, dct := range dicts[1:] {
		for key, value := range dct {
			out[key] = value
		}
	}
	return out, nil
}

// dictUpdate merges dictionaries left to right, merging nested
// dictionaries recursively.
func dictUpdate(args *configtree.FunctionArgs) (any, error) {
	dicts, ok := asDictList(args.Input)
	if !ok {
		return nil, errors.New("Input to 'update' must be a list of dictionaries.")
	}
	if len(dicts) == 0 {
		return nil, errors.New("Input to 'update' must be a non-empty list of dictionaries.")
	}

	copied, err := copystructure.Copy(dicts[0])
	if err != nil {
		return nil, err
	}
	out := copied.(map[string]any)
	for _, dct := range dicts[1:] {
		deepMergeInto(out, dct)
	}
	return out, nil
}

func deepMergeInto(dst, src map[string]any) {
	for key, value := range src {
		if srcDict, ok := value.(map[string]any); ok {
			if dstDict, ok := dst[key].(map[string]any); ok {
				deepMergeInto(dstDict, srcDict)
				continue
			}
		}
		dst[key] = value
	}
}

// dictFromItems builds a dictionary from a list of {key, value} pairs.
// The input is resolved under an explicit pair schema so that the keys
// and values may themselves use interpolation or function calls.
func dictFromItems(args *configtree.FunctionArgs) (any, error) {
	pairSchema := &configtree.Schema{
		Type: "list",
		ElementSchema: &configtree.Schema{
			Type: "dict",
			RequiredKeys: map[string]*configtree.Schema{
				"key":   {Type: "any"},
				"value": {Type: "any"},
			},
		},
	}
	resolved, err := args.Resolve(args.Input, pairSchema, nil)
	if err != nil {
		return nil, err
	}

	items, ok := resolved.([]any)
	if !ok {
		return nil, errors.New("Input to 'from_items' must be a list of {key, value} pairs.")
	}
	out := make(map[string]any, len(items))
	for _, item := range items {
		pair := item.(map[string]any)
		key, ok := pair["key"].(string)
		if !ok {
			return nil, errors.New("The 'key' of each item in 'from_items' must be a string.")
		}
		out[key] = pair["value"]
	}
	return out, nil
}

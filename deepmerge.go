package configtree

import "github.com/mitchellh/copystructure"

// deepUpdate returns a deep copy of base with src merged in on top.
// Nested dictionaries merge key by key; everything else is replaced
// wholesale by the src value.
func deepUpdate(base, src map[string]any) (map[string]any, error) {
	copied, err := copystructure.Copy(base)
	if err != nil {
		return nil, err
	}
	out := copied.(map[string]any)
	mergeInto(out, src)
	return out, nil
}

func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		if srcDict, ok := value.(map[string]any); ok {
			if dstDict, ok := dst[key].(map[string]any); ok {
				mergeInto(dstDict, srcDict)
				continue
			}
		}
		dst[key] = value
	}
}

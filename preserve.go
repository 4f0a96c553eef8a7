package configtree

import "github.com/mitchellh/copystructure"

// preserveShape writes the resolved values back into a deep copy of
// the original configuration so that the caller's concrete container
// values survive resolution. Positions whose shape changed during
// resolution (function calls, interpolated containers) take the
// resolved value as-is.
func preserveShape(original, resolved any) (any, error) {
	copied, err := copystructure.Copy(original)
	if err != nil {
		return nil, err
	}
	return overlayResolved(copied, resolved), nil
}

func overlayResolved(dst, src any) any {
	switch d := dst.(type) {
	case map[string]any:
		s, ok := src.(map[string]any)
		if !ok {
			return src
		}
		for key, dv := range d {
			if sv, present := s[key]; present {
				d[key] = overlayResolved(dv, sv)
			} else {
				delete(d, key)
			}
		}
		for key, sv := range s {
			if _, present := d[key]; !present {
				// Keys introduced during resolution, e.g. defaults.
				d[key] = sv
			}
		}
		return d
	case []any:
		s, ok := src.([]any)
		if !ok || len(s) != len(d) {
			return src
		}
		for i := range d {
			d[i] = overlayResolved(d[i], s[i])
		}
		return d
	default:
		return src
	}
}

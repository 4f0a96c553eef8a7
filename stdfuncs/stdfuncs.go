// Package stdfuncs provides an optional standard library of functions
// for configtree configurations: datetime arithmetic, dictionary
// merging and list generation. The functions are grouped into
// namespaces; All returns every group under its namespaced name, e.g.
// "datetime.offset" or "list.range".
//
// The package is built entirely on the public configtree API, so it
// also serves as a reference for writing custom functions.
package stdfuncs

import "github.com/vk/configtree"

// All returns the full standard library, namespaced.
func All() configtree.FunctionSet {
	return configtree.FunctionSet{}.Merge(
		Datetime().Namespaced("datetime"),
		Dict().Namespaced("dict"),
		List().Namespaced("list"),
	)
}

package configtree

import (
	"strconv"
	"strings"
)

// Keypath identifies a location in a configuration tree as an ordered
// sequence of string segments. Dict keys appear verbatim; list indices
// appear as decimal strings.
type Keypath []string

// String renders the keypath dotted, e.g. "servers.0.host".
func (kp Keypath) String() string {
	return strings.Join(kp, ".")
}

// Child returns a new keypath extended by one segment. The receiver is
// never mutated; the result is a fresh slice so sibling paths cannot
// alias each other.
func (kp Keypath) Child(segment string) Keypath {
	child := make(Keypath, 0, len(kp)+1)
	child = append(child, kp...)
	return append(child, segment)
}

// Index is Child for a list position.
func (kp Keypath) Index(i int) Keypath {
	return kp.Child(strconv.Itoa(i))
}

// ParseKeypath splits a dotted keypath string into segments. An empty
// string yields the root (empty) keypath.
func ParseKeypath(s string) Keypath {
	if s == "" {
		return Keypath{}
	}
	return Keypath(strings.Split(s, "."))
}

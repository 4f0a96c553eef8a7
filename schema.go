package configtree

import (
	"fmt"
	"sort"
)

// Schema describes the expected shape of a configuration value.
//
// A schema is one of three kinds, selected by Type: "dict" (with
// RequiredKeys, OptionalKeys and optionally ExtraKeysSchema), "list"
// (with ElementSchema), or a leaf type name for which a converter is
// registered ("string", "integer", "float", "boolean", "date",
// "datetime"). The pseudo-type "any" accepts whatever shape the value
// already has.
//
// When Dynamic is set, all other fields are ignored and the schema is
// computed from the raw value at resolution time.
type Schema struct {
	Type string

	// Dict schemas.
	RequiredKeys    map[string]*Schema
	OptionalKeys    map[string]*OptionalKey
	ExtraKeysSchema *Schema

	// List schemas.
	ElementSchema *Schema

	// Nullable permits an explicit null at this position.
	Nullable bool

	// Dynamic computes the schema from the raw value and its keypath.
	Dynamic func(value any, keypath Keypath) (*Schema, error)
}

// OptionalKey is the schema of an optional dictionary key, with an
// optional default used when the key is absent. A default is itself a
// configuration fragment: it is resolved like any other value and may
// contain interpolations or function calls.
type OptionalKey struct {
	Schema     *Schema
	Default    any
	HasDefault bool
}

// Optional wraps s as an optional key without a default.
func Optional(s *Schema) *OptionalKey {
	return &OptionalKey{Schema: s}
}

// OptionalWithDefault wraps s as an optional key whose absence yields
// the given default.
func OptionalWithDefault(s *Schema, dflt any) *OptionalKey {
	return &OptionalKey{Schema: s, Default: dflt, HasDefault: true}
}

// Any returns the permissive schema.
func Any() *Schema { return &Schema{Type: "any"} }

var builtinLeafTypes = map[string]struct{}{
	"string":   {},
	"integer":  {},
	"float":    {},
	"boolean":  {},
	"date":     {},
	"datetime": {},
}

// ValidateSchema checks a schema against the built-in leaf types.
// Resolve performs the same check internally but accepts every type a
// registered converter covers.
func ValidateSchema(s *Schema) error {
	leaves := make(map[string]struct{}, len(builtinLeafTypes))
	for name := range builtinLeafTypes {
		leaves[name] = struct{}{}
	}
	return validateSchema(s, nil, leaves, true)
}

func validateSchema(s *Schema, kp Keypath, leafTypes map[string]struct{}, allowDynamic bool) error {
	if s == nil {
		return &InvalidSchemaError{Reason: "Schema must not be nil.", Keypath: kp}
	}
	if s.Dynamic != nil {
		if !allowDynamic {
			return &InvalidSchemaError{Reason: "Dynamic schemas are not allowed.", Keypath: kp}
		}
		return nil
	}
	if s.Type == "" {
		return &InvalidSchemaError{Reason: "Required key missing.", Keypath: kp.Child("type")}
	}

	switch s.Type {
	case "dict":
		if s.ElementSchema != nil {
			return &InvalidSchemaError{Reason: "Unexpected key.", Keypath: kp.Child("element_schema")}
		}
		for _, key := range sortedKeys(s.RequiredKeys) {
			if err := validateSchema(s.RequiredKeys[key], kp.Child("required_keys").Child(key), leafTypes, allowDynamic); err != nil {
				return err
			}
		}
		for _, key := range sortedKeys(s.OptionalKeys) {
			opt := s.OptionalKeys[key]
			if opt == nil {
				return &InvalidSchemaError{Reason: "Schema must not be nil.", Keypath: kp.Child("optional_keys").Child(key)}
			}
			if err := validateSchema(opt.Schema, kp.Child("optional_keys").Child(key), leafTypes, allowDynamic); err != nil {
				return err
			}
		}
		if s.ExtraKeysSchema != nil {
			if err := validateSchema(s.ExtraKeysSchema, kp.Child("extra_keys_schema"), leafTypes, allowDynamic); err != nil {
				return err
			}
		}
	case "list":
		if s.RequiredKeys != nil || s.OptionalKeys != nil || s.ExtraKeysSchema != nil {
			return &InvalidSchemaError{Reason: "Unexpected key.", Keypath: kp.Child("required_keys")}
		}
		if s.ElementSchema == nil {
			return &InvalidSchemaError{Reason: "Missing key.", Keypath: kp.Child("element_schema")}
		}
		if err := validateSchema(s.ElementSchema, kp.Child("element_schema"), leafTypes, allowDynamic); err != nil {
			return err
		}
	case "any":
		if s.RequiredKeys != nil || s.OptionalKeys != nil || s.ExtraKeysSchema != nil || s.ElementSchema != nil {
			return &InvalidSchemaError{Reason: "Unexpected key.", Keypath: kp}
		}
	default:
		if s.RequiredKeys != nil || s.OptionalKeys != nil || s.ExtraKeysSchema != nil || s.ElementSchema != nil {
			return &InvalidSchemaError{Reason: "Unexpected key.", Keypath: kp}
		}
		if _, ok := leafTypes[s.Type]; !ok {
			return &InvalidSchemaError{Reason: fmt.Sprintf("Invalid type: %s.", s.Type), Keypath: kp.Child("type")}
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}


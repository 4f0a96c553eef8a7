package configtree

import "fmt"

// ParseSchema builds a Schema from its data representation, the shape
// a schema takes when it is stored in a JSON or YAML file:
//
//	{
//	  "type": "dict",
//	  "required_keys": {"host": {"type": "string"}},
//	  "optional_keys": {"port": {"type": "integer", "default": 8080}},
//	}
//
// Leaf schemas are {"type": "<name>"} with an optional "nullable";
// list schemas carry an "element_schema"; dict schemas carry
// "required_keys", "optional_keys" and "extra_keys_schema". A
// "default" may appear only inside an optional key's schema.
//
// ParseSchema checks structure only; type names are validated against
// the registered converters when the schema is used with Resolve.
func ParseSchema(raw any) (*Schema, error) {
	return parseSchema(raw, nil, false)
}

func parseSchema(raw any, kp Keypath, allowDefault bool) (*Schema, error) {
	dct, ok := raw.(map[string]any)
	if !ok {
		return nil, &InvalidSchemaError{Reason: "Schema must be a mapping.", Keypath: kp}
	}

	rawType, ok := dct["type"]
	if !ok {
		return nil, &InvalidSchemaError{Reason: "Required key missing.", Keypath: kp.Child("type")}
	}
	typeName, ok := rawType.(string)
	if !ok {
		return nil, &InvalidSchemaError{Reason: fmt.Sprintf("Invalid type: %v.", rawType), Keypath: kp.Child("type")}
	}

	s := &Schema{Type: typeName}

	allowed := map[string]bool{"type": true, "nullable": true}
	switch typeName {
	case "dict":
		allowed["required_keys"] = true
		allowed["optional_keys"] = true
		allowed["extra_keys_schema"] = true
	case "list":
		allowed["element_schema"] = true
	}
	if allowDefault {
		allowed["default"] = true
	}
	for key := range dct {
		if !allowed[key] {
			return nil, &InvalidSchemaError{Reason: "Unexpected key.", Keypath: kp.Child(key)}
		}
	}

	if rawNullable, present := dct["nullable"]; present {
		nullable, ok := rawNullable.(bool)
		if !ok {
			return nil, &InvalidSchemaError{Reason: "'nullable' must be a boolean.", Keypath: kp.Child("nullable")}
		}
		s.Nullable = nullable
	}

	switch typeName {
	case "dict":
		if rawRequired, present := dct["required_keys"]; present {
			required, ok := rawRequired.(map[string]any)
			if !ok {
				return nil, &InvalidSchemaError{Reason: "Schema must be a mapping.", Keypath: kp.Child("required_keys")}
			}
			s.RequiredKeys = make(map[string]*Schema, len(required))
			for key, child := range required {
				parsed, err := parseSchema(child, kp.Child("required_keys").Child(key), false)
				if err != nil {
					return nil, err
				}
				s.RequiredKeys[key] = parsed
			}
		}
		if rawOptional, present := dct["optional_keys"]; present {
			optional, ok := rawOptional.(map[string]any)
			if !ok {
				return nil, &InvalidSchemaError{Reason: "Schema must be a mapping.", Keypath: kp.Child("optional_keys")}
			}
			s.OptionalKeys = make(map[string]*OptionalKey, len(optional))
			for key, child := range optional {
				childPath := kp.Child("optional_keys").Child(key)
				parsed, err := parseSchema(child, childPath, true)
				if err != nil {
					return nil, err
				}
				opt := &OptionalKey{Schema: parsed}
				if childDict, ok := child.(map[string]any); ok {
					if dflt, present := childDict["default"]; present {
						opt.Default = dflt
						opt.HasDefault = true
					}
				}
				s.OptionalKeys[key] = opt
			}
		}
		if rawExtra, present := dct["extra_keys_schema"]; present {
			parsed, err := parseSchema(rawExtra, kp.Child("extra_keys_schema"), false)
			if err != nil {
				return nil, err
			}
			s.ExtraKeysSchema = parsed
		}
	case "list":
		rawElement, present := dct["element_schema"]
		if !present {
			return nil, &InvalidSchemaError{Reason: "Missing key.", Keypath: kp.Child("element_schema")}
		}
		parsed, err := parseSchema(rawElement, kp.Child("element_schema"), false)
		if err != nil {
			return nil, err
		}
		s.ElementSchema = parsed
	}

	return s, nil
}

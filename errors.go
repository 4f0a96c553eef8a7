package configtree

import "fmt"

// InvalidSchemaError reports a malformed schema: a missing or unknown
// type, keys that the schema type does not allow, a default on a
// required key, or a dynamic schema that failed to produce a schema.
// The keypath points into the schema, not into the configuration.
type InvalidSchemaError struct {
	Reason  string
	Keypath Keypath
}

func (e *InvalidSchemaError) Error() string {
	return fmt.Sprintf("Invalid schema at keypath: %q. %s", e.Keypath.String(), e.Reason)
}

// ResolutionError reports anything that goes wrong while walking or
// evaluating the configuration tree: a missing required key, a
// disallowed extra key, a null in a non-nullable slot, an unknown
// keypath target, an undefined interpolation variable, a malformed
// function call, a converter failure, or a circular reference. Every
// instance carries the keypath of the offending node.
type ResolutionError struct {
	Reason  string
	Keypath Keypath
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("Cannot resolve keypath %q: %s", e.Keypath.String(), e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// newResolutionError builds a ResolutionError with a formatted reason.
func newResolutionError(kp Keypath, format string, args ...any) *ResolutionError {
	return &ResolutionError{Reason: fmt.Sprintf(format, args...), Keypath: kp}
}

// ConversionError is returned by a Converter when a raw value cannot be
// coerced to the converter's type. The resolution engine catches it at
// the leaf boundary and re-wraps it into a ResolutionError carrying the
// leaf's keypath, so converters never need keypath awareness.
type ConversionError struct {
	Reason string
}

func (e *ConversionError) Error() string { return e.Reason }

// newConversionError builds a ConversionError with a formatted reason.
func newConversionError(format string, args ...any) *ConversionError {
	return &ConversionError{Reason: fmt.Sprintf(format, args...)}
}

// wrapAtLeaf converts any error raised during evaluation or conversion
// of a leaf into a ResolutionError at that leaf's keypath. Errors that
// are already ResolutionErrors pass through untouched so the innermost
// keypath wins.
func wrapAtLeaf(err error, kp Keypath) error {
	if err == nil {
		return nil
	}
	if re, ok := err.(*ResolutionError); ok {
		return re
	}
	return &ResolutionError{Reason: err.Error(), Keypath: kp, Err: err}
}

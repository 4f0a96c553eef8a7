package configtree

import (
	"context"
	"fmt"
	"regexp"

	"github.com/zclconf/go-cty/cty/function"
)

// Mode controls how much interpolation and function evaluation happens
// while a subtree is resolved.
type Mode int

const (
	// ModeStandard performs a single pass of ${...} interpolation.
	ModeStandard Mode = iota

	// ModeRaw performs no interpolation and no function-call detection;
	// type conversion still applies.
	ModeRaw

	// ModeFull repeats interpolation until the string no longer changes.
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeFull:
		return "full"
	default:
		return "standard"
	}
}

// Converter coerces a raw (possibly interpolated) value into its final
// typed form. Converters are registered per leaf-type name. They should
// return a ConversionError on bad input; the resolution engine attaches
// the offending keypath.
type Converter func(value any) (any, error)

// Resolver lets a function resolve an arbitrary sub-configuration under
// an arbitrary schema and local-variable set. A nil schema means the
// function's declared output schema.
type Resolver func(cfg any, schema *Schema, localVariables map[string]any) (any, error)

// FunctionArgs holds everything a function receives when it is called
// from a configuration.
type FunctionArgs struct {
	// Input is the value associated with the call's single key. It has
	// been resolved beforehand when the function's ResolveInput is true,
	// and is the raw configuration fragment otherwise.
	Input any

	// Root is a lazy container wrapping the root of the tree.
	Root UnresolvedContainer

	// Keypath locates the call node in the tree.
	Keypath Keypath

	// Schema is the schema the function's output must conform to.
	Schema *Schema

	// Resolve resolves a sub-configuration. See Resolver.
	Resolve Resolver

	// Context carries the caller's context (logging).
	Context context.Context

	// Options is the shared resolution context for the whole call.
	Options *ResolutionOptions

	// Core functions manipulate the tree directly and need the raw
	// nodes. Ordinary functions must use Root and Resolve instead.
	rootNode node
	callNode *funcNode
}

// Function is a callable registered under a name so configurations can
// invoke it with the {"__name__": input} convention. Functions may
// return any configuration value; the result is rebuilt against the
// declared output schema and may itself contain further function calls.
type Function struct {
	Fn           func(args *FunctionArgs) (any, error)
	ResolveInput bool
}

// NewFunction wraps fn as a Function whose input is resolved before the
// call.
func NewFunction(fn func(args *FunctionArgs) (any, error)) Function {
	return Function{Fn: fn, ResolveInput: true}
}

// NewRawFunction wraps fn as a Function that receives its input
// unresolved.
func NewRawFunction(fn func(args *FunctionArgs) (any, error)) Function {
	return Function{Fn: fn, ResolveInput: false}
}

// FunctionSet maps names to functions. Namespaced names are flattened
// with a dot, e.g. "datetime.offset".
type FunctionSet map[string]Function

// Merge returns a new set containing the receiver's functions plus the
// others'. Later sets win on name collisions.
func (fs FunctionSet) Merge(others ...FunctionSet) FunctionSet {
	merged := make(FunctionSet, len(fs))
	for name, fn := range fs {
		merged[name] = fn
	}
	for _, other := range others {
		for name, fn := range other {
			merged[name] = fn
		}
	}
	return merged
}

// Namespaced returns a copy of the set with every name prefixed by
// "prefix.".
func (fs FunctionSet) Namespaced(prefix string) FunctionSet {
	out := make(FunctionSet, len(fs))
	for name, fn := range fs {
		out[prefix+"."+name] = fn
	}
	return out
}

// FunctionCall is a detector's description of a recognized call.
type FunctionCall struct {
	Name  string
	Fn    Function
	Input any
}

// FunctionCallDetector decides whether a configuration dictionary
// represents a function call. It returns nil when the dictionary is an
// ordinary dictionary, and an error when the dictionary looks like a
// call but is malformed.
type FunctionCallDetector func(dct map[string]any, functions FunctionSet) (*FunctionCall, error)

var dunderPattern = regexp.MustCompile(`^__(.+)__$`)

// DefaultFunctionCallDetector recognizes a dictionary with exactly one
// key of the form "__name__" as a call to the registered function
// "name". A dictionary mixing a dunder key with other keys is a
// malformed call.
func DefaultFunctionCallDetector(dct map[string]any, functions FunctionSet) (*FunctionCall, error) {
	var name string
	for key := range dct {
		if m := dunderPattern.FindStringSubmatch(key); m != nil {
			name = m[1]
			break
		}
	}
	if name == "" {
		return nil, nil
	}
	if len(dct) != 1 {
		return nil, fmt.Errorf("Invalid function call.")
	}
	fn, ok := functions[name]
	if !ok {
		return nil, fmt.Errorf("Unknown function: '%s'.", name)
	}
	return &FunctionCall{Name: name, Fn: fn, Input: dct["__"+name+"__"]}, nil
}

// ResolutionOptions travels with every node of a tree: converters,
// functions, globals, filters and the function-call detector. It is
// effectively immutable once a Resolve call starts.
type ResolutionOptions struct {
	Converters      map[string]Converter
	Functions       FunctionSet
	GlobalVariables map[string]any
	Filters         map[string]function.Function
	InjectRootAs    string
	Detector        FunctionCallDetector
	PreserveType    bool

	// evalFuncs is the merged builtin+filter table handed to the
	// expression evaluator, built once per Resolve call.
	evalFuncs map[string]function.Function
}

// leafTypeNames returns the set of leaf-type names this options value
// can convert, used when validating schemas.
func (o *ResolutionOptions) leafTypeNames() map[string]struct{} {
	names := make(map[string]struct{}, len(o.Converters))
	for name := range o.Converters {
		names[name] = struct{}{}
	}
	return names
}

// Option configures a Resolve call.
type Option func(*ResolutionOptions)

// WithConverters replaces the default converter set entirely.
func WithConverters(converters map[string]Converter) Option {
	return func(o *ResolutionOptions) { o.Converters = converters }
}

// WithConverter adds or overrides a single converter.
func WithConverter(name string, c Converter) Option {
	return func(o *ResolutionOptions) {
		merged := make(map[string]Converter, len(o.Converters)+1)
		for k, v := range o.Converters {
			merged[k] = v
		}
		merged[name] = c
		o.Converters = merged
	}
}

// WithFunctions replaces the default function set (the core functions).
func WithFunctions(functions FunctionSet) Option {
	return func(o *ResolutionOptions) { o.Functions = functions }
}

// WithGlobalVariables supplies variables available to every string
// interpolation as the final lookup tier before evaluator builtins.
func WithGlobalVariables(globals map[string]any) Option {
	return func(o *ResolutionOptions) { o.GlobalVariables = globals }
}

// WithFilters registers named evaluator functions, overriding builtins
// of the same name.
func WithFilters(filters map[string]function.Function) Option {
	return func(o *ResolutionOptions) { o.Filters = filters }
}

// WithInjectRootAs binds the whole root container to a variable name.
func WithInjectRootAs(name string) Option {
	return func(o *ResolutionOptions) { o.InjectRootAs = name }
}

// WithFunctionCallDetector replaces the default call detector.
func WithFunctionCallDetector(d FunctionCallDetector) Option {
	return func(o *ResolutionOptions) { o.Detector = d }
}

// WithoutFunctionCalls disables function-call recognition entirely;
// dictionaries with dunder keys are treated as plain dictionaries.
func WithoutFunctionCalls() Option {
	return func(o *ResolutionOptions) { o.Detector = nil }
}

// WithPreserveType makes Resolve write the resolved values back into a
// deep copy of the input, preserving the caller's concrete container
// types.
func WithPreserveType() Option {
	return func(o *ResolutionOptions) { o.PreserveType = true }
}

package configtree

import (
	"fmt"
	"sort"
	"time"

	"github.com/itchyny/timefmt-go"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// valueToCty converts a resolved configuration value into a cty value
// for the expression evaluator. Dates and datetimes cross the boundary
// as ISO strings so that equality comparisons behave naturally.
func valueToCty(v any) (cty.Value, error) {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case bool:
		return cty.BoolVal(t), nil
	case string:
		return cty.StringVal(t), nil
	case int:
		return cty.NumberIntVal(int64(t)), nil
	case int64:
		return cty.NumberIntVal(t), nil
	case float64:
		return cty.NumberFloatVal(t), nil
	case time.Time:
		return cty.StringVal(formatTemporal(t)), nil
	case map[string]any:
		if len(t) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(t))
		for key, value := range t {
			cv, err := valueToCty(value)
			if err != nil {
				return cty.NilVal, err
			}
			attrs[key] = cv
		}
		return cty.ObjectVal(attrs), nil
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(t))
		for i, value := range t {
			cv, err := valueToCty(value)
			if err != nil {
				return cty.NilVal, err
			}
			elems[i] = cv
		}
		return cty.TupleVal(elems), nil
	default:
		typ, err := gocty.ImpliedType(v)
		if err != nil {
			return cty.NilVal, fmt.Errorf("cannot use value of type %T in an expression", v)
		}
		return gocty.ToCtyValue(v, typ)
	}
}

// formatTemporal renders a time the way its string form is expected in
// templates: midnight-exact values as a bare date, everything else as
// a space-separated datetime.
func formatTemporal(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return timefmt.Format(t, "%Y-%m-%d")
	}
	return timefmt.Format(t, "%Y-%m-%d %H:%M:%S")
}

// scopeEntry assembles the cty variable tree for one evaluation. Each
// traversal contributes its endpoint value at its full path; shared
// prefixes merge into nested objects and tuples.
type scopeEntry struct {
	value    cty.Value
	hasValue bool
	attrs    map[string]*scopeEntry
	elems    map[int]*scopeEntry
}

func (e *scopeEntry) attr(name string) *scopeEntry {
	if e.attrs == nil {
		e.attrs = make(map[string]*scopeEntry)
	}
	if e.attrs[name] == nil {
		e.attrs[name] = &scopeEntry{}
	}
	return e.attrs[name]
}

func (e *scopeEntry) elem(i int) *scopeEntry {
	if e.elems == nil {
		e.elems = make(map[int]*scopeEntry)
	}
	if e.elems[i] == nil {
		e.elems[i] = &scopeEntry{}
	}
	return e.elems[i]
}

// toCty collapses the entry to a cty value. A whole-container value
// recorded at this entry wins over per-path children, since it already
// contains them.
func (e *scopeEntry) toCty() cty.Value {
	if e.hasValue {
		return e.value
	}
	if len(e.elems) > 0 {
		max := 0
		for i := range e.elems {
			if i > max {
				max = i
			}
		}
		elems := make([]cty.Value, max+1)
		for i := range elems {
			if child, ok := e.elems[i]; ok {
				elems[i] = child.toCty()
			} else {
				elems[i] = cty.NullVal(cty.DynamicPseudoType)
			}
		}
		return cty.TupleVal(elems)
	}
	if len(e.attrs) > 0 {
		attrs := make(map[string]cty.Value, len(e.attrs))
		names := make([]string, 0, len(e.attrs))
		for name := range e.attrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			attrs[name] = e.attrs[name].toCty()
		}
		return cty.ObjectVal(attrs)
	}
	return cty.NullVal(cty.DynamicPseudoType)
}

package configtree

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/itchyny/timefmt-go"
	"github.com/zclconf/go-cty/cty"
)

// DefaultConverters returns the converter table for the built-in leaf
// types. The numeric and boolean converters accept small arithmetic
// and logic expressions, and the temporal converters accept relative
// phrases like "3 days after 2021-10-01" on top of ISO formats.
func DefaultConverters() map[string]Converter {
	return map[string]Converter{
		"string":   stringConverter,
		"integer":  arithmeticConverter("integer"),
		"float":    arithmeticConverter("float"),
		"boolean":  logicConverter,
		"date":     smartDateConverter,
		"datetime": smartDatetimeConverter,
	}
}

func stringConverter(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case time.Time:
		return formatTemporal(v), nil
	default:
		return nil, newConversionError("Cannot convert type %T to string.", value)
	}
}

// arithmeticConverter builds the integer or float converter. String
// input may be a full arithmetic expression; integer results of
// fractional expressions truncate toward zero.
func arithmeticConverter(typeName string) Converter {
	isInteger := typeName == "integer"
	return func(value any) (any, error) {
		switch v := value.(type) {
		case int:
			if isInteger {
				return v, nil
			}
			return float64(v), nil
		case int64:
			if isInteger {
				return int(v), nil
			}
			return float64(v), nil
		case float64:
			if isInteger {
				return nil, newConversionError("Cannot implicitly convert float %v into integer.", v)
			}
			return v, nil
		case string:
			number, err := evalNumericExpression(v)
			if err != nil {
				return nil, newConversionError("Cannot parse into %s: '%s'.", typeName, v)
			}
			if isInteger {
				i, _ := number.AsBigFloat().Int64()
				return int(i), nil
			}
			f, _ := number.AsBigFloat().Float64()
			return f, nil
		default:
			return nil, newConversionError("Cannot parse into %s: '%v'.", typeName, value)
		}
	}
}

// evalNumericExpression evaluates an arithmetic expression such as
// "(7 + 3) / 5" and returns the resulting number.
func evalNumericExpression(s string) (cty.Value, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(s), "<value>", hcl.InitialPos)
	if diags.HasErrors() {
		return cty.NilVal, diagError(diags)
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, diagError(diags)
	}
	if val.Type() != cty.Number || val.IsNull() {
		return cty.NilVal, fmt.Errorf("not a number")
	}
	return val, nil
}

var logicWordPattern = regexp.MustCompile(`\b(True|False|and|or|not)\b`)

var logicWordReplacements = map[string]string{
	"True":  "true",
	"False": "false",
	"and":   "&&",
	"or":    "||",
	"not":   "!",
}

// logicConverter coerces booleans. String input may be a logic
// expression such as "true and (false or true)"; the spelled-out
// operators and capitalized literals are normalized first.
func logicConverter(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		normalized := logicWordPattern.ReplaceAllStringFunc(v, func(word string) string {
			return logicWordReplacements[word]
		})
		expr, diags := hclsyntax.ParseExpression([]byte(normalized), "<value>", hcl.InitialPos)
		if diags.HasErrors() {
			return nil, newConversionError("Cannot parse into bool: '%s'.", v)
		}
		val, diags := expr.Value(nil)
		if diags.HasErrors() || val.Type() != cty.Bool || val.IsNull() {
			return nil, newConversionError("Cannot parse into bool: '%s'.", v)
		}
		return val.True(), nil
	default:
		return nil, newConversionError("Cannot convert type %T to bool.", value)
	}
}

var temporalLayouts = []string{
	"%Y-%m-%d %H:%M:%S",
	"%Y-%m-%dT%H:%M:%S",
	"%Y-%m-%d",
}

// parseTemporal parses an ISO date or datetime string.
func parseTemporal(s string) (time.Time, error) {
	for _, layout := range temporalLayouts {
		if t, err := timefmt.Parse(s, layout); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date or datetime", s)
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

var (
	relativeDaysPattern  = regexp.MustCompile(`^(\d+) day(?:s)? (before|after) (.+)$`)
	relativeHoursPattern = regexp.MustCompile(`^(\d+) hour(?:s)? (before|after) (.+)$`)
	firstWeekdayPattern  = regexp.MustCompile(`(?i)^first (monday|tuesday|wednesday|thursday|friday|saturday|sunday) (before|after) (.+)$`)
	atTimePattern        = regexp.MustCompile(`^(.+) at (\d{2}):(\d{2}):(\d{2})$`)
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// smartDateConverter accepts dates, datetimes (truncated), ISO strings
// and relative phrases: "N day(s) before|after <date>" and
// "first <weekday> before|after <date>".
func smartDateConverter(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return truncateToDate(v), nil
	case string:
		t, err := parseDateString(strings.TrimSpace(v))
		if err != nil {
			return nil, newConversionError("Cannot parse into date: '%s'.", v)
		}
		return t, nil
	default:
		return nil, newConversionError("Cannot parse into date: '%v'.", value)
	}
}

func parseDateString(s string) (time.Time, error) {
	if t, err := parseTemporal(s); err == nil {
		return truncateToDate(t), nil
	}
	if m := relativeDaysPattern.FindStringSubmatch(s); m != nil {
		base, err := parseDateString(m[3])
		if err != nil {
			return time.Time{}, err
		}
		days, _ := strconv.Atoi(m[1])
		if m[2] == "before" {
			days = -days
		}
		return base.AddDate(0, 0, days), nil
	}
	if m := firstWeekdayPattern.FindStringSubmatch(s); m != nil {
		base, err := parseDateString(m[3])
		if err != nil {
			return time.Time{}, err
		}
		return firstWeekday(base, weekdays[strings.ToLower(m[1])], m[2] == "after"), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date", s)
}

// firstWeekday finds the nearest date with the given weekday strictly
// before or after base.
func firstWeekday(base time.Time, target time.Weekday, after bool) time.Time {
	step := -1
	if after {
		step = 1
	}
	t := base.AddDate(0, 0, step)
	for t.Weekday() != target {
		t = t.AddDate(0, 0, step)
	}
	return t
}

// smartDatetimeConverter accepts datetimes, ISO strings and relative
// phrases, including an "<date phrase> at HH:MM:SS" form.
func smartDatetimeConverter(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := parseDatetimeString(strings.TrimSpace(v))
		if err != nil {
			return nil, newConversionError("Cannot parse into datetime: '%s'.", v)
		}
		return t, nil
	default:
		return nil, newConversionError("Cannot parse into datetime: '%v'.", value)
	}
}

func parseDatetimeString(s string) (time.Time, error) {
	if t, err := parseTemporal(s); err == nil {
		return t, nil
	}
	if m := relativeHoursPattern.FindStringSubmatch(s); m != nil {
		base, err := parseDatetimeString(m[3])
		if err != nil {
			return time.Time{}, err
		}
		hours, _ := strconv.Atoi(m[1])
		if m[2] == "before" {
			hours = -hours
		}
		return base.Add(time.Duration(hours) * time.Hour), nil
	}
	if m := relativeDaysPattern.FindStringSubmatch(s); m != nil {
		base, err := parseDatetimeString(m[3])
		if err != nil {
			return time.Time{}, err
		}
		days, _ := strconv.Atoi(m[1])
		if m[2] == "before" {
			days = -days
		}
		return base.AddDate(0, 0, days), nil
	}
	if m := firstWeekdayPattern.FindStringSubmatch(s); m != nil {
		base, err := parseDatetimeString(m[3])
		if err != nil {
			return time.Time{}, err
		}
		return firstWeekday(base, weekdays[strings.ToLower(m[1])], m[2] == "after"), nil
	}
	if m := atTimePattern.FindStringSubmatch(s); m != nil {
		base, err := parseDateString(m[1])
		if err != nil {
			return time.Time{}, err
		}
		hour, _ := strconv.Atoi(m[2])
		minute, _ := strconv.Atoi(m[3])
		second, _ := strconv.Atoi(m[4])
		return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, second, 0, base.Location()), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a datetime", s)
}

package stdfuncs

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/itchyny/timefmt-go"

	"github.com/vk/configtree"
)

// Datetime returns the datetime function group: at, first, offset and
// parse.
func Datetime() configtree.FunctionSet {
	return configtree.FunctionSet{
		"at":     configtree.NewFunction(datetimeAt),
		"first":  configtree.NewFunction(datetimeFirst),
		"offset": configtree.NewFunction(datetimeOffset),
		"parse":  configtree.NewFunction(datetimeParse),
	}
}

var datetimeLayouts = []string{
	"%Y-%m-%d %H:%M:%S",
	"%Y-%m-%dT%H:%M:%S",
	"%Y-%m-%d",
}

// readDatetime reads a reference point from a string or a time value.
func readDatetime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range datetimeLayouts {
			if t, err := timefmt.Parse(v, layout); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("Invalid date: '%s'.", v)
	default:
		return time.Time{}, fmt.Errorf(
			"Invalid date: expected a string or date/datetime object, got %T.", value)
	}
}

var validOffsetUnits = []string{"days", "hours", "minutes", "seconds", "weeks"}

var offsetPartPattern = regexp.MustCompile(`^(\d+)\s+(week|day|hour|minute|second)s?$`)

func unitDuration(unit string) time.Duration {
	switch unit {
	case "weeks":
		return 7 * 24 * time.Hour
	case "days":
		return 24 * time.Hour
	case "hours":
		return time.Hour
	case "minutes":
		return time.Minute
	default:
		return time.Second
	}
}

// readOffset reads an offset from a string like "1 week, 2 days" or a
// dictionary like {"weeks": 1, "days": 2}.
func readOffset(value any) (time.Duration, error) {
	switch v := value.(type) {
	case map[string]any:
		var unknown []string
		for unit := range v {
			if !slices.Contains(validOffsetUnits, unit) {
				unknown = append(unknown, unit)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return 0, fmt.Errorf(
				"Unknown unit(s) in 'by': %s. Valid units are: %s.",
				strings.Join(unknown, ", "), strings.Join(validOffsetUnits, ", "))
		}
		var total time.Duration
		for unit, amount := range v {
			n, ok := asInt(amount)
			if !ok {
				return 0, fmt.Errorf(
					"Offset values must be integers, got %T for '%s'.", amount, unit)
			}
			total += time.Duration(n) * unitDuration(unit)
		}
		return total, nil
	case string:
		var total time.Duration
		for _, part := range strings.Split(v, ",") {
			m := offsetPartPattern.FindStringSubmatch(strings.TrimSpace(part))
			if m == nil {
				return 0, fmt.Errorf("Cannot parse offset: '%s'.", v)
			}
			amount, _ := strconv.Atoi(m[1])
			total += time.Duration(amount) * unitDuration(m[2]+"s")
		}
		return total, nil
	default:
		return 0, fmt.Errorf("'by' must be a string or dictionary, got %T.", value)
	}
}

/// asInt accepts the integer shapes decoders produce: int, int64, and
// whole float64 values (encoding/json decodes all numbers as float64).
func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
		return 0, false
	default:
		return 0, false
	}
}

var weekdayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

func dayOfTheWeek(value any) (time.Weekday, error) {
	s, ok := value.(string)
	if !ok {
		return 0, fmt.Errorf("Expected a day name string, got %T.", value)
	}
	day, ok := weekdayNames[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("Invalid day of week: '%s'.", s)
	}
	return day, nil
}

// parseWeekdays accepts day names separated by commas, spaces or the
// word "or".
func parseWeekdays(raw string) (map[time.Weekday]bool, error) {
	normalized := strings.ReplaceAll(raw, ",", " ")
	normalized = strings.ReplaceAll(normalized, " or ", " ")
	out := make(map[time.Weekday]bool)
	for _, part := range strings.Fields(normalized) {
		day, err := dayOfTheWeek(part)
		if err != nil {
			return nil, err
		}
		out[day] = true
	}
	return out, nil
}

// maxSkipRetries guarantees that at least a full year of candidates is
// tried before giving up.
const maxSkipRetries = 366

func readSkipDates(value any) (map[string]bool, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, errors.New("'skip' must be a list of dates.")
	}
	out := make(map[string]bool, len(list))
	for _, item := range list {
		t, err := readDatetime(item)
		if err != nil {
			return nil, err
		}
		out[timefmt.Format(t, "%Y-%m-%d")] = true
	}
	return out, nil
}

func skipExcluded(result time.Time, skip map[string]bool, next func(time.Time) time.Time) (time.Time, error) {
	retries := 0
	for skip[timefmt.Format(result, "%Y-%m-%d")] {
		result = next(result)
		retries++
		if retries > maxSkipRetries {
			return time.Time{}, errors.New(
				"Could not find a valid date: all candidates are excluded.")
		}
	}
	return result, nil
}

// findFirstWeekday finds the first matching weekday strictly before or
// after the reference, preserving the reference's time of day.
func findFirstWeekday(reference time.Time, weekdays map[time.Weekday]bool, before bool) time.Time {
	step := 1
	if before {
		step = -1
	}
	cursor := reference.AddDate(0, 0, step)
	for !weekdays[cursor.Weekday()] {
		cursor = cursor.AddDate(0, 0, step)
	}
	return cursor
}

var timeOfDayPattern = regexp.MustCompile(`(?i) at (\d{2}):(\d{2})(?::(\d{2}))?$`)

// datetimeAt combines a date with a time of day.
func datetimeAt(args *configtree.FunctionArgs) (any, error) {
	input, ok := args.Input.(map[string]any)
	if !ok {
		return nil, errors.New("Input to 'at' must be a dictionary.")
	}
	if _, present := input["date"]; !present {
		return nil, errors.New("Input to 'at' must contain 'date'.")
	}
	if _, present := input["time"]; !present {
		return nil, errors.New("Input to 'at' must contain 'time'.")
	}

	reference, err := readDatetime(input["date"])
	if err != nil {
		return nil, err
	}
	rawTime, ok := input["time"].(string)
	if !ok {
		return nil, fmt.Errorf("'time' must be a string, got %T.", input["time"])
	}
	hour, minute, second, ok := parseTimeOfDay(rawTime)
	if !ok {
		return nil, fmt.Errorf("Invalid time: '%s'.", rawTime)
	}
	return time.Date(reference.Year(), reference.Month(), reference.Day(),
		hour, minute, second, 0, reference.Location()), nil
}

func parseTimeOfDay(s string) (hour, minute, second int, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, 0, false
	}
	numbers := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || len(part) != 2 {
			return 0, 0, 0, false
		}
		numbers[i] = n
	}
	if numbers[0] > 23 || numbers[1] > 59 || numbers[2] > 59 {
		return 0, 0, 0, false
	}
	return numbers[0], numbers[1], numbers[2], true
}

// datetimeOffset shifts a reference date by an offset, optionally
// skipping excluded dates day by day.
func datetimeOffset(args *configtree.FunctionArgs) (any, error) {
	input, ok := args.Input.(map[string]any)
	if !ok {
		return nil, errors.New("Input to 'offset' must be a dictionary.")
	}

	_, hasBefore := input["before"]
	_, hasAfter := input["after"]
	if !hasBefore && !hasAfter {
		return nil, errors.New("Input to 'offset' must contain either 'before' or 'after'.")
	}
	if hasBefore && hasAfter {
		return nil, errors.New("Input to 'offset' must not contain both 'before' and 'after'.")
	}
	if _, present := input["by"]; !present {
		return nil, errors.New("Input to 'offset' must contain 'by'.")
	}

	var skip map[string]bool
	if rawSkip, present := input["skip"]; present {
		var err error
		if skip, err = readSkipDates(rawSkip); err != nil {
			return nil, err
		}
	}

	directionKey := "after"
	if hasBefore {
		directionKey = "before"
	}
	reference, err := readDatetime(input[directionKey])
	if err != nil {
		return nil, err
	}
	delta, err := readOffset(input["by"])
	if err != nil {
		return nil, err
	}

	result := reference.Add(delta)
	if hasBefore {
		result = reference.Add(-delta)
	}

	if len(skip) > 0 {
		step := 1
		if hasBefore {
			step = -1
		}
		result, err = skipExcluded(result, skip, func(t time.Time) time.Time {
			return t.AddDate(0, 0, step)
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// datetimeFirst finds the first occurrence of a weekday before or
// after a reference date.
func datetimeFirst(args *configtree.FunctionArgs) (any, error) {
	input, ok := args.Input.(map[string]any)
	if !ok {
		return nil, errors.New("Input to 'first' must be a dictionary.")
	}
	if _, present := input["weekday"]; !present {
		return nil, errors.New("Input to 'first' must contain 'weekday'.")
	}

	_, hasBefore := input["before"]
	_, hasAfter := input["after"]
	if !hasBefore && !hasAfter {
		return nil, errors.New("Input to 'first' must contain either 'before' or 'after'.")
	}
	if hasBefore && hasAfter {
		return nil, errors.New("Input to 'first' must not contain both 'before' and 'after'.")
	}

	var weekdays map[time.Weekday]bool
	switch raw := input["weekday"].(type) {
	case string:
		var err error
		if weekdays, err = parseWeekdays(raw); err != nil {
			return nil, err
		}
	case []any:
		weekdays = make(map[time.Weekday]bool, len(raw))
		for _, item := range raw {
			day, err := dayOfTheWeek(item)
			if err != nil {
				return nil, err
			}
			weekdays[day] = true
		}
	default:
		return nil, errors.New("The 'weekday' key must be a string or list of strings.")
	}

	var skip map[string]bool
	if rawSkip, present := input["skip"]; present {
		var err error
		if skip, err = readSkipDates(rawSkip); err != nil {
			return nil, err
		}
	}

	directionKey := "after"
	if hasBefore {
		directionKey = "before"
	}
	reference, err := readDatetime(input[directionKey])
	if err != nil {
		return nil, err
	}

	result := findFirstWeekday(reference, weekdays, hasBefore)
	if len(skip) > 0 {
		result, err = skipExcluded(result, skip, func(t time.Time) time.Time {
			return findFirstWeekday(t, weekdays, hasBefore)
		})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

var (
	firstWeekdayPhrase = regexp.MustCompile(`(?i)^first\s+(.+?)\s+(after|before)\s+(.+)$`)
	offsetPhrase       = regexp.MustCompile(`(?i)^(.+?)\s+(after|before)\s+(.+)$`)
)

// datetimeParse parses a natural language date phrase: an ISO date or
// datetime, "<offset> after|before <reference>", or
// "first <weekdays> after|before <reference>", each optionally ending
// with "at HH:MM:SS".
func datetimeParse(args *configtree.FunctionArgs) (any, error) {
	input, ok := args.Input.(string)
	if !ok {
		return nil, errors.New("Input to 'parse' must be a string.")
	}

	phrase := input
	timeOverride := timeOfDayPattern.FindStringSubmatch(phrase)
	if timeOverride != nil {
		phrase = timeOfDayPattern.ReplaceAllString(phrase, "")
	}

	result, ok := tryParsePhrase(phrase)
	if !ok {
		return nil, fmt.Errorf("Cannot parse date: '%s'.", input)
	}

	if timeOverride != nil {
		hour, _ := strconv.Atoi(timeOverride[1])
		minute, _ := strconv.Atoi(timeOverride[2])
		second := 0
		if timeOverride[3] != "" {
			second, _ = strconv.Atoi(timeOverride[3])
		}
		result = time.Date(result.Year(), result.Month(), result.Day(),
			hour, minute, second, 0, result.Location())
	}
	return result, nil
}

func tryParsePhrase(phrase string) (time.Time, bool) {
	phrase = strings.TrimSpace(phrase)

	if m := firstWeekdayPhrase.FindStringSubmatch(phrase); m != nil {
		weekdays, err := parseWeekdays(m[1])
		if err == nil {
			if reference, rerr := readDatetime(strings.TrimSpace(m[3])); rerr == nil {
				return findFirstWeekday(reference, weekdays, strings.EqualFold(m[2], "before")), true
			}
		}
	}
	if m := offsetPhrase.FindStringSubmatch(phrase); m != nil {
		delta, err := readOffset(strings.TrimSpace(m[1]))
		if err == nil {
			if reference, rerr := readDatetime(strings.TrimSpace(m[3])); rerr == nil {
				if strings.EqualFold(m[2], "before") {
					return reference.Add(-delta), true
				}
				return reference.Add(delta), true
			}
		}
	}
	if t, err := readDatetime(phrase); err == nil {
		return t, true
	}
	return time.Time{}, false
}

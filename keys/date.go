package keys

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnsupportedDate is returned for values FormatDateKey cannot interpret.
var ErrUnsupportedDate = errors.New("keys: unsupported date value")

const (
	dateKeyLayout = "20060102150405"
	dayKeyLayout  = "20060102"

	// Integers in this range are read as YYYYMMDD, anything else as epoch millis.
	minDayNumber = 19000101
	maxDayNumber = 29991231
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// FormatDateKey normalizes v to YYYYMMDDHHMMSS in UTC.
//
// Accepted: time.Time, *time.Time, epoch milliseconds (integers, floats or
// numeric strings), YYYYMMDD integers or strings, YYYYMMDDHHMMSS strings and
// ISO 8601 strings. Values without a zone are read as UTC.
func FormatDateKey(v any) (string, error) {
	return FormatDateKeyIn(v, time.UTC)
}

// FormatDateKeyIn is FormatDateKey with an explicit location. Zone-less
// inputs are read in loc and the result is rendered in loc.
func FormatDateKeyIn(v any, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := toTime(v, loc)
	if err != nil {
		return "", err
	}
	return timeKey(t, loc), nil
}

// DayKey returns the YYYYMMDD prefix of FormatDateKey(v).
func DayKey(v any) (string, error) {
	k, err := FormatDateKey(v)
	if err != nil {
		return "", err
	}
	return k[:len(dayKeyLayout)], nil
}

// ParseDateKey reads a YYYYMMDD or YYYYMMDDHHMMSS key back into a UTC time.
func ParseDateKey(s string) (time.Time, error) {
	switch len(s) {
	case len(dayKeyLayout):
		return time.ParseInLocation(dayKeyLayout, s, time.UTC)
	case len(dateKeyLayout):
		return time.ParseInLocation(dateKeyLayout, s, time.UTC)
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupportedDate, s)
}

func timeKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateKeyLayout)
}

func toTime(v any, loc *time.Location) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("%w: nil", ErrUnsupportedDate)
	case time.Time:
		return x, nil
	case *time.Time:
		if x == nil {
			return time.Time{}, fmt.Errorf("%w: nil", ErrUnsupportedDate)
		}
		return *x, nil
	case int:
		return fromInt(int64(x), loc), nil
	case int32:
		return fromInt(int64(x), loc), nil
	case int64:
		return fromInt(x, loc), nil
	case uint32:
		return fromInt(int64(x), loc), nil
	case uint64:
		if x > math.MaxInt64 {
			return time.Time{}, fmt.Errorf("%w: %d", ErrUnsupportedDate, x)
		}
		return fromInt(int64(x), loc), nil
	case float64:
		return fromFloat(x, loc)
	case float32:
		return fromFloat(float64(x), loc)
	case string:
		return fromString(x, loc)
	}
	return time.Time{}, fmt.Errorf("%w: %T", ErrUnsupportedDate, v)
}

func fromFloat(f float64, loc *time.Location) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return time.Time{}, fmt.Errorf("%w: %v", ErrUnsupportedDate, f)
	}
	return fromInt(int64(f), loc), nil
}

func fromInt(n int64, loc *time.Location) time.Time {
	if t, ok := dayNumber(n, loc); ok {
		return t
	}
	return time.UnixMilli(n)
}

// dayNumber reads n as YYYYMMDD if it is a real calendar day.
func dayNumber(n int64, loc *time.Location) (time.Time, bool) {
	if n < minDayNumber || n > maxDayNumber {
		return time.Time{}, false
	}
	y, m, d := int(n/10000), time.Month(n/100%100), int(n%100)
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if t.Year() != y || t.Month() != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func fromString(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrUnsupportedDate)
	}
	if allDigits(s) {
		switch len(s) {
		case len(dayKeyLayout):
			if t, err := time.ParseInLocation(dayKeyLayout, s, loc); err == nil {
				return t, nil
			}
		case len(dateKeyLayout):
			if t, err := time.ParseInLocation(dateKeyLayout, s, loc); err == nil {
				return t, nil
			}
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupportedDate, s)
		}
		return time.UnixMilli(n), nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnsupportedDate, s)
}

func allDigits(s string) bool {
	start := 0
	if s[0] == '-' {
		start = 1
	}
	if start == len(s) {
		return false
	}
	for i := start; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

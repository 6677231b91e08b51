// Package keys builds cache keys and the normalized segments that go into them.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const (
	// Sep separates key segments.
	Sep = ":"
	// Wildcard matches any single segment (and more) in a SCAN pattern.
	Wildcard = "*"

	DefaultDigestLen = 16
	maxDigestLen     = sha256.Size * 2
)

// Generate joins entity, operation and the non-nil params with ':'.
// Nil params (including typed nil pointers) are omitted, never rendered.
// Time values render as FormatDateKey.
func Generate(entity, operation string, params ...any) string {
	var b strings.Builder
	b.Grow(len(entity) + len(operation) + 1 + len(params)*8)
	b.WriteString(entity)
	b.WriteString(Sep)
	b.WriteString(operation)
	for _, p := range params {
		s, ok := Segment(p)
		if !ok {
			continue
		}
		b.WriteString(Sep)
		b.WriteString(s)
	}
	return b.String()
}

// Segment renders one key parameter. ok is false for nil values.
func Segment(v any) (string, bool) {
	if isNil(v) {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case bool:
		return strconv.FormatBool(x), true
	case time.Time:
		return timeKey(x, time.UTC), true
	case *time.Time:
		return timeKey(*x, time.UTC), true
	case fmt.Stringer:
		return x.String(), true
	}
	// Dereference other pointers so *int64 renders as the number.
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		return Segment(rv.Elem().Interface())
	}
	return fmt.Sprint(v), true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Digest returns the first length hex chars of sha256(lower(trim(input))).
// length <= 0 means DefaultDigestLen; it is capped at 64.
func Digest(input string, length int) string {
	if length <= 0 {
		length = DefaultDigestLen
	}
	if length > maxDigestLen {
		length = maxDigestLen
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(input))))
	return hex.EncodeToString(sum[:])[:length]
}

// DigestOf digests the JSON rendering of v. Map keys are sorted by
// encoding/json, so equal filters give equal digests.
func DigestOf(v any) string {
	if s, ok := v.(string); ok {
		return Digest(s, DefaultDigestLen)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Digest(fmt.Sprintf("%#v", v), DefaultDigestLen)
	}
	return Digest(string(b), DefaultDigestLen)
}

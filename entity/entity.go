// Package entity declares the cached entity types of the delivery backend and
// the positional shape of every key the read path produces for them.
//
// The shapes are the single source of truth for key arity: producers build
// keys with Key, and the invalidation engine derives its patterns from the
// same shapes, so the two cannot drift apart.
//
// Keys:
//
//	<type>:<operation>:<tenant>:<segment>...
//
// Every shape starts with the tenant segment.
package entity

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/unkn0wn-root/cachegraph/keys"
)

// Type names a category of cached data.
type Type string

const (
	Order          Type = "order"
	OrderPerson    Type = "order_person"
	Attachment     Type = "attachment"
	ScheduleGrid   Type = "schedule_grid"
	Customer       Type = "customer"
	Vehicle        Type = "vehicle"
	Handler        Type = "handler"
	Telemetry      Type = "telemetry"
	TenantSettings Type = "tenant_settings"
	User           Type = "user"
	Statistics     Type = "statistics"
)

// Field names a positional key segment.
type Field string

const (
	FieldTenant     Field = "tenant"
	FieldOrder      Field = "order"
	FieldDate       Field = "date"
	FieldHandler    Field = "handler"
	FieldPerson     Field = "person"
	FieldAttachment Field = "attachment"
	FieldCustomer   Field = "customer"
	FieldVehicle    Field = "vehicle"
	FieldUser       Field = "user"
	// FieldDigest holds a keys.Digest of free-form input (filters, view options).
	// It is never known at invalidation time.
	FieldDigest Field = "digest"
)

// Shape is the fixed segment layout of one (type, operation) pair.
type Shape struct {
	Operation string
	Segments  []Field
}

// Has reports whether the shape carries f at least once.
func (s Shape) Has(f Field) bool {
	for _, seg := range s.Segments {
		if seg == f {
			return true
		}
	}
	return false
}

// Positions returns every index at which f occurs.
func (s Shape) Positions(f Field) []int {
	var out []int
	for i, seg := range s.Segments {
		if seg == f {
			out = append(out, i)
		}
	}
	return out
}

// Schema ties a type to its shapes and its specificity tiers. Tiers are
// ordered from narrowest to widest; the tenant tier and the open tier are
// implicit and always come last.
type Schema struct {
	Type   Type
	Shapes []Shape
	Tiers  [][]Field
}

// Shape returns the shape registered for op.
func (s Schema) Shape(op string) (Shape, bool) {
	for _, sh := range s.Shapes {
		if sh.Operation == op {
			return sh, true
		}
	}
	return Shape{}, false
}

func shape(op string, segs ...Field) Shape {
	return Shape{Operation: op, Segments: append([]Field{FieldTenant}, segs...)}
}

func tiers(t ...[]Field) [][]Field { return t }

func fields(f ...Field) []Field { return f }

var registry = map[Type]Schema{
	Order: {
		Type: Order,
		Shapes: []Shape{
			shape("detail", FieldOrder),
			shape("list", FieldDate, FieldHandler, FieldDigest),
		},
		Tiers: tiers(
			fields(FieldOrder),
			fields(FieldDate, FieldHandler),
			fields(FieldDate),
			fields(FieldHandler),
		),
	},
	OrderPerson: {
		Type: OrderPerson,
		Shapes: []Shape{
			shape("by_order", FieldOrder),
			shape("by_person", FieldPerson),
		},
		Tiers: tiers(fields(FieldOrder), fields(FieldPerson)),
	},
	Attachment: {
		Type: Attachment,
		Shapes: []Shape{
			shape("by_order", FieldOrder),
			shape("detail", FieldAttachment),
		},
		Tiers: tiers(fields(FieldAttachment), fields(FieldOrder)),
	},
	ScheduleGrid: {
		Type: ScheduleGrid,
		Shapes: []Shape{
			shape("day", FieldDate, FieldDigest),
			shape("range", FieldDate, FieldDate, FieldDigest),
		},
		Tiers: tiers(fields(FieldDate)),
	},
	Customer: {
		Type: Customer,
		Shapes: []Shape{
			shape("detail", FieldCustomer),
			shape("list", FieldDigest),
		},
		Tiers: tiers(fields(FieldCustomer)),
	},
	Vehicle: {
		Type: Vehicle,
		Shapes: []Shape{
			shape("detail", FieldVehicle),
			shape("list", FieldDigest),
		},
		Tiers: tiers(fields(FieldVehicle)),
	},
	Handler: {
		Type: Handler,
		Shapes: []Shape{
			shape("detail", FieldHandler),
			shape("list", FieldDigest),
			shape("schedule", FieldHandler, FieldDate),
		},
		Tiers: tiers(fields(FieldHandler, FieldDate), fields(FieldHandler)),
	},
	Telemetry: {
		Type:   Telemetry,
		Shapes: []Shape{shape("vehicle", FieldVehicle)},
		Tiers:  tiers(fields(FieldVehicle)),
	},
	TenantSettings: {
		Type:   TenantSettings,
		Shapes: []Shape{shape("detail")},
	},
	User: {
		Type:   User,
		Shapes: []Shape{shape("permissions", FieldUser)},
		Tiers:  tiers(fields(FieldUser)),
	},
	Statistics: {
		Type:   Statistics,
		Shapes: []Shape{shape("daily", FieldDate)},
		Tiers:  tiers(fields(FieldDate)),
	},
}

// Lookup returns the schema of t.
func Lookup(t Type) (Schema, bool) {
	s, ok := registry[t]
	return s, ok
}

// Valid reports whether t is a registered type.
func Valid(t Type) bool {
	_, ok := registry[t]
	return ok
}

// All returns every registered type in lexical order.
func All() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ErrSegment is returned by Key for a segment that would change the key's
// arity or act as a glob in SCAN patterns.
var ErrSegment = errors.New("entity: invalid key segment")

const reservedChars = keys.Sep + "*?[]\\"

// ArityError is returned by Key when the argument count does not match the shape.
type ArityError struct {
	Type      Type
	Operation string
	Want, Got int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("entity: %s:%s takes %d segments, got %d", e.Type, e.Operation, e.Want, e.Got)
}

// Key builds a concrete key for (t, op) and checks it against the shape.
// args follow the shape's segments, tenant first. Date segments are
// normalized with keys.DayKey; a nil arg is an error because concrete keys
// never skip a position. Digest segments that are not already lowercase hex
// are collapsed with keys.DigestOf. Any other segment containing ':' or a
// glob character is rejected with ErrSegment.
func Key(t Type, op string, args ...any) (string, error) {
	s, ok := registry[t]
	if !ok {
		return "", fmt.Errorf("entity: unknown type %q", t)
	}
	sh, ok := s.Shape(op)
	if !ok {
		return "", fmt.Errorf("entity: unknown operation %q for %s", op, t)
	}
	if len(args) != len(sh.Segments) {
		return "", &ArityError{Type: t, Operation: op, Want: len(sh.Segments), Got: len(args)}
	}
	segs := make([]any, len(args))
	for i, a := range args {
		if sh.Segments[i] == FieldDate {
			day, err := keys.DayKey(a)
			if err != nil {
				return "", fmt.Errorf("entity: %s:%s segment %d: %w", t, op, i, err)
			}
			segs[i] = day
			continue
		}
		seg, ok := keys.Segment(a)
		if !ok || seg == "" {
			return "", fmt.Errorf("entity: %s:%s segment %d (%s) is empty", t, op, i, sh.Segments[i])
		}
		if sh.Segments[i] == FieldDigest {
			if str, isStr := a.(string); !isStr || !isHexDigest(str) {
				segs[i] = keys.DigestOf(a)
				continue
			}
		}
		if strings.ContainsAny(seg, reservedChars) {
			return "", fmt.Errorf("%w: %s:%s segment %d (%s) %q", ErrSegment, t, op, i, sh.Segments[i], seg)
		}
		segs[i] = seg
	}
	return keys.Generate(string(t), op, segs...), nil
}

func isHexDigest(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

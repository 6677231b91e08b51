package invalidation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/unkn0wn-root/cachegraph/entity"
)

// ErrInvalidRule wraps every rule table validation failure.
var ErrInvalidRule = errors.New("invalidation: invalid rule")

// Step is one unit of a stage: either a sweep of Entity or a reference to
// another rule by operation name.
type Step struct {
	Entity entity.Type
	// Only restricts the sweep to these key operations; empty means all.
	Only []string
	// Use lists the params the step may target. The tenant is always
	// included; nil means tenant only.
	Use []entity.Field

	// Rule references another rule, executed in place of this step.
	Rule string
}

// Stage is a set of independent steps. Stages of a rule run in order.
type Stage struct {
	// Prepare derives this stage's params from the rule's input. Returning
	// false skips the stage.
	Prepare func(Params) (Params, bool)
	Steps   []Step
}

// Rule maps a business operation to the sweeps it implies.
type Rule struct {
	Operation string
	Stages    []Stage
}

// Rules is a rule table keyed by operation.
type Rules map[string]Rule

// RuleError describes one invalid rule.
type RuleError struct {
	Operation string
	Reason    string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("invalidation: rule %q: %s", e.Operation, e.Reason)
}

func (e *RuleError) Unwrap() error { return ErrInvalidRule }

// Validate checks every rule: known entity types, operations and fields,
// resolvable references and no reference cycles.
func (rs Rules) Validate() error {
	var errs []error
	bad := func(op, format string, args ...any) {
		errs = append(errs, &RuleError{Operation: op, Reason: fmt.Sprintf(format, args...)})
	}

	ops := make([]string, 0, len(rs))
	for op := range rs {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, op := range ops {
		r := rs[op]
		if op == "" {
			bad(op, "empty operation name")
		}
		if r.Operation != op {
			bad(op, "registered under %q but named %q", op, r.Operation)
		}
		if len(r.Stages) == 0 {
			bad(op, "no stages")
		}
		for i, st := range r.Stages {
			if len(st.Steps) == 0 {
				bad(op, "stage %d has no steps", i)
			}
			for j, s := range st.Steps {
				for _, reason := range rs.checkStep(s) {
					bad(op, "stage %d step %d: %s", i, j, reason)
				}
			}
		}
	}

	for _, op := range ops {
		if cycle := rs.cycle(op, nil); cycle != nil {
			bad(op, "reference cycle %v", cycle)
		}
	}
	return errors.Join(errs...)
}

func (rs Rules) checkStep(s Step) []string {
	if s.Rule != "" {
		if s.Entity != "" || len(s.Only) > 0 || len(s.Use) > 0 {
			return []string{"reference steps take no entity, operations or fields"}
		}
		if _, ok := rs[s.Rule]; !ok {
			return []string{fmt.Sprintf("unknown rule %q", s.Rule)}
		}
		return nil
	}

	schema, ok := entity.Lookup(s.Entity)
	if !ok {
		return []string{fmt.Sprintf("unknown entity type %q", s.Entity)}
	}
	var out []string
	for _, op := range s.Only {
		if _, ok := schema.Shape(op); !ok {
			out = append(out, fmt.Sprintf("%s has no key operation %q", s.Entity, op))
		}
	}
	for _, f := range s.Use {
		found := false
		for _, sh := range schema.Shapes {
			if sh.Has(f) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, fmt.Sprintf("%s keys have no %s segment", s.Entity, f))
		}
	}
	return out
}

// cycle returns the reference path that loops back, or nil.
func (rs Rules) cycle(op string, path []string) []string {
	for _, p := range path {
		if p == op {
			return append(path, op)
		}
	}
	path = append(path, op)
	for _, st := range rs[op].Stages {
		for _, s := range st.Steps {
			if s.Rule == "" {
				continue
			}
			if _, ok := rs[s.Rule]; !ok {
				continue
			}
			if c := rs.cycle(s.Rule, path); c != nil {
				return c
			}
		}
	}
	return nil
}

func sweep(t entity.Type, only []string, use ...entity.Field) Step {
	return Step{Entity: t, Only: only, Use: use}
}

func ref(op string) Step { return Step{Rule: op} }

func ops(o ...string) []string { return o }

// Operation names of the default rule table.
const (
	OrderCreate           = "ORDER_CREATE"
	OrderUpdate           = "ORDER_UPDATE"
	OrderDelete           = "ORDER_DELETE"
	OrderStatusChange     = "ORDER_STATUS_CHANGE"
	OrderAssign           = "ORDER_ASSIGN"
	OrderCopy             = "ORDER_COPY"
	OrderReschedule       = "ORDER_RESCHEDULE"
	OrderPersonAssign     = "ORDER_PERSON_ASSIGN"
	AttachmentChange      = "ATTACHMENT_CHANGE"
	CustomerUpdate        = "CUSTOMER_UPDATE"
	VehicleUpdate         = "VEHICLE_UPDATE"
	VehicleTelemetry      = "VEHICLE_TELEMETRY"
	HandlerUpdate         = "HANDLER_UPDATE"
	TenantSettingsUpdate  = "TENANT_SETTINGS_UPDATE"
	UserPermissionsUpdate = "USER_PERMISSIONS_UPDATE"
	OrderBulkImport       = "ORDER_BULK_IMPORT"
)

// DefaultRules returns the fan-out table of the delivery backend.
func DefaultRules() Rules {
	const (
		order    = entity.FieldOrder
		date     = entity.FieldDate
		handler  = entity.FieldHandler
		person   = entity.FieldPerson
		attach   = entity.FieldAttachment
		customer = entity.FieldCustomer
		vehicle  = entity.FieldVehicle
		user     = entity.FieldUser
	)

	// views keyed by a calendar day
	byDate := func() []Step {
		return []Step{
			sweep(entity.Order, ops("list"), date),
			sweep(entity.ScheduleGrid, nil, date),
			sweep(entity.Statistics, nil, date),
		}
	}

	list := []Rule{
		{Operation: OrderCreate, Stages: []Stage{{Steps: []Step{
			sweep(entity.Order, ops("list"), date, handler),
			sweep(entity.ScheduleGrid, nil, date),
			sweep(entity.Statistics, nil, date),
			sweep(entity.Customer, ops("list")),
		}}}},
		{Operation: OrderUpdate, Stages: []Stage{{Steps: []Step{
			sweep(entity.Order, ops("detail"), order),
			sweep(entity.Order, ops("list"), date),
			sweep(entity.Order, ops("list"), handler),
			sweep(entity.OrderPerson, ops("by_order"), order),
			sweep(entity.Attachment, ops("by_order"), order),
			sweep(entity.ScheduleGrid, nil, date),
			sweep(entity.Statistics, nil, date),
		}}}},
		{Operation: OrderDelete, Stages: []Stage{{Steps: []Step{
			ref(OrderUpdate),
			sweep(entity.Customer, ops("list")),
		}}}},
		{Operation: OrderStatusChange, Stages: []Stage{{Steps: []Step{
			sweep(entity.Order, ops("detail"), order),
			sweep(entity.Order, ops("list"), date),
			sweep(entity.ScheduleGrid, nil, date),
			sweep(entity.Statistics, nil, date),
		}}}},
		{Operation: OrderAssign, Stages: []Stage{
			{Steps: []Step{
				sweep(entity.Order, ops("detail"), order),
				sweep(entity.Order, ops("list"), handler),
				sweep(entity.Handler, ops("schedule"), handler, date),
				sweep(entity.ScheduleGrid, nil, date),
			}},
			{Prepare: WithPreviousHandler, Steps: []Step{
				sweep(entity.Order, ops("list"), handler),
				sweep(entity.Handler, ops("schedule"), handler, date),
			}},
		}},
		{Operation: OrderCopy, Stages: []Stage{
			{Steps: byDate()},
			{Prepare: WithTargetDate, Steps: byDate()},
		}},
		{Operation: OrderReschedule, Stages: []Stage{
			{Steps: []Step{ref(OrderUpdate)}},
			{Prepare: WithTargetDate, Steps: byDate()},
		}},
		{Operation: OrderPersonAssign, Stages: []Stage{{Steps: []Step{
			sweep(entity.OrderPerson, ops("by_order"), order),
			sweep(entity.OrderPerson, ops("by_person"), person),
			sweep(entity.Order, ops("detail"), order),
		}}}},
		{Operation: AttachmentChange, Stages: []Stage{{Steps: []Step{
			sweep(entity.Attachment, ops("detail"), attach),
			sweep(entity.Attachment, ops("by_order"), order),
			sweep(entity.Order, ops("detail"), order),
		}}}},
		{Operation: CustomerUpdate, Stages: []Stage{{Steps: []Step{
			sweep(entity.Customer, ops("detail"), customer),
			sweep(entity.Customer, ops("list")),
			sweep(entity.Order, ops("list")),
		}}}},
		{Operation: VehicleUpdate, Stages: []Stage{{Steps: []Step{
			sweep(entity.Vehicle, ops("detail"), vehicle),
			sweep(entity.Vehicle, ops("list")),
			sweep(entity.ScheduleGrid, nil),
		}}}},
		{Operation: VehicleTelemetry, Stages: []Stage{{Steps: []Step{
			sweep(entity.Telemetry, nil, vehicle),
		}}}},
		{Operation: HandlerUpdate, Stages: []Stage{{Steps: []Step{
			sweep(entity.Handler, ops("detail", "schedule"), handler),
			sweep(entity.Handler, ops("list")),
			sweep(entity.Order, ops("list"), handler),
			sweep(entity.ScheduleGrid, nil),
		}}}},
		{Operation: TenantSettingsUpdate, Stages: []Stage{{Steps: []Step{
			sweep(entity.TenantSettings, nil),
			sweep(entity.ScheduleGrid, nil),
		}}}},
		{Operation: UserPermissionsUpdate, Stages: []Stage{{Steps: []Step{
			sweep(entity.User, nil, user),
			sweep(entity.ScheduleGrid, nil),
		}}}},
		{Operation: OrderBulkImport, Stages: []Stage{{Steps: []Step{
			ref(OrderCreate),
			sweep(entity.Order, ops("list")),
			sweep(entity.Statistics, nil),
		}}}},
	}

	rs := make(Rules, len(list))
	for _, r := range list {
		rs[r.Operation] = r
	}
	return rs
}

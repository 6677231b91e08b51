package invalidation

import (
	"strconv"

	"github.com/unkn0wn-root/cachegraph/entity"
	"github.com/unkn0wn-root/cachegraph/keys"
)

// Params carries what a writer knows about the change. Zero IDs and nil
// dates are unknown and widen the derived patterns.
type Params struct {
	TenantID          int64
	OrderID           int64
	HandlerID         int64
	PreviousHandlerID int64
	CustomerID        int64
	VehicleID         int64
	PersonID          int64
	AttachmentID      int64
	UserID            int64

	// Date and TargetDate accept anything keys.DayKey does.
	Date       any
	TargetDate any

	// EntityType is the fallback target for operations without a rule.
	EntityType entity.Type
}

// value renders the key segment for f. ok is false when f is unknown.
func (p Params) value(f entity.Field) (string, bool) {
	var id int64
	switch f {
	case entity.FieldTenant:
		id = p.TenantID
	case entity.FieldOrder:
		id = p.OrderID
	case entity.FieldHandler:
		id = p.HandlerID
	case entity.FieldPerson:
		id = p.PersonID
	case entity.FieldAttachment:
		id = p.AttachmentID
	case entity.FieldCustomer:
		id = p.CustomerID
	case entity.FieldVehicle:
		id = p.VehicleID
	case entity.FieldUser:
		id = p.UserID
	case entity.FieldDate:
		if p.Date == nil {
			return "", false
		}
		day, err := keys.DayKey(p.Date)
		if err != nil {
			return "", false
		}
		return day, true
	default:
		return "", false
	}
	if id <= 0 {
		return "", false
	}
	return strconv.FormatInt(id, 10), true
}

// WithTargetDate moves TargetDate into Date. ok is false without a target.
func WithTargetDate(p Params) (Params, bool) {
	if p.TargetDate == nil {
		return p, false
	}
	p.Date = p.TargetDate
	return p, true
}

// WithPreviousHandler moves PreviousHandlerID into HandlerID. ok is false
// when there is no previous handler or it did not change.
func WithPreviousHandler(p Params) (Params, bool) {
	if p.PreviousHandlerID <= 0 || p.PreviousHandlerID == p.HandlerID {
		return p, false
	}
	p.HandlerID = p.PreviousHandlerID
	return p, true
}

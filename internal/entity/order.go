package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusNew            Status = "NEW"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusPaid           Status = "PAID"
	StatusUnderProcess   Status = "UNDER_PROCESS"
	StatusProcessed      Status = "PROCESSED"
	StatusFailed         Status = "FAILED"
	StatusExpired        Status = "EXPIRED"
	StatusRefunded       Status = "REFUNDED"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusProcessed, StatusFailed, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// IsSuccess reports whether paid content may be delivered for an order in s.
func (s Status) IsSuccess() bool {
	return s == StatusProcessed
}

func (s Status) String() string { return string(s) }

type CourseType string

const (
	CourseDigital CourseType = "DIGITAL"
	CourseLive    CourseType = "LIVE"
)

type OrderItem struct {
	ID         string
	OrderID    string
	CourseID   string
	SessionID  string // empty for self-paced courses
	CourseType CourseType
	UnitPrice  decimal.Decimal
	Quantity   int
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID        string
	CartID    string
	OwnerID   string
	Status    Status
	Currency  string
	Amount    decimal.Decimal
	Items     []OrderItem
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// InstantFulfillment is true when every item is digital, so a paid order can
// be completed without waiting on a live session.
func (o *Order) InstantFulfillment() bool {
	for _, it := range o.Items {
		if it.CourseType != CourseDigital {
			return false
		}
	}
	return true
}

// Apply moves the order through ev. The order is left untouched on error.
func (o *Order) Apply(ev Event, now time.Time) error {
	next, err := Transition(o.Status, ev)
	if err != nil {
		return err
	}
	if next != o.Status {
		o.Status = next
		o.UpdatedAt = now
	}
	return nil
}

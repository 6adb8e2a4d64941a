package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentCaptured PaymentStatus = "CAPTURED"
	PaymentFailed   PaymentStatus = "FAILED"
	PaymentExpired  PaymentStatus = "EXPIRED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// ReasonSuperseded marks a capture that arrived after the order was settled
// by another payment; such a payment is refunded.
const ReasonSuperseded = "superseded"

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:  {PaymentCaptured, PaymentFailed, PaymentExpired},
	PaymentExpired:  {PaymentCaptured, PaymentFailed},
	PaymentCaptured: {PaymentFailed, PaymentRefunded},
	PaymentFailed:   {PaymentRefunded},
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, n := range paymentTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

type Payment struct {
	ID            string
	OrderID       string
	Provider      string
	ProviderRef   string
	Status        PaymentStatus
	Amount        decimal.Decimal
	Currency      string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CapturedAt    *time.Time
	Version       int64
}

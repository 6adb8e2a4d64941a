package domain

type Event string

const (
	EventCheckoutStarted    Event = "CHECKOUT_STARTED"
	EventPaymentCaptured    Event = "PAYMENT_CAPTURED"
	EventFulfillmentStarted Event = "FULFILLMENT_STARTED"
	EventFulfilled          Event = "FULFILLED"
	EventPaymentFailed      Event = "PAYMENT_FAILED"
	EventPaymentExpired     Event = "PAYMENT_EXPIRED"
	EventRefunded           Event = "REFUNDED"
)

// eventTarget is the status each event leads to, wherever it is legal.
var eventTarget = map[Event]Status{
	EventCheckoutStarted:    StatusPendingPayment,
	EventPaymentCaptured:    StatusPaid,
	EventFulfillmentStarted: StatusUnderProcess,
	EventFulfilled:          StatusProcessed,
	EventPaymentFailed:      StatusFailed,
	EventPaymentExpired:     StatusExpired,
	EventRefunded:           StatusRefunded,
}

// transitions is the only place order moves are defined.
var transitions = map[Status]map[Event]struct{}{
	StatusNew:            {EventCheckoutStarted: {}},
	StatusPendingPayment: {EventPaymentCaptured: {}, EventPaymentFailed: {}, EventPaymentExpired: {}},
	StatusPaid:           {EventFulfillmentStarted: {}, EventPaymentFailed: {}, EventRefunded: {}},
	StatusUnderProcess:   {EventFulfilled: {}},
	StatusProcessed:      {EventRefunded: {}},
}

// Transition returns the status reached by applying ev to from.
// An event whose target is already the current status is a no-op success,
// so retried requests are safe.
func Transition(from Status, ev Event) (Status, error) {
	target, ok := eventTarget[ev]
	if !ok {
		return from, &InvalidTransitionError{From: from, Event: ev}
	}
	if target == from {
		return from, nil
	}
	if _, ok := transitions[from][ev]; !ok {
		return from, &InvalidTransitionError{From: from, Event: ev}
	}
	return target, nil
}

// CanApply is Transition without the result.
func CanApply(from Status, ev Event) bool {
	_, err := Transition(from, ev)
	return err == nil
}

package queue

import (
	"context"
	"errors"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/aq2208/course-orders/internal/usecase"
)

// Refunder is the slice of usecase.Payments the refund consumer needs.
type Refunder interface {
	Refund(ctx context.Context, orderID, reason string) error
	RefundSuperseded(ctx context.Context, paymentID string) error
}

// RefundHandler consumes admin refund requests and superseded-capture refunds.
type RefundHandler struct {
	Payments Refunder
}

func NewRefundHandler(p Refunder) *RefundHandler {
	return &RefundHandler{Payments: p}
}

// HandleRefund is meant for queue.JSONHandler[usecase.RefundMsg].
// Business rejections are dropped; provider failures are requeued.
func (h *RefundHandler) HandleRefund(ctx context.Context, msg usecase.RefundMsg) error {
	var err error
	switch {
	case msg.PaymentID != "":
		err = h.Payments.RefundSuperseded(ctx, msg.PaymentID)
	case msg.OrderID != "":
		err = h.Payments.Refund(ctx, msg.OrderID, msg.Reason)
	default:
		return Permanent(errors.New("refund message without order or payment id"))
	}
	if err == nil {
		logging.FromCtx(ctx).Info("refund handled", "order_id", msg.OrderID, "payment_id", msg.PaymentID)
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrValidation) {
		return Permanent(err)
	}
	return err
}

// Handler returns the delivery handler to register on the refund queue.
func (h *RefundHandler) Handler() Handler {
	return JSONHandler[usecase.RefundMsg]{HandleFunc: h.HandleRefund}
}

package usecase

import (
	"context"
	"fmt"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
)

const scopeRefund = "refund"

// Refund returns the captured amount of a paid or processed order and revokes
// its links. Refunding a refunded order is a no-op. The gateway call and the
// status writes share one guarded transaction keyed by the captured payment,
// so concurrent requests reach the provider once.
func (p *Payments) Refund(ctx context.Context, orderID, reason string) error {
	o, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == domain.StatusRefunded {
		return nil
	}
	if _, err := domain.Transition(o.Status, domain.EventRefunded); err != nil {
		return err
	}

	pays, err := p.payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	var captured *domain.Payment
	for _, pay := range pays {
		if pay.Status == domain.PaymentCaptured {
			captured = pay
			break
		}
	}
	if captured == nil {
		// a concurrent refund may have committed since the order was read
		if cur, err := p.orders.GetByID(ctx, o.ID); err == nil && cur.Status == domain.StatusRefunded {
			return nil
		}
		return fmt.Errorf("%w: order %s has no captured payment", domain.ErrConflict, o.ID)
	}
	gw, ok := p.gateways.Get(captured.Provider)
	if !ok {
		return fmt.Errorf("%w: provider %q", domain.ErrNotFound, captured.Provider)
	}

	_, replayed, err := p.guard.CheckOrRecord(ctx, scopeRefund, captured.ID, func(ctx context.Context) (string, error) {
		return captured.ID, p.tx.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := p.orders.GetByID(ctx, o.ID)
			if err != nil {
				return err
			}
			if cur.Status == domain.StatusRefunded {
				return nil
			}
			pay, err := p.payments.GetByID(ctx, captured.ID)
			if err != nil {
				return err
			}
			if pay.Status != domain.PaymentCaptured {
				return fmt.Errorf("%w: payment %s is %s", domain.ErrConflict, pay.ID, pay.Status)
			}
			err = p.retry(ctx, gw.Name(), "refund", func(ctx context.Context) error {
				return gw.Refund(ctx, pay.ProviderRef, pay.Amount, pay.Currency)
			})
			if err != nil {
				return err
			}

			now := p.now()
			expected := cur.Version
			if err := cur.Apply(domain.EventRefunded, now); err != nil {
				return err
			}
			if _, err := p.orders.UpdateStatus(ctx, cur.ID, expected, cur.Status, now); err != nil {
				return err
			}
			pay.Status = domain.PaymentRefunded
			pay.UpdatedAt = now
			if err := p.payments.UpdateStatus(ctx, pay); err != nil {
				return err
			}
			if err := p.links.RevokeByOrder(ctx, cur.ID); err != nil {
				return err
			}
			return p.emit(ctx, ChannelOrderRefunded, cur, pay.ID, 0)
		})
	})
	if err != nil {
		return err
	}
	if !replayed {
		logging.FromCtx(ctx).Info("order refunded", "order_id", o.ID, "payment_id", captured.ID, "reason", reason)
	}
	return nil
}

// RefundSuperseded returns a capture that lost to another payment of the same order.
func (p *Payments) RefundSuperseded(ctx context.Context, paymentID string) error {
	pay, err := p.payments.GetByID(ctx, paymentID)
	if err != nil {
		return err
	}
	if pay.Status == domain.PaymentRefunded {
		return nil
	}
	if pay.Status != domain.PaymentFailed || pay.FailureReason != domain.ReasonSuperseded {
		return fmt.Errorf("%w: payment %s is %s, not a superseded capture", domain.ErrConflict, pay.ID, pay.Status)
	}
	gw, ok := p.gateways.Get(pay.Provider)
	if !ok {
		return fmt.Errorf("%w: provider %q", domain.ErrNotFound, pay.Provider)
	}

	_, replayed, err := p.guard.CheckOrRecord(ctx, scopeRefund, pay.ID, func(ctx context.Context) (string, error) {
		return pay.ID, p.tx.WithinTx(ctx, func(ctx context.Context) error {
			cur, err := p.payments.GetByID(ctx, pay.ID)
			if err != nil {
				return err
			}
			if cur.Status == domain.PaymentRefunded {
				return nil
			}
			err = p.retry(ctx, gw.Name(), "refund", func(ctx context.Context) error {
				return gw.Refund(ctx, cur.ProviderRef, cur.Amount, cur.Currency)
			})
			if err != nil {
				return err
			}
			cur.Status = domain.PaymentRefunded
			cur.UpdatedAt = p.now()
			return p.payments.UpdateStatus(ctx, cur)
		})
	})
	if err != nil {
		return err
	}
	if !replayed {
		logging.FromCtx(ctx).Info("superseded capture refunded", "order_id", pay.OrderID, "payment_id", pay.ID)
	}
	return nil
}

// CompleteFulfillment closes an order that waited on a live session and
// delivers its digital items.
func (p *Payments) CompleteFulfillment(ctx context.Context, orderID string) (*domain.Order, error) {
	var o *domain.Order
	err := p.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = p.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		now := p.now()
		before := o.Status
		expected := o.Version
		if err := o.Apply(domain.EventFulfilled, now); err != nil {
			return err
		}
		if before != o.Status {
			v, err := p.orders.UpdateStatus(ctx, o.ID, expected, o.Status, now)
			if err != nil {
				return err
			}
			o.Version = v
		}
		links, err := p.issuer.IssueLinks(ctx, o)
		if err != nil {
			return err
		}
		if before == o.Status {
			return nil
		}
		return p.emit(ctx, ChannelOrderProcessed, o, "", len(links))
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
)

const (
	scopeWebhook     = "webhook"
	applyMaxAttempts = 3
)

type CallbackResult struct {
	PaymentID     string
	PaymentStatus domain.PaymentStatus
	OrderStatus   domain.Status
	Duplicate     bool
}

// HandleCallback verifies a provider notification and applies it once per
// provider event id. Unverifiable payloads never touch state.
func (p *Payments) HandleCallback(ctx context.Context, provider string, raw []byte, headers http.Header) (CallbackResult, error) {
	log := logging.FromCtx(ctx).With("provider", provider)
	gw, ok := p.gateways.Get(provider)
	if !ok {
		p.metrics.WebhookEvent(provider, "unknown_provider")
		return CallbackResult{}, fmt.Errorf("%w: provider %q", domain.ErrNotFound, provider)
	}

	ev, err := gw.VerifyCallback(raw, headers)
	if err != nil {
		log.Warn("callback rejected", "bytes", len(raw), "err", err)
		p.metrics.WebhookEvent(provider, "rejected")
		if errors.Is(err, domain.ErrVerification) {
			return CallbackResult{}, err
		}
		return CallbackResult{}, fmt.Errorf("%w: %v", domain.ErrVerification, err)
	}

	res, err := p.applyEvent(ctx, provider, ev)
	switch {
	case err != nil:
		p.metrics.WebhookEvent(provider, "error")
		log.Error("callback not applied", "event_id", ev.EventID, "provider_ref", ev.ProviderRef, "err", err)
	case res.Duplicate:
		p.metrics.WebhookEvent(provider, "duplicate")
	default:
		p.metrics.WebhookEvent(provider, "applied")
	}
	return res, err
}

// applyEvent settles ev under the idempotency guard. A lost version race is
// retried from a fresh read.
func (p *Payments) applyEvent(ctx context.Context, provider string, ev ParsedEvent) (CallbackResult, error) {
	if ev.EventID == "" || ev.ProviderRef == "" {
		return CallbackResult{}, fmt.Errorf("%w: event id and provider ref required", domain.ErrValidation)
	}
	key := provider + ":" + ev.EventID

	var lastErr error
	for attempt := 1; attempt <= applyMaxAttempts; attempt++ {
		var res CallbackResult
		_, replayed, err := p.guard.CheckOrRecord(ctx, scopeWebhook, key, func(ctx context.Context) (string, error) {
			r, err := p.apply(ctx, provider, ev)
			if err != nil {
				return "", err
			}
			res = r
			return r.PaymentID + ":" + string(r.PaymentStatus), nil
		})
		if err == nil {
			if replayed {
				return p.current(ctx, provider, ev.ProviderRef)
			}
			return res, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return CallbackResult{}, err
		}
		lastErr = err
		logging.FromCtx(ctx).Info("callback lost a race, retrying", "key", key, "attempt", attempt)
		select {
		case <-ctx.Done():
			return CallbackResult{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return CallbackResult{}, lastErr
}

func (p *Payments) current(ctx context.Context, provider, ref string) (CallbackResult, error) {
	pay, err := p.payments.GetByProviderRef(ctx, provider, ref)
	if err != nil {
		return CallbackResult{}, err
	}
	o, err := p.orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		return CallbackResult{}, err
	}
	return CallbackResult{PaymentID: pay.ID, PaymentStatus: pay.Status, OrderStatus: o.Status, Duplicate: true}, nil
}

// apply runs inside the guard's transaction.
func (p *Payments) apply(ctx context.Context, provider string, ev ParsedEvent) (CallbackResult, error) {
	pay, err := p.payments.GetByProviderRef(ctx, provider, ev.ProviderRef)
	if err != nil {
		return CallbackResult{}, err
	}
	o, err := p.orders.GetByID(ctx, pay.OrderID)
	if err != nil {
		return CallbackResult{}, err
	}
	now := p.now()

	switch ev.Outcome {
	case OutcomeSucceeded:
		err = p.capture(ctx, o, pay, now)
	case OutcomeFailed:
		err = p.settleUnpaid(ctx, o, pay, domain.PaymentFailed, now)
	case OutcomeExpired:
		err = p.settleUnpaid(ctx, o, pay, domain.PaymentExpired, now)
	case OutcomePending:
	default:
		err = fmt.Errorf("%w: outcome %q", domain.ErrValidation, ev.Outcome)
	}
	if err != nil {
		return CallbackResult{}, err
	}

	logging.FromCtx(ctx).Info("payment event applied",
		"order_id", o.ID, "payment_id", pay.ID, "event_id", ev.EventID,
		"outcome", string(ev.Outcome), "payment_status", string(pay.Status), "order_status", o.Status.String())
	return CallbackResult{PaymentID: pay.ID, PaymentStatus: pay.Status, OrderStatus: o.Status}, nil
}

func (p *Payments) capture(ctx context.Context, o *domain.Order, pay *domain.Payment, now time.Time) error {
	switch {
	case pay.Status == domain.PaymentCaptured:
		return nil
	case pay.Status == domain.PaymentRefunded:
		logging.FromCtx(ctx).Warn("capture for refunded payment ignored", "payment_id", pay.ID)
		return nil
	case pay.Status == domain.PaymentFailed, o.Status != domain.StatusPendingPayment:
		// money arrived for an order that is settled or closed
		return p.supersede(ctx, pay, now)
	}

	pay.Status = domain.PaymentCaptured
	pay.FailureReason = ""
	pay.CapturedAt = &now
	pay.UpdatedAt = now
	if err := p.payments.UpdateStatus(ctx, pay); err != nil {
		return err
	}

	expected := o.Version
	steps := []domain.Event{domain.EventPaymentCaptured, domain.EventFulfillmentStarted}
	if o.InstantFulfillment() {
		steps = append(steps, domain.EventFulfilled)
	}
	for _, ev := range steps {
		if err := o.Apply(ev, now); err != nil {
			return err
		}
	}
	v, err := p.orders.UpdateStatus(ctx, o.ID, expected, o.Status, now)
	if err != nil {
		return err
	}
	o.Version = v

	if err := p.emit(ctx, ChannelOrderPaid, o, pay.ID, 0); err != nil {
		return err
	}
	if !o.Status.IsSuccess() {
		return nil
	}
	links, err := p.issuer.IssueLinks(ctx, o)
	if err != nil {
		return err
	}
	return p.emit(ctx, ChannelOrderProcessed, o, pay.ID, len(links))
}

func (p *Payments) supersede(ctx context.Context, pay *domain.Payment, now time.Time) error {
	if pay.FailureReason == domain.ReasonSuperseded {
		return nil
	}
	if pay.Status != domain.PaymentFailed && !pay.Status.CanTransitionTo(domain.PaymentFailed) {
		return fmt.Errorf("%w: payment %s is %s", domain.ErrConflict, pay.ID, pay.Status)
	}
	pay.Status = domain.PaymentFailed
	pay.FailureReason = domain.ReasonSuperseded
	pay.UpdatedAt = now
	if err := p.payments.UpdateStatus(ctx, pay); err != nil {
		return err
	}
	logging.FromCtx(ctx).Warn("capture superseded, refund required", "order_id", pay.OrderID, "payment_id", pay.ID)
	return p.emitRefundRequired(ctx, pay)
}

func (p *Payments) settleUnpaid(ctx context.Context, o *domain.Order, pay *domain.Payment, to domain.PaymentStatus, now time.Time) error {
	if pay.Status == to || !pay.Status.CanTransitionTo(to) {
		return nil
	}
	reversed := pay.Status == domain.PaymentCaptured
	pay.Status = to
	pay.FailureReason = strings.ToLower(string(to))
	pay.UpdatedAt = now
	if err := p.payments.UpdateStatus(ctx, pay); err != nil {
		return err
	}

	ev := domain.EventPaymentFailed
	if to == domain.PaymentExpired {
		ev = domain.EventPaymentExpired
	}
	if reversed {
		if o.Status != domain.StatusPaid {
			logging.FromCtx(ctx).Warn("capture reversed after fulfillment started", "order_id", o.ID, "payment_id", pay.ID)
			return nil
		}
	} else {
		if o.Status != domain.StatusPendingPayment {
			return nil
		}
		// another attempt may still complete
		others, err := p.payments.ListByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		for _, other := range others {
			if other.ID != pay.ID && other.Status == domain.PaymentPending {
				return nil
			}
		}
	}

	expected := o.Version
	if err := o.Apply(ev, now); err != nil {
		return err
	}
	v, err := p.orders.UpdateStatus(ctx, o.ID, expected, o.Status, now)
	if err != nil {
		return err
	}
	o.Version = v
	return nil
}

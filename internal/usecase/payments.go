package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

type PaymentsConfig struct {
	GatewayTimeout       time.Duration
	MaxAttempts          int
	RetryBackoff         time.Duration
	StaleAfter           time.Duration
	ExpireAfter          time.Duration
	ReconcileBatch       int
	ReconcileConcurrency int
}

func (c PaymentsConfig) withDefaults() PaymentsConfig {
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 15 * time.Minute
	}
	if c.ExpireAfter <= 0 {
		c.ExpireAfter = 24 * time.Hour
	}
	if c.ReconcileBatch <= 0 {
		c.ReconcileBatch = 100
	}
	if c.ReconcileConcurrency <= 0 {
		c.ReconcileConcurrency = 4
	}
	return c
}

type PaymentsDeps struct {
	Tx       TxManager
	Orders   OrderRepo
	Payments PaymentRepo
	Links    SecureLinkRepo
	Outbox   OutboxRepo
	Gateways GatewayRegistry
	Issuer   *SecureLinks
	Guard    *Guard
	Metrics  Metrics
	Now      Clock
}

// Payments drives checkout sessions and settles provider outcomes onto orders.
type Payments struct {
	tx       TxManager
	orders   OrderRepo
	payments PaymentRepo
	links    SecureLinkRepo
	out      OutboxRepo
	gateways GatewayRegistry
	issuer   *SecureLinks
	guard    *Guard
	metrics  Metrics
	now      Clock
	cfg      PaymentsConfig

	polls singleflight.Group
}

func NewPayments(d PaymentsDeps, cfg PaymentsConfig) *Payments {
	if d.Metrics == nil {
		d.Metrics = NopMetrics{}
	}
	if d.Now == nil {
		d.Now = SystemClock
	}
	return &Payments{
		tx:       d.Tx,
		orders:   d.Orders,
		payments: d.Payments,
		links:    d.Links,
		out:      d.Outbox,
		gateways: d.Gateways,
		issuer:   d.Issuer,
		guard:    d.Guard,
		metrics:  d.Metrics,
		now:      d.Now,
		cfg:      cfg.withDefaults(),
	}
}

type CheckoutOutput struct {
	PaymentID   string
	Provider    string
	RedirectURL string
}

// CreateCheckoutSession opens a provider session for an order that is new or
// still waiting for payment. The provider is called before the transaction so
// no row is written when the gateway is down.
func (p *Payments) CreateCheckoutSession(ctx context.Context, orderID, returnURL string) (CheckoutOutput, error) {
	if orderID == "" {
		return CheckoutOutput{}, fmt.Errorf("%w: orderId required", domain.ErrValidation)
	}
	if returnURL == "" {
		return CheckoutOutput{}, fmt.Errorf("%w: returnUrl required", domain.ErrValidation)
	}

	o, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		return CheckoutOutput{}, err
	}
	if !domain.CanApply(o.Status, domain.EventCheckoutStarted) {
		return CheckoutOutput{}, fmt.Errorf("%w: order %s is %s", domain.ErrConflict, o.ID, o.Status)
	}
	gw, err := p.gateways.ForCurrency(o.Currency)
	if err != nil {
		return CheckoutOutput{}, err
	}

	paymentID := uuid.NewString()
	var sess GatewaySession
	err = p.retry(ctx, gw.Name(), "create_session", func(ctx context.Context) error {
		var err error
		sess, err = gw.CreateSession(ctx, o, paymentID, returnURL)
		return err
	})
	if err != nil {
		p.metrics.CheckoutSession(gw.Name(), "gateway_error")
		return CheckoutOutput{}, err
	}

	err = p.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := p.now()
		expected := o.Version
		if err := o.Apply(domain.EventCheckoutStarted, now); err != nil {
			return err
		}
		pay := &domain.Payment{
			ID:          paymentID,
			OrderID:     o.ID,
			Provider:    gw.Name(),
			ProviderRef: sess.ProviderRef,
			Status:      domain.PaymentPending,
			Amount:      o.Amount,
			Currency:    o.Currency,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := p.payments.Create(ctx, pay); err != nil {
			return err
		}
		// the version bump serializes concurrent checkouts of one order
		v, err := p.orders.UpdateStatus(ctx, o.ID, expected, o.Status, now)
		if err != nil {
			return err
		}
		o.Version = v
		return nil
	})
	if err != nil {
		p.metrics.CheckoutSession(gw.Name(), "conflict")
		return CheckoutOutput{}, err
	}

	p.metrics.CheckoutSession(gw.Name(), "ok")
	logging.FromCtx(ctx).Info("checkout session opened",
		"order_id", o.ID, "payment_id", paymentID, "provider", gw.Name(), "provider_ref", sess.ProviderRef)
	return CheckoutOutput{PaymentID: paymentID, Provider: gw.Name(), RedirectURL: sess.RedirectURL}, nil
}

func (p *Payments) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return p.orders.GetByID(ctx, orderID)
}

func (p *Payments) ListPayments(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	return p.payments.ListByOrder(ctx, orderID)
}

func (p *Payments) ListLinks(ctx context.Context, orderID string) ([]*domain.SecureLink, error) {
	if _, err := p.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return p.links.ListByOrder(ctx, orderID)
}

// retry runs fn with a per-attempt timeout and linear backoff. Whatever is
// left after the last attempt is reported as a GatewayError.
func (p *Payments) retry(ctx context.Context, provider, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		actx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
		err = fn(actx)
		cancel()
		if err == nil {
			return nil
		}
		logging.FromCtx(ctx).Warn("gateway call failed",
			"provider", provider, "op", op, "attempt", attempt, "err", err)
		if attempt == p.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return &domain.GatewayError{Provider: provider, Op: op, Err: ctx.Err()}
		case <-time.After(p.cfg.RetryBackoff * time.Duration(attempt)):
		}
	}
	var gerr *domain.GatewayError
	if errors.As(err, &gerr) {
		return err
	}
	return &domain.GatewayError{Provider: provider, Op: op, Err: err}
}

func (p *Payments) emit(ctx context.Context, channel string, o *domain.Order, paymentID string, links int) error {
	payload, err := json.Marshal(OrderEventMsg{
		Type:       channel,
		OrderID:    o.ID,
		OwnerID:    o.OwnerID,
		Status:     string(o.Status),
		Amount:     o.Amount.String(),
		Currency:   o.Currency,
		PaymentID:  paymentID,
		LinkCount:  links,
		OccurredAt: o.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return p.out.Insert(ctx, channel, o.ID, payload)
}

func (p *Payments) emitRefundRequired(ctx context.Context, pay *domain.Payment) error {
	payload, err := json.Marshal(RefundMsg{OrderID: pay.OrderID, PaymentID: pay.ID, Reason: domain.ReasonSuperseded})
	if err != nil {
		return err
	}
	return p.out.Insert(ctx, ChannelRefundRequired, pay.ID, payload)
}

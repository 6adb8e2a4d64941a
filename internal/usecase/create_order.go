package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/google/uuid"
)

const scopeOrder = "order"

type CreateOrderInput struct {
	CartID         string
	IdempotencyKey string // optional, client supplied
}

type CreateOrderOutput struct {
	OrderID  string
	Status   domain.Status
	Replayed bool
}

// CreateOrder turns a cart into an immutable priced order, at most once per key.
type CreateOrder struct {
	carts   CartRepo
	orders  OrderRepo
	out     OutboxRepo
	guard   *Guard
	metrics Metrics
	now     Clock
}

func NewCreateOrder(carts CartRepo, orders OrderRepo, out OutboxRepo, guard *Guard, m Metrics, now Clock) *CreateOrder {
	if m == nil {
		m = NopMetrics{}
	}
	if now == nil {
		now = SystemClock
	}
	return &CreateOrder{carts: carts, orders: orders, out: out, guard: guard, metrics: m, now: now}
}

func (uc *CreateOrder) Execute(ctx context.Context, in CreateOrderInput) (CreateOrderOutput, error) {
	if in.CartID == "" {
		return CreateOrderOutput{}, fmt.Errorf("%w: cartId required", domain.ErrValidation)
	}
	key := in.IdempotencyKey
	if key == "" {
		key = "cart:" + in.CartID
	}

	orderID, replayed, err := uc.guard.CheckOrRecord(ctx, scopeOrder, key, func(ctx context.Context) (string, error) {
		return uc.create(ctx, in)
	})
	if err != nil {
		return CreateOrderOutput{}, err
	}
	uc.metrics.OrderCreated(replayed)

	o, err := uc.orders.GetByID(ctx, orderID)
	if err != nil {
		return CreateOrderOutput{}, err
	}
	return CreateOrderOutput{OrderID: o.ID, Status: o.Status, Replayed: replayed}, nil
}

func (uc *CreateOrder) create(ctx context.Context, in CreateOrderInput) (string, error) {
	cart, err := uc.carts.GetByID(ctx, in.CartID)
	if err != nil {
		return "", err
	}
	if cart.Consumed() {
		// keyed by the cart itself, the consuming order is the answer
		if in.IdempotencyKey == "" {
			return cart.ConsumedOrderID, nil
		}
		return "", fmt.Errorf("%w: cart %s already consumed by order %s", domain.ErrConflict, cart.ID, cart.ConsumedOrderID)
	}

	o, err := domain.NewOrderFromCart(cart, uuid.NewString, uc.now())
	if err != nil {
		return "", err
	}
	if err := uc.orders.Create(ctx, o); err != nil {
		return "", err
	}
	if err := uc.carts.MarkConsumed(ctx, cart.ID, o.ID); err != nil {
		return "", err
	}

	payload, err := json.Marshal(OrderEventMsg{
		Type:       ChannelOrderCreated,
		OrderID:    o.ID,
		OwnerID:    o.OwnerID,
		Status:     string(o.Status),
		Amount:     o.Amount.String(),
		Currency:   o.Currency,
		OccurredAt: o.CreatedAt,
	})
	if err != nil {
		return "", err
	}
	if err := uc.out.Insert(ctx, ChannelOrderCreated, o.ID, payload); err != nil {
		return "", err
	}

	logging.FromCtx(ctx).Info("order created",
		"order_id", o.ID, "cart_id", cart.ID, "amount", o.Amount.String(), "currency", o.Currency, "items", len(o.Items))
	return o.ID, nil
}

package usecase_test

import (
	"sync"
	"testing"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderSnapshotsCart(t *testing.T) {
	h := newHarness(t)
	item := digital("go-101", 120)
	item.Quantity = 2
	h.seedCart(t, "cart-a", item, live("k8s-live", "s-2026-05", 300))

	out, err := h.create.Execute(h.ctx, usecase.CreateOrderInput{CartID: "cart-a"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNew, out.Status)
	assert.False(t, out.Replayed)

	o, err := h.orders.GetByID(h.ctx, out.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "540.00", o.Amount.StringFixed(2))
	assert.Equal(t, "SAR", o.Currency)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "s-2026-05", o.Items[1].SessionID)

	cart, err := h.carts.GetByID(h.ctx, "cart-a")
	require.NoError(t, err)
	assert.Equal(t, out.OrderID, cart.ConsumedOrderID)
	assert.Equal(t, []string{usecase.ChannelOrderCreated}, h.outboxChannels(t))
}

func TestCreateOrderReplaysSameKey(t *testing.T) {
	h := newHarness(t)
	h.seedCart(t, "cart-b", digital("go-101", 50))

	first, err := h.create.Execute(h.ctx, usecase.CreateOrderInput{CartID: "cart-b", IdempotencyKey: "req-1"})
	require.NoError(t, err)
	second, err := h.create.Execute(h.ctx, usecase.CreateOrderInput{CartID: "cart-b", IdempotencyKey: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, second.Replayed)

	// no key: the cart itself is the key
	third, err := h.create.Execute(h.ctx, usecase.CreateOrderInput{CartID: "cart-b"})
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, third.OrderID)

	_, err = h.create.Execute(h.ctx, usecase.CreateOrderInput{CartID: "cart-b", IdempotencyKey: "req-2"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Len(t, h.outboxChannels(t), 1)
}

func TestCreateOrderRejectsBadCarts(t *testing.T) {
	h := newHarness(t)

	_, err := h.create.Execute(h.ctx, usecase.CreateOrderInput{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = h.create.Execute(h.ctx, usecase.CreateOrderInput{CartID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h.seedCart(t, "cart-empty")
	_, err = h.create.Execute(h.ctx, usecase.CreateOrderInput{CartID: "cart-empty"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateOrderConcurrentRequestsMakeOneOrder(t *testing.T) {
	h := newHarness(t)
	h.seedCart(t, "cart-race", digital("go-101", 99))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]bool{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.create.Execute(h.ctx, usecase.CreateOrderInput{CartID: "cart-race", IdempotencyKey: "dup"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[out.OrderID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, ids, 1)
	cart, err := h.carts.GetByID(h.ctx, "cart-race")
	require.NoError(t, err)
	assert.True(t, ids[cart.ConsumedOrderID])
	assert.Len(t, h.outboxChannels(t), 1)
}

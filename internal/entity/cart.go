package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	CourseID   string
	SessionID  string
	CourseType CourseType
	UnitPrice  decimal.Decimal
	Quantity   int
}

type Cart struct {
	ID              string
	OwnerID         string
	Currency        string
	Items           []CartItem
	ConsumedOrderID string
	CreatedAt       time.Time
}

func (c *Cart) Consumed() bool { return c.ConsumedOrderID != "" }

func (c *Cart) Validate() error {
	if len(c.Items) == 0 {
		return fmt.Errorf("%w: cart %s is empty", ErrValidation, c.ID)
	}
	if c.Currency == "" {
		return fmt.Errorf("%w: cart %s has no currency", ErrValidation, c.ID)
	}
	for _, it := range c.Items {
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: course %s has quantity %d", ErrValidation, it.CourseID, it.Quantity)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: course %s has a negative price", ErrValidation, it.CourseID)
		}
	}
	return nil
}

// NewOrderFromCart snapshots the cart into a NEW order. Prices and quantities
// are copied, and the amount is computed here once.
func NewOrderFromCart(c *Cart, newID func() string, now time.Time) (*Order, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	o := &Order{
		ID:        newID(),
		CartID:    c.ID,
		OwnerID:   c.OwnerID,
		Status:    StatusNew,
		Currency:  c.Currency,
		Amount:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, it := range c.Items {
		item := OrderItem{
			ID:         newID(),
			OrderID:    o.ID,
			CourseID:   it.CourseID,
			SessionID:  it.SessionID,
			CourseType: it.CourseType,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
		}
		o.Items = append(o.Items, item)
		o.Amount = o.Amount.Add(item.Subtotal())
	}
	return o, nil
}

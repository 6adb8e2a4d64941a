package usecase

import "time"

// Outbox channels, also used as RabbitMQ routing keys.
const (
	ChannelOrderCreated    = "order.created"
	ChannelOrderPaid       = "order.paid"
	ChannelOrderProcessed  = "order.processed"
	ChannelOrderRefunded   = "order.refunded"
	ChannelRefundRequired  = "payment.refund_required"
	ChannelRefundRequested = "order.refund_requested" // published by the admin back office
)

// OrderEventMsg is published for every order lifecycle change.
type OrderEventMsg struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"orderId"`
	OwnerID    string    `json:"ownerId"`
	Status     string    `json:"status"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	PaymentID  string    `json:"paymentId,omitempty"`
	LinkCount  int       `json:"linkCount,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// RefundMsg asks for a refund. With PaymentID set it refunds that superseded
// capture; otherwise it refunds the captured payment of OrderID.
type RefundMsg struct {
	OrderID   string `json:"orderId,omitempty"`
	PaymentID string `json:"paymentId,omitempty"`
	Reason    string `json:"reason"`
}

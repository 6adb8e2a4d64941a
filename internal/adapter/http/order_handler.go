package http

import (
	"context"
	"net/http"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/gin-gonic/gin"
)

type OrderCreator interface {
	Execute(ctx context.Context, in usecase.CreateOrderInput) (usecase.CreateOrderOutput, error)
}

type OrderQueries interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListPayments(ctx context.Context, orderID string) ([]*domain.Payment, error)
	ListLinks(ctx context.Context, orderID string) ([]*domain.SecureLink, error)
}

type OrderHandler struct {
	create OrderCreator
	query  OrderQueries
}

func NewOrderHandler(create OrderCreator, query OrderQueries) *OrderHandler {
	return &OrderHandler{create: create, query: query}
}

type createOrderReq struct {
	CartID string `json:"cartId" binding:"required"`
}

type createOrderResp struct {
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	Replayed bool   `json:"replayed"`
}

// CreateOrder handler: translate to use case input
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "cartId required"})
		return
	}

	idemKey := c.GetHeader("X-Idempotency-Key") // prevent duplicated requests

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	out, err := h.create.Execute(ctx, usecase.CreateOrderInput{
		CartID:         req.CartID,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, createOrderResp{
		OrderID:  out.OrderID,
		Status:   out.Status.String(),
		Replayed: out.Replayed,
	})
}

type orderItemView struct {
	ID         string `json:"id"`
	CourseID   string `json:"courseId"`
	SessionID  string `json:"sessionId,omitempty"`
	CourseType string `json:"courseType"`
	UnitPrice  string `json:"unitPrice"`
	Quantity   int    `json:"quantity"`
}

type paymentView struct {
	ID            string     `json:"id"`
	Provider      string     `json:"provider"`
	Status        string     `json:"status"`
	Amount        string     `json:"amount"`
	FailureReason string     `json:"failureReason,omitempty"`
	CapturedAt    *time.Time `json:"capturedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type orderView struct {
	ID        string          `json:"id"`
	CartID    string          `json:"cartId"`
	OwnerID   string          `json:"ownerId"`
	Status    string          `json:"status"`
	Amount    string          `json:"amount"`
	Currency  string          `json:"currency"`
	Items     []orderItemView `json:"items"`
	Payments  []paymentView   `json:"payments"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func toOrderView(o *domain.Order, pays []*domain.Payment) orderView {
	v := orderView{
		ID:        o.ID,
		CartID:    o.CartID,
		OwnerID:   o.OwnerID,
		Status:    o.Status.String(),
		Amount:    o.Amount.StringFixed(2),
		Currency:  o.Currency,
		Items:     make([]orderItemView, 0, len(o.Items)),
		Payments:  make([]paymentView, 0, len(pays)),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, orderItemView{
			ID:         it.ID,
			CourseID:   it.CourseID,
			SessionID:  it.SessionID,
			CourseType: string(it.CourseType),
			UnitPrice:  it.UnitPrice.StringFixed(2),
			Quantity:   it.Quantity,
		})
	}
	for _, p := range pays {
		v.Payments = append(v.Payments, paymentView{
			ID:            p.ID,
			Provider:      p.Provider,
			Status:        string(p.Status),
			Amount:        p.Amount.StringFixed(2),
			FailureReason: p.FailureReason,
			CapturedAt:    p.CapturedAt,
			CreatedAt:     p.CreatedAt,
		})
	}
	return v
}

func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	o, err := h.query.GetOrder(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	pays, err := h.query.ListPayments(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderView(o, pays))
}

type linkView struct {
	Token         string    `json:"token"`
	OrderItemID   string    `json:"orderItemId"`
	AttachmentID  string    `json:"attachmentId"`
	ExpiresAt     time.Time `json:"expiresAt"`
	RemainingUses int       `json:"remainingUses"`
}

func (h *OrderHandler) ListSecureLinks(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	links, err := h.query.ListLinks(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]linkView, 0, len(links))
	for _, l := range links {
		out = append(out, linkView{
			Token:         l.Token,
			OrderItemID:   l.OrderItemID,
			AttachmentID:  l.AttachmentID,
			ExpiresAt:     l.ExpiresAt,
			RemainingUses: l.RemainingUses,
		})
	}
	c.JSON(http.StatusOK, gin.H{"links": out})
}

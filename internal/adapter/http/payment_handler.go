package http

import (
	"context"
	"io"
	"net/http"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/gin-gonic/gin"
)

const maxWebhookBytes = 1 << 20

type PaymentService interface {
	CreateCheckoutSession(ctx context.Context, orderID, returnURL string) (usecase.CheckoutOutput, error)
	HandleCallback(ctx context.Context, provider string, raw []byte, headers http.Header) (usecase.CallbackResult, error)
	Refund(ctx context.Context, orderID, reason string) error
	CompleteFulfillment(ctx context.Context, orderID string) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

type PaymentHandler struct {
	svc PaymentService
}

func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

type checkoutReq struct {
	OrderID   string `json:"orderId" binding:"required"`
	ReturnURL string `json:"returnUrl" binding:"required"`
}

func (h *PaymentHandler) Checkout(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "orderId and returnUrl required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 45*time.Second)
	defer cancel()

	out, err := h.svc.CreateCheckoutSession(ctx, req.OrderID, req.ReturnURL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"paymentId":   out.PaymentID,
		"provider":    out.Provider,
		"redirectUrl": out.RedirectURL,
	})
}

// Webhook acknowledges every verified event, replays included.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	provider := c.Param("provider")
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body_too_large"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	res, err := h.svc.HandleCallback(ctx, provider, raw, c.Request.Header)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"received":      true,
		"duplicate":     res.Duplicate,
		"paymentId":     res.PaymentID,
		"paymentStatus": res.PaymentStatus,
		"orderStatus":   res.OrderStatus,
	})
}

type refundReq struct {
	Reason string `json:"reason"`
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	var req refundReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request"})
			return
		}
	}
	id := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 45*time.Second)
	defer cancel()

	if err := h.svc.Refund(ctx, id, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	o, err := h.svc.GetOrder(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}
	logging.From(c).Info("order refunded by admin", "order_id", id, "reason", req.Reason)
	c.JSON(http.StatusOK, gin.H{"orderId": o.ID, "status": o.Status})
}

func (h *PaymentHandler) Fulfill(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	o, err := h.svc.CompleteFulfillment(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": o.ID, "status": o.Status})
}

package http

import (
	"github.com/aq2208/course-orders/internal/adapter/http/middleware"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/aq2208/course-orders/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Orders   *OrderHandler
	Payments *PaymentHandler
	Links    *LinkHandler
	Tokens   *TokenHandler
}

// NewRouter wires routes. webhookLimit may be nil.
func NewRouter(h Handlers, authz *middleware.Authz, webhookLimit *middleware.RateLimit) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())

	l := logging.New("http")
	r.Use(middleware.Logging(l))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhook := []gin.HandlerFunc{h.Payments.Webhook}
	if webhookLimit != nil {
		webhook = append([]gin.HandlerFunc{webhookLimit.Handler()}, webhook...)
	}

	v1 := r.Group("/v1")
	{
		v1.POST("/token", h.Tokens.IssueToken)

		v1.POST("/orders", authz.Require(security.PermOrdersWrite), h.Orders.CreateOrder)
		v1.GET("/orders/:id", authz.Require(security.PermOrdersRead), h.Orders.GetOrderByID)
		v1.GET("/orders/:id/secure-links", authz.Require(security.PermOrdersRead), h.Orders.ListSecureLinks)

		v1.POST("/payments/checkout", authz.Require(security.PermPaymentsWrite), h.Payments.Checkout)
		v1.POST("/payments/webhook/:provider", webhook...)

		v1.GET("/secure-links/:token", h.Links.Resolve)

		admin := v1.Group("/admin")
		admin.POST("/orders/:id/refund", authz.Require(security.PermRefundsWrite), h.Payments.Refund)
		admin.POST("/orders/:id/fulfill", authz.Require(security.PermOrdersAdmin), h.Payments.Fulfill)
	}

	return r
}

// ProviderKey buckets webhook rate limits per provider.
func ProviderKey(c *gin.Context) string { return c.Param("provider") }

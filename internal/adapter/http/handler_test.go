package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aq2208/course-orders/configs"
	"github.com/aq2208/course-orders/internal/adapter/http/middleware"
	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/security"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCreator struct {
	out usecase.CreateOrderOutput
	err error
	in  usecase.CreateOrderInput
}

func (f *fakeCreator) Execute(_ context.Context, in usecase.CreateOrderInput) (usecase.CreateOrderOutput, error) {
	f.in = in
	return f.out, f.err
}

type fakeService struct {
	order       *domain.Order
	err         error
	callback    usecase.CallbackResult
	callbackErr error
	link        string
	linkErr     error
}

func (f *fakeService) GetOrder(context.Context, string) (*domain.Order, error) { return f.order, f.err }
func (f *fakeService) ListPayments(context.Context, string) ([]*domain.Payment, error) {
	return nil, nil
}
func (f *fakeService) ListLinks(context.Context, string) ([]*domain.SecureLink, error) {
	return []*domain.SecureLink{{Token: "tok", RemainingUses: 5}}, f.err
}
func (f *fakeService) CreateCheckoutSession(context.Context, string, string) (usecase.CheckoutOutput, error) {
	return usecase.CheckoutOutput{PaymentID: "p-1", Provider: "paylink", RedirectURL: "https://pay"}, f.err
}
func (f *fakeService) HandleCallback(context.Context, string, []byte, http.Header) (usecase.CallbackResult, error) {
	return f.callback, f.callbackErr
}
func (f *fakeService) Refund(context.Context, string, string) error { return f.err }
func (f *fakeService) CompleteFulfillment(context.Context, string) (*domain.Order, error) {
	return f.order, f.err
}
func (f *fakeService) ResolveLink(context.Context, string) (string, error) { return f.link, f.linkErr }

func testConfig() configs.Config {
	var cfg configs.Config
	cfg.Security.JWTSecret = "test-secret"
	cfg.Security.Issuer = "order-engine"
	cfg.Security.Audience = "order-engine-clients"
	cfg.Security.TTL = time.Minute
	return cfg
}

type harness struct {
	router  *gin.Engine
	creator *fakeCreator
	svc     *fakeService
}

func newHarness(t *testing.T, webhookRate float64) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	clients := security.NewClients([]configs.ClientConfig{
		{ID: "storefront", Secret: "sf", Perms: []string{security.PermOrdersRead, security.PermOrdersWrite, security.PermPaymentsWrite}},
		{ID: "backoffice", Secret: "bo", Perms: []string{security.PermOrdersRead, security.PermRefundsWrite, security.PermOrdersAdmin}},
	})
	h := &harness{creator: &fakeCreator{}, svc: &fakeService{}}
	var limit *middleware.RateLimit
	if webhookRate > 0 {
		limit = middleware.NewRateLimit(webhookRate, 1, ProviderKey)
	}
	h.router = NewRouter(Handlers{
		Orders:   NewOrderHandler(h.creator, h.svc),
		Payments: NewPaymentHandler(h.svc),
		Links:    NewLinkHandler(h.svc, "https://files.example/"),
		Tokens:   NewTokenHandler(cfg, clients),
	}, middleware.NewAuthz(cfg), limit)
	return h
}

func (h *harness) token(t *testing.T, id, secret string) string {
	t.Helper()
	form := url.Values{"client_id": {id}, "client_secret": {secret}}
	req := httptest.NewRequest(http.MethodPost, "/v1/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, int64(60), out.ExpiresIn)
	return out.AccessToken
}

func (h *harness) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestTokenRejectsBadClient(t *testing.T) {
	h := newHarness(t, 0)
	w := h.do(http.MethodPost, "/v1/token", "", `{"client_id":"storefront","client_secret":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/v1/token", "", `{"client_id":"storefront","client_secret":"sf","scope":"refunds.write"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthz(t *testing.T) {
	h := newHarness(t, 0)
	h.creator.out = usecase.CreateOrderOutput{OrderID: "o-1", Status: domain.StatusNew}

	w := h.do(http.MethodPost, "/v1/orders", "", `{"cartId":"c-1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/v1/orders", "garbage", `{"cartId":"c-1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	back := h.token(t, "backoffice", "bo")
	w = h.do(http.MethodPost, "/v1/orders", back, `{"cartId":"c-1"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	front := h.token(t, "storefront", "sf")
	w = h.do(http.MethodPost, "/v1/admin/orders/o-1/refund", front, ``)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateOrder(t *testing.T) {
	h := newHarness(t, 0)
	tok := h.token(t, "storefront", "sf")
	h.creator.out = usecase.CreateOrderOutput{OrderID: "o-1", Status: domain.StatusNew}

	req := httptest.NewRequest(http.MethodPost, "/v1/orders", strings.NewReader(`{"cartId":"c-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("X-Idempotency-Key", "k-1")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orderId":"o-1","status":"NEW","replayed":false}`, w.Body.String())
	assert.Equal(t, usecase.CreateOrderInput{CartID: "c-1", IdempotencyKey: "k-1"}, h.creator.in)

	w = h.do(http.MethodPost, "/v1/orders", tok, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
		body string
	}{
		{fmt.Errorf("%w: empty cart", domain.ErrValidation), http.StatusBadRequest,
			`{"error":"validation_failed","message":"validation failed: empty cart"}`},
		{fmt.Errorf("%w: order o-9 of tenant t-2", domain.ErrNotFound), http.StatusNotFound, `{"error":"not_found"}`},
		{fmt.Errorf("%w: order o-1 is at version 4, expected 3", domain.ErrConflict), http.StatusConflict, `{"error":"conflict"}`},
		{&domain.InvalidTransitionError{From: domain.StatusNew, Event: domain.EventRefunded}, http.StatusConflict, `{"error":"invalid_transition"}`},
		{&domain.GatewayError{Provider: "paylink", Op: "create_session", Err: fmt.Errorf("dial tcp 10.0.0.7:443: timeout")}, http.StatusBadGateway, `{"error":"gateway_error"}`},
		{fmt.Errorf("db exploded"), http.StatusInternalServerError, `{"error":"internal_error"}`},
	}
	h := newHarness(t, 0)
	tok := h.token(t, "storefront", "sf")
	for _, tc := range cases {
		h.creator.err = tc.err
		w := h.do(http.MethodPost, "/v1/orders", tok, `{"cartId":"c-1"}`)
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
		assert.JSONEq(t, tc.body, w.Body.String(), tc.err.Error())
	}
}

func TestGetOrderView(t *testing.T) {
	h := newHarness(t, 0)
	tok := h.token(t, "storefront", "sf")
	h.svc.order = &domain.Order{
		ID: "o-1", CartID: "c-1", OwnerID: "u-1", Status: domain.StatusPendingPayment,
		Currency: "USD", Amount: decimal.RequireFromString("49.9"),
		Items: []domain.OrderItem{{ID: "i-1", CourseID: "course-1", CourseType: domain.CourseDigital, UnitPrice: decimal.RequireFromString("49.9"), Quantity: 1}},
	}

	w := h.do(http.MethodGet, "/v1/orders/o-1", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	var v orderView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.Equal(t, "49.90", v.Amount)
	assert.Equal(t, "PENDING_PAYMENT", v.Status)
	require.Len(t, v.Items, 1)
	assert.Equal(t, "DIGITAL", v.Items[0].CourseType)

	w = h.do(http.MethodGet, "/v1/orders/o-1/secure-links", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"token":"tok"`)
}

func TestWebhook(t *testing.T) {
	h := newHarness(t, 0)
	h.svc.callback = usecase.CallbackResult{PaymentID: "p-1", PaymentStatus: domain.PaymentCaptured, OrderStatus: domain.StatusProcessed, Duplicate: true}

	w := h.do(http.MethodPost, "/v1/payments/webhook/paylink", "", `{"id":"evt"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"duplicate":true`)

	h.svc.callbackErr = fmt.Errorf("%w: signature mismatch: expected 9f2c, computed 41ab", domain.ErrVerification)
	w = h.do(http.MethodPost, "/v1/payments/webhook/paylink", "", `{"id":"evt"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"verification_failed"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "9f2c")

	h.svc.callbackErr = fmt.Errorf("%w: unknown provider", domain.ErrNotFound)
	w = h.do(http.MethodPost, "/v1/payments/webhook/nope", "", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhookRateLimited(t *testing.T) {
	h := newHarness(t, 0.001)
	w := h.do(http.MethodPost, "/v1/payments/webhook/paylink", "", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodPost, "/v1/payments/webhook/paylink", "", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	w = h.do(http.MethodPost, "/v1/payments/webhook/securepay", "", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResolveLink(t *testing.T) {
	h := newHarness(t, 0)
	h.svc.link = "/courses/c1/intro.pdf"
	w := h.do(http.MethodGet, "/v1/secure-links/tok", "", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://files.example/courses/c1/intro.pdf", w.Header().Get("Location"))

	h.svc.linkErr = domain.ErrExpiredLink
	w = h.do(http.MethodGet, "/v1/secure-links/tok", "", "")
	assert.Equal(t, http.StatusGone, w.Code)

	h.svc.linkErr = domain.ErrNotFound
	w = h.do(http.MethodGet, "/v1/secure-links/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t, 0)
	tok := h.token(t, "backoffice", "bo")
	h.svc.order = &domain.Order{ID: "o-1", Status: domain.StatusRefunded}

	w := h.do(http.MethodPost, "/v1/admin/orders/o-1/refund", tok, `{"reason":"requested"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orderId":"o-1","status":"REFUNDED"}`, w.Body.String())

	h.svc.order = &domain.Order{ID: "o-1", Status: domain.StatusProcessed}
	w = h.do(http.MethodPost, "/v1/admin/orders/o-1/fulfill", tok, ``)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orderId":"o-1","status":"PROCESSED"}`, w.Body.String())
}

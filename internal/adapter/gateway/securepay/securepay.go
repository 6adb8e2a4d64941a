// Package securepay talks to the SecurePay checkout API. Requests are signed
// with our RSA key; webhooks arrive as an AES-GCM envelope signed by SecurePay.
package securepay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aq2208/course-orders/internal/adapter/gateway"
	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/security"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/shopspring/decimal"
)

const (
	Name              = "securepay"
	SignatureHeader   = "X-Signature"
	MerchantHeader    = "X-Merchant-Id"
	IdempotencyHeader = "Idempotency-Key"
)

type Config struct {
	BaseURL       string
	MerchantID    string
	RatePerSecond float64
	Timeout       time.Duration
}

type Gateway struct {
	cfg    Config
	cs     security.CryptoService
	client *gateway.JSONClient
}

func New(cfg Config, cs security.CryptoService) *Gateway {
	return &Gateway{
		cfg:    cfg,
		cs:     cs,
		client: gateway.NewJSONClient(Name, cfg.BaseURL, cfg.RatePerSecond, cfg.Timeout),
	}
}

func (g *Gateway) Name() string { return Name }

// Notification is the decrypted webhook payload.
type Notification struct {
	EventID    string    `json:"event_id"`
	CheckoutID string    `json:"checkout_id"`
	Result     string    `json:"result"` // CAPTURED|DECLINED|EXPIRED|PENDING
	OccurredAt time.Time `json:"occurred_at"`
}

type checkoutReq struct {
	MerchantID string `json:"merchant_id"`
	OrderRef   string `json:"order_ref"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	ReturnURL  string `json:"return_url"`
}

type checkoutResp struct {
	CheckoutID  string `json:"checkout_id"`
	RedirectURL string `json:"redirect_url"`
	Result      string `json:"result"`
}

func (g *Gateway) signed(op string, v any) ([]byte, http.Header, error) {
	var body []byte
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, nil, err
		}
		body = b
	}
	sig, err := g.cs.Sign(body)
	if err != nil {
		return nil, nil, &domain.GatewayError{Provider: Name, Op: op, Err: err}
	}
	h := http.Header{}
	h.Set(MerchantHeader, g.cfg.MerchantID)
	h.Set(SignatureHeader, base64.StdEncoding.EncodeToString(sig))
	return body, h, nil
}

func (g *Gateway) CreateSession(ctx context.Context, o *domain.Order, paymentID, returnURL string) (usecase.GatewaySession, error) {
	body, h, err := g.signed("create_session", checkoutReq{
		MerchantID: g.cfg.MerchantID,
		OrderRef:   paymentID,
		Amount:     o.Amount.StringFixed(2),
		Currency:   o.Currency,
		ReturnURL:  returnURL,
	})
	if err != nil {
		return usecase.GatewaySession{}, err
	}
	var resp checkoutResp
	if err := g.client.Do(ctx, "create_session", http.MethodPost, "/checkout", h, body, &resp); err != nil {
		return usecase.GatewaySession{}, err
	}
	if resp.CheckoutID == "" || resp.RedirectURL == "" {
		return usecase.GatewaySession{}, &domain.GatewayError{Provider: Name, Op: "create_session", Err: fmt.Errorf("incomplete checkout response")}
	}
	return usecase.GatewaySession{ProviderRef: resp.CheckoutID, RedirectURL: resp.RedirectURL}, nil
}

func (g *Gateway) VerifyCallback(raw []byte, _ http.Header) (usecase.ParsedEvent, error) {
	var env security.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return usecase.ParsedEvent{}, fmt.Errorf("%w: envelope: %v", domain.ErrVerification, err)
	}
	pt, err := security.Open(g.cs, env)
	if err != nil {
		return usecase.ParsedEvent{}, fmt.Errorf("%w: %v", domain.ErrVerification, err)
	}
	var n Notification
	if err := json.Unmarshal(pt, &n); err != nil {
		return usecase.ParsedEvent{}, fmt.Errorf("%w: payload: %v", domain.ErrVerification, err)
	}
	if n.EventID == "" || n.CheckoutID == "" {
		return usecase.ParsedEvent{}, fmt.Errorf("%w: missing event id or checkout", domain.ErrVerification)
	}
	return usecase.ParsedEvent{
		ProviderRef: n.CheckoutID,
		EventID:     n.EventID,
		Outcome:     resultOutcome(n.Result),
		OccurredAt:  n.OccurredAt.UTC(),
	}, nil
}

func resultOutcome(r string) usecase.Outcome {
	switch strings.ToUpper(r) {
	case "CAPTURED":
		return usecase.OutcomeSucceeded
	case "DECLINED":
		return usecase.OutcomeFailed
	case "EXPIRED":
		return usecase.OutcomeExpired
	}
	return usecase.OutcomePending
}

func (g *Gateway) QueryStatus(ctx context.Context, providerRef string) (usecase.ProviderStatus, error) {
	_, h, err := g.signed("query_status", nil)
	if err != nil {
		return usecase.ProviderStatus{}, err
	}
	var resp checkoutResp
	path := "/checkout/" + url.PathEscape(providerRef) + "/status"
	if err := g.client.Do(ctx, "query_status", http.MethodGet, path, h, nil, &resp); err != nil {
		return usecase.ProviderStatus{}, err
	}
	return usecase.ProviderStatus{ProviderRef: providerRef, Outcome: resultOutcome(resp.Result)}, nil
}

func (g *Gateway) Refund(ctx context.Context, providerRef string, amount decimal.Decimal, currency string) error {
	body, h, err := g.signed("refund", map[string]string{
		"merchant_id": g.cfg.MerchantID,
		"amount":      amount.StringFixed(2),
		"currency":    currency,
	})
	if err != nil {
		return err
	}
	// one refund per checkout, so a repeated call is recognised by the provider
	h.Set(IdempotencyHeader, "refund:"+providerRef)
	path := "/checkout/" + url.PathEscape(providerRef) + "/refund"
	return g.client.Do(ctx, "refund", http.MethodPost, path, h, body, nil)
}

// SealNotification builds a webhook body the way SecurePay sends it.
func SealNotification(cs security.CryptoService, n Notification) ([]byte, error) {
	pt, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	env, err := security.Seal(cs, pt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

var _ usecase.Gateway = (*Gateway)(nil)

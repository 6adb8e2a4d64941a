// Package paylink talks to the Paylink hosted checkout. Webhooks carry an
// HMAC-SHA256 signature over "<unix ts>.<body>" in the X-Paylink-Signature header.
package paylink

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aq2208/course-orders/internal/adapter/gateway"
	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/shopspring/decimal"
)

const (
	Name            = "paylink"
	SignatureHeader = "X-Paylink-Signature"
)

type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	Tolerance     time.Duration
	RatePerSecond float64
	Timeout       time.Duration
}

type Gateway struct {
	cfg    Config
	client *gateway.JSONClient
	now    func() time.Time
}

func New(cfg Config) *Gateway {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	return &Gateway{
		cfg:    cfg,
		client: gateway.NewJSONClient(Name, cfg.BaseURL, cfg.RatePerSecond, cfg.Timeout),
		now:    time.Now,
	}
}

func (g *Gateway) Name() string { return Name }

type sessionReq struct {
	Reference string `json:"reference"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	ReturnURL string `json:"return_url"`
}

type sessionResp struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

func (g *Gateway) headers(idempotencyKey string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+g.cfg.APIKey)
	if idempotencyKey != "" {
		h.Set("Idempotency-Key", idempotencyKey)
	}
	return h
}

func (g *Gateway) CreateSession(ctx context.Context, o *domain.Order, paymentID, returnURL string) (usecase.GatewaySession, error) {
	body, err := json.Marshal(sessionReq{
		Reference: paymentID,
		OrderID:   o.ID,
		Amount:    o.Amount.StringFixed(2),
		Currency:  o.Currency,
		ReturnURL: returnURL,
	})
	if err != nil {
		return usecase.GatewaySession{}, err
	}
	var resp sessionResp
	if err := g.client.Do(ctx, "create_session", http.MethodPost, "/v1/sessions", g.headers(paymentID), body, &resp); err != nil {
		return usecase.GatewaySession{}, err
	}
	if resp.ID == "" || resp.URL == "" {
		return usecase.GatewaySession{}, &domain.GatewayError{Provider: Name, Op: "create_session", Err: fmt.Errorf("incomplete session response")}
	}
	return usecase.GatewaySession{ProviderRef: resp.ID, RedirectURL: resp.URL}, nil
}

type event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		SessionID string `json:"session_id"`
	} `json:"data"`
}

func (g *Gateway) VerifyCallback(raw []byte, headers http.Header) (usecase.ParsedEvent, error) {
	ts, sigs, err := parseSignatureHeader(headers.Get(SignatureHeader))
	if err != nil {
		return usecase.ParsedEvent{}, err
	}
	age := g.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > g.cfg.Tolerance {
		return usecase.ParsedEvent{}, fmt.Errorf("%w: timestamp outside tolerance", domain.ErrVerification)
	}
	want := Sign(g.cfg.WebhookSecret, ts, raw)
	ok := false
	for _, s := range sigs {
		if hmac.Equal([]byte(s), []byte(want)) {
			ok = true
			break
		}
	}
	if !ok {
		return usecase.ParsedEvent{}, fmt.Errorf("%w: signature mismatch", domain.ErrVerification)
	}

	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return usecase.ParsedEvent{}, fmt.Errorf("%w: body: %v", domain.ErrVerification, err)
	}
	if ev.ID == "" || ev.Data.SessionID == "" {
		return usecase.ParsedEvent{}, fmt.Errorf("%w: missing event id or session", domain.ErrVerification)
	}
	occurred := time.Unix(ts, 0).UTC()
	if ev.Created > 0 {
		occurred = time.Unix(ev.Created, 0).UTC()
	}
	return usecase.ParsedEvent{
		ProviderRef: ev.Data.SessionID,
		EventID:     ev.ID,
		Outcome:     eventOutcome(ev.Type),
		OccurredAt:  occurred,
	}, nil
}

func eventOutcome(t string) usecase.Outcome {
	switch t {
	case "payment.succeeded":
		return usecase.OutcomeSucceeded
	case "payment.failed":
		return usecase.OutcomeFailed
	case "session.expired", "payment.expired":
		return usecase.OutcomeExpired
	}
	return usecase.OutcomePending
}

func statusOutcome(s string) usecase.Outcome {
	switch s {
	case "paid":
		return usecase.OutcomeSucceeded
	case "failed":
		return usecase.OutcomeFailed
	case "expired":
		return usecase.OutcomeExpired
	}
	return usecase.OutcomePending
}

func (g *Gateway) QueryStatus(ctx context.Context, providerRef string) (usecase.ProviderStatus, error) {
	var resp sessionResp
	path := "/v1/sessions/" + url.PathEscape(providerRef)
	if err := g.client.Do(ctx, "query_status", http.MethodGet, path, g.headers(""), nil, &resp); err != nil {
		return usecase.ProviderStatus{}, err
	}
	return usecase.ProviderStatus{ProviderRef: providerRef, Outcome: statusOutcome(resp.Status)}, nil
}

func (g *Gateway) Refund(ctx context.Context, providerRef string, amount decimal.Decimal, currency string) error {
	body, err := json.Marshal(map[string]string{
		"amount":   amount.StringFixed(2),
		"currency": currency,
	})
	if err != nil {
		return err
	}
	path := "/v1/sessions/" + url.PathEscape(providerRef) + "/refunds"
	return g.client.Do(ctx, "refund", http.MethodPost, path, g.headers("refund:"+providerRef), body, nil)
}

// Sign returns the hex HMAC-SHA256 of "<ts>.<body>".
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureValue formats a header value for body signed at ts.
func SignatureValue(secret string, ts int64, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, Sign(secret, ts, body))
}

func parseSignatureHeader(h string) (int64, []string, error) {
	if h == "" {
		return 0, nil, fmt.Errorf("%w: missing %s", domain.ErrVerification, SignatureHeader)
	}
	var (
		ts   int64
		sigs []string
	)
	for _, part := range strings.Split(h, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: bad timestamp", domain.ErrVerification)
			}
			ts = n
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed %s", domain.ErrVerification, SignatureHeader)
	}
	return ts, sigs, nil
}

var _ usecase.Gateway = (*Gateway)(nil)

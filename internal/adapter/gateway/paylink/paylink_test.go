package paylink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aq2208/course-orders/internal/adapter/gateway"
	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "whsec_test"

func newGateway(baseURL string) *Gateway {
	g := New(Config{BaseURL: baseURL, APIKey: "pk_test", WebhookSecret: secret, Timeout: 2 * time.Second})
	return g
}

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		assert.Equal(t, "Bearer pk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "pay-1", r.Header.Get("Idempotency-Key"))

		var req sessionReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pay-1", req.Reference)
		assert.Equal(t, "120.50", req.Amount)
		assert.Equal(t, "USD", req.Currency)

		_ = json.NewEncoder(w).Encode(sessionResp{ID: "ps_1", URL: "https://pay.example/ps_1"})
	}))
	defer srv.Close()

	o := &domain.Order{ID: "o-1", Currency: "USD", Amount: decimal.RequireFromString("120.5")}
	sess, err := newGateway(srv.URL).CreateSession(context.Background(), o, "pay-1", "https://shop/return")
	require.NoError(t, err)
	assert.Equal(t, "ps_1", sess.ProviderRef)
	assert.Equal(t, "https://pay.example/ps_1", sess.RedirectURL)
}

func TestCreateSession_ServerErrorIsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newGateway(srv.URL).CreateSession(context.Background(), &domain.Order{ID: "o-1"}, "pay-1", "u")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGateway)
	var se *gateway.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestVerifyCallback(t *testing.T) {
	g := newGateway("http://unused")
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }

	body := []byte(`{"id":"evt_1","type":"payment.succeeded","created":1700000000,"data":{"session_id":"ps_1"}}`)
	h := http.Header{}
	h.Set(SignatureHeader, SignatureValue(secret, now.Unix(), body))

	ev, err := g.VerifyCallback(body, h)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, "ps_1", ev.ProviderRef)
	assert.Equal(t, usecase.OutcomeSucceeded, ev.Outcome)
	assert.Equal(t, now.UTC(), ev.OccurredAt)
}

func TestVerifyCallback_Rejects(t *testing.T) {
	g := newGateway("http://unused")
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }
	body := []byte(`{"id":"evt_1","type":"payment.failed","data":{"session_id":"ps_1"}}`)

	cases := map[string]string{
		"missing header": "",
		"garbage":        "nonsense",
		"wrong secret":   SignatureValue("other", now.Unix(), body),
		"stale":          SignatureValue(secret, now.Add(-time.Hour).Unix(), body),
	}
	for name, hv := range cases {
		t.Run(name, func(t *testing.T) {
			h := http.Header{}
			if hv != "" {
				h.Set(SignatureHeader, hv)
			}
			_, err := g.VerifyCallback(body, h)
			assert.ErrorIs(t, err, domain.ErrVerification)
		})
	}

	t.Run("tampered body", func(t *testing.T) {
		h := http.Header{}
		h.Set(SignatureHeader, SignatureValue(secret, now.Unix(), body))
		_, err := g.VerifyCallback([]byte(`{"id":"evt_1","type":"payment.succeeded","data":{"session_id":"ps_1"}}`), h)
		assert.ErrorIs(t, err, domain.ErrVerification)
	})
}

func TestQueryStatusAndRefund(t *testing.T) {
	var refunded bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/sessions/ps_1":
			_ = json.NewEncoder(w).Encode(sessionResp{ID: "ps_1", Status: "expired"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/sessions/ps_1/refunds":
			refunded = true
			w.WriteHeader(http.StatusAccepted)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := newGateway(srv.URL)
	st, err := g.QueryStatus(context.Background(), "ps_1")
	require.NoError(t, err)
	assert.Equal(t, usecase.OutcomeExpired, st.Outcome)

	require.NoError(t, g.Refund(context.Background(), "ps_1", decimal.NewFromInt(10), "USD"))
	assert.True(t, refunded)
}

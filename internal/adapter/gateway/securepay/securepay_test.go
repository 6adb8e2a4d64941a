package securepay

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aq2208/course-orders/configs"
	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/security"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cryptoService(t *testing.T) security.CryptoService {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	aes := make([]byte, 32)
	_, err = rand.Read(aes)
	require.NoError(t, err)

	cs, err := security.NewCryptoServiceFromKeys(configs.CryptoKeys{
		KeyID:     "sp-test",
		AES256B64: base64.RawURLEncoding.EncodeToString(aes),
		RSAPubPEM: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		RSAPriPEM: string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})),
	})
	require.NoError(t, err)
	return cs
}

func TestCreateSession_SignsRequest(t *testing.T) {
	cs := cryptoService(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout", r.URL.Path)
		assert.Equal(t, "m-1", r.Header.Get(MerchantHeader))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		sig, err := base64.StdEncoding.DecodeString(r.Header.Get(SignatureHeader))
		require.NoError(t, err)
		assert.NoError(t, cs.Verify(body, sig))

		var req checkoutReq
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "pay-9", req.OrderRef)
		assert.Equal(t, "300.00", req.Amount)
		assert.Equal(t, "SAR", req.Currency)

		_ = json.NewEncoder(w).Encode(checkoutResp{CheckoutID: "chk_9", RedirectURL: "https://sp.example/chk_9"})
	}))
	defer srv.Close()

	g := New(Config{BaseURL: srv.URL, MerchantID: "m-1", Timeout: 2 * time.Second}, cs)
	o := &domain.Order{ID: "o-9", Currency: "SAR", Amount: decimal.NewFromInt(300)}
	sess, err := g.CreateSession(context.Background(), o, "pay-9", "https://shop/return")
	require.NoError(t, err)
	assert.Equal(t, "chk_9", sess.ProviderRef)
	assert.Equal(t, "https://sp.example/chk_9", sess.RedirectURL)
}

func TestVerifyCallback_Envelope(t *testing.T) {
	cs := cryptoService(t)
	g := New(Config{BaseURL: "http://unused"}, cs)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := SealNotification(cs, Notification{EventID: "sp-evt-1", CheckoutID: "chk_9", Result: "DECLINED", OccurredAt: at})
	require.NoError(t, err)

	ev, err := g.VerifyCallback(raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "sp-evt-1", ev.EventID)
	assert.Equal(t, "chk_9", ev.ProviderRef)
	assert.Equal(t, usecase.OutcomeFailed, ev.Outcome)
	assert.Equal(t, at, ev.OccurredAt)
}

func TestVerifyCallback_RejectsForeignOrBrokenEnvelope(t *testing.T) {
	g := New(Config{BaseURL: "http://unused"}, cryptoService(t))

	foreign, err := SealNotification(cryptoService(t), Notification{EventID: "e", CheckoutID: "c", Result: "CAPTURED"})
	require.NoError(t, err)
	_, err = g.VerifyCallback(foreign, nil)
	assert.ErrorIs(t, err, domain.ErrVerification)

	_, err = g.VerifyCallback([]byte(`not json`), nil)
	assert.ErrorIs(t, err, domain.ErrVerification)

	_, err = g.VerifyCallback([]byte(`{"data":"","signature":""}`), nil)
	assert.ErrorIs(t, err, domain.ErrVerification)
}

func TestQueryStatus_GatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := New(Config{BaseURL: srv.URL, Timeout: time.Second}, cryptoService(t))
	_, err := g.QueryStatus(context.Background(), "chk_1")
	assert.ErrorIs(t, err, domain.ErrGateway)
}

func TestQueryStatusAndRefund(t *testing.T) {
	var (
		refundBody map[string]string
		refundKey  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/checkout/chk_1/status":
			_ = json.NewEncoder(w).Encode(checkoutResp{CheckoutID: "chk_1", Result: "CAPTURED"})
		case "/checkout/chk_1/refund":
			_ = json.NewDecoder(r.Body).Decode(&refundBody)
			refundKey = r.Header.Get(IdempotencyHeader)
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := New(Config{BaseURL: srv.URL, MerchantID: "m-1"}, cryptoService(t))
	st, err := g.QueryStatus(context.Background(), "chk_1")
	require.NoError(t, err)
	assert.Equal(t, usecase.OutcomeSucceeded, st.Outcome)

	require.NoError(t, g.Refund(context.Background(), "chk_1", decimal.RequireFromString("99.5"), "SAR"))
	assert.Equal(t, "99.50", refundBody["amount"])
	assert.Equal(t, "m-1", refundBody["merchant_id"])
	assert.Equal(t, "refund:chk_1", refundKey)
}

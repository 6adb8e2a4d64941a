package usecase_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aq2208/course-orders/internal/adapter/cache"
	"github.com/aq2208/course-orders/internal/adapter/gateway"
	"github.com/aq2208/course-orders/internal/adapter/repo"
	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway accepts callbacks shaped as fakeEvent and signed with the
// X-Test-Signature header set to "ok".
type fakeGateway struct {
	mu          sync.Mutex
	statuses    map[string]usecase.Outcome
	refunds     []string
	createErr   error
	createHits  int
	refundDelay time.Duration

	// createGate, when set, holds each CreateSession until every caller counted in it has arrived.
	createGate *sync.WaitGroup
}

type fakeEvent struct {
	ID      string `json:"id"`
	Ref     string `json:"ref"`
	Outcome string `json:"outcome"`
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]usecase.Outcome{}}
}

func (g *fakeGateway) Name() string { return "fakepay" }

func (g *fakeGateway) CreateSession(_ context.Context, _ *domain.Order, paymentID, _ string) (usecase.GatewaySession, error) {
	g.mu.Lock()
	gate := g.createGate
	g.mu.Unlock()
	if gate != nil {
		gate.Done()
		gate.Wait()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.createHits++
	if g.createErr != nil {
		return usecase.GatewaySession{}, g.createErr
	}
	return usecase.GatewaySession{ProviderRef: "ref_" + paymentID, RedirectURL: "https://pay.test/" + paymentID}, nil
}

func (g *fakeGateway) VerifyCallback(raw []byte, headers http.Header) (usecase.ParsedEvent, error) {
	if headers.Get("X-Test-Signature") != "ok" {
		return usecase.ParsedEvent{}, fmt.Errorf("%w: bad signature", domain.ErrVerification)
	}
	var ev fakeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return usecase.ParsedEvent{}, fmt.Errorf("%w: %v", domain.ErrVerification, err)
	}
	return usecase.ParsedEvent{ProviderRef: ev.Ref, EventID: ev.ID, Outcome: usecase.Outcome(ev.Outcome)}, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, ref string) (usecase.ProviderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out, ok := g.statuses[ref]
	if !ok {
		out = usecase.OutcomePending
	}
	return usecase.ProviderStatus{ProviderRef: ref, Outcome: out}, nil
}

func (g *fakeGateway) Refund(_ context.Context, ref string, _ decimal.Decimal, _ string) error {
	g.mu.Lock()
	delay := g.refundDelay
	g.mu.Unlock()
	time.Sleep(delay)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, ref)
	return nil
}

func (g *fakeGateway) setStatus(ref string, o usecase.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[ref] = o
}

func (g *fakeGateway) refunded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refunds...)
}

type fakeCatalog map[string][]domain.Attachment

func (f fakeCatalog) ListAttachments(_ context.Context, courseID string) ([]domain.Attachment, error) {
	return f[courseID], nil
}

// slowCatalog delays every lookup, which keeps a link-issuing transaction open.
type slowCatalog struct {
	fakeCatalog
	mu    sync.Mutex
	delay time.Duration
}

func (c *slowCatalog) ListAttachments(ctx context.Context, courseID string) ([]domain.Attachment, error) {
	c.mu.Lock()
	d := c.delay
	c.mu.Unlock()
	time.Sleep(d)
	return c.fakeCatalog.ListAttachments(ctx, courseID)
}

func (c *slowCatalog) setDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

var catalog = fakeCatalog{
	"go-101": {
		{ID: "go-pdf", CourseID: "go-101", FileRef: "go/slides.pdf", Kind: domain.AttachmentPDF},
		{ID: "go-vid", CourseID: "go-101", FileRef: "go/intro.mp4", Kind: domain.AttachmentVideo},
		{ID: "go-live", CourseID: "go-101", FileRef: "https://meet.test/go", Kind: domain.AttachmentLive},
		{ID: "go-draft", CourseID: "go-101", Kind: domain.AttachmentPDF},
	},
	"k8s-live": {
		{ID: "k8s-notes", CourseID: "k8s-live", FileRef: "k8s/notes.pdf", Kind: domain.AttachmentPDF},
	},
}

type harness struct {
	ctx      context.Context
	clock    *clock
	mr       *miniredis.Miniredis
	gw       *fakeGateway
	catalog  *slowCatalog
	tx       *repo.TxManager
	carts    *repo.MySQLCartRepo
	orders   *repo.MySQLOrderRepo
	payments *repo.MySQLPaymentRepo
	outbox   *repo.MySQLOutboxRepo
	idem     *repo.MySQLIdempotencyRepo
	store    *cache.RedisIdempotencyStore
	guard    *usecase.Guard
	links    *usecase.SecureLinks
	create   *usecase.CreateOrder
	pay      *usecase.Payments
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := repo.Open(ctx, repo.DriverSQLite, ":memory:", repo.PoolConfig{})
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db, repo.DriverSQLite))
	t.Cleanup(func() { _ = db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		ctx:      ctx,
		clock:    &clock{now: t0},
		mr:       mr,
		gw:       newFakeGateway(),
		catalog:  &slowCatalog{fakeCatalog: catalog},
		tx:       repo.NewTxManager(db),
		carts:    repo.NewMySQLCartRepo(db),
		orders:   repo.NewMySQLOrderRepo(db),
		payments: repo.NewMySQLPaymentRepo(db),
		outbox:   repo.NewMySQLOutboxRepo(db),
		idem:     repo.NewMySQLIdempotencyRepo(db),
		store:    cache.NewRedisIdempotencyStore(rdb, time.Hour, 5*time.Second),
	}
	linkRepo := repo.NewMySQLSecureLinkRepo(db)
	registry, err := gateway.NewRegistry(h.gw.Name(), nil, h.gw)
	require.NoError(t, err)

	h.guard = usecase.NewGuard(h.tx, h.idem, h.store, time.Hour, h.clock.Now)
	h.links = usecase.NewSecureLinks(linkRepo, h.catalog, 7*24*time.Hour, 2, nil, h.clock.Now)
	h.create = usecase.NewCreateOrder(h.carts, h.orders, h.outbox, h.guard, nil, h.clock.Now)
	h.pay = usecase.NewPayments(usecase.PaymentsDeps{
		Tx:       h.tx,
		Orders:   h.orders,
		Payments: h.payments,
		Links:    linkRepo,
		Outbox:   h.outbox,
		Gateways: registry,
		Issuer:   h.links,
		Guard:    h.guard,
		Now:      h.clock.Now,
	}, usecase.PaymentsConfig{
		GatewayTimeout: time.Second,
		MaxAttempts:    2,
		RetryBackoff:   time.Millisecond,
		StaleAfter:     15 * time.Minute,
		ExpireAfter:    time.Hour,
	})
	return h
}

func (h *harness) seedCart(t *testing.T, id string, items ...domain.CartItem) {
	t.Helper()
	require.NoError(t, h.carts.Create(h.ctx, &domain.Cart{
		ID: id, OwnerID: "student-9", Currency: "SAR", Items: items, CreatedAt: h.clock.Now(),
	}))
}

func digital(course string, price int64) domain.CartItem {
	return domain.CartItem{CourseID: course, CourseType: domain.CourseDigital, UnitPrice: decimal.NewFromInt(price), Quantity: 1}
}

func live(course, session string, price int64) domain.CartItem {
	return domain.CartItem{CourseID: course, SessionID: session, CourseType: domain.CourseLive, UnitPrice: decimal.NewFromInt(price), Quantity: 1}
}

// orderWithCheckout creates an order from a fresh digital cart and opens one session.
func (h *harness) orderWithCheckout(t *testing.T, cartID string) (string, usecase.CheckoutOutput) {
	t.Helper()
	h.seedCart(t, cartID, digital("go-101", 120))
	out, err := h.create.Execute(h.ctx, usecase.CreateOrderInput{CartID: cartID})
	require.NoError(t, err)
	co, err := h.pay.CreateCheckoutSession(h.ctx, out.OrderID, "https://shop.test/back")
	require.NoError(t, err)
	return out.OrderID, co
}

func (h *harness) callback(id, ref string, outcome usecase.Outcome) (usecase.CallbackResult, error) {
	raw, _ := json.Marshal(fakeEvent{ID: id, Ref: ref, Outcome: string(outcome)})
	hdr := http.Header{}
	hdr.Set("X-Test-Signature", "ok")
	return h.pay.HandleCallback(h.ctx, "fakepay", raw, hdr)
}

func (h *harness) outboxChannels(t *testing.T) []string {
	t.Helper()
	msgs, err := h.outbox.ListDue(h.ctx, time.Now().Add(time.Hour), 100)
	require.NoError(t, err)
	var out []string
	for _, m := range msgs {
		out = append(out, m.Channel)
	}
	return out
}

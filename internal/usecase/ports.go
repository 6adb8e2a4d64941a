package usecase

import (
	"context"
	"net/http"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/shopspring/decimal"
)

// TxManager runs fn in one database transaction carried by ctx.
// Nested calls join the outer transaction.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type CartRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Cart, error)
	// MarkConsumed fails with domain.ErrConflict when the cart was already consumed.
	MarkConsumed(ctx context.Context, cartID, orderID string) error
}

type OrderRepo interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	// UpdateStatus writes status and bumps the version when the stored version
	// equals expectedVersion; otherwise it fails with domain.ErrConflict.
	UpdateStatus(ctx context.Context, id string, expectedVersion int64, to domain.Status, at time.Time) (int64, error)
}

type PaymentRepo interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByProviderRef(ctx context.Context, provider, providerRef string) (*domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error)
	// UpdateStatus persists p.Status, p.FailureReason and p.CapturedAt guarded by p.Version.
	UpdateStatus(ctx context.Context, p *domain.Payment) error
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error)
}

type SecureLinkRepo interface {
	// CreateIfAbsent inserts l unless a link for the same item and attachment exists.
	CreateIfAbsent(ctx context.Context, l *domain.SecureLink) (bool, error)
	GetByToken(ctx context.Context, token string) (*domain.SecureLink, error)
	ListByOrder(ctx context.Context, orderID string) ([]*domain.SecureLink, error)
	// ConsumeUse decrements remaining uses if the link is still valid at now.
	ConsumeUse(ctx context.Context, token string, now time.Time) (bool, error)
	RevokeByOrder(ctx context.Context, orderID string) error
}

type IdempotencyRepo interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, result string, createdAt, expiresAt time.Time) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// IdempotencyStore is the fast, non-durable side of idempotency (Redis).
type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

type OutboxRepo interface {
	Insert(ctx context.Context, channel, aggregateID string, payload []byte) error
}

// ContentCatalog is the content service view of a course's files.
type ContentCatalog interface {
	ListAttachments(ctx context.Context, courseID string) ([]domain.Attachment, error)
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeExpired   Outcome = "EXPIRED"
	OutcomePending   Outcome = "PENDING"
)

type GatewaySession struct {
	ProviderRef string
	RedirectURL string
}

// ParsedEvent is the provider-neutral view of a verified callback.
type ParsedEvent struct {
	ProviderRef string
	EventID     string
	Outcome     Outcome
	OccurredAt  time.Time
}

type ProviderStatus struct {
	ProviderRef string
	Outcome     Outcome
}

// Gateway is implemented once per payment provider. Each implementation owns
// its payload shape and signature scheme.
type Gateway interface {
	Name() string
	CreateSession(ctx context.Context, order *domain.Order, paymentID, returnURL string) (GatewaySession, error)
	VerifyCallback(raw []byte, headers http.Header) (ParsedEvent, error)
	QueryStatus(ctx context.Context, providerRef string) (ProviderStatus, error)
	Refund(ctx context.Context, providerRef string, amount decimal.Decimal, currency string) error
}

type GatewayRegistry interface {
	Get(name string) (Gateway, bool)
	ForCurrency(currency string) (Gateway, error)
}

type Metrics interface {
	OrderCreated(replayed bool)
	CheckoutSession(provider, result string)
	WebhookEvent(provider, result string)
	LinksIssued(n int)
	LinkResolved(result string)
	PaymentsReconciled(outcome string)
}

type NopMetrics struct{}

func (NopMetrics) OrderCreated(bool) {}
func (NopMetrics) CheckoutSession(string, string) {}
func (NopMetrics) WebhookEvent(string, string) {}
func (NopMetrics) LinksIssued(int) {}
func (NopMetrics) LinkResolved(string) {}
func (NopMetrics) PaymentsReconciled(string) {}

// Clock is swapped in tests.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }

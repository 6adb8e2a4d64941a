package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/usecase"
)

type MySQLPaymentRepo struct{ db *sql.DB }

func NewMySQLPaymentRepo(db *sql.DB) *MySQLPaymentRepo { return &MySQLPaymentRepo{db: db} }

const paymentColumns = `id,order_id,provider,provider_ref,status,amount,currency,failure_reason,version,created_at,updated_at,captured_at`

func (r *MySQLPaymentRepo) Create(ctx context.Context, p *domain.Payment) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
INSERT INTO payments (`+paymentColumns+`)
VALUES (?,?,?,?,?,?,?,?,0,?,?,?)
`, p.ID, p.OrderID, p.Provider, p.ProviderRef, string(p.Status), p.Amount, p.Currency, p.FailureReason,
		ts(p.CreatedAt), ts(p.UpdatedAt), nullTime(p.CapturedAt))
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: payment %s/%s exists", domain.ErrConflict, p.Provider, p.ProviderRef)
		}
		return err
	}
	p.Version = 0
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(s rowScanner) (*domain.Payment, error) {
	var (
		p        domain.Payment
		status   string
		captured sql.NullTime
	)
	if err := s.Scan(&p.ID, &p.OrderID, &p.Provider, &p.ProviderRef, &status, &p.Amount, &p.Currency,
		&p.FailureReason, &p.Version, &p.CreatedAt, &p.UpdatedAt, &captured); err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	if captured.Valid {
		t := captured.Time
		p.CapturedAt = &t
	}
	return &p, nil
}

func (r *MySQLPaymentRepo) getOne(ctx context.Context, what, query string, args ...any) (*domain.Payment, error) {
	p, err := scanPayment(conn(ctx, r.db).QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: payment %s", domain.ErrNotFound, what)
	}
	return p, err
}

func (r *MySQLPaymentRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, id, `SELECT `+paymentColumns+` FROM payments WHERE id=?`, id)
}

func (r *MySQLPaymentRepo) GetByProviderRef(ctx context.Context, provider, providerRef string) (*domain.Payment, error) {
	return r.getOne(ctx, provider+"/"+providerRef,
		`SELECT `+paymentColumns+` FROM payments WHERE provider=? AND provider_ref=?`, provider, providerRef)
}

func (r *MySQLPaymentRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *MySQLPaymentRepo) ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=? ORDER BY created_at, id`, orderID)
}

func (r *MySQLPaymentRepo) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Payment, error) {
	return r.list(ctx, `
SELECT `+paymentColumns+` FROM payments
WHERE status=? AND created_at < ?
ORDER BY created_at
LIMIT ?`, string(domain.PaymentPending), ts(createdBefore), limit)
}

func (r *MySQLPaymentRepo) UpdateStatus(ctx context.Context, p *domain.Payment) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
UPDATE payments
SET status = ?, failure_reason = ?, captured_at = ?, updated_at = ?, version = version + 1
WHERE id = ? AND version = ?`,
		string(p.Status), p.FailureReason, nullTime(p.CapturedAt), ts(p.UpdatedAt), p.ID, p.Version,
	)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: payment %s changed since version %d", domain.ErrConflict, p.ID, p.Version)
	}
	p.Version++
	return nil
}

var _ usecase.PaymentRepo = (*MySQLPaymentRepo)(nil)

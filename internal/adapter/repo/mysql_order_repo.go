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

type MySQLOrderRepo struct{ db *sql.DB }

func NewMySQLOrderRepo(db *sql.DB) *MySQLOrderRepo { return &MySQLOrderRepo{db: db} }

func (r *MySQLOrderRepo) Create(ctx context.Context, o *domain.Order) error {
	q := conn(ctx, r.db)
	_, err := q.ExecContext(ctx, `
INSERT INTO orders (id,cart_id,owner_id,status,currency,amount,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,0,?,?)
`, o.ID, o.CartID, o.OwnerID, string(o.Status), o.Currency, o.Amount, ts(o.CreatedAt), ts(o.UpdatedAt))
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: cart %s already has an order", domain.ErrConflict, o.CartID)
		}
		return err
	}
	for i, it := range o.Items {
		if _, err := q.ExecContext(ctx, `
INSERT INTO order_items (id,order_id,line_no,course_id,session_id,course_type,unit_price,quantity)
VALUES (?,?,?,?,?,?,?,?)
`, it.ID, o.ID, i, it.CourseID, it.SessionID, string(it.CourseType), it.UnitPrice, it.Quantity); err != nil {
			return err
		}
	}
	o.Version = 0
	return nil
}

func (r *MySQLOrderRepo) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	q := conn(ctx, r.db)
	var (
		o      domain.Order
		status string
	)
	err := q.QueryRowContext(ctx, `
SELECT id,cart_id,owner_id,status,currency,amount,version,created_at,updated_at
FROM orders WHERE id=?`, id).Scan(
		&o.ID, &o.CartID, &o.OwnerID, &status, &o.Currency, &o.Amount, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	o.Status = domain.Status(status)

	rows, err := q.QueryContext(ctx, `
SELECT id,course_id,session_id,course_type,unit_price,quantity
FROM order_items WHERE order_id=? ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		it := domain.OrderItem{OrderID: o.ID}
		var kind string
		if err := rows.Scan(&it.ID, &it.CourseID, &it.SessionID, &kind, &it.UnitPrice, &it.Quantity); err != nil {
			return nil, err
		}
		it.CourseType = domain.CourseType(kind)
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// UpdateStatus is the only writer of orders.status. It succeeds only for the
// caller holding the current version and returns the next one.
func (r *MySQLOrderRepo) UpdateStatus(ctx context.Context, id string, expectedVersion int64, to domain.Status, at time.Time) (int64, error) {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx, `
UPDATE orders
SET status = ?, version = version + 1, updated_at = ?
WHERE id = ? AND version = ?`,
		string(to), ts(at), id, expectedVersion,
	)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if rows == 0 {
		// rows == 0 → either not found or a newer version was written
		var v int64
		err := q.QueryRowContext(ctx, `SELECT version FROM orders WHERE id=?`, id).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: order %s", domain.ErrNotFound, id)
		}
		if err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("%w: order %s is at version %d, expected %d", domain.ErrConflict, id, v, expectedVersion)
	}
	return expectedVersion + 1, nil
}

var _ usecase.OrderRepo = (*MySQLOrderRepo)(nil)

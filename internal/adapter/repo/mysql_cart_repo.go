package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/usecase"
)

type MySQLCartRepo struct{ db *sql.DB }

func NewMySQLCartRepo(db *sql.DB) *MySQLCartRepo { return &MySQLCartRepo{db: db} }

// Create stores a cart with its items. Carts are filled by the storefront;
// the engine only reads and consumes them.
func (r *MySQLCartRepo) Create(ctx context.Context, c *domain.Cart) error {
	q := conn(ctx, r.db)
	_, err := q.ExecContext(ctx, `
INSERT INTO carts (id,owner_id,currency,consumed_order_id,created_at)
VALUES (?,?,?,NULL,?)`, c.ID, c.OwnerID, c.Currency, ts(c.CreatedAt))
	if err != nil {
		if isDuplicate(err) {
			return fmt.Errorf("%w: cart %s exists", domain.ErrConflict, c.ID)
		}
		return err
	}
	for i, it := range c.Items {
		if _, err := q.ExecContext(ctx, `
INSERT INTO cart_items (cart_id,line_no,course_id,session_id,course_type,unit_price,quantity)
VALUES (?,?,?,?,?,?,?)`, c.ID, i, it.CourseID, it.SessionID, string(it.CourseType), it.UnitPrice, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (r *MySQLCartRepo) GetByID(ctx context.Context, id string) (*domain.Cart, error) {
	q := conn(ctx, r.db)
	var (
		c        domain.Cart
		consumed sql.NullString
	)
	err := q.QueryRowContext(ctx, `
SELECT id,owner_id,currency,consumed_order_id,created_at
FROM carts WHERE id=?`, id).Scan(&c.ID, &c.OwnerID, &c.Currency, &consumed, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cart %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	c.ConsumedOrderID = consumed.String

	rows, err := q.QueryContext(ctx, `
SELECT course_id,session_id,course_type,unit_price,quantity
FROM cart_items WHERE cart_id=? ORDER BY line_no`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it   domain.CartItem
			kind string
		)
		if err := rows.Scan(&it.CourseID, &it.SessionID, &kind, &it.UnitPrice, &it.Quantity); err != nil {
			return nil, err
		}
		it.CourseType = domain.CourseType(kind)
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}

func (r *MySQLCartRepo) MarkConsumed(ctx context.Context, cartID, orderID string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
UPDATE carts SET consumed_order_id = ?
WHERE id = ? AND consumed_order_id IS NULL`, orderID, cartID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: cart %s already consumed", domain.ErrConflict, cartID)
	}
	return nil
}

var _ usecase.CartRepo = (*MySQLCartRepo)(nil)

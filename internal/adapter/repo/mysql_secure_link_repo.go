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

type MySQLSecureLinkRepo struct{ db *sql.DB }

func NewMySQLSecureLinkRepo(db *sql.DB) *MySQLSecureLinkRepo { return &MySQLSecureLinkRepo{db: db} }

const linkColumns = `token,order_id,order_item_id,attachment_id,file_ref,expires_at,remaining_uses,created_at`

func (r *MySQLSecureLinkRepo) CreateIfAbsent(ctx context.Context, l *domain.SecureLink) (bool, error) {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
INSERT INTO secure_links (`+linkColumns+`)
VALUES (?,?,?,?,?,?,?,?)
`, l.Token, l.OrderID, l.OrderItemID, l.AttachmentID, l.FileRef, ts(l.ExpiresAt), l.RemainingUses, ts(l.CreatedAt))
	if isDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func scanLink(s rowScanner) (*domain.SecureLink, error) {
	var l domain.SecureLink
	err := s.Scan(&l.Token, &l.OrderID, &l.OrderItemID, &l.AttachmentID, &l.FileRef, &l.ExpiresAt, &l.RemainingUses, &l.CreatedAt)
	return &l, err
}

func (r *MySQLSecureLinkRepo) GetByToken(ctx context.Context, token string) (*domain.SecureLink, error) {
	l, err := scanLink(conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+linkColumns+` FROM secure_links WHERE token=?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: secure link", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *MySQLSecureLinkRepo) ListByOrder(ctx context.Context, orderID string) ([]*domain.SecureLink, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+linkColumns+` FROM secure_links WHERE order_id=? ORDER BY created_at, order_item_id, attachment_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.SecureLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ConsumeUse spends one use in a single guarded statement, so two downloads
// racing for the last use cannot both win.
func (r *MySQLSecureLinkRepo) ConsumeUse(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
UPDATE secure_links
SET remaining_uses = remaining_uses - 1
WHERE token = ? AND remaining_uses > 0 AND expires_at > ?`, token, ts(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *MySQLSecureLinkRepo) RevokeByOrder(ctx context.Context, orderID string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE secure_links SET remaining_uses = 0 WHERE order_id = ?`, orderID)
	return err
}

var _ usecase.SecureLinkRepo = (*MySQLSecureLinkRepo)(nil)

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

type MySQLIdempotencyRepo struct{ db *sql.DB }

func NewMySQLIdempotencyRepo(db *sql.DB) *MySQLIdempotencyRepo { return &MySQLIdempotencyRepo{db: db} }

func (r *MySQLIdempotencyRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var result string
	err := conn(ctx, r.db).QueryRowContext(ctx, `SELECT result FROM idempotency_records WHERE idem_key=?`, key).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return result, true, nil
}

// Put records the outcome of key. The primary key makes a second writer fail
// with domain.ErrConflict.
func (r *MySQLIdempotencyRepo) Put(ctx context.Context, key, result string, createdAt, expiresAt time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
INSERT INTO idempotency_records (idem_key,result,created_at,expires_at)
VALUES (?,?,?,?)`, key, result, ts(createdAt), ts(expiresAt))
	if isDuplicate(err) {
		return fmt.Errorf("%w: idempotency key %s recorded", domain.ErrConflict, key)
	}
	return err
}

func (r *MySQLIdempotencyRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= ?`, ts(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ usecase.IdempotencyRepo = (*MySQLIdempotencyRepo)(nil)

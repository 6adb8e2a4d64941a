package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/aq2208/course-orders/internal/usecase"
	"github.com/google/uuid"
)

const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
	OutboxDead    = "DEAD"
)

type OutboxMessage struct {
	ID            string
	Channel       string
	AggregateID   string
	Payload       []byte
	Status        string
	RetryCount    int
	NextAttemptAt time.Time
	CreatedAt     time.Time
}

type MySQLOutboxRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQLOutboxRepo(db *sql.DB) *MySQLOutboxRepo {
	return &MySQLOutboxRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Insert writes the message in the caller's transaction, if any.
func (r *MySQLOutboxRepo) Insert(ctx context.Context, channel, aggregateID string, payload []byte) error {
	now := ts(r.now())
	_, err := conn(ctx, r.db).ExecContext(ctx, `
INSERT INTO outbox (id,channel,aggregate_id,payload,status,retry_count,next_attempt_at,created_at)
VALUES (?,?,?,?,?,0,?,?)
`, uuid.NewString(), channel, aggregateID, string(payload), OutboxPending, now, now)
	return err
}

func (r *MySQLOutboxRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
SELECT id,channel,aggregate_id,payload,status,retry_count,next_attempt_at,created_at
FROM outbox
WHERE status=? AND next_attempt_at <= ?
ORDER BY created_at, id
LIMIT ?`, OutboxPending, ts(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutboxMessage
	for rows.Next() {
		var (
			m       OutboxMessage
			payload string
		)
		if err := rows.Scan(&m.ID, &m.Channel, &m.AggregateID, &payload, &m.Status, &m.RetryCount, &m.NextAttemptAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Payload = []byte(payload)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MySQLOutboxRepo) MarkSent(ctx context.Context, id string, at time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `UPDATE outbox SET status=?, sent_at=? WHERE id=?`, OutboxSent, ts(at), id)
	return err
}

// MarkRetry schedules another attempt, or parks the message as DEAD once
// maxRetries is reached.
func (r *MySQLOutboxRepo) MarkRetry(ctx context.Context, id string, retryCount, maxRetries int, next time.Time, lastErr string) error {
	status := OutboxPending
	if retryCount >= maxRetries {
		status = OutboxDead
	}
	if len(lastErr) > 512 {
		lastErr = lastErr[:512]
	}
	_, err := conn(ctx, r.db).ExecContext(ctx, `
UPDATE outbox SET status=?, retry_count=?, next_attempt_at=?, last_error=?
WHERE id=?`, status, retryCount, ts(next), lastErr, id)
	return err
}

var _ usecase.OutboxRepo = (*MySQLOutboxRepo)(nil)

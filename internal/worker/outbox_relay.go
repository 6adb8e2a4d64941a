package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/aq2208/course-orders/internal/adapter/repo"
	"github.com/aq2208/course-orders/internal/logging"
)

type OutboxStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]repo.OutboxMessage, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkRetry(ctx context.Context, id string, retryCount, maxRetries int, next time.Time, lastErr string) error
}

// Publisher is implemented by queue.RabbitProducer.
type Publisher interface {
	Publish(ctx context.Context, routingKey, messageID string, body []byte) error
}

type RelayConfig struct {
	Interval   time.Duration
	Batch      int
	MaxRetries int
	Backoff    time.Duration
}

const maxRelayBackoff = 10 * time.Minute

// OutboxRelay moves committed outbox rows to the broker.
type OutboxRelay struct {
	store OutboxStore
	pub   Publisher
	cfg   RelayConfig
	now   func() time.Time
	log   *slog.Logger
}

func NewOutboxRelay(store OutboxStore, pub Publisher, cfg RelayConfig) *OutboxRelay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	return &OutboxRelay{
		store: store,
		pub:   pub,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logging.New("outbox-relay"),
	}
}

func (r *OutboxRelay) Run(ctx context.Context) error {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()
	r.log.Info("outbox relay started", "interval", r.cfg.Interval.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.log.Error("outbox flush failed", "err", err)
			}
		}
	}
}

// Flush publishes one batch of due messages and returns how many were sent.
func (r *OutboxRelay) Flush(ctx context.Context) (int, error) {
	msgs, err := r.store.ListDue(ctx, r.now(), r.cfg.Batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, m := range msgs {
		if err := r.pub.Publish(ctx, m.Channel, m.ID, m.Payload); err != nil {
			retry := m.RetryCount + 1
			next := r.now().Add(r.backoff(retry))
			r.log.Warn("publish failed", "id", m.ID, "channel", m.Channel, "retry", retry, "err", err)
			if merr := r.store.MarkRetry(ctx, m.ID, retry, r.cfg.MaxRetries, next, err.Error()); merr != nil {
				return sent, merr
			}
			if retry >= r.cfg.MaxRetries {
				r.log.Error("outbox message parked", "id", m.ID, "channel", m.Channel)
			}
			continue
		}
		if err := r.store.MarkSent(ctx, m.ID, r.now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (r *OutboxRelay) backoff(retry int) time.Duration {
	d := r.cfg.Backoff
	for i := 1; i < retry && d < maxRelayBackoff; i++ {
		d *= 2
	}
	if d > maxRelayBackoff {
		d = maxRelayBackoff
	}
	return d
}

// LogPublisher stands in for the broker when RabbitMQ is disabled.
type LogPublisher struct{ Log *slog.Logger }

func (p LogPublisher) Publish(_ context.Context, routingKey, messageID string, body []byte) error {
	l := p.Log
	if l == nil {
		l = logging.Base()
	}
	l.Info("outbox message", "channel", routingKey, "id", messageID, "payload", string(body))
	return nil
}

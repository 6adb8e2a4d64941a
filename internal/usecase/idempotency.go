package usecase

import (
	"context"
	"fmt"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
)

// ComputeFunc produces the outcome recorded for a key. It runs inside the
// guard's transaction, carried by ctx.
type ComputeFunc func(ctx context.Context) (string, error)

// Guard enforces at-most-once effect per key. Redis answers replays cheaply
// and keeps two requests for one key from computing at the same time; the
// idempotency_records table is the source of truth. A request that finds the
// key in flight waits for the recorded outcome instead of failing.
type Guard struct {
	tx    TxManager
	repo  IdempotencyRepo
	cache IdempotencyStore // optional
	ttl   time.Duration
	wait  time.Duration
	now   Clock
}

const (
	DefaultInFlightWait = 30 * time.Second
	minAwaitDelay       = 10 * time.Millisecond
	maxAwaitDelay       = 250 * time.Millisecond
)

type GuardOption func(*Guard)

// WithInFlightWait bounds how long a request waits for another request
// holding the same key. The caller's context deadline also applies.
func WithInFlightWait(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.wait = d
		}
	}
}

func NewGuard(tx TxManager, repo IdempotencyRepo, cache IdempotencyStore, ttl time.Duration, now Clock, opts ...GuardOption) *Guard {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if now == nil {
		now = SystemClock
	}
	g := &Guard{tx: tx, repo: repo, cache: cache, ttl: ttl, wait: DefaultInFlightWait, now: now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// CheckOrRecord returns the recorded outcome for scope/key, or runs compute
// and records what it returns. replayed is true when compute was skipped.
func (g *Guard) CheckOrRecord(ctx context.Context, scope, key string, compute ComputeFunc) (result string, replayed bool, err error) {
	if key == "" {
		return "", false, fmt.Errorf("%w: empty idempotency key", domain.ErrValidation)
	}
	full := scope + ":" + key
	log := logging.FromCtx(ctx).With("idem_key", full)

	if g.cache != nil {
		if v, ok, err := g.cache.Recall(ctx, scope, key); err != nil {
			log.Warn("idempotency recall failed, using database", "err", err)
		} else if ok {
			return v, true, nil
		}

		v, recorded, locked, err := g.lockOrAwait(ctx, scope, key, full)
		if err != nil {
			return "", false, err
		}
		if recorded {
			g.remember(ctx, scope, key, v)
			return v, true, nil
		}
		if locked {
			defer func() {
				if rerr := g.cache.Release(ctx, scope, key); rerr != nil {
					log.Warn("idempotency unlock failed", "err", rerr)
				}
			}()
		}
	}

	err = g.tx.WithinTx(ctx, func(ctx context.Context) error {
		v, ok, err := g.repo.Get(ctx, full)
		if err != nil {
			return err
		}
		if ok {
			result, replayed = v, true
			return nil
		}
		v, err = compute(ctx)
		if err != nil {
			return err
		}
		now := g.now()
		if err := g.repo.Put(ctx, full, v, now, now.Add(g.ttl)); err != nil {
			return err
		}
		result, replayed = v, false
		return nil
	})
	if err != nil {
		// a concurrent writer may have committed the same key first
		if v, ok, gerr := g.repo.Get(ctx, full); gerr == nil && ok {
			log.Info("idempotency race lost, returning recorded outcome", "err", err)
			g.remember(ctx, scope, key, v)
			return v, true, nil
		}
		return "", false, err
	}

	g.remember(ctx, scope, key, result)
	return result, replayed, nil
}

// lockOrAwait takes the in-flight lock for key. While another request holds
// it, the durable record is polled until it appears, the lock frees up, or
// the wait runs out. locked is false without error when Redis is unusable.
func (g *Guard) lockOrAwait(ctx context.Context, scope, key, full string) (result string, recorded, locked bool, err error) {
	log := logging.FromCtx(ctx).With("idem_key", full)
	wait, cancel := context.WithTimeout(ctx, g.wait)
	defer cancel()

	delay := minAwaitDelay
	for {
		ok, err := g.cache.TryLock(ctx, scope, key)
		if err != nil {
			log.Warn("idempotency lock unavailable, using database", "err", err)
			return "", false, false, nil
		}
		if ok {
			return "", false, true, nil
		}
		v, found, err := g.repo.Get(ctx, full)
		if err != nil {
			return "", false, false, err
		}
		if found {
			return v, true, false, nil
		}

		select {
		case <-wait.Done():
			return "", false, false, fmt.Errorf("%w: request %s is still in flight", domain.ErrConflict, full)
		case <-time.After(delay):
		}
		if delay *= 2; delay > maxAwaitDelay {
			delay = maxAwaitDelay
		}
	}
}

func (g *Guard) remember(ctx context.Context, scope, key, value string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Remember(ctx, scope, key, value); err != nil {
		logging.FromCtx(ctx).Warn("idempotency remember failed", "idem_key", scope+":"+key, "err", err)
	}
}

func (g *Guard) Purge(ctx context.Context) (int64, error) {
	return g.repo.PurgeExpired(ctx, g.now())
}

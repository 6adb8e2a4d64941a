package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/aq2208/course-orders/internal/logging"
	"github.com/aq2208/course-orders/internal/usecase"
)

type Sweeper interface {
	ReconcileStale(ctx context.Context) (usecase.ReconcileReport, error)
}

// Reconciler runs a sweep right away and then every interval.
type Reconciler struct {
	s        Sweeper
	interval time.Duration
	log      *slog.Logger
}

func NewReconciler(s Sweeper, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{s: s, interval: interval, log: logging.New("reconciler")}
}

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		r.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.s.ReconcileStale(ctx); err != nil && ctx.Err() == nil {
		r.log.Error("reconcile sweep failed", "err", err)
	}
}

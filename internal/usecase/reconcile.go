package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
	"golang.org/x/sync/errgroup"
)

type ReconcileReport struct {
	Scanned      int
	Captured     int
	Failed       int
	Expired      int
	StillPending int
	Errors       int
	Purged       int64
}

// ReconcileStale polls providers for payments whose callback never came.
// Payments still pending past the expiry threshold are expired.
func (p *Payments) ReconcileStale(ctx context.Context) (ReconcileReport, error) {
	log := logging.FromCtx(ctx)
	now := p.now()
	stale, err := p.payments.ListStalePending(ctx, now.Add(-p.cfg.StaleAfter), p.cfg.ReconcileBatch)
	if err != nil {
		return ReconcileReport{}, err
	}

	var (
		mu     sync.Mutex
		report = ReconcileReport{Scanned: len(stale)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ReconcileConcurrency)
	for _, pay := range stale {
		pay := pay
		g.Go(func() error {
			outcome, err := p.reconcileOne(gctx, pay)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors++
				log.Warn("reconcile payment failed", "payment_id", pay.ID, "provider", pay.Provider, "err", err)
				return nil
			}
			switch outcome {
			case OutcomeSucceeded:
				report.Captured++
			case OutcomeFailed:
				report.Failed++
			case OutcomeExpired:
				report.Expired++
			default:
				report.StillPending++
			}
			p.metrics.PaymentsReconciled(strings.ToLower(string(outcome)))
			return nil
		})
	}
	_ = g.Wait()

	purged, err := p.guard.Purge(ctx)
	if err != nil {
		log.Warn("idempotency purge failed", "err", err)
	}
	report.Purged = purged

	log.Info("reconcile sweep done",
		"scanned", report.Scanned, "captured", report.Captured, "failed", report.Failed,
		"expired", report.Expired, "pending", report.StillPending, "errors", report.Errors, "purged", report.Purged)
	return report, nil
}

func (p *Payments) reconcileOne(ctx context.Context, pay *domain.Payment) (Outcome, error) {
	outcome, err := p.poll(ctx, pay.Provider, pay.ProviderRef)
	if err != nil {
		return "", err
	}
	now := p.now()
	if outcome == OutcomePending {
		if now.Sub(pay.CreatedAt) < p.cfg.ExpireAfter {
			return OutcomePending, nil
		}
		outcome = OutcomeExpired
	}

	_, err = p.applyEvent(ctx, pay.Provider, ParsedEvent{
		ProviderRef: pay.ProviderRef,
		EventID:     "poll:" + pay.ProviderRef + ":" + strings.ToLower(string(outcome)),
		Outcome:     outcome,
		OccurredAt:  now,
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// poll asks the provider for the session outcome. Concurrent polls of one
// session share a single request.
func (p *Payments) poll(ctx context.Context, provider, ref string) (Outcome, error) {
	gw, ok := p.gateways.Get(provider)
	if !ok {
		return "", fmt.Errorf("%w: provider %q", domain.ErrNotFound, provider)
	}
	v, err, _ := p.polls.Do(provider+":"+ref, func() (any, error) {
		var st ProviderStatus
		err := p.retry(ctx, provider, "query_status", func(ctx context.Context) error {
			var err error
			st, err = gw.QueryStatus(ctx, ref)
			return err
		})
		return st.Outcome, err
	})
	if err != nil {
		return "", err
	}
	return v.(Outcome), nil
}

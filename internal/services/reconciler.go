package services

import (
	"context"
	"fmt"
	"time"

	"entitlement-api/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// Reconciler periodically re-validates every live subscription against the
// stores, catching webhook deliveries that were lost or failed processing.
type Reconciler struct {
	store    SubscriptionStore
	facade   *ValidationFacade
	interval time.Duration
	workers  int
}

// ReconcileSummary aggregates one batch run. Partial failures never abort
// the batch.
type ReconcileSummary struct {
	Total    int
	Updated  int
	Failed   int
	Failures []error
}

// NewReconciler creates a reconciler. workers bounds concurrent store API
// calls so a large batch does not trip the stores' rate limits.
func NewReconciler(store SubscriptionStore, facade *ValidationFacade, interval time.Duration, workers int) *Reconciler {
	if workers <= 0 {
		workers = 8
	}
	return &Reconciler{
		store:    store,
		facade:   facade,
		interval: interval,
		workers:  workers,
	}
}

// Run reconciles on the configured interval until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			summary := r.ReconcileAll(ctx)
			logging.Infof("Reconciliation complete - total: %d, updated: %d, failed: %d",
				summary.Total, summary.Updated, summary.Failed)
		case <-ctx.Done():
			return
		}
	}
}

// ReconcileAll re-validates all live subscriptions with a bounded worker
// pool and aggregates partial failures.
func (r *Reconciler) ReconcileAll(ctx context.Context) ReconcileSummary {
	subscriptions, err := r.store.ListLive()
	if err != nil {
		logging.Errorf("Reconciliation could not list subscriptions: %v", err)
		return ReconcileSummary{Failures: []error{err}, Failed: 1}
	}

	summary := ReconcileSummary{Total: len(subscriptions)}
	results := make(chan error, len(subscriptions))
	updates := make(chan bool, len(subscriptions))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.workers)

	for i := range subscriptions {
		subscription := subscriptions[i]
		group.Go(func() error {
			outcome, err := r.facade.Revalidate(groupCtx, &subscription)
			if err != nil {
				results <- fmt.Errorf("subscription %s/%s: %w",
					subscription.Platform, subscription.OriginalTransactionID, err)
				return nil // collect, don't abort the batch
			}
			if outcome.SubscriptionUpdated {
				updates <- true
			}
			return nil
		})
	}

	group.Wait()
	close(results)
	close(updates)

	for err := range results {
		summary.Failures = append(summary.Failures, err)
	}
	summary.Failed = len(summary.Failures)
	for range updates {
		summary.Updated++
	}
	return summary
}

package messaging

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"recruit-chat/internal/observability"
	"recruit-chat/internal/repositories"
)

// Reconciler periodically recomputes participant unread counters from message history.
type Reconciler struct {
	receipts repositories.ReceiptRepository
	interval time.Duration
}

func NewReconciler(receipts repositories.ReceiptRepository, interval time.Duration) *Reconciler {
	return &Reconciler{receipts: receipts, interval: interval}
}

// RunOnce performs one reconciliation pass and returns the number of corrected rows.
func (r *Reconciler) RunOnce(ctx context.Context) (int64, error) {
	n, err := r.receipts.ReconcileUnread(ctx)
	if err != nil {
		return 0, err
	}
	observability.AddReconciled(n)
	if n > 0 {
		log.Info().Int64("corrected", n).Msg("unread counters reconciled")
	}
	return n, nil
}

// Run blocks until ctx is done. A non-positive interval returns immediately.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("unread reconcile failed")
			}
		}
	}
}

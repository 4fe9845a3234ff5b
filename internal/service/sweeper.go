package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// SweepExpired moves PENDING and PROCESSING transactions past their expiry to
// EXPIRED. It returns how many this call expired; rows settled concurrently by
// a webhook are skipped.
func (o *Orchestrator) SweepExpired(ctx context.Context) (int, error) {
	now := o.now()
	due, err := o.repo.ListExpired(ctx, now, o.opts.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired transactions: %w", err)
	}

	expired := 0
	for i := range due {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		txn := &due[i]
		_, changed, err := o.applyTransition(ctx, txn, models.StatusExpired, models.StatusUpdate{
			FailureReason: "Payment expired",
		}, sourceSweeper)
		if err != nil {
			o.logger.Error("Failed to expire transaction",
				zap.String("transaction_id", txn.ID),
				zap.Error(err),
			)
			continue
		}
		if changed {
			expired++
		}
	}

	if expired > 0 {
		o.logger.Info("Expired stale payments", zap.Int("count", expired))
	}
	return expired, nil
}

// RunSweeper calls SweepExpired every interval until ctx is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Info("Started expiry sweeper", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Stopped expiry sweeper")
			return
		case <-ticker.C:
			if _, err := o.SweepExpired(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("Expiry sweep failed", zap.Error(err))
			}
		}
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/cache"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

// Transition sources, recorded on the transitions metric.
const (
	sourceDispatch = "dispatch"
	sourceWebhook  = "webhook"
	sourceVerify   = "verify"
	sourceSweeper  = "sweeper"
	sourceRefund   = "refund"
)

// sideEffectTimeout bounds post-commit work, which outlives the request that
// triggered the transition.
const sideEffectTimeout = 10 * time.Second

// applyTransition moves txn to status to with a compare-and-swap on its
// current status. It returns the stored transaction and whether this call
// committed the change. Losing the race is not an error: the winner's state
// is returned with changed=false. Side effects run only for the winner.
func (o *Orchestrator) applyTransition(ctx context.Context, txn *models.Transaction, to models.PaymentStatus, upd models.StatusUpdate, source string) (*models.Transaction, bool, error) {
	from := txn.Status
	if !models.IsValidTransition(from, to) {
		return txn, false, &models.PaymentError{
			Code:    models.CodeInvalidTransition,
			Message: fmt.Sprintf("Cannot move transaction from %s to %s", from, to),
			Details: txn.ID,
		}
	}

	updated, err := o.repo.Transition(ctx, txn.ID, from, to, upd)
	if errors.Is(err, models.ErrConflict) {
		current, getErr := o.repo.GetByID(ctx, txn.ID)
		if getErr != nil {
			return txn, false, fmt.Errorf("reload %s after conflict: %w", txn.ID, getErr)
		}
		if current.Status == from {
			return current, false, fmt.Errorf("transition %s %s->%s: %w", txn.ID, from, to, err)
		}
		o.logger.Debug("Transition lost race",
			zap.String("transaction_id", txn.ID),
			zap.String("from_state", string(from)),
			zap.String("to_state", string(to)),
			zap.String("current_state", string(current.Status)),
			zap.String("source", source),
		)
		return current, false, nil
	}
	if err != nil {
		return txn, false, fmt.Errorf("transition %s %s->%s: %w", txn.ID, from, to, err)
	}

	telemetry.ObserveTransition(string(updated.Provider), string(from), string(to), source)
	o.logger.Info("Payment state transition",
		zap.String("transaction_id", updated.ID),
		zap.String("from_state", string(from)),
		zap.String("to_state", string(to)),
		zap.String("source", source),
	)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	o.afterTransition(sctx, updated, from)
	return updated, true, nil
}

// afterTransition publishes the committed change and fans out its side
// effects. Failures here are logged and never undo the transition.
func (o *Orchestrator) afterTransition(ctx context.Context, txn *models.Transaction, from models.PaymentStatus) {
	event := models.StateChangeEvent{
		TransactionID:   txn.ID,
		UserID:          txn.UserID,
		Provider:        txn.Provider,
		TransactionType: txn.TransactionType,
		SubscriptionID:  txn.SubscriptionID,
		Amount:          txn.Amount,
		Currency:        txn.Currency,
		State:           txn.Status,
		PreviousState:   from,
		Timestamp:       txn.UpdatedAt,
	}
	if err := o.events.PublishStateChange(ctx, event); err != nil {
		o.logger.Error("Failed to publish state change",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
	}

	if txn.Status == models.StatusCompleted {
		switch txn.TransactionType {
		case models.TypeSubscriptionPayment:
			if err := o.events.ActivateSubscription(ctx, txn); err != nil {
				o.logger.Error("Failed to activate subscription",
					zap.String("transaction_id", txn.ID),
					zap.String("subscription_id", txn.SubscriptionID),
					zap.Error(err),
				)
			}
		case models.TypeRefund:
			o.settleRefund(ctx, txn)
		}
	}

	if txn.Status.IsTerminal() {
		if err := o.events.NotifyPayment(ctx, txn); err != nil {
			o.logger.Error("Failed to send payment notification",
				zap.String("transaction_id", txn.ID),
				zap.Error(err),
			)
		}
	}

	o.invalidate(ctx, txn.ID)
}

// settleRefund marks the refunded original as REFUNDED once its refund
// completes. The refund's provider transaction id holds the original's id.
func (o *Orchestrator) settleRefund(ctx context.Context, refund *models.Transaction) {
	original, err := o.repo.GetByID(ctx, refund.ProviderTransactionID)
	if err != nil {
		o.logger.Error("Refund completed for unknown transaction",
			zap.String("refund_id", refund.ID),
			zap.String("original_id", refund.ProviderTransactionID),
			zap.Error(err),
		)
		return
	}
	if original.Status != models.StatusCompleted {
		o.logger.Warn("Refund completed for transaction that is not COMPLETED",
			zap.String("refund_id", refund.ID),
			zap.String("original_id", original.ID),
			zap.String("status", string(original.Status)),
		)
		return
	}
	_, _, err = o.applyTransition(ctx, original, models.StatusRefunded, models.StatusUpdate{
		Metadata: map[string]string{"refund_transaction_id": refund.ID},
	}, sourceRefund)
	if err != nil {
		o.logger.Error("Failed to mark transaction as refunded",
			zap.String("refund_id", refund.ID),
			zap.String("original_id", original.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) invalidate(ctx context.Context, id string) {
	if err := o.cache.Delete(ctx, cache.Key("txn", id)); err != nil {
		o.logger.Warn("Failed to invalidate cached transaction",
			zap.String("transaction_id", id),
			zap.Error(err),
		)
	}
}

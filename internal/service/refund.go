package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/providers"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

type RefundRequest struct {
	TransactionID string `json:"transactionId" binding:"required"`
	Reason        string `json:"reason" binding:"required"`
	InitiatedBy   string `json:"initiatedBy" binding:"required"`
}

// receiptKeys are the metadata entries that carry a network's settlement
// reference, in lookup order.
var receiptKeys = []string{
	"mpesa_receipt_number",
	"airtel_money_id",
	"ecocash_reference",
	"financial_transaction_id",
	"txnid",
}

func receipt(txn *models.Transaction) string {
	for _, k := range receiptKeys {
		if v := txn.Metadata[k]; v != "" {
			return v
		}
	}
	return ""
}

// Refund reverses a COMPLETED payment. The refund is its own REFUND
// transaction; at most one non-failed refund exists per original, enforced by
// a lock on the original id and by the store.
func (o *Orchestrator) Refund(ctx context.Context, req RefundRequest) (*models.Transaction, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "orchestrator.Refund")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", req.TransactionID))

	original, err := o.repo.GetByID(ctx, req.TransactionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewPaymentError(models.CodeTransactionNotFound, "Transaction not found", req.TransactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	if err := refundable(original); err != nil {
		return nil, err
	}

	adapter, ok := o.registry.Get(original.Provider)
	if !ok {
		return nil, models.NewPaymentError(models.CodeInvalidProvider, "Provider is not configured", string(original.Provider))
	}

	unlock, err := o.locker.Obtain(ctx, "refund:"+original.ID, o.opts.RefundLockTTL)
	if errors.Is(err, models.ErrConflict) {
		return nil, models.NewPaymentError(models.CodeRefundInProgress, "A refund is already being processed", original.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire refund lock: %w", err)
	}
	defer unlock()

	// Any pending, processing or completed refund blocks another one.
	if active, err := o.repo.FindActiveRefund(ctx, original.ID); err == nil {
		return nil, models.NewPaymentError(models.CodeAlreadyRefunded, "Transaction has already been refunded", active.ID)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("find active refund: %w", err)
	}

	refund := &models.Transaction{
		ID:                    o.newID(),
		UserID:                original.UserID,
		Provider:              original.Provider,
		ProviderTransactionID: original.ID,
		Amount:                original.Amount,
		Currency:              original.Currency,
		PhoneNumber:           original.PhoneNumber,
		Status:                models.StatusPending,
		TransactionType:       models.TypeRefund,
		Description:           "Refund: " + req.Reason,
		Metadata: map[string]string{
			"original_transaction_id": original.ID,
			"reason":                  req.Reason,
			"initiated_by":            req.InitiatedBy,
		},
		ExpiresAt: o.now().Add(o.opts.PaymentTTL),
	}
	if err := o.repo.CreateRefund(ctx, refund); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.NewPaymentError(models.CodeAlreadyRefunded, "Transaction has already been refunded", original.ID)
		}
		return nil, fmt.Errorf("create refund: %w", err)
	}

	o.logger.Info("Refund created",
		zap.String("refund_id", refund.ID),
		zap.String("original_id", original.ID),
		zap.String("initiated_by", req.InitiatedBy),
	)

	dctx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
	defer cancel()

	resp, err := adapter.ProcessRefund(dctx, providers.RefundRequest{
		RefundID:              refund.ID,
		ProviderTransactionID: original.ProviderTransactionID,
		ProviderReceipt:       receipt(original),
		Amount:                refund.Amount,
		Currency:              refund.Currency,
		PhoneNumber:           refund.PhoneNumber,
		Reason:                req.Reason,
	})
	if err != nil {
		perr := providerError(adapter.Config().Name, err, dctx.Err())
		o.logger.Warn("Provider rejected refund",
			zap.String("refund_id", refund.ID),
			zap.String("code", perr.Code),
			zap.Error(err),
		)
		return o.fail(ctx, refund, failureReason(perr)), perr
	}

	metadata := map[string]string{}
	for k, v := range resp.Metadata {
		metadata[k] = v
	}
	if resp.ProviderTransactionID != "" {
		metadata[models.MetadataProviderRefundID] = resp.ProviderTransactionID
	}

	current, _, err := o.applyTransition(ctx, refund, models.StatusProcessing, models.StatusUpdate{Metadata: metadata}, sourceRefund)
	if err != nil {
		return refund, err
	}
	if resp.Status == models.StatusCompleted && current.Status == models.StatusProcessing {
		now := o.now()
		current, _, err = o.applyTransition(ctx, current, models.StatusCompleted, models.StatusUpdate{
			ProcessedAt: &now,
			CompletedAt: &now,
		}, sourceRefund)
		if err != nil {
			return current, err
		}
	}
	return current, nil
}

func refundable(txn *models.Transaction) error {
	if txn.TransactionType == models.TypeRefund {
		return models.NewPaymentError(models.CodeInvalidStatus, "Refund transactions cannot be refunded", txn.ID)
	}
	switch txn.Status {
	case models.StatusCompleted:
		return nil
	case models.StatusRefunded:
		return models.NewPaymentError(models.CodeAlreadyRefunded, "Transaction has already been refunded", txn.ID)
	default:
		return models.NewPaymentError(models.CodeInvalidStatus,
			fmt.Sprintf("Only COMPLETED transactions can be refunded, transaction is %s", txn.Status), txn.ID)
	}
}

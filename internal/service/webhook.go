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

// WebhookResult tells the provider whether the callback was consumed.
// Processed=false invites a redelivery.
type WebhookResult struct {
	Processed     bool                 `json:"processed"`
	TransactionID string               `json:"transactionId,omitempty"`
	Status        models.PaymentStatus `json:"status,omitempty"`
	Message       string               `json:"message"`
}

// HandleWebhook authenticates and applies a provider callback. Redelivered
// and concurrent copies of the same callback commit the transition once.
func (o *Orchestrator) HandleWebhook(ctx context.Context, provider models.Provider, raw []byte, signature string) (*WebhookResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "orchestrator.HandleWebhook")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.provider", string(provider)))

	adapter, ok := o.registry.Get(provider)
	if !ok {
		return nil, models.NewPaymentError(models.CodeInvalidProvider, "Unsupported provider", string(provider))
	}

	if !adapter.VerifyWebhook(raw, signature) {
		telemetry.ObserveWebhook(string(provider), "invalid_signature")
		o.logger.Warn("Webhook signature rejected", zap.String("provider", string(provider)))
		return nil, models.NewPaymentError(models.CodeInvalidSignature, "Invalid webhook signature", "")
	}

	event, err := adapter.ParseWebhook(raw)
	if err != nil {
		telemetry.ObserveWebhook(string(provider), "invalid_payload")
		return nil, &models.PaymentError{
			Code:    models.CodeInvalidPayload,
			Message: "Malformed webhook payload",
			Details: err.Error(),
			Err:     err,
		}
	}

	txn, err := o.locate(ctx, provider, event)
	if errors.Is(err, models.ErrNotFound) {
		telemetry.ObserveWebhook(string(provider), "not_found")
		o.logger.Warn("Webhook for unknown transaction",
			zap.String("provider", string(provider)),
			zap.String("external_id", event.ExternalTransactionID),
			zap.String("provider_transaction_id", event.ProviderTransactionID),
			zap.String("provider_refund_id", event.ProviderRefundID),
		)
		return &WebhookResult{Processed: false, Message: "transaction not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locate webhook transaction: %w", err)
	}
	span.SetAttributes(attribute.String("transaction.id", txn.ID))

	result, err := o.reconcile(ctx, txn, event)
	if err != nil {
		telemetry.ObserveWebhook(string(provider), "error")
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) locate(ctx context.Context, provider models.Provider, event *providers.WebhookEvent) (*models.Transaction, error) {
	if event.ExternalTransactionID != "" {
		txn, err := o.repo.GetByID(ctx, event.ExternalTransactionID)
		if err == nil && txn.Provider == provider {
			return txn, nil
		}
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	if event.ProviderRefundID != "" {
		return o.repo.GetRefundByProviderRefundID(ctx, provider, event.ProviderRefundID)
	}
	if event.ProviderTransactionID != "" {
		return o.repo.GetByProviderTransactionID(ctx, provider, event.ProviderTransactionID)
	}
	return nil, models.ErrNotFound
}

// reconcile applies the provider-reported outcome to txn.
func (o *Orchestrator) reconcile(ctx context.Context, txn *models.Transaction, event *providers.WebhookEvent) (*WebhookResult, error) {
	provider := string(txn.Provider)
	result := &WebhookResult{TransactionID: txn.ID, Status: txn.Status}

	switch {
	case txn.Status.IsTerminal():
		result.Processed = true
		if txn.Status == event.Status {
			telemetry.ObserveWebhook(provider, "duplicate")
			result.Message = "already processed"
			return result, nil
		}
		telemetry.ObserveWebhook(provider, "anomaly")
		o.logger.Warn("Webhook contradicts settled transaction",
			zap.String("transaction_id", txn.ID),
			zap.String("status", string(txn.Status)),
			zap.String("reported_status", string(event.Status)),
		)
		result.Message = "transaction already settled"
		return result, nil

	case txn.Status == models.StatusPending:
		// Dispatch has not committed PROCESSING yet; the provider will retry.
		telemetry.ObserveWebhook(provider, "deferred")
		result.Message = "transaction not yet dispatched"
		return result, nil
	}

	if !event.Status.IsTerminal() {
		telemetry.ObserveWebhook(provider, "in_progress")
		result.Processed = true
		result.Message = "payment still in progress"
		return result, nil
	}

	upd := models.StatusUpdate{Metadata: event.Metadata}
	switch event.Status {
	case models.StatusCompleted:
		now := o.now()
		upd.ProcessedAt = &now
		upd.CompletedAt = &now
	case models.StatusFailed, models.StatusCancelled, models.StatusExpired:
		upd.FailureReason = event.FailureReason
		if upd.FailureReason == "" {
			upd.FailureReason = "Payment " + string(event.Status)
		}
	}

	updated, changed, err := o.applyTransition(ctx, txn, event.Status, upd, sourceWebhook)
	if err != nil {
		var pe *models.PaymentError
		if errors.As(err, &pe) && pe.Code == models.CodeInvalidTransition {
			telemetry.ObserveWebhook(provider, "anomaly")
			o.logger.Warn("Webhook requested an invalid transition",
				zap.String("transaction_id", txn.ID),
				zap.String("status", string(txn.Status)),
				zap.String("reported_status", string(event.Status)),
			)
			result.Processed = true
			result.Message = pe.Message
			return result, nil
		}
		return nil, err
	}

	result.Processed = true
	result.Status = updated.Status
	if changed {
		telemetry.ObserveWebhook(provider, "applied")
		result.Message = "status updated"
	} else {
		telemetry.ObserveWebhook(provider, "duplicate")
		result.Message = "already processed"
	}
	return result, nil
}

// Package events publishes the outbound side effects of committed state
// changes: state-change records on Kafka and subscription/notification
// messages on NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

const (
	TopicStateChanged           = "mobile_money.transaction.state_changed"
	SubjectActivateSubscription = "mobile_money.subscription.activate"
	SubjectPaymentNotification  = "mobile_money.notification.payment"
)

// MessageWriter is the part of *kafka.Writer the dispatcher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher is the part of *nats.Conn the dispatcher uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type SubscriptionActivation struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	TransactionID  string    `json:"transaction_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	PaidAt         time.Time `json:"paid_at"`
}

type PaymentNotification struct {
	TransactionID   string                 `json:"transaction_id"`
	UserID          string                 `json:"user_id"`
	PhoneNumber     string                 `json:"phone_number"`
	Provider        models.Provider        `json:"provider"`
	TransactionType models.TransactionType `json:"transaction_type"`
	Status          models.PaymentStatus   `json:"status"`
	Amount          int64                  `json:"amount"`
	Currency        string                 `json:"currency"`
	FailureReason   string                 `json:"failure_reason,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
}

// Dispatcher implements interfaces.EventPublisher. Either transport may be
// nil, in which case its messages are dropped.
type Dispatcher struct {
	writer MessageWriter
	nc     Publisher
	logger *zap.Logger
	now    func() time.Time
}

func NewDispatcher(writer MessageWriter, nc Publisher, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{writer: writer, nc: nc, logger: logger, now: time.Now}
}

// PublishStateChange writes the event keyed by transaction id so a
// transaction's history stays ordered within one partition.
func (d *Dispatcher) PublishStateChange(ctx context.Context, event models.StateChangeEvent) error {
	if d.writer == nil {
		return nil
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode state change: %w", err)
	}
	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "state", Value: []byte(event.State)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish state change for %s: %w", event.TransactionID, err)
	}
	return nil
}

func (d *Dispatcher) ActivateSubscription(ctx context.Context, txn *models.Transaction) error {
	if txn.SubscriptionID == "" {
		d.logger.Warn("Subscription payment without subscription id",
			zap.String("transaction_id", txn.ID),
		)
		return nil
	}
	paidAt := d.now()
	if txn.CompletedAt != nil {
		paidAt = *txn.CompletedAt
	}
	return d.publish(SubjectActivateSubscription, SubscriptionActivation{
		SubscriptionID: txn.SubscriptionID,
		UserID:         txn.UserID,
		TransactionID:  txn.ID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		PaidAt:         paidAt,
	})
}

func (d *Dispatcher) NotifyPayment(ctx context.Context, txn *models.Transaction) error {
	return d.publish(SubjectPaymentNotification, PaymentNotification{
		TransactionID:   txn.ID,
		UserID:          txn.UserID,
		PhoneNumber:     txn.PhoneNumber,
		Provider:        txn.Provider,
		TransactionType: txn.TransactionType,
		Status:          txn.Status,
		Amount:          txn.Amount,
		Currency:        txn.Currency,
		FailureReason:   txn.FailureReason,
		Timestamp:       d.now(),
	})
}

func (d *Dispatcher) publish(subject string, v any) error {
	if d.nc == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if err := d.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Noop discards every event.
type Noop struct{}

func (Noop) PublishStateChange(context.Context, models.StateChangeEvent) error { return nil }

func (Noop) ActivateSubscription(context.Context, *models.Transaction) error { return nil }

func (Noop) NotifyPayment(context.Context, *models.Transaction) error { return nil }

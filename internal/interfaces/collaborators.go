package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// KYCProvider looks up a user's identity verification record. Users without a
// record are reported with status NOT_SUBMITTED rather than an error.
type KYCProvider interface {
	GetKYC(ctx context.Context, userID string) (*models.KYCRecord, error)
}

// SanctionsProvider screens a payer against the sanctions list. The returned
// string names the matched list entry.
type SanctionsProvider interface {
	Screen(ctx context.Context, userID, phone string) (bool, string, error)
}

// Blocklist is the dynamically maintained set of blocked phone numbers.
type Blocklist interface {
	IsBlocked(ctx context.Context, phone string) (bool, error)
	Block(ctx context.Context, phone string) error
}

// Cache is a short-TTL read cache. It is never the system of record.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Locker provides named mutual exclusion across service instances. Obtain
// returns models.ErrConflict when the lock is held elsewhere.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// EventPublisher emits the outbound events consumed by notification,
// subscription and analytics services.
type EventPublisher interface {
	PublishStateChange(ctx context.Context, event models.StateChangeEvent) error
	ActivateSubscription(ctx context.Context, txn *models.Transaction) error
	NotifyPayment(ctx context.Context, txn *models.Transaction) error
}

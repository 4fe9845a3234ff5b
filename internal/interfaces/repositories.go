package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// TransactionRepository defines the contract for transaction data access.
// Transition is a compare-and-swap on the status column: it returns
// models.ErrConflict when the row is no longer in status from.
type TransactionRepository interface {
	Create(ctx context.Context, txn *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByProviderTransactionID(ctx context.Context, provider models.Provider, providerTxnID string) (*models.Transaction, error)
	Transition(ctx context.Context, id string, from, to models.PaymentStatus, upd models.StatusUpdate) (*models.Transaction, error)
	List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
	ListCreatedBetween(ctx context.Context, start, end time.Time, provider models.Provider) ([]models.Transaction, error)

	// GetRefundByProviderRefundID finds a refund by the reference the
	// provider returned when it accepted the refund.
	GetRefundByProviderRefundID(ctx context.Context, provider models.Provider, providerRefundID string) (*models.Transaction, error)
	// FindActiveRefund returns the non-failed refund linked to originalID.
	FindActiveRefund(ctx context.Context, originalID string) (*models.Transaction, error)
	// CreateRefund inserts a refund, returning models.ErrConflict when an
	// active refund for the same original already exists.
	CreateRefund(ctx context.Context, refund *models.Transaction) error
}

// UsageAggregator answers history questions for the risk checks. Both
// methods exclude failed, cancelled and expired transactions. UsageSince sums
// only transactions in currency; an empty currency sums all of them.
type UsageAggregator interface {
	UsageSince(ctx context.Context, userID string, since time.Time, excludeID, currency string) (models.UsageSummary, error)
	RecentTransactions(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error)
}

type FraudRepository interface {
	SaveAnalysis(ctx context.Context, analysis *models.FraudAnalysis) error
	GetAnalysis(ctx context.Context, transactionID string) (*models.FraudAnalysis, error)
	RecordReview(ctx context.Context, transactionID string, review models.FraudReview, at time.Time) (*models.FraudAnalysis, error)
}

type ComplianceRepository interface {
	SaveCheck(ctx context.Context, check *models.ComplianceCheck) error
	GetCheck(ctx context.Context, transactionID string) (*models.ComplianceCheck, error)
}

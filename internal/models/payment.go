package models

import "time"

type Provider string

const (
	ProviderMpesa       Provider = "MPESA"
	ProviderMTNMoney    Provider = "MTN_MONEY"
	ProviderOrangeMoney Provider = "ORANGE_MONEY"
	ProviderAirtelMoney Provider = "AIRTEL_MONEY"
	ProviderEcoCash     Provider = "ECOCASH"
)

// Providers lists every supported mobile money network.
var Providers = []Provider{
	ProviderMpesa,
	ProviderMTNMoney,
	ProviderOrangeMoney,
	ProviderAirtelMoney,
	ProviderEcoCash,
}

func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusProcessing PaymentStatus = "PROCESSING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusFailed     PaymentStatus = "FAILED"
	StatusCancelled  PaymentStatus = "CANCELLED"
	StatusExpired    PaymentStatus = "EXPIRED"
	StatusRefunded   PaymentStatus = "REFUNDED"
)

type TransactionType string

const (
	TypeSubscriptionPayment TransactionType = "SUBSCRIPTION_PAYMENT"
	TypePremiumContent      TransactionType = "PREMIUM_CONTENT"
	TypeTopUp               TransactionType = "TOP_UP"
	TypeRefund              TransactionType = "REFUND"
)

// MetadataProviderRefundID holds the provider's reference for a refund, which
// is how asynchronous refund results are matched back to the refund row.
const MetadataProviderRefundID = "provider_refund_id"

// PaymentRequest is the inbound initiation payload. Amount is in minor units.
type PaymentRequest struct {
	ID              string            `json:"id,omitempty"`
	UserID          string            `json:"userId"`
	Provider        Provider          `json:"provider"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	PhoneNumber     string            `json:"phoneNumber"`
	Description     string            `json:"description"`
	TransactionType TransactionType   `json:"transactionType"`
	SubscriptionID  string            `json:"subscriptionId,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CallbackURL     string            `json:"callbackUrl,omitempty"`
	ExpiresAt       time.Time         `json:"expiresAt,omitempty"`
}

type Fees struct {
	ProviderFee int64 `json:"providerFee"`
	PlatformFee int64 `json:"platformFee"`
	TotalFee    int64 `json:"totalFee"`
}

type Transaction struct {
	ID                    string            `json:"id"`
	UserID                string            `json:"userId"`
	Provider              Provider          `json:"provider"`
	ProviderTransactionID string            `json:"providerTransactionId,omitempty"`
	Amount                int64             `json:"amount"`
	Currency              string            `json:"currency"`
	PhoneNumber           string            `json:"phoneNumber"`
	Status                PaymentStatus     `json:"status"`
	TransactionType       TransactionType   `json:"transactionType"`
	Description           string            `json:"description"`
	SubscriptionID        string            `json:"subscriptionId,omitempty"`
	Fees                  Fees              `json:"fees"`
	FailureReason         string            `json:"failureReason,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	CreatedAt             time.Time         `json:"createdAt"`
	UpdatedAt             time.Time         `json:"updatedAt"`
	ProcessedAt           *time.Time        `json:"processedAt,omitempty"`
	CompletedAt           *time.Time        `json:"completedAt,omitempty"`
	ExpiresAt             time.Time         `json:"expiresAt"`
	Version               int64             `json:"version"`
}

// StatusUpdate carries the fields a transition may set alongside the new status.
type StatusUpdate struct {
	ProviderTransactionID string
	FailureReason         string
	Metadata              map[string]string
	ProcessedAt           *time.Time
	CompletedAt           *time.Time
}

// Verification is the read-side answer to "has this payment settled".
type Verification struct {
	Verified    bool          `json:"verified"`
	Status      PaymentStatus `json:"status"`
	Amount      int64         `json:"amount,omitempty"`
	Currency    string        `json:"currency,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

type TransactionFilter struct {
	UserID    string
	Status    PaymentStatus
	Provider  Provider
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	Limit     int
}

type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	HasNext    bool `json:"hasNext"`
	HasPrev    bool `json:"hasPrev"`
}

type TransactionPage struct {
	Data       []Transaction `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

func NewPagination(page, limit, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// StateChangeEvent is published on every committed transition.
type StateChangeEvent struct {
	TransactionID   string          `json:"transaction_id"`
	UserID          string          `json:"user_id"`
	Provider        Provider        `json:"provider"`
	TransactionType TransactionType `json:"transaction_type"`
	SubscriptionID  string          `json:"subscription_id,omitempty"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	State           PaymentStatus   `json:"state"`
	PreviousState   PaymentStatus   `json:"previous_state"`
	Timestamp       time.Time       `json:"timestamp"`
}

// UsageSummary aggregates a user's non-failed activity over a period.
type UsageSummary struct {
	Count  int   `json:"count"`
	Amount int64 `json:"amount"`
}

// TransactionSummary is the slice of history the risk checks look at.
type TransactionSummary struct {
	ID          string
	PhoneNumber string
	Amount      int64
	Currency    string
	Status      PaymentStatus
	CreatedAt   time.Time
}

type ProviderSuccessRate struct {
	Provider          Provider `json:"provider"`
	SuccessRate       float64  `json:"successRate"`
	TotalTransactions int      `json:"totalTransactions"`
}

type PaymentAnalytics struct {
	TotalTransactions int              `json:"totalTransactions"`
	TotalAmount       int64            `json:"totalAmount"`
	SuccessRate       float64          `json:"successRate"`
	AverageAmount     int64            `json:"averageAmount"`
	StatusBreakdown   map[string]int   `json:"statusBreakdown"`
	FailureReasons    map[string]int   `json:"failureReasons"`
	ProviderVolume    map[string]int64 `json:"providerVolume"`
	Start             time.Time        `json:"start"`
	End               time.Time        `json:"end"`
}

// Package providers adapts each mobile money network to one contract:
// initiation, status checks, refunds, fees, limits and webhook parsing.
package providers

import (
	"context"
	"sort"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// PaymentInstruction is what the orchestrator hands to an adapter.
type PaymentInstruction struct {
	TransactionID string
	Amount        int64
	Currency      string
	PhoneNumber   string
	Description   string
	Country       string
	CallbackURL   string
}

type RefundRequest struct {
	RefundID              string
	ProviderTransactionID string
	// ProviderReceipt is the settlement reference some networks require for
	// reversals (M-Pesa receipt number, Airtel money id, EcoCash reference).
	ProviderReceipt string
	Amount          int64
	Currency        string
	PhoneNumber     string
	Reason          string
}

type Response struct {
	Success               bool
	ProviderTransactionID string
	Status                models.PaymentStatus
	Message               string
	CheckoutURL           string
	QRCode                string
	Metadata              map[string]string
}

type Verification struct {
	Verified    bool
	Status      models.PaymentStatus
	Amount      int64
	CompletedAt *time.Time
	Metadata    map[string]string
}

type Limits struct {
	Min          int64 `json:"min"`
	Max          int64 `json:"max"`
	DailyLimit   int64 `json:"dailyLimit"`
	MonthlyLimit int64 `json:"monthlyLimit"`
}

// WebhookEvent is the provider-agnostic form of a payment callback.
// ExternalTransactionID is our transaction id when the provider echoes it.
// ProviderRefundID is set instead of ProviderTransactionID when the callback
// reports the outcome of a refund.
type WebhookEvent struct {
	Provider              models.Provider
	ExternalTransactionID string
	ProviderTransactionID string
	ProviderRefundID      string
	Status                models.PaymentStatus
	FailureReason         string
	Metadata              map[string]string
}

// Adapter is implemented once per mobile money network.
type Adapter interface {
	Provider() models.Provider
	Config() ProviderConfig
	InitiatePayment(ctx context.Context, inst PaymentInstruction) (*Response, error)
	CheckStatus(ctx context.Context, providerTxnID string) (*Verification, error)
	ProcessRefund(ctx context.Context, req RefundRequest) (*Response, error)
	ValidatePhoneNumber(phone, country string) bool
	CalculateFees(amount int64, currency string) models.Fees
	GetLimits(country string) Limits
	IsAvailable(ctx context.Context) bool
	VerifyWebhook(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*WebhookEvent, error)
}

// Registry resolves adapters by provider.
type Registry struct {
	adapters map[models.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

func (r *Registry) Get(p models.Provider) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

// ForCountry lists the available providers operating in country, sorted by
// name for stable output.
func (r *Registry) ForCountry(ctx context.Context, country string) []models.Provider {
	var out []models.Provider
	for p, a := range r.adapters {
		if !a.Config().OperatesIn(country) || !a.IsAvailable(ctx) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResolveCountry picks the regulatory country for a payment: the phone's
// country when the provider operates there, otherwise the provider's home.
func ResolveCountry(cfg ProviderConfig, phone string) string {
	if c := models.CountryFromPhone(phone); c != "" && cfg.OperatesIn(c) {
		return c
	}
	return cfg.HomeCountry
}

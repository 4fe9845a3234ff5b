package providers

import (
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// ProviderConfig is static reference data for one network. Amounts are minor units.
type ProviderConfig struct {
	Provider       models.Provider
	Name           string
	HomeCountry    string
	Countries      []string
	Currencies     []string
	Limits         Limits
	CountryLimits  map[string]Limits
	Fees           FeeSchedule
	NationalDigits int
}

func (c ProviderConfig) OperatesIn(country string) bool {
	for _, cc := range c.Countries {
		if cc == country {
			return true
		}
	}
	return false
}

func (c ProviderConfig) SupportsCurrency(currency string) bool {
	for _, cur := range c.Currencies {
		if cur == currency {
			return true
		}
	}
	return false
}

// Credentials holds the per-deployment connection settings of a provider.
type Credentials struct {
	Enabled         bool
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	Initiator       string
	SecurityCred    string
	SubscriptionKey string
	Environment     string
	MerchantKey     string
	MerchantCode    string
	MerchantPin     string
	CallbackURL     string
	WebhookSecret   string
}

// ClientOptions tunes the HTTP transport shared by all adapters.
type ClientOptions struct {
	Timeout         time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

var defaultPlatformPercentage = pct("0.01")

// DefaultConfigs returns the built-in reference table for every network.
func DefaultConfigs() map[models.Provider]ProviderConfig {
	return map[models.Provider]ProviderConfig{
		models.ProviderMpesa: {
			Provider:    models.ProviderMpesa,
			Name:        "M-Pesa",
			HomeCountry: "KE",
			Countries:   []string{"KE", "TZ"},
			Currencies:  []string{"KES", "TZS"},
			Limits:      Limits{Min: 1_000, Max: 25_000_000, DailyLimit: 50_000_000, MonthlyLimit: 500_000_000},
			Fees: FeeSchedule{
				Tiers: []FeeTier{
					{UpTo: 100_000, Fixed: 0},
					{UpTo: 1_000_000, Fixed: 1_000},
					{Fixed: 2_500},
				},
				Percentage:         pct("0.015"),
				PlatformPercentage: defaultPlatformPercentage,
			},
			NationalDigits: 9,
		},
		models.ProviderMTNMoney: {
			Provider:    models.ProviderMTNMoney,
			Name:        "MTN Money",
			HomeCountry: "GH",
			Countries:   []string{"GH", "UG", "RW", "CM", "CI", "NG"},
			Currencies:  []string{"GHS", "UGX", "RWF", "XAF", "XOF", "NGN", "EUR"},
			Limits:      Limits{Min: 500, Max: 20_000_000, DailyLimit: 30_000_000, MonthlyLimit: 300_000_000},
			Fees: FeeSchedule{
				Tiers: []FeeTier{
					{UpTo: 50_000, Fixed: 0},
					{Fixed: 500},
				},
				Percentage:         pct("0.01"),
				PlatformPercentage: defaultPlatformPercentage,
			},
			NationalDigits: 9,
		},
		models.ProviderOrangeMoney: {
			Provider:    models.ProviderOrangeMoney,
			Name:        "Orange Money",
			HomeCountry: "CI",
			Countries:   []string{"CI", "SN", "CM"},
			Currencies:  []string{"XOF", "XAF"},
			Limits:      Limits{Min: 1_000, Max: 30_000_000, DailyLimit: 40_000_000, MonthlyLimit: 400_000_000},
			Fees: FeeSchedule{
				Tiers: []FeeTier{
					{UpTo: 100_000, Fixed: 100},
					{Fixed: 1_000},
				},
				Percentage:         pct("0.02"),
				PlatformPercentage: defaultPlatformPercentage,
			},
			NationalDigits: 9,
		},
		models.ProviderAirtelMoney: {
			Provider:    models.ProviderAirtelMoney,
			Name:        "Airtel Money",
			HomeCountry: "KE",
			Countries:   []string{"KE", "UG", "TZ", "RW", "NG", "GH"},
			Currencies:  []string{"KES", "UGX", "TZS", "RWF", "NGN", "GHS"},
			Limits:      Limits{Min: 1_000, Max: 40_000_000, DailyLimit: 50_000_000, MonthlyLimit: 450_000_000},
			Fees: FeeSchedule{
				Tiers: []FeeTier{
					{UpTo: 100_000, Fixed: 50},
					{Fixed: 500},
				},
				Percentage:         pct("0.025"),
				PlatformPercentage: defaultPlatformPercentage,
			},
			NationalDigits: 9,
		},
		models.ProviderEcoCash: {
			Provider:    models.ProviderEcoCash,
			Name:        "EcoCash",
			HomeCountry: "ZW",
			Countries:   []string{"ZW"},
			Currencies:  []string{"ZWL", "USD"},
			Limits:      Limits{Min: 2_000, Max: 100_000_000, DailyLimit: 50_000_000, MonthlyLimit: 1_000_000_000},
			Fees: FeeSchedule{
				Tiers: []FeeTier{
					{UpTo: 500_000, Fixed: 0},
					{Fixed: 2_000},
				},
				Percentage:         pct("0.02"),
				PlatformPercentage: defaultPlatformPercentage,
			},
			NationalDigits: 9,
		},
	}
}

package providers

import (
	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// FeeTier charges Fixed for amounts up to and including UpTo. A zero UpTo
// marks the open-ended top tier.
type FeeTier struct {
	UpTo  int64
	Fixed int64
}

type FeeSchedule struct {
	Tiers              []FeeTier
	Percentage         decimal.Decimal
	PlatformPercentage decimal.Decimal
}

// Calculate returns provider and platform fees in minor units. Percentages are
// applied with decimal arithmetic and rounded half-up to whole minor units.
func (f FeeSchedule) Calculate(amount int64) models.Fees {
	if amount <= 0 {
		return models.Fees{}
	}

	amt := decimal.NewFromInt(amount)
	providerFee := f.fixedFor(amount) + amt.Mul(f.Percentage).Round(0).IntPart()
	platformFee := amt.Mul(f.PlatformPercentage).Round(0).IntPart()

	return models.Fees{
		ProviderFee: providerFee,
		PlatformFee: platformFee,
		TotalFee:    providerFee + platformFee,
	}
}

func (f FeeSchedule) fixedFor(amount int64) int64 {
	for _, t := range f.Tiers {
		if t.UpTo == 0 || amount <= t.UpTo {
			return t.Fixed
		}
	}
	return 0
}

func pct(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// zeroDecimalCurrencies have no minor unit (ISO 4217 exponent 0): an amount
// of 1000 XOF is stored as 1000.
var zeroDecimalCurrencies = map[string]bool{
	"UGX": true,
	"RWF": true,
	"XOF": true,
	"XAF": true,
}

// exponent is the number of minor-unit digits of currency.
func exponent(currency string) int32 {
	if zeroDecimalCurrencies[currency] {
		return 0
	}
	return 2
}

// toMajorUnits renders minor units as a plain major-unit string, e.g.
// 150050 KES -> "1500.5" and 150050 UGX -> "150050".
func toMajorUnits(amount int64, currency string) string {
	return decimal.New(amount, -exponent(currency)).String()
}

// wholeMajorUnits converts minor units for networks that only accept whole
// currency units. ok is false when the amount carries a fractional part.
func wholeMajorUnits(amount int64, currency string) (int64, bool) {
	scale := decimal.New(1, exponent(currency)).IntPart()
	return amount / scale, amount%scale == 0
}

// fromWholeUnits scales a whole major-unit amount to minor units.
func fromWholeUnits(units int64, currency string) int64 {
	return decimal.New(units, exponent(currency)).IntPart()
}

// fromMajorUnits parses a provider-reported major-unit amount into minor units.
func fromMajorUnits(s, currency string) int64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.Shift(exponent(currency)).Round(0).IntPart()
}

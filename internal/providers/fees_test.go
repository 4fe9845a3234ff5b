package providers

import (
	"testing"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

func TestFeeScheduleCalculate(t *testing.T) {
	configs := DefaultConfigs()

	tests := []struct {
		name     string
		provider models.Provider
		amount   int64
		want     models.Fees
	}{
		{
			name:     "M-Pesa lowest tier",
			provider: models.ProviderMpesa,
			amount:   100_000,
			want:     models.Fees{ProviderFee: 1_500, PlatformFee: 1_000, TotalFee: 2_500},
		},
		{
			name:     "M-Pesa middle tier",
			provider: models.ProviderMpesa,
			amount:   150_000,
			want:     models.Fees{ProviderFee: 3_250, PlatformFee: 1_500, TotalFee: 4_750},
		},
		{
			name:     "M-Pesa open tier",
			provider: models.ProviderMpesa,
			amount:   2_000_000,
			want:     models.Fees{ProviderFee: 32_500, PlatformFee: 20_000, TotalFee: 52_500},
		},
		{
			name:     "Orange rounds half up",
			provider: models.ProviderOrangeMoney,
			amount:   1_025,
			want:     models.Fees{ProviderFee: 121, PlatformFee: 10, TotalFee: 131},
		},
		{
			name:     "Airtel fractional percentage",
			provider: models.ProviderAirtelMoney,
			amount:   1_010,
			want:     models.Fees{ProviderFee: 75, PlatformFee: 10, TotalFee: 85},
		},
		{
			name:     "zero amount",
			provider: models.ProviderMTNMoney,
			amount:   0,
			want:     models.Fees{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := configs[tt.provider].Fees.Calculate(tt.amount)
			if got != tt.want {
				t.Errorf("Calculate(%d) = %+v, want %+v", tt.amount, got, tt.want)
			}
		})
	}
}

func TestFeesAlwaysSumAndStayBelowAmount(t *testing.T) {
	amounts := []int64{1, 99, 500, 1_000, 12_345, 100_000, 100_001, 999_999, 1_000_001, 25_000_000}

	for p, cfg := range DefaultConfigs() {
		for _, a := range amounts {
			fees := cfg.Fees.Calculate(a)
			if fees.ProviderFee+fees.PlatformFee != fees.TotalFee {
				t.Errorf("%s: fees for %d do not sum: %+v", p, a, fees)
			}
			if a >= cfg.Limits.Min && fees.TotalFee >= a {
				t.Errorf("%s: total fee %d not below amount %d", p, fees.TotalFee, a)
			}
		}
	}
}

func TestMajorUnitConversions(t *testing.T) {
	tests := []struct {
		currency  string
		amount    int64
		major     string
		whole     int64
		wholeOK   bool
		parsed    string
		parsedOut int64
	}{
		{"KES", 150_050, "1500.5", 1_500, false, "1500.50", 150_050},
		{"KES", 100_000, "1000", 1_000, true, "1000", 100_000},
		{"GHS", 2_575, "25.75", 25, false, "25.75", 2_575},
		{"UGX", 150_050, "150050", 150_050, true, "150050", 150_050},
		{"RWF", 5_000, "5000", 5_000, true, "5000", 5_000},
		{"XOF", 25_000, "25000", 25_000, true, "25000", 25_000},
		{"XAF", 1_000, "1000", 1_000, true, "1000.4", 1_000},
	}

	for _, tt := range tests {
		t.Run(tt.currency+" "+tt.major, func(t *testing.T) {
			if got := toMajorUnits(tt.amount, tt.currency); got != tt.major {
				t.Errorf("toMajorUnits(%d) = %q, want %q", tt.amount, got, tt.major)
			}
			units, ok := wholeMajorUnits(tt.amount, tt.currency)
			if units != tt.whole || ok != tt.wholeOK {
				t.Errorf("wholeMajorUnits(%d) = %d, %v, want %d, %v", tt.amount, units, ok, tt.whole, tt.wholeOK)
			}
			if got := fromMajorUnits(tt.parsed, tt.currency); got != tt.parsedOut {
				t.Errorf("fromMajorUnits(%q) = %d, want %d", tt.parsed, got, tt.parsedOut)
			}
		})
	}

	if got := fromMajorUnits("garbage", "KES"); got != 0 {
		t.Errorf("fromMajorUnits(garbage) = %d, want 0", got)
	}
	if got := fromWholeUnits(25_000, "XOF"); got != 25_000 {
		t.Errorf("fromWholeUnits(25000 XOF) = %d, want 25000", got)
	}
	if got := fromWholeUnits(250, "KES"); got != 25_000 {
		t.Errorf("fromWholeUnits(250 KES) = %d, want 25000", got)
	}
}

package compliance

import "github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"

var standardIDs = []string{"NATIONAL_ID", "PASSPORT"}

// DefaultCountries is the built-in regulatory table. Amounts are minor units
// of the local currency; UGX, RWF, XOF and XAF have no minor unit.
func DefaultCountries() map[string]models.CountryRequirements {
	rows := []models.CountryRequirements{
		{Country: "KE", Currency: "KES", DailyLimit: 30_000_000, MonthlyLimit: 300_000_000, KYCRequiredThreshold: 10_000_000, AMLReportThreshold: 100_000_000, RequiredIDTypes: standardIDs},
		{Country: "TZ", Currency: "TZS", DailyLimit: 500_000_000, MonthlyLimit: 5_000_000_000, KYCRequiredThreshold: 200_000_000, AMLReportThreshold: 1_000_000_000, RequiredIDTypes: standardIDs},
		{Country: "UG", Currency: "UGX", DailyLimit: 7_000_000, MonthlyLimit: 70_000_000, KYCRequiredThreshold: 3_000_000, AMLReportThreshold: 20_000_000, RequiredIDTypes: standardIDs},
		{Country: "RW", Currency: "RWF", DailyLimit: 1_000_000, MonthlyLimit: 10_000_000, KYCRequiredThreshold: 500_000, AMLReportThreshold: 3_000_000, RequiredIDTypes: standardIDs},
		{Country: "GH", Currency: "GHS", DailyLimit: 1_500_000, MonthlyLimit: 15_000_000, KYCRequiredThreshold: 500_000, AMLReportThreshold: 5_000_000, RequiredIDTypes: []string{"GHANA_CARD", "PASSPORT"}},
		{Country: "NG", Currency: "NGN", DailyLimit: 500_000_000, MonthlyLimit: 5_000_000_000, KYCRequiredThreshold: 100_000_000, AMLReportThreshold: 500_000_000, RequiredIDTypes: []string{"NIN", "BVN", "PASSPORT"}},
		{Country: "CI", Currency: "XOF", DailyLimit: 1_000_000, MonthlyLimit: 10_000_000, KYCRequiredThreshold: 200_000, AMLReportThreshold: 5_000_000, RequiredIDTypes: standardIDs},
		{Country: "SN", Currency: "XOF", DailyLimit: 1_000_000, MonthlyLimit: 10_000_000, KYCRequiredThreshold: 200_000, AMLReportThreshold: 5_000_000, RequiredIDTypes: standardIDs},
		{Country: "CM", Currency: "XAF", DailyLimit: 1_000_000, MonthlyLimit: 10_000_000, KYCRequiredThreshold: 200_000, AMLReportThreshold: 5_000_000, RequiredIDTypes: standardIDs},
		{Country: "ZW", Currency: "USD", DailyLimit: 100_000, MonthlyLimit: 1_000_000, KYCRequiredThreshold: 50_000, AMLReportThreshold: 500_000, RequiredIDTypes: standardIDs},
	}

	out := make(map[string]models.CountryRequirements, len(rows))
	for _, r := range rows {
		out[r.Country] = r
	}
	return out
}

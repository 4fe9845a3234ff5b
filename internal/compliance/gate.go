// Package compliance checks a proposed payment against the regulatory table
// of the country it is made in.
package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/providers"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

const (
	structuringMinCount = 3
	structuringBand     = 10 // percent below the KYC threshold
)

type Gate struct {
	countries map[string]models.CountryRequirements
	kyc       interfaces.KYCProvider
	sanctions interfaces.SanctionsProvider
	usage     interfaces.UsageAggregator
	logger    *zap.Logger
	now       func() time.Time
}

func NewGate(
	countries map[string]models.CountryRequirements,
	kyc interfaces.KYCProvider,
	sanctions interfaces.SanctionsProvider,
	usage interfaces.UsageAggregator,
	logger *zap.Logger,
) *Gate {
	if logger == nil {
		logger = telemetry.Logger
	}
	return &Gate{
		countries: countries,
		kyc:       kyc,
		sanctions: sanctions,
		usage:     usage,
		logger:    logger,
		now:       time.Now,
	}
}

// Requirements returns the regulatory row for country.
func (g *Gate) Requirements(country string) (models.CountryRequirements, bool) {
	req, ok := g.countries[country]
	return req, ok
}

// Validate runs every sub-check. It never returns an error: lookup failures
// and panics produce a VIOLATION that requires manual review.
func (g *Gate) Validate(ctx context.Context, txn *models.Transaction, provider providers.ProviderConfig) (check *models.ComplianceCheck) {
	ctx, span := telemetry.Tracer.Start(ctx, "compliance.Validate")
	defer span.End()

	country := providers.ResolveCountry(provider, txn.PhoneNumber)

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Compliance check panicked",
				zap.String("transaction_id", txn.ID),
				zap.Any("panic", r),
			)
			check = g.failSafe(txn, provider.Provider, country, fmt.Errorf("panic: %v", r))
		}
		span.SetAttributes(
			attribute.String("compliance.country", check.Country),
			attribute.String("compliance.status", string(check.Status)),
		)
		telemetry.ObserveCompliance(check.Country, string(check.Status))
	}()

	checks, err := g.run(ctx, txn, country)
	if err != nil {
		g.logger.Error("Compliance check failed",
			zap.String("transaction_id", txn.ID),
			zap.String("country", country),
			zap.Error(err),
		)
		return g.failSafe(txn, provider.Provider, country, err)
	}

	check = &models.ComplianceCheck{
		TransactionID: txn.ID,
		Country:       country,
		Provider:      provider.Provider,
		Status:        models.ComplianceCompliant,
		Checks:        checks,
		Violations:    []string{},
		CheckedAt:     g.now(),
	}
	for _, sc := range []models.SubCheck{checks.Country, checks.KYC, checks.Limits, checks.Sanctions, checks.AML} {
		switch sc.Status {
		case models.ComplianceViolation:
			check.Status = models.ComplianceViolation
		case models.CompliancePendingReview:
			check.Status = models.ComplianceViolation
			check.RequiresManualReview = true
		}
		check.Violations = append(check.Violations, sc.Violations...)
	}
	return check
}

func (g *Gate) run(ctx context.Context, txn *models.Transaction, country string) (models.ComplianceChecks, error) {
	var checks models.ComplianceChecks

	kyc, err := g.kyc.GetKYC(ctx, txn.UserID)
	if err != nil {
		return checks, fmt.Errorf("kyc lookup: %w", err)
	}
	if kyc == nil {
		kyc = &models.KYCRecord{UserID: txn.UserID, Status: models.KYCNotSubmitted}
	}

	req, configured := g.countries[country]

	checks.KYC = kycCheck(kyc)

	hit, entry, err := g.sanctions.Screen(ctx, txn.UserID, txn.PhoneNumber)
	if err != nil {
		return checks, fmt.Errorf("sanctions screening: %w", err)
	}
	checks.Sanctions = pass()
	if hit {
		checks.Sanctions = violation(fmt.Sprintf("Sanctions list match: %s", entry))
	}

	if !configured {
		unconfigured := models.SubCheck{
			Status:     models.CompliancePendingReview,
			Violations: []string{fmt.Sprintf("Country %q is not configured", country)},
		}
		checks.Country = unconfigured
		checks.Limits = models.SubCheck{Status: models.CompliancePendingReview, Violations: []string{}}
		checks.AML = models.SubCheck{Status: models.CompliancePendingReview, Violations: []string{}}
		return checks, nil
	}

	checks.Country = countryCheck(req, txn, kyc)

	// Limits are denominated in the country's currency, so only spend in
	// that currency counts toward them.
	now := g.now()
	daily, err := g.usage.UsageSince(ctx, txn.UserID, now.Add(-24*time.Hour), txn.ID, req.Currency)
	if err != nil {
		return checks, fmt.Errorf("daily usage: %w", err)
	}
	monthly, err := g.usage.UsageSince(ctx, txn.UserID, now.AddDate(0, 0, -30), txn.ID, req.Currency)
	if err != nil {
		return checks, fmt.Errorf("monthly usage: %w", err)
	}
	checks.Limits = limitsCheck(req, txn.Amount, daily, monthly)

	recent, err := g.usage.RecentTransactions(ctx, txn.UserID, txn.PhoneNumber, now.Add(-24*time.Hour))
	if err != nil {
		return checks, fmt.Errorf("aml history: %w", err)
	}
	checks.AML = amlCheck(req, txn, recent)

	return checks, nil
}

func (g *Gate) failSafe(txn *models.Transaction, provider models.Provider, country string, err error) *models.ComplianceCheck {
	failed := violation("Compliance check could not complete")
	return &models.ComplianceCheck{
		TransactionID:        txn.ID,
		Country:              country,
		Provider:             provider,
		Status:               models.ComplianceViolation,
		Checks:               models.ComplianceChecks{Country: failed, KYC: failed, Limits: failed, Sanctions: failed, AML: failed},
		Violations:           []string{fmt.Sprintf("Compliance check error: %v", err)},
		RequiresManualReview: true,
		CheckedAt:            g.now(),
	}
}

func pass() models.SubCheck {
	return models.SubCheck{Status: models.ComplianceCompliant, Violations: []string{}}
}

func violation(msgs ...string) models.SubCheck {
	return models.SubCheck{Status: models.ComplianceViolation, Violations: msgs}
}

func kycCheck(kyc *models.KYCRecord) models.SubCheck {
	if kyc.Status == models.KYCVerified {
		return pass()
	}
	return violation(fmt.Sprintf("KYC status is %s", kyc.Status))
}

func countryCheck(req models.CountryRequirements, txn *models.Transaction, kyc *models.KYCRecord) models.SubCheck {
	if txn.Amount <= req.KYCRequiredThreshold {
		return pass()
	}
	if kyc.Status == models.KYCVerified && hasAny(kyc.VerifiedIDTypes, req.RequiredIDTypes) {
		return pass()
	}
	return violation(fmt.Sprintf("Amounts above %d require a verified %s", req.KYCRequiredThreshold, strings.Join(req.RequiredIDTypes, " or ")))
}

func limitsCheck(req models.CountryRequirements, amount int64, daily, monthly models.UsageSummary) models.SubCheck {
	var msgs []string
	if req.DailyLimit > 0 && daily.Amount+amount > req.DailyLimit {
		msgs = append(msgs, fmt.Sprintf("Daily limit of %d exceeded", req.DailyLimit))
	}
	if req.MonthlyLimit > 0 && monthly.Amount+amount > req.MonthlyLimit {
		msgs = append(msgs, fmt.Sprintf("Monthly limit of %d exceeded", req.MonthlyLimit))
	}
	if len(msgs) > 0 {
		return violation(msgs...)
	}
	return pass()
}

// amlCheck flags high 24h volume and structuring: repeated payments sized just
// under the KYC threshold.
func amlCheck(req models.CountryRequirements, txn *models.Transaction, recent []models.TransactionSummary) models.SubCheck {
	volume := txn.Amount
	structured := 0
	if justBelow(txn.Amount, req.KYCRequiredThreshold) {
		structured++
	}
	for _, r := range recent {
		if r.ID == txn.ID || (req.Currency != "" && r.Currency != req.Currency) {
			continue
		}
		volume += r.Amount
		if justBelow(r.Amount, req.KYCRequiredThreshold) {
			structured++
		}
	}

	var msgs []string
	if req.AMLReportThreshold > 0 && volume > req.AMLReportThreshold {
		msgs = append(msgs, fmt.Sprintf("24h volume %d exceeds AML reporting threshold %d", volume, req.AMLReportThreshold))
	}
	if structured >= structuringMinCount {
		msgs = append(msgs, fmt.Sprintf("%d payments just below the KYC threshold in 24h", structured))
	}
	if len(msgs) > 0 {
		return violation(msgs...)
	}
	return pass()
}

func justBelow(amount, threshold int64) bool {
	if threshold <= 0 {
		return false
	}
	floor := threshold - threshold*structuringBand/100
	return amount >= floor && amount < threshold
}

func hasAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

// Package fraud scores transactions for risk from payer history, the phone
// blocklist and static rules.
package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

const (
	FlagVelocityExceeded     = "velocity_exceeded"
	FlagDailyLimitExceeded   = "daily_limit_exceeded"
	FlagDailyCountExceeded   = "daily_count_exceeded"
	FlagMonthlyLimitExceeded = "monthly_limit_exceeded"
	FlagBlockedPhoneNumber   = "blocked_phone_number"
	FlagBlockedCountry       = "blocked_country"
	FlagRoundAmountPattern   = "round_amount_pattern"
	FlagUnusualHour          = "unusual_hour"
	FlagSuspiciousPattern    = "suspicious_pattern"
	FlagAnalysisError        = "analysis_error"
)

// points each flag adds to the risk score.
var points = map[string]int{
	FlagVelocityExceeded:     30,
	FlagDailyLimitExceeded:   20,
	FlagDailyCountExceeded:   15,
	FlagMonthlyLimitExceeded: 25,
	FlagBlockedPhoneNumber:   50,
	FlagBlockedCountry:       40,
	FlagRoundAmountPattern:   15,
	FlagUnusualHour:          5,
	FlagSuspiciousPattern:    15,
}

const (
	failSafeScore       = 50
	roundAmountModulus  = 1000
	roundAmountMinCount = 3
)

// countryZones places a payer in a local timezone for the unusual-hour check.
var countryZones = map[string]string{
	"KE": "Africa/Nairobi",
	"TZ": "Africa/Dar_es_Salaam",
	"UG": "Africa/Kampala",
	"RW": "Africa/Kigali",
	"GH": "Africa/Accra",
	"NG": "Africa/Lagos",
	"CI": "Africa/Abidjan",
	"SN": "Africa/Dakar",
	"CM": "Africa/Douala",
	"ZW": "Africa/Harare",
}

// Engine runs every check against one transaction snapshot.
type Engine struct {
	usage     interfaces.UsageAggregator
	blocklist interfaces.Blocklist
	logger    *zap.Logger
	now       func() time.Time
}

// NewEngine builds an engine. blocklist may be nil when only the static rule
// list is in use.
func NewEngine(usage interfaces.UsageAggregator, blocklist interfaces.Blocklist, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = telemetry.Logger
	}
	return &Engine{
		usage:     usage,
		blocklist: blocklist,
		logger:    logger,
		now:       time.Now,
	}
}

// Analyze never returns an error: any failure, including a panic, yields the
// fail-safe HIGH/review result.
func (e *Engine) Analyze(ctx context.Context, txn *models.Transaction, rules *RuleSet) (analysis *models.FraudAnalysis) {
	ctx, span := telemetry.Tracer.Start(ctx, "fraud.Analyze")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Fraud analysis panicked",
				zap.String("transaction_id", txn.ID),
				zap.Any("panic", r),
			)
			analysis = e.failSafe(txn.ID, fmt.Errorf("panic: %v", r))
		}
		span.SetAttributes(
			attribute.Int("fraud.score", analysis.RiskScore),
			attribute.String("fraud.recommendation", string(analysis.Recommendation)),
		)
		telemetry.ObserveFraudScore(string(analysis.Recommendation), analysis.RiskScore)
	}()

	flags, err := e.collectFlags(ctx, txn, rules)
	if err != nil {
		e.logger.Error("Fraud analysis failed",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
		return e.failSafe(txn.ID, err)
	}

	score := 0
	for _, f := range flags {
		score += flagPoints(f)
	}
	score = clamp(score)

	level, rec := models.RiskLevelForScore(score)
	return &models.FraudAnalysis{
		TransactionID:  txn.ID,
		RiskLevel:      level,
		RiskScore:      score,
		Flags:          flags,
		Recommendation: rec,
		Reason:         reason(flags),
		AnalyzedAt:     e.now(),
	}
}

func (e *Engine) collectFlags(ctx context.Context, txn *models.Transaction, rules *RuleSet) ([]models.FraudFlag, error) {
	if rules == nil {
		return nil, fmt.Errorf("no fraud rules loaded")
	}
	now := e.now()
	flags := make([]models.FraudFlag, 0)

	if rules.MaxVelocityTransactions > 0 && rules.VelocityWindowMinutes > 0 {
		window := time.Duration(rules.VelocityWindowMinutes) * time.Minute
		recent, err := e.usage.RecentTransactions(ctx, txn.UserID, txn.PhoneNumber, now.Add(-window))
		if err != nil {
			return nil, fmt.Errorf("velocity lookup: %w", err)
		}
		count := countExcluding(recent, txn.ID, nil)
		if count > rules.MaxVelocityTransactions {
			flags = append(flags, models.FraudFlag{
				Type:        FlagVelocityExceeded,
				Severity:    models.SeverityHigh,
				Description: fmt.Sprintf("%d transactions in the last %d minutes", count, rules.VelocityWindowMinutes),
				Details: map[string]any{
					"count":         count,
					"limit":         rules.MaxVelocityTransactions,
					"windowMinutes": rules.VelocityWindowMinutes,
				},
			})
		}
	}

	daily, err := e.usage.UsageSince(ctx, txn.UserID, startOfDay(now), txn.ID, "")
	if err != nil {
		return nil, fmt.Errorf("daily usage lookup: %w", err)
	}
	if rules.MaxDailyAmount > 0 && daily.Amount+txn.Amount > rules.MaxDailyAmount {
		flags = append(flags, models.FraudFlag{
			Type:        FlagDailyLimitExceeded,
			Severity:    models.SeverityMedium,
			Description: "Daily amount limit exceeded",
			Details: map[string]any{
				"dailyUsed": daily.Amount,
				"amount":    txn.Amount,
				"limit":     rules.MaxDailyAmount,
			},
		})
	}
	if rules.MaxDailyTransactions > 0 && daily.Count >= rules.MaxDailyTransactions {
		flags = append(flags, models.FraudFlag{
			Type:        FlagDailyCountExceeded,
			Severity:    models.SeverityMedium,
			Description: "Daily transaction count limit reached",
			Details: map[string]any{
				"count": daily.Count,
				"limit": rules.MaxDailyTransactions,
			},
		})
	}

	if rules.MaxMonthlyAmount > 0 {
		monthly, err := e.usage.UsageSince(ctx, txn.UserID, startOfMonth(now), txn.ID, "")
		if err != nil {
			return nil, fmt.Errorf("monthly usage lookup: %w", err)
		}
		if monthly.Amount+txn.Amount > rules.MaxMonthlyAmount {
			flags = append(flags, models.FraudFlag{
				Type:        FlagMonthlyLimitExceeded,
				Severity:    models.SeverityHigh,
				Description: "Monthly amount limit exceeded",
				Details: map[string]any{
					"monthlyUsed": monthly.Amount,
					"amount":      txn.Amount,
					"limit":       rules.MaxMonthlyAmount,
				},
			})
		}
	}

	blocked := rules.phoneBlocked(txn.PhoneNumber)
	if !blocked && e.blocklist != nil {
		blocked, err = e.blocklist.IsBlocked(ctx, models.MSISDN(txn.PhoneNumber))
		if err != nil {
			return nil, fmt.Errorf("blocklist lookup: %w", err)
		}
	}
	if blocked {
		flags = append(flags, models.FraudFlag{
			Type:        FlagBlockedPhoneNumber,
			Severity:    models.SeverityCritical,
			Description: "Phone number is on the blocklist",
		})
	}

	country := models.CountryFromPhone(txn.PhoneNumber)
	if country != "" && rules.countryBlocked(country) {
		flags = append(flags, models.FraudFlag{
			Type:        FlagBlockedCountry,
			Severity:    models.SeverityCritical,
			Description: fmt.Sprintf("Payments from %s are blocked", country),
			Details:     map[string]any{"country": country},
		})
	}

	if txn.Amount%roundAmountModulus == 0 {
		recent, err := e.usage.RecentTransactions(ctx, txn.UserID, txn.PhoneNumber, now.Add(-24*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("round amount lookup: %w", err)
		}
		rounds := countExcluding(recent, txn.ID, func(s models.TransactionSummary) bool {
			return s.Amount%roundAmountModulus == 0
		})
		if rounds >= roundAmountMinCount {
			flags = append(flags, models.FraudFlag{
				Type:        FlagRoundAmountPattern,
				Severity:    models.SeverityMedium,
				Description: "Repeated round-amount transactions",
				Details:     map[string]any{"count": rounds},
			})
		}
	}

	if hour, ok := localHour(now, country); ok && (hour >= 23 || hour < 6) {
		flags = append(flags, models.FraudFlag{
			Type:        FlagUnusualHour,
			Severity:    models.SeverityLow,
			Description: "Transaction at an unusual local hour",
			Details:     map[string]any{"hour": hour},
		})
	}

	for _, re := range rules.patterns {
		if re.MatchString(txn.Description) {
			flags = append(flags, models.FraudFlag{
				Type:        FlagSuspiciousPattern,
				Severity:    models.SeverityMedium,
				Description: "Description matches a suspicious pattern",
				Details:     map[string]any{"pattern": re.String()},
			})
			break
		}
	}

	return flags, nil
}

func (e *Engine) failSafe(transactionID string, err error) *models.FraudAnalysis {
	return &models.FraudAnalysis{
		TransactionID: transactionID,
		RiskLevel:     models.RiskHigh,
		RiskScore:     failSafeScore,
		Flags: []models.FraudFlag{{
			Type:        FlagAnalysisError,
			Severity:    models.SeverityHigh,
			Description: "Fraud analysis could not complete",
			Details:     map[string]any{"error": err.Error()},
		}},
		Recommendation: models.RecommendReview,
		Reason:         "Fraud analysis failed; manual review required",
		AnalyzedAt:     e.now(),
	}
}

func flagPoints(f models.FraudFlag) int {
	if p, ok := points[f.Type]; ok {
		return p
	}
	return f.Severity.Score()
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func reason(flags []models.FraudFlag) string {
	if len(flags) == 0 {
		return "No risk indicators detected"
	}
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = f.Description
	}
	return strings.Join(parts, "; ")
}

func countExcluding(txns []models.TransactionSummary, id string, match func(models.TransactionSummary) bool) int {
	n := 0
	for _, t := range txns {
		if t.ID == id {
			continue
		}
		if match != nil && !match(t) {
			continue
		}
		n++
	}
	return n
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func localHour(t time.Time, country string) (int, bool) {
	zone, ok := countryZones[country]
	if !ok {
		return 0, false
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return 0, false
	}
	return t.In(loc).Hour(), true
}

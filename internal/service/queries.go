package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/cache"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/fraud"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/providers"
)

const (
	providersCacheTTL    = 5 * time.Minute
	successRatesCacheTTL = time.Hour

	defaultPageSize = 20
	maxPageSize     = 100
)

func notFound(id string) error {
	return models.NewPaymentError(models.CodeTransactionNotFound, "Transaction not found", id)
}

// GetTransaction reads through the cache. Only transactions in a final status
// are cached.
func (o *Orchestrator) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	key := cache.Key("txn", id)

	var cached models.Transaction
	if ok, err := o.cache.GetJSON(ctx, key, &cached); err != nil {
		o.logger.Warn("Transaction cache read failed", zap.String("transaction_id", id), zap.Error(err))
	} else if ok {
		return &cached, nil
	}

	txn, err := o.repo.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	// A row that can still change may be written back after a concurrent
	// transition invalidated it, so only final rows are cached.
	if !txn.Status.IsFinal() {
		return txn, nil
	}
	if err := o.cache.SetJSON(ctx, key, txn, o.opts.TransactionCacheTTL); err != nil {
		o.logger.Warn("Transaction cache write failed", zap.String("transaction_id", id), zap.Error(err))
	}
	return txn, nil
}

// Verify reports whether a payment has settled. A PROCESSING payment is
// first reconciled against the provider's own status.
func (o *Orchestrator) Verify(ctx context.Context, id string) (*models.Verification, error) {
	txn, err := o.repo.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	if txn.Status == models.StatusProcessing && txn.ProviderTransactionID != "" && txn.TransactionType != models.TypeRefund {
		txn = o.reconcileWithProvider(ctx, txn)
	}

	return &models.Verification{
		Verified:    txn.Status == models.StatusCompleted,
		Status:      txn.Status,
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		CompletedAt: txn.CompletedAt,
	}, nil
}

func (o *Orchestrator) reconcileWithProvider(ctx context.Context, txn *models.Transaction) *models.Transaction {
	adapter, ok := o.registry.Get(txn.Provider)
	if !ok {
		return txn
	}

	sctx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
	defer cancel()

	status, err := adapter.CheckStatus(sctx, txn.ProviderTransactionID)
	if err != nil {
		o.logger.Warn("Provider status check failed",
			zap.String("transaction_id", txn.ID),
			zap.String("provider", string(txn.Provider)),
			zap.Error(err),
		)
		return txn
	}
	if !status.Status.IsTerminal() {
		return txn
	}

	upd := models.StatusUpdate{Metadata: status.Metadata}
	if status.Status == models.StatusCompleted {
		now := o.now()
		if status.CompletedAt != nil {
			now = *status.CompletedAt
		}
		upd.ProcessedAt = &now
		upd.CompletedAt = &now
	} else {
		upd.FailureReason = "Payment " + string(status.Status)
	}

	updated, _, err := o.applyTransition(ctx, txn, status.Status, upd, sourceVerify)
	if err != nil {
		o.logger.Warn("Failed to apply provider status",
			zap.String("transaction_id", txn.ID),
			zap.String("reported_status", string(status.Status)),
			zap.Error(err),
		)
		return txn
	}
	return updated
}

func (o *Orchestrator) ListTransactions(ctx context.Context, filter models.TransactionFilter) (*models.TransactionPage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	txns, total, err := o.repo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return &models.TransactionPage{
		Data:       txns,
		Pagination: models.NewPagination(filter.Page, filter.Limit, total),
	}, nil
}

func (o *Orchestrator) GetFraudAnalysis(ctx context.Context, id string) (*models.FraudAnalysis, error) {
	a, err := o.analyses.GetAnalysis(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, notFound(id)
	}
	return a, err
}

func (o *Orchestrator) GetComplianceCheck(ctx context.Context, id string) (*models.ComplianceCheck, error) {
	c, err := o.checks.GetCheck(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, notFound(id)
	}
	return c, err
}

// ProviderInfo describes a network as offered to payers.
type ProviderInfo struct {
	Provider           models.Provider  `json:"provider"`
	Name               string           `json:"name"`
	Countries          []string         `json:"countries"`
	Currencies         []string         `json:"currencies"`
	Limits             providers.Limits `json:"limits"`
	FeePercentage      string           `json:"feePercentage"`
	PlatformPercentage string           `json:"platformPercentage"`
}

// GetProviders lists the available networks, optionally only those operating
// in country.
func (o *Orchestrator) GetProviders(ctx context.Context, country string) ([]ProviderInfo, error) {
	country = strings.ToUpper(country)
	key := cache.Key("providers", country)
	if country == "" {
		key = cache.Key("providers", "all")
	}

	var cached []ProviderInfo
	if ok, err := o.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	var list []models.Provider
	if country != "" {
		list = o.registry.ForCountry(ctx, country)
	} else {
		for _, p := range models.Providers {
			if a, ok := o.registry.Get(p); ok && a.IsAvailable(ctx) {
				list = append(list, p)
			}
		}
	}

	out := make([]ProviderInfo, 0, len(list))
	for _, p := range list {
		a, _ := o.registry.Get(p)
		cfg := a.Config()
		out = append(out, ProviderInfo{
			Provider:           p,
			Name:               cfg.Name,
			Countries:          cfg.Countries,
			Currencies:         cfg.Currencies,
			Limits:             a.GetLimits(country),
			FeePercentage:      cfg.Fees.Percentage.String(),
			PlatformPercentage: cfg.Fees.PlatformPercentage.String(),
		})
	}

	if err := o.cache.SetJSON(ctx, key, out, providersCacheTTL); err != nil {
		o.logger.Warn("Provider list cache write failed", zap.Error(err))
	}
	return out, nil
}

func periodStart(period string, now time.Time) (time.Time, bool) {
	switch period {
	case "", "day":
		return now.Add(-24 * time.Hour), true
	case "week":
		return now.AddDate(0, 0, -7), true
	case "month":
		return now.AddDate(0, -1, 0), true
	}
	return time.Time{}, false
}

func succeeded(s models.PaymentStatus) bool {
	return s == models.StatusCompleted || s == models.StatusRefunded
}

func percent(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return math.Round(float64(part)*10000/float64(whole)) / 100
}

// SuccessRates computes the share of payments that completed per provider
// over the trailing period (day, week or month).
func (o *Orchestrator) SuccessRates(ctx context.Context, period string, provider models.Provider) ([]models.ProviderSuccessRate, error) {
	now := o.now()
	start, ok := periodStart(period, now)
	if !ok {
		return nil, models.NewPaymentError(models.CodeInvalidPayload, "period must be day, week or month", period)
	}
	if provider != "" && !provider.Valid() {
		return nil, models.NewPaymentError(models.CodeInvalidProvider, "Unsupported provider", string(provider))
	}

	key := cache.Key("success_rates", period, string(provider))
	var cached []models.ProviderSuccessRate
	if ok, err := o.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}

	txns, err := o.repo.ListCreatedBetween(ctx, start, now, provider)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	totals := make(map[models.Provider]int)
	wins := make(map[models.Provider]int)
	for _, t := range txns {
		totals[t.Provider]++
		if succeeded(t.Status) {
			wins[t.Provider]++
		}
	}

	rates := make([]models.ProviderSuccessRate, 0, len(totals))
	for _, p := range models.Providers {
		if totals[p] == 0 {
			continue
		}
		rates = append(rates, models.ProviderSuccessRate{
			Provider:          p,
			SuccessRate:       percent(wins[p], totals[p]),
			TotalTransactions: totals[p],
		})
	}

	if err := o.cache.SetJSON(ctx, key, rates, successRatesCacheTTL); err != nil {
		o.logger.Warn("Success rate cache write failed", zap.Error(err))
	}
	return rates, nil
}

// Summary aggregates payments created in [start, end). Amounts count only
// payments that completed.
func (o *Orchestrator) Summary(ctx context.Context, start, end time.Time) (*models.PaymentAnalytics, error) {
	if end.IsZero() {
		end = o.now()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	if !start.Before(end) {
		return nil, models.NewPaymentError(models.CodeInvalidPayload, "startDate must be before endDate", "")
	}

	txns, err := o.repo.ListCreatedBetween(ctx, start, end, "")
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	out := &models.PaymentAnalytics{
		TotalTransactions: len(txns),
		StatusBreakdown:   make(map[string]int),
		FailureReasons:    make(map[string]int),
		ProviderVolume:    make(map[string]int64),
		Start:             start,
		End:               end,
	}
	wins := 0
	for _, t := range txns {
		out.StatusBreakdown[string(t.Status)]++
		if t.FailureReason != "" {
			out.FailureReasons[t.FailureReason]++
		}
		if succeeded(t.Status) {
			wins++
			out.TotalAmount += t.Amount
			out.ProviderVolume[string(t.Provider)] += t.Amount
		}
	}
	out.SuccessRate = percent(wins, len(txns))
	if wins > 0 {
		out.AverageAmount = out.TotalAmount / int64(wins)
	}
	return out, nil
}

// ReviewFraud records a manual decision. Declining a payment that is still in
// flight cancels it.
func (o *Orchestrator) ReviewFraud(ctx context.Context, id string, review models.FraudReview) (*models.FraudAnalysis, error) {
	if review.Decision != "approved" && review.Decision != "declined" {
		return nil, models.NewPaymentError(models.CodeInvalidPayload, "decision must be approved or declined", review.Decision)
	}

	analysis, err := o.analyses.RecordReview(ctx, id, review, o.now())
	if errors.Is(err, models.ErrNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("record review: %w", err)
	}

	o.logger.Info("Fraud review recorded",
		zap.String("transaction_id", id),
		zap.String("decision", review.Decision),
		zap.String("reviewed_by", review.ReviewedBy),
	)

	if review.Decision == "declined" {
		txn, err := o.repo.GetByID(ctx, id)
		if err == nil && (txn.Status == models.StatusPending || txn.Status == models.StatusProcessing) {
			if _, _, err := o.applyTransition(ctx, txn, models.StatusCancelled, models.StatusUpdate{
				FailureReason: "Declined by fraud review",
			}, sourceDispatch); err != nil {
				o.logger.Error("Failed to cancel declined payment",
					zap.String("transaction_id", id),
					zap.Error(err),
				)
			}
		}
	}
	return analysis, nil
}

// UpdateRules swaps in a new fraud rule snapshot. Analyses already running
// keep the snapshot they started with.
func (o *Orchestrator) UpdateRules(ctx context.Context, rules fraud.Rules) (fraud.Rules, error) {
	rs, err := o.rules.Update(rules)
	if err != nil {
		return fraud.Rules{}, &models.PaymentError{
			Code:    models.CodeInvalidPayload,
			Message: "Invalid fraud rules",
			Details: err.Error(),
			Err:     err,
		}
	}
	o.logger.Info("Fraud rules updated",
		zap.Int("max_velocity_transactions", rs.MaxVelocityTransactions),
		zap.Int("velocity_window_minutes", rs.VelocityWindowMinutes),
		zap.Int("blocked_phone_numbers", len(rs.BlockedPhoneNumbers)),
	)
	return rs.Rules, nil
}

func (o *Orchestrator) FraudRules() fraud.Rules {
	return o.rules.Current().Rules
}

// BlockPhone adds phone to the dynamic blocklist.
func (o *Orchestrator) BlockPhone(ctx context.Context, phone string) error {
	if !models.ValidPhone(phone) {
		return models.NewPaymentError(models.CodeInvalidPhone, "Invalid phone number format", phone)
	}
	if err := o.blocklist.Block(ctx, phone); err != nil {
		return fmt.Errorf("block phone: %w", err)
	}
	o.logger.Info("Phone number blocked", zap.String("msisdn", models.MSISDN(phone)))
	return nil
}

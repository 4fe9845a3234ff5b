package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/compliance"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/fraud"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/providers"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/telemetry"
)

// Options holds the orchestrator's timing knobs.
type Options struct {
	PaymentTTL          time.Duration
	ProviderTimeout     time.Duration
	AnalysisTimeout     time.Duration
	RefundLockTTL       time.Duration
	TransactionCacheTTL time.Duration
	SweepBatchSize      int
}

func DefaultOptions() Options {
	return Options{
		PaymentTTL:          30 * time.Minute,
		ProviderTimeout:     30 * time.Second,
		AnalysisTimeout:     5 * time.Second,
		RefundLockTTL:       30 * time.Second,
		TransactionCacheTTL: 5 * time.Minute,
		SweepBatchSize:      100,
	}
}

// Dependencies are the collaborators the orchestrator is wired with.
type Dependencies struct {
	Transactions interfaces.TransactionRepository
	Analyses     interfaces.FraudRepository
	Checks       interfaces.ComplianceRepository
	Providers    *providers.Registry
	Fraud        *fraud.Engine
	Rules        *fraud.RuleStore
	Compliance   *compliance.Gate
	Blocklist    interfaces.Blocklist
	Cache        interfaces.Cache
	Locker       interfaces.Locker
	Events       interfaces.EventPublisher
	Logger       *zap.Logger
}

// Orchestrator drives a payment from request to settlement. The synchronous
// dispatch path, provider webhooks, verification polling and the expiry
// sweeper all change state through applyTransition.
type Orchestrator struct {
	repo      interfaces.TransactionRepository
	analyses  interfaces.FraudRepository
	checks    interfaces.ComplianceRepository
	registry  *providers.Registry
	fraud     *fraud.Engine
	rules     *fraud.RuleStore
	gate      *compliance.Gate
	blocklist interfaces.Blocklist
	cache     interfaces.Cache
	locker    interfaces.Locker
	events    interfaces.EventPublisher
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
	newID     func() string
}

func NewOrchestrator(deps Dependencies, opts Options) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.Logger
	}
	return &Orchestrator{
		repo:      deps.Transactions,
		analyses:  deps.Analyses,
		checks:    deps.Checks,
		registry:  deps.Providers,
		fraud:     deps.Fraud,
		rules:     deps.Rules,
		gate:      deps.Compliance,
		blocklist: deps.Blocklist,
		cache:     deps.Cache,
		locker:    deps.Locker,
		events:    deps.Events,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// InitiatePayment validates req, records it, runs the risk checks and hands
// the payment to the provider. When the payment is stopped after it was
// recorded, the FAILED transaction is returned together with the error.
func (o *Orchestrator) InitiatePayment(ctx context.Context, req models.PaymentRequest) (*models.Transaction, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "orchestrator.InitiatePayment")
	defer span.End()

	adapter, err := o.validate(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	txn, existing, err := o.create(ctx, req, adapter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if existing {
		return txn, nil
	}
	span.SetAttributes(
		attribute.String("transaction.id", txn.ID),
		attribute.String("transaction.provider", string(txn.Provider)),
	)

	analysis, check := o.assess(ctx, txn, adapter)

	if analysis.Recommendation == models.RecommendDecline {
		failed := o.fail(ctx, txn, "Fraud detected")
		span.SetStatus(codes.Error, models.CodeFraudDetected)
		return failed, models.NewPaymentError(models.CodeFraudDetected, "Transaction blocked by fraud checks", analysis.Reason)
	}
	if check.Status != models.ComplianceCompliant {
		failed := o.fail(ctx, txn, "Compliance violation")
		span.SetStatus(codes.Error, models.CodeComplianceViolation)
		return failed, models.NewPaymentError(models.CodeComplianceViolation, "Transaction violates compliance rules", strings.Join(check.Violations, "; "))
	}

	return o.dispatch(ctx, txn, adapter, req.CallbackURL)
}

func (o *Orchestrator) validate(req models.PaymentRequest) (providers.Adapter, error) {
	if req.Amount <= 0 {
		return nil, models.NewPaymentError(models.CodeInvalidAmount, "Amount must be greater than zero", fmt.Sprintf("amount=%d", req.Amount))
	}
	if !models.ValidPhone(req.PhoneNumber) {
		return nil, models.NewPaymentError(models.CodeInvalidPhone, "Invalid phone number format", req.PhoneNumber)
	}
	if !req.Provider.Valid() {
		return nil, models.NewPaymentError(models.CodeInvalidProvider, "Unsupported provider", string(req.Provider))
	}
	adapter, ok := o.registry.Get(req.Provider)
	if !ok {
		return nil, models.NewPaymentError(models.CodeInvalidProvider, "Provider is not configured", string(req.Provider))
	}
	if !adapter.ValidatePhoneNumber(req.PhoneNumber, "") {
		return nil, models.NewPaymentError(models.CodeInvalidPhone,
			fmt.Sprintf("Phone number is not valid for %s", adapter.Config().Name), req.PhoneNumber)
	}
	if !req.ExpiresAt.IsZero() && !req.ExpiresAt.After(o.now()) {
		return nil, models.NewPaymentError(models.CodeInvalidPayload, "expiresAt must be in the future", req.ExpiresAt.Format(time.RFC3339))
	}
	return adapter, nil
}

// create persists the PENDING transaction. A request that reuses the id of an
// existing transaction gets that transaction back instead.
func (o *Orchestrator) create(ctx context.Context, req models.PaymentRequest, adapter providers.Adapter) (*models.Transaction, bool, error) {
	id := req.ID
	if id == "" {
		id = o.newID()
	}
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = o.now().Add(o.opts.PaymentTTL)
	}
	txnType := req.TransactionType
	if txnType == "" {
		txnType = models.TypeSubscriptionPayment
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = adapter.Config().Currencies[0]
	}

	txn := &models.Transaction{
		ID:              id,
		UserID:          req.UserID,
		Provider:        req.Provider,
		Amount:          req.Amount,
		Currency:        currency,
		PhoneNumber:     models.NormalizePhone(req.PhoneNumber),
		Status:          models.StatusPending,
		TransactionType: txnType,
		Description:     req.Description,
		SubscriptionID:  req.SubscriptionID,
		Fees:            adapter.CalculateFees(req.Amount, currency),
		Metadata:        req.Metadata,
		ExpiresAt:       expiresAt,
	}

	if err := o.repo.Create(ctx, txn); err != nil {
		if errors.Is(err, models.ErrConflict) && req.ID != "" {
			prior, getErr := o.repo.GetByID(ctx, req.ID)
			if getErr == nil {
				o.logger.Info("Duplicate payment request",
					zap.String("transaction_id", prior.ID),
					zap.String("status", string(prior.Status)),
				)
				return prior, true, nil
			}
		}
		return nil, false, fmt.Errorf("create transaction: %w", err)
	}

	o.logger.Info("Payment created",
		zap.String("transaction_id", txn.ID),
		zap.String("user_id", txn.UserID),
		zap.String("provider", string(txn.Provider)),
		zap.Int64("amount", txn.Amount),
		zap.String("currency", txn.Currency),
	)
	return txn, false, nil
}

// assess runs the fraud engine and the compliance gate concurrently on the
// same snapshot and stores both results.
func (o *Orchestrator) assess(ctx context.Context, txn *models.Transaction, adapter providers.Adapter) (*models.FraudAnalysis, *models.ComplianceCheck) {
	actx, cancel := context.WithTimeout(ctx, o.opts.AnalysisTimeout)
	defer cancel()

	snapshot := *txn
	var (
		wg       sync.WaitGroup
		analysis *models.FraudAnalysis
		check    *models.ComplianceCheck
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		analysis = o.fraud.Analyze(actx, &snapshot, o.rules.Current())
	}()
	go func() {
		defer wg.Done()
		check = o.gate.Validate(actx, &snapshot, adapter.Config())
	}()
	wg.Wait()

	if err := o.analyses.SaveAnalysis(ctx, analysis); err != nil {
		o.logger.Error("Failed to store fraud analysis",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
	}
	if err := o.checks.SaveCheck(ctx, check); err != nil {
		o.logger.Error("Failed to store compliance check",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
	}

	o.logger.Info("Payment assessed",
		zap.String("transaction_id", txn.ID),
		zap.Int("risk_score", analysis.RiskScore),
		zap.String("recommendation", string(analysis.Recommendation)),
		zap.String("compliance_status", string(check.Status)),
	)
	return analysis, check
}

func (o *Orchestrator) dispatch(ctx context.Context, txn *models.Transaction, adapter providers.Adapter, callbackURL string) (*models.Transaction, error) {
	dctx, cancel := context.WithTimeout(ctx, o.opts.ProviderTimeout)
	defer cancel()

	resp, err := adapter.InitiatePayment(dctx, providers.PaymentInstruction{
		TransactionID: txn.ID,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		PhoneNumber:   txn.PhoneNumber,
		Description:   txn.Description,
		Country:       providers.ResolveCountry(adapter.Config(), txn.PhoneNumber),
		CallbackURL:   callbackURL,
	})
	if err != nil {
		perr := providerError(adapter.Config().Name, err, dctx.Err())
		o.logger.Warn("Provider rejected payment",
			zap.String("transaction_id", txn.ID),
			zap.String("provider", string(txn.Provider)),
			zap.String("code", perr.Code),
			zap.Error(err),
		)
		failed := o.fail(ctx, txn, failureReason(perr))
		return failed, perr
	}

	metadata := make(map[string]string, len(resp.Metadata)+2)
	for k, v := range resp.Metadata {
		metadata[k] = v
	}
	if resp.CheckoutURL != "" {
		metadata["checkout_url"] = resp.CheckoutURL
	}
	if resp.QRCode != "" {
		metadata["qr_code"] = resp.QRCode
	}

	current, _, err := o.applyTransition(ctx, txn, models.StatusProcessing, models.StatusUpdate{
		ProviderTransactionID: resp.ProviderTransactionID,
		Metadata:              metadata,
	}, sourceDispatch)
	if err != nil {
		return txn, err
	}

	// Some networks settle synchronously.
	if resp.Status == models.StatusCompleted && current.Status == models.StatusProcessing {
		now := o.now()
		current, _, err = o.applyTransition(ctx, current, models.StatusCompleted, models.StatusUpdate{
			ProcessedAt: &now,
			CompletedAt: &now,
		}, sourceDispatch)
		if err != nil {
			return current, err
		}
	}
	return current, nil
}

// fail moves a PENDING transaction to FAILED. Errors are logged; the caller
// already has a more useful error to return.
func (o *Orchestrator) fail(ctx context.Context, txn *models.Transaction, reason string) *models.Transaction {
	failed, _, err := o.applyTransition(ctx, txn, models.StatusFailed, models.StatusUpdate{FailureReason: reason}, sourceDispatch)
	if err != nil {
		o.logger.Error("Failed to mark payment as failed",
			zap.String("transaction_id", txn.ID),
			zap.Error(err),
		)
		return txn
	}
	return failed
}

// failureReason records the adapter's error code ahead of its message.
func failureReason(perr *models.PaymentError) string {
	return perr.Code + ": " + perr.Message
}

// providerError maps an adapter failure onto the stable error codes. A
// deadline on the dispatch context always reads as the provider being
// unavailable.
func providerError(name string, err, ctxErr error) *models.PaymentError {
	if errors.Is(ctxErr, context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &models.PaymentError{
			Code:    models.CodeProviderUnavailable,
			Message: fmt.Sprintf("%s did not respond in time", name),
			Err:     err,
		}
	}
	var pe *models.PaymentError
	if errors.As(err, &pe) {
		return pe
	}
	return &models.PaymentError{
		Code:    models.CodeProviderUnavailable,
		Message: fmt.Sprintf("%s is unavailable", name),
		Details: err.Error(),
		Err:     err,
	}
}

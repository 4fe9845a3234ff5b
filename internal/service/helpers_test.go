package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/cache"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/compliance"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/fraud"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/providers"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/repository"
)

const (
	testUser   = "user-1"
	testPhone  = "+254708374149"
	testSecret = "whsec"
)

// MockAdapter is a provider whose network calls are scripted per test.
type MockAdapter struct {
	cfg    providers.ProviderConfig
	secret string

	InitiatePaymentFunc func(ctx context.Context, inst providers.PaymentInstruction) (*providers.Response, error)
	CheckStatusFunc     func(ctx context.Context, providerTxnID string) (*providers.Verification, error)
	ProcessRefundFunc   func(ctx context.Context, req providers.RefundRequest) (*providers.Response, error)

	mu       sync.Mutex
	refunds  []providers.RefundRequest
	initiate []providers.PaymentInstruction
}

func newMockAdapter(p models.Provider) *MockAdapter {
	return &MockAdapter{cfg: providers.DefaultConfigs()[p], secret: testSecret}
}

func (m *MockAdapter) Provider() models.Provider        { return m.cfg.Provider }
func (m *MockAdapter) Config() providers.ProviderConfig { return m.cfg }

func (m *MockAdapter) InitiatePayment(ctx context.Context, inst providers.PaymentInstruction) (*providers.Response, error) {
	m.mu.Lock()
	m.initiate = append(m.initiate, inst)
	m.mu.Unlock()
	if m.InitiatePaymentFunc != nil {
		return m.InitiatePaymentFunc(ctx, inst)
	}
	return &providers.Response{
		Success:               true,
		ProviderTransactionID: "prov-" + inst.TransactionID,
		Status:                models.StatusProcessing,
	}, nil
}

func (m *MockAdapter) CheckStatus(ctx context.Context, providerTxnID string) (*providers.Verification, error) {
	if m.CheckStatusFunc != nil {
		return m.CheckStatusFunc(ctx, providerTxnID)
	}
	return &providers.Verification{Status: models.StatusProcessing}, nil
}

func (m *MockAdapter) ProcessRefund(ctx context.Context, req providers.RefundRequest) (*providers.Response, error) {
	m.mu.Lock()
	m.refunds = append(m.refunds, req)
	m.mu.Unlock()
	if m.ProcessRefundFunc != nil {
		return m.ProcessRefundFunc(ctx, req)
	}
	return &providers.Response{
		Success:               true,
		ProviderTransactionID: "rf-" + req.RefundID,
		Status:                models.StatusProcessing,
	}, nil
}

func (m *MockAdapter) ValidatePhoneNumber(phone, country string) bool {
	return models.ValidPhone(phone) && m.cfg.OperatesIn(models.CountryFromPhone(phone))
}

func (m *MockAdapter) CalculateFees(amount int64, currency string) models.Fees {
	return m.cfg.Fees.Calculate(amount)
}

func (m *MockAdapter) GetLimits(country string) providers.Limits { return m.cfg.Limits }

func (m *MockAdapter) IsAvailable(ctx context.Context) bool { return true }

func (m *MockAdapter) VerifyWebhook(payload []byte, signature string) bool {
	return providers.VerifySignature(m.secret, payload, signature)
}

type mockCallback struct {
	ID                    string               `json:"id"`
	ProviderTransactionID string               `json:"providerTransactionId"`
	Status                models.PaymentStatus `json:"status"`
	Reason                string               `json:"reason"`
}

func (m *MockAdapter) ParseWebhook(payload []byte) (*providers.WebhookEvent, error) {
	var cb mockCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, err
	}
	return &providers.WebhookEvent{
		Provider:              m.cfg.Provider,
		ExternalTransactionID: cb.ID,
		ProviderTransactionID: cb.ProviderTransactionID,
		Status:                cb.Status,
		FailureReason:         cb.Reason,
	}, nil
}

func (m *MockAdapter) refundCalls() []providers.RefundRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]providers.RefundRequest(nil), m.refunds...)
}

// recordingEvents captures every side effect the orchestrator emits.
type recordingEvents struct {
	mu            sync.Mutex
	stateChanges  []models.StateChangeEvent
	activations   []string
	notifications []string
}

func (r *recordingEvents) PublishStateChange(ctx context.Context, e models.StateChangeEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateChanges = append(r.stateChanges, e)
	return nil
}

func (r *recordingEvents) ActivateSubscription(ctx context.Context, txn *models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activations = append(r.activations, txn.ID)
	return nil
}

func (r *recordingEvents) NotifyPayment(ctx context.Context, txn *models.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, txn.ID)
	return nil
}

// contextAwareStore fails reads on a done context the way a database driver
// does.
type contextAwareStore struct {
	*repository.MemoryStore
}

func (s contextAwareStore) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.GetByID(ctx, id)
}

func (r *recordingEvents) counts() (states, activations, notifications int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stateChanges), len(r.activations), len(r.notifications)
}

type harness struct {
	store     *repository.MemoryStore
	events    *recordingEvents
	blocklist *cache.LocalBlocklist
	rules     *fraud.RuleStore
	orch      *Orchestrator
}

func newHarness(t *testing.T, adapters ...providers.Adapter) *harness {
	t.Helper()

	store := repository.NewMemoryStore()
	store.SetKYC(models.KYCRecord{UserID: testUser, Status: models.KYCVerified, VerifiedIDTypes: []string{"NATIONAL_ID"}})

	localCache, err := cache.NewLocalCache(0)
	if err != nil {
		t.Fatalf("NewLocalCache() error = %v", err)
	}
	rules, err := fraud.NewRuleStore(fraud.DefaultRules())
	if err != nil {
		t.Fatalf("NewRuleStore() error = %v", err)
	}

	h := &harness{
		store:     store,
		events:    &recordingEvents{},
		blocklist: cache.NewLocalBlocklist(),
		rules:     rules,
	}

	logger := zap.NewNop()
	opts := DefaultOptions()
	opts.ProviderTimeout = 200 * time.Millisecond

	h.orch = NewOrchestrator(Dependencies{
		Transactions: store,
		Analyses:     store,
		Checks:       store,
		Providers:    providers.NewRegistry(adapters...),
		Fraud:        fraud.NewEngine(store, h.blocklist, logger),
		Rules:        rules,
		Compliance:   compliance.NewGate(compliance.DefaultCountries(), store, store, store, logger),
		Blocklist:    h.blocklist,
		Cache:        localCache,
		Locker:       cache.NewLocalLocker(),
		Events:       h.events,
		Logger:       logger,
	}, opts)
	return h
}

func paymentRequest() models.PaymentRequest {
	return models.PaymentRequest{
		UserID:          testUser,
		Provider:        models.ProviderMpesa,
		Amount:          100000,
		Currency:        "KES",
		PhoneNumber:     testPhone,
		Description:     "Premium subscription",
		TransactionType: models.TypeSubscriptionPayment,
		SubscriptionID:  "sub-1",
	}
}

// seed stores a transaction directly, bypassing the pipeline.
func (h *harness) seed(t *testing.T, id string, status models.PaymentStatus, mutate ...func(*models.Transaction)) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		ID:                    id,
		UserID:                testUser,
		Provider:              models.ProviderMpesa,
		ProviderTransactionID: "prov-" + id,
		Amount:                100000,
		Currency:              "KES",
		PhoneNumber:           testPhone,
		Status:                status,
		TransactionType:       models.TypeSubscriptionPayment,
		SubscriptionID:        "sub-1",
		ExpiresAt:             time.Now().Add(30 * time.Minute),
	}
	for _, m := range mutate {
		m(txn)
	}
	if err := h.store.Create(context.Background(), txn); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return txn
}

func (h *harness) get(t *testing.T, id string) *models.Transaction {
	t.Helper()
	txn, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", id, err)
	}
	return txn
}

func signed(t *testing.T, v any) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return body, providers.Sign(testSecret, body)
}

func assertCode(t *testing.T, err error, want string) {
	t.Helper()
	if got := models.ErrorCode(err); got != want {
		t.Fatalf("error code = %q (%v), want %q", got, err, want)
	}
}

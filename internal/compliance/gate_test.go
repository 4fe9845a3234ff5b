package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/providers"
	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/repository"
)

type MockKYC struct {
	records map[string]*models.KYCRecord
	err     error
}

func (m *MockKYC) GetKYC(ctx context.Context, userID string) (*models.KYCRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	if r, ok := m.records[userID]; ok {
		return r, nil
	}
	return &models.KYCRecord{UserID: userID, Status: models.KYCNotSubmitted}, nil
}

type MockSanctions struct {
	ScreenFunc func(ctx context.Context, userID, phone string) (bool, string, error)
}

func (m *MockSanctions) Screen(ctx context.Context, userID, phone string) (bool, string, error) {
	if m.ScreenFunc != nil {
		return m.ScreenFunc(ctx, userID, phone)
	}
	return false, "", nil
}

type MockUsage struct {
	daily   models.UsageSummary
	monthly models.UsageSummary
	recent  []models.TransactionSummary
	now     time.Time
}

func (m *MockUsage) UsageSince(ctx context.Context, userID string, since time.Time, excludeID, currency string) (models.UsageSummary, error) {
	if m.now.Sub(since) > 25*time.Hour {
		return m.monthly, nil
	}
	return m.daily, nil
}

func (m *MockUsage) RecentTransactions(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error) {
	return m.recent, nil
}

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func verifiedKYC(ids ...string) *MockKYC {
	return &MockKYC{records: map[string]*models.KYCRecord{
		"user-1": {UserID: "user-1", Status: models.KYCVerified, VerifiedIDTypes: ids},
	}}
}

func newTestGate(kyc *MockKYC, sanctions *MockSanctions, usage *MockUsage) *Gate {
	usage.now = testNow
	g := NewGate(DefaultCountries(), kyc, sanctions, usage, nil)
	g.now = func() time.Time { return testNow }
	return g
}

func mpesaTxn(amount int64) *models.Transaction {
	return &models.Transaction{
		ID:          "txn-1",
		UserID:      "user-1",
		Provider:    models.ProviderMpesa,
		Amount:      amount,
		Currency:    "KES",
		PhoneNumber: "+254708374149",
	}
}

func mpesaConfig() providers.ProviderConfig {
	return providers.DefaultConfigs()[models.ProviderMpesa]
}

func TestValidateCompliant(t *testing.T) {
	g := newTestGate(verifiedKYC("NATIONAL_ID"), &MockSanctions{}, &MockUsage{})

	check := g.Validate(context.Background(), mpesaTxn(100_000), mpesaConfig())

	if check.Status != models.ComplianceCompliant {
		t.Fatalf("Status = %s, violations = %v", check.Status, check.Violations)
	}
	if check.Country != "KE" || check.RequiresManualReview {
		t.Errorf("country/review = %s/%v", check.Country, check.RequiresManualReview)
	}
	if len(check.Violations) != 0 {
		t.Errorf("violations = %v, want none", check.Violations)
	}
}

func TestValidateKYCStatuses(t *testing.T) {
	for _, status := range []models.KYCStatus{models.KYCPending, models.KYCRejected, models.KYCExpired, models.KYCNotSubmitted} {
		t.Run(string(status), func(t *testing.T) {
			kyc := &MockKYC{records: map[string]*models.KYCRecord{
				"user-1": {UserID: "user-1", Status: status},
			}}
			g := newTestGate(kyc, &MockSanctions{}, &MockUsage{})

			check := g.Validate(context.Background(), mpesaTxn(100_000), mpesaConfig())

			if check.Status != models.ComplianceViolation || check.Checks.KYC.Status != models.ComplianceViolation {
				t.Errorf("status = %s, kyc = %s, want VIOLATION", check.Status, check.Checks.KYC.Status)
			}
		})
	}
}

func TestValidateSubChecks(t *testing.T) {
	tests := []struct {
		name      string
		kyc       *MockKYC
		sanctions *MockSanctions
		usage     *MockUsage
		amount    int64
		failing   func(models.ComplianceChecks) models.SubCheck
	}{
		{
			name:    "above KYC threshold without required ID",
			kyc:     verifiedKYC("DRIVING_LICENCE"),
			usage:   &MockUsage{},
			amount:  15_000_000,
			failing: func(c models.ComplianceChecks) models.SubCheck { return c.Country },
		},
		{
			name:    "daily limit",
			kyc:     verifiedKYC("NATIONAL_ID"),
			usage:   &MockUsage{daily: models.UsageSummary{Count: 3, Amount: 29_950_000}},
			amount:  100_000,
			failing: func(c models.ComplianceChecks) models.SubCheck { return c.Limits },
		},
		{
			name:    "monthly limit",
			kyc:     verifiedKYC("NATIONAL_ID"),
			usage:   &MockUsage{monthly: models.UsageSummary{Count: 30, Amount: 299_950_000}},
			amount:  100_000,
			failing: func(c models.ComplianceChecks) models.SubCheck { return c.Limits },
		},
		{
			name: "sanctions hit",
			kyc:  verifiedKYC("NATIONAL_ID"),
			sanctions: &MockSanctions{ScreenFunc: func(ctx context.Context, userID, phone string) (bool, string, error) {
				return true, "OFAC-123", nil
			}},
			usage:   &MockUsage{},
			amount:  100_000,
			failing: func(c models.ComplianceChecks) models.SubCheck { return c.Sanctions },
		},
		{
			name: "structuring below KYC threshold",
			kyc:  verifiedKYC("NATIONAL_ID"),
			usage: &MockUsage{recent: []models.TransactionSummary{
				{ID: "a", Amount: 9_500_000, Currency: "KES"},
				{ID: "b", Amount: 9_900_000, Currency: "KES"},
			}},
			amount:  9_100_000,
			failing: func(c models.ComplianceChecks) models.SubCheck { return c.AML },
		},
		{
			name: "AML volume",
			kyc:  verifiedKYC("NATIONAL_ID"),
			usage: &MockUsage{recent: []models.TransactionSummary{
				{ID: "a", Amount: 60_000_000, Currency: "KES"},
				{ID: "b", Amount: 39_950_000, Currency: "KES"},
			}},
			amount:  100_000,
			failing: func(c models.ComplianceChecks) models.SubCheck { return c.AML },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sanctions := tt.sanctions
			if sanctions == nil {
				sanctions = &MockSanctions{}
			}
			g := newTestGate(tt.kyc, sanctions, tt.usage)

			check := g.Validate(context.Background(), mpesaTxn(tt.amount), mpesaConfig())

			if check.Status != models.ComplianceViolation {
				t.Fatalf("Status = %s, want VIOLATION", check.Status)
			}
			sub := tt.failing(check.Checks)
			if sub.Status != models.ComplianceViolation || len(sub.Violations) == 0 {
				t.Errorf("sub-check = %+v, want a violation", sub)
			}
			if len(check.Violations) < len(sub.Violations) {
				t.Errorf("overall violations %v missing sub-check violations", check.Violations)
			}
		})
	}
}

func TestValidateUnconfiguredCountry(t *testing.T) {
	countries := DefaultCountries()
	delete(countries, "KE")
	usage := &MockUsage{now: testNow}
	g := NewGate(countries, verifiedKYC("NATIONAL_ID"), &MockSanctions{}, usage, nil)
	g.now = func() time.Time { return testNow }

	check := g.Validate(context.Background(), mpesaTxn(100_000), mpesaConfig())

	if check.Checks.Country.Status != models.CompliancePendingReview {
		t.Errorf("country sub-check = %s, want PENDING_REVIEW", check.Checks.Country.Status)
	}
	if check.Status != models.ComplianceViolation || !check.RequiresManualReview {
		t.Errorf("status/review = %s/%v, want VIOLATION with manual review", check.Status, check.RequiresManualReview)
	}
}

func TestValidateFailSafe(t *testing.T) {
	tests := []struct {
		name      string
		kyc       *MockKYC
		sanctions *MockSanctions
	}{
		{
			name:      "kyc service down",
			kyc:       &MockKYC{err: errors.New("timeout")},
			sanctions: &MockSanctions{},
		},
		{
			name: "sanctions service panics",
			kyc:  verifiedKYC("NATIONAL_ID"),
			sanctions: &MockSanctions{ScreenFunc: func(ctx context.Context, userID, phone string) (bool, string, error) {
				panic("boom")
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGate(tt.kyc, tt.sanctions, &MockUsage{})

			check := g.Validate(context.Background(), mpesaTxn(100_000), mpesaConfig())

			if check.Status != models.ComplianceViolation || !check.RequiresManualReview {
				t.Errorf("status/review = %s/%v, want VIOLATION with manual review", check.Status, check.RequiresManualReview)
			}
		})
	}
}

func TestValidateUsesProviderHomeCountry(t *testing.T) {
	g := newTestGate(verifiedKYC("NATIONAL_ID"), &MockSanctions{}, &MockUsage{})
	txn := mpesaTxn(100_000)
	txn.PhoneNumber = "+233241234567"

	check := g.Validate(context.Background(), txn, mpesaConfig())

	if check.Country != "KE" {
		t.Errorf("Country = %s, want provider home KE", check.Country)
	}
}

func TestValidateLimitsCountOnlyLocalCurrency(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	store.SetKYC(models.KYCRecord{UserID: "user-1", Status: models.KYCVerified, VerifiedIDTypes: []string{"GHANA_CARD"}})

	kenya := mpesaTxn(6_000_000)
	kenya.ID = "txn-ke"
	kenya.Status = models.StatusCompleted
	kenya.TransactionType = models.TypeTopUp
	if err := store.Create(ctx, kenya); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	g := NewGate(DefaultCountries(), store, store, store, nil)
	ghana := &models.Transaction{
		ID:          "txn-gh",
		UserID:      "user-1",
		Provider:    models.ProviderMTNMoney,
		Amount:      100_000,
		Currency:    "GHS",
		PhoneNumber: "+233241234567",
	}

	check := g.Validate(ctx, ghana, providers.DefaultConfigs()[models.ProviderMTNMoney])

	if check.Country != "GH" {
		t.Fatalf("Country = %s, want GH", check.Country)
	}
	if check.Status != models.ComplianceCompliant {
		t.Errorf("Status = %s, violations = %v, want KES spend ignored by GHS limits and AML volume", check.Status, check.Violations)
	}
}

package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// MockUsage implements interfaces.UsageAggregator for testing
type MockUsage struct {
	UsageSinceFunc         func(ctx context.Context, userID string, since time.Time, excludeID, currency string) (models.UsageSummary, error)
	RecentTransactionsFunc func(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error)
}

func (m *MockUsage) UsageSince(ctx context.Context, userID string, since time.Time, excludeID, currency string) (models.UsageSummary, error) {
	if m.UsageSinceFunc != nil {
		return m.UsageSinceFunc(ctx, userID, since, excludeID, currency)
	}
	return models.UsageSummary{}, nil
}

func (m *MockUsage) RecentTransactions(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error) {
	if m.RecentTransactionsFunc != nil {
		return m.RecentTransactionsFunc(ctx, userID, phone, since)
	}
	return nil, nil
}

// MockBlocklist implements interfaces.Blocklist for testing
type MockBlocklist struct {
	blocked map[string]bool
	err     error
}

func (m *MockBlocklist) IsBlocked(ctx context.Context, phone string) (bool, error) {
	return m.blocked[phone], m.err
}

func (m *MockBlocklist) Block(ctx context.Context, phone string) error {
	if m.blocked == nil {
		m.blocked = map[string]bool{}
	}
	m.blocked[phone] = true
	return nil
}

var noon = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) // 12:00 in Nairobi

func newTestEngine(usage *MockUsage, blocklist *MockBlocklist, now time.Time) *Engine {
	e := NewEngine(usage, blocklist, nil)
	e.now = func() time.Time { return now }
	return e
}

func mustCompile(t *testing.T, r Rules) *RuleSet {
	t.Helper()
	rs, err := Compile(r)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return rs
}

func kenyanTxn() *models.Transaction {
	return &models.Transaction{
		ID:          "txn-current",
		UserID:      "user-1",
		Provider:    models.ProviderMpesa,
		Amount:      100_000,
		Currency:    "KES",
		PhoneNumber: "+254708374149",
		Description: "Premium subscription",
	}
}

func recent(n int, amount int64) []models.TransactionSummary {
	out := make([]models.TransactionSummary, n)
	for i := range out {
		out[i] = models.TransactionSummary{ID: string(rune('a' + i)), Amount: amount, CreatedAt: noon.Add(-time.Minute)}
	}
	return out
}

func hasFlag(a *models.FraudAnalysis, typ string) bool {
	for _, f := range a.Flags {
		if f.Type == typ {
			return true
		}
	}
	return false
}

func TestAnalyzeCleanHistoryApproves(t *testing.T) {
	e := newTestEngine(&MockUsage{}, &MockBlocklist{}, noon)

	a := e.Analyze(context.Background(), kenyanTxn(), mustCompile(t, DefaultRules()))

	if a.RiskLevel != models.RiskLow || a.Recommendation != models.RecommendApprove {
		t.Errorf("got %s/%s, want LOW/approve", a.RiskLevel, a.Recommendation)
	}
	if a.RiskScore != 0 || len(a.Flags) != 0 {
		t.Errorf("score = %d flags = %v, want clean", a.RiskScore, a.Flags)
	}
}

func TestAnalyzeVelocity(t *testing.T) {
	usage := &MockUsage{
		RecentTransactionsFunc: func(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error) {
			// the current transaction is already persisted and must not count
			return append(recent(6, 1_550), models.TransactionSummary{ID: "txn-current"}), nil
		},
	}
	rules := DefaultRules()
	rules.MaxVelocityTransactions = 3
	e := newTestEngine(usage, &MockBlocklist{}, noon)

	a := e.Analyze(context.Background(), kenyanTxn(), mustCompile(t, rules))

	if !hasFlag(a, FlagVelocityExceeded) {
		t.Fatalf("flags = %v, want %s", a.Flags, FlagVelocityExceeded)
	}
	if a.RiskScore != 30 || a.RiskLevel != models.RiskMedium {
		t.Errorf("score/level = %d/%s, want 30/MEDIUM", a.RiskScore, a.RiskLevel)
	}
}

func TestAnalyzeBlockedPhone(t *testing.T) {
	tests := []struct {
		name      string
		rules     func(*Rules)
		blocklist *MockBlocklist
		velocity  int
		wantScore int
		wantRec   models.Recommendation
	}{
		{
			name:      "dynamic blocklist alone needs review",
			blocklist: &MockBlocklist{blocked: map[string]bool{"254708374149": true}},
			wantScore: 50,
			wantRec:   models.RecommendReview,
		},
		{
			name:      "static rule list matches formatted number",
			rules:     func(r *Rules) { r.BlockedPhoneNumbers = []string{"+254 708 374 149"} },
			blocklist: &MockBlocklist{},
			wantScore: 50,
			wantRec:   models.RecommendReview,
		},
		{
			name:      "blocked and high velocity declines",
			blocklist: &MockBlocklist{blocked: map[string]bool{"254708374149": true}},
			velocity:  6,
			wantScore: 80,
			wantRec:   models.RecommendDecline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := DefaultRules()
			if tt.rules != nil {
				tt.rules(&rules)
			}
			usage := &MockUsage{
				RecentTransactionsFunc: func(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error) {
					return recent(tt.velocity, 1_550), nil
				},
			}
			e := newTestEngine(usage, tt.blocklist, noon)

			a := e.Analyze(context.Background(), kenyanTxn(), mustCompile(t, rules))

			if !hasFlag(a, FlagBlockedPhoneNumber) {
				t.Errorf("flags = %v, want %s", a.Flags, FlagBlockedPhoneNumber)
			}
			if a.RiskScore != tt.wantScore || a.Recommendation != tt.wantRec {
				t.Errorf("score/rec = %d/%s, want %d/%s", a.RiskScore, a.Recommendation, tt.wantScore, tt.wantRec)
			}
		})
	}
}

func TestAnalyzeLimits(t *testing.T) {
	usage := &MockUsage{
		UsageSinceFunc: func(ctx context.Context, userID string, since time.Time, excludeID, currency string) (models.UsageSummary, error) {
			if excludeID != "txn-current" {
				t.Errorf("excludeID = %q, want txn-current", excludeID)
			}
			if since.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
				return models.UsageSummary{Count: 40, Amount: 499_950_000}, nil
			}
			return models.UsageSummary{Count: 20, Amount: 49_950_000}, nil
		},
	}
	e := newTestEngine(usage, &MockBlocklist{}, time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))

	a := e.Analyze(context.Background(), kenyanTxn(), mustCompile(t, DefaultRules()))

	for _, f := range []string{FlagDailyLimitExceeded, FlagDailyCountExceeded, FlagMonthlyLimitExceeded} {
		if !hasFlag(a, f) {
			t.Errorf("missing flag %s in %v", f, a.Flags)
		}
	}
	if a.RiskScore != 60 || a.RiskLevel != models.RiskHigh {
		t.Errorf("score/level = %d/%s, want 60/HIGH", a.RiskScore, a.RiskLevel)
	}
}

func TestAnalyzeScoreIsClamped(t *testing.T) {
	rules := DefaultRules()
	rules.BlockedPhoneNumbers = []string{"+254708374149"}
	rules.BlockedCountries = []string{"ke"}
	rules.MaxVelocityTransactions = 1
	usage := &MockUsage{
		RecentTransactionsFunc: func(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error) {
			return recent(5, 1_550), nil
		},
	}
	e := newTestEngine(usage, &MockBlocklist{}, noon)

	a := e.Analyze(context.Background(), kenyanTxn(), mustCompile(t, rules))

	if a.RiskScore != 100 || a.RiskLevel != models.RiskCritical || a.Recommendation != models.RecommendDecline {
		t.Errorf("got %d/%s/%s, want 100/CRITICAL/decline", a.RiskScore, a.RiskLevel, a.Recommendation)
	}
}

func TestAnalyzePatterns(t *testing.T) {
	rules := DefaultRules()
	rules.SuspiciousPatterns = []string{`(?i)gift\s*card`, `(?i)crypto`}

	usage := &MockUsage{
		RecentTransactionsFunc: func(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error) {
			return recent(3, 50_000), nil
		},
	}
	txn := kenyanTxn()
	txn.Description = "Buy Gift Card and CRYPTO"
	// 00:30 in Nairobi
	e := newTestEngine(usage, &MockBlocklist{}, time.Date(2024, 3, 1, 21, 30, 0, 0, time.UTC))

	a := e.Analyze(context.Background(), txn, mustCompile(t, rules))

	for _, f := range []string{FlagSuspiciousPattern, FlagRoundAmountPattern, FlagUnusualHour} {
		if !hasFlag(a, f) {
			t.Errorf("missing flag %s in %v", f, a.Flags)
		}
	}
	// one pattern flag even when several patterns match
	if a.RiskScore != 35 {
		t.Errorf("score = %d, want 35", a.RiskScore)
	}
}

func TestAnalyzeFailSafe(t *testing.T) {
	tests := []struct {
		name  string
		usage *MockUsage
		block *MockBlocklist
	}{
		{
			name: "usage store error",
			usage: &MockUsage{
				UsageSinceFunc: func(ctx context.Context, userID string, since time.Time, excludeID, currency string) (models.UsageSummary, error) {
					return models.UsageSummary{}, errors.New("connection refused")
				},
			},
			block: &MockBlocklist{},
		},
		{
			name:  "blocklist error",
			usage: &MockUsage{},
			block: &MockBlocklist{err: errors.New("redis down")},
		},
		{
			name: "panic in a check",
			usage: &MockUsage{
				RecentTransactionsFunc: func(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error) {
					panic("nil map")
				},
			},
			block: &MockBlocklist{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(tt.usage, tt.block, noon)

			a := e.Analyze(context.Background(), kenyanTxn(), mustCompile(t, DefaultRules()))

			if a.RiskScore != 50 || a.RiskLevel != models.RiskHigh || a.Recommendation != models.RecommendReview {
				t.Errorf("got %d/%s/%s, want fail-safe 50/HIGH/review", a.RiskScore, a.RiskLevel, a.Recommendation)
			}
			if !hasFlag(a, FlagAnalysisError) {
				t.Errorf("flags = %v, want %s", a.Flags, FlagAnalysisError)
			}
		})
	}
}

func TestRiskLevelIsDeterministic(t *testing.T) {
	tests := []struct {
		score int
		level models.RiskLevel
		rec   models.Recommendation
	}{
		{0, models.RiskLow, models.RecommendApprove},
		{19, models.RiskLow, models.RecommendApprove},
		{20, models.RiskMedium, models.RecommendReview},
		{39, models.RiskMedium, models.RecommendReview},
		{40, models.RiskHigh, models.RecommendReview},
		{69, models.RiskHigh, models.RecommendReview},
		{70, models.RiskCritical, models.RecommendDecline},
		{100, models.RiskCritical, models.RecommendDecline},
	}
	for _, tt := range tests {
		level, rec := models.RiskLevelForScore(tt.score)
		if level != tt.level || rec != tt.rec {
			t.Errorf("RiskLevelForScore(%d) = %s/%s, want %s/%s", tt.score, level, rec, tt.level, tt.rec)
		}
	}
}

func TestRuleStoreUpdate(t *testing.T) {
	store, err := NewRuleStore(DefaultRules())
	if err != nil {
		t.Fatalf("NewRuleStore() error = %v", err)
	}
	before := store.Current()

	bad := DefaultRules()
	bad.SuspiciousPatterns = []string{"("}
	if _, err := store.Update(bad); err == nil {
		t.Fatal("Update() with invalid pattern expected error")
	}
	if store.Current() != before {
		t.Error("failed update replaced the current rule set")
	}

	good := DefaultRules()
	good.MaxVelocityTransactions = 2
	if _, err := store.Update(good); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if store.Current().MaxVelocityTransactions != 2 {
		t.Error("update not visible")
	}
	if before.MaxVelocityTransactions != DefaultRules().MaxVelocityTransactions {
		t.Error("earlier snapshot was mutated")
	}
}

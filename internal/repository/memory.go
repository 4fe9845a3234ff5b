package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// MemoryStore keeps every record in process memory behind one mutex. It backs
// the dev mode of the server and the service tests, and satisfies the same
// interfaces as the Postgres repositories.
type MemoryStore struct {
	mu         sync.RWMutex
	txns       map[string]*models.Transaction
	order      []string
	analyses   map[string]*models.FraudAnalysis
	checks     map[string]*models.ComplianceCheck
	kyc        map[string]models.KYCRecord
	sanctioned map[string]string
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txns:       make(map[string]*models.Transaction),
		analyses:   make(map[string]*models.FraudAnalysis),
		checks:     make(map[string]*models.ComplianceCheck),
		kyc:        make(map[string]models.KYCRecord),
		sanctioned: make(map[string]string),
		now:        time.Now,
	}
}

func cloneTxn(t *models.Transaction) *models.Transaction {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func inactive(s models.PaymentStatus) bool {
	return s == models.StatusFailed || s == models.StatusCancelled || s == models.StatusExpired
}

func (s *MemoryStore) Create(ctx context.Context, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(txn)
}

func (s *MemoryStore) insertLocked(txn *models.Transaction) error {
	if _, ok := s.txns[txn.ID]; ok {
		return models.ErrConflict
	}
	if txn.TransactionType != models.TypeRefund && s.providerIDTakenLocked(txn.Provider, txn.ProviderTransactionID, txn.ID) {
		return models.ErrConflict
	}
	now := s.now()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now
	txn.Version = 1
	s.txns[txn.ID] = cloneTxn(txn)
	s.order = append(s.order, txn.ID)
	return nil
}

// providerIDTakenLocked mirrors uq_mm_provider_txn: a provider transaction id
// belongs to at most one non-refund row per provider.
func (s *MemoryStore) providerIDTakenLocked(provider models.Provider, providerTxnID, exceptID string) bool {
	if providerTxnID == "" {
		return false
	}
	for id, t := range s.txns {
		if id != exceptID && t.TransactionType != models.TypeRefund && t.Provider == provider && t.ProviderTransactionID == providerTxnID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateRefund(ctx context.Context, refund *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRefundLocked(refund.ProviderTransactionID) != nil {
		return models.ErrConflict
	}
	return s.insertLocked(refund)
}

func (s *MemoryStore) FindActiveRefund(ctx context.Context, originalID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.activeRefundLocked(originalID); t != nil {
		return cloneTxn(t), nil
	}
	return nil, models.ErrNotFound
}

func (s *MemoryStore) activeRefundLocked(originalID string) *models.Transaction {
	for _, t := range s.txns {
		if t.TransactionType == models.TypeRefund && t.ProviderTransactionID == originalID && !inactive(t.Status) {
			return t
		}
	}
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.txns[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneTxn(t), nil
}

func (s *MemoryStore) GetByProviderTransactionID(ctx context.Context, provider models.Provider, providerTxnID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.txns {
		if t.TransactionType != models.TypeRefund && t.Provider == provider && t.ProviderTransactionID == providerTxnID {
			return cloneTxn(t), nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *MemoryStore) GetRefundByProviderRefundID(ctx context.Context, provider models.Provider, providerRefundID string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.txns[s.order[i]]
		if t.TransactionType == models.TypeRefund && t.Provider == provider && t.Metadata[models.MetadataProviderRefundID] == providerRefundID {
			return cloneTxn(t), nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *MemoryStore) Transition(ctx context.Context, id string, from, to models.PaymentStatus, upd models.StatusUpdate) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.txns[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if t.Status != from {
		return nil, models.ErrConflict
	}
	if t.TransactionType != models.TypeRefund && s.providerIDTakenLocked(t.Provider, upd.ProviderTransactionID, t.ID) {
		return nil, models.ErrConflict
	}

	t.Status = to
	if upd.ProviderTransactionID != "" {
		t.ProviderTransactionID = upd.ProviderTransactionID
	}
	if upd.FailureReason != "" {
		t.FailureReason = upd.FailureReason
	}
	if len(upd.Metadata) > 0 {
		if t.Metadata == nil {
			t.Metadata = make(map[string]string, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			t.Metadata[k] = v
		}
	}
	if upd.ProcessedAt != nil {
		at := *upd.ProcessedAt
		t.ProcessedAt = &at
	}
	if upd.CompletedAt != nil {
		at := *upd.CompletedAt
		t.CompletedAt = &at
	}
	t.UpdatedAt = s.now()
	t.Version++
	return cloneTxn(t), nil
}

func (s *MemoryStore) List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.Transaction
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.txns[s.order[i]]
		if filter.UserID != "" && t.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Provider != "" && t.Provider != filter.Provider {
			continue
		}
		if filter.StartDate != nil && t.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && t.CreatedAt.After(*filter.EndDate) {
			continue
		}
		matched = append(matched, *cloneTxn(t))
	}

	total := len(matched)
	start := (filter.Page - 1) * filter.Limit
	if start < 0 || start >= total {
		return []models.Transaction{}, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Transaction
	for _, t := range s.txns {
		if (t.Status == models.StatusPending || t.Status == models.StatusProcessing) && t.ExpiresAt.Before(now) {
			out = append(out, *cloneTxn(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListCreatedBetween(ctx context.Context, start, end time.Time, provider models.Provider) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Transaction, 0)
	for _, id := range s.order {
		t := s.txns[id]
		if t.TransactionType == models.TypeRefund {
			continue
		}
		if provider != "" && t.Provider != provider {
			continue
		}
		if t.CreatedAt.Before(start) || !t.CreatedAt.Before(end) {
			continue
		}
		out = append(out, *cloneTxn(t))
	}
	return out, nil
}

func (s *MemoryStore) UsageSince(ctx context.Context, userID string, since time.Time, excludeID, currency string) (models.UsageSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var usage models.UsageSummary
	for _, t := range s.txns {
		if t.UserID != userID || t.ID == excludeID || t.TransactionType == models.TypeRefund || inactive(t.Status) {
			continue
		}
		if t.CreatedAt.Before(since) || (currency != "" && t.Currency != currency) {
			continue
		}
		usage.Count++
		usage.Amount += t.Amount
	}
	return usage, nil
}

func (s *MemoryStore) RecentTransactions(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TransactionSummary
	for i := len(s.order) - 1; i >= 0; i-- {
		t := s.txns[s.order[i]]
		if t.UserID != userID && t.PhoneNumber != phone {
			continue
		}
		if t.TransactionType == models.TypeRefund || inactive(t.Status) || t.CreatedAt.Before(since) {
			continue
		}
		out = append(out, models.TransactionSummary{
			ID:          t.ID,
			PhoneNumber: t.PhoneNumber,
			Amount:      t.Amount,
			Currency:    t.Currency,
			Status:      t.Status,
			CreatedAt:   t.CreatedAt,
		})
	}
	return out, nil
}

func (s *MemoryStore) SaveAnalysis(ctx context.Context, a *models.FraudAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.analyses[a.TransactionID]; ok {
		return nil
	}
	c := *a
	s.analyses[a.TransactionID] = &c
	return nil
}

func (s *MemoryStore) GetAnalysis(ctx context.Context, transactionID string) (*models.FraudAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[transactionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *MemoryStore) RecordReview(ctx context.Context, transactionID string, review models.FraudReview, at time.Time) (*models.FraudAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.analyses[transactionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	a.ReviewedBy = review.ReviewedBy
	a.FinalDecision = review.Decision
	a.Notes = review.Notes
	a.ReviewedAt = &at
	c := *a
	return &c, nil
}

func (s *MemoryStore) SaveCheck(ctx context.Context, check *models.ComplianceCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checks[check.TransactionID]; ok {
		return nil
	}
	c := *check
	s.checks[check.TransactionID] = &c
	return nil
}

func (s *MemoryStore) GetCheck(ctx context.Context, transactionID string) (*models.ComplianceCheck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checks[transactionID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

// SetKYC records a verification result, replacing any earlier one.
func (s *MemoryStore) SetKYC(rec models.KYCRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kyc[rec.UserID] = rec
}

func (s *MemoryStore) GetKYC(ctx context.Context, userID string) (*models.KYCRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.kyc[userID]
	if !ok {
		return &models.KYCRecord{UserID: userID, Status: models.KYCNotSubmitted}, nil
	}
	return &rec, nil
}

// AddSanction lists a user id or MSISDN under entry.
func (s *MemoryStore) AddSanction(key, entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sanctioned[key] = entry
}

func (s *MemoryStore) Screen(ctx context.Context, userID, phone string) (bool, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.sanctioned[userID]; ok {
		return true, entry, nil
	}
	if entry, ok := s.sanctioned[models.MSISDN(phone)]; ok {
		return true, entry, nil
	}
	return false, "", nil
}

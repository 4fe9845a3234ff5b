package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

const transactionColumns = `id, user_id, provider, provider_transaction_id, amount, currency,
	phone_number, status, transaction_type, description, subscription_id,
	provider_fee, platform_fee, total_fee, failure_reason, metadata,
	created_at, updated_at, processed_at, completed_at, expires_at, version`

// statuses that no longer count toward usage or block a new refund
const inactiveStatuses = `('FAILED', 'CANCELLED', 'EXPIRED')`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		txn           models.Transaction
		providerTxnID sql.NullString
		subscription  sql.NullString
		failure       sql.NullString
		metadata      []byte
		processedAt   sql.NullTime
		completedAt   sql.NullTime
	)
	err := row.Scan(
		&txn.ID, &txn.UserID, &txn.Provider, &providerTxnID, &txn.Amount, &txn.Currency,
		&txn.PhoneNumber, &txn.Status, &txn.TransactionType, &txn.Description, &subscription,
		&txn.Fees.ProviderFee, &txn.Fees.PlatformFee, &txn.Fees.TotalFee, &failure, &metadata,
		&txn.CreatedAt, &txn.UpdatedAt, &processedAt, &completedAt, &txn.ExpiresAt, &txn.Version,
	)
	if err != nil {
		return nil, mapError(err)
	}
	txn.ProviderTransactionID = providerTxnID.String
	txn.SubscriptionID = subscription.String
	txn.FailureReason = failure.String
	txn.ProcessedAt = timePtr(processedAt)
	txn.CompletedAt = timePtr(completedAt)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &txn.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", txn.ID, err)
		}
	}
	return &txn, nil
}

func (r *TransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	metadata, err := json.Marshal(nonNilMetadata(txn.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO mobile_money_transactions (
			id, user_id, provider, provider_transaction_id, amount, currency,
			phone_number, status, transaction_type, description, subscription_id,
			provider_fee, platform_fee, total_fee, failure_reason, metadata, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at, version
	`,
		txn.ID, txn.UserID, txn.Provider, nullString(txn.ProviderTransactionID), txn.Amount, txn.Currency,
		txn.PhoneNumber, txn.Status, txn.TransactionType, txn.Description, nullString(txn.SubscriptionID),
		txn.Fees.ProviderFee, txn.Fees.PlatformFee, txn.Fees.TotalFee, nullString(txn.FailureReason), metadata, txn.ExpiresAt,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt, &txn.Version)
	return mapError(err)
}

// CreateRefund relies on the uq_mm_active_refund partial index to reject a
// second active refund for the same original.
func (r *TransactionRepository) CreateRefund(ctx context.Context, refund *models.Transaction) error {
	if refund.TransactionType != models.TypeRefund {
		return fmt.Errorf("transaction %s is not a refund", refund.ID)
	}
	return r.Create(ctx, refund)
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM mobile_money_transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (r *TransactionRepository) GetByProviderTransactionID(ctx context.Context, provider models.Provider, providerTxnID string) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM mobile_money_transactions
		WHERE provider = $1 AND provider_transaction_id = $2 AND transaction_type <> 'REFUND'
	`, provider, providerTxnID)
	return scanTransaction(row)
}

func (r *TransactionRepository) GetRefundByProviderRefundID(ctx context.Context, provider models.Provider, providerRefundID string) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM mobile_money_transactions
		WHERE provider = $1 AND transaction_type = 'REFUND' AND metadata->>'`+models.MetadataProviderRefundID+`' = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, provider, providerRefundID)
	return scanTransaction(row)
}

// Transition moves id from one status to another only if it is still in
// from. Fields left empty in upd keep their stored values; metadata is merged.
func (r *TransactionRepository) Transition(ctx context.Context, id string, from, to models.PaymentStatus, upd models.StatusUpdate) (*models.Transaction, error) {
	metadata, err := json.Marshal(nonNilMetadata(upd.Metadata))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE mobile_money_transactions
		SET status = $1,
			provider_transaction_id = COALESCE($2, provider_transaction_id),
			failure_reason = COALESCE($3, failure_reason),
			metadata = metadata || $4::jsonb,
			processed_at = COALESCE($5, processed_at),
			completed_at = COALESCE($6, completed_at),
			updated_at = NOW(),
			version = version + 1
		WHERE id = $7 AND status = $8
		RETURNING `+transactionColumns,
		to, nullString(upd.ProviderTransactionID), nullString(upd.FailureReason), metadata,
		nullTime(upd.ProcessedAt), nullTime(upd.CompletedAt), id, from,
	)
	txn, err := scanTransaction(row)
	if errors.Is(err, models.ErrNotFound) {
		// Either the row is gone or another writer moved it first.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, models.ErrConflict
	}
	return txn, err
}

func (r *TransactionRepository) List(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Provider != "" {
		add("provider = $%d", filter.Provider)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= $%d", *filter.EndDate)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mobile_money_transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	page, limit := filter.Page, filter.Limit
	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(`SELECT %s FROM mobile_money_transactions%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, len(args)-1, len(args))

	txns, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func (r *TransactionRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	return r.query(ctx, `
		SELECT `+transactionColumns+` FROM mobile_money_transactions
		WHERE status IN ('PENDING', 'PROCESSING') AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
}

func (r *TransactionRepository) ListCreatedBetween(ctx context.Context, start, end time.Time, provider models.Provider) ([]models.Transaction, error) {
	return r.query(ctx, `
		SELECT `+transactionColumns+` FROM mobile_money_transactions
		WHERE created_at >= $1 AND created_at < $2
			AND ($3 = '' OR provider = $3)
			AND transaction_type <> 'REFUND'
		ORDER BY created_at
	`, start, end, string(provider))
}

func (r *TransactionRepository) FindActiveRefund(ctx context.Context, originalID string) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM mobile_money_transactions
		WHERE transaction_type = 'REFUND' AND provider_transaction_id = $1
			AND status NOT IN `+inactiveStatuses+`
		LIMIT 1
	`, originalID)
	return scanTransaction(row)
}

func (r *TransactionRepository) UsageSince(ctx context.Context, userID string, since time.Time, excludeID, currency string) (models.UsageSummary, error) {
	var usage models.UsageSummary
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM mobile_money_transactions
		WHERE user_id = $1 AND created_at >= $2 AND id <> $3
			AND ($4 = '' OR currency = $4)
			AND transaction_type <> 'REFUND'
			AND status NOT IN `+inactiveStatuses,
		userID, since, excludeID, currency,
	).Scan(&usage.Count, &usage.Amount)
	if err != nil {
		return usage, fmt.Errorf("usage since %s: %w", since.Format(time.RFC3339), err)
	}
	return usage, nil
}

func (r *TransactionRepository) RecentTransactions(ctx context.Context, userID, phone string, since time.Time) ([]models.TransactionSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, phone_number, amount, currency, status, created_at FROM mobile_money_transactions
		WHERE (user_id = $1 OR phone_number = $2) AND created_at >= $3
			AND transaction_type <> 'REFUND'
			AND status NOT IN `+inactiveStatuses+`
		ORDER BY created_at DESC
	`, userID, phone, since)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	defer rows.Close()

	var out []models.TransactionSummary
	for rows.Next() {
		var s models.TransactionSummary
		if err := rows.Scan(&s.ID, &s.PhoneNumber, &s.Amount, &s.Currency, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *TransactionRepository) query(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txns := make([]models.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *txn)
	}
	return txns, rows.Err()
}

func nonNilMetadata(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

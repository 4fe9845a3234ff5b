package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

type FraudRepository struct {
	db *sql.DB
}

func NewFraudRepository(db *sql.DB) *FraudRepository {
	return &FraudRepository{db: db}
}

func (r *FraudRepository) SaveAnalysis(ctx context.Context, a *models.FraudAnalysis) error {
	flags, err := json.Marshal(a.Flags)
	if err != nil {
		return fmt.Errorf("encode fraud flags: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO fraud_analyses (transaction_id, risk_level, risk_score, flags, recommendation, reason, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transaction_id) DO NOTHING
	`, a.TransactionID, a.RiskLevel, a.RiskScore, flags, a.Recommendation, a.Reason, a.AnalyzedAt)
	return mapError(err)
}

const fraudColumns = `transaction_id, risk_level, risk_score, flags, recommendation, reason,
	analyzed_at, reviewed_by, final_decision, notes, reviewed_at`

func scanAnalysis(row rowScanner) (*models.FraudAnalysis, error) {
	var (
		a          models.FraudAnalysis
		flags      []byte
		reviewedBy sql.NullString
		decision   sql.NullString
		notes      sql.NullString
		reviewedAt sql.NullTime
	)
	err := row.Scan(&a.TransactionID, &a.RiskLevel, &a.RiskScore, &flags, &a.Recommendation, &a.Reason,
		&a.AnalyzedAt, &reviewedBy, &decision, &notes, &reviewedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := json.Unmarshal(flags, &a.Flags); err != nil {
		return nil, fmt.Errorf("decode fraud flags: %w", err)
	}
	a.ReviewedBy = reviewedBy.String
	a.FinalDecision = decision.String
	a.Notes = notes.String
	a.ReviewedAt = timePtr(reviewedAt)
	return &a, nil
}

func (r *FraudRepository) GetAnalysis(ctx context.Context, transactionID string) (*models.FraudAnalysis, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+fraudColumns+` FROM fraud_analyses WHERE transaction_id = $1`, transactionID)
	return scanAnalysis(row)
}

// RecordReview sets the manual-review fields; the automated result is left
// untouched.
func (r *FraudRepository) RecordReview(ctx context.Context, transactionID string, review models.FraudReview, at time.Time) (*models.FraudAnalysis, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE fraud_analyses
		SET reviewed_by = $1, final_decision = $2, notes = $3, reviewed_at = $4
		WHERE transaction_id = $5
		RETURNING `+fraudColumns,
		review.ReviewedBy, review.Decision, nullString(review.Notes), at, transactionID)
	return scanAnalysis(row)
}

type ComplianceRepository struct {
	db *sql.DB
}

func NewComplianceRepository(db *sql.DB) *ComplianceRepository {
	return &ComplianceRepository{db: db}
}

func (r *ComplianceRepository) SaveCheck(ctx context.Context, c *models.ComplianceCheck) error {
	checks, err := json.Marshal(c.Checks)
	if err != nil {
		return fmt.Errorf("encode compliance checks: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO compliance_checks (transaction_id, country, provider, status, checks, violations, requires_manual_review, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO NOTHING
	`, c.TransactionID, c.Country, c.Provider, c.Status, checks, pq.Array(c.Violations), c.RequiresManualReview, c.CheckedAt)
	return mapError(err)
}

func (r *ComplianceRepository) GetCheck(ctx context.Context, transactionID string) (*models.ComplianceCheck, error) {
	var (
		c      models.ComplianceCheck
		checks []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT transaction_id, country, provider, status, checks, violations, requires_manual_review, checked_at
		FROM compliance_checks WHERE transaction_id = $1
	`, transactionID).Scan(&c.TransactionID, &c.Country, &c.Provider, &c.Status, &checks,
		pq.Array(&c.Violations), &c.RequiresManualReview, &c.CheckedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if err := json.Unmarshal(checks, &c.Checks); err != nil {
		return nil, fmt.Errorf("decode compliance checks: %w", err)
	}
	return &c, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

const uniqueViolation = "23505"

// InitDB creates the tables and indexes the service needs if they are missing.
func InitDB(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS mobile_money_transactions (
			id VARCHAR(64) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			provider VARCHAR(32) NOT NULL,
			provider_transaction_id VARCHAR(255),
			amount BIGINT NOT NULL CHECK (amount > 0),
			currency VARCHAR(3) NOT NULL,
			phone_number VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			transaction_type VARCHAR(32) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			subscription_id VARCHAR(255),
			provider_fee BIGINT NOT NULL DEFAULT 0,
			platform_fee BIGINT NOT NULL DEFAULT 0,
			total_fee BIGINT NOT NULL DEFAULT 0,
			failure_reason TEXT,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			expires_at TIMESTAMPTZ NOT NULL,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_mm_provider_txn
			ON mobile_money_transactions(provider, provider_transaction_id)
			WHERE provider_transaction_id IS NOT NULL AND transaction_type <> 'REFUND'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_mm_active_refund
			ON mobile_money_transactions(provider_transaction_id)
			WHERE transaction_type = 'REFUND' AND status NOT IN ('FAILED', 'CANCELLED', 'EXPIRED')`,
		`CREATE INDEX IF NOT EXISTS idx_mm_provider_refund
			ON mobile_money_transactions(provider, (metadata->>'provider_refund_id'))
			WHERE transaction_type = 'REFUND'`,
		`CREATE INDEX IF NOT EXISTS idx_mm_user_created ON mobile_money_transactions(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_mm_phone_created ON mobile_money_transactions(phone_number, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_mm_open_expiry
			ON mobile_money_transactions(expires_at)
			WHERE status IN ('PENDING', 'PROCESSING')`,
		`CREATE TABLE IF NOT EXISTS fraud_analyses (
			transaction_id VARCHAR(64) PRIMARY KEY REFERENCES mobile_money_transactions(id),
			risk_level VARCHAR(20) NOT NULL,
			risk_score INT NOT NULL CHECK (risk_score BETWEEN 0 AND 100),
			flags JSONB NOT NULL DEFAULT '[]'::jsonb,
			recommendation VARCHAR(20) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			analyzed_at TIMESTAMPTZ NOT NULL,
			reviewed_by VARCHAR(255),
			final_decision VARCHAR(20),
			notes TEXT,
			reviewed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS compliance_checks (
			transaction_id VARCHAR(64) PRIMARY KEY REFERENCES mobile_money_transactions(id),
			country VARCHAR(2) NOT NULL,
			provider VARCHAR(32) NOT NULL,
			status VARCHAR(20) NOT NULL,
			checks JSONB NOT NULL,
			violations TEXT[] NOT NULL DEFAULT '{}',
			requires_manual_review BOOLEAN NOT NULL DEFAULT FALSE,
			checked_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kyc_verifications (
			user_id VARCHAR(255) PRIMARY KEY,
			status VARCHAR(20) NOT NULL,
			id_types TEXT[] NOT NULL DEFAULT '{}',
			verified_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS sanctions_list (
			id SERIAL PRIMARY KEY,
			list_name VARCHAR(64) NOT NULL,
			entry_name VARCHAR(255) NOT NULL,
			user_id VARCHAR(255),
			phone_number VARCHAR(20),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sanctions_phone ON sanctions_list(phone_number) WHERE active`,
		`CREATE INDEX IF NOT EXISTS idx_sanctions_user ON sanctions_list(user_id) WHERE active`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return nil
}

// mapError translates driver errors into the store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", models.ErrConflict, pqErr.Constraint)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

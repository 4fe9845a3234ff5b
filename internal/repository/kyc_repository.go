package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/mobile-money-orchestrator/internal/models"
)

// KYCRepository reads the verification records written by the identity
// service.
type KYCRepository struct {
	db *sql.DB
}

func NewKYCRepository(db *sql.DB) *KYCRepository {
	return &KYCRepository{db: db}
}

func (r *KYCRepository) GetKYC(ctx context.Context, userID string) (*models.KYCRecord, error) {
	rec := models.KYCRecord{UserID: userID}
	var verifiedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT status, id_types, verified_at FROM kyc_verifications WHERE user_id = $1
	`, userID).Scan(&rec.Status, pq.Array(&rec.VerifiedIDTypes), &verifiedAt)
	if errors.Is(err, sql.ErrNoRows) {
		rec.Status = models.KYCNotSubmitted
		return &rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get kyc for %s: %w", userID, err)
	}
	rec.VerifiedAt = timePtr(verifiedAt)
	return &rec, nil
}

// SanctionsRepository screens payers against the locally mirrored sanctions
// lists.
type SanctionsRepository struct {
	db *sql.DB
}

func NewSanctionsRepository(db *sql.DB) *SanctionsRepository {
	return &SanctionsRepository{db: db}
}

func (r *SanctionsRepository) Screen(ctx context.Context, userID, phone string) (bool, string, error) {
	var entry string
	err := r.db.QueryRowContext(ctx, `
		SELECT list_name || ':' || entry_name FROM sanctions_list
		WHERE active AND (user_id = $1 OR phone_number = $2)
		LIMIT 1
	`, userID, phone).Scan(&entry)
	if errors.Is(err, sql.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("sanctions screen: %w", err)
	}
	return true, entry, nil
}

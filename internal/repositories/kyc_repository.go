package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/enterprise/compliance-engine/internal/models"
)

var (
	ErrKYCNotFound = errors.New("kyc submission not found")
)

// KYCRepository handles KYC submission database operations. The compliance
// engine is a read-side consumer; submissions are written by the onboarding
// flow and updated here only for screening outcomes.
type KYCRepository struct {
	db *Database
}

// NewKYCRepository creates a new KYC repository
func NewKYCRepository(db *Database) *KYCRepository {
	return &KYCRepository{db: db}
}

// GetByUserID retrieves the latest KYC submission for a user
func (r *KYCRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.KYCSubmission, error) {
	query := `
		SELECT id, user_id, status, tier, document_count, identity_expires_at,
			   is_pep, is_sanctioned, has_adverse_media, screening_status,
			   created_at, updated_at
		FROM kyc_submissions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	sub := &models.KYCSubmission{}
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Status,
		&sub.Tier,
		&sub.DocumentCount,
		&sub.IdentityExpiresAt,
		&sub.IsPEP,
		&sub.IsSanctioned,
		&sub.HasAdverseMedia,
		&sub.ScreeningStatus,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKYCNotFound
		}
		return nil, err
	}

	return sub, nil
}

// UpdateScreening records the outcome of a screening workflow step
func (r *KYCRepository) UpdateScreening(ctx context.Context, id uuid.UUID, screeningStatus string, isPEP, isSanctioned, hasAdverseMedia bool) error {
	query := `
		UPDATE kyc_submissions
		SET screening_status = $2, is_pep = $3, is_sanctioned = $4,
			has_adverse_media = $5, updated_at = $6
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id, screeningStatus, isPEP, isSanctioned, hasAdverseMedia, time.Now())
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrKYCNotFound
	}

	return nil
}

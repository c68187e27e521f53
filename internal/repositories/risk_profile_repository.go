package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/enterprise/compliance-engine/internal/models"
)

var (
	ErrRiskProfileNotFound = errors.New("risk profile not found")
)

// RiskProfileRepository handles risk profile database operations
type RiskProfileRepository struct {
	db *Database
}

// NewRiskProfileRepository creates a new risk profile repository
func NewRiskProfileRepository(db *Database) *RiskProfileRepository {
	return &RiskProfileRepository{db: db}
}

// Upsert creates or replaces the user's risk profile. A user has at most one
// profile row, keyed by user_id.
func (r *RiskProfileRepository) Upsert(ctx context.Context, profile *models.RiskProfile) error {
	query := `
		INSERT INTO risk_profiles (
			id, user_id, geography_risk, document_risk, transaction_risk,
			screening_risk, overall_score, risk_level, is_pep, is_sanctioned,
			has_adverse_media, requires_edd, daily_limit, monthly_limit,
			factor_tags, last_assessed_by, last_assessed_at, next_review_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				  $15, $16, $17, $18, $19, $20)
		ON CONFLICT (user_id) DO UPDATE SET
			geography_risk = EXCLUDED.geography_risk,
			document_risk = EXCLUDED.document_risk,
			transaction_risk = EXCLUDED.transaction_risk,
			screening_risk = EXCLUDED.screening_risk,
			overall_score = EXCLUDED.overall_score,
			risk_level = EXCLUDED.risk_level,
			is_pep = EXCLUDED.is_pep,
			is_sanctioned = EXCLUDED.is_sanctioned,
			has_adverse_media = EXCLUDED.has_adverse_media,
			requires_edd = EXCLUDED.requires_edd,
			daily_limit = EXCLUDED.daily_limit,
			monthly_limit = EXCLUDED.monthly_limit,
			factor_tags = EXCLUDED.factor_tags,
			last_assessed_by = EXCLUDED.last_assessed_by,
			last_assessed_at = EXCLUDED.last_assessed_at,
			next_review_at = EXCLUDED.next_review_at,
			updated_at = EXCLUDED.updated_at
	`

	now := time.Now()
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	_, err := r.db.Pool.Exec(ctx, query,
		profile.ID,
		profile.UserID,
		profile.GeographyRisk,
		profile.DocumentRisk,
		profile.TransactionRisk,
		profile.ScreeningRisk,
		profile.OverallScore,
		profile.RiskLevel,
		profile.IsPEP,
		profile.IsSanctioned,
		profile.HasAdverseMedia,
		profile.RequiresEDD,
		profile.DailyLimit,
		profile.MonthlyLimit,
		pq.Array(profile.FactorTags),
		profile.LastAssessedBy,
		profile.LastAssessedAt,
		profile.NextReviewAt,
		profile.CreatedAt,
		profile.UpdatedAt,
	)

	return err
}

// GetByUserID retrieves a user's risk profile
func (r *RiskProfileRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.RiskProfile, error) {
	query := `
		SELECT id, user_id, geography_risk, document_risk, transaction_risk,
			   screening_risk, overall_score, risk_level, is_pep, is_sanctioned,
			   has_adverse_media, requires_edd, daily_limit, monthly_limit,
			   factor_tags, last_assessed_by, last_assessed_at, next_review_at,
			   created_at, updated_at
		FROM risk_profiles
		WHERE user_id = $1
	`

	profile := &models.RiskProfile{}
	var factorTags []string

	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&profile.ID,
		&profile.UserID,
		&profile.GeographyRisk,
		&profile.DocumentRisk,
		&profile.TransactionRisk,
		&profile.ScreeningRisk,
		&profile.OverallScore,
		&profile.RiskLevel,
		&profile.IsPEP,
		&profile.IsSanctioned,
		&profile.HasAdverseMedia,
		&profile.RequiresEDD,
		&profile.DailyLimit,
		&profile.MonthlyLimit,
		&factorTags,
		&profile.LastAssessedBy,
		&profile.LastAssessedAt,
		&profile.NextReviewAt,
		&profile.CreatedAt,
		&profile.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRiskProfileNotFound
		}
		return nil, err
	}

	profile.FactorTags = factorTags
	return profile, nil
}

// GetDueForReview retrieves profiles whose next review date has passed
func (r *RiskProfileRepository) GetDueForReview(ctx context.Context, asOf time.Time, limit int) ([]*models.RiskProfile, error) {
	query := `
		SELECT id, user_id, geography_risk, document_risk, transaction_risk,
			   screening_risk, overall_score, risk_level, is_pep, is_sanctioned,
			   has_adverse_media, requires_edd, daily_limit, monthly_limit,
			   factor_tags, last_assessed_by, last_assessed_at, next_review_at,
			   created_at, updated_at
		FROM risk_profiles
		WHERE next_review_at IS NOT NULL AND next_review_at <= $1
		ORDER BY next_review_at
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanProfiles(rows)
}

// CountByRiskLevel returns profile counts grouped by risk level
func (r *RiskProfileRepository) CountByRiskLevel(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT risk_level, COUNT(*)
		FROM risk_profiles
		GROUP BY risk_level
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		counts[level] = count
	}

	return counts, rows.Err()
}

func (r *RiskProfileRepository) scanProfiles(rows pgx.Rows) ([]*models.RiskProfile, error) {
	var profiles []*models.RiskProfile
	for rows.Next() {
		profile := &models.RiskProfile{}
		var factorTags []string

		if err := rows.Scan(
			&profile.ID,
			&profile.UserID,
			&profile.GeographyRisk,
			&profile.DocumentRisk,
			&profile.TransactionRisk,
			&profile.ScreeningRisk,
			&profile.OverallScore,
			&profile.RiskLevel,
			&profile.IsPEP,
			&profile.IsSanctioned,
			&profile.HasAdverseMedia,
			&profile.RequiresEDD,
			&profile.DailyLimit,
			&profile.MonthlyLimit,
			&factorTags,
			&profile.LastAssessedBy,
			&profile.LastAssessedAt,
			&profile.NextReviewAt,
			&profile.CreatedAt,
			&profile.UpdatedAt,
		); err != nil {
			return nil, err
		}

		profile.FactorTags = factorTags
		profiles = append(profiles, profile)
	}

	return profiles, rows.Err()
}

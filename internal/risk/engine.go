package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/queue"
	"github.com/enterprise/compliance-engine/internal/repositories"
)

// Stores the engine reads from and writes to. Narrow interfaces so tests can
// run against in-memory fakes.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type KYCStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.KYCSubmission, error)
}

type TransactionStore interface {
	GetRecentByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]*models.Transaction, error)
}

type ProfileStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.RiskProfile, error)
	Upsert(ctx context.Context, profile *models.RiskProfile) error
}

// Engine computes and maintains per-user risk profiles.
type Engine struct {
	users        UserStore
	kyc          KYCStore
	transactions TransactionStore
	profiles     ProfileStore
	factors      *FactorCalculator
	cache        *queue.CacheClient
	cacheTTL     time.Duration
}

// NewEngine creates a risk engine. The cache client may be nil; profile
// caching is then skipped.
func NewEngine(
	users UserStore,
	kyc KYCStore,
	transactions TransactionStore,
	profiles ProfileStore,
	factors *FactorCalculator,
	cache *queue.CacheClient,
	cacheTTL time.Duration,
) *Engine {
	return &Engine{
		users:        users,
		kyc:          kyc,
		transactions: transactions,
		profiles:     profiles,
		factors:      factors,
		cache:        cache,
		cacheTTL:     cacheTTL,
	}
}

// CalculateUserRiskScore computes the four sub-scores and the aggregate for
// a user without persisting anything. A missing KYC record is scored with
// the documented defaults, not treated as an error.
func (e *Engine) CalculateUserRiskScore(ctx context.Context, userID uuid.UUID) (*Score, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	kyc, err := e.kyc.GetByUserID(ctx, userID)
	if err != nil {
		if !errors.Is(err, repositories.ErrKYCNotFound) {
			return nil, fmt.Errorf("load kyc submission: %w", err)
		}
		kyc = nil
	}

	now := time.Now()
	history, err := e.transactions.GetRecentByUser(ctx, userID, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, fmt.Errorf("load transaction history: %w", err)
	}

	var isPEP, isSanctioned, hasAdverseMedia bool
	if kyc != nil {
		isPEP = kyc.IsPEP
		isSanctioned = kyc.IsSanctioned
		hasAdverseMedia = kyc.HasAdverseMedia
	}

	score := Aggregate(
		e.factors.GeographyRisk(user.Country),
		e.factors.DocumentRisk(kyc, now),
		e.factors.TransactionRisk(history, now),
		e.factors.ScreeningRisk(kyc),
		isPEP, isSanctioned, hasAdverseMedia,
	)

	return &score, nil
}

// UpdateUserRiskProfile recalculates a user's risk, persists the profile and
// returns it. assessedBy is recorded for audit; empty means an automated run.
func (e *Engine) UpdateUserRiskProfile(ctx context.Context, userID uuid.UUID, assessedBy string) (*models.RiskProfile, error) {
	score, err := e.CalculateUserRiskScore(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	limits := LimitsForLevel(score.RiskLevel)
	nextReview := NextReviewAt(score.RiskLevel, now)

	profile := &models.RiskProfile{
		UserID:          userID,
		GeographyRisk:   score.GeographyRisk,
		DocumentRisk:    score.DocumentRisk,
		TransactionRisk: score.TransactionRisk,
		ScreeningRisk:   score.ScreeningRisk,
		OverallScore:    score.OverallScore,
		RiskLevel:       score.RiskLevel,
		IsPEP:           score.IsPEP,
		IsSanctioned:    score.IsSanctioned,
		HasAdverseMedia: score.HasAdverseMedia,
		RequiresEDD:     score.RequiresEDD,
		DailyLimit:      limits.Daily,
		MonthlyLimit:    limits.Monthly,
		FactorTags:      FactorTags(*score),
		LastAssessedBy:  assessedBy,
		LastAssessedAt:  &now,
		NextReviewAt:    &nextReview,
	}

	// Preserve identity of an existing profile row
	if existing, err := e.profiles.GetByUserID(ctx, userID); err == nil {
		profile.ID = existing.ID
		profile.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, repositories.ErrRiskProfileNotFound) {
		return nil, fmt.Errorf("load existing profile: %w", err)
	}

	if err := e.profiles.Upsert(ctx, profile); err != nil {
		return nil, fmt.Errorf("persist risk profile: %w", err)
	}

	e.cacheRiskProfile(ctx, profile)

	log.Info().
		Str("user_id", userID.String()).
		Int("overall_score", profile.OverallScore).
		Str("risk_level", profile.RiskLevel).
		Bool("requires_edd", profile.RequiresEDD).
		Str("assessed_by", assessedBy).
		Msg("Risk profile updated")

	return profile, nil
}

// GetRiskProfile returns the stored profile, preferring the cache.
func (e *Engine) GetRiskProfile(ctx context.Context, userID uuid.UUID) (*models.RiskProfile, error) {
	if e.cache != nil {
		var cached models.RiskProfile
		if err := e.cache.Get(ctx, profileCacheKey(userID), &cached); err == nil {
			return &cached, nil
		}
	}

	profile, err := e.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	e.cacheRiskProfile(ctx, profile)
	return profile, nil
}

func (e *Engine) cacheRiskProfile(ctx context.Context, profile *models.RiskProfile) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, profileCacheKey(profile.UserID), profile, e.cacheTTL); err != nil {
		log.Warn().Err(err).Str("user_id", profile.UserID.String()).Msg("Failed to cache risk profile")
	}
}

func profileCacheKey(userID uuid.UUID) string {
	return "risk_profile:" + userID.String()
}

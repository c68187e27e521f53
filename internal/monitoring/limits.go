package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/repositories"
)

// Denial reasons surfaced to the caller.
const (
	ReasonAccountRestricted    = "account restricted"
	ReasonDailyLimitExceeded   = "daily limit exceeded"
	ReasonMonthlyLimitExceeded = "monthly limit exceeded"
)

// ProfileStore reads the current risk profile for limit enforcement.
type ProfileStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.RiskProfile, error)
}

// CompletedSumStore sums completed transaction amounts after an instant.
type CompletedSumStore interface {
	SumCompletedSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
}

// LimitDecision is the outcome of a limit check. When denied, Reason names
// the specific limit breached and Limit carries its value.
type LimitDecision struct {
	Allowed bool             `json:"allowed"`
	Reason  string           `json:"reason,omitempty"`
	Limit   *decimal.Decimal `json:"limit,omitempty"`
}

// LimitEnforcer checks proposed transactions against risk profile limits.
type LimitEnforcer struct {
	profiles ProfileStore
	sums     CompletedSumStore
}

// NewLimitEnforcer creates a limit enforcer.
func NewLimitEnforcer(profiles ProfileStore, sums CompletedSumStore) *LimitEnforcer {
	return &LimitEnforcer{profiles: profiles, sums: sums}
}

// CheckTransactionAgainstLimits decides whether a proposed USD amount fits
// within the user's daily and trailing-30-day limits. The daily window is
// the current calendar day; adding the proposed amount may reach but not
// exceed a limit.
//
// A user with no risk profile on file is allowed: limits come from the
// profile, and absence of one is a provisioning gap surfaced via logging,
// not a reason to freeze the account.
func (l *LimitEnforcer) CheckTransactionAgainstLimits(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*LimitDecision, error) {
	profile, err := l.profiles.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrRiskProfileNotFound) {
			log.Warn().
				Str("user_id", userID.String()).
				Msg("No risk profile on file; allowing transaction")
			return &LimitDecision{Allowed: true}, nil
		}
		return nil, fmt.Errorf("load risk profile: %w", err)
	}

	if profile.DailyLimit.IsZero() || profile.MonthlyLimit.IsZero() {
		return &LimitDecision{Allowed: false, Reason: ReasonAccountRestricted}, nil
	}

	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	dailySum, err := l.sums.SumCompletedSince(ctx, userID, startOfDay)
	if err != nil {
		return nil, fmt.Errorf("sum daily transactions: %w", err)
	}
	if dailySum.Add(amount).GreaterThan(profile.DailyLimit) {
		limit := profile.DailyLimit
		return &LimitDecision{Allowed: false, Reason: ReasonDailyLimitExceeded, Limit: &limit}, nil
	}

	monthlySum, err := l.sums.SumCompletedSince(ctx, userID, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, fmt.Errorf("sum monthly transactions: %w", err)
	}
	if monthlySum.Add(amount).GreaterThan(profile.MonthlyLimit) {
		limit := profile.MonthlyLimit
		return &LimitDecision{Allowed: false, Reason: ReasonMonthlyLimitExceeded, Limit: &limit}, nil
	}

	return &LimitDecision{Allowed: true}, nil
}

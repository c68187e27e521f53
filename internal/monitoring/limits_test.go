package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/repositories"
)

type fakeProfileStore struct {
	profiles map[uuid.UUID]*models.RiskProfile
}

func (f *fakeProfileStore) GetByUserID(_ context.Context, userID uuid.UUID) (*models.RiskProfile, error) {
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	return nil, repositories.ErrRiskProfileNotFound
}

// fakeSumStore answers the daily query with dailySum and the trailing-30-day
// query with monthlySum, distinguishing them by how far back since reaches.
type fakeSumStore struct {
	dailySum   decimal.Decimal
	monthlySum decimal.Decimal
}

func (f *fakeSumStore) SumCompletedSince(_ context.Context, _ uuid.UUID, since time.Time) (decimal.Decimal, error) {
	if time.Since(since) > 48*time.Hour {
		return f.monthlySum, nil
	}
	return f.dailySum, nil
}

func limitFixture(daily, monthly int64, dailySum, monthlySum int64) (*LimitEnforcer, uuid.UUID) {
	userID := uuid.New()
	profiles := &fakeProfileStore{profiles: map[uuid.UUID]*models.RiskProfile{
		userID: {
			UserID:       userID,
			DailyLimit:   decimal.NewFromInt(daily),
			MonthlyLimit: decimal.NewFromInt(monthly),
		},
	}}
	sums := &fakeSumStore{
		dailySum:   decimal.NewFromInt(dailySum),
		monthlySum: decimal.NewFromInt(monthlySum),
	}
	return NewLimitEnforcer(profiles, sums), userID
}

func TestCheckLimits_DailyLimit(t *testing.T) {
	t.Run("denied when sum plus amount exceeds limit", func(t *testing.T) {
		enforcer, userID := limitFixture(10000, 50000, 8000, 8000)

		decision, err := enforcer.CheckTransactionAgainstLimits(context.Background(), userID, decimal.NewFromInt(3000))
		require.NoError(t, err)

		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonDailyLimitExceeded, decision.Reason)
		require.NotNil(t, decision.Limit)
		assert.Equal(t, "10000", decision.Limit.String())
	})

	t.Run("reaching the limit exactly is allowed", func(t *testing.T) {
		enforcer, userID := limitFixture(10000, 50000, 8000, 8000)

		decision, err := enforcer.CheckTransactionAgainstLimits(context.Background(), userID, decimal.NewFromInt(2000))
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})
}

func TestCheckLimits_MonthlyLimit(t *testing.T) {
	enforcer, userID := limitFixture(10000, 50000, 0, 49000)

	decision, err := enforcer.CheckTransactionAgainstLimits(context.Background(), userID, decimal.NewFromInt(2000))
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonMonthlyLimitExceeded, decision.Reason)
	require.NotNil(t, decision.Limit)
	assert.Equal(t, "50000", decision.Limit.String())
}

func TestCheckLimits_RestrictedAccount(t *testing.T) {
	// Zero limits mean a critical-risk profile; any amount is restricted
	enforcer, userID := limitFixture(0, 0, 0, 0)

	decision, err := enforcer.CheckTransactionAgainstLimits(context.Background(), userID, decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonAccountRestricted, decision.Reason)
	assert.Nil(t, decision.Limit)
}

func TestCheckLimits_NoProfileAllows(t *testing.T) {
	enforcer := NewLimitEnforcer(&fakeProfileStore{profiles: map[uuid.UUID]*models.RiskProfile{}}, &fakeSumStore{})

	decision, err := enforcer.CheckTransactionAgainstLimits(context.Background(), uuid.New(), decimal.NewFromInt(1000000))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
}

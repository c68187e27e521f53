package monitoring

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/compliance-engine/internal/models"
)

func mkTx(amount string, txType, status string, age time.Duration, now time.Time) *models.Transaction {
	return &models.Transaction{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Amount:    models.ParseAmount(amount),
		Currency:  "USD",
		Type:      txType,
		Status:    status,
		CreatedAt: now.Add(-age),
	}
}

func thresholdRule(threshold string, windowHours int) (*models.MonitoringRule, *models.ThresholdCondition) {
	cond := &models.ThresholdCondition{
		AmountThreshold: models.ParseAmount(threshold),
		Currency:        "USD",
		TimeWindowHours: windowHours,
	}
	rule := &models.MonitoringRule{
		ID:       uuid.New(),
		Code:     "AML-001",
		Name:     "Large Transaction",
		RuleType: models.RuleTypeThreshold,
		Action:   models.ActionAlert,
		Priority: 5,
	}
	return rule, cond
}

func TestEvaluateThreshold_SingleTransaction(t *testing.T) {
	now := time.Now()
	rule, cond := thresholdRule("10000", 0)

	t.Run("fires at exactly the threshold", func(t *testing.T) {
		tx := mkTx("10000", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		v := evaluateThreshold(rule, cond, tx, nil, now)
		require.NotNil(t, v)
		assert.Equal(t, "AML-001", v.RuleCode)
		assert.Equal(t, models.ActionAlert, v.Action)
	})

	t.Run("does not fire below the threshold", func(t *testing.T) {
		tx := mkTx("9999.99", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		assert.Nil(t, evaluateThreshold(rule, cond, tx, nil, now))
	})

	t.Run("currency mismatch never fires", func(t *testing.T) {
		tx := mkTx("50000", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		tx.Currency = "EUR"
		assert.Nil(t, evaluateThreshold(rule, cond, tx, nil, now))
	})
}

func TestEvaluateThreshold_Cumulative(t *testing.T) {
	now := time.Now()
	rule, cond := thresholdRule("25000", 24)

	t.Run("sums incoming plus window history", func(t *testing.T) {
		tx := mkTx("10000", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("8000", models.TxTypeDeposit, models.TxStatusCompleted, 2*time.Hour, now),
			mkTx("7000", models.TxTypeDeposit, models.TxStatusCompleted, 5*time.Hour, now),
		}
		v := evaluateThreshold(rule, cond, tx, history, now)
		require.NotNil(t, v)
		assert.Contains(t, v.Details, "25000.00")
	})

	t.Run("history outside the window is excluded", func(t *testing.T) {
		tx := mkTx("10000", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("8000", models.TxTypeDeposit, models.TxStatusCompleted, 25*time.Hour, now),
			mkTx("7000", models.TxTypeDeposit, models.TxStatusCompleted, 2*time.Hour, now),
		}
		assert.Nil(t, evaluateThreshold(rule, cond, tx, history, now))
	})

	t.Run("cancelled and failed history is excluded", func(t *testing.T) {
		tx := mkTx("10000", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		clean := []*models.Transaction{
			mkTx("7000", models.TxTypeDeposit, models.TxStatusCompleted, 2*time.Hour, now),
		}
		noisy := append([]*models.Transaction{
			mkTx("9000", models.TxTypeDeposit, models.TxStatusCancelled, time.Hour, now),
			mkTx("9000", models.TxTypeDeposit, models.TxStatusFailed, time.Hour, now),
		}, clean...)

		assert.Equal(t,
			evaluateThreshold(rule, cond, tx, clean, now),
			evaluateThreshold(rule, cond, tx, noisy, now))
	})
}

func TestEvaluateVelocity(t *testing.T) {
	now := time.Now()
	cond := &models.VelocityCondition{MaxTransactions: 3, TimeWindowHours: 24}
	rule := &models.MonitoringRule{
		ID:       uuid.New(),
		Code:     "AML-003",
		Name:     "Rapid Velocity",
		RuleType: models.RuleTypeVelocity,
		Action:   models.ActionAlert,
		Priority: 4,
	}

	t.Run("fires when count including incoming reaches max", func(t *testing.T) {
		tx := mkTx("100", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("100", models.TxTypeDeposit, models.TxStatusCompleted, time.Hour, now),
			mkTx("100", models.TxTypeDeposit, models.TxStatusCompleted, 2*time.Hour, now),
		}
		require.NotNil(t, evaluateVelocity(rule, cond, tx, history, now))
	})

	t.Run("stays quiet below max", func(t *testing.T) {
		tx := mkTx("100", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("100", models.TxTypeDeposit, models.TxStatusCompleted, time.Hour, now),
		}
		assert.Nil(t, evaluateVelocity(rule, cond, tx, history, now))
	})

	t.Run("ignores history outside the window", func(t *testing.T) {
		tx := mkTx("100", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("100", models.TxTypeDeposit, models.TxStatusCompleted, 25*time.Hour, now),
			mkTx("100", models.TxTypeDeposit, models.TxStatusCompleted, 30*time.Hour, now),
		}
		assert.Nil(t, evaluateVelocity(rule, cond, tx, history, now))
	})
}

func TestEvaluateGeography(t *testing.T) {
	cond := &models.GeographyCondition{HighRiskCountries: []string{"KP", "IR", "SY"}}
	rule := &models.MonitoringRule{
		ID:       uuid.New(),
		Code:     "AML-006",
		Name:     "High-Risk Geography",
		RuleType: models.RuleTypeGeography,
		Action:   models.ActionFlag,
		Priority: 6,
	}

	t.Run("fires for listed country", func(t *testing.T) {
		v := evaluateGeography(rule, cond, &models.User{Country: "KP"})
		require.NotNil(t, v)
		assert.Contains(t, v.Details, "KP")
	})

	t.Run("case insensitive", func(t *testing.T) {
		require.NotNil(t, evaluateGeography(rule, cond, &models.User{Country: "ir"}))
	})

	t.Run("quiet for unlisted country", func(t *testing.T) {
		assert.Nil(t, evaluateGeography(rule, cond, &models.User{Country: "US"}))
	})

	t.Run("quiet for empty country", func(t *testing.T) {
		assert.Nil(t, evaluateGeography(rule, cond, &models.User{}))
	})
}

func TestEvaluateStructuring(t *testing.T) {
	now := time.Now()
	cond := &models.PatternCondition{
		Pattern:         models.PatternStructuring,
		TimeWindowHours: 48,
		MinAmount:       decimal.NewFromInt(9000),
		MaxAmount:       decimal.NewFromInt(9999),
		MinCount:        3,
	}
	rule := &models.MonitoringRule{
		ID:       uuid.New(),
		Code:     "AML-007",
		Name:     "Structuring",
		RuleType: models.RuleTypePattern,
		Action:   models.ActionEscalate,
		Priority: 9,
	}

	t.Run("three in-band transactions fire", func(t *testing.T) {
		tx := mkTx("9700", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("9500", models.TxTypeDeposit, models.TxStatusCompleted, 10*time.Hour, now),
			mkTx("9500", models.TxTypeDeposit, models.TxStatusCompleted, 20*time.Hour, now),
		}
		v := evaluatePattern(rule, cond, tx, history, now)
		require.NotNil(t, v)
		assert.Contains(t, v.Details, "structuring")
	})

	t.Run("out-of-band incoming never fires", func(t *testing.T) {
		tx := mkTx("15000", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("9500", models.TxTypeDeposit, models.TxStatusCompleted, 10*time.Hour, now),
			mkTx("9500", models.TxTypeDeposit, models.TxStatusCompleted, 20*time.Hour, now),
		}
		assert.Nil(t, evaluatePattern(rule, cond, tx, history, now))
	})

	t.Run("band edges are inclusive", func(t *testing.T) {
		tx := mkTx("9000", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("9999", models.TxTypeDeposit, models.TxStatusCompleted, 10*time.Hour, now),
			mkTx("9500", models.TxTypeDeposit, models.TxStatusCompleted, 20*time.Hour, now),
		}
		require.NotNil(t, evaluatePattern(rule, cond, tx, history, now))
	})

	t.Run("in-band history outside window does not count", func(t *testing.T) {
		tx := mkTx("9700", models.TxTypeDeposit, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("9500", models.TxTypeDeposit, models.TxStatusCompleted, 49*time.Hour, now),
			mkTx("9500", models.TxTypeDeposit, models.TxStatusCompleted, 20*time.Hour, now),
		}
		assert.Nil(t, evaluatePattern(rule, cond, tx, history, now))
	})
}

func TestEvaluateWithdrawalRatio(t *testing.T) {
	now := time.Now()
	cond := &models.PatternCondition{
		Pattern:         models.PatternWithdrawalRatio,
		TimeWindowHours: 168,
		MaxRatio:        0.8,
	}
	rule := &models.MonitoringRule{
		ID:       uuid.New(),
		Code:     "AML-008",
		Name:     "Withdrawal Ratio",
		RuleType: models.RuleTypePattern,
		Action:   models.ActionAlert,
		Priority: 5,
	}

	t.Run("fires at ratio above threshold", func(t *testing.T) {
		// deposits 10000, withdrawals 8500 -> 0.85
		tx := mkTx("8500", models.TxTypeWithdrawal, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("10000", models.TxTypeDeposit, models.TxStatusCompleted, 24*time.Hour, now),
		}
		v := evaluatePattern(rule, cond, tx, history, now)
		require.NotNil(t, v)
		assert.Contains(t, v.Details, "0.85")
	})

	t.Run("quiet below threshold", func(t *testing.T) {
		// deposits 10000, withdrawals 7000 -> 0.70
		tx := mkTx("7000", models.TxTypeWithdrawal, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("10000", models.TxTypeDeposit, models.TxStatusCompleted, 24*time.Hour, now),
		}
		assert.Nil(t, evaluatePattern(rule, cond, tx, history, now))
	})

	t.Run("sell counts as withdrawal and buy as deposit", func(t *testing.T) {
		tx := mkTx("9000", models.TxTypeSell, models.TxStatusPending, 0, now)
		history := []*models.Transaction{
			mkTx("10000", models.TxTypeBuy, models.TxStatusCompleted, 24*time.Hour, now),
		}
		require.NotNil(t, evaluatePattern(rule, cond, tx, history, now))
	})

	t.Run("no deposits in window never fires", func(t *testing.T) {
		tx := mkTx("9000", models.TxTypeWithdrawal, models.TxStatusPending, 0, now)
		assert.Nil(t, evaluatePattern(rule, cond, tx, nil, now))
	})
}

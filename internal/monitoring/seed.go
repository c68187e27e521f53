package monitoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/repositories"
)

// SeedStore is the rule persistence surface the seeder needs.
type SeedStore interface {
	GetByCode(ctx context.Context, code string) (*models.MonitoringRule, error)
	Create(ctx context.Context, rule *models.MonitoringRule) error
}

// defaultRules is the built-in catalog. Codes are the idempotency key:
// seeding never touches a rule whose code already exists, so operators can
// tune conditions without the next restart reverting them.
func defaultRules(highRiskCountries []string) []*models.MonitoringRule {
	return []*models.MonitoringRule{
		{
			Code:     "AML-001",
			Name:     "Large Transaction",
			RuleType: models.RuleTypeThreshold,
			Conditions: models.MustConditions(models.ThresholdCondition{
				AmountThreshold: decimal.NewFromInt(10000),
			}),
			Action:   models.ActionAlert,
			Priority: 5,
			Active:   true,
		},
		{
			Code:     "AML-002",
			Name:     "Very Large Transaction",
			RuleType: models.RuleTypeThreshold,
			Conditions: models.MustConditions(models.ThresholdCondition{
				AmountThreshold: decimal.NewFromInt(50000),
			}),
			Action:   models.ActionBlock,
			Priority: 8,
			Active:   true,
		},
		{
			Code:     "AML-003",
			Name:     "Rapid Transaction Velocity",
			RuleType: models.RuleTypeVelocity,
			Conditions: models.MustConditions(models.VelocityCondition{
				MaxTransactions: 10,
				TimeWindowHours: 24,
			}),
			Action:   models.ActionAlert,
			Priority: 4,
			Active:   true,
		},
		{
			Code:     "AML-004",
			Name:     "Extreme Transaction Velocity",
			RuleType: models.RuleTypeVelocity,
			Conditions: models.MustConditions(models.VelocityCondition{
				MaxTransactions: 25,
				TimeWindowHours: 24,
			}),
			Action:   models.ActionBlock,
			Priority: 7,
			Active:   true,
		},
		{
			Code:     "AML-005",
			Name:     "Daily Cumulative Threshold",
			RuleType: models.RuleTypeThreshold,
			Conditions: models.MustConditions(models.ThresholdCondition{
				AmountThreshold: decimal.NewFromInt(25000),
				TimeWindowHours: 24,
			}),
			Action:   models.ActionFlag,
			Priority: 6,
			Active:   true,
		},
		{
			Code:     "AML-006",
			Name:     "High-Risk Geography",
			RuleType: models.RuleTypeGeography,
			Conditions: models.MustConditions(models.GeographyCondition{
				HighRiskCountries: highRiskCountries,
			}),
			Action:   models.ActionFlag,
			Priority: 6,
			Active:   true,
		},
		{
			Code:     "AML-007",
			Name:     "Structuring Pattern",
			RuleType: models.RuleTypePattern,
			Conditions: models.MustConditions(models.PatternCondition{
				Pattern:         models.PatternStructuring,
				TimeWindowHours: 48,
				MinAmount:       decimal.NewFromInt(9000),
				MaxAmount:       decimal.NewFromInt(9999),
				MinCount:        3,
			}),
			Action:   models.ActionEscalate,
			Priority: 9,
			Active:   true,
		},
		{
			Code:     "AML-008",
			Name:     "Withdrawal/Deposit Ratio",
			RuleType: models.RuleTypePattern,
			Conditions: models.MustConditions(models.PatternCondition{
				Pattern:         models.PatternWithdrawalRatio,
				TimeWindowHours: 168,
				MaxRatio:        0.8,
			}),
			Action:   models.ActionAlert,
			Priority: 5,
			Active:   true,
		},
	}
}

// SeedDefaultRules installs the default rule catalog, skipping any rule
// whose code already exists. Safe to run on every bootstrap.
func SeedDefaultRules(ctx context.Context, store SeedStore, highRiskCountries []string) error {
	created := 0
	for _, rule := range defaultRules(highRiskCountries) {
		_, err := store.GetByCode(ctx, rule.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, repositories.ErrRuleNotFound) {
			return fmt.Errorf("check rule %s: %w", rule.Code, err)
		}

		if err := store.Create(ctx, rule); err != nil {
			// A concurrent bootstrap may have won the race; that still
			// satisfies idempotency.
			if errors.Is(err, repositories.ErrRuleAlreadyExists) {
				continue
			}
			return fmt.Errorf("create rule %s: %w", rule.Code, err)
		}
		created++
	}

	log.Info().Int("created", created).Msg("Monitoring rule catalog seeded")
	return nil
}

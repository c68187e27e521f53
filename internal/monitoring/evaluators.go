package monitoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enterprise/compliance-engine/internal/models"
)

// Evaluators share one contract: given a rule's decoded conditions, the
// incoming transaction, the owning user and the user's prior history, return
// a violation or nil. History must already exclude the incoming transaction;
// cancelled and failed rows are skipped here.
//
// Numeric semantics: thresholds are inclusive (>=) and windows include
// transactions created strictly after (now - window).

func windowStart(now time.Time, hours int) time.Time {
	return now.Add(-time.Duration(hours) * time.Hour)
}

func inWindow(tx *models.Transaction, cutoff time.Time) bool {
	return tx.CreatedAt.After(cutoff) && tx.CountsTowardAggregates()
}

func violationFor(rule *models.MonitoringRule, details string) *models.Violation {
	return &models.Violation{
		RuleID:   rule.ID,
		RuleCode: rule.Code,
		RuleName: rule.Name,
		Action:   rule.Action,
		Priority: rule.Priority,
		Details:  details,
	}
}

// evaluateThreshold fires on a single large transaction, or, when a window
// is configured, on the cumulative sum of the incoming transaction plus
// qualifying history inside the window.
func evaluateThreshold(rule *models.MonitoringRule, cond *models.ThresholdCondition, tx *models.Transaction, history []*models.Transaction, now time.Time) *models.Violation {
	if cond.Currency != "" && !strings.EqualFold(cond.Currency, tx.Currency) {
		return nil
	}

	if cond.TimeWindowHours <= 0 {
		if tx.Amount.GreaterThanOrEqual(cond.AmountThreshold) {
			return violationFor(rule, fmt.Sprintf(
				"Transaction amount $%s meets threshold $%s",
				tx.Amount.StringFixed(2), cond.AmountThreshold.StringFixed(2)))
		}
		return nil
	}

	cutoff := windowStart(now, cond.TimeWindowHours)
	sum := tx.Amount
	for _, prior := range history {
		if !inWindow(prior, cutoff) {
			continue
		}
		if cond.Currency != "" && !strings.EqualFold(cond.Currency, prior.Currency) {
			continue
		}
		sum = sum.Add(prior.Amount)
	}

	if sum.GreaterThanOrEqual(cond.AmountThreshold) {
		return violationFor(rule, fmt.Sprintf(
			"Cumulative amount $%s within %dh meets threshold $%s",
			sum.StringFixed(2), cond.TimeWindowHours, cond.AmountThreshold.StringFixed(2)))
	}
	return nil
}

// evaluateVelocity fires when the qualifying transaction count in the
// window, counting the incoming transaction, reaches the configured maximum.
func evaluateVelocity(rule *models.MonitoringRule, cond *models.VelocityCondition, tx *models.Transaction, history []*models.Transaction, now time.Time) *models.Violation {
	cutoff := windowStart(now, cond.TimeWindowHours)

	count := 1 // the incoming transaction
	for _, prior := range history {
		if inWindow(prior, cutoff) {
			count++
		}
	}

	if count >= cond.MaxTransactions {
		return violationFor(rule, fmt.Sprintf(
			"%d transactions within %dh meets limit of %d",
			count, cond.TimeWindowHours, cond.MaxTransactions))
	}
	return nil
}

// evaluateGeography fires when the user's country of record is on the
// rule's high-risk list. Comparison is case-insensitive.
func evaluateGeography(rule *models.MonitoringRule, cond *models.GeographyCondition, user *models.User) *models.Violation {
	country := strings.TrimSpace(user.Country)
	if country == "" {
		return nil
	}

	for _, risky := range cond.HighRiskCountries {
		if strings.EqualFold(country, risky) {
			return violationFor(rule, fmt.Sprintf(
				"User country %s is on the high-risk list", strings.ToUpper(country)))
		}
	}
	return nil
}

// evaluatePattern dispatches on the configured pattern.
func evaluatePattern(rule *models.MonitoringRule, cond *models.PatternCondition, tx *models.Transaction, history []*models.Transaction, now time.Time) *models.Violation {
	switch cond.Pattern {
	case models.PatternStructuring:
		return evaluateStructuring(rule, cond, tx, history, now)
	case models.PatternWithdrawalRatio:
		return evaluateWithdrawalRatio(rule, cond, tx, history, now)
	default:
		return nil
	}
}

// evaluateStructuring detects deliberate sub-threshold splitting: repeated
// transactions inside a band just under a reporting threshold.
func evaluateStructuring(rule *models.MonitoringRule, cond *models.PatternCondition, tx *models.Transaction, history []*models.Transaction, now time.Time) *models.Violation {
	if !inBand(tx.Amount, cond) {
		return nil
	}

	cutoff := windowStart(now, cond.TimeWindowHours)
	count := 1 // the incoming transaction
	for _, prior := range history {
		if inWindow(prior, cutoff) && inBand(prior.Amount, cond) {
			count++
		}
	}

	if count >= cond.MinCount {
		return violationFor(rule, fmt.Sprintf(
			"%d transactions of $%s-$%s within %dh suggests structuring",
			count, cond.MinAmount.StringFixed(2), cond.MaxAmount.StringFixed(2), cond.TimeWindowHours))
	}
	return nil
}

func inBand(amount decimal.Decimal, cond *models.PatternCondition) bool {
	return amount.GreaterThanOrEqual(cond.MinAmount) && amount.LessThanOrEqual(cond.MaxAmount)
}

// evaluateWithdrawalRatio fires when withdrawals approach deposits over the
// window, a common layering indicator. The incoming transaction counts
// toward its side of the ratio.
func evaluateWithdrawalRatio(rule *models.MonitoringRule, cond *models.PatternCondition, tx *models.Transaction, history []*models.Transaction, now time.Time) *models.Violation {
	cutoff := windowStart(now, cond.TimeWindowHours)

	deposits := decimal.Zero
	withdrawals := decimal.Zero

	add := func(t *models.Transaction) {
		switch {
		case t.IsDepositLike():
			deposits = deposits.Add(t.Amount)
		case t.IsWithdrawalLike():
			withdrawals = withdrawals.Add(t.Amount)
		}
	}

	add(tx)
	for _, prior := range history {
		if inWindow(prior, cutoff) {
			add(prior)
		}
	}

	if deposits.IsZero() {
		return nil
	}

	ratio, _ := withdrawals.Div(deposits).Float64()
	if ratio >= cond.MaxRatio {
		return violationFor(rule, fmt.Sprintf(
			"Withdrawal/deposit ratio %.2f within %dh meets threshold %.2f (withdrawals $%s, deposits $%s)",
			ratio, cond.TimeWindowHours, cond.MaxRatio,
			withdrawals.StringFixed(2), deposits.StringFixed(2)))
	}
	return nil
}

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/repositories"
)

// Stores the engine reads from. Narrow interfaces so tests can run against
// in-memory fakes.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type TransactionStore interface {
	GetUserTransactions(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error)
}

type RuleStore interface {
	GetActive(ctx context.Context) ([]*models.MonitoringRule, error)
}

// CaseWriter persists the side effects of an evaluation: screening logs for
// every violation and a case for the top escalating one.
type CaseWriter interface {
	OpenCase(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, violation *models.Violation) (*models.Case, error)
	WriteScreeningLog(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, violation *models.Violation, escalated bool) error
}

// EvaluationOutcome distinguishes a genuinely clean pass from a pass caused
// by missing data, which matters for audit review.
type EvaluationOutcome string

const (
	OutcomeEvaluated     EvaluationOutcome = "evaluated"
	OutcomeSkippedNoUser EvaluationOutcome = "skipped_no_user"
)

// EvaluationResult is the outcome of running all active rules against one
// transaction. Violations are sorted by descending priority.
type EvaluationResult struct {
	Passed          bool                `json:"passed"`
	Outcome         EvaluationOutcome   `json:"outcome"`
	Violations      []*models.Violation `json:"violations,omitempty"`
	BlockedByRule   bool                `json:"blocked_by_rule"`
	AlertsGenerated int                 `json:"alerts_generated"`
	Case            *models.Case        `json:"case,omitempty"`
}

// TopViolation returns the highest-priority violation, or nil on a pass.
func (r *EvaluationResult) TopViolation() *models.Violation {
	if len(r.Violations) == 0 {
		return nil
	}
	return r.Violations[0]
}

// Engine runs all active monitoring rules against incoming transactions.
type Engine struct {
	users        UserStore
	transactions TransactionStore
	rules        RuleStore
	writer       CaseWriter
}

// NewEngine creates a monitoring engine.
func NewEngine(users UserStore, transactions TransactionStore, rules RuleStore, writer CaseWriter) *Engine {
	return &Engine{
		users:        users,
		transactions: transactions,
		rules:        rules,
		writer:       writer,
	}
}

// EvaluateTransaction runs every active rule against the incoming
// transaction and persists screening logs and, when warranted, a case.
//
// A missing user record short-circuits to a pass with OutcomeSkippedNoUser:
// the transaction cannot be evaluated against a nonexistent profile, and the
// skip is logged so a data gap never masquerades as a clean result.
func (e *Engine) EvaluateTransaction(ctx context.Context, tx *models.Transaction) (*EvaluationResult, error) {
	user, err := e.users.GetByID(ctx, tx.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			log.Warn().
				Str("transaction_id", tx.ID.String()).
				Str("user_id", tx.UserID.String()).
				Msg("Skipping evaluation: user record not found")
			return &EvaluationResult{Passed: true, Outcome: OutcomeSkippedNoUser}, nil
		}
		return nil, fmt.Errorf("load user: %w", err)
	}

	activeRules, err := e.rules.GetActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}

	result := &EvaluationResult{Passed: true, Outcome: OutcomeEvaluated}
	if len(activeRules) == 0 {
		return result, nil
	}

	history, err := e.transactions.GetUserTransactions(ctx, tx.UserID)
	if err != nil {
		return nil, fmt.Errorf("load transaction history: %w", err)
	}
	history = excludeTransaction(history, tx.ID)

	now := time.Now()
	for _, rule := range activeRules {
		violation, err := e.runRule(rule, tx, user, history, now)
		if err != nil {
			// A misconfigured rule must not take down the whole evaluation.
			log.Error().Err(err).Str("rule_code", rule.Code).Msg("Skipping rule")
			continue
		}
		if violation != nil {
			result.Violations = append(result.Violations, violation)
		}
	}

	if len(result.Violations) == 0 {
		return result, nil
	}

	sort.SliceStable(result.Violations, func(i, j int) bool {
		return result.Violations[i].Priority > result.Violations[j].Priority
	})

	result.Passed = false
	for _, v := range result.Violations {
		switch v.Action {
		case models.ActionBlock:
			result.BlockedByRule = true
		case models.ActionAlert, models.ActionFlag:
			result.AlertsGenerated++
		}
	}

	// The highest-priority escalating or blocking violation opens exactly
	// one case; descending order makes it the first match.
	var escalating *models.Violation
	for _, v := range result.Violations {
		if v.Action == models.ActionEscalate || v.Action == models.ActionBlock {
			escalating = v
			break
		}
	}

	txID := tx.ID
	for _, v := range result.Violations {
		if err := e.writer.WriteScreeningLog(ctx, tx.UserID, &txID, v, v == escalating); err != nil {
			return nil, err
		}
	}

	if escalating != nil {
		c, err := e.writer.OpenCase(ctx, tx.UserID, &txID, escalating)
		if err != nil {
			return nil, err
		}
		result.Case = c
	}

	log.Info().
		Str("transaction_id", tx.ID.String()).
		Str("user_id", tx.UserID.String()).
		Int("violations", len(result.Violations)).
		Bool("blocked", result.BlockedByRule).
		Int("alerts", result.AlertsGenerated).
		Bool("case_opened", result.Case != nil).
		Msg("Transaction evaluated")

	return result, nil
}

// runRule decodes the rule's conditions and dispatches the evaluator for
// its type.
func (e *Engine) runRule(rule *models.MonitoringRule, tx *models.Transaction, user *models.User, history []*models.Transaction, now time.Time) (*models.Violation, error) {
	conditions, err := models.DecodeConditions(rule.RuleType, rule.Conditions)
	if err != nil {
		return nil, err
	}

	switch rule.RuleType {
	case models.RuleTypeThreshold:
		return evaluateThreshold(rule, conditions.Threshold, tx, history, now), nil
	case models.RuleTypeVelocity:
		return evaluateVelocity(rule, conditions.Velocity, tx, history, now), nil
	case models.RuleTypeGeography:
		return evaluateGeography(rule, conditions.Geography, user), nil
	case models.RuleTypePattern:
		return evaluatePattern(rule, conditions.Pattern, tx, history, now), nil
	default:
		return nil, fmt.Errorf("no evaluator for rule type %q", rule.RuleType)
	}
}

// excludeTransaction drops the incoming transaction from history so an
// already-persisted row is never counted twice.
func excludeTransaction(history []*models.Transaction, id uuid.UUID) []*models.Transaction {
	filtered := history[:0]
	for _, tx := range history {
		if tx.ID != id {
			filtered = append(filtered, tx)
		}
	}
	return filtered
}

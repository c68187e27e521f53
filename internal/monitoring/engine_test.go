package monitoring

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/repositories"
)

// In-memory fakes for the engine's store interfaces.

type fakeUserStore struct {
	users map[uuid.UUID]*models.User
}

func (f *fakeUserStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, repositories.ErrUserNotFound
}

type fakeTransactionStore struct {
	transactions []*models.Transaction
}

func (f *fakeTransactionStore) GetUserTransactions(_ context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, tx := range f.transactions {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

type fakeRuleStore struct {
	rules []*models.MonitoringRule
}

func (f *fakeRuleStore) GetActive(_ context.Context) ([]*models.MonitoringRule, error) {
	return f.rules, nil
}

type screeningCall struct {
	violation *models.Violation
	escalated bool
}

type fakeCaseWriter struct {
	screenings []screeningCall
	cases      []*models.Violation
}

func (f *fakeCaseWriter) OpenCase(_ context.Context, userID uuid.UUID, _ *uuid.UUID, violation *models.Violation) (*models.Case, error) {
	f.cases = append(f.cases, violation)
	return &models.Case{
		ID:         uuid.New(),
		CaseNumber: "AML-20260831-0001",
		UserID:     userID,
		Status:     models.CaseStatusOpen,
	}, nil
}

func (f *fakeCaseWriter) WriteScreeningLog(_ context.Context, _ uuid.UUID, _ *uuid.UUID, violation *models.Violation, escalated bool) error {
	f.screenings = append(f.screenings, screeningCall{violation: violation, escalated: escalated})
	return nil
}

func rawConditions(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newEngineFixture(rules []*models.MonitoringRule, user *models.User, history []*models.Transaction) (*Engine, *fakeCaseWriter) {
	users := &fakeUserStore{users: map[uuid.UUID]*models.User{}}
	if user != nil {
		users.users[user.ID] = user
	}
	writer := &fakeCaseWriter{}
	engine := NewEngine(users, &fakeTransactionStore{transactions: history}, &fakeRuleStore{rules: rules}, writer)
	return engine, writer
}

func TestEvaluateTransaction_CleanPass(t *testing.T) {
	user := &models.User{ID: uuid.New(), Country: "US"}
	rules := []*models.MonitoringRule{
		{
			ID: uuid.New(), Code: "AML-001", Name: "Large Transaction",
			RuleType: models.RuleTypeThreshold, Action: models.ActionAlert, Priority: 5,
			Conditions: rawConditions(t, models.ThresholdCondition{AmountThreshold: models.ParseAmount("10000")}),
		},
	}
	engine, writer := newEngineFixture(rules, user, nil)

	tx := &models.Transaction{ID: uuid.New(), UserID: user.ID, Amount: models.ParseAmount("500"), Currency: "USD", Type: models.TxTypeDeposit, Status: models.TxStatusPending, CreatedAt: time.Now()}
	result, err := engine.EvaluateTransaction(context.Background(), tx)
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, OutcomeEvaluated, result.Outcome)
	assert.Empty(t, result.Violations)
	assert.Empty(t, writer.screenings)
	assert.Nil(t, result.Case)
}

func TestEvaluateTransaction_MissingUserSkips(t *testing.T) {
	engine, writer := newEngineFixture(nil, nil, nil)

	tx := &models.Transaction{ID: uuid.New(), UserID: uuid.New(), Amount: models.ParseAmount("500"), CreatedAt: time.Now()}
	result, err := engine.EvaluateTransaction(context.Background(), tx)
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, OutcomeSkippedNoUser, result.Outcome)
	assert.Empty(t, writer.screenings)
}

func TestEvaluateTransaction_NoActiveRules(t *testing.T) {
	user := &models.User{ID: uuid.New(), Country: "US"}
	engine, _ := newEngineFixture(nil, user, nil)

	tx := &models.Transaction{ID: uuid.New(), UserID: user.ID, Amount: models.ParseAmount("999999"), CreatedAt: time.Now()}
	result, err := engine.EvaluateTransaction(context.Background(), tx)
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, OutcomeEvaluated, result.Outcome)
}

func TestEvaluateTransaction_ViolationsSortedAndLogged(t *testing.T) {
	user := &models.User{ID: uuid.New(), Country: "KP"}
	rules := []*models.MonitoringRule{
		{
			ID: uuid.New(), Code: "AML-001", Name: "Large Transaction",
			RuleType: models.RuleTypeThreshold, Action: models.ActionAlert, Priority: 5,
			Conditions: rawConditions(t, models.ThresholdCondition{AmountThreshold: models.ParseAmount("10000")}),
		},
		{
			ID: uuid.New(), Code: "AML-002", Name: "Very Large Transaction",
			RuleType: models.RuleTypeThreshold, Action: models.ActionBlock, Priority: 8,
			Conditions: rawConditions(t, models.ThresholdCondition{AmountThreshold: models.ParseAmount("50000")}),
		},
		{
			ID: uuid.New(), Code: "AML-006", Name: "High-Risk Geography",
			RuleType: models.RuleTypeGeography, Action: models.ActionFlag, Priority: 6,
			Conditions: rawConditions(t, models.GeographyCondition{HighRiskCountries: []string{"KP"}}),
		},
	}
	engine, writer := newEngineFixture(rules, user, nil)

	tx := &models.Transaction{ID: uuid.New(), UserID: user.ID, Amount: models.ParseAmount("60000"), Currency: "USD", Type: models.TxTypeDeposit, Status: models.TxStatusPending, CreatedAt: time.Now()}
	result, err := engine.EvaluateTransaction(context.Background(), tx)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	require.Len(t, result.Violations, 3)

	// Sorted by descending priority
	assert.Equal(t, "AML-002", result.Violations[0].RuleCode)
	assert.Equal(t, "AML-006", result.Violations[1].RuleCode)
	assert.Equal(t, "AML-001", result.Violations[2].RuleCode)
	assert.Equal(t, "AML-002", result.TopViolation().RuleCode)

	assert.True(t, result.BlockedByRule)
	assert.Equal(t, 2, result.AlertsGenerated)

	// One screening entry per violation, only the blocking one escalated
	require.Len(t, writer.screenings, 3)
	escalatedCount := 0
	for _, call := range writer.screenings {
		if call.escalated {
			escalatedCount++
			assert.Equal(t, "AML-002", call.violation.RuleCode)
		}
	}
	assert.Equal(t, 1, escalatedCount)

	// Exactly one case, opened for the top blocking violation
	require.Len(t, writer.cases, 1)
	assert.Equal(t, "AML-002", writer.cases[0].RuleCode)
	require.NotNil(t, result.Case)
	assert.Equal(t, models.CaseStatusOpen, result.Case.Status)
}

func TestEvaluateTransaction_AlertOnlyOpensNoCase(t *testing.T) {
	user := &models.User{ID: uuid.New(), Country: "US"}
	rules := []*models.MonitoringRule{
		{
			ID: uuid.New(), Code: "AML-001", Name: "Large Transaction",
			RuleType: models.RuleTypeThreshold, Action: models.ActionAlert, Priority: 5,
			Conditions: rawConditions(t, models.ThresholdCondition{AmountThreshold: models.ParseAmount("10000")}),
		},
	}
	engine, writer := newEngineFixture(rules, user, nil)

	tx := &models.Transaction{ID: uuid.New(), UserID: user.ID, Amount: models.ParseAmount("15000"), Currency: "USD", Type: models.TxTypeDeposit, Status: models.TxStatusPending, CreatedAt: time.Now()}
	result, err := engine.EvaluateTransaction(context.Background(), tx)
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.False(t, result.BlockedByRule)
	assert.Nil(t, result.Case)
	assert.Empty(t, writer.cases)

	require.Len(t, writer.screenings, 1)
	assert.False(t, writer.screenings[0].escalated)
}

func TestEvaluateTransaction_MisconfiguredRuleSkipped(t *testing.T) {
	user := &models.User{ID: uuid.New(), Country: "US"}
	rules := []*models.MonitoringRule{
		{
			ID: uuid.New(), Code: "AML-BAD", Name: "Broken Rule",
			RuleType: models.RuleTypePattern, Action: models.ActionBlock, Priority: 10,
			Conditions: json.RawMessage(`{"pattern": "nonsense"}`),
		},
		{
			ID: uuid.New(), Code: "AML-001", Name: "Large Transaction",
			RuleType: models.RuleTypeThreshold, Action: models.ActionAlert, Priority: 5,
			Conditions: rawConditions(t, models.ThresholdCondition{AmountThreshold: models.ParseAmount("10000")}),
		},
	}
	engine, _ := newEngineFixture(rules, user, nil)

	tx := &models.Transaction{ID: uuid.New(), UserID: user.ID, Amount: models.ParseAmount("15000"), Currency: "USD", Type: models.TxTypeDeposit, Status: models.TxStatusPending, CreatedAt: time.Now()}
	result, err := engine.EvaluateTransaction(context.Background(), tx)
	require.NoError(t, err)

	// The broken rule is skipped, the valid one still fires
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "AML-001", result.Violations[0].RuleCode)
	assert.False(t, result.BlockedByRule)
}

func TestEvaluateTransaction_HistoryExcludesIncoming(t *testing.T) {
	user := &models.User{ID: uuid.New(), Country: "US"}
	rules := []*models.MonitoringRule{
		{
			ID: uuid.New(), Code: "AML-005", Name: "Daily Cumulative",
			RuleType: models.RuleTypeThreshold, Action: models.ActionFlag, Priority: 6,
			Conditions: rawConditions(t, models.ThresholdCondition{AmountThreshold: models.ParseAmount("25000"), TimeWindowHours: 24}),
		},
	}

	// The incoming transaction is already persisted, so the store returns it
	// as part of history. It must not be double counted: 15000 alone stays
	// under the 25000 threshold.
	tx := &models.Transaction{ID: uuid.New(), UserID: user.ID, Amount: models.ParseAmount("15000"), Currency: "USD", Type: models.TxTypeDeposit, Status: models.TxStatusPending, CreatedAt: time.Now()}
	engine, _ := newEngineFixture(rules, user, []*models.Transaction{tx})

	result, err := engine.EvaluateTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

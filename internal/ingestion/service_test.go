package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/monitoring"
	"github.com/enterprise/compliance-engine/internal/repositories"
)

type fakeTransactionStore struct {
	byID        map[uuid.UUID]*models.Transaction
	byReference map[string]*models.Transaction
}

func newFakeTransactionStore() *fakeTransactionStore {
	return &fakeTransactionStore{
		byID:        map[uuid.UUID]*models.Transaction{},
		byReference: map[string]*models.Transaction{},
	}
}

func (f *fakeTransactionStore) Create(_ context.Context, tx *models.Transaction) error {
	if _, ok := f.byReference[tx.Reference]; ok {
		return repositories.ErrDuplicateTransaction
	}
	tx.ID = uuid.New()
	tx.Status = models.TxStatusPending
	tx.CreatedAt = time.Now()
	f.byID[tx.ID] = tx
	f.byReference[tx.Reference] = tx
	return nil
}

func (f *fakeTransactionStore) GetByID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	if tx, ok := f.byID[id]; ok {
		return tx, nil
	}
	return nil, repositories.ErrTransactionNotFound
}

func (f *fakeTransactionStore) GetByReference(_ context.Context, reference string) (*models.Transaction, error) {
	if tx, ok := f.byReference[reference]; ok {
		return tx, nil
	}
	return nil, repositories.ErrTransactionNotFound
}

func (f *fakeTransactionStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	tx, ok := f.byID[id]
	if !ok {
		return repositories.ErrTransactionNotFound
	}
	tx.Status = status
	return nil
}

func (f *fakeTransactionStore) GetByUserPaginated(_ context.Context, userID uuid.UUID, _, _ int) ([]*models.Transaction, int, error) {
	var out []*models.Transaction
	for _, tx := range f.byID {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, len(out), nil
}

type fakeLimitChecker struct {
	decision *monitoring.LimitDecision
	calls    int
}

func (f *fakeLimitChecker) CheckTransactionAgainstLimits(_ context.Context, _ uuid.UUID, _ decimal.Decimal) (*monitoring.LimitDecision, error) {
	f.calls++
	return f.decision, nil
}

type fakeRuleEvaluator struct {
	result *monitoring.EvaluationResult
	calls  int
}

func (f *fakeRuleEvaluator) EvaluateTransaction(_ context.Context, _ *models.Transaction) (*monitoring.EvaluationResult, error) {
	f.calls++
	return f.result, nil
}

type fakeReviewPublisher struct {
	events []*models.ReviewEvent
}

func (f *fakeReviewPublisher) Publish(_ context.Context, event *models.ReviewEvent) (string, error) {
	f.events = append(f.events, event)
	return "1-0", nil
}

func allow() *fakeLimitChecker {
	return &fakeLimitChecker{decision: &monitoring.LimitDecision{Allowed: true}}
}

func cleanPass() *fakeRuleEvaluator {
	return &fakeRuleEvaluator{result: &monitoring.EvaluationResult{
		Passed:  true,
		Outcome: monitoring.OutcomeEvaluated,
	}}
}

func sampleRequest(userID uuid.UUID, reference string) *TransactionRequest {
	return &TransactionRequest{
		UserID:    userID.String(),
		Amount:    "2500.00",
		Currency:  "USD",
		Type:      models.TxTypeDeposit,
		Reference: reference,
	}
}

func TestSubmitTransaction_CleanCompletes(t *testing.T) {
	store := newFakeTransactionStore()
	publisher := &fakeReviewPublisher{}
	svc := NewService(store, allow(), cleanPass(), publisher)

	resp, err := svc.SubmitTransaction(context.Background(), sampleRequest(uuid.New(), "TX-CLEAN-1"))
	require.NoError(t, err)

	assert.Equal(t, models.TxStatusCompleted, resp.Status)
	assert.Empty(t, resp.Reason)
	assert.Zero(t, resp.Violations)
	assert.Empty(t, resp.CaseNumber)

	stored, err := store.GetByReference(context.Background(), "TX-CLEAN-1")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusCompleted, stored.Status)
	assert.Empty(t, publisher.events)
}

func TestSubmitTransaction_DeniedLeavesNoRow(t *testing.T) {
	store := newFakeTransactionStore()
	limit := decimal.NewFromInt(2000)
	enforcer := &fakeLimitChecker{decision: &monitoring.LimitDecision{
		Allowed: false,
		Reason:  monitoring.ReasonDailyLimitExceeded,
		Limit:   &limit,
	}}
	evaluator := cleanPass()
	svc := NewService(store, enforcer, evaluator, nil)

	resp, err := svc.SubmitTransaction(context.Background(), sampleRequest(uuid.New(), "TX-DENY-1"))
	require.NoError(t, err)

	assert.Equal(t, StatusDenied, resp.Status)
	assert.Equal(t, monitoring.ReasonDailyLimitExceeded, resp.Reason)
	assert.Empty(t, resp.TransactionID)

	_, err = store.GetByReference(context.Background(), "TX-DENY-1")
	assert.ErrorIs(t, err, repositories.ErrTransactionNotFound)
	assert.Zero(t, evaluator.calls)
}

func TestSubmitTransaction_BlockedAndFlagged(t *testing.T) {
	userID := uuid.New()

	cases := []struct {
		name       string
		result     *monitoring.EvaluationResult
		wantStatus string
		wantReason string
	}{
		{
			name: "blocked by rule",
			result: &monitoring.EvaluationResult{
				Outcome:       monitoring.OutcomeEvaluated,
				BlockedByRule: true,
				Violations: []*models.Violation{
					{RuleCode: "AML-002", Priority: 8, Action: models.ActionBlock, Details: "cumulative deposits of 60000.00 USD in 24h"},
					{RuleCode: "AML-001", Priority: 5, Action: models.ActionAlert, Details: "single transaction over threshold"},
				},
				AlertsGenerated: 1,
				Case:            &models.Case{CaseNumber: "AML-20260831-0001"},
			},
			wantStatus: models.TxStatusBlocked,
			wantReason: "cumulative deposits of 60000.00 USD in 24h",
		},
		{
			name: "flagged only",
			result: &monitoring.EvaluationResult{
				Outcome: monitoring.OutcomeEvaluated,
				Violations: []*models.Violation{
					{RuleCode: "AML-006", Priority: 6, Action: models.ActionFlag, Details: "withdrawal ratio 0.85"},
				},
			},
			wantStatus: models.TxStatusFlagged,
			wantReason: "withdrawal ratio 0.85",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeTransactionStore()
			publisher := &fakeReviewPublisher{}
			svc := NewService(store, allow(), &fakeRuleEvaluator{result: tc.result}, publisher)

			ref := sampleRequest(userID, "TX-VIOL-"+tc.name)
			resp, err := svc.SubmitTransaction(context.Background(), ref)
			require.NoError(t, err)

			assert.Equal(t, tc.wantStatus, resp.Status)
			assert.Equal(t, tc.wantReason, resp.Reason)
			assert.Equal(t, len(tc.result.Violations), resp.Violations)
			if tc.result.Case != nil {
				assert.Equal(t, tc.result.Case.CaseNumber, resp.CaseNumber)
			}

			stored, err := store.GetByReference(context.Background(), ref.Reference)
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, stored.Status)

			require.Len(t, publisher.events, 1)
			assert.Equal(t, userID.String(), publisher.events[0].UserID)
			assert.Equal(t, models.ReviewReasonActivity, publisher.events[0].Reason)
		})
	}
}

func TestSubmitTransaction_IdempotentByReference(t *testing.T) {
	store := newFakeTransactionStore()
	evaluator := cleanPass()
	svc := NewService(store, allow(), evaluator, nil)

	userID := uuid.New()
	first, err := svc.SubmitTransaction(context.Background(), sampleRequest(userID, "TX-DUP-1"))
	require.NoError(t, err)

	second, err := svc.SubmitTransaction(context.Background(), sampleRequest(userID, "TX-DUP-1"))
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Contains(t, second.Message, "idempotent")
	assert.Equal(t, 1, evaluator.calls)
}

func TestSubmitTransaction_RejectsBadInput(t *testing.T) {
	svc := NewService(newFakeTransactionStore(), allow(), cleanPass(), nil)

	req := sampleRequest(uuid.New(), "TX-BAD-1")
	req.UserID = "not-a-uuid"
	_, err := svc.SubmitTransaction(context.Background(), req)
	assert.ErrorContains(t, err, "invalid user_id")

	req = sampleRequest(uuid.New(), "TX-BAD-2")
	req.Amount = "-50"
	_, err = svc.SubmitTransaction(context.Background(), req)
	assert.ErrorContains(t, err, "must be positive")
}

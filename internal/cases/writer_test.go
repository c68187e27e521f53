package cases

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/compliance-engine/internal/models"
)

type memCaseStore struct {
	cases      map[uuid.UUID]*models.Case
	activities []*models.CaseActivity
}

func newMemCaseStore() *memCaseStore {
	return &memCaseStore{cases: make(map[uuid.UUID]*models.Case)}
}

func (m *memCaseStore) Create(_ context.Context, c *models.Case) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	m.cases[c.ID] = c
	return nil
}

func (m *memCaseStore) GetByID(_ context.Context, id uuid.UUID) (*models.Case, error) {
	if c, ok := m.cases[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, fmt.Errorf("case not found")
}

func (m *memCaseStore) Update(_ context.Context, c *models.Case) error {
	m.cases[c.ID] = c
	return nil
}

func (m *memCaseStore) CountCreatedOn(_ context.Context, _ time.Time) (int, error) {
	return len(m.cases), nil
}

func (m *memCaseStore) AddActivity(_ context.Context, activity *models.CaseActivity) error {
	activity.ID = uuid.New()
	m.activities = append(m.activities, activity)
	return nil
}

type memScreeningStore struct {
	entries []*models.ScreeningLog
}

func (m *memScreeningStore) Create(_ context.Context, entry *models.ScreeningLog) error {
	entry.ID = uuid.New()
	m.entries = append(m.entries, entry)
	return nil
}

func sampleViolation(priority int, action string) *models.Violation {
	return &models.Violation{
		RuleID:   uuid.New(),
		RuleCode: "AML-007",
		RuleName: "Structuring Pattern",
		Action:   action,
		Priority: priority,
		Details:  "3 transactions of $9000.00-$9999.00 within 48h suggests structuring",
	}
}

func TestOpenCase(t *testing.T) {
	store := newMemCaseStore()
	writer := NewWriter(store, &memScreeningStore{})

	userID := uuid.New()
	txID := uuid.New()

	c, err := writer.OpenCase(context.Background(), userID, &txID, sampleViolation(9, models.ActionEscalate))
	require.NoError(t, err)

	expectedPrefix := "AML-" + time.Now().Format("20060102") + "-"
	assert.Equal(t, expectedPrefix+"0001", c.CaseNumber)
	assert.Equal(t, models.CaseStatusOpen, c.Status)
	assert.Equal(t, models.CaseTypeAMLViolation, c.CaseType)
	assert.Equal(t, models.CasePriorityCritical, c.Priority)
	assert.Equal(t, userID, c.UserID)
	require.NotNil(t, c.TransactionID)
	assert.Equal(t, txID, *c.TransactionID)

	assert.Equal(t, "AML-007", c.TriggerDetails["rule_code"])
	assert.Equal(t, models.ActionEscalate, c.TriggerDetails["action"])

	require.Len(t, store.activities, 1)
	assert.Equal(t, models.ActivityCreated, store.activities[0].ActivityType)
	assert.Contains(t, store.activities[0].Description, "AML-007")

	// Sequence advances within the day
	second, err := writer.OpenCase(context.Background(), userID, nil, sampleViolation(8, models.ActionBlock))
	require.NoError(t, err)
	assert.Equal(t, expectedPrefix+"0002", second.CaseNumber)
}

func TestOpenCase_PriorityMapping(t *testing.T) {
	store := newMemCaseStore()
	writer := NewWriter(store, &memScreeningStore{})
	userID := uuid.New()

	tests := []struct {
		rulePriority int
		expected     string
	}{
		{10, models.CasePriorityCritical},
		{9, models.CasePriorityCritical},
		{8, models.CasePriorityHigh},
		{7, models.CasePriorityHigh},
		{6, models.CasePriorityMedium},
		{1, models.CasePriorityMedium},
	}

	for _, tt := range tests {
		c, err := writer.OpenCase(context.Background(), userID, nil, sampleViolation(tt.rulePriority, models.ActionEscalate))
		require.NoError(t, err)
		assert.Equal(t, tt.expected, c.Priority, "rule priority %d", tt.rulePriority)
	}
}

func TestWriteScreeningLog(t *testing.T) {
	screening := &memScreeningStore{}
	writer := NewWriter(newMemCaseStore(), screening)

	userID := uuid.New()
	txID := uuid.New()

	require.NoError(t, writer.WriteScreeningLog(context.Background(), userID, &txID, sampleViolation(9, models.ActionEscalate), true))
	require.NoError(t, writer.WriteScreeningLog(context.Background(), userID, &txID, sampleViolation(5, models.ActionAlert), false))

	require.Len(t, screening.entries, 2)

	escalated := screening.entries[0]
	assert.True(t, escalated.MatchFound)
	assert.Equal(t, 90, escalated.MatchScore)
	assert.Equal(t, []string{models.ActionEscalate, "case_opened"}, escalated.Flags)

	plain := screening.entries[1]
	assert.Equal(t, 50, plain.MatchScore)
	assert.Equal(t, []string{models.ActionAlert}, plain.Flags)
}

func TestTransition(t *testing.T) {
	store := newMemCaseStore()
	writer := NewWriter(store, &memScreeningStore{})

	c, err := writer.OpenCase(context.Background(), uuid.New(), nil, sampleViolation(9, models.ActionEscalate))
	require.NoError(t, err)

	actor := uuid.New()

	t.Run("open to under investigation", func(t *testing.T) {
		updated, err := writer.Transition(context.Background(), c.ID, models.CaseStatusUnderInvestigation, &actor)
		require.NoError(t, err)
		assert.Equal(t, models.CaseStatusUnderInvestigation, updated.Status)
		assert.Nil(t, updated.ClosedAt)
	})

	t.Run("under investigation to closed sets closed_at", func(t *testing.T) {
		updated, err := writer.Transition(context.Background(), c.ID, models.CaseStatusClosed, &actor)
		require.NoError(t, err)
		assert.Equal(t, models.CaseStatusClosed, updated.Status)
		require.NotNil(t, updated.ClosedAt)
	})

	t.Run("terminal case rejects further transitions", func(t *testing.T) {
		_, err := writer.Transition(context.Background(), c.ID, models.CaseStatusOpen, &actor)
		assert.ErrorContains(t, err, "invalid case transition")
	})

	t.Run("open can be dismissed directly", func(t *testing.T) {
		fresh, err := writer.OpenCase(context.Background(), uuid.New(), nil, sampleViolation(9, models.ActionEscalate))
		require.NoError(t, err)

		updated, err := writer.Transition(context.Background(), fresh.ID, models.CaseStatusDismissed, &actor)
		require.NoError(t, err)
		assert.Equal(t, models.CaseStatusDismissed, updated.Status)
		require.NotNil(t, updated.ClosedAt)
	})

	t.Run("open cannot close directly", func(t *testing.T) {
		fresh, err := writer.OpenCase(context.Background(), uuid.New(), nil, sampleViolation(9, models.ActionEscalate))
		require.NoError(t, err)

		_, err = writer.Transition(context.Background(), fresh.ID, models.CaseStatusClosed, &actor)
		assert.ErrorContains(t, err, "invalid case transition")
	})
}

func TestAssignAndNote(t *testing.T) {
	store := newMemCaseStore()
	writer := NewWriter(store, &memScreeningStore{})

	c, err := writer.OpenCase(context.Background(), uuid.New(), nil, sampleViolation(7, models.ActionBlock))
	require.NoError(t, err)

	actor := uuid.New()
	assignee := uuid.New()

	updated, err := writer.Assign(context.Background(), c.ID, assignee, &actor)
	require.NoError(t, err)
	require.NotNil(t, updated.AssignedTo)
	assert.Equal(t, assignee, *updated.AssignedTo)

	require.NoError(t, writer.AppendNote(context.Background(), c.ID, "Contacted the user for source of funds", &actor))

	var types []string
	for _, a := range store.activities {
		types = append(types, a.ActivityType)
	}
	assert.Contains(t, types, models.ActivityAssigned)
	assert.Contains(t, types, models.ActivityNote)
}

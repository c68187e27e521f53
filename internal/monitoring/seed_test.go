package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/repositories"
)

type fakeSeedStore struct {
	byCode  map[string]*models.MonitoringRule
	creates int
}

func newFakeSeedStore() *fakeSeedStore {
	return &fakeSeedStore{byCode: make(map[string]*models.MonitoringRule)}
}

func (f *fakeSeedStore) GetByCode(_ context.Context, code string) (*models.MonitoringRule, error) {
	if r, ok := f.byCode[code]; ok {
		return r, nil
	}
	return nil, repositories.ErrRuleNotFound
}

func (f *fakeSeedStore) Create(_ context.Context, rule *models.MonitoringRule) error {
	if _, ok := f.byCode[rule.Code]; ok {
		return repositories.ErrRuleAlreadyExists
	}
	f.byCode[rule.Code] = rule
	f.creates++
	return nil
}

func TestSeedDefaultRules(t *testing.T) {
	store := newFakeSeedStore()
	highRisk := []string{"KP", "IR", "SY"}

	require.NoError(t, SeedDefaultRules(context.Background(), store, highRisk))
	assert.Equal(t, 8, store.creates)

	// Every seeded rule decodes into a valid condition variant
	for code, rule := range store.byCode {
		_, err := models.DecodeConditions(rule.RuleType, rule.Conditions)
		assert.NoError(t, err, "rule %s", code)
		assert.True(t, rule.Active)
	}
}

func TestSeedDefaultRules_Idempotent(t *testing.T) {
	store := newFakeSeedStore()

	require.NoError(t, SeedDefaultRules(context.Background(), store, nil))
	firstCount := store.creates

	require.NoError(t, SeedDefaultRules(context.Background(), store, nil))
	assert.Equal(t, firstCount, store.creates)
}

func TestSeedDefaultRules_PreservesOperatorChanges(t *testing.T) {
	store := newFakeSeedStore()
	require.NoError(t, SeedDefaultRules(context.Background(), store, nil))

	// An operator deactivates a rule; reseeding must not revive it
	store.byCode["AML-001"].Active = false

	require.NoError(t, SeedDefaultRules(context.Background(), store, nil))
	assert.False(t, store.byCode["AML-001"].Active)
}

func TestSeedDefaultRules_SurvivesConcurrentCreate(t *testing.T) {
	store := newFakeSeedStore()

	// Simulate a racing bootstrap that created AML-002 between the existence
	// check and the insert.
	raced := &racingSeedStore{fakeSeedStore: store, raceOn: "AML-002"}

	require.NoError(t, SeedDefaultRules(context.Background(), raced, nil))
	assert.Contains(t, store.byCode, "AML-001")
	assert.Contains(t, store.byCode, "AML-008")
}

type racingSeedStore struct {
	*fakeSeedStore
	raceOn string
	fired  bool
}

func (r *racingSeedStore) Create(ctx context.Context, rule *models.MonitoringRule) error {
	if rule.Code == r.raceOn && !r.fired {
		r.fired = true
		return repositories.ErrRuleAlreadyExists
	}
	return r.fakeSeedStore.Create(ctx, rule)
}

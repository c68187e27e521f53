package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/enterprise/compliance-engine/internal/models"
)

func TestAggregate_WeightedScore(t *testing.T) {
	score := Aggregate(10, 20, 30, 40, false, false, false)

	// 0.20*10 + 0.25*20 + 0.30*30 + 0.25*40 = 26
	assert.Equal(t, 26, score.OverallScore)
	assert.Equal(t, models.RiskLevelLow, score.RiskLevel)
	assert.False(t, score.RequiresEDD)
}

func TestAggregate_LevelBands(t *testing.T) {
	tests := []struct {
		name     string
		scores   [4]int
		expected string
	}{
		{"low below 30", [4]int{10, 10, 10, 10}, models.RiskLevelLow},
		{"medium at 30", [4]int{30, 30, 30, 30}, models.RiskLevelMedium},
		{"high at 50", [4]int{50, 50, 50, 50}, models.RiskLevelHigh},
		{"critical at 70", [4]int{70, 70, 70, 70}, models.RiskLevelCritical},
		{"critical at 100", [4]int{100, 100, 100, 100}, models.RiskLevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := Aggregate(tt.scores[0], tt.scores[1], tt.scores[2], tt.scores[3], false, false, false)
			assert.Equal(t, tt.expected, score.RiskLevel)
		})
	}
}

func TestAggregate_SanctionsOverride(t *testing.T) {
	// Weighted score alone would be low; sanctions force critical anyway
	score := Aggregate(10, 5, 0, 100, false, true, false)

	assert.Equal(t, models.RiskLevelCritical, score.RiskLevel)
	assert.True(t, score.RequiresEDD)

	limits := LimitsForLevel(score.RiskLevel)
	assert.True(t, limits.Daily.IsZero())
	assert.True(t, limits.Monthly.IsZero())
}

func TestAggregate_EDDTriggers(t *testing.T) {
	t.Run("pep forces edd at low level", func(t *testing.T) {
		score := Aggregate(10, 5, 0, 40, true, false, false)
		assert.Equal(t, models.RiskLevelLow, score.RiskLevel)
		assert.True(t, score.RequiresEDD)
	})

	t.Run("high geography forces edd", func(t *testing.T) {
		score := Aggregate(50, 5, 0, 0, false, false, false)
		assert.Equal(t, models.RiskLevelLow, score.RiskLevel)
		assert.True(t, score.RequiresEDD)
	})

	t.Run("high level forces edd", func(t *testing.T) {
		score := Aggregate(40, 50, 60, 50, false, false, false)
		assert.Equal(t, models.RiskLevelHigh, score.RiskLevel)
		assert.True(t, score.RequiresEDD)
	})
}

func TestLimitsForLevel(t *testing.T) {
	low := LimitsForLevel(models.RiskLevelLow)
	assert.Equal(t, "50000", low.Daily.String())
	assert.Equal(t, "250000", low.Monthly.String())

	medium := LimitsForLevel(models.RiskLevelMedium)
	assert.Equal(t, "10000", medium.Daily.String())
	assert.Equal(t, "50000", medium.Monthly.String())

	high := LimitsForLevel(models.RiskLevelHigh)
	assert.Equal(t, "2000", high.Daily.String())
	assert.Equal(t, "10000", high.Monthly.String())

	critical := LimitsForLevel(models.RiskLevelCritical)
	assert.True(t, critical.Daily.IsZero())
	assert.True(t, critical.Monthly.IsZero())

	// Unknown levels get the most restrictive pair
	unknown := LimitsForLevel("bogus")
	assert.True(t, unknown.Daily.IsZero())
}

func TestNextReviewAt(t *testing.T) {
	from := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, from.AddDate(0, 0, 30), NextReviewAt(models.RiskLevelCritical, from))
	assert.Equal(t, from.AddDate(0, 3, 0), NextReviewAt(models.RiskLevelHigh, from))
	assert.Equal(t, from.AddDate(0, 6, 0), NextReviewAt(models.RiskLevelMedium, from))
	assert.Equal(t, from.AddDate(1, 0, 0), NextReviewAt(models.RiskLevelLow, from))
}

func TestFactorTags(t *testing.T) {
	score := Aggregate(80, 60, 10, 100, true, true, true)

	tags := FactorTags(score)
	assert.Contains(t, tags, "sanctioned")
	assert.Contains(t, tags, "pep")
	assert.Contains(t, tags, "adverse_media")
	assert.Contains(t, tags, "high_risk_geography")
	assert.Contains(t, tags, "weak_documentation")
	assert.Contains(t, tags, "edd_required")
	assert.NotContains(t, tags, "elevated_activity")

	clean := Aggregate(10, 5, 0, 0, false, false, false)
	assert.Empty(t, FactorTags(clean))
}

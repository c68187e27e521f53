package risk

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enterprise/compliance-engine/internal/models"
)

// Weights for the overall score. They sum to 1.0.
const (
	weightGeography   = 0.20
	weightDocument    = 0.25
	weightTransaction = 0.30
	weightScreening   = 0.25
)

// Level bands for the weighted score.
const (
	criticalScoreFloor = 70
	highScoreFloor     = 50
	mediumScoreFloor   = 30
)

// EDD is forced whenever geography risk reaches this floor, independent of
// the overall level.
const eddGeographyFloor = 50

// Limits is the per-level enforcement pair, USD.
type Limits struct {
	Daily   decimal.Decimal
	Monthly decimal.Decimal
}

var limitsByLevel = map[string]Limits{
	models.RiskLevelCritical: {Daily: decimal.Zero, Monthly: decimal.Zero},
	models.RiskLevelHigh:     {Daily: decimal.NewFromInt(2000), Monthly: decimal.NewFromInt(10000)},
	models.RiskLevelMedium:   {Daily: decimal.NewFromInt(10000), Monthly: decimal.NewFromInt(50000)},
	models.RiskLevelLow:      {Daily: decimal.NewFromInt(50000), Monthly: decimal.NewFromInt(250000)},
}

// Score is the aggregated result of one risk calculation.
type Score struct {
	GeographyRisk   int    `json:"geography_risk"`
	DocumentRisk    int    `json:"document_risk"`
	TransactionRisk int    `json:"transaction_risk"`
	ScreeningRisk   int    `json:"screening_risk"`
	OverallScore    int    `json:"overall_score"`
	RiskLevel       string `json:"risk_level"`
	IsPEP           bool   `json:"is_pep"`
	IsSanctioned    bool   `json:"is_sanctioned"`
	HasAdverseMedia bool   `json:"has_adverse_media"`
	RequiresEDD     bool   `json:"requires_edd"`
}

// Aggregate combines the four sub-scores into an overall score and level.
// A sanctioned user is always critical regardless of the weighted score.
func Aggregate(geography, document, transaction, screening int, isPEP, isSanctioned, hasAdverseMedia bool) Score {
	weighted := weightGeography*float64(geography) +
		weightDocument*float64(document) +
		weightTransaction*float64(transaction) +
		weightScreening*float64(screening)
	overall := int(math.Round(weighted))

	level := levelForScore(overall)
	if isSanctioned {
		level = models.RiskLevelCritical
	}

	return Score{
		GeographyRisk:   geography,
		DocumentRisk:    document,
		TransactionRisk: transaction,
		ScreeningRisk:   screening,
		OverallScore:    overall,
		RiskLevel:       level,
		IsPEP:           isPEP,
		IsSanctioned:    isSanctioned,
		HasAdverseMedia: hasAdverseMedia,
		RequiresEDD:     requiresEDD(level, isPEP, geography),
	}
}

func levelForScore(score int) string {
	switch {
	case score >= criticalScoreFloor:
		return models.RiskLevelCritical
	case score >= highScoreFloor:
		return models.RiskLevelHigh
	case score >= mediumScoreFloor:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

func requiresEDD(level string, isPEP bool, geographyRisk int) bool {
	return level == models.RiskLevelHigh ||
		level == models.RiskLevelCritical ||
		isPEP ||
		geographyRisk >= eddGeographyFloor
}

// LimitsForLevel returns the enforcement limits for a risk level. Unknown
// levels get the most restrictive pair.
func LimitsForLevel(level string) Limits {
	if limits, ok := limitsByLevel[level]; ok {
		return limits
	}
	return limitsByLevel[models.RiskLevelCritical]
}

// NextReviewAt schedules the next periodic review; the interval shortens as
// risk increases.
func NextReviewAt(level string, from time.Time) time.Time {
	switch level {
	case models.RiskLevelCritical:
		return from.AddDate(0, 0, 30)
	case models.RiskLevelHigh:
		return from.AddDate(0, 3, 0)
	case models.RiskLevelMedium:
		return from.AddDate(0, 6, 0)
	default:
		return from.AddDate(1, 0, 0)
	}
}

// FactorTags derives audit tags describing why a score is what it is.
func FactorTags(score Score) []string {
	var tags []string
	if score.IsSanctioned {
		tags = append(tags, "sanctioned")
	}
	if score.IsPEP {
		tags = append(tags, "pep")
	}
	if score.HasAdverseMedia {
		tags = append(tags, "adverse_media")
	}
	if score.GeographyRisk >= eddGeographyFloor {
		tags = append(tags, "high_risk_geography")
	}
	if score.TransactionRisk >= highScoreFloor {
		tags = append(tags, "elevated_activity")
	}
	if score.DocumentRisk >= highScoreFloor {
		tags = append(tags, "weak_documentation")
	}
	if score.RequiresEDD {
		tags = append(tags, "edd_required")
	}
	return tags
}

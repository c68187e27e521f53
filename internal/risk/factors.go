package risk

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/enterprise/compliance-engine/internal/models"
)

// Factor calculators. Each returns a sub-score in [0,100] from inputs that
// are already loaded; none of them performs I/O.

// Defaults applied when the corresponding input record is absent.
const (
	geographyRiskMissingCountry = 20
	documentRiskNoKYC           = 50
	transactionRiskNoHistory    = 10
	screeningRiskNoKYC          = 30
	maxFactorScore              = 100
)

var (
	largeTransactionAmount = decimal.NewFromInt(10000)

	volumeTier1 = decimal.NewFromInt(100000)
	volumeTier2 = decimal.NewFromInt(50000)
	volumeTier3 = decimal.NewFromInt(20000)
	volumeTier4 = decimal.NewFromInt(10000)
)

// FactorCalculator computes the four risk sub-scores. Country lists come
// from configuration so list changes never require a code change.
type FactorCalculator struct {
	highRiskCountries     map[string]bool
	elevatedRiskCountries map[string]bool
}

// NewFactorCalculator builds a calculator from configured country lists.
func NewFactorCalculator(highRisk, elevatedRisk []string) *FactorCalculator {
	return &FactorCalculator{
		highRiskCountries:     countrySet(highRisk),
		elevatedRiskCountries: countrySet(elevatedRisk),
	}
}

func countrySet(codes []string) map[string]bool {
	set := make(map[string]bool, len(codes))
	for _, c := range codes {
		set[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	return set
}

// GeographyRisk scores the user's country of record.
func (f *FactorCalculator) GeographyRisk(country string) int {
	country = strings.ToUpper(strings.TrimSpace(country))
	switch {
	case country == "":
		return geographyRiskMissingCountry
	case f.highRiskCountries[country]:
		return 80
	case f.elevatedRiskCountries[country]:
		return 50
	default:
		return 10
	}
}

// DocumentRisk scores KYC completeness and document freshness. A user with
// no KYC record at all scores a flat 50.
func (f *FactorCalculator) DocumentRisk(kyc *models.KYCSubmission, now time.Time) int {
	if kyc == nil {
		return documentRiskNoKYC
	}

	score := 0

	switch kyc.Status {
	case models.KYCStatusRejected:
		score += 40
	case models.KYCStatusInProgress, models.KYCStatusPendingReview:
		score += 25
	case models.KYCStatusApproved:
		score += 5
	default:
		score += 30
	}

	switch {
	case kyc.Tier <= 0:
		score += 20
	case kyc.Tier == 1:
		score += 10
	case kyc.Tier == 2:
		score += 5
	}

	switch {
	case kyc.DocumentCount == 0:
		score += 15
	case kyc.DocumentCount < 3:
		score += 8
	}

	if kyc.IdentityExpiresAt != nil {
		expiry := *kyc.IdentityExpiresAt
		switch {
		case expiry.Before(now):
			score += 30
		case expiry.Before(now.AddDate(0, 3, 0)):
			score += 15
		case expiry.Before(now.AddDate(0, 6, 0)):
			score += 5
		}
	}

	return capScore(score)
}

// TransactionRisk scores the trailing 30 days of activity. The history slice
// should contain all of the user's transactions in that window; cancelled and
// failed rows contribute only to the failure count.
func (f *FactorCalculator) TransactionRisk(history []*models.Transaction, now time.Time) int {
	cutoff := now.AddDate(0, 0, -30)

	var (
		count       int
		volume      = decimal.Zero
		largeCount  int
		failedCount int
	)

	for _, tx := range history {
		if !tx.CreatedAt.After(cutoff) {
			continue
		}
		if !tx.CountsTowardAggregates() {
			failedCount++
			continue
		}
		count++
		volume = volume.Add(tx.Amount)
		if tx.Amount.GreaterThan(largeTransactionAmount) {
			largeCount++
		}
	}

	if count == 0 && failedCount == 0 {
		return transactionRiskNoHistory
	}

	score := 0

	switch {
	case count > 50:
		score += 30
	case count > 20:
		score += 15
	case count > 10:
		score += 5
	}

	switch {
	case volume.GreaterThan(volumeTier1):
		score += 35
	case volume.GreaterThan(volumeTier2):
		score += 25
	case volume.GreaterThan(volumeTier3):
		score += 15
	case volume.GreaterThan(volumeTier4):
		score += 5
	}

	switch {
	case largeCount > 5:
		score += 20
	case largeCount > 2:
		score += 10
	}

	switch {
	case failedCount > 5:
		score += 15
	case failedCount > 2:
		score += 5
	}

	return capScore(score)
}

// ScreeningRisk scores watchlist exposure. Sanctions dominate: the +100
// alone saturates the cap.
func (f *FactorCalculator) ScreeningRisk(kyc *models.KYCSubmission) int {
	if kyc == nil {
		return screeningRiskNoKYC
	}

	score := 0

	if kyc.IsSanctioned {
		score += 100
	}
	if kyc.IsPEP {
		score += 40
	}
	if kyc.HasAdverseMedia {
		score += 30
	}

	switch kyc.ScreeningStatus {
	case models.ScreeningStatusMatchFound:
		score += 25
	case models.ScreeningStatusManualReview, models.ScreeningStatusEscalated:
		score += 15
	case models.ScreeningStatusPending:
		score += 10
	}

	return capScore(score)
}

func capScore(score int) int {
	if score > maxFactorScore {
		return maxFactorScore
	}
	return score
}

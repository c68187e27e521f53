package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/queue"
	"github.com/enterprise/compliance-engine/internal/repositories"
)

// AnalyticsService provides compliance reporting over transactions, cases,
// screening logs and risk profiles. Reads are cache-first; the database is
// the source of truth.
type AnalyticsService struct {
	txRepo        *repositories.TransactionRepository
	caseRepo      *repositories.CaseRepository
	screeningRepo *repositories.ScreeningRepository
	profileRepo   *repositories.RiskProfileRepository
	db            *repositories.Database
	cacheClient   *queue.CacheClient
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(
	txRepo *repositories.TransactionRepository,
	caseRepo *repositories.CaseRepository,
	screeningRepo *repositories.ScreeningRepository,
	profileRepo *repositories.RiskProfileRepository,
	db *repositories.Database,
	cacheClient *queue.CacheClient,
) *AnalyticsService {
	return &AnalyticsService{
		txRepo:        txRepo,
		caseRepo:      caseRepo,
		screeningRepo: screeningRepo,
		profileRepo:   profileRepo,
		db:            db,
		cacheClient:   cacheClient,
	}
}

// GetComplianceSummary returns the compliance activity summary for one
// calendar day.
func (s *AnalyticsService) GetComplianceSummary(ctx context.Context, date time.Time) (*ComplianceSummary, error) {
	cacheKey := fmt.Sprintf("compliance_summary:%s", date.Format("2006-01-02"))
	var cached ComplianceSummary
	if s.cacheClient != nil {
		if err := s.cacheClient.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	summary := &ComplianceSummary{Date: date.Format("2006-01-02")}

	txQuery := `
		SELECT
			COUNT(*),
			COALESCE(SUM(amount), 0),
			COUNT(CASE WHEN status = 'flagged' THEN 1 END),
			COUNT(CASE WHEN status = 'blocked' THEN 1 END)
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
	`
	if err := s.db.Pool.QueryRow(ctx, txQuery, startOfDay, endOfDay).Scan(
		&summary.TotalTransactions,
		&summary.TotalAmount,
		&summary.FlaggedCount,
		&summary.BlockedCount,
	); err != nil {
		return nil, fmt.Errorf("transaction summary: %w", err)
	}

	caseQuery := `
		SELECT COUNT(*) FROM compliance_cases
		WHERE created_at >= $1 AND created_at < $2
	`
	if err := s.db.Pool.QueryRow(ctx, caseQuery, startOfDay, endOfDay).Scan(&summary.CasesOpened); err != nil {
		return nil, fmt.Errorf("case summary: %w", err)
	}

	screeningQuery := `
		SELECT COUNT(*) FROM screening_logs
		WHERE match_found = true AND created_at >= $1 AND created_at < $2
	`
	if err := s.db.Pool.QueryRow(ctx, screeningQuery, startOfDay, endOfDay).Scan(&summary.ScreeningMatches); err != nil {
		return nil, fmt.Errorf("screening summary: %w", err)
	}

	if s.cacheClient != nil {
		cacheDuration := 5 * time.Minute
		if time.Since(date) > 24*time.Hour {
			cacheDuration = 1 * time.Hour
		}
		if err := s.cacheClient.Set(ctx, cacheKey, summary, cacheDuration); err != nil {
			log.Warn().Err(err).Msg("Failed to cache compliance summary")
		}
	}

	return summary, nil
}

// GetViolationsByRule returns match counts per rule code over the trailing
// window, most-triggered first.
func (s *AnalyticsService) GetViolationsByRule(ctx context.Context, days int) ([]RuleMatchCount, error) {
	counts, err := s.screeningRepo.CountByRuleCode(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return nil, fmt.Errorf("count violations: %w", err)
	}

	result := make([]RuleMatchCount, 0, len(counts))
	for code, count := range counts {
		result = append(result, RuleMatchCount{RuleCode: code, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].RuleCode < result[j].RuleCode
	})

	return result, nil
}

// GetCaseDistribution returns open case counts grouped by status and
// priority.
func (s *AnalyticsService) GetCaseDistribution(ctx context.Context) (*CaseDistribution, error) {
	dist := &CaseDistribution{
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}

	query := `
		SELECT status, priority, COUNT(*)
		FROM compliance_cases
		GROUP BY status, priority
	`
	rows, err := s.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("case distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, priority string
		var count int
		if err := rows.Scan(&status, &priority, &count); err != nil {
			return nil, err
		}
		dist.ByStatus[status] += count
		dist.ByPriority[priority] += count
		dist.Total += count
	}

	return dist, rows.Err()
}

// GetRiskLevelDistribution returns user counts per risk level.
func (s *AnalyticsService) GetRiskLevelDistribution(ctx context.Context) (map[string]int, error) {
	cacheKey := "risk_level_distribution"
	var cached map[string]int
	if s.cacheClient != nil {
		if err := s.cacheClient.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	counts, err := s.profileRepo.CountByRiskLevel(ctx)
	if err != nil {
		return nil, fmt.Errorf("risk level distribution: %w", err)
	}

	if s.cacheClient != nil {
		if err := s.cacheClient.Set(ctx, cacheKey, counts, 5*time.Minute); err != nil {
			log.Warn().Err(err).Msg("Failed to cache risk level distribution")
		}
	}

	return counts, nil
}

// GetFlaggedTransactions returns flagged/blocked transactions enriched with
// their screening entries.
func (s *AnalyticsService) GetFlaggedTransactions(ctx context.Context, page, pageSize int) (*FlaggedTransactionsResponse, error) {
	transactions, total, err := s.txRepo.GetFlagged(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("get flagged transactions: %w", err)
	}

	var enriched []FlaggedTransaction
	for _, tx := range transactions {
		ft := FlaggedTransaction{Transaction: tx}

		logs, err := s.screeningRepo.GetByTransactionID(ctx, tx.ID)
		if err != nil {
			log.Warn().Err(err).Str("transaction_id", tx.ID.String()).Msg("Failed to load screening entries")
		}
		for _, entry := range logs {
			ft.RuleCodes = append(ft.RuleCodes, entry.RuleCode)
		}
		if len(logs) > 0 {
			ft.TopMatchDetails = logs[0].MatchDetails
		}

		enriched = append(enriched, ft)
	}

	return &FlaggedTransactionsResponse{
		Transactions: enriched,
		Pagination: models.Pagination{
			Page:     page,
			PageSize: pageSize,
			Total:    total,
		},
	}, nil
}

// GetUsersDueForReview returns risk profiles whose scheduled review date
// has passed.
func (s *AnalyticsService) GetUsersDueForReview(ctx context.Context, limit int) ([]*models.RiskProfile, error) {
	return s.profileRepo.GetDueForReview(ctx, time.Now(), limit)
}

// GetUserScreeningHistory returns a user's screening log entries.
func (s *AnalyticsService) GetUserScreeningHistory(ctx context.Context, userID string, page, pageSize int) ([]*models.ScreeningLog, int, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid user_id: %w", err)
	}

	return s.screeningRepo.GetByUserID(ctx, id, page, pageSize)
}

// GetSystemMetrics returns queue and connection pool health.
func (s *AnalyticsService) GetSystemMetrics(ctx context.Context, streamClient *queue.RedisStreamClient) (*SystemMetrics, error) {
	metrics := &SystemMetrics{Timestamp: time.Now()}

	dbStats := s.db.Stats()
	metrics.DBConnectionsActive = int(dbStats.AcquiredConns())
	metrics.DBConnectionsIdle = int(dbStats.IdleConns())

	if streamClient != nil {
		if info, err := streamClient.GetStreamInfo(ctx); err == nil {
			metrics.QueueDepth = info.Length
			metrics.PendingReviews = info.PendingCount
		} else {
			log.Warn().Err(err).Msg("Failed to read stream info")
		}
	}

	return metrics, nil
}

// Response DTOs

// ComplianceSummary aggregates one day's compliance activity
type ComplianceSummary struct {
	Date              string  `json:"date"`
	TotalTransactions int     `json:"total_transactions"`
	TotalAmount       float64 `json:"total_amount"`
	FlaggedCount      int     `json:"flagged_count"`
	BlockedCount      int     `json:"blocked_count"`
	CasesOpened       int     `json:"cases_opened"`
	ScreeningMatches  int     `json:"screening_matches"`
}

// RuleMatchCount pairs a rule code with its trigger count
type RuleMatchCount struct {
	RuleCode string `json:"rule_code"`
	Count    int    `json:"count"`
}

// CaseDistribution breaks down cases by status and priority
type CaseDistribution struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
}

// FlaggedTransaction is a transaction with its screening context
type FlaggedTransaction struct {
	Transaction     *models.Transaction `json:"transaction"`
	RuleCodes       []string            `json:"rule_codes,omitempty"`
	TopMatchDetails string              `json:"top_match_details,omitempty"`
}

// FlaggedTransactionsResponse wraps a page of flagged transactions
type FlaggedTransactionsResponse struct {
	Transactions []FlaggedTransaction `json:"transactions"`
	Pagination   models.Pagination    `json:"pagination"`
}

// SystemMetrics reports queue and pool health
type SystemMetrics struct {
	Timestamp           time.Time `json:"timestamp"`
	QueueDepth          int64     `json:"queue_depth"`
	PendingReviews      int64     `json:"pending_reviews"`
	DBConnectionsActive int       `json:"db_connections_active"`
	DBConnectionsIdle   int       `json:"db_connections_idle"`
}

package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/enterprise/compliance-engine/internal/models"
)

// ScreeningRepository handles screening log database operations. Screening
// logs are append-only: there are no update or delete operations.
type ScreeningRepository struct {
	db *Database
}

// NewScreeningRepository creates a new screening repository
func NewScreeningRepository(db *Database) *ScreeningRepository {
	return &ScreeningRepository{db: db}
}

// Create appends a screening log entry
func (r *ScreeningRepository) Create(ctx context.Context, entry *models.ScreeningLog) error {
	query := `
		INSERT INTO screening_logs (
			id, user_id, transaction_id, rule_code, match_found, match_score,
			match_details, flags, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()

	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID,
		entry.UserID,
		entry.TransactionID,
		entry.RuleCode,
		entry.MatchFound,
		entry.MatchScore,
		entry.MatchDetails,
		pq.Array(entry.Flags),
		entry.CreatedAt,
	)

	return err
}

// GetByUserID retrieves a user's screening history with pagination
func (r *ScreeningRepository) GetByUserID(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]*models.ScreeningLog, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM screening_logs WHERE user_id = $1`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, user_id, transaction_id, rule_code, match_found, match_score,
			   match_details, flags, created_at
		FROM screening_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	return r.scanLogs(rows, total)
}

// GetByTransactionID retrieves screening entries for a transaction
func (r *ScreeningRepository) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]*models.ScreeningLog, error) {
	query := `
		SELECT id, user_id, transaction_id, rule_code, match_found, match_score,
			   match_details, flags, created_at
		FROM screening_logs
		WHERE transaction_id = $1
		ORDER BY match_score DESC, created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs, _, err := r.scanLogs(rows, 0)
	return logs, err
}

// CountByRuleCode returns match counts per rule over the trailing window
func (r *ScreeningRepository) CountByRuleCode(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `
		SELECT rule_code, COUNT(*)
		FROM screening_logs
		WHERE match_found = true AND created_at > $1
		GROUP BY rule_code
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var code string
		var count int
		if err := rows.Scan(&code, &count); err != nil {
			return nil, err
		}
		counts[code] = count
	}

	return counts, rows.Err()
}

func (r *ScreeningRepository) scanLogs(rows pgx.Rows, total int) ([]*models.ScreeningLog, int, error) {
	var logs []*models.ScreeningLog
	for rows.Next() {
		entry := &models.ScreeningLog{}
		var flags []string

		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.TransactionID,
			&entry.RuleCode,
			&entry.MatchFound,
			&entry.MatchScore,
			&entry.MatchDetails,
			&flags,
			&entry.CreatedAt,
		); err != nil {
			return nil, 0, err
		}

		entry.Flags = flags
		logs = append(logs, entry)
	}

	return logs, total, rows.Err()
}

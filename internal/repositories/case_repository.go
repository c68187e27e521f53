package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/enterprise/compliance-engine/internal/models"
)

var (
	ErrCaseNotFound = errors.New("case not found")
)

// CaseRepository handles compliance case database operations
type CaseRepository struct {
	db *Database
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *Database) *CaseRepository {
	return &CaseRepository{db: db}
}

// Create creates a new case
func (r *CaseRepository) Create(ctx context.Context, c *models.Case) error {
	query := `
		INSERT INTO compliance_cases (
			id, case_number, user_id, case_type, status, priority,
			transaction_id, trigger_details, assigned_to, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	detailsBytes, _ := c.TriggerDetails.Value()

	_, err := r.db.Pool.Exec(ctx, query,
		c.ID,
		c.CaseNumber,
		c.UserID,
		c.CaseType,
		c.Status,
		c.Priority,
		c.TransactionID,
		detailsBytes,
		c.AssignedTo,
		c.CreatedAt,
		c.UpdatedAt,
	)

	return err
}

// GetByID retrieves a case by ID
func (r *CaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	query := `
		SELECT id, case_number, user_id, case_type, status, priority,
			   transaction_id, trigger_details, assigned_to, created_at,
			   updated_at, closed_at
		FROM compliance_cases
		WHERE id = $1
	`

	c := &models.Case{}
	var detailsBytes []byte

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.CaseNumber,
		&c.UserID,
		&c.CaseType,
		&c.Status,
		&c.Priority,
		&c.TransactionID,
		&detailsBytes,
		&c.AssignedTo,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.ClosedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}

	c.TriggerDetails.Scan(detailsBytes)
	return c, nil
}

// Update persists status, priority, assignment and closure changes
func (r *CaseRepository) Update(ctx context.Context, c *models.Case) error {
	query := `
		UPDATE compliance_cases
		SET status = $2, priority = $3, assigned_to = $4, closed_at = $5,
			updated_at = $6
		WHERE id = $1
	`

	c.UpdatedAt = time.Now()

	result, err := r.db.Pool.Exec(ctx, query,
		c.ID,
		c.Status,
		c.Priority,
		c.AssignedTo,
		c.ClosedAt,
		c.UpdatedAt,
	)

	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrCaseNotFound
	}

	return nil
}

// List retrieves cases filtered by status with pagination. An empty status
// returns all cases.
func (r *CaseRepository) List(ctx context.Context, status string, page, pageSize int) ([]*models.Case, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `
		SELECT COUNT(*) FROM compliance_cases
		WHERE ($1 = '' OR status = $1)
	`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, case_number, user_id, case_type, status, priority,
			   transaction_id, trigger_details, assigned_to, created_at,
			   updated_at, closed_at
		FROM compliance_cases
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	return r.scanCases(rows, total)
}

// GetByUserID retrieves all cases for a user, newest first
func (r *CaseRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.Case, error) {
	query := `
		SELECT id, case_number, user_id, case_type, status, priority,
			   transaction_id, trigger_details, assigned_to, created_at,
			   updated_at, closed_at
		FROM compliance_cases
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cases, _, err := r.scanCases(rows, 0)
	return cases, err
}

// CountCreatedOn counts cases created on the given calendar day, used to
// build sequential case numbers.
func (r *CaseRepository) CountCreatedOn(ctx context.Context, day time.Time) (int, error) {
	startOfDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	query := `
		SELECT COUNT(*) FROM compliance_cases
		WHERE created_at >= $1 AND created_at < $2
	`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, startOfDay, endOfDay).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// AddActivity appends an entry to a case's activity log
func (r *CaseRepository) AddActivity(ctx context.Context, activity *models.CaseActivity) error {
	query := `
		INSERT INTO case_activities (
			id, case_id, activity_type, description, performed_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	activity.ID = uuid.New()
	activity.CreatedAt = time.Now()

	_, err := r.db.Pool.Exec(ctx, query,
		activity.ID,
		activity.CaseID,
		activity.ActivityType,
		activity.Description,
		activity.PerformedBy,
		activity.CreatedAt,
	)

	return err
}

// GetActivities retrieves a case's activity log in insertion order
func (r *CaseRepository) GetActivities(ctx context.Context, caseID uuid.UUID) ([]*models.CaseActivity, error) {
	query := `
		SELECT id, case_id, activity_type, description, performed_by, created_at
		FROM case_activities
		WHERE case_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []*models.CaseActivity
	for rows.Next() {
		activity := &models.CaseActivity{}
		if err := rows.Scan(
			&activity.ID,
			&activity.CaseID,
			&activity.ActivityType,
			&activity.Description,
			&activity.PerformedBy,
			&activity.CreatedAt,
		); err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}

	return activities, rows.Err()
}

func (r *CaseRepository) scanCases(rows pgx.Rows, total int) ([]*models.Case, int, error) {
	var cases []*models.Case
	for rows.Next() {
		c := &models.Case{}
		var detailsBytes []byte

		if err := rows.Scan(
			&c.ID,
			&c.CaseNumber,
			&c.UserID,
			&c.CaseType,
			&c.Status,
			&c.Priority,
			&c.TransactionID,
			&detailsBytes,
			&c.AssignedTo,
			&c.CreatedAt,
			&c.UpdatedAt,
			&c.ClosedAt,
		); err != nil {
			return nil, 0, err
		}

		c.TriggerDetails.Scan(detailsBytes)
		cases = append(cases, c)
	}

	return cases, total, rows.Err()
}

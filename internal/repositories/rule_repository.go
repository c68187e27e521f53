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
	ErrRuleNotFound      = errors.New("monitoring rule not found")
	ErrRuleAlreadyExists = errors.New("monitoring rule already exists")
)

// RuleRepository handles monitoring rule database operations
type RuleRepository struct {
	db *Database
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *Database) *RuleRepository {
	return &RuleRepository{db: db}
}

// Create creates a new monitoring rule
func (r *RuleRepository) Create(ctx context.Context, rule *models.MonitoringRule) error {
	query := `
		INSERT INTO monitoring_rules (
			id, code, name, rule_type, conditions, action, priority, active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	rule.ID = uuid.New()
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt

	_, err := r.db.Pool.Exec(ctx, query,
		rule.ID,
		rule.Code,
		rule.Name,
		rule.RuleType,
		[]byte(rule.Conditions),
		rule.Action,
		rule.Priority,
		rule.Active,
		rule.CreatedAt,
		rule.UpdatedAt,
	)

	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrRuleAlreadyExists
		}
		return err
	}

	return nil
}

// GetActive retrieves all active rules, highest priority first
func (r *RuleRepository) GetActive(ctx context.Context) ([]*models.MonitoringRule, error) {
	query := `
		SELECT id, code, name, rule_type, conditions, action, priority, active,
			   created_at, updated_at
		FROM monitoring_rules
		WHERE active = true
		ORDER BY priority DESC, code
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanRules(rows)
}

// GetAll retrieves all rules regardless of active flag
func (r *RuleRepository) GetAll(ctx context.Context) ([]*models.MonitoringRule, error) {
	query := `
		SELECT id, code, name, rule_type, conditions, action, priority, active,
			   created_at, updated_at
		FROM monitoring_rules
		ORDER BY priority DESC, code
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanRules(rows)
}

// GetByCode retrieves a rule by its unique code
func (r *RuleRepository) GetByCode(ctx context.Context, code string) (*models.MonitoringRule, error) {
	query := `
		SELECT id, code, name, rule_type, conditions, action, priority, active,
			   created_at, updated_at
		FROM monitoring_rules
		WHERE code = $1
	`

	rule := &models.MonitoringRule{}
	var conditions []byte
	err := r.db.Pool.QueryRow(ctx, query, code).Scan(
		&rule.ID,
		&rule.Code,
		&rule.Name,
		&rule.RuleType,
		&conditions,
		&rule.Action,
		&rule.Priority,
		&rule.Active,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}

	rule.Conditions = conditions
	return rule, nil
}

// SetActive toggles a rule's active flag
func (r *RuleRepository) SetActive(ctx context.Context, code string, active bool) error {
	query := `
		UPDATE monitoring_rules
		SET active = $2, updated_at = $3
		WHERE code = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, code, active, time.Now())
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrRuleNotFound
	}

	return nil
}

func (r *RuleRepository) scanRules(rows pgx.Rows) ([]*models.MonitoringRule, error) {
	var rules []*models.MonitoringRule
	for rows.Next() {
		rule := &models.MonitoringRule{}
		var conditions []byte
		if err := rows.Scan(
			&rule.ID,
			&rule.Code,
			&rule.Name,
			&rule.RuleType,
			&conditions,
			&rule.Action,
			&rule.Priority,
			&rule.Active,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.Conditions = conditions
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

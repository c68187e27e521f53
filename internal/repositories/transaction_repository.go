package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/enterprise/compliance-engine/internal/models"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction (reference exists)")
)

// TransactionRepository handles transaction database operations
type TransactionRepository struct {
	db *Database
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *Database) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create creates a new transaction in pending status
func (r *TransactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, user_id, amount, currency, type, status, reference, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	tx.ID = uuid.New()
	tx.CreatedAt = time.Now()
	if tx.Status == "" {
		tx.Status = models.TxStatusPending
	}

	_, err := r.db.Pool.Exec(ctx, query,
		tx.ID,
		tx.UserID,
		tx.Amount,
		tx.Currency,
		tx.Type,
		tx.Status,
		tx.Reference,
		tx.CreatedAt,
	)

	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateTransaction
		}
		return err
	}

	return nil
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `
		SELECT id, user_id, amount, currency, type, status, reference,
			   created_at, processed_at
		FROM transactions
		WHERE id = $1
	`

	tx := &models.Transaction{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.Currency,
		&tx.Type,
		&tx.Status,
		&tx.Reference,
		&tx.CreatedAt,
		&tx.ProcessedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return tx, nil
}

// GetByReference retrieves a transaction by its external reference
func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	query := `
		SELECT id, user_id, amount, currency, type, status, reference,
			   created_at, processed_at
		FROM transactions
		WHERE reference = $1
	`

	tx := &models.Transaction{}
	err := r.db.Pool.QueryRow(ctx, query, reference).Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Amount,
		&tx.Currency,
		&tx.Type,
		&tx.Status,
		&tx.Reference,
		&tx.CreatedAt,
		&tx.ProcessedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	return tx, nil
}

// UpdateStatus transitions a transaction's status
func (r *TransactionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `
		UPDATE transactions
		SET status = $2, processed_at = $3
		WHERE id = $1
	`

	result, err := r.db.Pool.Exec(ctx, query, id, status, time.Now())
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}

	return nil
}

// GetUserTransactions retrieves a user's full transaction history, newest
// first. Evaluators filter cancelled/failed rows themselves.
func (r *TransactionRepository) GetUserTransactions(ctx context.Context, userID uuid.UUID) ([]*models.Transaction, error) {
	query := `
		SELECT id, user_id, amount, currency, type, status, reference,
			   created_at, processed_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// GetRecentByUser retrieves a user's transactions created after the given
// instant, newest first.
func (r *TransactionRepository) GetRecentByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]*models.Transaction, error) {
	query := `
		SELECT id, user_id, amount, currency, type, status, reference,
			   created_at, processed_at
		FROM transactions
		WHERE user_id = $1 AND created_at > $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// SumCompletedSince sums a user's completed transaction amounts created after
// the given instant.
func (r *TransactionRepository) SumCompletedSince(ctx context.Context, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1 AND status = 'completed' AND created_at > $2
	`

	var sum decimal.Decimal
	if err := r.db.Pool.QueryRow(ctx, query, userID, since).Scan(&sum); err != nil {
		return decimal.Zero, err
	}

	return sum, nil
}

// GetByUserPaginated retrieves a page of a user's transactions
func (r *TransactionRepository) GetByUserPaginated(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]*models.Transaction, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM transactions WHERE user_id = $1`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, user_id, amount, currency, type, status, reference,
			   created_at, processed_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transactions, err := r.scanTransactions(rows)
	return transactions, total, err
}

// GetFlagged retrieves flagged/blocked transactions with pagination
func (r *TransactionRepository) GetFlagged(ctx context.Context, page, pageSize int) ([]*models.Transaction, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM transactions WHERE status IN ('flagged', 'blocked')`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, user_id, amount, currency, type, status, reference,
			   created_at, processed_at
		FROM transactions
		WHERE status IN ('flagged', 'blocked')
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transactions, err := r.scanTransactions(rows)
	return transactions, total, err
}

func (r *TransactionRepository) scanTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	for rows.Next() {
		tx := &models.Transaction{}
		if err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.Amount,
			&tx.Currency,
			&tx.Type,
			&tx.Status,
			&tx.Reference,
			&tx.CreatedAt,
			&tx.ProcessedAt,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}

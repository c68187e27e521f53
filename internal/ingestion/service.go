package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/enterprise/compliance-engine/internal/models"
	"github.com/enterprise/compliance-engine/internal/monitoring"
	"github.com/enterprise/compliance-engine/internal/repositories"
)

// TransactionRequest represents an incoming transaction submission
type TransactionRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Currency  string `json:"currency" binding:"required,len=3"`
	Type      string `json:"type" binding:"required,oneof=deposit withdrawal buy sell transfer"`
	Reference string `json:"reference" binding:"required"`
}

// TransactionResponse represents the outcome of a submission
type TransactionResponse struct {
	TransactionID   string     `json:"transaction_id,omitempty"`
	Status          string     `json:"status"`
	Reference       string     `json:"reference"`
	Reason          string     `json:"reason,omitempty"`
	Violations      int        `json:"violations"`
	AlertsGenerated int        `json:"alerts_generated"`
	CaseNumber      string     `json:"case_number,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	Message         string     `json:"message,omitempty"`
}

// StatusDenied is returned when the limit enforcer rejects a submission
// before any transaction row is created.
const StatusDenied = "denied"

// TransactionStore is the persistence surface the intake path needs.
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	GetByUserPaginated(ctx context.Context, userID uuid.UUID, page, pageSize int) ([]*models.Transaction, int, error)
}

type LimitChecker interface {
	CheckTransactionAgainstLimits(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*monitoring.LimitDecision, error)
}

type RuleEvaluator interface {
	EvaluateTransaction(ctx context.Context, tx *models.Transaction) (*monitoring.EvaluationResult, error)
}

type ReviewPublisher interface {
	Publish(ctx context.Context, event *models.ReviewEvent) (string, error)
}

// Service runs the full compliance intake path: limit check, transaction
// creation, rule evaluation, final status transition.
type Service struct {
	txRepo       TransactionStore
	enforcer     LimitChecker
	engine       RuleEvaluator
	streamClient ReviewPublisher
}

// NewService creates an ingestion service. The stream client may be nil;
// review events are then not published.
func NewService(
	txRepo TransactionStore,
	enforcer LimitChecker,
	engine RuleEvaluator,
	streamClient ReviewPublisher,
) *Service {
	return &Service{
		txRepo:       txRepo,
		enforcer:     enforcer,
		engine:       engine,
		streamClient: streamClient,
	}
}

// SubmitTransaction processes one proposed transaction end to end.
//
// The limit check runs before anything is persisted: a denied submission
// leaves no transaction row. Once created, the transaction is evaluated
// against all active rules and transitioned to blocked, flagged or
// completed. A blocked or flagged response carries the detail string of the
// top violation so the caller can show a specific reason.
func (s *Service) SubmitTransaction(ctx context.Context, req *TransactionRequest) (*TransactionResponse, error) {
	startTime := time.Now()

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user_id format: %w", err)
	}

	amount := models.ParseAmount(req.Amount)
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("amount must be positive")
	}

	// Idempotency by reference
	if existing, err := s.txRepo.GetByReference(ctx, req.Reference); err == nil {
		log.Debug().
			Str("reference", req.Reference).
			Str("transaction_id", existing.ID.String()).
			Msg("Duplicate submission detected")

		return &TransactionResponse{
			TransactionID: existing.ID.String(),
			Status:        existing.Status,
			Reference:     existing.Reference,
			CreatedAt:     &existing.CreatedAt,
			Message:       "Transaction already exists (idempotent)",
		}, nil
	} else if !errors.Is(err, repositories.ErrTransactionNotFound) {
		return nil, fmt.Errorf("check reference: %w", err)
	}

	decision, err := s.enforcer.CheckTransactionAgainstLimits(ctx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("limit check: %w", err)
	}
	if !decision.Allowed {
		log.Info().
			Str("user_id", req.UserID).
			Str("amount", amount.StringFixed(2)).
			Str("reason", decision.Reason).
			Msg("Transaction denied by limit enforcer")

		return &TransactionResponse{
			Status:    StatusDenied,
			Reference: req.Reference,
			Reason:    decision.Reason,
		}, nil
	}

	tx := &models.Transaction{
		UserID:    userID,
		Amount:    amount,
		Currency:  req.Currency,
		Type:      req.Type,
		Reference: req.Reference,
	}
	if err := s.txRepo.Create(ctx, tx); err != nil {
		if errors.Is(err, repositories.ErrDuplicateTransaction) {
			return nil, err
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	result, err := s.engine.EvaluateTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("evaluate transaction: %w", err)
	}

	status := s.finalStatus(result)
	if err := s.txRepo.UpdateStatus(ctx, tx.ID, status); err != nil {
		return nil, fmt.Errorf("update transaction status: %w", err)
	}

	if !result.Passed {
		s.publishReviewEvent(ctx, userID)
	}

	resp := &TransactionResponse{
		TransactionID:   tx.ID.String(),
		Status:          status,
		Reference:       tx.Reference,
		Violations:      len(result.Violations),
		AlertsGenerated: result.AlertsGenerated,
		CreatedAt:       &tx.CreatedAt,
	}
	if top := result.TopViolation(); top != nil {
		resp.Reason = top.Details
	}
	if result.Case != nil {
		resp.CaseNumber = result.Case.CaseNumber
	}

	log.Info().
		Str("transaction_id", tx.ID.String()).
		Str("user_id", req.UserID).
		Str("amount", amount.StringFixed(2)).
		Str("status", status).
		Dur("processing_time", time.Since(startTime)).
		Msg("Transaction processed")

	return resp, nil
}

func (s *Service) finalStatus(result *monitoring.EvaluationResult) string {
	switch {
	case result.BlockedByRule:
		return models.TxStatusBlocked
	case !result.Passed:
		return models.TxStatusFlagged
	default:
		return models.TxStatusCompleted
	}
}

// publishReviewEvent requests a risk profile recalculation after material
// activity. Best effort: the periodic review sweep covers missed events.
func (s *Service) publishReviewEvent(ctx context.Context, userID uuid.UUID) {
	if s.streamClient == nil {
		return
	}

	event := &models.ReviewEvent{
		UserID:    userID.String(),
		Reason:    models.ReviewReasonActivity,
		Timestamp: time.Now(),
	}
	if _, err := s.streamClient.Publish(ctx, event); err != nil {
		log.Error().Err(err).
			Str("user_id", userID.String()).
			Msg("Failed to publish review event")
	}
}

// GetTransaction retrieves a transaction by ID
func (s *Service) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	id, err := uuid.Parse(transactionID)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction_id format: %w", err)
	}

	return s.txRepo.GetByID(ctx, id)
}

// GetUserTransactions retrieves a page of a user's transactions
func (s *Service) GetUserTransactions(ctx context.Context, userID string, page, pageSize int) ([]*models.Transaction, int, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid user_id format: %w", err)
	}

	return s.txRepo.GetByUserPaginated(ctx, id, page, pageSize)
}

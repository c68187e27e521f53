package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a platform user
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Country      string     `json:"country"` // ISO 3166-1 alpha-2, may be empty
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// UserRole enum values
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleAuditor = "auditor"
)

// Transaction represents a financial transaction. Transactions are
// append-only; after creation only the status changes.
type Transaction struct {
	ID          uuid.UUID       `json:"id"`
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"` // USD-denominated
	Currency    string          `json:"currency"`
	Type        string          `json:"type"`   // deposit, withdrawal, buy, sell, transfer
	Status      string          `json:"status"` // pending, completed, cancelled, failed, flagged, blocked
	Reference   string          `json:"reference,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// TransactionType enum values
const (
	TxTypeDeposit    = "deposit"
	TxTypeWithdrawal = "withdrawal"
	TxTypeBuy        = "buy"
	TxTypeSell       = "sell"
	TxTypeTransfer   = "transfer"
)

// TransactionStatus enum values
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusCancelled = "cancelled"
	TxStatusFailed    = "failed"
	TxStatusFlagged   = "flagged"
	TxStatusBlocked   = "blocked"
)

// CountsTowardAggregates reports whether a transaction participates in
// monitoring sums and counts. Cancelled and failed transactions never do.
func (t *Transaction) CountsTowardAggregates() bool {
	return t.Status != TxStatusCancelled && t.Status != TxStatusFailed
}

// IsWithdrawalLike reports whether the transaction moves value off-platform.
func (t *Transaction) IsWithdrawalLike() bool {
	return t.Type == TxTypeWithdrawal || t.Type == TxTypeSell
}

// IsDepositLike reports whether the transaction moves value onto the platform.
func (t *Transaction) IsDepositLike() bool {
	return t.Type == TxTypeDeposit || t.Type == TxTypeBuy
}

// MonitoringRule is a declarative AML rule. Rules are data, not code: the
// Conditions payload is decoded per RuleType (see conditions.go) so new rules
// of an existing type can be added without a deploy.
type MonitoringRule struct {
	ID         uuid.UUID       `json:"id"`
	Code       string          `json:"code"` // unique, e.g. AML-001
	Name       string          `json:"name"`
	RuleType   string          `json:"rule_type"` // threshold, velocity, geography, pattern
	Conditions json.RawMessage `json:"conditions"`
	Action     string          `json:"action"`   // alert, flag, block, escalate
	Priority   int             `json:"priority"` // higher = more severe
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RuleType enum values
const (
	RuleTypeThreshold = "threshold"
	RuleTypeVelocity  = "velocity"
	RuleTypeGeography = "geography"
	RuleTypePattern   = "pattern"
)

// RuleAction enum values
const (
	ActionAlert    = "alert"
	ActionFlag     = "flag"
	ActionBlock    = "block"
	ActionEscalate = "escalate"
)

// Violation is produced per evaluation and is not persisted directly; its
// audit trail is the ScreeningLog entry written for it.
type Violation struct {
	RuleID   uuid.UUID `json:"rule_id"`
	RuleCode string    `json:"rule_code"`
	RuleName string    `json:"rule_name"`
	Action   string    `json:"action"`
	Priority int       `json:"priority"`
	Details  string    `json:"details"`
}

// RiskProfile is the continuously-maintained risk assessment for one user.
// IsSanctioned forces RiskLevel = critical and zero limits regardless of the
// weighted score.
type RiskProfile struct {
	ID              uuid.UUID       `json:"id"`
	UserID          uuid.UUID       `json:"user_id"`
	GeographyRisk   int             `json:"geography_risk"`
	DocumentRisk    int             `json:"document_risk"`
	TransactionRisk int             `json:"transaction_risk"`
	ScreeningRisk   int             `json:"screening_risk"`
	OverallScore    int             `json:"overall_score"`
	RiskLevel       string          `json:"risk_level"` // low, medium, high, critical
	IsPEP           bool            `json:"is_pep"`
	IsSanctioned    bool            `json:"is_sanctioned"`
	HasAdverseMedia bool            `json:"has_adverse_media"`
	RequiresEDD     bool            `json:"requires_edd"`
	DailyLimit      decimal.Decimal `json:"daily_limit"`
	MonthlyLimit    decimal.Decimal `json:"monthly_limit"`
	FactorTags      []string        `json:"factor_tags,omitempty"`
	LastAssessedBy  string          `json:"last_assessed_by,omitempty"`
	LastAssessedAt  *time.Time      `json:"last_assessed_at,omitempty"`
	NextReviewAt    *time.Time      `json:"next_review_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RiskLevel enum values
const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// Case is an investigation opened for an escalating or blocking violation.
type Case struct {
	ID             uuid.UUID  `json:"id"`
	CaseNumber     string     `json:"case_number"`
	UserID         uuid.UUID  `json:"user_id"`
	CaseType       string     `json:"case_type"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"` // medium, high, critical
	TransactionID  *uuid.UUID `json:"transaction_id,omitempty"`
	TriggerDetails JSONB      `json:"trigger_details,omitempty"`
	AssignedTo     *uuid.UUID `json:"assigned_to,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// CaseType enum values
const (
	CaseTypeAMLViolation = "aml_violation"
	CaseTypeManualReview = "manual_review"
)

// CaseStatus enum values
const (
	CaseStatusOpen               = "open"
	CaseStatusUnderInvestigation = "under_investigation"
	CaseStatusClosed             = "closed"
	CaseStatusDismissed          = "dismissed"
)

// CasePriority enum values
const (
	CasePriorityMedium   = "medium"
	CasePriorityHigh     = "high"
	CasePriorityCritical = "critical"
)

// CaseActivity is one append-only entry in a case's activity log.
type CaseActivity struct {
	ID           uuid.UUID  `json:"id"`
	CaseID       uuid.UUID  `json:"case_id"`
	ActivityType string     `json:"activity_type"` // created, note, status_change, assigned
	Description  string     `json:"description"`
	PerformedBy  *uuid.UUID `json:"performed_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// CaseActivityType enum values
const (
	ActivityCreated      = "created"
	ActivityNote         = "note"
	ActivityStatusChange = "status_change"
	ActivityAssigned     = "assigned"
)

// ScreeningLog is the immutable per-violation audit record. One entry is
// written for every violation found, whether or not it escalated to a case.
type ScreeningLog struct {
	ID            uuid.UUID  `json:"id"`
	UserID        uuid.UUID  `json:"user_id"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	RuleCode      string     `json:"rule_code"`
	MatchFound    bool       `json:"match_found"`
	MatchScore    int        `json:"match_score"`
	MatchDetails  string     `json:"match_details"`
	Flags         []string   `json:"flags,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// KYCSubmission is the identity-verification record consumed by the risk
// factor calculators. Screening booleans are pre-computed inputs; the engine
// performs no live sanctions/PEP lookups.
type KYCSubmission struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	Status            string     `json:"status"` // approved, rejected, in_progress, pending_review
	Tier              int        `json:"tier"`
	DocumentCount     int        `json:"document_count"`
	IdentityExpiresAt *time.Time `json:"identity_expires_at,omitempty"`
	IsPEP             bool       `json:"is_pep"`
	IsSanctioned      bool       `json:"is_sanctioned"`
	HasAdverseMedia   bool       `json:"has_adverse_media"`
	ScreeningStatus   string     `json:"screening_status"` // clear, pending, match_found, manual_review, escalated
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// KYCStatus enum values
const (
	KYCStatusApproved      = "approved"
	KYCStatusRejected      = "rejected"
	KYCStatusInProgress    = "in_progress"
	KYCStatusPendingReview = "pending_review"
)

// ScreeningStatus enum values
const (
	ScreeningStatusClear        = "clear"
	ScreeningStatusPending      = "pending"
	ScreeningStatusMatchFound   = "match_found"
	ScreeningStatusManualReview = "manual_review"
	ScreeningStatusEscalated    = "escalated"
)

// ReviewEvent is published to Redis Streams when a user's risk profile
// should be recalculated (KYC change, periodic review, material activity).
type ReviewEvent struct {
	UserID     string    `json:"user_id"`
	Reason     string    `json:"reason"` // kyc_change, periodic, activity, manual
	AssessedBy string    `json:"assessed_by,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
}

// ReviewReason enum values
const (
	ReviewReasonKYCChange = "kyc_change"
	ReviewReasonPeriodic  = "periodic"
	ReviewReasonActivity  = "activity"
	ReviewReasonManual    = "manual"
)

// ParseAmount parses a decimal amount string, defaulting to zero when the
// value is missing or unparseable rather than propagating an error.
func ParseAmount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Pagination represents pagination parameters
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// PaginatedResponse wraps paginated results
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

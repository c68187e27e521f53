package cases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/compliance-engine/internal/models"
)

// Case priority is derived from the triggering rule's priority.
const (
	criticalPriorityFloor = 9
	highPriorityFloor     = 7
)

// CaseStore is the persistence surface the writer needs.
type CaseStore interface {
	Create(ctx context.Context, c *models.Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Case, error)
	Update(ctx context.Context, c *models.Case) error
	CountCreatedOn(ctx context.Context, day time.Time) (int, error)
	AddActivity(ctx context.Context, activity *models.CaseActivity) error
}

// ScreeningStore appends immutable screening log entries.
type ScreeningStore interface {
	Create(ctx context.Context, entry *models.ScreeningLog) error
}

// Writer creates investigation cases, appends case activity and writes
// screening log entries.
type Writer struct {
	cases     CaseStore
	screening ScreeningStore
}

// NewWriter creates a case writer.
func NewWriter(cases CaseStore, screening ScreeningStore) *Writer {
	return &Writer{cases: cases, screening: screening}
}

// OpenCase opens an investigation case for a violation and records the
// initial "created" activity entry.
func (w *Writer) OpenCase(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, violation *models.Violation) (*models.Case, error) {
	now := time.Now()

	caseNumber, err := w.nextCaseNumber(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("generate case number: %w", err)
	}

	c := &models.Case{
		CaseNumber:    caseNumber,
		UserID:        userID,
		CaseType:      models.CaseTypeAMLViolation,
		Status:        models.CaseStatusOpen,
		Priority:      priorityForRule(violation.Priority),
		TransactionID: transactionID,
		TriggerDetails: models.JSONB{
			"rule_id":   violation.RuleID.String(),
			"rule_code": violation.RuleCode,
			"rule_name": violation.RuleName,
			"action":    violation.Action,
			"priority":  violation.Priority,
			"details":   violation.Details,
		},
	}

	if err := w.cases.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}

	activity := &models.CaseActivity{
		CaseID:       c.ID,
		ActivityType: models.ActivityCreated,
		Description:  fmt.Sprintf("Case opened by rule %s (%s): %s", violation.RuleCode, violation.RuleName, violation.Details),
	}
	if err := w.cases.AddActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("record case activity: %w", err)
	}

	log.Info().
		Str("case_number", c.CaseNumber).
		Str("user_id", userID.String()).
		Str("rule_code", violation.RuleCode).
		Str("priority", c.Priority).
		Msg("Investigation case opened")

	return c, nil
}

// WriteScreeningLog appends the audit entry for one violation. The match
// score scales with the rule priority.
func (w *Writer) WriteScreeningLog(ctx context.Context, userID uuid.UUID, transactionID *uuid.UUID, violation *models.Violation, escalated bool) error {
	flags := []string{violation.Action}
	if escalated {
		flags = append(flags, "case_opened")
	}

	entry := &models.ScreeningLog{
		UserID:        userID,
		TransactionID: transactionID,
		RuleCode:      violation.RuleCode,
		MatchFound:    true,
		MatchScore:    violation.Priority * 10,
		MatchDetails:  violation.Details,
		Flags:         flags,
	}

	if err := w.screening.Create(ctx, entry); err != nil {
		return fmt.Errorf("write screening log: %w", err)
	}

	return nil
}

// AppendNote adds a free-form note to a case.
func (w *Writer) AppendNote(ctx context.Context, caseID uuid.UUID, note string, performedBy *uuid.UUID) error {
	activity := &models.CaseActivity{
		CaseID:       caseID,
		ActivityType: models.ActivityNote,
		Description:  note,
		PerformedBy:  performedBy,
	}
	return w.cases.AddActivity(ctx, activity)
}

// Transition moves a case to a new status, recording the change in the
// activity log. Closed and dismissed are terminal.
func (w *Writer) Transition(ctx context.Context, caseID uuid.UUID, newStatus string, performedBy *uuid.UUID) (*models.Case, error) {
	c, err := w.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if !validTransition(c.Status, newStatus) {
		return nil, fmt.Errorf("invalid case transition %s -> %s", c.Status, newStatus)
	}

	previous := c.Status
	c.Status = newStatus
	if newStatus == models.CaseStatusClosed || newStatus == models.CaseStatusDismissed {
		now := time.Now()
		c.ClosedAt = &now
	}

	if err := w.cases.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update case: %w", err)
	}

	activity := &models.CaseActivity{
		CaseID:       c.ID,
		ActivityType: models.ActivityStatusChange,
		Description:  fmt.Sprintf("Status changed from %s to %s", previous, newStatus),
		PerformedBy:  performedBy,
	}
	if err := w.cases.AddActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("record case activity: %w", err)
	}

	return c, nil
}

// Assign sets the case owner.
func (w *Writer) Assign(ctx context.Context, caseID, assignee uuid.UUID, performedBy *uuid.UUID) (*models.Case, error) {
	c, err := w.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	c.AssignedTo = &assignee
	if err := w.cases.Update(ctx, c); err != nil {
		return nil, fmt.Errorf("update case: %w", err)
	}

	activity := &models.CaseActivity{
		CaseID:       c.ID,
		ActivityType: models.ActivityAssigned,
		Description:  fmt.Sprintf("Case assigned to %s", assignee),
		PerformedBy:  performedBy,
	}
	if err := w.cases.AddActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("record case activity: %w", err)
	}

	return c, nil
}

func (w *Writer) nextCaseNumber(ctx context.Context, now time.Time) (string, error) {
	count, err := w.cases.CountCreatedOn(ctx, now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("AML-%s-%04d", now.Format("20060102"), count+1), nil
}

func priorityForRule(rulePriority int) string {
	switch {
	case rulePriority >= criticalPriorityFloor:
		return models.CasePriorityCritical
	case rulePriority >= highPriorityFloor:
		return models.CasePriorityHigh
	default:
		return models.CasePriorityMedium
	}
}

var transitions = map[string][]string{
	models.CaseStatusOpen:               {models.CaseStatusUnderInvestigation, models.CaseStatusDismissed},
	models.CaseStatusUnderInvestigation: {models.CaseStatusClosed, models.CaseStatusDismissed},
}

func validTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Rule conditions are stored as a JSON document per rule but decoded into a
// typed variant selected by the rule's type, so evaluators never reach into
// an untyped map.

// ThresholdCondition configures threshold rules. A zero TimeWindowHours means
// the incoming transaction is checked on its own; otherwise the window sum
// (incoming plus qualifying history) is checked.
type ThresholdCondition struct {
	AmountThreshold decimal.Decimal `json:"amount_threshold"`
	Currency        string          `json:"currency,omitempty"`
	TimeWindowHours int             `json:"time_window_hours,omitempty"`
}

// VelocityCondition configures velocity rules: at most MaxTransactions
// qualifying transactions (including the incoming one) per window.
type VelocityCondition struct {
	MaxTransactions int `json:"max_transactions"`
	TimeWindowHours int `json:"time_window_hours"`
}

// GeographyCondition configures geography rules.
type GeographyCondition struct {
	HighRiskCountries []string `json:"high_risk_countries"`
}

// Pattern enum values
const (
	PatternStructuring     = "structuring"
	PatternWithdrawalRatio = "withdrawal_ratio"
)

// PatternCondition configures pattern rules. For structuring, MinAmount and
// MaxAmount bound the band and MinCount is the trigger count. For
// withdrawal_ratio, MaxRatio is the withdrawals/deposits trigger ratio.
type PatternCondition struct {
	Pattern         string          `json:"pattern"`
	TimeWindowHours int             `json:"time_window_hours"`
	MinAmount       decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount       decimal.Decimal `json:"max_amount,omitempty"`
	MinCount        int             `json:"min_count,omitempty"`
	MaxRatio        float64         `json:"max_ratio,omitempty"`
}

// RuleConditions is the decoded sum type: exactly one variant is non-nil,
// matching the rule's type.
type RuleConditions struct {
	Threshold *ThresholdCondition
	Velocity  *VelocityCondition
	Geography *GeographyCondition
	Pattern   *PatternCondition
}

// DecodeConditions parses a rule's condition payload into the variant for its
// type. Unknown rule types are an error so misconfigured rules fail loudly at
// load time instead of silently never firing.
func DecodeConditions(ruleType string, raw json.RawMessage) (*RuleConditions, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty conditions for rule type %q", ruleType)
	}

	switch ruleType {
	case RuleTypeThreshold:
		var c ThresholdCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode threshold conditions: %w", err)
		}
		return &RuleConditions{Threshold: &c}, nil
	case RuleTypeVelocity:
		var c VelocityCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode velocity conditions: %w", err)
		}
		return &RuleConditions{Velocity: &c}, nil
	case RuleTypeGeography:
		var c GeographyCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode geography conditions: %w", err)
		}
		return &RuleConditions{Geography: &c}, nil
	case RuleTypePattern:
		var c PatternCondition
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode pattern conditions: %w", err)
		}
		if c.Pattern != PatternStructuring && c.Pattern != PatternWithdrawalRatio {
			return nil, fmt.Errorf("unknown pattern %q", c.Pattern)
		}
		return &RuleConditions{Pattern: &c}, nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", ruleType)
	}
}

// MustConditions is a seed-time helper that marshals a condition struct,
// panicking on failure. Only used with static catalog definitions.
func MustConditions(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

package domain

import (
	"time"
)

// Decision is the machine-readable outcome of a scoring call.
type Decision string

// Decisions in priority order. DecisionError is not part of the priority law;
// it is reported when scaling or scoring fails.
const (
	DecisionFraudAlert Decision = "FRAUD_ALERT"
	DecisionSuspicious Decision = "SUSPICIOUS"
	DecisionNormal     Decision = "NORMAL"
	DecisionError      Decision = "ERROR"
)

// Label returns the fixed display label for the decision.
func (d Decision) Label() string {
	switch d {
	case DecisionFraudAlert:
		return "🚨 Fraud Alert! (ML detected)"
	case DecisionSuspicious:
		return "⚠ Suspicious (rule-based warning)"
	case DecisionNormal:
		return "✅ Looks normal"
	default:
		return "Error"
	}
}

// IsAlert reports whether the decision should raise an alert.
func (d Decision) IsAlert() bool {
	return d == DecisionFraudAlert
}

// Evaluation is the complete record of one scoring call.
type Evaluation struct {
	ID        string           `json:"id"`
	SessionID string           `json:"sessionId"`
	Timestamp time.Time        `json:"timestamp"`
	Input     TransactionInput `json:"input"`

	Decision     Decision `json:"decision"`
	Label        string   `json:"label"`
	AnomalyScore float64  `json:"anomalyScore"`
	ModelFlag    bool     `json:"modelFlag"`
	Threshold    float64  `json:"threshold"`
	Reasons      []string `json:"reasons"`

	// Display messages.
	ScoreMessage string `json:"scoreMessage"`
	RuleMessage  string `json:"ruleMessage"`

	// Error holds the failure detail when Decision is DecisionError.
	Error string `json:"error,omitempty"`

	Metadata EvaluationMetadata `json:"metadata"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID       string `json:"traceId"`
	RulesMs       int64  `json:"rulesMs"`
	ScoringMs     int64  `json:"scoringMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// Failed reports whether the scaling or scoring stage failed.
func (e *Evaluation) Failed() bool {
	return e.Decision == DecisionError
}

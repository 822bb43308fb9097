// Package decision combines the anomaly model's verdict with the rule
// finding into a single outcome.
package decision

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const scoreMessageFormat = "Anomaly score: %.4f (lower = more suspicious)"

// Score is the anomaly model's output for one transaction.
type Score struct {
	// AnomalyScore is lower for more anomalous transactions.
	AnomalyScore float64

	// ModelFlag is true when the model classified the transaction as an outlier.
	ModelFlag bool

	// Threshold is the caller's sensitivity in [-1.0, 0.0].
	Threshold float64
}

// Outcome is the combined decision plus its display messages.
type Outcome struct {
	Decision     domain.Decision
	Label        string
	ScoreMessage string
	RuleMessage  string
	Reasons      []string

	// Error is set only for domain.DecisionError.
	Error error
}

// Failed reports whether the outcome is an error outcome.
func (o Outcome) Failed() bool {
	return o.Decision == domain.DecisionError
}

// Combiner applies the decision priority: model signal, then rules, then normal.
type Combiner struct{}

// NewCombiner creates a new decision combiner.
func NewCombiner() *Combiner {
	return &Combiner{}
}

// Combine produces the decision for a successful scoring.
func (c *Combiner) Combine(s Score, f rules.Finding) Outcome {
	var d domain.Decision
	switch {
	case s.ModelFlag || s.AnomalyScore < s.Threshold:
		d = domain.DecisionFraudAlert
	case !f.Empty():
		d = domain.DecisionSuspicious
	default:
		d = domain.DecisionNormal
	}

	return Outcome{
		Decision:     d,
		Label:        d.Label(),
		ScoreMessage: fmt.Sprintf(scoreMessageFormat, s.AnomalyScore),
		RuleMessage:  f.Message(),
		Reasons:      f.Tags(),
	}
}

// Fail produces the error outcome. The rule finding was computed before the
// failing stage and is still reported.
func (c *Combiner) Fail(err error, f rules.Finding) Outcome {
	return Outcome{
		Decision:     domain.DecisionError,
		Label:        domain.DecisionError.Label(),
		ScoreMessage: "Failed: " + err.Error(),
		RuleMessage:  f.Message(),
		Reasons:      f.Tags(),
		Error:        err,
	}
}

// ShouldAlert returns true if the outcome should trigger an alert.
func ShouldAlert(o Outcome) bool {
	return o.Decision.IsAlert()
}

package domain

// RuleConfig defines a heuristic rule.
type RuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// CEL expression to evaluate; must return bool
	Expression string `json:"expression" yaml:"expression"`

	// Tag reported when the expression is true
	Tag string `json:"tag" yaml:"tag"`

	// Whether rule is active
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Rule tags in fixed evaluation order.
const (
	TagHighAmount    = "high amount"
	TagStrangeTime   = "strange time"
	TagInternational = "international"
)

// Package rules provides the CEL-Go based heuristic rule engine.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	messagePrefix   = "⚠ Suspicious pattern: "
	messageNone     = "(no suspicious rules triggered)"
	warningNone     = "(normal)"
	reasonSeparator = " / "
)

// BuiltinRules returns the default heuristic rules in evaluation order.
func BuiltinRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          "high-amount",
			Name:        "High Amount",
			Description: "Transaction amount above 50,000",
			Expression:  "amount > 50000.0",
			Tag:         domain.TagHighAmount,
			Enabled:     true,
		},
		{
			ID:          "unusual-hour",
			Name:        "Unusual Hour",
			Description: "Transaction between 23:00 and 05:59",
			Expression:  "hour < 6 || hour > 22",
			Tag:         domain.TagStrangeTime,
			Enabled:     true,
		},
		{
			ID:          "international",
			Name:        "International",
			Description: "Transaction flagged as international",
			Expression:  "is_international",
			Tag:         domain.TagInternational,
			Enabled:     true,
		},
	}
}

// Engine is the CEL-based rule evaluation engine. Rules are evaluated in
// the order they were loaded.
type Engine struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules []*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine with no rules loaded.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("distance", cel.DoubleType),
		cel.Variable("is_international", cel.BoolType),
		cel.Variable("is_pin_used", cel.BoolType),
		cel.Variable("is_chip_used", cel.BoolType),
		cel.Variable("merchant", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// NewDefaultEngine creates an engine loaded with BuiltinRules.
func NewDefaultEngine() (*Engine, error) {
	e, err := NewEngine()
	if err != nil {
		return nil, err
	}
	if err := e.LoadRules(BuiltinRules()); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles a rule and appends it to the evaluation order.
// Loading an ID that is already present replaces it in place.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	// Copy on write: Evaluate iterates a snapshot without holding the lock.
	next := make([]*CompiledRule, 0, len(e.rules)+1)
	replaced := false
	for _, r := range e.rules {
		if r.Config.ID == cfg.ID {
			r = compiled
			replaced = true
		}
		next = append(next, r)
	}
	if !replaced {
		next = append(next, compiled)
	}
	e.rules = next

	return nil
}

// LoadRules compiles and loads multiple rules, skipping disabled ones.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules replaces all loaded rules atomically.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make([]*CompiledRule, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		next = append(next, compiled)
	}

	e.rules = next
	return nil
}

// Evaluate runs every loaded rule against the raw transaction and returns
// the tags of the rules that fired, in rule order. A rule that fails at
// runtime does not stop the others; the returned Finding holds the tags of
// the rules that did fire and the error joins every failure.
func (e *Engine) Evaluate(tx *domain.TransactionInput) (Finding, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	activation := map[string]any{
		"amount":           tx.Amount,
		"hour":             int64(tx.HourOfDay),
		"distance":         tx.DistanceFromHome,
		"is_international": tx.IsInternational,
		"is_pin_used":      tx.IsPinUsed,
		"is_chip_used":     tx.IsChipUsed,
		"merchant":         tx.MerchantCategory,
	}

	var tags []string
	var errs []error
	for _, r := range rules {
		out, _, err := r.Program.Eval(activation)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: evaluation error: %w", r.Config.ID, err))
			continue
		}
		if out == types.True {
			tags = append(tags, r.Config.Tag)
		}
	}

	return Finding{tags: tags}, errors.Join(errs...)
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the loaded rule configurations in evaluation order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RuleConfig, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.Config)
	}
	return out
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule ID is required")
	}
	if cfg.Tag == "" {
		return nil, fmt.Errorf("rule %s: tag is required", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

// Finding is the ordered list of rule tags that fired for one transaction.
type Finding struct {
	tags []string
}

// NewFinding builds a finding from tags.
func NewFinding(tags ...string) Finding {
	if len(tags) == 0 {
		return Finding{}
	}
	return Finding{tags: append([]string(nil), tags...)}
}

// Tags returns a copy of the fired tags.
func (f Finding) Tags() []string {
	if len(f.tags) == 0 {
		return []string{}
	}
	return append([]string(nil), f.tags...)
}

// Empty reports whether no rule fired.
func (f Finding) Empty() bool {
	return len(f.tags) == 0
}

// Message is the user-facing rule warning.
func (f Finding) Message() string {
	if f.Empty() {
		return messageNone
	}
	return messagePrefix + strings.Join(f.tags, reasonSeparator)
}

// Warning is the history-table form: joined tags, or "(normal)".
func (f Finding) Warning() string {
	if f.Empty() {
		return warningNone
	}
	return strings.Join(f.tags, reasonSeparator)
}

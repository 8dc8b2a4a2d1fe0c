// Package rules provides the deterministic forensic rules and the CEL-Go based
// evaluator for tenant-defined rules.
package rules

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/osprey-forensics/internal/domain"
)

// Thresholds parameterize the amount rules.
type Thresholds struct {
	Round      float64
	HighAmount float64
}

// DefaultThresholds returns the standard amount thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Round: 500, HighAmount: 5000}
}

// Engine is the rule evaluation engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	builtin       []*CompiledRule
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a rule engine with the builtin amount rules compiled.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("is_integral", cel.BoolType),
		cel.Variable("has_amount", cel.BoolType),
		cel.Variable("entity", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("iforest_score", cel.DoubleType),
		cel.Variable("lof_score", cel.DoubleType),
		cel.Variable("round_threshold", cel.DoubleType),
		cel.Variable("high_amount_threshold", cel.DoubleType),
		cel.Variable("fields", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}
	for _, cfg := range BuiltinRules() {
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return nil, err
		}
		e.builtin = append(e.builtin, compiled)
	}
	return e, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", domain.ErrInvalidInput)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}
	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads the enabled rules.
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

// ReloadRules replaces all custom rules. On error the previous set stays loaded.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the loaded custom rule configurations ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	rules := e.custom()
	out := make([]*domain.RuleConfig, len(rules))
	for i, r := range rules {
		out[i] = r.Config
	}
	return out
}

// RulesCount returns the number of loaded custom rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Close unloads all custom rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

// Evaluate runs every rule over the frame. Alerts are grouped by rule family
// (duplicates, round, high value, travel, custom) and in row order within a
// group. Rules whose columns are missing are skipped.
func (e *Engine) Evaluate(frame *domain.Frame, th Thresholds) []domain.Alert {
	if frame == nil || frame.Len() == 0 {
		return nil
	}

	alerts := Duplicates(frame)

	activations := make([]map[string]any, frame.Len())
	for i, r := range frame.Records {
		activations[i] = activation(r, frame.Columns.Entity(), th)
	}

	if frame.Has(frame.Columns.Amount) {
		for _, rule := range e.builtin {
			for i, r := range frame.Records {
				if match(rule, activations[i]) {
					alerts = append(alerts, builtinAlert(rule.Config, r))
				}
			}
		}
	}

	alerts = append(alerts, ImpossibleTravel(frame)...)

	custom := e.custom()
	failures := make([]int, len(custom))
	for i, r := range frame.Records {
		for j, rule := range custom {
			out, _, err := rule.Program.Eval(activations[i])
			if err != nil {
				failures[j]++
				continue
			}
			if out == types.True {
				alerts = append(alerts, domain.Alert{
					TxID:     r.TxID,
					Type:     domain.AlertCustom,
					Severity: rule.Config.Severity,
					Note:     customNote(rule.Config),
					RuleID:   rule.Config.ID,
				})
			}
		}
	}
	for j, n := range failures {
		if n > 0 {
			slog.Warn("custom rule failed on some rows",
				"rule_id", custom[j].Config.ID,
				"failures", n,
			)
		}
	}

	return alerts
}

func (e *Engine) custom() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, r := range e.compiledRules {
		rules = append(rules, r)
	}
	e.mu.RUnlock()

	slices.SortFunc(rules, func(a, b *CompiledRule) int {
		return strings.Compare(a.Config.ID, b.Config.ID)
	})
	return rules
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", domain.ErrInvalidInput, cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, got %s", domain.ErrInvalidInput, cfg.ID, ast.OutputType())
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

func match(rule *CompiledRule, vars map[string]any) bool {
	out, _, err := rule.Program.Eval(vars)
	return err == nil && out == types.True
}

// activation binds the CEL variables for one record.
func activation(r *domain.Record, entityColumn string, th Thresholds) map[string]any {
	fields := r.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	return map[string]any{
		"amount":                r.AmountValue(),
		"is_integral":           r.Amount.Valid && r.Amount.Decimal.IsInteger(),
		"has_amount":            r.Amount.Valid,
		"entity":                r.Field(entityColumn),
		"hour":                  int64(r.Features.Hour),
		"weekday":               int64(r.Features.Weekday),
		"risk_score":            r.RiskScore,
		"iforest_score":         r.Scores[domain.ScoreIsolationForest],
		"lof_score":             r.Scores[domain.ScoreLOF],
		"round_threshold":       th.Round,
		"high_amount_threshold": th.HighAmount,
		"fields":                fields,
	}
}

// formatAmount renders an amount with thousands separators and two decimals.
func formatAmount(f float64) string {
	return "$" + humanize.FormatFloat("#,###.##", f)
}

func customNote(cfg *domain.RuleConfig) string {
	if cfg.Description != "" {
		return cfg.Name + ": " + cfg.Description
	}
	return cfg.Name
}

// Package rules provides the CEL-Go based segmentation rule engine.
package rules

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/domain"
)

// Engine maps score triples to segments. Every rule is compiled once and
// evaluated over the whole {1..q}³ grid up front, so Classify is a table
// lookup and an Engine is safe for concurrent use.
type Engine struct {
	rules     []domain.SegmentRule
	quantiles int
	table     []domain.Segment
	claimed   []int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    domain.SegmentRule
	Program cel.Program
}

// RuleCoverage reports how many score triples a rule claims as first match.
type RuleCoverage struct {
	Name    string         `json:"name"`
	Label   domain.Segment `json:"label"`
	Triples int            `json:"triples"`
}

// NewEnv creates the CEL environment rules are compiled against.
func NewEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("r", cel.IntType),
		cel.Variable("f", cel.IntType),
		cel.Variable("m", cel.IntType),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to create CEL environment")
	}
	return env, nil
}

// NewEngine compiles rules for scores in 1..quantiles. It fails with a
// configuration error when the list is empty, a rule does not compile to a
// boolean, a label is outside the segment enumeration, or the final rule
// does not match every triple.
func NewEngine(rules []domain.SegmentRule, quantiles int) (*Engine, error) {
	if err := domain.CheckQuantileCount(quantiles); err != nil {
		return nil, err
	}
	compiled, err := Compile(rules)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		rules:     make([]domain.SegmentRule, len(compiled)),
		quantiles: quantiles,
		table:     make([]domain.Segment, quantiles*quantiles*quantiles),
		claimed:   make([]int, len(compiled)),
	}
	for i, c := range compiled {
		e.rules[i] = c.Rule
	}

	last := compiled[len(compiled)-1]
	for r := 1; r <= quantiles; r++ {
		for f := 1; f <= quantiles; f++ {
			for m := 1; m <= quantiles; m++ {
				ok, err := last.eval(r, f, m)
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, domain.ConfigError("final rule %q is not a catch-all: no match for r=%d f=%d m=%d", last.Rule.Name, r, f, m)
				}

				for i, c := range compiled {
					ok, err := c.eval(r, f, m)
					if err != nil {
						return nil, err
					}
					if ok {
						e.table[e.index(r, f, m)] = c.Rule.Label
						e.claimed[i]++
						break
					}
				}
			}
		}
	}

	for _, cov := range e.Coverage() {
		if cov.Triples == 0 {
			zap.L().Warn("segment rule is unreachable",
				zap.String("rule", cov.Name),
				zap.String("label", string(cov.Label)),
				zap.Int("quantiles", quantiles),
			)
		}
	}
	return e, nil
}

// Compile checks and compiles every rule in order.
func Compile(rules []domain.SegmentRule) ([]*CompiledRule, error) {
	if len(rules) == 0 {
		return nil, domain.ConfigError("segment_rules must not be empty")
	}
	env, err := NewEnv()
	if err != nil {
		return nil, err
	}

	out := make([]*CompiledRule, 0, len(rules))
	for i, rule := range rules {
		if rule.Name == "" {
			rule.Name = string(rule.Label)
		}
		if !rule.Label.Valid() {
			return nil, domain.ConfigError("rule %d (%s): unknown segment label %q", i+1, rule.Name, rule.Label)
		}
		c, err := compileRule(env, rule)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func compileRule(env *cel.Env, rule domain.SegmentRule) (*CompiledRule, error) {
	expr := strings.TrimSpace(rule.Expression)
	if expr == "" {
		return nil, domain.ConfigError("rule %s: expression is empty", rule.Name)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, domain.ConfigError("failed to compile rule %s: %v", rule.Name, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, domain.ConfigError("rule %s: expression must return bool, got %s", rule.Name, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, domain.ConfigError("failed to create program for rule %s: %v", rule.Name, err)
	}

	return &CompiledRule{Rule: rule, Program: program}, nil
}

func (c *CompiledRule) eval(r, f, m int) (bool, error) {
	out, _, err := c.Program.Eval(map[string]any{
		"r": int64(r),
		"f": int64(f),
		"m": int64(m),
	})
	if err != nil {
		return false, domain.ConfigError("rule %s: evaluation error at r=%d f=%d m=%d: %v", c.Rule.Name, r, f, m, err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, domain.ConfigError("rule %s: evaluated to %v, want bool", c.Rule.Name, out.Type())
	}
	return bool(b), nil
}

func (e *Engine) index(r, f, m int) int {
	q := e.quantiles
	return ((r-1)*q+(f-1))*q + (m - 1)
}

// Classify returns the segment of the first rule matching the triple.
// Scores outside 1..q are clamped into range.
func (e *Engine) Classify(r, f, m int) domain.Segment {
	clamp := func(v int) int { return min(max(v, 1), e.quantiles) }
	return e.table[e.index(clamp(r), clamp(f), clamp(m))]
}

// Coverage reports, per rule and in rule order, how many triples it claims.
func (e *Engine) Coverage() []RuleCoverage {
	out := make([]RuleCoverage, len(e.rules))
	for i, rule := range e.rules {
		out[i] = RuleCoverage{Name: rule.Name, Label: rule.Label, Triples: e.claimed[i]}
	}
	return out
}

// Rules returns the rule list in evaluation order.
func (e *Engine) Rules() []domain.SegmentRule {
	out := make([]domain.SegmentRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Quantiles returns the score range the engine was built for.
func (e *Engine) Quantiles() int {
	return e.quantiles
}

// DefaultRules returns the standard retail segmentation, most specific first.
func DefaultRules() []domain.SegmentRule {
	return []domain.SegmentRule{
		{
			Name:        "champions",
			Label:       domain.SegmentChampions,
			Expression:  "r >= 4 && f >= 4 && m >= 4",
			Description: "Bought recently, buy often and spend the most",
		},
		{
			Name:        "loyal",
			Label:       domain.SegmentLoyal,
			Expression:  "r >= 3 && f >= 3",
			Description: "Buy regularly and came back recently",
		},
		{
			Name:        "new_customers",
			Label:       domain.SegmentNewCustomers,
			Expression:  "r >= 4 && f <= 2",
			Description: "Bought recently but only once or twice",
		},
		{
			Name:        "at_risk",
			Label:       domain.SegmentAtRisk,
			Expression:  "r <= 2 && f >= 3",
			Description: "Used to buy often but have not returned for a while",
		},
		{
			Name:        "lost",
			Label:       domain.SegmentLost,
			Expression:  "r <= 2 && f <= 2",
			Description: "Lowest recency and frequency",
		},
		{
			Name:        "promising",
			Label:       domain.SegmentPromising,
			Expression:  domain.CatchAllExpression,
			Description: "Everyone else",
		},
	}
}

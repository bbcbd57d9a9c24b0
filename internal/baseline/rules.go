// Package baseline provides the two reference scorers the graph classifier
// is measured against: a weighted CEL rule set and a logistic regression.
package baseline

import (
	"fmt"
	"math"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/harrier/internal/features"
)

// Rule is one weighted CEL predicate over the feature map f.
type Rule struct {
	Name   string
	Expr   string
	Weight float64
}

// DefaultRules returns the production rule set. Count-like features are
// stored log1p-transformed, so count thresholds are transformed the same
// way. The pass_through band also operates on the stored in_out_ratio
// value, which is log1p-transformed like every other ratio column.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "many_outgoing",
			Expr:   fmt.Sprintf(`f["num_sent"] > %v`, math.Log1p(30)),
			Weight: 0.12,
		},
		{
			Name:   "geo_spread",
			Expr:   `f["geo_diversity"] > 3.0`,
			Weight: 0.15,
		},
		{
			Name:   "pass_through",
			Expr:   `f["in_out_ratio"] >= 0.85 && f["in_out_ratio"] <= 1.20`,
			Weight: 0.18,
		},
		{
			Name:   "flagged_activity",
			Expr:   fmt.Sprintf(`f["risk_flag_count"] > %v`, math.Log1p(1)),
			Weight: 0.20,
		},
		{
			Name:   "risky_country",
			Expr:   `f["country_risk"] > 0.5`,
			Weight: 0.15,
		},
		{
			Name:   "mule_or_shell",
			Expr:   `f["entity_type_enc"] >= 2.0`,
			Weight: 0.15,
		},
		{
			Name:   "bursty_timing",
			Expr:   `f["burstiness"] > 1.5`,
			Weight: 0.05,
		},
	}
}

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// RuleScorer evaluates a compiled weighted rule set against feature rows.
type RuleScorer struct {
	rules []compiledRule
}

// NewRuleScorer compiles the rule expressions. Compilation errors surface
// here, never at scoring time.
func NewRuleScorer(rules []Rule) (*RuleScorer, error) {
	env, err := cel.NewEnv(
		cel.Variable("f", cel.MapType(cel.StringType, cel.DoubleType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	s := &RuleScorer{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", r.Name, issues.Err())
		}
		prog, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("build program for rule %q: %w", r.Name, err)
		}
		s.rules = append(s.rules, compiledRule{rule: r, program: prog})
	}
	return s, nil
}

// Score returns one risk score per feature row: the sum of the weights of
// the rules whose predicate holds, clamped to [0, 1].
func (s *RuleScorer) Score(x *mat.Dense) []float64 {
	n, _ := x.Dims()
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		scores[i], _ = s.ScoreRow(x.RawRowView(i))
	}
	return scores
}

// ScoreRow scores a single feature vector and reports which rules fired.
func (s *RuleScorer) ScoreRow(row []float64) (float64, []string) {
	f := make(map[string]any, len(features.Names))
	for j, name := range features.Names {
		f[name] = row[j]
	}
	activation := map[string]any{"f": f}

	var score float64
	var fired []string
	for _, cr := range s.rules {
		out, _, err := cr.program.Eval(activation)
		if err != nil {
			continue
		}
		if b, ok := out.(types.Bool); ok && bool(b) {
			score += cr.rule.Weight
			fired = append(fired, cr.rule.Name)
		}
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, fired
}

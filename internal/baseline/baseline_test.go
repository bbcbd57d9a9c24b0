package baseline

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/harrier/internal/features"
)

func featureRow(vals map[string]float64) []float64 {
	row := make([]float64, features.Width)
	for j, name := range features.Names {
		row[j] = vals[name]
	}
	return row
}

func TestRuleScorer_IndividualRules(t *testing.T) {
	s, err := NewRuleScorer(DefaultRules())
	if err != nil {
		t.Fatalf("NewRuleScorer: %v", err)
	}

	tests := []struct {
		name     string
		vals     map[string]float64
		wantRule string
		want     float64
	}{
		{
			name:     "many outgoing transfers",
			vals:     map[string]float64{"num_sent": math.Log1p(31)},
			wantRule: "many_outgoing",
			want:     0.12,
		},
		{
			name:     "geographic spread",
			vals:     map[string]float64{"geo_diversity": 4},
			wantRule: "geo_spread",
			want:     0.15,
		},
		{
			name:     "pass-through flow",
			vals:     map[string]float64{"in_out_ratio": 1.0},
			wantRule: "pass_through",
			want:     0.18,
		},
		{
			name:     "flagged activity",
			vals:     map[string]float64{"risk_flag_count": math.Log1p(2)},
			wantRule: "flagged_activity",
			want:     0.20,
		},
		{
			name:     "risky country",
			vals:     map[string]float64{"country_risk": 0.9},
			wantRule: "risky_country",
			want:     0.15,
		},
		{
			name:     "mule entity category",
			vals:     map[string]float64{"entity_type_enc": 2},
			wantRule: "mule_or_shell",
			want:     0.15,
		},
		{
			name:     "bursty timing",
			vals:     map[string]float64{"burstiness": 2.0},
			wantRule: "bursty_timing",
			want:     0.05,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			score, fired := s.ScoreRow(featureRow(tc.vals))
			if math.Abs(score-tc.want) > 1e-9 {
				t.Errorf("Score = %f, want %f", score, tc.want)
			}
			if len(fired) != 1 || fired[0] != tc.wantRule {
				t.Errorf("Fired = %v, want [%s]", fired, tc.wantRule)
			}
		})
	}
}

func TestRuleScorer_BoundariesDoNotFire(t *testing.T) {
	s, err := NewRuleScorer(DefaultRules())
	if err != nil {
		t.Fatalf("NewRuleScorer: %v", err)
	}
	// Strict thresholds: equality does not fire, and a ratio outside the
	// band does not fire.
	score, fired := s.ScoreRow(featureRow(map[string]float64{
		"num_sent":        math.Log1p(30),
		"geo_diversity":   3,
		"in_out_ratio":    1.3,
		"risk_flag_count": math.Log1p(1),
		"country_risk":    0.5,
		"entity_type_enc": 1,
		"burstiness":      1.5,
	}))
	if score != 0 || len(fired) != 0 {
		t.Errorf("Score = %f fired %v, want no rules at the boundaries", score, fired)
	}
}

func TestRuleScorer_AllRulesClampToOne(t *testing.T) {
	s, err := NewRuleScorer(DefaultRules())
	if err != nil {
		t.Fatalf("NewRuleScorer: %v", err)
	}
	score, fired := s.ScoreRow(featureRow(map[string]float64{
		"num_sent":        math.Log1p(100),
		"geo_diversity":   10,
		"in_out_ratio":    1.0,
		"risk_flag_count": math.Log1p(5),
		"country_risk":    0.9,
		"entity_type_enc": 3,
		"burstiness":      5,
	}))
	if len(fired) != len(DefaultRules()) {
		t.Errorf("Fired %d rules, want all %d", len(fired), len(DefaultRules()))
	}
	if score > 1 {
		t.Errorf("Score = %f, want clamped to 1", score)
	}
}

func TestRuleScorer_ScoreMatrix(t *testing.T) {
	s, err := NewRuleScorer(DefaultRules())
	if err != nil {
		t.Fatalf("NewRuleScorer: %v", err)
	}
	rows := append(
		featureRow(map[string]float64{"country_risk": 0.9}),
		featureRow(map[string]float64{})...,
	)
	x := mat.NewDense(2, features.Width, rows)
	scores := s.Score(x)
	if len(scores) != 2 {
		t.Fatalf("Score returned %d values, want 2", len(scores))
	}
	if math.Abs(scores[0]-0.15) > 1e-9 || scores[1] != 0 {
		t.Errorf("Scores = %v, want [0.15, 0]", scores)
	}
}

func TestNewRuleScorer_CompileError(t *testing.T) {
	_, err := NewRuleScorer([]Rule{{Name: "broken", Expr: `f[" unterminated`, Weight: 1}})
	if err == nil {
		t.Fatal("Expected compile error")
	}
}

func TestLogistic_SeparatesClasses(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	n := 200
	x := mat.NewDense(n, 2, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		if i%4 == 0 {
			y[i] = 1
			x.Set(i, 0, 2+rng.NormFloat64()*0.3)
		} else {
			x.Set(i, 0, -2+rng.NormFloat64()*0.3)
		}
		x.Set(i, 1, rng.NormFloat64())
	}

	l := NewLogistic()
	l.Fit(x, y)
	probs := l.Predict(x)

	correct := 0
	for i := range probs {
		pred := 0
		if probs[i] >= 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}
	if acc := float64(correct) / float64(n); acc < 0.95 {
		t.Errorf("Accuracy = %f on a separable problem, want >= 0.95", acc)
	}
}

func TestLogistic_ConstantColumnSafe(t *testing.T) {
	// A zero-variance column must not produce NaNs.
	x := mat.NewDense(4, 2, []float64{
		1, 7,
		-1, 7,
		1, 7,
		-1, 7,
	})
	l := NewLogistic()
	l.Fit(x, []int{1, 0, 1, 0})
	for _, p := range l.Predict(x) {
		if math.IsNaN(p) {
			t.Fatal("Prediction is NaN with a constant feature column")
		}
	}
}

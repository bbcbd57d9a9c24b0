// Simulation tool for running the Harrier detection pipeline end to end
// without a server.
//
// Usage:
//
//	go run cmd/simulate/main.go -mode demo -seed 42
//
// This tool:
//  1. Generates a synthetic transaction network with planted typologies
//  2. Trains the graph classifier and both baselines in memory
//  3. Compares predictions against the generator's ground truth
//  4. Prints the model comparison, confusion matrix, and top alerts
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/generator"
	"github.com/opensource-finance/harrier/internal/pipeline"
)

func main() {
	mode := flag.String("mode", domain.ModeDemo, "Run mode: demo or full")
	seed := flag.Int64("seed", 42, "Seed for generation and training")
	model := flag.String("model", "sage", "Classifier: sage or mlp")
	explainer := flag.String("explainer", "auto", "Attribution strategy: auto, boosted-path, boosted-perturb, ridge")
	epochs := flag.Int("epochs", 0, "Epoch override (0 = mode default)")
	topAlerts := flag.Int("top", 5, "Number of top alerts to print")
	verbose := flag.Bool("verbose", false, "Log training progress")
	flag.Parse()

	if *mode != domain.ModeDemo && *mode != domain.ModeFull {
		fmt.Printf("ERROR: unknown mode %q (want demo or full)\n", *mode)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	cfg := domain.DefaultPipelineConfig()
	cfg.Model = *model
	cfg.Explainer = *explainer
	if *epochs > 0 {
		cfg.EpochsDemo = *epochs
		cfg.EpochsFull = *epochs
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║           HARRIER SIMULATION - Synthetic AML Network          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nMode:       %s\n", *mode)
	fmt.Printf("Seed:       %d\n", *seed)
	fmt.Printf("Model:      %s\n", cfg.Model)
	fmt.Printf("Explainer:  %s\n", cfg.Explainer)
	fmt.Printf("Epochs:     %d\n", cfg.Epochs(*mode))
	fmt.Println()

	genStart := time.Now()
	entities, transactions, err := generator.New(*seed).Generate(*mode)
	if err != nil {
		fmt.Printf("ERROR: generation failed: %v\n", err)
		os.Exit(1)
	}
	genDuration := time.Since(genStart)

	suspicious := 0
	for _, e := range entities {
		if e.Suspicious {
			suspicious++
		}
	}
	fmt.Printf("📊 DATASET\n")
	fmt.Printf("   Entities:      %d\n", len(entities))
	fmt.Printf("   Transactions:  %d\n", len(transactions))
	fmt.Printf("   Suspicious:    %d (%.2f%%)\n", suspicious, 100*float64(suspicious)/float64(len(entities)))
	fmt.Printf("   Generated in:  %v\n", genDuration.Round(time.Millisecond))

	trainStart := time.Now()
	art, err := pipeline.Run(context.Background(), entities, transactions, cfg, *mode, *seed, logger)
	if err != nil {
		fmt.Printf("ERROR: pipeline failed: %v\n", err)
		os.Exit(1)
	}
	trainDuration := time.Since(trainStart)

	fmt.Printf("\n📈 MODEL COMPARISON (held-out test split)\n")
	fmt.Println("                   Precision    Recall        F1   ROC-AUC")
	printModelRow("Graph classifier", art.Metrics.Graph)
	printModelRow("Rule baseline", art.Metrics.RuleBase)
	printModelRow("Logistic regr.", art.Metrics.Logistic)

	printConfusion(entities, art.Scores, cfg.AlertThreshold)

	printTopAlerts(art.Alerts, *topAlerts)

	fmt.Printf("\n🕸️  CLUSTERS\n")
	for _, c := range art.Clusters {
		fmt.Printf("   %-16s %-9s size=%-3d score=%.3f\n", c.ID, c.Typology, c.Size, c.Score)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Training pass:    %v\n", trainDuration.Round(time.Millisecond))
	fmt.Printf("   Best val F1:      %.4f\n", art.BestValF1)
	fmt.Printf("   Alerts raised:    %d\n", len(art.Alerts))

	fmt.Printf("\n💡 INTERPRETATION\n")
	f1 := art.Metrics.Graph.F1
	switch {
	case f1 >= 0.9:
		fmt.Println("   ✅ Excellent separation of laundering entities")
	case f1 >= 0.7:
		fmt.Println("   ✅ Good separation; some typology overlap remains")
	case f1 >= 0.5:
		fmt.Println("   ⚠️  Moderate separation; consider more epochs")
	default:
		fmt.Println("   ❌ Poor separation; check mode, seed, and epochs")
	}
	if f1 > art.Metrics.RuleBase.F1 && f1 > art.Metrics.Logistic.F1 {
		fmt.Println("   ✅ Graph classifier beats both baselines")
	} else {
		fmt.Println("   ⚠️  A baseline matched or beat the graph classifier")
	}
	fmt.Println()
}

func printModelRow(name string, m domain.ModelMetrics) {
	fmt.Printf("   %-16s  %8.4f  %8.4f  %8.4f  %8.4f\n", name, m.Precision, m.Recall, m.F1, m.ROCAUC)
}

func printConfusion(entities []*domain.Entity, scores map[string]float64, threshold float64) {
	var tp, fp, tn, fn int
	for _, e := range entities {
		predicted := scores[e.ID] >= threshold
		switch {
		case predicted && e.Suspicious:
			tp++
		case predicted && !e.Suspicious:
			fp++
		case !predicted && !e.Suspicious:
			tn++
		default:
			fn++
		}
	}

	fmt.Printf("\n🎯 CONFUSION MATRIX (all entities, threshold %.2f)\n", threshold)
	fmt.Println("                        Predicted")
	fmt.Println("                   ALERT       CLEAR")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", tp, fn)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           N  │ %8d │ %8d │  (FP, TN)\n", fp, tn)
	fmt.Println("              └──────────┴──────────┘")
}

func printTopAlerts(alerts []*domain.Alert, n int) {
	if len(alerts) == 0 || n <= 0 {
		return
	}
	sorted := make([]*domain.Alert, len(alerts))
	copy(sorted, alerts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	if n > len(sorted) {
		n = len(sorted)
	}

	fmt.Printf("\n🚨 TOP ALERTS\n")
	for _, a := range sorted[:n] {
		fmt.Printf("   [%.3f] %s\n", a.Score, a.EntityID)
		fmt.Printf("           %s\n", a.Narrative)
	}
}

// Package pipeline orchestrates the detection workflow: synthetic dataset
// generation, classifier training, baseline comparison, attribution, and
// alert derivation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/harrier/internal/baseline"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/explain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/generator"
	"github.com/opensource-finance/harrier/internal/trainer"
)

// Service runs the pipeline stages against a repository and publishes
// lifecycle events.
type Service struct {
	repo   domain.Repository
	bus    domain.EventBus
	cfg    domain.PipelineConfig
	logger *slog.Logger
}

// NewService wires the pipeline.
func NewService(repo domain.Repository, bus domain.EventBus, cfg domain.PipelineConfig, logger *slog.Logger) *Service {
	return &Service{repo: repo, bus: bus, cfg: cfg, logger: logger}
}

// Generate builds a synthetic dataset and replaces the stored one. All
// derived records from previous runs are cleared with it.
func (s *Service) Generate(ctx context.Context, mode string, seed int64) (*domain.GenerateSummary, error) {
	entities, transactions, err := generator.New(seed).Generate(mode)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceDataset(ctx, entities, transactions); err != nil {
		return nil, fmt.Errorf("store dataset: %w", err)
	}

	suspicious := 0
	for _, e := range entities {
		if e.Suspicious {
			suspicious++
		}
	}
	summary := &domain.GenerateSummary{
		Entities:           len(entities),
		Transactions:       len(transactions),
		SuspiciousEntities: suspicious,
		SuspiciousRate:     float64(suspicious) / float64(len(entities)),
	}

	s.publish(ctx, domain.TopicDataReady, []byte(fmt.Sprintf(`{"mode":%q,"entities":%d,"transactions":%d}`, mode, len(entities), len(transactions))))
	s.logger.Info("dataset generated",
		"mode", mode,
		"seed", seed,
		"entities", summary.Entities,
		"transactions", summary.Transactions,
		"suspiciousRate", summary.SuspiciousRate)
	return summary, nil
}

// Train runs the full scoring pass over the stored dataset and persists
// scores, clusters, alerts, and the model run record.
func (s *Service) Train(ctx context.Context, mode string, seed int64) (*domain.TrainSummary, error) {
	entities, err := s.repo.ListEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	if len(entities) == 0 {
		return nil, domain.ErrNoData
	}
	transactions, err := s.repo.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}

	art, err := Run(ctx, entities, transactions, s.cfg, mode, seed, s.logger)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateEntityScores(ctx, art.Scores, art.Attributions); err != nil {
		return nil, fmt.Errorf("store scores: %w", err)
	}
	if err := s.repo.ReplaceClusters(ctx, art.Clusters); err != nil {
		return nil, fmt.Errorf("store clusters: %w", err)
	}
	if err := s.repo.ReplaceAlerts(ctx, art.Alerts); err != nil {
		return nil, fmt.Errorf("store alerts: %w", err)
	}

	run := &domain.ModelRun{
		ID:        uuid.New().String(),
		Mode:      mode,
		Metrics:   art.Metrics,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveModelRun(ctx, run); err != nil {
		return nil, fmt.Errorf("store model run: %w", err)
	}

	for _, a := range art.Alerts {
		s.publish(ctx, domain.TopicAlertCreated, []byte(fmt.Sprintf(`{"alertId":%q,"entityId":%q,"score":%.4f}`, a.ID, a.EntityID, a.Score)))
	}
	s.publish(ctx, domain.TopicRunCompleted, []byte(fmt.Sprintf(`{"runId":%q,"mode":%q,"alerts":%d}`, run.ID, mode, len(art.Alerts))))

	summary := &domain.TrainSummary{
		RunID:           run.ID,
		AlertsCreated:   len(art.Alerts),
		ClustersCreated: len(art.Clusters),
		GraphF1:         art.Metrics.Graph.F1,
		GraphPrecision:  art.Metrics.Graph.Precision,
		GraphRecall:     art.Metrics.Graph.Recall,
	}
	s.logger.Info("training run completed",
		"runId", run.ID,
		"mode", mode,
		"alerts", summary.AlertsCreated,
		"clusters", summary.ClustersCreated,
		"graphF1", summary.GraphF1)
	return summary, nil
}

func (s *Service) publish(ctx context.Context, topic string, payload []byte) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("event publish failed", "topic", topic, "error", err)
	}
}

// Artifacts is everything one scoring pass produces, before persistence.
type Artifacts struct {
	Scores       map[string]float64
	Attributions map[string]map[string]float64
	Metrics      domain.Metrics
	Clusters     []*domain.ClusterGroup
	Alerts       []*domain.Alert
	BestValF1    float64
}

// Run executes the in-memory scoring pass: feature extraction, classifier
// training, baseline evaluation on the same held-out nodes, surrogate
// attribution, and cluster/alert derivation.
func Run(ctx context.Context, entities []*domain.Entity, transactions []*domain.Transaction, cfg domain.PipelineConfig, mode string, seed int64, logger *slog.Logger) (*Artifacts, error) {
	if len(entities) == 0 {
		return nil, domain.ErrNoData
	}

	g, _ := features.BuildGraph(entities, transactions)
	x, ids := features.Extract(entities, transactions, g)
	labels := make([]int, len(entities))
	for i, e := range entities {
		if e.Suspicious {
			labels[i] = 1
		}
	}

	res, err := trainer.Train(ctx, x, g, labels, trainer.Config{
		Model:          cfg.Model,
		HiddenChannels: cfg.HiddenChannels,
		Dropout:        cfg.Dropout,
		LearningRate:   cfg.LearningRate,
		WeightDecay:    cfg.WeightDecay,
		Epochs:         cfg.Epochs(mode),
		Seed:           seed,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("train classifier: %w", err)
	}

	ruleMetrics, logitMetrics, err := evaluateBaselines(x, labels, res)
	if err != nil {
		return nil, err
	}

	attributions, err := attribute(x, res, cfg.Explainer, seed)
	if err != nil {
		return nil, fmt.Errorf("fit surrogate: %w", err)
	}

	art := &Artifacts{
		Scores:       make(map[string]float64, len(ids)),
		Attributions: make(map[string]map[string]float64, len(ids)),
		Metrics: domain.Metrics{
			Graph:    res.Metrics,
			RuleBase: ruleMetrics,
			Logistic: logitMetrics,
			PRCurve:  res.PRCurve,
		},
		BestValF1: res.BestValF1,
	}
	for i, id := range ids {
		art.Scores[id] = res.Probs[i]
		attr := make(map[string]float64, features.Width)
		for j, name := range features.Names {
			attr[name] = attributions.At(i, j)
		}
		art.Attributions[id] = attr
	}

	art.Clusters = deriveClusters(entities, art.Scores)
	art.Alerts = deriveAlerts(entities, art.Scores, art.Attributions, cfg.AlertThreshold)
	return art, nil
}

// evaluateBaselines scores the rule set and the logistic regression on
// the classifier's test split.
func evaluateBaselines(x *mat.Dense, labels []int, res *trainer.Result) (domain.ModelMetrics, domain.ModelMetrics, error) {
	scorer, err := baseline.NewRuleScorer(baseline.DefaultRules())
	if err != nil {
		return domain.ModelMetrics{}, domain.ModelMetrics{}, fmt.Errorf("compile rule baseline: %w", err)
	}
	ruleScores := scorer.Score(x)

	_, d := x.Dims()
	xTrain := mat.NewDense(len(res.TrainIdx), d, nil)
	yTrain := make([]int, len(res.TrainIdx))
	for i, idx := range res.TrainIdx {
		xTrain.SetRow(i, x.RawRowView(idx))
		yTrain[i] = labels[idx]
	}
	logit := baseline.NewLogistic()
	logit.Fit(xTrain, yTrain)
	logitScores := logit.Predict(x)

	testTrue := make([]int, len(res.TestIdx))
	testRule := make([]float64, len(res.TestIdx))
	testLogit := make([]float64, len(res.TestIdx))
	for i, idx := range res.TestIdx {
		testTrue[i] = labels[idx]
		testRule[i] = ruleScores[idx]
		testLogit[i] = logitScores[idx]
	}
	return trainer.Evaluate(testTrue, testRule), trainer.Evaluate(testTrue, testLogit), nil
}

// attribute fits the surrogate on the train split over features joined
// with embeddings, targeting the classifier's soft scores.
func attribute(x *mat.Dense, res *trainer.Result, strategy string, seed int64) (*mat.Dense, error) {
	n, d := x.Dims()
	_, embDim := res.Embeddings.Dims()
	joined := mat.NewDense(n, d+embDim, nil)
	for i := 0; i < n; i++ {
		copy(joined.RawRowView(i)[:d], x.RawRowView(i))
		copy(joined.RawRowView(i)[d:], res.Embeddings.RawRowView(i))
	}

	fitRows := mat.NewDense(len(res.TrainIdx), d+embDim, nil)
	ySoft := make([]float64, len(res.TrainIdx))
	for i, idx := range res.TrainIdx {
		fitRows.SetRow(i, joined.RawRowView(idx))
		ySoft[i] = res.Probs[idx]
	}

	attributor, err := explain.New(strategy, features.Width, seed)
	if err != nil {
		return nil, err
	}
	return attributor.FitAttribute(fitRows, ySoft, joined)
}

// deriveClusters rebuilds cluster groups from the generator-assigned
// labels, scoring each group by its riskiest member.
func deriveClusters(entities []*domain.Entity, scores map[string]float64) []*domain.ClusterGroup {
	byID := map[string]*domain.ClusterGroup{}
	var order []string
	for _, e := range entities {
		if e.ClusterID == "" {
			continue
		}
		c, ok := byID[e.ClusterID]
		if !ok {
			c = &domain.ClusterGroup{
				ID:       e.ClusterID,
				Typology: domain.TypologyFromClusterID(e.ClusterID),
			}
			byID[e.ClusterID] = c
			order = append(order, e.ClusterID)
		}
		c.EntityIDs = append(c.EntityIDs, e.ID)
		c.Size++
		if s := scores[e.ID]; s > c.Score {
			c.Score = s
		}
	}

	clusters := make([]*domain.ClusterGroup, 0, len(order))
	for _, id := range order {
		clusters = append(clusters, byID[id])
	}
	return clusters
}

// deriveAlerts raises one open alert per entity at or above the threshold.
func deriveAlerts(entities []*domain.Entity, scores map[string]float64, attributions map[string]map[string]float64, threshold float64) []*domain.Alert {
	now := time.Now().UTC()
	var alerts []*domain.Alert
	for _, e := range entities {
		score, ok := scores[e.ID]
		if !ok || score < threshold {
			continue
		}
		alerts = append(alerts, &domain.Alert{
			ID:           uuid.New().String(),
			EntityID:     e.ID,
			ClusterID:    e.ClusterID,
			Score:        score,
			Narrative:    explain.Narrative(e, score, attributions[e.ID]),
			Attributions: attributions[e.ID],
			Status:       domain.AlertStatusOpen,
			CreatedAt:    now,
		})
	}
	return alerts
}

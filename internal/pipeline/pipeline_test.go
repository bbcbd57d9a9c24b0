package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() domain.PipelineConfig {
	cfg := domain.DefaultPipelineConfig()
	cfg.HiddenChannels = 16
	cfg.EpochsDemo = 30
	return cfg
}

// testDataset builds a small network with one obvious smurfing ring.
func testDataset() ([]*domain.Entity, []*domain.Transaction) {
	rng := rand.New(rand.NewSource(11))
	var entities []*domain.Entity
	var transactions []*domain.Transaction

	for i := 0; i < 80; i++ {
		e := &domain.Entity{
			ID:       fmt.Sprintf("E%07d", i),
			Category: domain.CategoryIndividual,
			Country:  "NL",
		}
		switch {
		case i < 8:
			e.Category = domain.CategoryMule
			e.Suspicious = true
			e.ClusterID = "CLU_SMURF_0001"
		case i < 14:
			e.Category = domain.CategoryShell
			e.Suspicious = true
			e.ClusterID = "CLU_LAYER_0002"
			e.Country = "KY"
		}
		entities = append(entities, e)
	}

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 320; i++ {
		src := rng.Intn(80)
		dst := (src + 1 + rng.Intn(79)) % 80
		tx := &domain.Transaction{
			ID:        fmt.Sprintf("TX%08d", i),
			SourceID:  fmt.Sprintf("E%07d", src),
			DestID:    fmt.Sprintf("E%07d", dst),
			Amount:    100 + rng.Float64()*900,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Channel:   "wire",
			Country:   "NL",
		}
		if src < 14 {
			tx.Amount = 9000 + rng.Float64()*999
			tx.Channel = "crypto"
			tx.Country = "KY"
			tx.Suspicious = true
			tx.RiskFlags = []string{
				domain.FlagStructuringThreshold,
				domain.FlagHighRiskChannel,
				domain.FlagHighRiskCountry,
			}
		}
		transactions = append(transactions, tx)
	}
	return entities, transactions
}

func TestRun_ProducesArtifacts(t *testing.T) {
	entities, transactions := testDataset()

	art, err := Run(context.Background(), entities, transactions, testConfig(), domain.ModeDemo, 42, discardLogger())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(art.Scores) != len(entities) {
		t.Fatalf("expected %d scores, got %d", len(entities), len(art.Scores))
	}
	for id, s := range art.Scores {
		if s < 0 || s > 1 || math.IsNaN(s) {
			t.Errorf("score for %s out of range: %v", id, s)
		}
	}

	for id, attr := range art.Attributions {
		if len(attr) != features.Width {
			t.Fatalf("expected %d attributions for %s, got %d", features.Width, id, len(attr))
		}
		for _, name := range features.Names {
			v, ok := attr[name]
			if !ok {
				t.Fatalf("missing attribution %q for %s", name, id)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Errorf("attribution %q for %s not finite: %v", name, id, v)
			}
		}
	}

	if len(art.Clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(art.Clusters))
	}
	byID := map[string]*domain.ClusterGroup{}
	for _, c := range art.Clusters {
		byID[c.ID] = c
	}
	if c := byID["CLU_SMURF_0001"]; c == nil || c.Typology != domain.TypologySmurfing || c.Size != 8 {
		t.Errorf("unexpected smurfing cluster: %+v", c)
	}
	if c := byID["CLU_LAYER_0002"]; c == nil || c.Typology != domain.TypologyLayering || c.Size != 6 {
		t.Errorf("unexpected layering cluster: %+v", c)
	}

	for _, a := range art.Alerts {
		if a.Score < testConfig().AlertThreshold {
			t.Errorf("alert %s below threshold: %v", a.EntityID, a.Score)
		}
		if a.Status != domain.AlertStatusOpen {
			t.Errorf("alert %s not open: %s", a.EntityID, a.Status)
		}
		if !strings.Contains(a.Narrative, a.EntityID) {
			t.Errorf("narrative for %s does not mention the entity", a.EntityID)
		}
	}

	g := art.Metrics.Graph
	if g.Precision < 0 || g.Precision > 1 || g.Recall < 0 || g.Recall > 1 {
		t.Errorf("graph metrics out of range: %+v", g)
	}
	if len(art.Metrics.PRCurve.Precision) != len(art.Metrics.PRCurve.Recall) {
		t.Error("PR curve arrays differ in length")
	}
}

func TestRun_Deterministic(t *testing.T) {
	entities, transactions := testDataset()
	cfg := testConfig()

	a, err := Run(context.Background(), entities, transactions, cfg, domain.ModeDemo, 7, discardLogger())
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	b, err := Run(context.Background(), entities, transactions, cfg, domain.ModeDemo, 7, discardLogger())
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	for id, sa := range a.Scores {
		if sb := b.Scores[id]; sa != sb {
			t.Fatalf("scores differ for %s: %v vs %v", id, sa, sb)
		}
	}
}

func TestRun_NoEntities(t *testing.T) {
	_, err := Run(context.Background(), nil, nil, testConfig(), domain.ModeDemo, 1, discardLogger())
	if !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func newTestService(t *testing.T) (*Service, domain.Repository) {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "pipeline_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return NewService(repo, nil, testConfig(), discardLogger()), repo
}

func TestService_Generate(t *testing.T) {
	svc, repo := newTestService(t)

	summary, err := svc.Generate(context.Background(), domain.ModeDemo, 42)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if summary.Entities == 0 || summary.Transactions == 0 {
		t.Fatalf("empty summary: %+v", summary)
	}
	if summary.SuspiciousRate <= 0 || summary.SuspiciousRate >= 0.5 {
		t.Errorf("implausible suspicious rate: %v", summary.SuspiciousRate)
	}

	entities, err := repo.ListEntities(context.Background())
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(entities) != summary.Entities {
		t.Errorf("expected %d stored entities, got %d", summary.Entities, len(entities))
	}
}

func TestService_TrainPersistsEverything(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	entities, transactions := testDataset()
	if err := repo.ReplaceDataset(ctx, entities, transactions); err != nil {
		t.Fatalf("ReplaceDataset failed: %v", err)
	}

	summary, err := svc.Train(ctx, domain.ModeDemo, 42)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if summary.RunID == "" {
		t.Error("expected runId in summary")
	}
	if summary.ClustersCreated != 2 {
		t.Errorf("expected 2 clusters, got %d", summary.ClustersCreated)
	}

	stored, err := repo.ListEntities(ctx)
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	scored := 0
	for _, e := range stored {
		if e.RiskScore > 0 {
			scored++
		}
		if e.Attributions == nil {
			t.Fatalf("entity %s has no attributions", e.ID)
		}
	}
	if scored == 0 {
		t.Error("expected some entities with nonzero risk scores")
	}

	run, err := repo.ActiveModelRun(ctx)
	if err != nil {
		t.Fatalf("ActiveModelRun failed: %v", err)
	}
	if run.ID != summary.RunID || !run.Active {
		t.Errorf("unexpected active run: %+v", run)
	}

	alerts, err := repo.ListAlerts(ctx)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != summary.AlertsCreated {
		t.Errorf("summary says %d alerts, repository has %d", summary.AlertsCreated, len(alerts))
	}

	// A second run supersedes the first active record
	second, err := svc.Train(ctx, domain.ModeDemo, 43)
	if err != nil {
		t.Fatalf("second Train failed: %v", err)
	}
	run, err = repo.ActiveModelRun(ctx)
	if err != nil {
		t.Fatalf("ActiveModelRun failed after second run: %v", err)
	}
	if run.ID != second.RunID {
		t.Errorf("expected active run %s, got %s", second.RunID, run.ID)
	}
}

func TestService_TrainNoData(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Train(context.Background(), domain.ModeDemo, 42)
	if !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestDeriveClusters(t *testing.T) {
	entities := []*domain.Entity{
		{ID: "A", ClusterID: "CLU_CIRC_0001"},
		{ID: "B"},
		{ID: "C", ClusterID: "CLU_CIRC_0001"},
		{ID: "D", ClusterID: "CLU_SMURF_0002"},
	}
	scores := map[string]float64{"A": 0.2, "B": 0.9, "C": 0.7, "D": 0.4}

	clusters := deriveClusters(entities, scores)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	if clusters[0].ID != "CLU_CIRC_0001" {
		t.Errorf("expected first-seen ordering, got %s first", clusters[0].ID)
	}
	if clusters[0].Size != 2 || clusters[0].Score != 0.7 {
		t.Errorf("unexpected circular cluster: %+v", clusters[0])
	}
	if clusters[0].Typology != domain.TypologyCircular {
		t.Errorf("expected circular typology, got %s", clusters[0].Typology)
	}
	if clusters[1].Typology != domain.TypologySmurfing {
		t.Errorf("expected smurfing typology, got %s", clusters[1].Typology)
	}
}

func TestDeriveAlerts(t *testing.T) {
	entities := []*domain.Entity{
		{ID: "A", Category: domain.CategoryMule, Country: "PA", ClusterID: "CLU_SMURF_0001"},
		{ID: "B", Category: domain.CategoryIndividual, Country: "US"},
		{ID: "C", Category: domain.CategoryShell, Country: "KY"},
	}
	scores := map[string]float64{"A": 0.92, "B": 0.10, "C": 0.50}
	attrs := map[string]map[string]float64{
		"A": {"burstiness": 0.4},
		"B": {"burstiness": 0.0},
		"C": {"burstiness": 0.2},
	}

	alerts := deriveAlerts(entities, scores, attrs, 0.50)
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts (threshold inclusive), got %d", len(alerts))
	}
	if alerts[0].EntityID != "A" || alerts[1].EntityID != "C" {
		t.Errorf("unexpected alert entities: %s, %s", alerts[0].EntityID, alerts[1].EntityID)
	}
	if alerts[0].ClusterID != "CLU_SMURF_0001" {
		t.Errorf("expected cluster carried onto alert, got %q", alerts[0].ClusterID)
	}
	if alerts[0].Narrative == "" {
		t.Error("expected narrative on alert")
	}
	if alerts[0].ID == alerts[1].ID {
		t.Error("expected distinct alert IDs")
	}
}

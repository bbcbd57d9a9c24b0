package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
)

// createTestServer builds a server on a fresh SQLite repository with an
// in-memory cache and channel bus.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api_test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c, err := cache.New(domain.CacheConfig{
		Type:         "memory",
		LocalMaxSize: 100,
		LocalTTL:     time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	pcfg := domain.DefaultPipelineConfig()
	pcfg.HiddenChannels = 16
	pcfg.EpochsDemo = 20
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := pipeline.NewService(repo, eventBus, pcfg, logger)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 300,
	}
	return NewServer(cfg, repo, c, eventBus, svc, "test-v1"), repo
}

// seedDataset stores a small labeled network so /train has work to do.
func seedDataset(t *testing.T, repo domain.Repository) {
	t.Helper()

	rng := rand.New(rand.NewSource(3))
	var entities []*domain.Entity
	var transactions []*domain.Transaction
	for i := 0; i < 60; i++ {
		e := &domain.Entity{
			ID:       fmt.Sprintf("E%07d", i),
			Category: domain.CategoryIndividual,
			Country:  "DE",
		}
		if i < 12 {
			e.Category = domain.CategoryMule
			e.Suspicious = true
			e.ClusterID = "CLU_SMURF_0001"
		}
		entities = append(entities, e)
	}
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 240; i++ {
		src := rng.Intn(60)
		dst := (src + 1 + rng.Intn(59)) % 60
		tx := &domain.Transaction{
			ID:        fmt.Sprintf("TX%08d", i),
			SourceID:  fmt.Sprintf("E%07d", src),
			DestID:    fmt.Sprintf("E%07d", dst),
			Amount:    150 + rng.Float64()*600,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Channel:   "wire",
			Country:   "DE",
		}
		if src < 12 {
			tx.Amount = 9100 + rng.Float64()*800
			tx.Channel = "crypto"
			tx.Suspicious = true
			tx.RiskFlags = []string{domain.FlagStructuringThreshold, domain.FlagHighRiskChannel}
		}
		transactions = append(transactions, tx)
	}
	if err := repo.ReplaceDataset(context.Background(), entities, transactions); err != nil {
		t.Fatalf("failed to seed dataset: %v", err)
	}
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestTrainEndpoint(t *testing.T) {
	t.Run("NoDataConflict", func(t *testing.T) {
		server, _ := createTestServer(t)

		rr := doJSON(t, server, http.MethodPost, "/train", RunRequest{Mode: domain.ModeDemo})
		if rr.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidMode", func(t *testing.T) {
		server, _ := createTestServer(t)

		rr := doJSON(t, server, http.MethodPost, "/train", RunRequest{Mode: "turbo"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		server, _ := createTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/train", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TrainSeededDataset", func(t *testing.T) {
		server, repo := createTestServer(t)
		seedDataset(t, repo)

		seed := int64(42)
		rr := doJSON(t, server, http.MethodPost, "/train", RunRequest{Mode: domain.ModeDemo, Seed: &seed})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var summary domain.TrainSummary
		if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if summary.RunID == "" {
			t.Error("expected runId in response")
		}
		if summary.ClustersCreated != 1 {
			t.Errorf("expected 1 cluster, got %d", summary.ClustersCreated)
		}

		run, err := repo.ActiveModelRun(context.Background())
		if err != nil {
			t.Fatalf("ActiveModelRun failed: %v", err)
		}
		if run.ID != summary.RunID {
			t.Errorf("expected active run %s, got %s", summary.RunID, run.ID)
		}

		// Metrics endpoint now serves the active run
		mr := doJSON(t, server, http.MethodGet, "/metrics", nil)
		if mr.Code != http.StatusOK {
			t.Errorf("expected status 200 from /metrics, got %d", mr.Code)
		}
	})
}

func TestReadEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	ctx := context.Background()

	entities := []*domain.Entity{
		{ID: "E0000001", Category: domain.CategoryMule, Country: "GB", Suspicious: true, ClusterID: "CLU_SMURF_0001", RiskScore: 0.91},
		{ID: "E0000002", Category: domain.CategoryIndividual, Country: "FR"},
	}
	transactions := []*domain.Transaction{
		{
			ID: "TX00000001", SourceID: "E0000001", DestID: "E0000002",
			Amount: 9500, Timestamp: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
			Channel: "cash", Country: "GB",
			RiskFlags: []string{domain.FlagStructuringThreshold}, Suspicious: true,
		},
	}
	if err := repo.ReplaceDataset(ctx, entities, transactions); err != nil {
		t.Fatalf("ReplaceDataset failed: %v", err)
	}

	clusters := []*domain.ClusterGroup{
		{ID: "CLU_SMURF_0001", EntityIDs: []string{"E0000001"}, Size: 1, Score: 0.91, Typology: domain.TypologySmurfing},
	}
	if err := repo.ReplaceClusters(ctx, clusters); err != nil {
		t.Fatalf("ReplaceClusters failed: %v", err)
	}

	alerts := []*domain.Alert{
		{
			ID: "alert-1", EntityID: "E0000001", ClusterID: "CLU_SMURF_0001",
			Score: 0.91, Narrative: "Entity E0000001 narrative.",
			Attributions: map[string]float64{"burstiness": 0.3},
			Status:       domain.AlertStatusOpen,
			CreatedAt:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		},
	}
	if err := repo.ReplaceAlerts(ctx, alerts); err != nil {
		t.Fatalf("ReplaceAlerts failed: %v", err)
	}

	t.Run("ListEntities", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/entities", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 {
			t.Errorf("expected 2 entities, got %d", resp.Count)
		}
	})

	t.Run("GetEntity", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/entities/E0000001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var e domain.Entity
		json.Unmarshal(rr.Body.Bytes(), &e)
		if e.RiskScore != 0.91 {
			t.Errorf("expected risk score 0.91, got %v", e.RiskScore)
		}
	})

	t.Run("GetEntityNotFound", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/entities/E9999999", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("GetTransaction", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/transactions/TX00000001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var tx domain.Transaction
		json.Unmarshal(rr.Body.Bytes(), &tx)
		if tx.Amount != 9500 {
			t.Errorf("expected amount 9500, got %v", tx.Amount)
		}
	})

	t.Run("GetTransactionNotFound", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/transactions/TX404", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ListClusters", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/clusters", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Clusters []*domain.ClusterGroup `json:"clusters"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if len(resp.Clusters) != 1 || resp.Clusters[0].Typology != domain.TypologySmurfing {
			t.Errorf("unexpected clusters: %+v", resp.Clusters)
		}
	})

	t.Run("ListAlerts", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/alerts", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 alert, got %d", resp.Count)
		}
	})

	t.Run("GetAlertNarrative", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/alerts/alert-1/narrative", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["narrative"] != "Entity E0000001 narrative." {
			t.Errorf("unexpected narrative: %q", resp["narrative"])
		}
		if resp["entityId"] != "E0000001" {
			t.Errorf("unexpected entityId: %q", resp["entityId"])
		}
	})

	t.Run("GetAlertNotFound", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/alerts/alert-404", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("MetricsWithoutRun", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/metrics", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ActiveRunLifecycle", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/runs/active", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404 before training, got %d", rr.Code)
		}

		run := &domain.ModelRun{
			ID:        "run-1",
			Mode:      domain.ModeDemo,
			Metrics:   domain.Metrics{Graph: domain.ModelMetrics{F1: 0.8}},
			Active:    true,
			CreatedAt: time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC),
		}
		if err := repo.SaveModelRun(ctx, run); err != nil {
			t.Fatalf("SaveModelRun failed: %v", err)
		}

		rr = doJSON(t, server, http.MethodGet, "/runs/active", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var got domain.ModelRun
		json.Unmarshal(rr.Body.Bytes(), &got)
		if got.ID != "run-1" || !got.Active {
			t.Errorf("unexpected active run: %+v", got)
		}
	})

	t.Run("AlertsServedFromCache", func(t *testing.T) {
		first := doJSON(t, server, http.MethodGet, "/alerts", nil)
		if first.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", first.Code)
		}

		// Mutate storage behind the cache; the list should still serve
		// the cached body until a run invalidates it.
		if err := repo.ReplaceAlerts(ctx, nil); err != nil {
			t.Fatalf("ReplaceAlerts failed: %v", err)
		}
		second := doJSON(t, server, http.MethodGet, "/alerts", nil)
		if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
			t.Error("expected cached alerts body to be served")
		}
	})
}

func TestEnqueueRunEndpoint(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("InvalidAction", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/runs", RunRequest{Action: "reticulate", Mode: domain.ModeDemo})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("QueuedGenerate", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/runs", RunRequest{Action: "generate", Mode: domain.ModeDemo})
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "queued" {
			t.Errorf("expected status 'queued', got '%s'", resp["status"])
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}

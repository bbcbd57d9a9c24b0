//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Harrier detection
// pipeline.
//
// These tests run the COMPLETE flow in-process over HTTP:
//
//	Generate → Train → Scores → Clusters → Alerts → Narratives → Metrics
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. ENTITY: A node in the transaction network (individual, business,
//    mule, or shell). The generator plants laundering clusters among
//    background entities.
//
// 2. RUN: One training pass. The graph classifier is trained on the
//    stored dataset, every entity gets a risk score and per-feature
//    attributions, and clusters and alerts are rebuilt from scratch.
//
// 3. ALERT: Raised for every entity scoring at or above the alert
//    threshold (default 0.50), with a deterministic narrative naming
//    the top drivers.
//
// 4. METRICS: The active run's comparison of the graph classifier
//    against the rule and logistic baselines on the held-out split.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/worker"
)

type stack struct {
	server *httptest.Server
	client *http.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "integration.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c, err := cache.New(domain.CacheConfig{
		Type:         "memory",
		LocalMaxSize: 1000,
		LocalTTL:     time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	eventBus := bus.NewChannelBus(1000)
	t.Cleanup(func() { eventBus.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := pipeline.NewService(repo, eventBus, domain.DefaultPipelineConfig(), logger)

	w := worker.NewWorker(eventBus, svc, c, logger)
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	apiServer := api.NewServer(domain.ServerConfig{}, repo, c, eventBus, svc, "integration-test")
	ts := httptest.NewServer(apiServer.Router())
	t.Cleanup(ts.Close)

	return &stack{server: ts, client: ts.Client()}
}

func (s *stack) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	resp, err := s.client.Post(s.server.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (s *stack) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.client.Get(s.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestFullDetectionFlow(t *testing.T) {
	s := newStack(t)
	seed := int64(42)

	// Training before any data is a caller error
	resp, body := s.post(t, "/train", map[string]any{"mode": "demo", "seed": seed})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 before generation, got %d: %s", resp.StatusCode, body)
	}

	// Generate the demo dataset
	resp, body = s.post(t, "/generate", map[string]any{"mode": "demo", "seed": seed})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate failed: %d: %s", resp.StatusCode, body)
	}
	var gen domain.GenerateSummary
	if err := json.Unmarshal(body, &gen); err != nil {
		t.Fatalf("failed to parse generate summary: %v", err)
	}
	if gen.Entities != 1000 {
		t.Errorf("expected 1000 demo entities, got %d", gen.Entities)
	}
	if gen.SuspiciousEntities == 0 {
		t.Error("expected planted suspicious entities")
	}

	// Train
	resp, body = s.post(t, "/train", map[string]any{"mode": "demo", "seed": seed})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("train failed: %d: %s", resp.StatusCode, body)
	}
	var train domain.TrainSummary
	if err := json.Unmarshal(body, &train); err != nil {
		t.Fatalf("failed to parse train summary: %v", err)
	}
	if train.RunID == "" {
		t.Fatal("expected runId in train summary")
	}
	if train.GraphF1 < 0.5 {
		t.Errorf("expected graph F1 >= 0.5 on the demo network, got %v", train.GraphF1)
	}
	if train.AlertsCreated == 0 {
		t.Error("expected alerts from the demo network")
	}
	if train.ClustersCreated == 0 {
		t.Error("expected planted clusters to be reported")
	}

	// Every entity is scored with full attributions
	resp, body = s.get(t, "/entities")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list entities failed: %d", resp.StatusCode)
	}
	var entityList struct {
		Entities []*domain.Entity `json:"entities"`
		Count    int              `json:"count"`
	}
	if err := json.Unmarshal(body, &entityList); err != nil {
		t.Fatalf("failed to parse entities: %v", err)
	}
	if entityList.Count != gen.Entities {
		t.Errorf("expected %d entities, got %d", gen.Entities, entityList.Count)
	}
	scored := 0
	for _, e := range entityList.Entities {
		if e.RiskScore > 0 {
			scored++
		}
	}
	if scored == 0 {
		t.Error("expected nonzero risk scores after training")
	}

	// Clusters carry typologies
	resp, body = s.get(t, "/clusters")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list clusters failed: %d", resp.StatusCode)
	}
	var clusterList struct {
		Clusters []*domain.ClusterGroup `json:"clusters"`
	}
	if err := json.Unmarshal(body, &clusterList); err != nil {
		t.Fatalf("failed to parse clusters: %v", err)
	}
	if len(clusterList.Clusters) != train.ClustersCreated {
		t.Errorf("expected %d clusters, got %d", train.ClustersCreated, len(clusterList.Clusters))
	}
	for _, c := range clusterList.Clusters {
		if c.Typology == domain.TypologyMixed {
			t.Errorf("cluster %s has unresolved typology", c.ID)
		}
	}

	// Alerts and narratives
	resp, body = s.get(t, "/alerts")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list alerts failed: %d", resp.StatusCode)
	}
	var alertList struct {
		Alerts []*domain.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(body, &alertList); err != nil {
		t.Fatalf("failed to parse alerts: %v", err)
	}
	if len(alertList.Alerts) != train.AlertsCreated {
		t.Fatalf("expected %d alerts, got %d", train.AlertsCreated, len(alertList.Alerts))
	}
	top := alertList.Alerts[0]
	resp, body = s.get(t, fmt.Sprintf("/alerts/%s/narrative", top.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get narrative failed: %d", resp.StatusCode)
	}
	var narrative map[string]string
	if err := json.Unmarshal(body, &narrative); err != nil {
		t.Fatalf("failed to parse narrative: %v", err)
	}
	if narrative["narrative"] == "" {
		t.Error("expected non-empty narrative")
	}

	// Metrics for the active run
	resp, body = s.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics failed: %d", resp.StatusCode)
	}
	var metrics struct {
		RunID   string         `json:"runId"`
		Metrics domain.Metrics `json:"metrics"`
	}
	if err := json.Unmarshal(body, &metrics); err != nil {
		t.Fatalf("failed to parse metrics: %v", err)
	}
	if metrics.RunID != train.RunID {
		t.Errorf("expected metrics for run %s, got %s", train.RunID, metrics.RunID)
	}
	if metrics.Metrics.Graph.F1 != train.GraphF1 {
		t.Errorf("metrics F1 %v does not match summary %v", metrics.Metrics.Graph.F1, train.GraphF1)
	}

	// Active run endpoint agrees
	resp, body = s.get(t, "/runs/active")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("active run failed: %d", resp.StatusCode)
	}
	var run domain.ModelRun
	if err := json.Unmarshal(body, &run); err != nil {
		t.Fatalf("failed to parse run: %v", err)
	}
	if run.ID != train.RunID || !run.Active {
		t.Errorf("unexpected active run: %+v", run)
	}
}

func TestQueuedRunFlow(t *testing.T) {
	s := newStack(t)

	resp, body := s.post(t, "/runs", map[string]any{"action": "generate", "mode": "demo", "seed": 7})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue failed: %d: %s", resp.StatusCode, body)
	}

	// Poll until the worker has stored the dataset
	deadline := time.Now().Add(60 * time.Second)
	for {
		resp, body = s.get(t, "/entities")
		var entityList struct {
			Count int `json:"count"`
		}
		json.Unmarshal(body, &entityList)
		if entityList.Count > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for queued generation")
		}
		time.Sleep(250 * time.Millisecond)
	}
}

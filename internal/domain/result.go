package domain

import (
	"strings"
	"time"
)

// Typology is the laundering pattern a cluster embeds.
type Typology string

const (
	TypologySmurfing Typology = "smurfing"
	TypologyLayering Typology = "layering"
	TypologyCircular Typology = "circular"
	TypologyMixed    Typology = "mixed"
)

// TypologyFromClusterID derives the typology tag from the cluster label's
// naming convention (CLU_SMURF_*, CLU_LAYER_*, CLU_CIRC_*). Unrecognized
// labels fall back to "mixed".
func TypologyFromClusterID(clusterID string) Typology {
	switch {
	case strings.Contains(clusterID, "SMURF"):
		return TypologySmurfing
	case strings.Contains(clusterID, "LAYER"):
		return TypologyLayering
	case strings.Contains(clusterID, "CIRC"):
		return TypologyCircular
	default:
		return TypologyMixed
	}
}

// ClusterGroup groups entities that share a generator-assigned cluster label.
type ClusterGroup struct {
	ID        string   `json:"id"`
	EntityIDs []string `json:"entityIds"`
	Size      int      `json:"size"`
	Score     float64  `json:"score"` // max member risk score
	Typology  Typology `json:"typology"`
}

// Alert statuses.
const (
	AlertStatusOpen = "open"
)

// Alert is raised for every entity whose risk score meets the alert
// threshold. Alerts are rebuilt from scratch on each training run.
type Alert struct {
	ID           string             `json:"id"`
	EntityID     string             `json:"entityId"`
	ClusterID    string             `json:"clusterId,omitempty"`
	Score        float64            `json:"score"`
	Narrative    string             `json:"narrative"`
	Attributions map[string]float64 `json:"attributions"`
	Status       string             `json:"status"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// ModelMetrics holds threshold-0.5 classification metrics for one model.
// ROCAUC is 0 when the test split contains a single class; it is omitted,
// not fabricated.
type ModelMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	ROCAUC    float64 `json:"rocAuc,omitempty"`
}

// PRCurve is a precision-recall curve as two parallel sequences of
// matching length.
type PRCurve struct {
	Precision []float64 `json:"precision"`
	Recall    []float64 `json:"recall"`
}

// Metrics compares the graph classifier against both baselines.
type Metrics struct {
	Graph    ModelMetrics `json:"graph"`
	RuleBase ModelMetrics `json:"ruleBased"`
	Logistic ModelMetrics `json:"logisticRegression"`
	PRCurve  PRCurve      `json:"prCurve"`
}

// ModelRun records one training run. Exactly one run is active at a time;
// training a new model supersedes the previous active record.
type ModelRun struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	Metrics   Metrics   `json:"metrics"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateSummary is returned by the generation stage.
type GenerateSummary struct {
	Entities           int     `json:"entities"`
	Transactions       int     `json:"transactions"`
	SuspiciousEntities int     `json:"suspiciousEntities"`
	SuspiciousRate     float64 `json:"suspiciousRate"`
}

// TrainSummary is returned by the training stage.
type TrainSummary struct {
	RunID           string  `json:"runId"`
	AlertsCreated   int     `json:"alertsCreated"`
	ClustersCreated int     `json:"clustersCreated"`
	GraphF1         float64 `json:"graphF1"`
	GraphPrecision  float64 `json:"graphPrecision"`
	GraphRecall     float64 `json:"graphRecall"`
}

package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence. It stores exactly
// what the pipeline produces; values are never altered on the way through.
type Repository interface {
	// Dataset operations. ReplaceDataset clears all derived records
	// (alerts, clusters, model runs) along with the previous dataset.
	ReplaceDataset(ctx context.Context, entities []*Entity, transactions []*Transaction) error
	ListEntities(ctx context.Context) ([]*Entity, error)
	GetEntity(ctx context.Context, entityID string) (*Entity, error)
	ListTransactions(ctx context.Context) ([]*Transaction, error)
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// Scoring output. Applies risk scores and attribution maps to the
	// stored entities.
	UpdateEntityScores(ctx context.Context, scores map[string]float64, attributions map[string]map[string]float64) error

	// Cluster groups, rebuilt on every training run.
	ReplaceClusters(ctx context.Context, clusters []*ClusterGroup) error
	ListClusters(ctx context.Context) ([]*ClusterGroup, error)

	// Alerts, rebuilt on every training run.
	ReplaceAlerts(ctx context.Context, alerts []*Alert) error
	ListAlerts(ctx context.Context) ([]*Alert, error)
	GetAlert(ctx context.Context, alertID string) (*Alert, error)

	// Model runs. SaveModelRun deactivates any previously active run so
	// that exactly one metrics record is active at a time.
	SaveModelRun(ctx context.Context, run *ModelRun) error
	ActiveModelRun(ctx context.Context) (*ModelRun, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

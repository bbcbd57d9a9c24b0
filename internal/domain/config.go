package domain

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure choices
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Detection pipeline settings
	Pipeline PipelineConfig `json:"pipeline"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// Run modes for dataset generation and training budgets.
const (
	ModeDemo = "demo"
	ModeFull = "full"
)

// PipelineConfig holds the knobs for the detection pipeline. The numeric
// defaults are deliberate, fixed calibration constants; they are exposed
// here for configuration, not re-derivation.
type PipelineConfig struct {
	// Seed drives every random draw in the pipeline
	Seed int64 `json:"seed"`

	// Model selects the classifier implementation: "sage" or "mlp"
	Model string `json:"model"`

	// Explainer selects the attribution strategy:
	// "auto", "boosted-path", "boosted-perturb" or "ridge"
	Explainer string `json:"explainer"`

	// Classifier hyperparameters
	HiddenChannels int     `json:"hiddenChannels"`
	Dropout        float64 `json:"dropout"`
	LearningRate   float64 `json:"learningRate"`
	WeightDecay    float64 `json:"weightDecay"`
	EpochsDemo     int     `json:"epochsDemo"`
	EpochsFull     int     `json:"epochsFull"`

	// AlertThreshold is the minimum risk score that raises an alert
	AlertThreshold float64 `json:"alertThreshold"`
}

// Epochs returns the epoch budget for the given run mode.
func (c PipelineConfig) Epochs(mode string) int {
	if mode == ModeFull {
		return c.EpochsFull
	}
	return c.EpochsDemo
}

// DefaultPipelineConfig returns the pipeline defaults. Demo epochs are 60
// for reliable convergence on the ~5% positive rate.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Seed:           42,
		Model:          "sage",
		Explainer:      "auto",
		HiddenChannels: 64,
		Dropout:        0.3,
		LearningRate:   0.01,
		WeightDecay:    5e-4,
		EpochsDemo:     60,
		EpochsFull:     120,
		AlertThreshold: 0.50,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 300, // training requests run to completion
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300, // 5 minutes
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Pipeline: DefaultPipelineConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

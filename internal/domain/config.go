package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Pre-trained artifacts and scoring defaults
	Artifacts ArtifactConfig `json:"artifacts" yaml:"artifacts"`
	Scoring   ScoringConfig  `json:"scoring" yaml:"scoring"`
	Rules     RulesConfig    `json:"rules" yaml:"rules"`

	// Component configurations
	Sessions   SessionConfig    `json:"sessions" yaml:"sessions"`
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`
	Worker     WorkerConfig     `json:"worker" yaml:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// ScoringConfig holds scoring defaults.
type ScoringConfig struct {
	// DefaultThreshold applies when a request omits its threshold.
	DefaultThreshold float64 `json:"defaultThreshold" yaml:"default_threshold"`
}

// SessionConfig holds configuration for the session history store.
type SessionConfig struct {
	// Type is the store type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// TTL is the idle lifetime of a session. The session ends when it expires.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// In-memory LRU settings
	LocalMaxSize int `json:"localMaxSize" yaml:"local_max_size"`

	// Redis settings
	RedisAddr     string `json:"redisAddr" yaml:"redis_addr"`
	RedisPassword string `json:"-" yaml:"redis_password"`
	RedisDB       int    `json:"redisDb" yaml:"redis_db"`
}

// WorkerConfig controls the bus-driven scoring worker.
type WorkerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// RulesConfig selects the heuristic rule set.
type RulesConfig struct {
	// File is an optional YAML rule file. Empty means the built-in rules.
	File string `json:"file" yaml:"file"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// DefaultConfig returns a single-node configuration: in-memory sessions,
// channel bus, no evaluation repository.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Artifacts: ArtifactConfig{
			Dir:           "./artifacts",
			SchemaFile:    "feature_columns.json",
			ScalerFile:    "scaler.json",
			ModelFile:     "fraud_model.json",
			ScaledColumns: append([]string(nil), DefaultScaledColumns...),
		},
		Scoring: ScoringConfig{
			DefaultThreshold: DefaultThreshold,
		},
		Sessions: SessionConfig{
			Type:         "memory",
			TTL:          30 * time.Minute,
			LocalMaxSize: 10000,
		},
		Repository: RepositoryConfig{
			Driver:     "none",
			SQLitePath: "./kestrel.db",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

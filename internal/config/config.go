// Package config builds the Kestrel configuration from defaults, an optional
// YAML file and KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvConfigFile names the YAML configuration file.
const EnvConfigFile = "KESTREL_CONFIG"

// Load reads configuration in layers: defaults, the YAML file named by
// KESTREL_CONFIG, then environment variables. A .env file in the working
// directory is loaded first if present.
func Load() (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := domain.DefaultConfig()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current values.
func LoadFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays KESTREL_* variables onto cfg. Malformed values are
// reported together.
func ApplyEnv(cfg *domain.Config, lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	// Server
	e.setString("KESTREL_HOST", &cfg.Server.Host)
	e.setInt("KESTREL_PORT", &cfg.Server.Port)
	e.setInt("KESTREL_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.setInt("KESTREL_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)

	// Artifacts and scoring
	e.setString("KESTREL_ARTIFACTS_DIR", &cfg.Artifacts.Dir)
	e.setList("KESTREL_SCALED_COLUMNS", &cfg.Artifacts.ScaledColumns)
	e.setFloat("KESTREL_DEFAULT_THRESHOLD", &cfg.Scoring.DefaultThreshold)
	e.setString("KESTREL_RULES_FILE", &cfg.Rules.File)

	// Sessions
	e.setString("KESTREL_SESSION_STORE", &cfg.Sessions.Type)
	e.setDuration("KESTREL_SESSION_TTL", &cfg.Sessions.TTL)
	e.setInt("KESTREL_SESSION_MAX", &cfg.Sessions.LocalMaxSize)
	e.setString("KESTREL_REDIS_ADDR", &cfg.Sessions.RedisAddr)
	e.setString("KESTREL_REDIS_PASSWORD", &cfg.Sessions.RedisPassword)
	e.setInt("KESTREL_REDIS_DB", &cfg.Sessions.RedisDB)

	// Repository
	e.setString("KESTREL_REPOSITORY", &cfg.Repository.Driver)
	e.setString("KESTREL_SQLITE_PATH", &cfg.Repository.SQLitePath)
	e.setString("KESTREL_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	e.setInt("KESTREL_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	e.setString("KESTREL_POSTGRES_USER", &cfg.Repository.PostgresUser)
	e.setString("KESTREL_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	e.setString("KESTREL_POSTGRES_DB", &cfg.Repository.PostgresDB)
	e.setString("KESTREL_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	// Event bus and worker
	e.setString("KESTREL_EVENT_BUS", &cfg.EventBus.Type)
	e.setInt("KESTREL_CHANNEL_BUFFER", &cfg.EventBus.ChannelBufferSize)
	e.setString("KESTREL_NATS_URL", &cfg.EventBus.NATSUrl)
	e.setString("KESTREL_NATS_TOKEN", &cfg.EventBus.NATSToken)
	e.setString("KESTREL_NATS_QUEUE_GROUP", &cfg.EventBus.NATSQueueGroup)
	e.setBool("KESTREL_ASYNC_WORKER", &cfg.Worker.Enabled)

	// Observability
	e.setString("KESTREL_LOG_LEVEL", &cfg.Logging.Level)
	e.setString("KESTREL_LOG_FORMAT", &cfg.Logging.Format)
	e.setBool("KESTREL_METRICS", &cfg.Metrics.Enabled)
	e.setString("KESTREL_METRICS_PATH", &cfg.Metrics.Path)

	var debug bool
	e.setBool("KESTREL_DEBUG", &debug)
	if debug {
		cfg.Logging.Level = "debug"
	}

	return errors.Join(e.errs...)
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port must be in [1,65535], got %d", cfg.Server.Port))
	}
	if cfg.Artifacts.Dir == "" {
		errs = append(errs, fmt.Errorf("artifacts directory is required"))
	}
	if err := domain.ValidateThreshold(cfg.Scoring.DefaultThreshold); err != nil {
		errs = append(errs, fmt.Errorf("default threshold: %w", err))
	}

	switch cfg.Sessions.Type {
	case "memory", "":
	case "redis":
		if cfg.Sessions.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("redis session store requires an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported session store type: %s", cfg.Sessions.Type))
	}
	if cfg.Sessions.TTL < 0 {
		errs = append(errs, fmt.Errorf("session TTL must not be negative"))
	}

	switch cfg.Repository.Driver {
	case "none", "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository driver: %s", cfg.Repository.Driver))
	}

	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported event bus type: %s", cfg.EventBus.Type))
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unsupported log level: %s", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format: %s", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}

// envReader collects parse errors while reading variables.
type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (e *envReader) setFloat(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid number %q", key, v))
		return
	}
	*dst = f
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", key, v))
		return
	}
	*dst = b
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return
	}
	*dst = d
}

func (e *envReader) setList(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

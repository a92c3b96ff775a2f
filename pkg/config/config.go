package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration for the mend system.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Provider  ProviderConfig  `yaml:"provider"`
	Cache     CacheConfig     `yaml:"cache"`
	NATS      NATSConfig      `yaml:"nats"`
	Rollback  RollbackConfig  `yaml:"rollback"`
	Validator ValidatorConfig `yaml:"validator"`
	Detector  DetectorConfig  `yaml:"detector"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	HotReload HotReloadConfig `yaml:"hot_reload"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures the PostgreSQL store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ProviderConfig configures the AI completion service.
type ProviderConfig struct {
	Type        string        `yaml:"type"` // "openai" or "ollama"
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CacheConfig configures the completion response cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RedisURL   string        `yaml:"redis_url"` // empty = in-memory
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxSize    int           `yaml:"max_size"`
}

// NATSConfig configures the remediation event bus.
type NATSConfig struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	StreamName string        `yaml:"stream_name"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RollbackConfig configures the post-deployment watchdog.
type RollbackConfig struct {
	HealthEndpoint string        `yaml:"health_endpoint"`
	RepoPath       string        `yaml:"repo_path"`
	Remote         string        `yaml:"remote"`
	Branch         string        `yaml:"branch"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPolls       int           `yaml:"max_polls"`
	LockTTL        time.Duration `yaml:"lock_ttl"`
}

// ValidatorConfig configures the pre-deployment gate.
type ValidatorConfig struct {
	ProjectPath       string        `yaml:"project_path"`
	CompileCommand    []string      `yaml:"compile_command"`
	CompileTimeout    time.Duration `yaml:"compile_timeout"`
	SchemaCommand     []string      `yaml:"schema_command"`
	SchemaTimeout     time.Duration `yaml:"schema_timeout"`
	RequiredPaths     []string      `yaml:"required_paths"`
	MaxErrorsReported int           `yaml:"max_errors_reported"`
}

// DetectorConfig tunes the problem detector thresholds.
type DetectorConfig struct {
	SlowQueryThreshold    time.Duration `yaml:"slow_query_threshold"`
	ErrorSpikeWindow      time.Duration `yaml:"error_spike_window"`
	ErrorSpikeCount       int           `yaml:"error_spike_count"`
	StaleProblemThreshold time.Duration `yaml:"stale_problem_threshold"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// HotReloadConfig controls runtime reloading of tunable thresholds.
type HotReloadConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "host=localhost port=5432 user=mend password=mend dbname=mend sslmode=disable",
		},
		Provider: ProviderConfig{
			Type:        "openai",
			Endpoint:    "http://localhost:11434/v1",
			Model:       "llama3.1",
			Temperature: 0.2, // favor determinism
			MaxTokens:   2048,
			Timeout:     60 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			DefaultTTL: 1 * time.Hour,
			MaxSize:    10000,
		},
		NATS: NATSConfig{
			URL:        "nats://localhost:4222",
			StreamName: "MEND",
			Timeout:    10 * time.Second,
		},
		Rollback: RollbackConfig{
			HealthEndpoint: "http://localhost:8080/healthz",
			RepoPath:       ".",
			Remote:         "origin",
			Branch:         "main",
			PollInterval:   5 * time.Second,
			MaxPolls:       60, // 5 minutes total
			LockTTL:        10 * time.Minute,
		},
		Validator: ValidatorConfig{
			ProjectPath:       ".",
			CompileCommand:    []string{"npx", "tsc", "--noEmit"},
			CompileTimeout:    120 * time.Second,
			SchemaCommand:     []string{"npx", "prisma", "validate"},
			SchemaTimeout:     60 * time.Second,
			RequiredPaths:     []string{"node_modules", "package.json"},
			MaxErrorsReported: 10,
		},
		Detector: DetectorConfig{
			SlowQueryThreshold:    1 * time.Second,
			ErrorSpikeWindow:      24 * time.Hour,
			ErrorSpikeCount:       5,
			StaleProblemThreshold: 7 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "mend",
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file, applying
// defaults for anything the file does not set.
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// SaveToFile writes the configuration back out as YAML.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

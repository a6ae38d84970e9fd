package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the readiness engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	TextGen    TextGenConfig    `yaml:"textgen"`
	Indicators IndicatorsConfig `yaml:"indicators"`
	Detection  DetectionConfig  `yaml:"detection"`
	Patterns   PatternsConfig   `yaml:"patterns"`
	Readiness  ReadinessConfig  `yaml:"readiness"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	NATS       NATSConfig       `yaml:"nats"`
}

// ServerConfig controls the gRPC, dashboard HTTP and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig selects the persistent store. Driver is "postgres" or "sqlite".
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	PostgresURL string `yaml:"postgresURL"`
	SQLitePath  string `yaml:"sqlitePath"`
	Migrate     bool   `yaml:"migrate"`
}

// CacheConfig controls the Valkey-backed cache used for distributed run locks and feed memoization.
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Addr             string        `yaml:"addr"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	DialTimeout      time.Duration `yaml:"dialTimeout"`
	ReadTimeout      time.Duration `yaml:"readTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	MaxRetries       int           `yaml:"maxRetries"`
	TLS              bool          `yaml:"tls"`
	LockTTL          time.Duration `yaml:"lockTTL"`
	IndicatorFeedTTL time.Duration `yaml:"indicatorFeedTTL"`
}

// TextGenConfig configures the chat-completions compatible text-generation service.
type TextGenConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	APIKey            string        `yaml:"apiKey"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxTokens         int           `yaml:"maxTokens"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
}

// IndicatorsConfig configures the external indicator feed gateway.
type IndicatorsConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// DetectionConfig tunes the signal detector.
type DetectionConfig struct {
	Categories      []string      `yaml:"categories"`
	DedupeWindow    time.Duration `yaml:"dedupeWindow"`
	ZScoreThreshold float64       `yaml:"zscoreThreshold"`
	SpikeThreshold  float64       `yaml:"spikeThreshold"`
	SignalMaxAge    time.Duration `yaml:"signalMaxAge"`
}

// PatternsConfig tunes the pattern correlator.
type PatternsConfig struct {
	ArchetypesPath string        `yaml:"archetypesPath"`
	SignalWindow   int           `yaml:"signalWindow"`
	MaxEvidence    int           `yaml:"maxEvidence"`
	DedupeWindow   time.Duration `yaml:"dedupeWindow"`
}

// ReadinessConfig tunes the readiness scorer.
type ReadinessConfig struct {
	TrailingDays   int `yaml:"trailingDays"`
	CoverageTarget int `yaml:"coverageTarget"`
}

// SchedulerConfig drives the periodic per-organization cycle.
type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	Organizations []string      `yaml:"organizations"`
	Concurrency   int           `yaml:"concurrency"`
}

// KafkaConfig controls publication of activity feed events.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	ActivityTopic string   `yaml:"activityTopic"`
}

// NATSConfig controls subscriptions to execution completions and recompute requests.
type NATSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	URL               string `yaml:"url"`
	ExecutionsSubject string `yaml:"executionsSubject"`
	RecomputeSubject  string `yaml:"recomputeSubject"`
	QueueGroup        string `yaml:"queueGroup"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("READINESS_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgresURL is required for the postgres driver")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlitePath is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			HTTPAddress:     ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "data/readiness.db",
			Migrate:    true,
		},
		Cache: CacheConfig{
			DialTimeout:      2 * time.Second,
			ReadTimeout:      500 * time.Millisecond,
			WriteTimeout:     500 * time.Millisecond,
			MaxRetries:       2,
			LockTTL:          2 * time.Minute,
			IndicatorFeedTTL: 5 * time.Minute,
		},
		TextGen: TextGenConfig{
			Model:             "gpt-4o-mini",
			Timeout:           20 * time.Second,
			MaxTokens:         600,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Indicators: IndicatorsConfig{
			Path:    "/api/v1/indicators",
			Timeout: 5 * time.Second,
		},
		Detection: DetectionConfig{
			DedupeWindow:    time.Hour,
			ZScoreThreshold: 2.0,
			SpikeThreshold:  3.0,
			SignalMaxAge:    30 * 24 * time.Hour,
		},
		Patterns: PatternsConfig{
			ArchetypesPath: "configs/archetypes/default.yaml",
			SignalWindow:   50,
			MaxEvidence:    5,
			DedupeWindow:   24 * time.Hour,
		},
		Readiness: ReadinessConfig{
			TrailingDays:   30,
			CoverageTarget: 20,
		},
		Scheduler: SchedulerConfig{
			Interval:    15 * time.Minute,
			Concurrency: 4,
		},
		Kafka: KafkaConfig{ActivityTopic: "readiness.activity"},
		NATS: NATSConfig{
			ExecutionsSubject: "executions.completed",
			RecomputeSubject:  "readiness.recompute",
			QueueGroup:        "readiness-engine",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("READINESS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("READINESS_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("READINESS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("READINESS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("READINESS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("READINESS_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("READINESS_DATABASE_URL"); v != "" {
		cfg.Storage.PostgresURL = v
	}
	if v := os.Getenv("READINESS_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("READINESS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = envBool(v)
	}
	if v := os.Getenv("READINESS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("READINESS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("READINESS_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("READINESS_TEXTGEN_ENDPOINT"); v != "" {
		cfg.TextGen.Endpoint = v
	}
	if v := os.Getenv("READINESS_TEXTGEN_API_KEY"); v != "" {
		cfg.TextGen.APIKey = v
	}
	if v := os.Getenv("READINESS_TEXTGEN_MODEL"); v != "" {
		cfg.TextGen.Model = v
	}
	if v := os.Getenv("READINESS_TEXTGEN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TextGen.Timeout = d
		}
	}
	if v := os.Getenv("READINESS_INDICATORS_BASE_URL"); v != "" {
		cfg.Indicators.BaseURL = v
	}
	if v := os.Getenv("READINESS_ARCHETYPES_PATH"); v != "" {
		cfg.Patterns.ArchetypesPath = v
	}
	if v := os.Getenv("READINESS_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = envBool(v)
	}
	if v := os.Getenv("READINESS_SCHEDULER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if v := os.Getenv("READINESS_SCHEDULER_ORGANIZATIONS"); v != "" {
		cfg.Scheduler.Organizations = splitCSV(v)
	}
	if v := os.Getenv("READINESS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
		cfg.Kafka.Enabled = len(cfg.Kafka.Brokers) > 0
	}
	if v := os.Getenv("READINESS_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}
}

func envBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Schema     SchemaConfig     `yaml:"schema" mapstructure:"schema"`
	Graph      GraphConfig      `yaml:"graph" mapstructure:"graph"`
	Lineage    LineageConfig    `yaml:"lineage" mapstructure:"lineage"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// SchemaConfig configures where schema definitions load from.
type SchemaConfig struct {
	Source          string `yaml:"source" mapstructure:"source"`
	Dir             string `yaml:"dir" mapstructure:"dir"`
	DatabaseURL     string `yaml:"database_url" mapstructure:"database_url"`
	RefreshSecs     int    `yaml:"refresh_secs" mapstructure:"refresh_secs"`
	Watch           bool   `yaml:"watch" mapstructure:"watch"`
	WatchDebounceMs int    `yaml:"watch_debounce_ms" mapstructure:"watch_debounce_ms"`
}

// GraphConfig configures the graph store backend.
type GraphConfig struct {
	Backend     string `yaml:"backend" mapstructure:"backend"`
	URI         string `yaml:"uri" mapstructure:"uri"`
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	Database    string `yaml:"database" mapstructure:"database"`
	MaxPoolSize int    `yaml:"max_pool_size" mapstructure:"max_pool_size"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	JSONLPath   string `yaml:"jsonl_path" mapstructure:"jsonl_path"`
}

// LineageConfig configures the lineage store backend.
type LineageConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int    `yaml:"min_conns" mapstructure:"min_conns"`
}

// IngestConfig configures batch dispatch behavior.
type IngestConfig struct {
	Dir              string  `yaml:"dir" mapstructure:"dir"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
	DispatchRate     float64 `yaml:"dispatch_rate" mapstructure:"dispatch_rate"`
	DispatchBurst    int     `yaml:"dispatch_burst" mapstructure:"dispatch_burst"`
	CounterFlushSecs int     `yaml:"counter_flush_secs" mapstructure:"counter_flush_secs"`
}

// RetryConfig configures store retry backoff.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures the per-store circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port              int `yaml:"port" mapstructure:"port"`
	ShutdownGraceSecs int `yaml:"shutdown_grace_secs" mapstructure:"shutdown_grace_secs"`
}

// MonitoringConfig configures the periodic health checker and alerting.
type MonitoringConfig struct {
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold     float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	QuarantineRateThreshold  float64 `yaml:"quarantine_rate_threshold" mapstructure:"quarantine_rate_threshold"`
	QuarantineDepthThreshold int     `yaml:"quarantine_depth_threshold" mapstructure:"quarantine_depth_threshold"`
	WebhookURL               string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REGINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("schema.source", "dir")
	v.SetDefault("schema.dir", "./schemas")
	v.SetDefault("schema.refresh_secs", 300)
	v.SetDefault("schema.watch", true)
	v.SetDefault("schema.watch_debounce_ms", 500)
	v.SetDefault("graph.backend", "neo4j")
	v.SetDefault("graph.uri", "bolt://localhost:7687")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.database", "neo4j")
	v.SetDefault("graph.max_pool_size", 50)
	v.SetDefault("graph.timeout_secs", 10)
	v.SetDefault("graph.jsonl_path", "./graph.jsonl")
	v.SetDefault("lineage.driver", "postgres")
	v.SetDefault("lineage.sqlite_path", "./lineage.db")
	v.SetDefault("lineage.max_conns", 10)
	v.SetDefault("lineage.min_conns", 2)
	v.SetDefault("ingest.dir", "./inbox")
	v.SetDefault("ingest.concurrency", 8)
	v.SetDefault("ingest.dispatch_rate", 50.0)
	v.SetDefault("ingest.dispatch_burst", 10)
	v.SetDefault("ingest.counter_flush_secs", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_grace_secs", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.quarantine_rate_threshold", 0.10)
	v.SetDefault("monitoring.quarantine_depth_threshold", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode.
// Modes narrow the checks to what the command actually touches: "lineage"
// for run and quarantine inspection, "schema" for schema tooling, "ingest"
// for document processing, and "serve" for the HTTP server.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "lineage":
		problems = append(problems, c.lineageProblems()...)
	case "schema":
		problems = append(problems, c.schemaProblems()...)
	case "ingest":
		problems = append(problems, c.schemaProblems()...)
		problems = append(problems, c.graphProblems()...)
		problems = append(problems, c.lineageProblems()...)
		problems = append(problems, c.ingestProblems()...)
	case "serve":
		problems = append(problems, c.schemaProblems()...)
		problems = append(problems, c.graphProblems()...)
		problems = append(problems, c.lineageProblems()...)
		problems = append(problems, c.ingestProblems()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) == 0 {
		return nil
	}
	return eris.Errorf("config: %s", strings.Join(problems, "; "))
}

func (c *Config) schemaProblems() []string {
	var problems []string
	switch c.Schema.Source {
	case "dir":
		if c.Schema.Dir == "" {
			problems = append(problems, "schema.dir is required")
		}
	case "postgres":
		if c.Schema.DatabaseURL == "" {
			problems = append(problems, "schema.database_url is required")
		}
	default:
		problems = append(problems, "schema.source must be dir or postgres")
	}
	return problems
}

func (c *Config) graphProblems() []string {
	var problems []string
	switch c.Graph.Backend {
	case "neo4j":
		if c.Graph.URI == "" {
			problems = append(problems, "graph.uri is required")
		}
	case "jsonl":
		if c.Graph.JSONLPath == "" {
			problems = append(problems, "graph.jsonl_path is required")
		}
	case "memory":
		// No settings needed.
	default:
		problems = append(problems, "graph.backend must be neo4j, jsonl or memory")
	}
	return problems
}

func (c *Config) lineageProblems() []string {
	var problems []string
	switch c.Lineage.Driver {
	case "postgres":
		if c.Lineage.DatabaseURL == "" {
			problems = append(problems, "lineage.database_url is required")
		}
	case "sqlite":
		if c.Lineage.SQLitePath == "" {
			problems = append(problems, "lineage.sqlite_path is required")
		}
	default:
		problems = append(problems, "lineage.driver must be postgres or sqlite")
	}
	return problems
}

func (c *Config) ingestProblems() []string {
	var problems []string
	if c.Ingest.Concurrency < 1 || c.Ingest.Concurrency > 64 {
		problems = append(problems, "ingest.concurrency must be between 1 and 64")
	}
	if c.Ingest.DispatchRate <= 0 {
		problems = append(problems, "ingest.dispatch_rate must be > 0")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry.max_attempts must be >= 1")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		problems = append(problems, "retry.jitter_fraction must be between 0 and 1")
	}
	return problems
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Package config provides configuration parsing for the forecaster binary.
//
// Runtime settings come from command-line flags and environment variables,
// with flags taking precedence. Source-specific settings are read from
// prefixed environment variables:
//   - ADAPTER_* configures the target series adapter (ADAPTER_QUERY → query)
//   - EXOG_* configures the optional exogenous series adapter
//
// Pipeline hyperparameters (order search bounds, feature windows, network
// width, trainer schedule) default to the library defaults and may be
// overridden by a YAML file passed with -config-file.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	f, err := hybrid.New(cfg.Pipeline.Options(logger)...)
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// Config holds all forecaster configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	MemoryTTL     time.Duration

	Series        string
	Adapter       string
	AdapterConfig map[string]string
	ExogAdapter   string
	ExogConfig    map[string]string

	Horizon  int
	Interval time.Duration
	Seed     uint64
	Workers  int
	Once     bool

	ConfigFile string
	Pipeline   Pipeline
}

var seriesNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9_-]{0,251}[a-zA-Z0-9])?$`)

// ParseFlags parses os.Args and the environment into a Config, exiting the
// process on invalid configuration.
func ParseFlags() *Config {
	cfg, err := Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// Parse registers the forecaster flags on fs, parses args and validates the
// result. Environment variables supply the flag defaults.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8081"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":9091"), "gRPC health listen address (empty to disable)")

	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	fs.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory or redis")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	fs.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	fs.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 48*time.Hour), "Redis snapshot TTL")
	fs.DurationVar(&cfg.MemoryTTL, "memory-ttl", getEnvDuration("MEMORY_TTL", 0), "In-memory snapshot TTL (0 keeps snapshots forever)")

	fs.StringVar(&cfg.Series, "series", getEnv("SERIES", "mood"), "Target series name")
	fs.StringVar(&cfg.Adapter, "adapter", getEnv("ADAPTER", "csv"), "Target adapter: csv, prometheus, victoriametrics, or http")
	fs.StringVar(&cfg.ExogAdapter, "exog-adapter", getEnv("EXOG_ADAPTER", ""), "Exogenous series adapter (empty for none)")

	fs.IntVar(&cfg.Horizon, "horizon", getEnvInt("HORIZON", 7), "Forecast horizon in days")
	fs.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", 24*time.Hour), "Forecast loop interval")
	fs.Uint64Var(&cfg.Seed, "seed", uint64(getEnvInt("SEED", 42)), "Random seed for weights, dropout and shuffling")
	fs.IntVar(&cfg.Workers, "workers", getEnvInt("WORKERS", 1), "Trainer gradient workers")
	fs.BoolVar(&cfg.Once, "once", getEnvBool("ONCE", false), "Run the pipeline once, print the snapshot as JSON and exit")

	fs.StringVar(&cfg.ConfigFile, "config-file", getEnv("CONFIG_FILE", ""), "YAML file with pipeline hyperparameters")
	trainFraction := fs.Float64("train-fraction", getEnvFloat("TRAIN_FRACTION", 0), "Share of samples used for training (0 keeps the pipeline value)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.AdapterConfig = parsePrefixedConfig("ADAPTER_")
	cfg.ExogConfig = parsePrefixedConfig("EXOG_")
	delete(cfg.ExogConfig, "adapter")

	cfg.Pipeline = DefaultPipeline()
	if cfg.ConfigFile != "" {
		p, err := LoadPipeline(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.Pipeline = p
	}
	if *trainFraction != 0 {
		cfg.Pipeline.TrainFraction = *trainFraction
	}
	cfg.Pipeline.Seed = cfg.Seed
	cfg.Pipeline.Train.Workers = cfg.Workers

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the runtime settings. Pipeline hyperparameters are
// validated by the pipeline itself.
func (c *Config) Validate() error {
	var errs []error

	if !seriesNameRegex.MatchString(c.Series) {
		errs = append(errs, fmt.Errorf("invalid series name %q (must be alphanumeric with dash/underscore, 1-253 chars)", c.Series))
	}
	if c.Adapter == "" {
		errs = append(errs, errors.New("adapter cannot be empty"))
	}
	if c.Horizon < 1 {
		errs = append(errs, fmt.Errorf("horizon must be >= 1 day, got %d", c.Horizon))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be > 0, got %v", c.Interval))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	switch c.Storage {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("invalid storage %q (must be memory or redis)", c.Storage))
	}
	if c.Storage == "redis" && c.RedisAddr == "" {
		errs = append(errs, errors.New("redis-addr is required when storage=redis"))
	}
	if c.MemoryTTL < 0 {
		errs = append(errs, fmt.Errorf("memory-ttl cannot be negative, got %v", c.MemoryTTL))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q (must be text or json)", c.LogFormat))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// TargetConfig returns the target adapter configuration with the series name
// filled in.
func (c *Config) TargetConfig() map[string]string {
	return withName(c.AdapterConfig, c.Series)
}

// ExogAdapterConfig returns the exogenous adapter configuration. The series
// is named "temperature" unless EXOG_NAME says otherwise.
func (c *Config) ExogAdapterConfig() map[string]string {
	return withName(c.ExogConfig, "temperature")
}

func withName(config map[string]string, name string) map[string]string {
	out := make(map[string]string, len(config)+1)
	for k, v := range config {
		out[k] = v
	}
	if out["name"] == "" {
		out["name"] = name
	}
	return out
}

// parsePrefixedConfig parses environment variables starting with prefix into
// a generic configuration map. Names are converted to camelCase for the map
// keys (ADAPTER_VALUE_PATH → valuePath).
func parsePrefixedConfig(prefix string) map[string]string {
	config := make(map[string]string)

	for _, env := range os.Environ() {
		key, value, ok := strings.Cut(env, "=")
		if !ok || len(key) <= len(prefix) || !strings.HasPrefix(key, prefix) {
			continue
		}
		config[toLowerCamelCase(key[len(prefix):])] = value
	}

	return config
}

func toLowerCamelCase(s string) string {
	if s == "" {
		return s
	}
	parts := []rune(s)
	result := make([]rune, 0, len(parts))
	nextUpper := false
	for i, r := range parts {
		if r == '_' {
			nextUpper = true
			continue
		}
		if i == 0 {
			result = append(result, toLower(r))
		} else if nextUpper {
			result = append(result, r)
			nextUpper = false
		} else {
			result = append(result, toLower(r))
		}
	}
	return string(result)
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + 32
	}
	return r
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

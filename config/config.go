package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// DefaultPath is read when neither -config nor CONFIG_PATH is given.
const DefaultPath = "config.yaml"

// Config holds settings shared by the API server and the trainer.
type Config struct {
	Env      string         `yaml:"env"`
	HTTP     HTTPConfig     `yaml:"http"`
	Model    ModelConfig    `yaml:"model"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Training TrainingConfig `yaml:"training"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeoutSec  int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `yaml:"write_timeout_sec"`
	ShutdownSec     int      `yaml:"shutdown_timeout_sec"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes"`
}

// ModelConfig locates the artifacts the trainer writes and the server reads.
type ModelConfig struct {
	Path         string `yaml:"path"`
	MetadataPath string `yaml:"metadata_path"`
	// FailFast aborts startup when the model cannot be loaded.
	FailFast bool `yaml:"fail_fast"`
	Watch    bool `yaml:"watch"`
}

type CacheConfig struct {
	Size int `yaml:"size"` // negative disables the cache
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error (default: determined by env)
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// TrainingConfig drives cmd/train_model.
type TrainingConfig struct {
	NSamples       int           `yaml:"n_samples"`
	Seed           int64         `yaml:"seed"`
	TestRatio      float64       `yaml:"test_ratio"`
	NEstimators    int           `yaml:"n_estimators"`
	MaxDepth       int           `yaml:"max_depth"` // 0 = unlimited
	MinSamplesLeaf int           `yaml:"min_samples_leaf"`
	Version        string        `yaml:"version"`
	Dataset        DatasetConfig `yaml:"dataset"`
}

// DatasetConfig points the trainer at real data; an empty path means synthetic.
type DatasetConfig struct {
	Path        string `yaml:"path"`
	Format      string `yaml:"format"`
	Table       string `yaml:"table"`
	LabelColumn string `yaml:"label_column"`
	Encoding    string `yaml:"encoding"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads the YAML file at path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		path = ResolvePath("")
	}

	var cfg Config
	data, err := os.ReadFile(filepath.Clean(path))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		// Substitute env variables of the form ${VAR}
		data = expandEnvVars(data)
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ResolvePath picks the config file: explicit flag, then CONFIG_PATH, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return DefaultPath
}

func (c *Config) applyEnvOverrides() {
	if env := os.Getenv("ENV"); env != "" {
		c.Env = env
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		c.HTTP.Port = port
	}
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.Env == "" {
		c.Env = "local"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8000
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"*"}
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 1 << 20
	}
	if c.Model.Path == "" {
		c.Model.Path = "diabetes_model.json"
	}
	if c.Model.MetadataPath == "" {
		c.Model.MetadataPath = "model_metadata.json"
	}
	if c.Cache.Size == 0 {
		c.Cache.Size = 1024
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 28
	}
	if c.Training.NSamples <= 0 {
		c.Training.NSamples = 1000
	}
	if c.Training.Seed == 0 {
		c.Training.Seed = 42
	}
	if c.Training.TestRatio == 0 {
		c.Training.TestRatio = 0.2
	}
	if c.Training.NEstimators <= 0 {
		c.Training.NEstimators = 100
	}
	if c.Training.MinSamplesLeaf <= 0 {
		c.Training.MinSamplesLeaf = 1
	}
	if c.Training.Version == "" {
		c.Training.Version = "1.0"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	switch c.Env {
	case "local", "dev", "docker", "prod":
	default:
		return fmt.Errorf("env must be one of local, dev, docker, prod, got %q", c.Env)
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Training.TestRatio <= 0 || c.Training.TestRatio >= 1 {
		return fmt.Errorf("training.test_ratio must be in (0, 1), got %v", c.Training.TestRatio)
	}
	if c.Training.MaxDepth < 0 {
		return fmt.Errorf("training.max_depth must be >= 0, got %d", c.Training.MaxDepth)
	}
	switch c.Training.Dataset.Format {
	case "", "csv", "sqlite":
	default:
		return fmt.Errorf("training.dataset.format must be csv or sqlite, got %q", c.Training.Dataset.Format)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}

// Package config provides configuration management for the federation trust
// core. It supports loading configuration from YAML files and environment
// variables, following the same shape as the upstream go-trust config
// package but extended with the Federation section spec.md §6 describes
// (entity_id, trust_anchors, authority_hints, signing_alg, lifetime,
// tr_priority).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration structure.
// It includes settings for the server, logging, pipeline processing,
// security, and the federation entity itself.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Security   SecurityConfig   `yaml:"security"`
	Federation FederationConfig `yaml:"federation"`
}

// ServerConfig contains HTTP server configuration settings.
type ServerConfig struct {
	Host      string        `yaml:"host"`
	Port      string        `yaml:"port"`
	Frequency time.Duration `yaml:"frequency"`
}

// LoggingConfig contains logging configuration settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PipelineConfig contains outbound-fetch configuration settings. Timeout,
// MaxRetries and RateLimitRPS configure pkg/httpfetch; MaxRequestSize,
// MaxRedirects and AllowedHosts are loaded and validated but are not
// applied to outbound fetches.
type PipelineConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxRequestSize int64         `yaml:"max_request_size"`
	MaxRedirects   int           `yaml:"max_redirects"`
	MaxRetries     int           `yaml:"max_retries"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	AllowedHosts   []string      `yaml:"allowed_hosts"`
}

// SecurityConfig contains security-related configuration settings.
type SecurityConfig struct {
	RateLimitRPS   int      `yaml:"rate_limit_rps"`
	EnableCORS     bool     `yaml:"enable_cors"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// FederationConfig is the recognized federation option set of spec.md §6:
// entity_id, trust_anchors, authority_hints, trust_marks, tr_priority,
// lifetime, signing_alg. Unknown YAML keys under `federation:` are a
// configuration error (spec.md §9's "explicit configuration structs ...
// unknown options are a configuration error" design note), rejected by
// LoadConfig's strict (KnownFields) YAML decoding.
type FederationConfig struct {
	EntityID        string            `yaml:"entity_id"`
	SigningKeysPath string            `yaml:"signing_keys_path"` // path to a JWKS file holding this entity's private keys
	TrustAnchors    map[string]string `yaml:"trust_anchors"`     // anchor_id -> path to pinned JWKS
	AuthorityHints  []string          `yaml:"authority_hints"`
	TrustMarks      []string          `yaml:"trust_marks"` // compact JWSes to advertise
	TrPriority      []string          `yaml:"tr_priority"`
	Lifetime        int64             `yaml:"lifetime"`
	SigningAlg      string            `yaml:"signing_alg"`
	StoreDir        string            `yaml:"store_dir"` // root directory for subordinate registry and trust-mark status persistence
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      "6001",
			Frequency: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Pipeline: PipelineConfig{
			Timeout:        30 * time.Second,
			MaxRequestSize: 10 * 1024 * 1024, // 10MB
			MaxRedirects:   3,
			MaxRetries:     3,
			RateLimitRPS:   10,
			AllowedHosts:   []string{},
		},
		Security: SecurityConfig{
			RateLimitRPS:   100,
			EnableCORS:     false,
			AllowedOrigins: []string{},
		},
		Federation: FederationConfig{
			Lifetime:   86400,
			SigningAlg: "RS256",
		},
	}
}

// validateConfigPath rejects paths that escape the working directory via
// ".." components or resolve to a directory, the same shape of check the
// upstream go-trust config package performs before reading a file.
func validateConfigPath(path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("config path must not contain '..': %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config path does not exist: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path is a directory, not a file: %s", path)
	}
	if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("config path must have a .yaml or .yml extension: %s", path)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file and applies environment
// variable overrides. It returns the merged configuration or an error if
// loading fails.
//
// Environment variables override configuration file values using the GT_
// prefix:
//   - GT_HOST, GT_PORT, GT_FREQUENCY for server settings
//   - GT_LOG_LEVEL, GT_LOG_FORMAT, GT_LOG_OUTPUT for logging
//   - GT_RATE_LIMIT_RPS for security settings
//   - GT_FEDERATION_ENTITY_ID, GT_FEDERATION_SIGNING_ALG, GT_FEDERATION_LIFETIME,
//     GT_FEDERATION_SIGNING_KEYS_PATH, GT_FEDERATION_STORE_DIR
//
// If configPath is empty, only default values and environment variables are
// used.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := validateConfigPath(configPath); err != nil {
			return nil, fmt.Errorf("invalid config path: %w", err)
		}

		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		decoder := yaml.NewDecoder(strings.NewReader(string(data)))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables take precedence over config file
// values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GT_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("GT_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("GT_FREQUENCY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.Frequency = d
		}
	}

	if v := os.Getenv("GT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("GT_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}

	if v := os.Getenv("GT_PIPELINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Pipeline.Timeout = d
		}
	}
	if v := os.Getenv("GT_MAX_REQUEST_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Pipeline.MaxRequestSize = size
		}
	}
	if v := os.Getenv("GT_MAX_REDIRECTS"); v != "" {
		if redirects, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MaxRedirects = redirects
		}
	}
	if v := os.Getenv("GT_ALLOWED_HOSTS"); v != "" {
		cfg.Pipeline.AllowedHosts = strings.Split(v, ",")
	}

	if v := os.Getenv("GT_RATE_LIMIT_RPS"); v != "" {
		if rps, err := strconv.Atoi(v); err == nil {
			cfg.Security.RateLimitRPS = rps
		}
	}
	if v := os.Getenv("GT_ENABLE_CORS"); v != "" {
		cfg.Security.EnableCORS = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("GT_ALLOWED_ORIGINS"); v != "" {
		cfg.Security.AllowedOrigins = strings.Split(v, ",")
	}

	if v := os.Getenv("GT_FEDERATION_ENTITY_ID"); v != "" {
		cfg.Federation.EntityID = v
	}
	if v := os.Getenv("GT_FEDERATION_SIGNING_ALG"); v != "" {
		cfg.Federation.SigningAlg = v
	}
	if v := os.Getenv("GT_FEDERATION_LIFETIME"); v != "" {
		if lifetime, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Federation.Lifetime = lifetime
		}
	}
	if v := os.Getenv("GT_FEDERATION_AUTHORITY_HINTS"); v != "" {
		cfg.Federation.AuthorityHints = strings.Split(v, ",")
	}
	if v := os.Getenv("GT_FEDERATION_TR_PRIORITY"); v != "" {
		cfg.Federation.TrPriority = strings.Split(v, ",")
	}
	if v := os.Getenv("GT_FEDERATION_SIGNING_KEYS_PATH"); v != "" {
		cfg.Federation.SigningKeysPath = v
	}
	if v := os.Getenv("GT_FEDERATION_STORE_DIR"); v != "" {
		cfg.Federation.StoreDir = v
	}
}

// Validate checks if the configuration is valid.
// It returns an error if any configuration value is invalid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Frequency <= 0 {
		return fmt.Errorf("server frequency must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Pipeline.Timeout <= 0 {
		return fmt.Errorf("pipeline timeout must be positive")
	}
	if c.Pipeline.MaxRequestSize <= 0 {
		return fmt.Errorf("max request size must be positive")
	}
	if c.Pipeline.MaxRedirects < 0 {
		return fmt.Errorf("max redirects cannot be negative")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if c.Security.RateLimitRPS <= 0 {
		return fmt.Errorf("rate limit RPS must be positive")
	}

	if c.Federation.EntityID != "" {
		if c.Federation.Lifetime <= 0 {
			return fmt.Errorf("federation lifetime must be positive")
		}
		if c.Federation.SigningAlg == "" {
			return fmt.Errorf("federation signing_alg cannot be empty")
		}
		if c.Federation.SigningKeysPath == "" {
			return fmt.Errorf("federation signing_keys_path cannot be empty")
		}
	}

	return nil
}

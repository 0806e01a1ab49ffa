// Package config loads service configuration from defaults, an optional YAML
// file named by LOTTERY_CONFIG, and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config_version this build writes and understands.
const CurrentVersion = "1.1.0"

// supportedVersions is the range of config files this build accepts.
const supportedVersions = ">= 1.0.0, < 2.0.0"

// Config holds server configuration.
type Config struct {
	ConfigVersion string `yaml:"config_version"`
	Port          string `yaml:"port"`
	LogLevel      string `yaml:"log_level"`
	// Production refuses to generate a missing admin key.
	Production bool `yaml:"production"`

	// DatabaseURL selects Postgres. Empty runs lite mode on SQLite at DataDir.
	DatabaseURL string `yaml:"database_url"`
	DataDir     string `yaml:"data_dir"`

	Owner          string        `yaml:"owner"`
	AdminKeyFile   string        `yaml:"admin_key_file"`
	CrankInterval  time.Duration `yaml:"crank_interval"`
	RandomnessSeed string        `yaml:"randomness_seed"`

	JWTSecret   string   `yaml:"jwt_secret"`
	JWTIssuer   string   `yaml:"jwt_issuer"`
	CORSOrigins []string `yaml:"cors_origins"`

	RedisURL       string        `yaml:"redis_url"`
	RateLimitRPM   int           `yaml:"rate_limit_rpm"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`

	Snapshot      SnapshotConfig      `yaml:"snapshot"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// SnapshotConfig points at the participant data service.
type SnapshotConfig struct {
	BaseURL string        `yaml:"base_url"`
	Secret  string        `yaml:"secret"`
	Filter  string        `yaml:"filter"`
	Timeout time.Duration `yaml:"timeout"`
}

// ArchiveConfig selects where raw snapshot responses are kept.
type ArchiveConfig struct {
	Type     string `yaml:"type"` // "fs", "s3" or "gcs"
	Path     string `yaml:"path"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// ObservabilityConfig controls OTLP export.
type ObservabilityConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Insecure bool    `yaml:"insecure"`
	CAFile   string  `yaml:"ca_file"`
	Sample   float64 `yaml:"sample_rate"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ConfigVersion:  CurrentVersion,
		Port:           "8080",
		LogLevel:       "INFO",
		DataDir:        "data",
		AdminKeyFile:   "data/admin.key",
		CrankInterval:  24 * time.Hour,
		JWTIssuer:      "likelottery",
		RateLimitRPM:   120,
		RateLimitBurst: 20,
		IdempotencyTTL: 24 * time.Hour,
		Snapshot: SnapshotConfig{
			BaseURL: "https://api.like.co",
			Timeout: 30 * time.Second,
		},
		Archive: ArchiveConfig{Type: "fs"},
		Observability: ObservabilityConfig{
			Endpoint: "localhost:4317",
			Insecure: true,
			Sample:   1.0,
		},
	}
}

// Load builds the configuration and validates it.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv("LOTTERY_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	str("DATABASE_URL", &c.DatabaseURL)
	str("DATA_DIR", &c.DataDir)
	str("OWNER_ADDRESS", &c.Owner)
	str("ADMIN_KEY_FILE", &c.AdminKeyFile)
	str("RANDOMNESS_SEED", &c.RandomnessSeed)
	str("JWT_SECRET", &c.JWTSecret)
	str("JWT_ISSUER", &c.JWTIssuer)
	str("REDIS_URL", &c.RedisURL)
	str("LIKE_API_BASE", &c.Snapshot.BaseURL)
	str("LIKE_API_SECRET", &c.Snapshot.Secret)
	str("SNAPSHOT_FILTER", &c.Snapshot.Filter)
	str("ARCHIVE_TYPE", &c.Archive.Type)
	str("ARCHIVE_PATH", &c.Archive.Path)
	str("ARCHIVE_BUCKET", &c.Archive.Bucket)
	str("ARCHIVE_REGION", &c.Archive.Region)
	str("ARCHIVE_ENDPOINT", &c.Archive.Endpoint)
	str("ARCHIVE_PREFIX", &c.Archive.Prefix)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Observability.Endpoint)
	str("OTEL_CA_FILE", &c.Observability.CAFile)

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSOrigins = append(c.CORSOrigins, o)
			}
		}
	}
	if os.Getenv("LOTTERY_ENV") == "production" {
		c.Production = true
	}
	if os.Getenv("OTEL_ENABLED") == "true" {
		c.Observability.Enabled = true
	}

	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur("CRANK_INTERVAL", &c.CrankInterval)
	dur("IDEMPOTENCY_TTL", &c.IdempotencyTTL)
	dur("SNAPSHOT_TIMEOUT", &c.Snapshot.Timeout)
	num("RATE_LIMIT_RPM", &c.RateLimitRPM)
	num("RATE_LIMIT_BURST", &c.RateLimitBurst)
	return errors.Join(errs...)
}

// Validate checks version compatibility and field values.
func (c *Config) Validate() error {
	if err := CheckVersion(c.ConfigVersion); err != nil {
		return err
	}
	var errs []error
	if c.Owner != "" && !common.IsHexAddress(c.Owner) {
		errs = append(errs, fmt.Errorf("owner %q is not a 0x address", c.Owner))
	}
	if c.CrankInterval <= 0 {
		errs = append(errs, errors.New("crank_interval must be positive"))
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	switch c.Archive.Type {
	case "fs":
	case "s3", "gcs":
		if c.Archive.Bucket == "" {
			errs = append(errs, fmt.Errorf("archive bucket is required for %s", c.Archive.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported archive type %q", c.Archive.Type))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// CheckVersion rejects config files written for an incompatible major version.
// An empty version is treated as current.
func CheckVersion(v string) error {
	if v == "" {
		return nil
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("config_version %q: %w", v, err)
	}
	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return fmt.Errorf("config version constraint: %w", err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("config_version %s is not supported (want %s)", version, supportedVersions)
	}
	return nil
}

// ParseLevel maps LOG_LEVEL onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("log_level %q: %w", s, err)
	}
	return level, nil
}

// SQLitePath is the lite-mode database file.
func (c *Config) SQLitePath() string {
	return strings.TrimSuffix(c.DataDir, "/") + "/likelottery.db"
}

// ArchivePath is the filesystem archive root.
func (c *Config) ArchivePath() string {
	if c.Archive.Path != "" {
		return c.Archive.Path
	}
	return strings.TrimSuffix(c.DataDir, "/") + "/archive"
}

// OwnerAddress returns the configured deployer, if any.
func (c *Config) OwnerAddress() (common.Address, bool) {
	if c.Owner == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(c.Owner), true
}

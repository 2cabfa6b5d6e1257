package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageS3       = "s3"
	StorageBolt     = "bolt"
	StorageMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken  string `yaml:"github_token"`
	GitHubAPIURL string `yaml:"github_api_url"`
	GitHubOrg    string `yaml:"github_org"`
	PageSize     int    `yaml:"page_size"`

	// Remote call policy
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RequestRetries int           `yaml:"request_retries"`

	// Lifecycle
	GraceDays       int           `yaml:"grace_days"`
	ArchiveInterval time.Duration `yaml:"archive_interval"`

	// Storage
	StorageType   string   `yaml:"storage_type"` // "sqlite", "postgres", "s3", "bolt" or "memory"
	StoragePrefix string   `yaml:"storage_prefix"`
	SQLitePath    string   `yaml:"sqlite_path"`
	PostgresURL   string   `yaml:"postgres_url"`
	BoltPath      string   `yaml:"bolt_path"`
	S3            S3Config `yaml:"s3"`

	// API Server
	APIPort string `yaml:"api_port"`
	APIHost string `yaml:"api_host"`

	// CLI
	APIEndpoint string `yaml:"api_endpoint"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "console"
}

// S3Config holds the S3-compatible bucket settings
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Load loads the configuration from an optional file and environment variables.
// A *.yaml/*.yml path is decoded as YAML; any other path is read as a dotenv file.
// Environment variables always take precedence.
func Load(path string) (*Config, error) {
	// Numeric defaults are set before decoding so an explicit 0 in the file survives
	cfg := &Config{
		PageSize:       30,
		RequestTimeout: 30 * time.Second,
		RequestRetries: 1,
		GraceDays:      30,
	}

	switch ext := strings.ToLower(filepath.Ext(path)); {
	case path == "":
		// Load .env file if it exists (ignore error if not found)
		_ = godotenv.Load()
	case ext == ".yaml" || ext == ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Field: "config", Message: err.Error()}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Field: "config", Message: "invalid yaml: " + err.Error()}
		}
	default:
		if err := godotenv.Load(path); err != nil {
			return nil, &ConfigError{Field: "config", Message: err.Error()}
		}
	}

	var err error
	cfg.GitHubToken = getEnv("GITHUB_TOKEN", cfg.GitHubToken)
	cfg.GitHubAPIURL = getEnv("GITHUB_API_URL", firstNonEmpty(cfg.GitHubAPIURL, "https://api.github.com/"))
	cfg.GitHubOrg = getEnv("GITHUB_ORG", cfg.GitHubOrg)
	if cfg.PageSize, err = getEnvInt("PAGE_SIZE", cfg.PageSize); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.RequestRetries, err = getEnvInt("REQUEST_RETRIES", cfg.RequestRetries); err != nil {
		return nil, err
	}
	if cfg.GraceDays, err = getEnvInt("GRACE_DAYS", cfg.GraceDays); err != nil {
		return nil, err
	}
	if cfg.ArchiveInterval, err = getEnvDuration("ARCHIVE_INTERVAL", cfg.ArchiveInterval); err != nil {
		return nil, err
	}

	cfg.StorageType = getEnv("STORAGE_TYPE", firstNonEmpty(cfg.StorageType, StorageSQLite))
	cfg.StoragePrefix = getEnv("STORAGE_PREFIX", firstNonEmpty(cfg.StoragePrefix, "repo-archive/"))
	cfg.SQLitePath = getEnv("SQLITE_PATH", firstNonEmpty(cfg.SQLitePath, "./archiver.db"))
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	cfg.BoltPath = getEnv("BOLT_PATH", firstNonEmpty(cfg.BoltPath, "./archiver.bolt"))

	cfg.S3.Endpoint = getEnv("S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.Region = getEnv("S3_REGION", firstNonEmpty(cfg.S3.Region, "us-east-1"))
	cfg.S3.AccessKey = getEnv("S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = getEnv("S3_SECRET_KEY", cfg.S3.SecretKey)
	cfg.S3.Bucket = getEnv("S3_BUCKET", cfg.S3.Bucket)
	if raw := os.Getenv("S3_USE_SSL"); raw != "" {
		useSSL, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &ConfigError{Field: "S3_USE_SSL", Message: "must be a boolean"}
		}
		cfg.S3.UseSSL = useSSL
	}

	cfg.APIPort = getEnv("API_PORT", firstNonEmpty(cfg.APIPort, "8080"))
	cfg.APIHost = getEnv("API_HOST", firstNonEmpty(cfg.APIHost, "localhost"))
	cfg.APIEndpoint = getEnv("API_ENDPOINT", firstNonEmpty(cfg.APIEndpoint, "http://localhost:8080"))

	cfg.LogLevel = getEnv("LOG_LEVEL", firstNonEmpty(cfg.LogLevel, "info"))
	cfg.LogFormat = getEnv("LOG_FORMAT", firstNonEmpty(cfg.LogFormat, "json"))

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be an integer"}
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a duration such as 30s or 24h"}
	}
	return d, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return &ConfigError{Field: "PAGE_SIZE", Message: "must be between 1 and 100"}
	}
	if c.GraceDays < 0 {
		return &ConfigError{Field: "GRACE_DAYS", Message: "must not be negative"}
	}
	if c.RequestRetries < 0 {
		return &ConfigError{Field: "REQUEST_RETRIES", Message: "must not be negative"}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigError{Field: "REQUEST_TIMEOUT", Message: "must be positive"}
	}
	return c.ValidateStorage()
}

// ValidateStorage validates only the storage settings
func (c *Config) ValidateStorage() error {
	switch c.StorageType {
	case StorageSQLite, StorageBolt, StorageMemory:
	case StoragePostgres:
		if c.PostgresURL == "" {
			return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
		}
	case StorageS3:
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return &ConfigError{Field: "S3_ENDPOINT", Message: "S3 endpoint and bucket are required when STORAGE_TYPE is 's3'"}
		}
		if c.S3.AccessKey == "" || c.S3.SecretKey == "" {
			return &ConfigError{Field: "S3_ACCESS_KEY", Message: "S3 access key and secret key are required"}
		}
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be one of 'sqlite', 'postgres', 's3', 'bolt' or 'memory'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for registrar-engine.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Database DatabaseConfig `yaml:"database"`
	Import   ImportConfig   `yaml:"import"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"registrar"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"registrar"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ImportConfig controls the bulk spreadsheet engine.
type ImportConfig struct {
	// UploadDir holds files between preview and confirm.
	UploadDir string `yaml:"upload_dir" env:"IMPORT_UPLOAD_DIR" env-default:"./media/uploads"`
	// LogsDir holds outcome, audit and export workbooks.
	LogsDir string `yaml:"logs_dir" env:"IMPORT_LOGS_DIR" env-default:"./media/logs"`
	// MediaURLPrefix is the public path LogsDir is served under.
	MediaURLPrefix    string `yaml:"media_url_prefix" env:"IMPORT_MEDIA_URL_PREFIX" env-default:"/media/logs"`
	PrefetchBatchSize int    `yaml:"prefetch_batch_size" env:"IMPORT_PREFETCH_BATCH_SIZE" env-default:"5000"`
	DeleteBatchSize   int    `yaml:"delete_batch_size" env:"IMPORT_DELETE_BATCH_SIZE" env-default:"5000"`
	FailureSampleSize int    `yaml:"failure_sample_size" env:"IMPORT_FAILURE_SAMPLE_SIZE" env-default:"50"`
	MaxUploadMB       int64  `yaml:"max_upload_mb" env:"IMPORT_MAX_UPLOAD_MB" env-default:"64"`
	// SchemaFile replaces the built-in record schemas when set.
	SchemaFile string `yaml:"schema_file" env:"IMPORT_SCHEMA_FILE" env-default:""`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; environment variables and defaults apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Import.validate(); err != nil {
		return nil, fmt.Errorf("invalid import configuration: %w", err)
	}

	cfg.Database.Host = resolveHostForDocker(cfg.Database.Host)

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}
	cfg.Import.MediaURLPrefix = "/" + strings.Trim(cfg.Import.MediaURLPrefix, "/")

	return cfg, nil
}

func (c *ImportConfig) validate() error {
	if c.PrefetchBatchSize <= 0 {
		return errors.New("prefetch_batch_size must be positive")
	}
	if c.DeleteBatchSize <= 0 {
		return errors.New("delete_batch_size must be positive")
	}
	if c.FailureSampleSize < 0 {
		return errors.New("failure_sample_size must not be negative")
	}
	if c.UploadDir == "" || c.LogsDir == "" {
		return errors.New("upload_dir and logs_dir are required")
	}
	return nil
}

// MaxUploadBytes returns the multipart size limit in bytes.
func (c *ImportConfig) MaxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 64 << 20
	}
	return c.MaxUploadMB << 20
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	if c.Password == "" {
		// An empty "password=" would swallow the next key.
		return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Database, c.SSLMode)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

var (
	inDockerOnce sync.Once
	inDocker     bool
)

// resolveHostForDocker points loopback database hosts at the Docker host
// when the process runs inside a container.
func resolveHostForDocker(host string) string {
	inDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inDocker = err == nil
	})
	if inDocker && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}

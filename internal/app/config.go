package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "contactbot/core/config"
	coredatabase "contactbot/core/database"
)

// Session store backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// PlatformConfig identifies this deployment toward the remote platform and
// its gateway. AppID and AppSecret are required; the process fails fast
// without them.
type PlatformConfig struct {
	AppID          int    `yaml:"app_id" envconfig:"PLATFORM_APP_ID"`
	AppSecret      string `yaml:"app_secret" envconfig:"PLATFORM_APP_SECRET"`
	BaseURL        string `yaml:"base_url" envconfig:"PLATFORM_BASE_URL"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"PLATFORM_TIMEOUT_SECONDS"`
}

// SessionsConfig controls session persistence and flow bounds.
type SessionsConfig struct {
	Backend            string `yaml:"backend" envconfig:"SESSIONS_BACKEND"`
	FilePath           string `yaml:"file_path" envconfig:"SESSIONS_FILE_PATH"`
	IdleTimeoutMinutes int    `yaml:"idle_timeout_minutes" envconfig:"SESSIONS_IDLE_TIMEOUT_MINUTES"`
	MaxActive          int    `yaml:"max_active" envconfig:"SESSIONS_MAX_ACTIVE"`
}

// ImportConfig tunes the batched import pipeline.
type ImportConfig struct {
	BatchSize    int   `yaml:"batch_size" envconfig:"IMPORT_BATCH_SIZE"`
	PauseSeconds int   `yaml:"pause_seconds" envconfig:"IMPORT_PAUSE_SECONDS"`
	MaxFileBytes int64 `yaml:"max_file_bytes" envconfig:"IMPORT_MAX_FILE_BYTES"`
}

// Config aggregates core and application configuration.
type Config struct {
	Core     coreconfig.Config   `yaml:",inline"`
	Platform PlatformConfig      `yaml:"platform"`
	Sessions SessionsConfig      `yaml:"sessions"`
	Import   ImportConfig        `yaml:"import"`
	Database coredatabase.Config `yaml:"database"`
}

// CoreConfig exposes the embedded core configuration for the runner.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Core
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := coreconfig.Normalize(&cfg.Core); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates required application fields and applies defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Platform.AppID <= 0 {
		return fmt.Errorf("platform.app_id is required and must be a positive number")
	}
	if strings.TrimSpace(cfg.Platform.AppSecret) == "" {
		return fmt.Errorf("platform.app_secret is required")
	}
	if strings.TrimSpace(cfg.Platform.BaseURL) == "" {
		return fmt.Errorf("platform.base_url is required")
	}
	if cfg.Platform.TimeoutSeconds < 0 {
		return fmt.Errorf("platform.timeout_seconds must be >= 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Sessions.Backend))
	if backend == "" {
		backend = BackendFile
	}
	switch backend {
	case BackendFile, BackendPostgres:
	default:
		return fmt.Errorf("invalid sessions.backend %q; allowed: file, postgres", cfg.Sessions.Backend)
	}
	cfg.Sessions.Backend = backend

	if strings.TrimSpace(cfg.Sessions.FilePath) == "" {
		cfg.Sessions.FilePath = "user_sessions.json"
	}
	if cfg.Sessions.IdleTimeoutMinutes == 0 {
		cfg.Sessions.IdleTimeoutMinutes = 30
	}
	if cfg.Sessions.IdleTimeoutMinutes < 0 {
		return fmt.Errorf("sessions.idle_timeout_minutes must be >= 0")
	}
	if cfg.Sessions.MaxActive == 0 {
		cfg.Sessions.MaxActive = 1000
	}
	if cfg.Sessions.MaxActive < 0 {
		return fmt.Errorf("sessions.max_active must be >= 0")
	}

	if cfg.Import.BatchSize == 0 {
		cfg.Import.BatchSize = 30
	}
	if cfg.Import.BatchSize < 0 {
		return fmt.Errorf("import.batch_size must be > 0")
	}
	if cfg.Import.PauseSeconds == 0 {
		cfg.Import.PauseSeconds = 10
	}
	if cfg.Import.PauseSeconds < 0 {
		return fmt.Errorf("import.pause_seconds must be >= 0")
	}
	if cfg.Import.MaxFileBytes == 0 {
		cfg.Import.MaxFileBytes = 1 << 20
	}
	if cfg.Import.MaxFileBytes < 0 {
		return fmt.Errorf("import.max_file_bytes must be > 0")
	}

	return nil
}

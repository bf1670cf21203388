// Package config provides configuration management for agentgate.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kandev/agentgate/internal/common/logger"
)

// Config holds all configuration sections.
type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	Database   DatabaseConfig       `mapstructure:"database"`
	NATS       NATSConfig           `mapstructure:"nats"`
	Logging    logger.LoggingConfig `mapstructure:"logging"`
	Tracing    TracingConfig        `mapstructure:"tracing"`
	Approval   ApprovalConfig       `mapstructure:"approval"`
	Process    ProcessConfig        `mapstructure:"process"`
	Hooks      HooksConfig          `mapstructure:"hooks"`
	Reconciler ReconcilerConfig     `mapstructure:"reconciler"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig selects and configures the storage backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres, memory
	Path     string `mapstructure:"path"`   // sqlite file
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
	// BusyTimeoutMs is the sqlite busy timeout.
	BusyTimeoutMs int `mapstructure:"busyTimeoutMs"`
}

// NATSConfig holds NATS messaging configuration. Empty URL selects the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"serviceName"`
}

// ApprovalConfig drives risk classification and wait behavior.
type ApprovalConfig struct {
	TimeoutSeconds           int      `mapstructure:"timeoutSeconds"`
	DefaultOnTimeout         string   `mapstructure:"defaultOnTimeout"` // allow, deny
	AutoAllowTools           []string `mapstructure:"autoAllowTools"`
	RequireApprovalTools     []string `mapstructure:"requireApprovalTools"`
	DangerousCommandPatterns []string `mapstructure:"dangerousCommandPatterns"`
	DangerousPathPatterns    []string `mapstructure:"dangerousPathPatterns"`
	// HookModeDefault makes new sessions use the polling protocol.
	HookModeDefault bool `mapstructure:"hookModeDefault"`
}

// ProcessConfig configures agent subprocesses.
type ProcessConfig struct {
	DefaultProvider      string        `mapstructure:"defaultProvider"`
	ClaudeBinary         string        `mapstructure:"claudeBinary"`
	CodexBinary          string        `mapstructure:"codexBinary"`
	SoftHandshakeTimeout time.Duration `mapstructure:"softHandshakeTimeout"`
	HardHandshakeTimeout time.Duration `mapstructure:"hardHandshakeTimeout"`
	TerminateGrace       time.Duration `mapstructure:"terminateGrace"`
}

// HooksConfig configures the hooks sync file.
type HooksConfig struct {
	SyncFile string `mapstructure:"syncFile"`
	Watch    bool   `mapstructure:"watch"`
}

// ReconcilerConfig configures the orphan sweep.
type ReconcilerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	InitialDelay time.Duration `mapstructure:"initialDelay"`
	PendingTTL   time.Duration `mapstructure:"pendingTTL"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// Addr returns host:port.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Timeout returns the approval wait as a time.Duration.
func (a *ApprovalConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// DefaultCommandPatterns flag shell commands that always need a human.
var DefaultCommandPatterns = []string{
	`rm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+(/|~|\*)`,
	`\bsudo\b`,
	`\bmkfs(\.\w+)?\b`,
	`\bdd\s+if=`,
	`git\s+push\s+.*--force`,
	`git\s+reset\s+--hard`,
	`curl\s+[^|]*\|\s*(ba)?sh`,
	`wget\s+[^|]*\|\s*(ba)?sh`,
	`chmod\s+-R\s+777`,
	`>\s*/dev/sd[a-z]`,
}

// DefaultPathPatterns flag file paths that always need a human.
var DefaultPathPatterns = []string{
	`^/etc/`,
	`^/usr/`,
	`^/bin/`,
	`^/boot/`,
	`\.ssh/`,
	`\.aws/`,
	`\.env$`,
	`\.git/`,
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7420)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 0) // approval long-polls and websockets

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./agentgate.db")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "agentgate")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "agentgate")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 1)
	v.SetDefault("database.busyTimeoutMs", 5000)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "agentgate")
	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", logger.DetectFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.serviceName", "agentgate")

	v.SetDefault("approval.timeoutSeconds", 300)
	v.SetDefault("approval.defaultOnTimeout", "deny")
	v.SetDefault("approval.autoAllowTools", []string{"Read", "Glob", "Grep", "LS", "TodoWrite", "WebSearch"})
	v.SetDefault("approval.requireApprovalTools", []string{"Bash", "Write", "Edit", "MultiEdit", "NotebookEdit", "WebFetch"})
	v.SetDefault("approval.dangerousCommandPatterns", DefaultCommandPatterns)
	v.SetDefault("approval.dangerousPathPatterns", DefaultPathPatterns)
	v.SetDefault("approval.hookModeDefault", true)

	v.SetDefault("process.defaultProvider", "claude")
	v.SetDefault("process.claudeBinary", "claude")
	v.SetDefault("process.codexBinary", "codex")
	v.SetDefault("process.softHandshakeTimeout", 5*time.Second)
	v.SetDefault("process.hardHandshakeTimeout", 60*time.Second)
	v.SetDefault("process.terminateGrace", 5*time.Second)

	v.SetDefault("hooks.syncFile", "")
	v.SetDefault("hooks.watch", false)

	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.interval", 5*time.Minute)
	v.SetDefault("reconciler.initialDelay", 10*time.Second)
	v.SetDefault("reconciler.pendingTTL", time.Hour)
}

// Load reads configuration from environment variables, config file, and defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
// Environment variables use the prefix AGENTGATE_ (e.g. AGENTGATE_SERVER_PORT).
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AGENTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not map camelCase keys to SNAKE_CASE names.
	_ = v.BindEnv("approval.timeoutSeconds", "AGENTGATE_APPROVAL_TIMEOUT_SECONDS")
	_ = v.BindEnv("approval.defaultOnTimeout", "AGENTGATE_APPROVAL_DEFAULT_ON_TIMEOUT")
	_ = v.BindEnv("approval.hookModeDefault", "AGENTGATE_APPROVAL_HOOK_MODE_DEFAULT")
	_ = v.BindEnv("tracing.endpoint", "AGENTGATE_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("hooks.syncFile", "AGENTGATE_HOOKS_SYNC_FILE")
	_ = v.BindEnv("reconciler.pendingTTL", "AGENTGATE_RECONCILER_PENDING_TTL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentgate/")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all configuration values are usable.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for postgres")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for postgres")
		}
	case "memory":
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres, memory")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Approval.TimeoutSeconds <= 0 {
		errs = append(errs, "approval.timeoutSeconds must be positive")
	}
	if cfg.Approval.DefaultOnTimeout != "allow" && cfg.Approval.DefaultOnTimeout != "deny" {
		errs = append(errs, "approval.defaultOnTimeout must be one of: allow, deny")
	}

	if cfg.Process.SoftHandshakeTimeout <= 0 || cfg.Process.HardHandshakeTimeout <= 0 {
		errs = append(errs, "process handshake timeouts must be positive")
	} else if cfg.Process.SoftHandshakeTimeout >= cfg.Process.HardHandshakeTimeout {
		errs = append(errs, "process.softHandshakeTimeout must be shorter than process.hardHandshakeTimeout")
	}

	if cfg.Reconciler.Enabled {
		if cfg.Reconciler.Interval <= 0 {
			errs = append(errs, "reconciler.interval must be positive")
		}
		if cfg.Reconciler.PendingTTL <= 0 {
			errs = append(errs, "reconciler.pendingTTL must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
	Docker  DockerConfig  `mapstructure:"docker"`
	History HistoryConfig `mapstructure:"history"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DeployConfig holds the deployment target configuration.
type DeployConfig struct {
	// TargetDir is the deployment directory managed by this instance.
	TargetDir string `mapstructure:"target_dir"`

	// StateFile is where the provisioning record lives. It is a cache; the
	// directory itself remains the source of truth.
	StateFile string `mapstructure:"state_file"`

	// Project is the compose project name for the deployed service group.
	Project string `mapstructure:"project"`

	// WebPort and APIPort are the default host ports, overridable per call.
	WebPort string `mapstructure:"web_port"`
	APIPort string `mapstructure:"api_port"`

	// DataDir is the default host data location. Empty means <target>/data.
	DataDir string `mapstructure:"data_dir"`

	// NotificationEmail feeds TRAEFIK_ACME_EMAIL in the generated env file.
	NotificationEmail string `mapstructure:"notification_email"`

	// ProbeInterval is how often a running deployment is health-checked.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// HistoryConfig holds the history store configuration.
type HistoryConfig struct {
	// Enabled turns the SQLite run/transition history on.
	Enabled bool `mapstructure:"enabled"`

	// DSN is the SQLite database path.
	DSN string `mapstructure:"dsn"`
}

// RunnerConfig holds external tool invocation configuration.
type RunnerConfig struct {
	// Timeout bounds a single external invocation (compose, mkcert).
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("deploy.target_dir", "./ddalab")
	v.SetDefault("deploy.state_file", "./ddalab-state.json")
	v.SetDefault("deploy.project", "ddalab")
	v.SetDefault("deploy.web_port", "3000")
	v.SetDefault("deploy.api_port", "8001")
	v.SetDefault("deploy.data_dir", "")
	v.SetDefault("deploy.notification_email", "")
	v.SetDefault("deploy.probe_interval", "15s")
	v.SetDefault("docker.host", "")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.dsn", "./ddalab-history.db")
	v.SetDefault("runner.timeout", "5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("DDALAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

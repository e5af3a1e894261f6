// Package config provides YAML-based configuration loading for the pipe9x
// tooling.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for the pipe9x-check tool.
type Config struct {
	// AppName optional logical name used in log output
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Pipe configures the endpoint pair under test
	Pipe PipeConfig `mapstructure:"pipe"`

	// Check configures the validation run
	Check CheckConfig `mapstructure:"check"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs. Rotation
// applies to the file path given in log.outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// PipeConfig configures both directions of the endpoint pair.
type PipeConfig struct {
	// ReadBufferSize / WriteBufferSize are transfer buffer capacities in
	// bytes; zero selects the package default.
	ReadBufferSize  int `mapstructure:"read_buffer_size"`
	WriteBufferSize int `mapstructure:"write_buffer_size"`
	// ReadInherit / WriteInherit mark the raw handles inheritable by child
	// processes.
	ReadInherit  bool `mapstructure:"read_inherit"`
	WriteInherit bool `mapstructure:"write_inherit"`
	// SDDL optional security descriptor string (Windows overlapped backend)
	SDDL string `mapstructure:"sddl"`
	// ForceThreadBackend skips the native probe and uses the thread backend
	ForceThreadBackend bool `mapstructure:"force_thread_backend"`
}

// CheckConfig configures the validation run.
type CheckConfig struct {
	// ChunkSize is the write size used in the backpressure phase
	ChunkSize int `mapstructure:"chunk_size"`
	// StallTimeoutMS is how long a write may stay incomplete before it
	// counts as stalled
	StallTimeoutMS int `mapstructure:"stall_timeout_ms"`
	// ReportPath optional file the run report is written to; empty disables
	ReportPath string `mapstructure:"report_path"`
	// ReportFormat: json or cbor
	ReportFormat string `mapstructure:"report_format"`
}

// Default returns a Config populated with sensible defaults. The 128 KiB
// buffers and 8 KiB / 5 s check parameters match the canonical validation
// scenario.
func Default() *Config {
	return &Config{
		AppName: "pipe9x-check",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Pipe: PipeConfig{
			ReadBufferSize:  128 * 1024,
			WriteBufferSize: 128 * 1024,
		},
		Check: CheckConfig{
			ChunkSize:      8 * 1024,
			StallTimeoutMS: 5000,
			ReportFormat:   "json",
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix PIPE9X and `.`/`-` are replaced with
// `_`. Example: PIPE9X_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PIPE9X")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("pipe.read_buffer_size", cfg.Pipe.ReadBufferSize)
	v.SetDefault("pipe.write_buffer_size", cfg.Pipe.WriteBufferSize)
	v.SetDefault("pipe.read_inherit", cfg.Pipe.ReadInherit)
	v.SetDefault("pipe.write_inherit", cfg.Pipe.WriteInherit)
	v.SetDefault("pipe.sddl", cfg.Pipe.SDDL)
	v.SetDefault("pipe.force_thread_backend", cfg.Pipe.ForceThreadBackend)
	v.SetDefault("check.chunk_size", cfg.Check.ChunkSize)
	v.SetDefault("check.stall_timeout_ms", cfg.Check.StallTimeoutMS)
	v.SetDefault("check.report_path", cfg.Check.ReportPath)
	v.SetDefault("check.report_format", cfg.Check.ReportFormat)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("PIPE9X_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `pipe9x`
		v.SetConfigName("pipe9x")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".pipe9x"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if c.Pipe.ReadBufferSize < 0 || c.Pipe.WriteBufferSize < 0 {
		return fmt.Errorf("pipe buffer sizes must not be negative")
	}
	if c.Check.ChunkSize <= 0 {
		c.Check.ChunkSize = 8 * 1024
	}
	if c.Check.StallTimeoutMS <= 0 {
		c.Check.StallTimeoutMS = 5000
	}
	switch strings.ToLower(strings.TrimSpace(c.Check.ReportFormat)) {
	case "", "json", "cbor":
		// ok
	default:
		return fmt.Errorf("invalid check.report_format: %q", c.Check.ReportFormat)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Package config provides YAML-based configuration management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docintake/backend/internal/validation"
)

// AppConfig represents the root YAML configuration structure
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Intake   IntakeConfig   `yaml:"intake"`
	Security SecurityConfig `yaml:"security"`
	Advanced AdvancedConfig `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int     `yaml:"port"`
	BindAddress  string  `yaml:"bind_address"`
	EnableCORS   bool    `yaml:"enable_cors"`
	AllowOrigins string  `yaml:"allow_origins"`
	ReadTimeout  int     `yaml:"read_timeout_seconds"`
	WriteTimeout int     `yaml:"write_timeout_seconds"`
	IdleTimeout  int     `yaml:"idle_timeout_seconds"`
	BodyLimit    string  `yaml:"body_limit"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory    string `yaml:"data_directory"`
	PreviewDirectory string `yaml:"preview_directory"`
	JournalPath      string `yaml:"journal_path"`
}

// IntakeConfig contains admission policy and session settings
type IntakeConfig struct {
	DefaultCapacity        int      `yaml:"default_capacity"`
	MaxFileSizeBytes       int64    `yaml:"max_file_size_bytes"`
	AllowedMimeTypes       []string `yaml:"allowed_mime_types"`
	AllowedExtensions      []string `yaml:"allowed_extensions"`
	BatchMode              string   `yaml:"batch_mode"`
	ErrorDisplaySeconds    int      `yaml:"error_display_seconds"`
	GateRemoval            bool     `yaml:"gate_removal"`
	LoginRedirect          string   `yaml:"login_redirect"`
	PreviewBackend         string   `yaml:"preview_backend"` // "memory" or "disk"
	SessionTimeoutMinutes  int      `yaml:"session_timeout_minutes"`
	CleanupIntervalMinutes int      `yaml:"cleanup_interval_minutes"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	RequireAuth bool   `yaml:"require_authentication"`
	AuthToken   string `yaml:"auth_token"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `yaml:"log_level"`
	EnableRequestLogging bool   `yaml:"enable_request_logging"`
	EnableMetrics        bool   `yaml:"enable_metrics"`
	DuckDBThreads        int    `yaml:"duckdb_threads"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "25M",
			RateLimitRPS: 20,
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			PreviewDirectory: "./data/previews",
			JournalPath:      "./data/journal.duckdb",
		},
		Intake: IntakeConfig{
			DefaultCapacity:        1,
			MaxFileSizeBytes:       validation.DefaultMaxSize,
			AllowedMimeTypes:       append([]string(nil), validation.DefaultMimeTypes...),
			AllowedExtensions:      append([]string(nil), validation.DefaultExtensions...),
			BatchMode:              string(validation.BatchPartial),
			ErrorDisplaySeconds:    5,
			GateRemoval:            false,
			LoginRedirect:          "/login",
			PreviewBackend:         "memory",
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
		},
		Security: SecurityConfig{
			RequireAuth: false,
			AuthToken:   "",
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			EnableMetrics:        true,
			DuckDBThreads:        2,
		},
	}
}

// LoadConfig loads configuration from a YAML file, creating it with defaults
// on first run.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Document intake service configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that would otherwise fail deep inside the service.
func (c *AppConfig) Validate() error {
	if c.Intake.DefaultCapacity != 1 && c.Intake.DefaultCapacity != 2 {
		return fmt.Errorf("intake.default_capacity must be 1 or 2, got %d", c.Intake.DefaultCapacity)
	}
	if c.Intake.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("intake.max_file_size_bytes must be positive")
	}
	if _, err := validation.ParseBatchMode(c.Intake.BatchMode); err != nil {
		return fmt.Errorf("intake.batch_mode: %w", err)
	}
	switch c.Intake.PreviewBackend {
	case "memory", "disk":
	default:
		return fmt.Errorf("intake.preview_backend must be memory or disk, got %q", c.Intake.PreviewBackend)
	}
	if c.Intake.SessionTimeoutMinutes <= 0 || c.Intake.CleanupIntervalMinutes <= 0 {
		return fmt.Errorf("intake session timeout and cleanup interval must be positive")
	}
	if c.Security.RequireAuth && c.Security.AuthToken == "" {
		return fmt.Errorf("security.auth_token is required when authentication is enabled")
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.PreviewDirectory = filepath.Join(dataDir, "previews")
		c.Storage.JournalPath = filepath.Join(dataDir, "journal.duckdb")
	}

	if token := os.Getenv("INTAKE_AUTH_TOKEN"); token != "" {
		c.Security.AuthToken = token
		c.Security.RequireAuth = true
	}

	if level := os.Getenv("INTAKE_LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.PreviewDirectory) {
		c.Storage.PreviewDirectory = filepath.Join(configDir, c.Storage.PreviewDirectory)
	}
	if c.Storage.JournalPath != "" && !filepath.IsAbs(c.Storage.JournalPath) {
		c.Storage.JournalPath = filepath.Join(configDir, c.Storage.JournalPath)
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// ErrorDisplay returns the banner timeout.
func (c *AppConfig) ErrorDisplay() time.Duration {
	return time.Duration(c.Intake.ErrorDisplaySeconds) * time.Second
}

// Policy builds the admission policy described by the intake section.
func (c *AppConfig) Policy() *validation.Policy {
	mode, err := validation.ParseBatchMode(c.Intake.BatchMode)
	if err != nil {
		mode = validation.BatchPartial
	}
	return validation.NewPolicy(c.Intake.MaxFileSizeBytes, c.Intake.AllowedMimeTypes, c.Intake.AllowedExtensions, mode)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.PreviewDirectory,
	}
	if c.Storage.JournalPath != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.JournalPath))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

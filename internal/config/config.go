package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/CanDIG/htsget-app/internal/domain"
)

// Manager loads and validates the service configuration using Viper.
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, environment, and defaults.
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/htsget-app/")

	viper.SetEnvPrefix("HTSGET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; defaults and environment variables apply.
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values.
func (m *Manager) setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "300s")
	viper.SetDefault("server.idle_timeout", "120s")

	viper.SetDefault("db.path", "sqlite://./data/files.db")

	viper.SetDefault("htsget.url", "http://localhost:3000")
	viper.SetDefault("htsget.chunk_size", 1000)
	viper.SetDefault("htsget.bucket_size", 1000000)

	viper.SetDefault("indexing.path", "./data/indexing")

	viper.SetDefault("auth.test_key", "testtesttest")
	viper.SetDefault("auth.opa.enabled", false)
	viper.SetDefault("auth.opa.url", "http://localhost:8181")
	viper.SetDefault("auth.opa.secret", "")
	viper.SetDefault("auth.opa.site_admin_key", "site_admin")
	viper.SetDefault("auth.opa.timeout", "10s")
	viper.SetDefault("auth.opa.rate_limit", 20)

	viper.SetDefault("s3.region", "")
	viper.SetDefault("s3.expiry", "1h")

	viper.SetDefault("cache.redis_url", "")
	viper.SetDefault("cache.default_ttl", "1m")
	viper.SetDefault("cache.size", 1024)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// Reload reloads the configuration.
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.DB.Path == "" {
		return fmt.Errorf("db path is required")
	}
	if config.Htsget.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size: %d", config.Htsget.ChunkSize)
	}
	if config.Htsget.BucketSize <= 0 {
		return fmt.Errorf("invalid bucket size: %d", config.Htsget.BucketSize)
	}
	if config.Indexing.Path == "" {
		return fmt.Errorf("indexing path is required")
	}
	if config.Auth.OPA.Enabled && config.Auth.OPA.URL == "" {
		return fmt.Errorf("OPA URL is required when authorization is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

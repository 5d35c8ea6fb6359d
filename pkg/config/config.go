// Package config loads analyzer configuration from a YAML file with
// environment-variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"logshield/pkg/alert"
	"logshield/pkg/ensemble"
	"logshield/pkg/storage"
)

// Config is the full analyzer configuration.
type Config struct {
	Server struct {
		Addr            string        `yaml:"addr"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Database struct {
		Enabled bool `yaml:"enabled"`
		storage.Config `yaml:",inline"`
	} `yaml:"database"`

	Alert alert.Config `yaml:"alert"`

	Model struct {
		Dir string `yaml:"dir"`
	} `yaml:"model"`

	Ensemble struct {
		Weights    ensemble.Weights    `yaml:"weights"`
		Thresholds ensemble.Thresholds `yaml:"thresholds"`
	} `yaml:"ensemble"`

	Features struct {
		HomeCountry        string   `yaml:"home_country"`
		KnownIPs           []string `yaml:"known_ips"`
		KnownCountries     []string `yaml:"known_countries"`
		PrivilegedUsers    []string `yaml:"privileged_users"`
		SensitiveEndpoints []string `yaml:"sensitive_endpoints"`
		KnownUserAgents    []string `yaml:"known_user_agents"`
	} `yaml:"features"`
}

// Default returns a runnable local configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Redis.Addr = "localhost:6379"
	cfg.Model.Dir = "models"
	cfg.Ensemble.Weights = ensemble.DefaultWeights()
	cfg.Ensemble.Thresholds = ensemble.DefaultThresholds()
	return cfg
}

// Load reads the YAML file at path (empty means defaults only) and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("LOGSHIELD_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = getEnv("LOGSHIELD_ADDR", cfg.Server.Addr)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)
	cfg.Database.Host = getEnv("POSTGRES_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("POSTGRES_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("POSTGRES_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("POSTGRES_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("POSTGRES_DB", cfg.Database.DBName)
	cfg.Alert.SlackWebhookURL = getEnv("SLACK_WEBHOOK_URL", cfg.Alert.SlackWebhookURL)
	cfg.Alert.WebhookSecret = getEnv("ALERT_WEBHOOK_SECRET", cfg.Alert.WebhookSecret)
	cfg.Model.Dir = getEnv("MODEL_DIR", cfg.Model.Dir)
}

// Validate checks the model-facing parts of the configuration.
func (c *Config) Validate() error {
	if err := c.Ensemble.Weights.Validate(); err != nil {
		return fmt.Errorf("ensemble weights: %w", err)
	}
	if err := c.Ensemble.Thresholds.Validate(); err != nil {
		return fmt.Errorf("ensemble thresholds: %w", err)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	if c.Model.Dir == "" {
		return fmt.Errorf("model dir must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

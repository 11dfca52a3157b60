package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/qrhit/go/internal/quiz/engine"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	StoreNATS   = "nats"
	StoreMemory = "memory"

	CatalogPostgres = "postgres"
	CatalogFile     = "file"
)

type Config struct {
	Port       string `yaml:"port"`
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`

	Store struct {
		Backend  string `yaml:"backend"`
		NATSURL  string `yaml:"nats_url"`
		Replicas int    `yaml:"replicas"`
	} `yaml:"store"`

	Catalog struct {
		Source string `yaml:"source"`
		File   string `yaml:"file"`
	} `yaml:"catalog"`

	ScanFeed struct {
		Enabled          bool          `yaml:"enabled"`
		FallbackInterval time.Duration `yaml:"fallback_interval"`
	} `yaml:"scan_feed"`

	Engine struct {
		Workers        int           `yaml:"workers"`
		CountdownDelay time.Duration `yaml:"countdown_delay"`
		HostGrace      time.Duration `yaml:"host_grace"`
		PlayerGrace    time.Duration `yaml:"player_grace"`
	} `yaml:"engine"`
}

func defaultConfig() *Config {
	var c Config
	c.Port = "8080"
	c.LogLevel = "info"
	c.Store.Backend = StoreNATS
	c.Store.NATSURL = "nats://localhost:4222"
	c.Store.Replicas = 1
	c.Catalog.Source = CatalogPostgres
	c.ScanFeed.Enabled = true
	return &c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// loadConfig reads the optional YAML file at path and applies environment
// overrides on top.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	config.Port = getEnv("PORT", config.Port)
	config.InstanceID = getEnv("INSTANCE_ID", config.InstanceID)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", config.Store.Backend))
	config.Store.NATSURL = getEnv("NATS_URL", config.Store.NATSURL)
	config.Store.Replicas = getEnvAsInt("NATS_REPLICAS", config.Store.Replicas)
	config.Catalog.Source = strings.ToLower(getEnv("CATALOG_SOURCE", config.Catalog.Source))
	config.Catalog.File = getEnv("CATALOG_FILE", config.Catalog.File)
	config.ScanFeed.Enabled = getEnvAsBool("SCAN_FEED_ENABLED", config.ScanFeed.Enabled)
	config.Engine.Workers = getEnvAsInt("ENGINE_WORKERS", config.Engine.Workers)

	if config.InstanceID == "" {
		config.InstanceID = "worker-" + uuid.NewString()[:8]
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case StoreNATS, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Catalog.Source {
	case CatalogPostgres:
	case CatalogFile:
		if c.Catalog.File == "" {
			return errors.New("catalog file is required when catalog source is file")
		}
	default:
		return fmt.Errorf("unknown catalog source %q", c.Catalog.Source)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// needsDatabase reports whether any component reads Postgres.
func (c *Config) needsDatabase() bool {
	return c.Catalog.Source == CatalogPostgres || c.ScanFeed.Enabled
}

// engineConfig applies the configured timings to the engine defaults.
func (c *Config) engineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.InstanceID = c.InstanceID
	if c.Engine.Workers > 0 {
		cfg.Workers = c.Engine.Workers
	}
	if c.Engine.CountdownDelay > 0 {
		cfg.CountdownDelay = c.Engine.CountdownDelay
	}
	if c.Engine.HostGrace > 0 {
		cfg.HostGrace = c.Engine.HostGrace
	}
	if c.Engine.PlayerGrace > 0 {
		cfg.PlayerGrace = c.Engine.PlayerGrace
	}
	return cfg
}

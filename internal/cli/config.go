package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store drivers accepted by --store.
const (
	StorePostgres = "postgres"
	StoreBun      = "bun"
	StoreSQLite   = "sqlite"
	StoreRedis    = "redis"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Config is the command line configuration. Flags override file values.
type Config struct {
	Store     string `yaml:"store"`
	DSN       string `yaml:"dsn"`
	Addr      string `yaml:"addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Postgres struct {
		TablePrefix string `yaml:"table_prefix"`
	} `yaml:"postgres"`

	Redis struct {
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Mongo struct {
		Database string `yaml:"database"`
	} `yaml:"mongo"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	cfg := Config{
		Store:     StoreSQLite,
		DSN:       "queuesched.db",
		Addr:      ":8080",
		LogLevel:  "info",
		LogFormat: "text",
	}
	cfg.Mongo.Database = "queuesched"
	return cfg
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

package queuesched

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultQueueName is the name of the queue registered by New.
const DefaultQueueName = "general"

// Config holds configuration for the Scheduler.
type Config struct {
	// DefaultQueue is the queue registered at construction and used by
	// jobs that name no queue.
	DefaultQueue string `yaml:"default_queue"`

	// DefaultMiddleware installs recover, tracing, metrics, logging and
	// timeout middleware ahead of any WithMiddleware additions.
	DefaultMiddleware bool `yaml:"default_middleware"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultQueue:      DefaultQueueName,
		DefaultMiddleware: true,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	if c.DefaultQueue == "" {
		return fmt.Errorf("%w: default queue name is empty", ErrInvalidName)
	}
	return nil
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("queuesched: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("queuesched: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

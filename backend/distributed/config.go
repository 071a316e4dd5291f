package distributed

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xraph/queuesched/backoff"
)

// Config holds the tunables of a distributed Backend.
type Config struct {
	// ClaimInterval is the period of the claim loop.
	ClaimInterval time.Duration `yaml:"claim_interval"`

	// MaxConcurrent caps in-flight jobs per worker. The claim loop only
	// claims while at most half of this is in flight.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxRetries is the number of backoffs before a job is errored.
	MaxRetries int `yaml:"max_retries"`

	// Backoff selects the retry delay strategy in backoff.Parse form,
	// such as "exponential:1s:5m". Empty means a constant BackoffDelay.
	Backoff string `yaml:"backoff"`

	// BackoffDelay is the constant retry delay used when Backoff is empty.
	BackoffDelay time.Duration `yaml:"backoff_delay"`

	// StaleAfter is how long a processing row may go without an update
	// before another worker may claim it.
	StaleAfter time.Duration `yaml:"stale_after"`

	// HeartbeatInterval is the period of ownership refreshes for
	// in-flight jobs. Zero disables the heartbeat.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// AccessorRetries is how many times a failed completion call
	// (delete, backoff, error) is retried.
	AccessorRetries int `yaml:"accessor_retries"`

	// AccessorRetryDelay is the base delay between completion retries.
	AccessorRetryDelay time.Duration `yaml:"accessor_retry_delay"`
}

// DefaultConfig returns the default distributed backend configuration.
func DefaultConfig() Config {
	return Config{
		ClaimInterval:      time.Second,
		MaxConcurrent:      20,
		MaxRetries:         5,
		BackoffDelay:       backoff.DefaultDelay,
		StaleAfter:         30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		AccessorRetries:    3,
		AccessorRetryDelay: 200 * time.Millisecond,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.ClaimInterval <= 0 {
		errs = append(errs, errors.New("claim_interval must be positive"))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, errors.New("max_concurrent must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.BackoffDelay < 0 {
		errs = append(errs, errors.New("backoff_delay must not be negative"))
	}
	if c.Backoff != "" {
		if _, err := backoff.Parse(c.Backoff); err != nil {
			errs = append(errs, err)
		}
	}
	if c.StaleAfter <= 0 {
		errs = append(errs, errors.New("stale_after must be positive"))
	}
	if c.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("heartbeat_interval must not be negative"))
	}
	if c.AccessorRetries < 0 {
		errs = append(errs, errors.New("accessor_retries must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("queuesched/distributed: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Strategy returns the retry delay strategy the config selects.
func (c Config) Strategy() (backoff.Strategy, error) {
	if c.Backoff == "" {
		return backoff.NewConstant(c.BackoffDelay), nil
	}
	return backoff.Parse(c.Backoff)
}

// ParseConfig decodes YAML over DefaultConfig. Durations use Go syntax
// ("1s", "250ms").
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("queuesched/distributed: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML file and decodes it with ParseConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("queuesched/distributed: read config: %w", err)
	}
	return ParseConfig(data)
}

// Package config loads the refine CLI's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "200ms" or
// "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full CLI configuration.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Storage    StorageConfig    `yaml:"storage"`
}

// BackendConfig selects and configures the LLM provider.
type BackendConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

// ResilienceConfig tunes the middleware stack wrapped around the backend.
type ResilienceConfig struct {
	RPS           float64  `yaml:"rps"`
	MaxRetries    int      `yaml:"max_retries"`
	InitialDelay  Duration `yaml:"initial_delay"`
	MaxDelay      Duration `yaml:"max_delay"`
	BackoffFactor float64  `yaml:"backoff_factor"`
	Timeout       Duration `yaml:"timeout"`
	BreakerOpens  int      `yaml:"breaker_failure_threshold"`
	BreakerReset  Duration `yaml:"breaker_open_timeout"`
}

// OptimizerConfig tunes the beam search.
type OptimizerConfig struct {
	BeamWidth          int `yaml:"beam_width"`
	MaxIterations      int `yaml:"max_iterations"`
	Concurrency        int `yaml:"concurrency"`
	CheckpointInterval int `yaml:"checkpoint_interval"`
}

// StorageConfig selects run persistence. An empty path keeps runs in
// memory.
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Default returns the configuration used when fields are omitted.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			Provider: "ollama",
		},
		Resilience: ResilienceConfig{
			RPS:           5,
			MaxRetries:    3,
			InitialDelay:  Duration(200 * time.Millisecond),
			MaxDelay:      Duration(10 * time.Second),
			BackoffFactor: 2.0,
			Timeout:       Duration(60 * time.Second),
			BreakerOpens:  5,
			BreakerReset:  Duration(30 * time.Second),
		},
		Optimizer: OptimizerConfig{
			BeamWidth:          4,
			MaxIterations:      10,
			Concurrency:        8,
			CheckpointInterval: 5,
		},
	}
}

// Load reads the YAML file at path over the defaults. Environment variable
// REFINE_API_KEY overrides the configured key when set.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if key := os.Getenv("REFINE_API_KEY"); key != "" {
		cfg.Backend.APIKey = key
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Backend.Provider == "" {
		return fmt.Errorf("backend.provider is required")
	}
	if c.Resilience.RPS <= 0 {
		return fmt.Errorf("resilience.rps must be positive, got %v", c.Resilience.RPS)
	}
	if c.Optimizer.BeamWidth <= 0 {
		return fmt.Errorf("optimizer.beam_width must be positive, got %d", c.Optimizer.BeamWidth)
	}
	return nil
}

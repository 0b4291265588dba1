package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/multistart/internal/experiment"
	"github.com/copyleftdev/multistart/internal/optimization"
)

// MinExperimentCount is the smallest ensemble size accepted from users.
const MinExperimentCount = 10

// Sampler names.
const (
	SamplerUniform = experiment.SamplerUniform
	SamplerLHS     = experiment.SamplerLHS
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	Experiment struct {
		Problem  string `env:"EXPERIMENT_PROBLEM" envDefault:"expsine"`
		Count    int    `env:"EXPERIMENT_COUNT" envDefault:"10"`
		Strategy string `env:"EXPERIMENT_STRATEGY" envDefault:"local-search"`
		Minimize bool   `env:"EXPERIMENT_MINIMIZE" envDefault:"true"`
		Seed     uint64 `env:"EXPERIMENT_SEED" envDefault:"0"`
		Sampler  string `env:"EXPERIMENT_SAMPLER" envDefault:"uniform"`
		Workers  int    `env:"EXPERIMENT_WORKERS" envDefault:"1"`
	}
	Grid struct {
		Resolution   int `env:"GRID_RESOLUTION" envDefault:"200"`
		Levels       int `env:"GRID_LEVELS" envDefault:"15"`
		LabelStep    int `env:"GRID_LABEL_STEP" envDefault:"2"`
		CurveSamples int `env:"GRID_CURVE_SAMPLES" envDefault:"200"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be expressed as env defaults.
func (c *Config) Validate() error {
	if err := ValidateCount(c.Experiment.Count); err != nil {
		return err
	}
	if _, err := optimization.ParseStrategy(c.Experiment.Strategy); err != nil {
		return err
	}
	sampler, err := experiment.ParseSamplerName(c.Experiment.Sampler)
	if err != nil {
		return err
	}
	c.Experiment.Sampler = sampler
	if c.Experiment.Workers < 1 {
		return optimization.InvalidConfigurationf("config", "EXPERIMENT_WORKERS must be at least 1, got %d", c.Experiment.Workers)
	}
	if c.Grid.Resolution <= 0 {
		return optimization.InvalidConfigurationf("config", "GRID_RESOLUTION must be positive, got %d", c.Grid.Resolution)
	}
	if c.Grid.Levels <= 0 {
		return optimization.InvalidConfigurationf("config", "GRID_LEVELS must be positive, got %d", c.Grid.Levels)
	}
	if c.Grid.LabelStep <= 0 {
		return optimization.InvalidConfigurationf("config", "GRID_LABEL_STEP must be positive, got %d", c.Grid.LabelStep)
	}
	if c.Grid.CurveSamples < 2 {
		return optimization.InvalidConfigurationf("config", "GRID_CURVE_SAMPLES must be at least 2, got %d", c.Grid.CurveSamples)
	}
	return nil
}

// ValidateCount enforces the minimum experiment count.
func ValidateCount(n int) error {
	if n < MinExperimentCount {
		return optimization.InvalidInputf("config", "experiment count must be at least %d, got %d", MinExperimentCount, n)
	}
	return nil
}

// ValidateSampler checks a sampler name the way the experiment package
// parses it.
func ValidateSampler(name string) error {
	_, err := experiment.ParseSamplerName(name)
	return err
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

// GetEnv returns the value of the environment variable or the default value
func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt returns the value of the environment variable as int or the default value
func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := GetEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// GetEnvAsBool returns the value of the environment variable as bool or the default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	valueStr := GetEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

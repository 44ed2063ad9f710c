// Package config loads and validates configuration for the transcription
// pipeline: provider credential/option blocks, logging, persistence, and
// retry policy.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/skillsenselab/scribe/errors"
	"github.com/skillsenselab/scribe/logger"
)

// Config is the top-level configuration document.
type Config struct {
	// Logging configures the zerolog wrapper.
	Logging logger.Config `yaml:"logging" mapstructure:"logging"`
	// StorePath is the JSON snapshot file for crash recovery. Empty keeps
	// snapshots in memory only.
	StorePath string `yaml:"store_path" mapstructure:"store_path"`
	// Retry configures the job-level retry policy.
	Retry RetryConfig `yaml:"retry" mapstructure:"retry"`
	// Providers holds one block per configured provider.
	Providers Providers `yaml:"providers" mapstructure:"providers"`
}

// RetryConfig configures job-level retry from the config document.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// Providers holds the per-provider configuration blocks. A nil block means
// the provider is not configured.
type Providers struct {
	AzureBatch  *AzureBatchConfig  `yaml:"azure_batch" mapstructure:"azure_batch"`
	OpenAI      *OpenAIConfig      `yaml:"openai" mapstructure:"openai"`
	AzureOpenAI *AzureOpenAIConfig `yaml:"azure_openai" mapstructure:"azure_openai"`
}

// Load reads the YAML config at path, layering environment variables with
// the SCRIBE_ prefix on top. A .env file in the working directory is loaded
// first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Configuration("config_file", err.Error()).WithCause(err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Configuration("config_file", err.Error()).WithCause(err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills defaults on every configured section.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()
	if c.Providers.AzureBatch != nil {
		c.Providers.AzureBatch.ApplyDefaults()
	}
	if c.Providers.OpenAI != nil {
		c.Providers.OpenAI.ApplyDefaults()
	}
	if c.Providers.AzureOpenAI != nil {
		c.Providers.AzureOpenAI.ApplyDefaults()
	}
}

// Validate checks every configured provider block. Validation failures carry
// the CONFIGURATION code and happen before any network call.
func (c *Config) Validate() error {
	if c.Providers.AzureBatch != nil {
		if err := c.Providers.AzureBatch.Validate(); err != nil {
			return err
		}
	}
	if c.Providers.OpenAI != nil {
		if err := c.Providers.OpenAI.Validate(); err != nil {
			return err
		}
	}
	if c.Providers.AzureOpenAI != nil {
		if err := c.Providers.AzureOpenAI.Validate(); err != nil {
			return err
		}
	}
	return nil
}

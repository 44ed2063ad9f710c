package config

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/skillsenselab/scribe/errors"
)

// Provider names accepted in ProviderConfig.Provider.
const (
	ProviderAzureBatch  = "azure-batch"
	ProviderOpenAI      = "openai"
	ProviderAzureOpenAI = "azure-openai"
)

// AzureBatchConfig configures the multi-step batch transcription provider:
// blob staging plus the batch transcription REST API.
type AzureBatchConfig struct {
	// SpeechKey is the speech service subscription key.
	SpeechKey string `yaml:"speech_key" mapstructure:"speech_key" validate:"required"`
	// Region is the speech service region (e.g. "westeurope").
	Region string `yaml:"region" mapstructure:"region" validate:"required"`
	// StorageAccount is the blob storage account name used for staging.
	StorageAccount string `yaml:"storage_account" mapstructure:"storage_account" validate:"required"`
	// StorageKey is the base64-encoded shared key of the storage account.
	StorageKey string `yaml:"storage_key" mapstructure:"storage_key" validate:"required"`
	// ContainerName is the staging container.
	ContainerName string `yaml:"container_name" mapstructure:"container_name" validate:"required"`
	// Locale is the transcription locale (e.g. "en-US").
	Locale string `yaml:"locale" mapstructure:"locale"`
	// Diarization enables per-speaker segmentation.
	Diarization bool `yaml:"diarization" mapstructure:"diarization"`
	// MinSpeakers and MaxSpeakers bound the diarization speaker count.
	MinSpeakers int `yaml:"min_speakers" mapstructure:"min_speakers"`
	MaxSpeakers int `yaml:"max_speakers" mapstructure:"max_speakers"`
	// Punctuation is the punctuation mode.
	Punctuation string `yaml:"punctuation" mapstructure:"punctuation"`
	// ProfanityFilter is the profanity handling mode.
	ProfanityFilter string `yaml:"profanity_filter" mapstructure:"profanity_filter"`
	// PollInterval and PollMaxAttempts bound the status poll loop.
	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	PollMaxAttempts int           `yaml:"poll_max_attempts" mapstructure:"poll_max_attempts"`
	// SpeechEndpoint overrides the regional speech endpoint. Used in tests.
	SpeechEndpoint string `yaml:"speech_endpoint" mapstructure:"speech_endpoint"`
	// BlobEndpoint overrides the storage account endpoint. Used in tests.
	BlobEndpoint string `yaml:"blob_endpoint" mapstructure:"blob_endpoint"`
}

// ApplyDefaults fills zero-valued optional fields.
func (c *AzureBatchConfig) ApplyDefaults() {
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	if c.MinSpeakers == 0 {
		c.MinSpeakers = 1
	}
	if c.MaxSpeakers == 0 {
		c.MaxSpeakers = 10
	}
	if c.Punctuation == "" {
		c.Punctuation = "DictatedAndAutomatic"
	}
	if c.ProfanityFilter == "" {
		c.ProfanityFilter = "Masked"
	}
}

// OpenAIConfig configures the hosted single-call transcription endpoint.
type OpenAIConfig struct {
	// APIKey is the bearer token.
	APIKey string `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	// Model is the transcription model identifier.
	Model string `yaml:"model" mapstructure:"model"`
	// BaseURL overrides the hosted endpoint. Used in tests.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ApplyDefaults fills zero-valued optional fields.
func (c *OpenAIConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "whisper-1"
	}
}

// AzureOpenAIConfig configures the per-deployment single-call endpoint.
type AzureOpenAIConfig struct {
	// APIKey is sent in the api-key header.
	APIKey string `yaml:"api_key" mapstructure:"api_key" validate:"required"`
	// Endpoint is the tenant-specific base URL.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"required"`
	// Deployment is the deployment name addressed under the endpoint.
	Deployment string `yaml:"deployment" mapstructure:"deployment" validate:"required"`
	// APIVersion selects the REST API version.
	APIVersion string `yaml:"api_version" mapstructure:"api_version"`
}

// ApplyDefaults fills zero-valued optional fields.
func (c *AzureOpenAIConfig) ApplyDefaults() {
	if c.APIVersion == "" {
		c.APIVersion = "2024-06-01"
	}
}

var validate = validator.New()

// validateStruct maps validator failures onto the CONFIGURATION error code,
// naming the first missing field.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return errors.MissingField(verrs[0].Field())
	}
	return errors.Configuration("config", err.Error())
}

// Validate checks required fields, returning a CONFIGURATION error.
func (c *AzureBatchConfig) Validate() error { return validateStruct(c) }

// Validate checks required fields, returning a CONFIGURATION error.
func (c *OpenAIConfig) Validate() error { return validateStruct(c) }

// Validate checks required fields, returning a CONFIGURATION error.
func (c *AzureOpenAIConfig) Validate() error { return validateStruct(c) }

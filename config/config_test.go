package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skillsenselab/scribe/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FullDocument(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
store_path: /tmp/scribe/operations.json
retry:
  max_attempts: 3
  initial_backoff: 1s
providers:
  azure_batch:
    speech_key: sk-123
    region: westeurope
    storage_account: scribeaudio
    storage_key: a2V5
    container_name: uploads
    diarization: true
  openai:
    api_key: oa-456
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ab := cfg.Providers.AzureBatch
	if ab == nil {
		t.Fatal("azure_batch block missing")
	}
	if ab.Locale != "en-US" {
		t.Fatalf("locale default = %q", ab.Locale)
	}
	if ab.MinSpeakers != 1 || ab.MaxSpeakers != 10 {
		t.Fatalf("speaker bounds = %d/%d", ab.MinSpeakers, ab.MaxSpeakers)
	}
	if ab.Punctuation != "DictatedAndAutomatic" || ab.ProfanityFilter != "Masked" {
		t.Fatalf("mode defaults = %q/%q", ab.Punctuation, ab.ProfanityFilter)
	}
	if cfg.Providers.OpenAI.Model != "whisper-1" {
		t.Fatalf("openai model default = %q", cfg.Providers.OpenAI.Model)
	}
	if cfg.Retry.InitialBackoff != time.Second {
		t.Fatalf("retry backoff = %v", cfg.Retry.InitialBackoff)
	}
	if cfg.Providers.AzureOpenAI != nil {
		t.Fatal("unconfigured provider must stay nil")
	}
}

func TestLoad_MissingRequiredField(t *testing.T) {
	path := writeConfig(t, `
providers:
  azure_batch:
    speech_key: sk-123
    region: westeurope
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	je, ok := errors.AsJobError(err)
	if !ok || je.Code != errors.CodeConfiguration {
		t.Fatalf("expected CONFIGURATION error, got %v", err)
	}
	if je.Retryable {
		t.Fatal("configuration errors are not retryable")
	}
}

func TestAzureOpenAIConfig_Validate(t *testing.T) {
	cfg := &AzureOpenAIConfig{APIKey: "k", Endpoint: "https://tenant.openai.azure.com"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected missing deployment to fail")
	}

	cfg.Deployment = "whisper"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	cfg.ApplyDefaults()
	if cfg.APIVersion == "" {
		t.Fatal("api version default not applied")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	if errors.CodeOf(err) != errors.CodeConfiguration {
		t.Fatalf("expected CONFIGURATION error, got %v", err)
	}
}

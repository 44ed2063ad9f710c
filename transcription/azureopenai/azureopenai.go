// Package azureopenai implements the per-deployment single-call
// transcription provider: one multipart upload to a tenant-specific endpoint
// with an api-key header. The contract matches the hosted single-call
// variant; only addressing and auth differ.
package azureopenai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/skillsenselab/scribe/config"
	"github.com/skillsenselab/scribe/errors"
	"github.com/skillsenselab/scribe/httpclient"
	"github.com/skillsenselab/scribe/progress"
	"github.com/skillsenselab/scribe/transcription"
)

// ProviderName is the registered name for this provider.
const ProviderName = config.ProviderAzureOpenAI

const defaultTimeout = 120 * time.Second

// Provider implements transcription.Provider against a tenant deployment.
type Provider struct {
	cfg    config.AzureOpenAIConfig
	client *httpclient.Client
}

// NewProvider creates the provider after validating required fields.
func NewProvider(cfg config.AzureOpenAIConfig) (*Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{
		cfg: cfg,
		client: httpclient.New(httpclient.Config{
			BaseURL: cfg.Endpoint,
			Timeout: defaultTimeout,
			Auth:    httpclient.APIKeyAuth(cfg.APIKey, "api-key"),
		}),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return ProviderName }

// IsAvailable reports whether the deployment endpoint is configured. The
// service has no unauthenticated health route, so this is a static check.
func (p *Provider) IsAvailable(_ context.Context) bool {
	return p.cfg.Endpoint != "" && p.cfg.Deployment != ""
}

// Transcribe uploads the audio in one multipart call and returns the text.
func (p *Provider) Transcribe(ctx context.Context, req transcription.Request, report transcription.ReportFunc) (*transcription.Result, error) {
	report(progress.StatusUploading, transcription.PctUploadStart, "Uploading audio")

	body := &httpclient.MultipartBody{
		Fields: map[string]string{
			"response_format": "json",
		},
		Files: []httpclient.FileField{{
			FieldName:   "file",
			FileName:    req.Filename,
			ContentType: req.ContentType,
			Data:        req.Audio,
		}},
	}
	if req.Language != "" {
		body.Fields["language"] = req.Language
	}

	resp, err := p.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/openai/deployments/%s/audio/transcriptions", p.cfg.Deployment),
		Query:  map[string]string{"api-version": p.cfg.APIVersion},
		Body:   body,
	})
	if err != nil {
		return nil, err
	}

	report(progress.StatusDownloading, transcription.PctDownloading, "Parsing response")

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, errors.New(errors.CodeRemoteRejection, "malformed transcription response").WithCause(err)
	}

	return &transcription.Result{Text: out.Text}, nil
}

// Package openai implements the hosted single-call transcription provider:
// one multipart upload with bearer auth, synchronous text response.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/skillsenselab/scribe/config"
	"github.com/skillsenselab/scribe/errors"
	"github.com/skillsenselab/scribe/httpclient"
	"github.com/skillsenselab/scribe/progress"
	"github.com/skillsenselab/scribe/transcription"
)

// ProviderName is the registered name for this provider.
const ProviderName = config.ProviderOpenAI

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 120 * time.Second
)

// Provider implements transcription.Provider against the hosted endpoint.
type Provider struct {
	cfg    config.OpenAIConfig
	client *httpclient.Client
}

// NewProvider creates the provider after validating required fields.
func NewProvider(cfg config.OpenAIConfig) (*Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Provider{
		cfg: cfg,
		client: httpclient.New(httpclient.Config{
			BaseURL: cfg.BaseURL,
			Timeout: defaultTimeout,
			Auth:    httpclient.BearerAuth(cfg.APIKey),
		}),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return ProviderName }

// IsAvailable checks that the endpoint accepts the configured credentials.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	resp, err := p.client.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   "/models",
	})
	return err == nil && resp.IsSuccess()
}

// Transcribe uploads the audio in one multipart call and returns the text.
// The protocol has no confidence or diarization output.
func (p *Provider) Transcribe(ctx context.Context, req transcription.Request, report transcription.ReportFunc) (*transcription.Result, error) {
	report(progress.StatusUploading, transcription.PctUploadStart, "Uploading audio")

	body := &httpclient.MultipartBody{
		Fields: map[string]string{
			"model":           p.cfg.Model,
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
		Path:   "/audio/transcriptions",
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

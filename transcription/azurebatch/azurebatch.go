// Package azurebatch implements the multi-step batch transcription provider:
// stage the audio into blob storage with a SharedKey-signed PUT, create a
// remote transcription job, poll it to a terminal status, then fetch and
// normalize the transcript. This is the only provider with a true remote
// cancel primitive.
package azurebatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillsenselab/scribe/config"
	"github.com/skillsenselab/scribe/errors"
	"github.com/skillsenselab/scribe/httpclient"
	"github.com/skillsenselab/scribe/logger"
	"github.com/skillsenselab/scribe/polling"
	"github.com/skillsenselab/scribe/progress"
	"github.com/skillsenselab/scribe/resilience"
	"github.com/skillsenselab/scribe/transcription"
)

// ProviderName is the registered name for this provider.
const ProviderName = config.ProviderAzureBatch

const (
	blobAPIVersion   = "2021-08-06"
	speechAPIVersion = "v3.1"
	requestTimeout   = 120 * time.Second
)

// stepRetryPolicy governs in-place retries of the one-shot protocol steps
// (blob staging, job creation) on transient network failures. Status polling
// has its own attempt budget in the polling engine.
var stepRetryPolicy = resilience.RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	BackoffFactor:  2.0,
	MaxBackoff:     10 * time.Second,
}

func isTransient(err error) bool {
	return errors.CodeOf(err) == errors.CodeNetwork
}

// session is the adapter-private state for one running job, scoped to the
// invocation and discarded on cleanup.
type session struct {
	jobURL   string
	filesURL string
}

// Provider implements transcription.Provider for the batch protocol.
type Provider struct {
	cfg    config.AzureBatchConfig
	speech *httpclient.Client
	blob   *httpclient.Client
	clock  resilience.Clock
	log    *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the clock driving the poll loop.
func WithClock(clock resilience.Clock) Option {
	return func(p *Provider) { p.clock = clock }
}

// WithLogger sets the provider logger.
func WithLogger(log *logger.Logger) Option {
	return func(p *Provider) { p.log = log }
}

// NewProvider creates the provider after validating required fields.
func NewProvider(cfg config.AzureBatchConfig, opts ...Option) (*Provider, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	speechEndpoint := cfg.SpeechEndpoint
	if speechEndpoint == "" {
		speechEndpoint = fmt.Sprintf("https://%s.api.cognitive.microsoft.com", cfg.Region)
	}

	p := &Provider{
		cfg: cfg,
		speech: httpclient.New(httpclient.Config{
			BaseURL: speechEndpoint,
			Timeout: requestTimeout,
			Auth:    httpclient.APIKeyAuth(cfg.SpeechKey, "Ocp-Apim-Subscription-Key"),
		}),
		blob:     httpclient.New(httpclient.Config{Timeout: requestTimeout}),
		clock:    resilience.RealClock{},
		log:      logger.Nop(),
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.WithComponent(ProviderName)
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return ProviderName }

// IsAvailable checks that the speech endpoint accepts the subscription key.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	resp, err := p.speech.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   "/speechtotext/" + speechAPIVersion + "/transcriptions",
		Query:  map[string]string{"top": "1"},
	})
	return err == nil && resp.IsSuccess()
}

// Transcribe runs the four protocol steps, reporting progress under the
// job id throughout. Session state is discarded when the attempt ends.
func (p *Provider) Transcribe(ctx context.Context, req transcription.Request, report transcription.ReportFunc) (*transcription.Result, error) {
	sess := &session{}
	p.mu.Lock()
	p.sessions[req.JobID] = sess
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.sessions, req.JobID)
		p.mu.Unlock()
	}()

	log := p.log.WithJob(req.JobID)

	report(progress.StatusUploading, transcription.PctUploadStart, "Uploading audio to storage")
	blobURL, err := resilience.Retry(ctx, p.clock, stepRetryPolicy, isTransient, func() (string, error) {
		return p.stageBlob(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	report(progress.StatusUploading, transcription.PctUploadDone, "Audio staged")
	log.Debug("audio staged", logger.Fields("blob_url", blobURL))

	report(progress.StatusCreatingJob, transcription.PctCreatingJob, "Creating transcription job")
	job, err := resilience.Retry(ctx, p.clock, stepRetryPolicy, isTransient, func() (*jobDocument, error) {
		return p.createJob(ctx, req, blobURL)
	})
	if err != nil {
		return nil, err
	}
	sess.jobURL = job.Self
	sess.filesURL = job.Links.Files
	log.Info("transcription job created", logger.Fields("job_url", sess.jobURL))

	pollCfg := polling.Config{
		Interval:      p.cfg.PollInterval,
		MaxAttempts:   p.cfg.PollMaxAttempts,
		ProgressStart: transcription.PctProcessingStart,
		ProgressEnd:   transcription.PctProcessingEnd,
	}
	return polling.Poll(ctx, p.clock, pollCfg,
		func(ctx context.Context) (polling.State, string, error) {
			return p.queryStatus(ctx, sess)
		},
		func(ctx context.Context) (*transcription.Result, error) {
			report(progress.StatusDownloading, transcription.PctDownloading, "Downloading transcript")
			return p.fetchResult(ctx, sess)
		},
		func(pct int) {
			report(progress.StatusProcessing, pct, "Processing audio")
		},
	)
}

// CancelJob deletes the remote transcription job for jobID, if one is live.
func (p *Provider) CancelJob(ctx context.Context, jobID string) error {
	p.mu.Lock()
	sess, ok := p.sessions[jobID]
	p.mu.Unlock()
	if !ok || sess.jobURL == "" {
		return errors.NotFound(jobID)
	}

	_, err := p.speech.Do(ctx, httpclient.Request{
		Method: http.MethodDelete,
		Path:   sess.jobURL,
	})
	return err
}

// stageBlob PUTs the audio into the staging container with a per-request
// SharedKey signature and returns the blob URL.
func (p *Provider) stageBlob(ctx context.Context, req transcription.Request) (string, error) {
	endpoint := p.cfg.BlobEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", p.cfg.StorageAccount)
	}
	blobName := fmt.Sprintf("%s-%s", req.JobID, req.Filename)
	blobURL := fmt.Sprintf("%s/%s/%s", endpoint, p.cfg.ContainerName, blobName)

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var signErr error
	_, err := p.blob.Do(ctx, httpclient.Request{
		Method: http.MethodPut,
		Path:   blobURL,
		Headers: map[string]string{
			"Content-Type":   contentType,
			"x-ms-blob-type": "BlockBlob",
			"x-ms-version":   blobAPIVersion,
			"x-ms-date":      p.clock.Now().UTC().Format(http.TimeFormat),
		},
		Body: req.Audio,
		Auth: httpclient.CustomAuth(func(r *http.Request) {
			signErr = signRequest(r, p.cfg.StorageAccount, p.cfg.StorageKey)
		}),
	})
	if signErr != nil {
		return "", errors.Configuration("storage_key", signErr.Error()).WithCause(signErr)
	}
	if err != nil {
		return "", err
	}
	return blobURL, nil
}

// createJob submits the batch transcription referencing the staged blob and
// returns the remote job document.
func (p *Provider) createJob(ctx context.Context, req transcription.Request, blobURL string) (*jobDocument, error) {
	locale := p.cfg.Locale
	if req.Language != "" {
		locale = req.Language
	}

	properties := map[string]any{
		"punctuationMode":     p.cfg.Punctuation,
		"profanityFilterMode": p.cfg.ProfanityFilter,
		"diarizationEnabled":  p.cfg.Diarization,
	}
	if p.cfg.Diarization {
		properties["diarization"] = map[string]any{
			"speakers": map[string]int{
				"minCount": p.cfg.MinSpeakers,
				"maxCount": p.cfg.MaxSpeakers,
			},
		}
	}

	resp, err := p.speech.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/speechtotext/" + speechAPIVersion + "/transcriptions",
		Body: map[string]any{
			"displayName": "scribe-" + uuid.NewString(),
			"locale":      locale,
			"contentUrls": []string{blobURL},
			"properties":  properties,
		},
	})
	if err != nil {
		return nil, err
	}

	var job jobDocument
	if err := json.Unmarshal(resp.Body, &job); err != nil {
		return nil, errors.New(errors.CodeRemoteRejection, "malformed job creation response").WithCause(err)
	}
	if job.Self == "" {
		return nil, errors.New(errors.CodeRemoteRejection, "job creation response missing self link")
	}
	return &job, nil
}

// queryStatus polls the remote job once and maps its status.
func (p *Provider) queryStatus(ctx context.Context, sess *session) (polling.State, string, error) {
	resp, err := p.speech.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   sess.jobURL,
	})
	if err != nil {
		return polling.StatePending, "", err
	}

	var job jobDocument
	if err := json.Unmarshal(resp.Body, &job); err != nil {
		return polling.StatePending, "", errors.New(errors.CodeRemoteRejection, "malformed job status response").WithCause(err)
	}
	if job.Links.Files != "" {
		sess.filesURL = job.Links.Files
	}

	switch job.Status {
	case "Succeeded":
		return polling.StateSucceeded, "", nil
	case "Failed":
		return polling.StateFailed, job.failureMessage(), nil
	case "Cancelled":
		return polling.StateCancelled, job.failureMessage(), nil
	default:
		return polling.StatePending, "", nil
	}
}

// fetchResult downloads the files manifest, locates the transcription entry,
// and parses its content into the normalized result.
func (p *Provider) fetchResult(ctx context.Context, sess *session) (*transcription.Result, error) {
	filesURL := sess.filesURL
	if filesURL == "" {
		filesURL = sess.jobURL + "/files"
	}

	resp, err := p.speech.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   filesURL,
	})
	if err != nil {
		return nil, err
	}

	var manifest filesManifest
	if err := json.Unmarshal(resp.Body, &manifest); err != nil {
		return nil, errors.New(errors.CodeRemoteRejection, "malformed files manifest").WithCause(err)
	}

	contentURL := ""
	for _, f := range manifest.Values {
		if f.Kind == "Transcription" {
			contentURL = f.Links.ContentURL
			break
		}
	}
	if contentURL == "" {
		return nil, errors.New(errors.CodeRemoteRejection, "transcription file missing from manifest")
	}

	content, err := p.speech.Do(ctx, httpclient.Request{
		Method: http.MethodGet,
		Path:   contentURL,
	})
	if err != nil {
		return nil, err
	}

	var transcript transcriptDocument
	if err := json.Unmarshal(content.Body, &transcript); err != nil {
		return nil, errors.New(errors.CodeRemoteRejection, "malformed transcript content").WithCause(err)
	}

	return normalizeTranscript(&transcript, p.cfg.Diarization), nil
}

// Package orchestrator is the public entry point of the transcription
// pipeline. It owns the operation registry, the provider registry, and the
// retry bookkeeping, and drives one provider adapter per submitted job.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillsenselab/scribe/config"
	"github.com/skillsenselab/scribe/errors"
	"github.com/skillsenselab/scribe/logger"
	"github.com/skillsenselab/scribe/observability"
	"github.com/skillsenselab/scribe/progress"
	"github.com/skillsenselab/scribe/resilience"
	"github.com/skillsenselab/scribe/transcription"
	"github.com/skillsenselab/scribe/transcription/azurebatch"
	"github.com/skillsenselab/scribe/transcription/azureopenai"
	"github.com/skillsenselab/scribe/transcription/openai"
)

// OperationType tags every tracked operation created by this package.
const OperationType = "transcription"

// SubmitRequest describes one transcription job.
type SubmitRequest struct {
	// Provider selects the adapter by registered name.
	Provider string
	// Audio is the raw audio payload.
	Audio []byte
	// Filename is the upload name presented to the provider.
	Filename string
	// ContentType is the audio MIME type.
	ContentType string
	// Language is an optional language/locale hint.
	Language string
	// Description is an optional human-readable operation description.
	Description string
	// OnProgress, when set, is subscribed to the operation before the
	// adapter starts and unsubscribed on cleanup.
	OnProgress progress.Callback
}

// job holds the per-operation state the orchestrator needs across the
// attempt: the original payload for retries and the cancel handle for the
// running attempt.
type job struct {
	provider  string
	req       transcription.Request
	unsub     func()
	cancel    context.CancelFunc
	cancelled bool
}

// Orchestrator runs transcription jobs against the closed provider set,
// reporting through a progress tracker and enforcing the retry ceiling.
type Orchestrator struct {
	registry *transcription.Registry
	tracker  *progress.Tracker
	retries  *resilience.Controller
	clock    resilience.Clock
	log      *logger.Logger
	metrics  *observability.Metrics

	mu   sync.Mutex
	jobs map[string]*job
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock driving retry backoff.
func WithClock(clock resilience.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithLogger sets the orchestrator logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithTracker sets the progress tracker. The default tracker keeps
// snapshots in memory only.
func WithTracker(t *progress.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithRetryPolicy sets the job-level retry policy.
func WithRetryPolicy(policy resilience.RetryPolicy) Option {
	return func(o *Orchestrator) { o.retries = resilience.NewController(policy) }
}

// WithMetrics sets the metrics instruments. Nil metrics record nothing.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator over an already-populated provider registry.
func New(registry *transcription.Registry, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		registry: registry,
		retries:  resilience.NewController(resilience.DefaultRetryPolicy()),
		clock:    resilience.RealClock{},
		log:      logger.Nop(),
		jobs:     make(map[string]*job),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithComponent("orchestrator")

	if o.tracker == nil {
		tracker, err := progress.NewTracker()
		if err != nil {
			return nil, err
		}
		o.tracker = tracker
	}
	return o, nil
}

// FromConfig builds the provider registry, tracker, and retry policy from a
// loaded configuration document.
func FromConfig(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	log := logger.New(&cfg.Logging, "scribe")

	registry, err := BuildRegistry(cfg.Providers)
	if err != nil {
		return nil, err
	}

	var store progress.Store = progress.NewMemoryStore()
	if cfg.StorePath != "" {
		fileStore, err := progress.NewFileStore(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		store = fileStore
	}
	tracker, err := progress.NewTracker(
		progress.WithStore(store),
		progress.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	policy := resilience.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
	}

	base := []Option{
		WithLogger(log),
		WithTracker(tracker),
		WithRetryPolicy(policy),
	}
	return New(registry, append(base, opts...)...)
}

// BuildRegistry registers one adapter per configured provider block.
func BuildRegistry(providers config.Providers) (*transcription.Registry, error) {
	registry := transcription.NewRegistry()
	if providers.AzureBatch != nil {
		p, err := azurebatch.NewProvider(*providers.AzureBatch)
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}
	if providers.OpenAI != nil {
		p, err := openai.NewProvider(*providers.OpenAI)
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}
	if providers.AzureOpenAI != nil {
		p, err := azureopenai.NewProvider(*providers.AzureOpenAI)
		if err != nil {
			return nil, err
		}
		registry.Register(p)
	}
	return registry, nil
}

// Submit runs one transcription job to a terminal state and returns the
// normalized result. The call blocks for the duration of the attempt; run it
// in its own goroutine to process jobs concurrently. Every failure path
// records a terminal operation state carrying the same message as the
// returned error.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*transcription.Result, error) {
	id := uuid.NewString()

	description := req.Description
	if description == "" {
		description = "Transcribing " + req.Filename
	}
	if _, err := o.tracker.Start(id, OperationType, description); err != nil {
		return nil, err
	}

	j := &job{
		provider: req.Provider,
		req: transcription.Request{
			JobID:       id,
			Audio:       req.Audio,
			Filename:    req.Filename,
			ContentType: req.ContentType,
			Language:    req.Language,
		},
	}
	if req.OnProgress != nil {
		j.unsub = o.tracker.Subscribe(id, req.OnProgress)
	}
	o.mu.Lock()
	o.jobs[id] = j
	o.mu.Unlock()

	if _, err := o.registry.Get(req.Provider); err != nil {
		o.finishFailed(ctx, id, j, err)
		return nil, err
	}
	return o.run(ctx, id, j)
}

// Retry re-runs a failed or cancelled operation with its original payload.
// Rejected when the operation is not retryable or the attempt ceiling is
// reached.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*transcription.Result, error) {
	op, ok := o.tracker.Get(id)
	if !ok {
		return nil, errors.NotFound(id)
	}
	if !op.Retryable {
		return nil, errors.New(errors.CodeConfiguration, "operation not retryable: "+id)
	}

	o.mu.Lock()
	j := o.jobs[id]
	o.mu.Unlock()
	if j == nil {
		// Recovered after a restart: the snapshot survived but the payload
		// did not, so a fresh submission is required.
		return nil, errors.NotFound(id)
	}

	if !o.retries.Attempt(id) {
		return nil, errors.RetryExhausted(id, o.retries.Policy().MaxAttempts)
	}
	attempt := o.retries.Increment(id)
	o.metrics.RetryRequested(ctx, j.provider)
	o.log.WithJob(id).Info("retrying job", logger.Fields(logger.FieldAttempt, attempt))

	if _, err := o.tracker.Reopen(id); err != nil {
		return nil, err
	}
	j.cancelled = false
	if err := o.clock.Sleep(ctx, o.retries.Policy().Backoff(attempt-1)); err != nil {
		o.finishFailed(ctx, id, j, err)
		return nil, err
	}
	return o.run(ctx, id, j)
}

// Cancel requests cancellation of a running job. Returns false when the
// operation is unknown or no longer cancellable. The local operation is
// marked cancelled before Cancel returns; remote effect is best-effort.
// Providers exposing a remote cancel primitive get it invoked; for the rest
// the in-flight attempt is abandoned locally and any late result discarded.
func (o *Orchestrator) Cancel(ctx context.Context, id string) bool {
	op, ok := o.tracker.Get(id)
	if !ok || !op.Cancellable {
		return false
	}

	o.mu.Lock()
	j := o.jobs[id]
	if j != nil {
		j.cancelled = true
	}
	o.mu.Unlock()
	if j == nil {
		return false
	}

	if _, err := o.tracker.Cancel(id, errors.Cancelled(id).Message); err != nil {
		o.log.WithJob(id).WithError(err).Warn("recording cancellation failed")
	}

	if provider, err := o.registry.Get(j.provider); err == nil {
		if rc, ok := provider.(transcription.RemoteCanceller); ok {
			if err := rc.CancelJob(ctx, id); err != nil && errors.CodeOf(err) != errors.CodeNotFound {
				o.log.WithJob(id).WithError(err).Warn("remote cancel failed")
			}
		}
	}
	if j.cancel != nil {
		j.cancel()
	}
	o.log.WithJob(id).Info("cancellation requested")
	return true
}

// Status returns the current operation snapshot.
func (o *Orchestrator) Status(id string) (progress.Operation, bool) {
	return o.tracker.Get(id)
}

// Operations returns snapshots of all live operations.
func (o *Orchestrator) Operations() []progress.Operation {
	return o.tracker.List()
}

// Subscribe registers a callback for one operation's updates.
func (o *Orchestrator) Subscribe(id string, cb progress.Callback) func() {
	return o.tracker.Subscribe(id, cb)
}

// SubscribeEvent registers a callback on a named progress channel.
func (o *Orchestrator) SubscribeEvent(event string, cb progress.Callback) func() {
	return o.tracker.SubscribeEvent(event, cb)
}

// Providers returns the names of the registered providers.
func (o *Orchestrator) Providers() []string {
	return o.registry.List()
}

// run executes one adapter attempt for the job and records its terminal
// state.
func (o *Orchestrator) run(ctx context.Context, id string, j *job) (*transcription.Result, error) {
	provider, err := o.registry.Get(j.provider)
	if err != nil {
		o.finishFailed(ctx, id, j, err)
		return nil, err
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	j.cancel = cancel
	o.mu.Unlock()

	attempt := o.retries.Count(id)
	attemptCtx, span := observability.StartJobSpan(attemptCtx, id, j.provider, attempt)
	o.metrics.JobStarted(attemptCtx, j.provider)
	log := o.log.WithJob(id)
	log.Info("starting transcription", logger.Fields(logger.FieldProvider, j.provider))

	start := time.Now()
	report := func(status progress.Status, pct int, message string) {
		if _, err := o.tracker.Update(id, status, pct, message); err != nil {
			log.WithError(err).Debug("progress update dropped")
		}
	}

	result, err := provider.Transcribe(attemptCtx, j.req, report)
	elapsed := time.Since(start)

	o.mu.Lock()
	userCancelled := j.cancelled
	o.mu.Unlock()

	if err != nil {
		if userCancelled || errors.IsCancellation(err) {
			cancelErr := errors.Cancelled(id)
			o.markCancelled(id, cancelErr)
			observability.EndJobSpan(span, string(progress.StatusCancelled), cancelErr)
			o.metrics.JobFinished(ctx, j.provider, string(progress.StatusCancelled), elapsed)
			log.Info("transcription cancelled")
			return nil, cancelErr
		}

		o.finishFailed(ctx, id, j, err)
		observability.EndJobSpan(span, string(progress.StatusFailed), err)
		o.metrics.JobFinished(ctx, j.provider, string(progress.StatusFailed), elapsed)
		return nil, err
	}

	// A single-call request in flight when Cancel arrived may still complete;
	// the result is discarded rather than reported as success.
	if userCancelled {
		cancelErr := errors.Cancelled(id)
		o.markCancelled(id, cancelErr)
		observability.EndJobSpan(span, string(progress.StatusCancelled), cancelErr)
		o.metrics.JobFinished(ctx, j.provider, string(progress.StatusCancelled), elapsed)
		log.Info("late success discarded after cancellation")
		return nil, cancelErr
	}

	result.Provider = provider.Name()
	result.JobID = id
	result.ProcessingTime = elapsed

	if _, err := o.tracker.Complete(id, "Transcription completed"); err != nil {
		log.WithError(err).Warn("recording completion failed")
	}
	observability.EndJobSpan(span, string(progress.StatusCompleted), nil)
	o.metrics.JobFinished(ctx, j.provider, string(progress.StatusCompleted), elapsed)
	o.cleanup(id, j)
	log.Info("transcription completed", logger.DurationFields("transcribe", elapsed))
	return result, nil
}

// markCancelled records the cancelled terminal state unless Cancel already
// did so.
func (o *Orchestrator) markCancelled(id string, cancelErr *errors.JobError) {
	op, ok := o.tracker.Get(id)
	if !ok || op.Status.IsTerminal() {
		return
	}
	if _, err := o.tracker.Cancel(id, cancelErr.Message); err != nil {
		o.log.WithJob(id).WithError(err).Warn("recording cancellation failed")
	}
}

// finishFailed records the failure against the operation with the same
// message the caller receives. Non-retryable failures release the job's
// payload and retry counter.
func (o *Orchestrator) finishFailed(ctx context.Context, id string, j *job, err error) {
	message := err.Error()
	retryable := errors.IsRetryable(err)
	if je, ok := errors.AsJobError(err); ok {
		message = je.Message
	}
	if _, terr := o.tracker.Fail(id, message, retryable); terr != nil {
		o.log.WithJob(id).WithError(terr).Warn("recording failure failed")
	}
	o.log.WithJob(id).WithError(err).Error("transcription failed")
	if !retryable {
		o.cleanup(id, j)
	}
}

// cleanup releases the orchestrator-held state for a job that will not be
// retried: the payload, the progress subscription, and the retry counter.
// The tracker entry stays visible until its own grace-window cleanup.
func (o *Orchestrator) cleanup(id string, j *job) {
	o.mu.Lock()
	delete(o.jobs, id)
	o.mu.Unlock()
	if j.unsub != nil {
		j.unsub()
	}
	o.retries.Reset(id)
}

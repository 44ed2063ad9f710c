// Package transcription defines the capability contract and common types for
// the closed set of speech-to-text provider adapters.
package transcription

import "context"

// Provider is the single capability contract every adapter variant
// implements: run one provider's wire protocol for one job, emitting
// progress through report as it executes. Adapter errors carry the
// scribe/errors taxonomy; remote messages are preserved verbatim.
type Provider interface {
	// Name returns the provider's unique name.
	Name() string
	// IsAvailable checks if the provider is ready to handle requests.
	IsAvailable(ctx context.Context) bool
	// Transcribe executes the provider protocol for req. The returned
	// Result has Text/Confidence/SpeakerDiarization populated; the
	// orchestrator fills Provider, JobID, and ProcessingTime.
	Transcribe(ctx context.Context, req Request, report ReportFunc) (*Result, error)
}

// RemoteCanceller is implemented by providers whose protocol exposes a true
// remote cancel primitive. Providers without it get best-effort local-only
// cancellation.
type RemoteCanceller interface {
	// CancelJob cancels the remote job associated with jobID, if any.
	CancelJob(ctx context.Context, jobID string) error
}

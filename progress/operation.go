package progress

import "time"

// Status is the lifecycle state of a tracked operation.
type Status string

// Operation lifecycle states. Transitions run initializing → uploading →
// creating_job → processing → downloading → terminal; a retry re-enters at
// initializing with a fresh attempt.
const (
	StatusInitializing Status = "initializing"
	StatusUploading    Status = "uploading"
	StatusCreatingJob  Status = "creating_job"
	StatusProcessing   Status = "processing"
	StatusDownloading  Status = "downloading"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// IsTerminal reports whether no further transitions can occur from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Cancellable reports whether an operation in state s accepts cancellation.
func (s Status) Cancellable() bool {
	return !s.IsTerminal()
}

// Retryable reports whether an operation in state s accepts a fresh attempt.
func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusCancelled
}

// Operation is the unit of tracked work: one transcription job.
type Operation struct {
	// ID is the opaque unique job identifier, generated at submission.
	ID string `json:"id"`
	// Type is the provider/category tag.
	Type string `json:"type"`
	// Description is a short human-readable label for the job.
	Description string `json:"description"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// Progress is 0-100, clamped on every write.
	Progress int `json:"progress"`
	// Message is the human-readable current status text.
	Message string `json:"message"`
	// StartTime is when the operation was registered.
	StartTime time.Time `json:"start_time"`
	// LastUpdate is when the operation was last mutated.
	LastUpdate time.Time `json:"last_update"`
	// Cancellable is derived from Status on every write.
	Cancellable bool `json:"cancellable"`
	// Retryable is derived from Status on every write.
	Retryable bool `json:"retryable"`
	// Error holds the failure message; set only when Status is failed.
	Error string `json:"error,omitempty"`
}

// clampProgress bounds p to [0,100].
func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

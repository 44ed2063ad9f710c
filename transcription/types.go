package transcription

import (
	"time"

	"github.com/skillsenselab/scribe/progress"
)

// Request holds the audio payload for one transcription job.
type Request struct {
	// JobID is the orchestrator-assigned operation id. Adapters report
	// progress and keep session state under this id.
	JobID string
	// Audio is the raw audio payload.
	Audio []byte
	// Filename is the upload name presented to the provider.
	Filename string
	// ContentType is the audio MIME type (e.g. "audio/wav").
	ContentType string
	// Language is the expected language/locale of the audio, when the
	// provider supports a hint.
	Language string
}

// SpeakerSegment is one per-speaker portion of a diarized transcript.
type SpeakerSegment struct {
	// Speaker is the provider-assigned speaker label.
	Speaker string `json:"speaker"`
	// Text is the transcribed text for this segment.
	Text string `json:"text"`
	// StartTime is the segment start offset.
	StartTime time.Duration `json:"start_time"`
	// EndTime is the segment end offset.
	EndTime time.Duration `json:"end_time"`
}

// Result is the normalized transcription record returned to the caller.
type Result struct {
	// Text is the full transcription text.
	Text string `json:"text"`
	// Confidence is the mean per-phrase confidence, when the provider
	// reports one. Nil otherwise.
	Confidence *float64 `json:"confidence"`
	// SpeakerDiarization contains per-speaker segments, when requested and
	// supported. Nil otherwise.
	SpeakerDiarization []SpeakerSegment `json:"speaker_diarization"`
	// ProcessingTime is the end-to-end duration of the attempt.
	ProcessingTime time.Duration `json:"processing_time"`
	// Provider is the name of the backend that produced the result.
	Provider string `json:"provider"`
	// JobID is the operation id the result belongs to.
	JobID string `json:"job_id"`
}

// ReportFunc delivers a progress update for the running job. Adapters must
// emit monotonically non-decreasing progress within one attempt.
type ReportFunc func(status progress.Status, pct int, message string)

// Progress conventions shared by the adapters. Values between these marks
// are interpolated by the polling engine.
const (
	// PctUploadStart is reported when payload staging begins.
	PctUploadStart = 10
	// PctUploadDone is reported when the payload is staged.
	PctUploadDone = 20
	// PctCreatingJob is reported while the remote job is being created.
	PctCreatingJob = 20
	// PctProcessingStart and PctProcessingEnd bound the poll ramp.
	PctProcessingStart = 30
	PctProcessingEnd   = 90
	// PctDownloading is reported while fetching the result.
	PctDownloading = 95
)

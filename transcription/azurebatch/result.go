package azurebatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/skillsenselab/scribe/transcription"
)

// jobDocument is the remote transcription job resource.
type jobDocument struct {
	Self   string `json:"self"`
	Status string `json:"status"`
	Links  struct {
		Files string `json:"files"`
	} `json:"links"`
	Properties struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"properties"`
}

// failureMessage returns the remote error message, if any.
func (j *jobDocument) failureMessage() string {
	return j.Properties.Error.Message
}

// filesManifest lists the result files of a finished job.
type filesManifest struct {
	Values []struct {
		Kind  string `json:"kind"`
		Name  string `json:"name"`
		Links struct {
			ContentURL string `json:"contentUrl"`
		} `json:"links"`
	} `json:"values"`
}

// transcriptDocument is the transcription content file.
type transcriptDocument struct {
	CombinedRecognizedPhrases []struct {
		Channel int    `json:"channel"`
		Display string `json:"display"`
	} `json:"combinedRecognizedPhrases"`
	RecognizedPhrases []recognizedPhrase `json:"recognizedPhrases"`
}

type recognizedPhrase struct {
	RecognitionStatus string  `json:"recognitionStatus"`
	Speaker           int     `json:"speaker"`
	OffsetInTicks     float64 `json:"offsetInTicks"`
	DurationInTicks   float64 `json:"durationInTicks"`
	NBest             []struct {
		Confidence float64 `json:"confidence"`
		Display    string  `json:"display"`
	} `json:"nBest"`
}

// nanosPerTick: offsets are reported in 100ns ticks.
const nanosPerTick = 100

// normalizeTranscript flattens the provider transcript into the normalized
// result: concatenated text, mean per-phrase confidence when present, and
// per-speaker segments when diarization was requested.
func normalizeTranscript(doc *transcriptDocument, diarization bool) *transcription.Result {
	result := &transcription.Result{}

	var parts []string
	for _, combined := range doc.CombinedRecognizedPhrases {
		if combined.Display != "" {
			parts = append(parts, combined.Display)
		}
	}
	if len(parts) == 0 {
		for _, phrase := range doc.RecognizedPhrases {
			if len(phrase.NBest) > 0 && phrase.NBest[0].Display != "" {
				parts = append(parts, phrase.NBest[0].Display)
			}
		}
	}
	result.Text = strings.Join(parts, " ")

	var confidenceSum float64
	var confidenceCount int
	for _, phrase := range doc.RecognizedPhrases {
		if len(phrase.NBest) == 0 {
			continue
		}
		confidenceSum += phrase.NBest[0].Confidence
		confidenceCount++
	}
	if confidenceCount > 0 {
		mean := confidenceSum / float64(confidenceCount)
		result.Confidence = &mean
	}

	if diarization {
		for _, phrase := range doc.RecognizedPhrases {
			if len(phrase.NBest) == 0 {
				continue
			}
			start := ticksToDuration(phrase.OffsetInTicks)
			result.SpeakerDiarization = append(result.SpeakerDiarization, transcription.SpeakerSegment{
				Speaker:   fmt.Sprintf("Speaker %d", phrase.Speaker),
				Text:      phrase.NBest[0].Display,
				StartTime: start,
				EndTime:   start + ticksToDuration(phrase.DurationInTicks),
			})
		}
	}

	return result
}

// ticksToDuration converts 100ns ticks to a Duration.
func ticksToDuration(ticks float64) time.Duration {
	return time.Duration(ticks * nanosPerTick)
}

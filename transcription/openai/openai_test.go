package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/skillsenselab/scribe/config"
	"github.com/skillsenselab/scribe/errors"
	"github.com/skillsenselab/scribe/progress"
	"github.com/skillsenselab/scribe/transcription"
)

func TestNewProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewProvider(config.OpenAIConfig{})
	if errors.CodeOf(err) != errors.CodeConfiguration {
		t.Fatalf("expected CONFIGURATION error, got %v", err)
	}
}

func TestTranscribe_SingleCallSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q", got)
		}
		w.Write([]byte(`{"text":"short payload transcript"}`))
	}))
	defer srv.Close()

	p, err := NewProvider(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	var stages []progress.Status
	result, err := p.Transcribe(context.Background(), transcription.Request{
		JobID:       "job-1",
		Audio:       []byte("RIFFdata"),
		Filename:    "clip.wav",
		ContentType: "audio/wav",
		Language:    "en",
	}, func(status progress.Status, pct int, _ string) {
		stages = append(stages, status)
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if result.Text != "short payload transcript" {
		t.Fatalf("text = %q", result.Text)
	}
	if result.Confidence != nil || result.SpeakerDiarization != nil {
		t.Fatal("single-call protocol has no confidence or diarization")
	}
	if len(stages) == 0 || stages[0] != progress.StatusUploading {
		t.Fatalf("stages = %v, want uploading first", stages)
	}
}

func TestTranscribe_RemoteRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	p, err := NewProvider(config.OpenAIConfig{APIKey: "sk-bad", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	_, err = p.Transcribe(context.Background(), transcription.Request{JobID: "job-1", Audio: []byte("x"), Filename: "a.wav"}, func(progress.Status, int, string) {})
	je, ok := errors.AsJobError(err)
	if !ok || je.Code != errors.CodeRemoteRejection {
		t.Fatalf("expected REMOTE_REJECTION, got %v", err)
	}
	if je.Message != "Incorrect API key provided" {
		t.Fatalf("remote message lost: %q", je.Message)
	}
}

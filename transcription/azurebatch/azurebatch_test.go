package azurebatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skillsenselab/scribe/config"
	"github.com/skillsenselab/scribe/errors"
	"github.com/skillsenselab/scribe/progress"
	"github.com/skillsenselab/scribe/resilience"
	"github.com/skillsenselab/scribe/transcription"
)

const testStorageKey = "c3VwZXItc2VjcmV0LWtleQ==" // base64("super-secret-key")

func testProvider(t *testing.T, speechURL, blobURL string, diarization bool) *Provider {
	t.Helper()
	p, err := NewProvider(config.AzureBatchConfig{
		SpeechKey:       "speech-key",
		Region:          "westeurope",
		StorageAccount:  "scribeaudio",
		StorageKey:      testStorageKey,
		ContainerName:   "uploads",
		Diarization:     diarization,
		PollInterval:    time.Second,
		PollMaxAttempts: 10,
		SpeechEndpoint:  speechURL,
		BlobEndpoint:    blobURL,
	}, WithClock(resilience.NewFakeClock(time.Now())))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p
}

func testRequest() transcription.Request {
	return transcription.Request{
		JobID:       "job-1",
		Audio:       []byte("RIFFaudio"),
		Filename:    "meeting.wav",
		ContentType: "audio/wav",
	}
}

// speechServer simulates the batch transcription REST surface. The job
// reports Running for pendingPolls status queries, then the given terminal
// status.
type speechServer struct {
	t            *testing.T
	mux          *http.ServeMux
	srv          *httptest.Server
	polls        atomic.Int32
	pendingPolls int32
	terminal     string
	errorMessage string
	deleted      atomic.Bool
}

func newSpeechServer(t *testing.T, pendingPolls int32, terminal, errorMessage string) *speechServer {
	s := &speechServer{t: t, pendingPolls: pendingPolls, terminal: terminal, errorMessage: errorMessage}
	s.mux = http.NewServeMux()
	s.srv = httptest.NewServer(s.mux)
	t.Cleanup(s.srv.Close)

	s.mux.HandleFunc("POST /speechtotext/v3.1/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "speech-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Locale      string         `json:"locale"`
			ContentUrls []string       `json:"contentUrls"`
			Properties  map[string]any `json:"properties"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode create body: %v", err)
		}
		if body.Locale != "en-US" {
			t.Errorf("locale = %q", body.Locale)
		}
		if len(body.ContentUrls) != 1 || !strings.Contains(body.ContentUrls[0], "uploads/job-1-meeting.wav") {
			t.Errorf("contentUrls = %v", body.ContentUrls)
		}
		fmt.Fprintf(w, `{"self":%q,"status":"NotStarted"}`, s.srv.URL+"/speechtotext/v3.1/transcriptions/tr-1")
	})

	s.mux.HandleFunc("GET /speechtotext/v3.1/transcriptions/tr-1", func(w http.ResponseWriter, r *http.Request) {
		n := s.polls.Add(1)
		status := "Running"
		if n > s.pendingPolls {
			status = s.terminal
		}
		doc := map[string]any{
			"self":   s.srv.URL + "/speechtotext/v3.1/transcriptions/tr-1",
			"status": status,
			"links":  map[string]string{"files": s.srv.URL + "/speechtotext/v3.1/transcriptions/tr-1/files"},
		}
		if status == "Failed" || status == "Cancelled" {
			doc["properties"] = map[string]any{"error": map[string]string{"message": s.errorMessage}}
		}
		json.NewEncoder(w).Encode(doc)
	})

	s.mux.HandleFunc("DELETE /speechtotext/v3.1/transcriptions/tr-1", func(w http.ResponseWriter, r *http.Request) {
		s.deleted.Store(true)
		w.WriteHeader(http.StatusNoContent)
	})

	s.mux.HandleFunc("GET /speechtotext/v3.1/transcriptions/tr-1/files", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"values":[
			{"kind":"TranscriptionReport","links":{"contentUrl":%q}},
			{"kind":"Transcription","links":{"contentUrl":%q}}
		]}`, s.srv.URL+"/report.json", s.srv.URL+"/transcript.json")
	})

	s.mux.HandleFunc("GET /transcript.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"combinedRecognizedPhrases":[{"channel":0,"display":"Hello world. How are you?"}],
			"recognizedPhrases":[
				{"recognitionStatus":"Success","speaker":1,"offsetInTicks":0,"durationInTicks":20000000,"nBest":[{"confidence":0.9,"display":"Hello world."}]},
				{"recognitionStatus":"Success","speaker":2,"offsetInTicks":20000000,"durationInTicks":30000000,"nBest":[{"confidence":0.7,"display":"How are you?"}]}
			]
		}`))
	})

	return s
}

func newBlobServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("blob method = %s", r.Method)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "SharedKey scribeaudio:") {
			t.Errorf("blob auth = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("x-ms-blob-type") != "BlockBlob" {
			t.Errorf("blob type header = %q", r.Header.Get("x-ms-blob-type"))
		}
		if r.Header.Get("x-ms-version") == "" || r.Header.Get("x-ms-date") == "" {
			t.Error("protocol version or date header missing")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTranscribe_MultiStepSuccess(t *testing.T) {
	speech := newSpeechServer(t, 3, "Succeeded", "")
	blob := newBlobServer(t)
	p := testProvider(t, speech.srv.URL, blob.URL, true)

	var statuses []progress.Status
	var pcts []int
	result, err := p.Transcribe(context.Background(), testRequest(), func(status progress.Status, pct int, _ string) {
		statuses = append(statuses, status)
		pcts = append(pcts, pct)
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if result.Text != "Hello world. How are you?" {
		t.Fatalf("text = %q", result.Text)
	}
	if result.Confidence == nil || *result.Confidence < 0.79 || *result.Confidence > 0.81 {
		t.Fatalf("confidence = %v, want mean 0.8", result.Confidence)
	}
	if len(result.SpeakerDiarization) != 2 {
		t.Fatalf("segments = %d, want 2", len(result.SpeakerDiarization))
	}
	seg := result.SpeakerDiarization[1]
	if seg.Speaker != "Speaker 2" || seg.Text != "How are you?" {
		t.Fatalf("segment = %+v", seg)
	}
	if seg.StartTime != 2*time.Second || seg.EndTime != 5*time.Second {
		t.Fatalf("segment times = %v..%v", seg.StartTime, seg.EndTime)
	}

	if statuses[0] != progress.StatusUploading || statuses[1] != progress.StatusUploading {
		t.Fatalf("stage order wrong: %v", statuses)
	}
	if pcts[0] != transcription.PctUploadStart || pcts[1] != transcription.PctUploadDone {
		t.Fatalf("upload percentages = %v", pcts[:2])
	}
	if statuses[2] != progress.StatusCreatingJob {
		t.Fatalf("stage order wrong: %v", statuses)
	}
	if statuses[len(statuses)-1] != progress.StatusDownloading {
		t.Fatalf("last stage = %s, want downloading", statuses[len(statuses)-1])
	}
	for i := 1; i < len(pcts); i++ {
		if pcts[i] < pcts[i-1] {
			t.Fatalf("progress regressed: %v", pcts)
		}
	}

	// Session state must be discarded after the attempt.
	if err := p.CancelJob(context.Background(), "job-1"); errors.CodeOf(err) != errors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND after cleanup, got %v", err)
	}
}

func TestTranscribe_TransientStagingRetried(t *testing.T) {
	speech := newSpeechServer(t, 0, "Succeeded", "")

	// First PUT dies at the transport; the retry must succeed in place.
	var puts atomic.Int32
	blob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if puts.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("server does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack: %v", err)
			}
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(blob.Close)

	p := testProvider(t, speech.srv.URL, blob.URL, false)

	result, err := p.Transcribe(context.Background(), testRequest(), func(progress.Status, int, string) {})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text == "" {
		t.Fatal("empty transcript after retried staging")
	}
	if got := puts.Load(); got != 2 {
		t.Fatalf("blob PUT attempts = %d, want 2", got)
	}
}

func TestTranscribe_RemoteFailure(t *testing.T) {
	speech := newSpeechServer(t, 1, "Failed", "decode error")
	blob := newBlobServer(t)
	p := testProvider(t, speech.srv.URL, blob.URL, false)

	_, err := p.Transcribe(context.Background(), testRequest(), func(progress.Status, int, string) {})
	je, ok := errors.AsJobError(err)
	if !ok || je.Code != errors.CodeRemoteJobFailure {
		t.Fatalf("expected REMOTE_JOB_FAILURE, got %v", err)
	}
	if !strings.Contains(je.Message, "decode error") {
		t.Fatalf("remote message lost: %q", je.Message)
	}
	if !je.Retryable {
		t.Fatal("remote job failure must be retryable")
	}
}

func TestTranscribe_RejectedCreate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /speechtotext/v3.1/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	})
	speech := httptest.NewServer(mux)
	defer speech.Close()
	blob := newBlobServer(t)
	p := testProvider(t, speech.URL, blob.URL, false)

	_, err := p.Transcribe(context.Background(), testRequest(), func(progress.Status, int, string) {})
	je, ok := errors.AsJobError(err)
	if !ok || je.Code != errors.CodeRemoteRejection {
		t.Fatalf("expected REMOTE_REJECTION, got %v", err)
	}
	if je.Message != "quota exceeded" {
		t.Fatalf("message = %q", je.Message)
	}
}

func TestCancelJob_DeletesRemoteJob(t *testing.T) {
	speech := newSpeechServer(t, 100, "Succeeded", "")
	blob := newBlobServer(t)
	p := testProvider(t, speech.srv.URL, blob.URL, false)

	sess := &session{jobURL: speech.srv.URL + "/speechtotext/v3.1/transcriptions/tr-1"}
	p.mu.Lock()
	p.sessions["job-1"] = sess
	p.mu.Unlock()

	if err := p.CancelJob(context.Background(), "job-1"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if !speech.deleted.Load() {
		t.Fatal("remote DELETE not issued")
	}
}

func TestCancelJob_UnknownJob(t *testing.T) {
	speech := newSpeechServer(t, 0, "Succeeded", "")
	blob := newBlobServer(t)
	p := testProvider(t, speech.srv.URL, blob.URL, false)

	if err := p.CancelJob(context.Background(), "nope"); errors.CodeOf(err) != errors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

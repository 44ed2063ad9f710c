package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew_RetryableDetection(t *testing.T) {
	tests := []struct {
		code      Code
		retryable bool
	}{
		{CodeConfiguration, false},
		{CodeNetwork, true},
		{CodeRemoteRejection, false},
		{CodeRemoteJobFailure, true},
		{CodeTimeout, true},
		{CodeCancelled, true},
		{CodeRetryExhausted, false},
		{CodeNotFound, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "boom")
			if err.Retryable != tt.retryable {
				t.Fatalf("code %s: retryable = %v, want %v", tt.code, err.Retryable, tt.retryable)
			}
		})
	}
}

func TestJobError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Network("upload", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the cause")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected message to carry the cause, got %q", err.Error())
	}
}

func TestRemoteRejection_KeepsRemoteMessage(t *testing.T) {
	err := RemoteRejection(400, "The audio format is unsupported.")
	if err.Message != "The audio format is unsupported." {
		t.Fatalf("remote message mutated: %q", err.Message)
	}
	if err.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", err.StatusCode)
	}
	if err.Retryable {
		t.Fatal("remote rejection must not be retryable automatically")
	}
}

func TestAsJobError_ThroughWrapping(t *testing.T) {
	inner := Timeout("poll", 60)
	wrapped := fmt.Errorf("adapter: %w", inner)

	je, ok := AsJobError(wrapped)
	if !ok {
		t.Fatal("expected JobError through wrap")
	}
	if je.Code != CodeTimeout {
		t.Fatalf("code = %s, want %s", je.Code, CodeTimeout)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil must not be retryable")
	}
	if !IsRetryable(stderrors.New("plain")) {
		t.Fatal("plain errors default to retryable")
	}
	if IsRetryable(RetryExhausted("job-1", 3)) {
		t.Fatal("retry exhausted must not be retryable")
	}
}

func TestIsCancellation(t *testing.T) {
	if !IsCancellation(Cancelled("job-1")) {
		t.Fatal("expected cancellation")
	}
	if IsCancellation(RemoteJobFailure("decode error")) {
		t.Fatal("remote failure is not a cancellation")
	}
}

func TestRetryExhausted_Message(t *testing.T) {
	err := RetryExhausted("job-9", 3)
	if !strings.Contains(err.Message, "maximum retries exceeded") {
		t.Fatalf("expected explicit ceiling message, got %q", err.Message)
	}
}

package polling

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/skillsenselab/scribe/errors"
	"github.com/skillsenselab/scribe/resilience"
)

func testConfig() Config {
	return Config{Interval: time.Second, MaxAttempts: 5}
}

func TestPoll_SucceedsAfterPending(t *testing.T) {
	clock := resilience.NewFakeClock(time.Now())
	queries := 0

	result, err := Poll(context.Background(), clock, testConfig(),
		func(context.Context) (State, string, error) {
			queries++
			if queries < 3 {
				return StatePending, "", nil
			}
			return StateSucceeded, "", nil
		},
		func(context.Context) (string, error) { return "transcript", nil },
		nil,
	)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result != "transcript" {
		t.Fatalf("result = %q", result)
	}
	if queries != 3 {
		t.Fatalf("queries = %d, want 3", queries)
	}
	if got := len(clock.Sleeps()); got != 2 {
		t.Fatalf("sleeps = %d, want 2", got)
	}
}

func TestPoll_RemoteFailureIsFatal(t *testing.T) {
	clock := resilience.NewFakeClock(time.Now())

	_, err := Poll(context.Background(), clock, testConfig(),
		func(context.Context) (State, string, error) {
			return StateFailed, "decode error", nil
		},
		func(context.Context) (string, error) {
			t.Fatal("fetchResult must not run on remote failure")
			return "", nil
		},
		nil,
	)
	je, ok := errors.AsJobError(err)
	if !ok || je.Code != errors.CodeRemoteJobFailure {
		t.Fatalf("expected REMOTE_JOB_FAILURE, got %v", err)
	}
	if je.Message != "decode error" {
		t.Fatalf("remote message lost: %q", je.Message)
	}
	if !je.Retryable {
		t.Fatal("remote failure must allow a fresh attempt")
	}
}

func TestPoll_TransientNetworkRetriedInPlace(t *testing.T) {
	clock := resilience.NewFakeClock(time.Now())
	queries := 0

	result, err := Poll(context.Background(), clock, testConfig(),
		func(context.Context) (State, string, error) {
			queries++
			if queries <= 2 {
				return StatePending, "", errors.Network("poll", stderrors.New("reset"))
			}
			return StateSucceeded, "", nil
		},
		func(context.Context) (int, error) { return 42, nil },
		nil,
	)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if result != 42 {
		t.Fatalf("result = %d", result)
	}
	if queries != 3 {
		t.Fatalf("queries = %d, want 3", queries)
	}
}

func TestPoll_NonNetworkQueryErrorIsFatal(t *testing.T) {
	clock := resilience.NewFakeClock(time.Now())
	rejection := errors.RemoteRejection(401, "bad subscription key")

	_, err := Poll(context.Background(), clock, testConfig(),
		func(context.Context) (State, string, error) {
			return StatePending, "", rejection
		},
		func(context.Context) (string, error) { return "", nil },
		nil,
	)
	if !stderrors.Is(err, rejection) {
		t.Fatalf("expected rejection to abort immediately, got %v", err)
	}
}

func TestPoll_BudgetExhaustedRaisesTimeout(t *testing.T) {
	clock := resilience.NewFakeClock(time.Now())
	queries := 0

	_, err := Poll(context.Background(), clock, testConfig(),
		func(context.Context) (State, string, error) {
			queries++
			return StatePending, "", nil
		},
		func(context.Context) (string, error) { return "", nil },
		nil,
	)
	je, ok := errors.AsJobError(err)
	if !ok || je.Code != errors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if queries != 5 {
		t.Fatalf("queries = %d, want 5", queries)
	}
}

func TestPoll_ProgressMonotonicWithinBounds(t *testing.T) {
	clock := resilience.NewFakeClock(time.Now())
	cfg := Config{Interval: time.Second, MaxAttempts: 10}

	var reported []int
	_, _ = Poll(context.Background(), clock, cfg,
		func(context.Context) (State, string, error) { return StatePending, "", nil },
		func(context.Context) (string, error) { return "", nil },
		func(pct int) { reported = append(reported, pct) },
	)

	if len(reported) != 10 {
		t.Fatalf("reports = %d, want 10", len(reported))
	}
	prev := 0
	for i, p := range reported {
		if p < 30 || p > 90 {
			t.Fatalf("report %d = %d, outside [30,90]", i, p)
		}
		if p < prev {
			t.Fatalf("progress regressed: %v", reported)
		}
		prev = p
	}
}

func TestPoll_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Poll(ctx, resilience.NewFakeClock(time.Now()), testConfig(),
		func(context.Context) (State, string, error) {
			t.Fatal("query must not run with cancelled context")
			return StatePending, "", nil
		},
		func(context.Context) (string, error) { return "", nil },
		nil,
	)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func recordingPolicy(attempts int, waits *[]time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Backoff:     Exponential(time.Second),
		Sleep: func(_ context.Context, d time.Duration) bool {
			*waits = append(*waits, d)
			return true
		},
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	var waits []time.Duration
	calls := 0
	got, err := Do(context.Background(), recordingPolicy(3, &waits), "op", func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 || calls != 1 || len(waits) != 0 {
		t.Errorf("got=%d calls=%d waits=%v", got, calls, waits)
	}
}

func TestDoRetriesWithExponentialBackoff(t *testing.T) {
	var waits []time.Duration
	calls := 0
	got, err := Do(context.Background(), recordingPolicy(3, &waits), "op", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got=%q calls=%d", got, calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Errorf("expected waits %v, got %v", want, waits)
	}
}

func TestDoJoinsErrorsAfterFinalAttempt(t *testing.T) {
	var waits []time.Duration
	sentinel := errors.New("boom")
	calls := 0
	_, err := Do(context.Background(), recordingPolicy(3, &waits), "fetch", func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("expected joined error to wrap sentinel: %v", err)
	}
	if !strings.Contains(err.Error(), "attempt 3") {
		t.Errorf("expected every attempt in message: %v", err)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		Backoff:     Exponential(time.Hour),
		Sleep: func(ctx context.Context, d time.Duration) bool {
			cancel()
			return SleepCtx(ctx, d)
		},
	}
	_, err := Do(ctx, p, "op", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled in error, got %v", err)
	}
}

func TestOnceNeverRetries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Once(), "op", func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if err == nil || calls != 1 {
		t.Errorf("expected single failing call, got calls=%d err=%v", calls, err)
	}
}

type slowDownError struct{ wait time.Duration }

func (e slowDownError) Error() string             { return "slow down" }
func (e slowDownError) RetryDelay() time.Duration { return e.wait }

func TestDoHonoursRequestedDelay(t *testing.T) {
	var waits []time.Duration
	calls := 0
	_, err := Do(context.Background(), recordingPolicy(3, &waits), "fetch", func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, slowDownError{wait: 7 * time.Second}
		}
		return 0, slowDownError{wait: time.Second}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	want := []time.Duration{7 * time.Second, 4 * time.Second}
	if len(waits) != 2 || waits[0] != want[0] || waits[1] != want[1] {
		t.Errorf("expected waits %v, got %v", want, waits)
	}
	if !strings.Contains(err.Error(), "after 3 attempt(s)") {
		t.Errorf("unexpected message: %v", err)
	}
}

package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestConstantBackoff(t *testing.T) {
	delay := 100 * time.Millisecond
	backoff := &ConstantBackoff{Delay: delay}

	for i := 0; i < 10; i++ {
		if got := backoff.NextDelay(i); got != delay {
			t.Errorf("Attempt %d: expected %v, got %v", i, delay, got)
		}
	}
}

func TestLinearBackoff(t *testing.T) {
	backoff := &LinearBackoff{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{2, 300 * time.Millisecond},
		{9, 1000 * time.Millisecond},
		{20, 1000 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := backoff.NextDelay(tt.attempt); got != tt.expected {
			t.Errorf("Attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	backoff := &ExponentialBackoff{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := backoff.NextDelay(tt.attempt); got != tt.expected {
			t.Errorf("Attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestExponentialBackoffWithJitter(t *testing.T) {
	backoff := &ExponentialBackoff{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Second, Jitter: true}

	for attempt := 0; attempt < 5; attempt++ {
		delay := backoff.NextDelay(attempt)
		expectedBase := float64(100*time.Millisecond) * float64(uint(1)<<uint(attempt))
		minExpected := time.Duration(expectedBase * 0.5)
		maxExpected := time.Duration(expectedBase * 1.5)
		if delay < minExpected || delay > maxExpected {
			t.Errorf("Attempt %d: delay %v outside expected range [%v, %v]", attempt, delay, minExpected, maxExpected)
		}
	}
}

func TestBackoffFromConfig(t *testing.T) {
	if got := BackoffFromConfig("constant", 100, 0).NextDelay(5); got != 100*time.Millisecond {
		t.Errorf("constant: got %v", got)
	}
	if got := BackoffFromConfig("linear", 100, 1000).NextDelay(2); got != 300*time.Millisecond {
		t.Errorf("linear: got %v", got)
	}
	for _, kind := range []string{"exponential", "unknown"} {
		got := BackoffFromConfig(kind, 100, 10000).NextDelay(0)
		if got < 50*time.Millisecond || got > 150*time.Millisecond {
			t.Errorf("%s: delay %v outside jitter range", kind, got)
		}
	}
}

func TestWaitHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := Wait(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

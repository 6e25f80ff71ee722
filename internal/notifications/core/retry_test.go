package core

import (
	"testing"
	"time"
)

func TestCalculateNextRetry_EmailPolicy(t *testing.T) {
	// EmailRetryPolicy: BaseDelay=1s, BackoffFactor=2.0, MaxDelay=10s
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},  // 1s * 2^0 = 1s
		{1, 2 * time.Second},  // 1s * 2^1 = 2s
		{2, 4 * time.Second},  // 1s * 2^2 = 4s
		{3, 8 * time.Second},  // 1s * 2^3 = 8s
		{4, 10 * time.Second}, // 1s * 2^4 = 16s, capped at 10s
	}

	for _, tt := range tests {
		d := CalculateNextRetry(EmailRetryPolicy, tt.attempt)
		if d != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, d)
		}
	}
}

func TestCalculateNextRetry_NegativeAttempt(t *testing.T) {
	d := CalculateNextRetry(EmailRetryPolicy, -1)
	if d != 1*time.Second {
		t.Errorf("expected 1s for negative attempt, got %v", d)
	}
}

func TestCalculateNextRetry_CustomPolicy(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:   5,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      1 * time.Minute,
		BackoffFactor: 3.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 1500 * time.Millisecond},
		{2, 4500 * time.Millisecond},
		{3, 13500 * time.Millisecond},
		{4, 40500 * time.Millisecond},
		{5, 1 * time.Minute}, // 121.5s, capped
	}

	for _, tt := range tests {
		d := CalculateNextRetry(policy, tt.attempt)
		if d != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, d)
		}
	}
}

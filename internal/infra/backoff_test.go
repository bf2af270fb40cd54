package infra

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{31, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}

	fast := Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond}
	if got := fast.Delay(2); got != 40*time.Millisecond {
		t.Errorf("Delay(2) = %v", got)
	}
	if got := fast.Delay(3); got != 50*time.Millisecond {
		t.Errorf("Delay(3) = %v, want cap", got)
	}
}

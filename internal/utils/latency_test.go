package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentile(t *testing.T) {
	tracker := NewLatencyTracker(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		tracker.Observe(d)
	}

	if tracker.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), tracker.Count())
	}
	if p95 := tracker.Percentile(95); p95 < 40*time.Millisecond {
		t.Fatalf("expected percentile >= 40ms, got %v", p95)
	}
	if max := tracker.Percentile(100); max != 50*time.Millisecond {
		t.Fatalf("expected max 50ms, got %v", max)
	}
}

func TestLatencyTrackerRingOverwritesOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 {
		t.Fatalf("expected tracker size 3, got %d", tracker.Count())
	}
	if tracker.Total() != 10 {
		t.Fatalf("expected 10 observations in total, got %d", tracker.Total())
	}
	if min := tracker.Percentile(0); min != 8*time.Millisecond {
		t.Fatalf("expected oldest retained sample 8ms, got %v", min)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	if got := NewLatencyTracker(0).Percentile(50); got != 0 {
		t.Fatalf("expected zero for empty tracker, got %v", got)
	}
}

func TestDurationMinutesOrderIndependent(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	if got := DurationMinutes(end, start); got != 45 {
		t.Fatalf("expected 45 minutes, got %f", got)
	}
}

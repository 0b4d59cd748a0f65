package headersync

import (
	"testing"
	"time"
)

func TestRateTracker_CurrentRate_ClampsSubSecondElapsed(t *testing.T) {
	start := time.Unix(1000, 0)
	r := NewRateTracker(start)
	r.Sample(start, 500)

	// Sampled again 100ms later: elapsed clamps to 1s, so rate == delivered.
	rate := r.CurrentRate(start.Add(100 * time.Millisecond))
	if rate != 500 {
		t.Fatalf("expected clamped rate of 500/s, got %v", rate)
	}
}

func TestRateTracker_CurrentRate_DividesByRealElapsed(t *testing.T) {
	start := time.Unix(1000, 0)
	r := NewRateTracker(start)
	r.Sample(start, 2000)

	rate := r.CurrentRate(start.Add(2 * time.Second))
	if rate != 1000 {
		t.Fatalf("expected rate of 1000/s, got %v", rate)
	}
}

func TestRateTracker_BelowFloor_HonorsGraceWindow(t *testing.T) {
	start := time.Unix(1000, 0)
	r := NewRateTracker(start)
	r.Sample(start, 1) // far below any reasonable floor

	if r.BelowFloor(start.Add(1*time.Second), 10000) {
		t.Fatal("expected grace window to suppress below-floor before it elapses")
	}
	if !r.BelowFloor(start.Add(GraceWindow+time.Second), 10000) {
		t.Fatal("expected below-floor to fire once grace window has elapsed")
	}
}

func TestRateTracker_BelowFloor_FalseWhenAboveFloor(t *testing.T) {
	start := time.Unix(1000, 0)
	r := NewRateTracker(start)
	r.Sample(start, 50000)

	if r.BelowFloor(start.Add(GraceWindow+time.Second), 100) {
		t.Fatal("expected channel well above floor to not be flagged")
	}
}

package headersync

import (
	"sync"
	"time"
)

// GraceWindow is the minimum channel lifetime before below_floor can fire;
// it exists so a channel isn't penalized for the startup latency of its
// first request.
const GraceWindow = 5 * time.Second

// RateTracker samples per-channel header throughput. One is attached to
// each peer protocol; it is sampled on every inbound headers message.
type RateTracker struct {
	mu sync.Mutex

	start      time.Time
	lastSample time.Time
	delivered  uint64
}

// NewRateTracker starts a tracker with its clock beginning now.
func NewRateTracker(now time.Time) *RateTracker {
	return &RateTracker{start: now, lastSample: now}
}

// Sample records n headers delivered at time now.
func (r *RateTracker) Sample(now time.Time, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered += uint64(n)
	r.lastSample = now
}

// CurrentRate returns delivered headers per second, with elapsed time
// clamped to >= 1s to avoid division spikes on short-lived channels.
func (r *RateTracker) CurrentRate(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	elapsed := now.Sub(r.start).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return float64(r.delivered) / elapsed
}

// BelowFloor reports whether the channel has been alive at least the grace
// window and its current rate is below floor.
func (r *RateTracker) BelowFloor(now time.Time, floor float64) bool {
	r.mu.Lock()
	alive := now.Sub(r.start)
	r.mu.Unlock()

	if alive < GraceWindow {
		return false
	}
	return r.CurrentRate(now) < floor
}

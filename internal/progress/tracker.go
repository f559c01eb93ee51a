package progress

import (
	"sync"
	"time"
)

// DefaultThrottle caps status edits at two per second.
const DefaultThrottle = 500 * time.Millisecond

const minSampleWindow = time.Microsecond

// Tracker turns cumulative byte counts from one transfer into an
// instantaneous rate and decides when the UI may be updated.
type Tracker struct {
	mu              sync.Mutex
	now             func() time.Time
	throttle        time.Duration
	startedAt       time.Time
	lastSampleBytes int64
	lastSampleTime  time.Time
	lastReportTime  time.Time
}

func NewTracker(throttle time.Duration) *Tracker {
	return newTrackerAt(throttle, time.Now)
}

func newTrackerAt(throttle time.Duration, now func() time.Time) *Tracker {
	t := now()
	return &Tracker{now: now, throttle: throttle, startedAt: t, lastSampleTime: t}
}

// Sample returns bytes/s since the previous sample and records this one.
func (t *Tracker) Sample(current int64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	window := now.Sub(t.lastSampleTime)
	if window < minSampleWindow {
		window = minSampleWindow
	}
	rate := float64(current-t.lastSampleBytes) / window.Seconds()
	t.lastSampleBytes = current
	t.lastSampleTime = now
	if rate < 0 {
		return 0
	}
	return rate
}

// ShouldReport is true on completion or once the throttle window has passed.
// A true result starts a new window.
func (t *Tracker) ShouldReport(current, total int64, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !(total > 0 && current == total) && now.Sub(t.lastReportTime) < t.throttle {
		return false
	}
	t.lastReportTime = now
	return true
}

// Elapsed is the wall time since the tracker was created.
func (t *Tracker) Elapsed() time.Duration {
	return t.now().Sub(t.startedAt)
}

// Reporter feeds transfer callbacks through a Tracker and emits status text.
type Reporter struct {
	Phase   string
	Tracker *Tracker
	Emit    func(text string)
}

func NewReporter(phase string, throttle time.Duration, emit func(string)) *Reporter {
	return &Reporter{Phase: phase, Tracker: NewTracker(throttle), Emit: emit}
}

// Update is the (bytes_done, bytes_total) progress callback.
func (r *Reporter) Update(current, total int64) {
	if !r.Tracker.ShouldReport(current, total, r.Tracker.now()) {
		return
	}
	rate := r.Tracker.Sample(current)
	if r.Emit != nil {
		r.Emit(Format(r.Phase, current, total, rate))
	}
}

package ui

import (
	"sync"
	"time"
)

// ProgressTracker holds run state for the TUI. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu        sync.RWMutex
	stage     Stage
	current   int
	total     int
	batch     int
	message   string
	start     time.Time
	errors    []ErrorEvent
	warnings  []ErrorEvent
	lastETA   time.Duration
	lastCount int
	lastTick  time.Time
	speed     float64
	peak      float64
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Batch      int
	Message    string
	Progress   float64
	ETA        time.Duration
	Speed      float64
	PeakSpeed  float64
	ErrorCount int
	WarnCount  int
}

// NewProgressTracker creates a tracker starting now.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{start: now, lastTick: now}
}

// Apply records a progress event.
func (p *ProgressTracker) Apply(ev ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = ev.Stage
	if ev.Total > 0 {
		p.total = ev.Total
	}
	p.batch = ev.Batch
	if ev.Message != "" {
		p.message = ev.Message
	}

	now := time.Now()
	if elapsed := now.Sub(p.lastTick); elapsed > 0 && ev.Current > p.lastCount {
		speed := float64(ev.Current-p.lastCount) / elapsed.Seconds()
		if p.speed == 0 {
			p.speed = speed
		} else {
			p.speed = 0.2*speed + 0.8*p.speed
		}
		p.peak = max(p.peak, speed)
		p.lastCount, p.lastTick = ev.Current, now
	}
	p.current = ev.Current
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(ev ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.IsWarn {
		p.warnings = append(p.warnings, ev)
	} else {
		p.errors = append(p.errors, ev)
	}
}

// Elapsed returns time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.start)
}

// Stats returns a snapshot. It takes the write lock because the ETA is
// smoothed across calls.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	progress := 0.0
	if p.total > 0 {
		progress = min(float64(p.current)/float64(p.total), 1.0)
	}
	return ProgressStats{
		Stage:      p.stage,
		Current:    p.current,
		Total:      p.total,
		Batch:      p.batch,
		Message:    p.message,
		Progress:   progress,
		ETA:        p.eta(progress),
		Speed:      p.speed,
		PeakSpeed:  p.peak,
		ErrorCount: len(p.errors),
		WarnCount:  len(p.warnings),
	}
}

// etaSmoothing weights the newest estimate.
const etaSmoothing = 0.3

func (p *ProgressTracker) eta(progress float64) time.Duration {
	if progress <= 0 || progress >= 1 {
		return 0
	}
	elapsed := time.Since(p.start)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns a copy of the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.warnings...)
}

// Package budget computes the per-request timeout pair from attachment
// composition and the hard platform ceiling.
package budget

import (
	"time"
)

// Limits are the tuning constants behind the allocation. Durations, not
// counts: per-modality cost is flat because attachments of one modality
// are processed concurrently.
type Limits struct {
	Base            time.Duration
	Vision          time.Duration
	AudioFetch      time.Duration
	Transcribe      time.Duration
	Overhead        time.Duration
	Ceiling         time.Duration
	ModelFloor      time.Duration
	RetryMultiplier float64
}

// DefaultLimits returns the production constants. Ceiling mirrors the
// platform's 270s hard wall-clock limit; everything else is headroom
// carved out of it.
func DefaultLimits() Limits {
	return Limits{
		Base:            120 * time.Second,
		Vision:          45 * time.Second,
		AudioFetch:      60 * time.Second,
		Transcribe:      90 * time.Second,
		Overhead:        15 * time.Second,
		Ceiling:         270 * time.Second,
		ModelFloor:      60 * time.Second,
		RetryMultiplier: 1,
	}
}

// Budget is the derived (job, model) timeout pair.
type Budget struct {
	JobTimeout   time.Duration
	ModelTimeout time.Duration
}

// Allocator derives timeout budgets. It is a pure function of its limits
// and the attachment counts; it never errors and never produces a job
// timeout above the ceiling.
type Allocator struct {
	limits Limits
}

// NewAllocator returns an allocator over the given limits.
func NewAllocator(limits Limits) *Allocator {
	return &Allocator{limits: limits}
}

// Allocate computes the budget for a request carrying the given attachment
// counts. The second return value reports a tight budget: the modality mix
// saturated the ceiling and the model timeout clamped to its floor. A tight
// budget is still valid; callers log it and proceed.
//
// Each modality batch runs concurrently, so N items cost the same as one.
// The retry buffer funds exactly one retry of the slowest batch.
func (a *Allocator) Allocate(imageCount, audioCount int) (Budget, bool) {
	l := a.limits

	var imageBatch, audioBatch time.Duration
	if imageCount > 0 {
		imageBatch = l.Vision
	}
	if audioCount > 0 {
		audioBatch = l.AudioFetch + l.Transcribe
	}

	slowest := imageBatch
	if audioBatch > slowest {
		slowest = audioBatch
	}

	retryBuffer := time.Duration(float64(slowest) * l.RetryMultiplier)

	jobTimeout := l.Base + slowest + retryBuffer
	if jobTimeout > l.Ceiling {
		jobTimeout = l.Ceiling
	}

	modelTimeout := jobTimeout - slowest - retryBuffer - l.Overhead
	tight := modelTimeout < l.ModelFloor
	if tight {
		modelTimeout = l.ModelFloor
	}

	return Budget{JobTimeout: jobTimeout, ModelTimeout: modelTimeout}, tight
}

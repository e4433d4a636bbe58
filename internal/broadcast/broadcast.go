// Package broadcast implements the single-slot, multi-reader hand-off of the
// latest captured frame used by the tone detector and passthrough playback
// (spec §3, §4.3). It has no analog in the teacher repo's jitter/audio
// packages — the closest available shape in the pack is the teacher's
// circular far-end reference buffer in internal/aec (a single-writer,
// single-reader ring sized for echo cancellation); this package borrows that
// package's mutex-guarded-critical-section discipline but implements the
// destructive/non-destructive dual read spec §4.3 calls for rather than a
// ring of past samples.
package broadcast

import "sync"

// MaxSamples is the largest write accepted in one call (one capture frame).
const MaxSamples = 1920

// Buffer is a single-producer, multi-consumer latest-frame slot. All
// operations hold the same lock; critical sections are bounded by a copy of
// at most MaxSamples floats (spec §4.3).
type Buffer struct {
	mu         sync.Mutex
	samples    [MaxSamples]float32
	sampleCount int
	valid      bool
	readyCh    chan struct{}
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{readyCh: make(chan struct{}, 1)}
}

// Write copies samples (len ≤ MaxSamples) into the slot, marks it valid, and
// wakes any waiter blocked in WaitReady.
func (b *Buffer) Write(samples []float32) {
	if len(samples) > MaxSamples {
		samples = samples[:MaxSamples]
	}
	b.mu.Lock()
	n := copy(b.samples[:], samples)
	b.sampleCount = n
	b.valid = true
	b.mu.Unlock()

	select {
	case b.readyCh <- struct{}{}:
	default:
	}
}

// SnapshotInto performs a non-destructive copy of the current valid slot into
// dst, returning the number of samples copied. Used by the tone detector.
func (b *Buffer) SnapshotInto(dst []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid {
		return 0
	}
	return copy(dst, b.samples[:b.sampleCount])
}

// ConsumeInto performs a destructive read of up to len(dst) samples. Any
// remaining samples are shifted down; when the slot is fully drained, Valid
// becomes false. Used by a passthrough-target playback path. Returns the
// number of samples copied.
func (b *Buffer) ConsumeInto(dst []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.valid || b.sampleCount == 0 {
		return 0
	}
	n := copy(dst, b.samples[:b.sampleCount])
	remaining := b.sampleCount - n
	if remaining > 0 {
		copy(b.samples[:remaining], b.samples[n:b.sampleCount])
	}
	b.sampleCount = remaining
	if b.sampleCount == 0 {
		b.valid = false
	}
	return n
}

// WaitReady returns the readiness channel, which receives a value after Write.
// It holds at most one pending signal, so several writes between two receives
// wake a waiter once. Nothing closes the channel and a receive from it never
// times out; the tone detector's wake-on-readiness loop (spec §5) selects on
// it together with a 100 ms timer and its context.
func (b *Buffer) WaitReady() <-chan struct{} {
	return b.readyCh
}

// Valid reports whether the slot currently holds unread samples.
func (b *Buffer) Valid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.valid
}

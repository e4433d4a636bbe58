// Package jitter implements the per-channel playback jitter buffer (spec
// §3, §4.2). Unlike the teacher's per-sender buffer
// (rustyguts-bken/client/internal/jitter), which reorders packets by sequence
// number across many senders, EchoStream has exactly one producer per channel
// (the UDP receive loop) and needs no reordering — only a fixed-capacity FIFO
// of decoded frames with drop-oldest overflow and in-frame read-offset
// tracking for fixed-size playback chunks. The capacity constant, the
// drop-oldest-on-full policy, and the "not safe for concurrent use beyond one
// writer / one reader" contract are kept from the teacher's package.
package jitter

import (
	"sync"

	"echostream/internal/core"
)

// Capacity is the fixed number of frames the buffer holds: 320 ms nominal
// at 40 ms/frame.
const Capacity = 8

// PlaybackGain is the fixed gain pull applies while reading frames (spec §4.2).
const PlaybackGain = 1.5

// Buffer is a fixed-capacity circular FIFO of decoded PCM frames for one
// channel. The zero value is not usable; use New(). Only the UDP receive
// worker calls Push; only the playback worker calls Pull (spec §5). A mutex
// guards every operation, so the two workers may run concurrently.
type Buffer struct {
	mu                sync.Mutex
	frames            [Capacity]core.Frame
	writeIndex        int
	readIndex         int
	frameCount        int
	currentReadOffset int
	drops             uint64
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Push stores frame at the write position, advancing write_index. If the
// buffer is full, the oldest frame is dropped first: read_index advances,
// current_read_offset resets, and the drop counter increments (spec §4.2,
// §8 "Jitter buffer capacity").
func (b *Buffer) Push(frame core.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameCount == Capacity {
		b.readIndex = (b.readIndex + 1) % Capacity
		b.currentReadOffset = 0
		b.frameCount--
		b.drops++
	}
	b.frames[b.writeIndex] = frame
	b.writeIndex = (b.writeIndex + 1) % Capacity
	b.frameCount++
}

// Pull fills dst (which must be 1024 samples) with samples drawn from the
// head of the buffer, applying PlaybackGain with saturation to [-1, 1]. It
// returns the number of samples actually filled from real data; on
// underflow the remainder of dst is silence. Frames with Valid == false are
// skipped without contributing samples (spec §4.2).
func (b *Buffer) Pull(dst []float32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	filled := 0
	for filled < len(dst) {
		if b.frameCount == 0 {
			break
		}
		f := &b.frames[b.readIndex]
		if !f.Valid {
			b.advanceFrame()
			continue
		}
		if b.currentReadOffset >= f.SampleCount {
			b.advanceFrame()
			continue
		}
		n := f.SampleCount - b.currentReadOffset
		if room := len(dst) - filled; n > room {
			n = room
		}
		for i := 0; i < n; i++ {
			v := f.Samples[b.currentReadOffset+i] * PlaybackGain
			switch {
			case v > 1:
				v = 1
			case v < -1:
				v = -1
			}
			dst[filled+i] = v
		}
		filled += n
		b.currentReadOffset += n
		if b.currentReadOffset >= f.SampleCount {
			b.advanceFrame()
		}
	}
	for i := filled; i < len(dst); i++ {
		dst[i] = 0
	}
	return filled
}

// advanceFrame moves to the next frame, maintaining the write_index =
// (read_index + frame_count) mod Capacity invariant.
func (b *Buffer) advanceFrame() {
	b.readIndex = (b.readIndex + 1) % Capacity
	b.currentReadOffset = 0
	b.frameCount--
}

// FrameCount returns the number of buffered frames (0..Capacity).
func (b *Buffer) FrameCount() int { b.mu.Lock(); defer b.mu.Unlock(); return b.frameCount }

// Drops returns the cumulative number of frames dropped on overflow.
func (b *Buffer) Drops() uint64 { b.mu.Lock(); defer b.mu.Unlock(); return b.drops }

package jitter

import (
	"testing"

	"echostream/internal/core"
)

func constantFrame(value float32, count int) core.Frame {
	var f core.Frame
	for i := 0; i < count; i++ {
		f.Samples[i] = value
	}
	f.SampleCount = count
	f.Valid = true
	return f
}

func TestPullAppliesGainWithSaturation(t *testing.T) {
	b := New()
	b.Push(constantFrame(0.5, 100))

	dst := make([]float32, 50)
	n := b.Pull(dst)
	if n != 50 {
		t.Fatalf("Pull returned %d, want 50", n)
	}
	want := float32(0.5 * PlaybackGain)
	for i, v := range dst {
		if v != want {
			t.Fatalf("dst[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestPullSaturatesAtOne(t *testing.T) {
	b := New()
	b.Push(constantFrame(1.0, 10))

	dst := make([]float32, 10)
	b.Pull(dst)
	for i, v := range dst {
		if v != 1.0 {
			t.Fatalf("dst[%d] = %v, want 1.0 (saturated)", i, v)
		}
	}
}

func TestPullUnderflowFillsSilence(t *testing.T) {
	b := New()
	b.Push(constantFrame(0.2, 5))

	dst := make([]float32, 20)
	n := b.Pull(dst)
	if n != 5 {
		t.Fatalf("Pull returned %d, want 5", n)
	}
	for i := 5; i < len(dst); i++ {
		if dst[i] != 0 {
			t.Fatalf("dst[%d] = %v, want 0 (silence on underflow)", i, dst[i])
		}
	}
}

func TestPushDropsOldestOnOverflow(t *testing.T) {
	b := New()
	for i := 0; i < Capacity; i++ {
		b.Push(constantFrame(float32(i), 10))
	}
	if b.drops != 0 {
		t.Fatalf("drops = %d before overflow, want 0", b.drops)
	}

	// One more push should evict the oldest frame (value 0).
	b.Push(constantFrame(99, 10))
	if b.drops != 1 {
		t.Fatalf("drops = %d after overflow, want 1", b.drops)
	}

	dst := make([]float32, 10)
	b.Pull(dst)
	if dst[0] == 0 {
		t.Fatalf("Pull returned the evicted frame's value; oldest frame was not dropped")
	}
}

func TestPullSkipsInvalidFrames(t *testing.T) {
	b := New()
	var invalid core.Frame // Valid == false
	b.Push(invalid)
	b.Push(constantFrame(0.1, 10))

	dst := make([]float32, 10)
	n := b.Pull(dst)
	if n != 10 {
		t.Fatalf("Pull returned %d, want 10 (invalid frame skipped)", n)
	}
}

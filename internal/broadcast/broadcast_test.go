package broadcast

import (
	"reflect"
	"testing"
)

func TestSnapshotIntoIsNonDestructive(t *testing.T) {
	b := New()
	b.Write([]float32{1, 2, 3})

	dst1 := make([]float32, 3)
	n1 := b.SnapshotInto(dst1)
	dst2 := make([]float32, 3)
	n2 := b.SnapshotInto(dst2)

	if n1 != 3 || n2 != 3 {
		t.Fatalf("SnapshotInto returned n1=%d n2=%d, want 3 both times", n1, n2)
	}
	if !reflect.DeepEqual(dst1, dst2) {
		t.Fatalf("second SnapshotInto saw different data: %v vs %v", dst1, dst2)
	}
	if !b.Valid() {
		t.Fatal("Valid() = false after SnapshotInto, want true (non-destructive)")
	}
}

func TestConsumeIntoIsDestructive(t *testing.T) {
	b := New()
	b.Write([]float32{1, 2, 3})

	dst := make([]float32, 3)
	n := b.ConsumeInto(dst)
	if n != 3 {
		t.Fatalf("ConsumeInto returned %d, want 3", n)
	}
	if b.Valid() {
		t.Fatal("Valid() = true after fully draining ConsumeInto, want false")
	}

	n2 := b.ConsumeInto(dst)
	if n2 != 0 {
		t.Fatalf("second ConsumeInto on drained buffer returned %d, want 0", n2)
	}
}

func TestConsumeIntoPartialLeavesRemainder(t *testing.T) {
	b := New()
	b.Write([]float32{1, 2, 3, 4})

	dst := make([]float32, 2)
	n := b.ConsumeInto(dst)
	if n != 2 || dst[0] != 1 || dst[1] != 2 {
		t.Fatalf("first partial ConsumeInto = %v (n=%d), want [1 2] n=2", dst, n)
	}

	n2 := b.ConsumeInto(dst)
	if n2 != 2 || dst[0] != 3 || dst[1] != 4 {
		t.Fatalf("second partial ConsumeInto = %v (n=%d), want [3 4] n=2", dst, n2)
	}
}

func TestWaitReadySignalsOnWrite(t *testing.T) {
	b := New()
	b.Write([]float32{1})

	select {
	case <-b.WaitReady():
	default:
		t.Fatal("WaitReady channel did not signal after Write")
	}
}

func TestSnapshotIntoEmptyReturnsZero(t *testing.T) {
	b := New()
	dst := make([]float32, 4)
	if n := b.SnapshotInto(dst); n != 0 {
		t.Fatalf("SnapshotInto on empty buffer returned %d, want 0", n)
	}
}

func TestWriteTruncatesOversizedInput(t *testing.T) {
	b := New()
	big := make([]float32, MaxSamples+100)
	for i := range big {
		big[i] = float32(i)
	}
	b.Write(big)

	dst := make([]float32, MaxSamples+100)
	n := b.SnapshotInto(dst)
	if n != MaxSamples {
		t.Fatalf("SnapshotInto after oversized Write returned %d, want %d", n, MaxSamples)
	}
}

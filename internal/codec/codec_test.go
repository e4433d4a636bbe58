package codec

import (
	"errors"
	"testing"
)

type fakeEncoder struct {
	lastPCM []int16
	n       int
	err     error
}

func (f *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	f.lastPCM = append([]int16(nil), pcm...)
	if f.err != nil {
		return 0, f.err
	}
	n := copy(data, []byte{0xAA, 0xBB, 0xCC})
	f.n = n
	return n, nil
}

type fakeDecoder struct {
	fill int16
	n    int
	err  error
}

func (f *fakeDecoder) Decode(data []byte, pcm []int16) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	for i := range pcm {
		pcm[i] = f.fill
	}
	return len(pcm), nil
}

func TestEncodeRejectsWrongFrameSize(t *testing.T) {
	c := &Codec{enc: &fakeEncoder{}, dec: &fakeDecoder{}}
	if _, err := c.Encode(make([]float32, FrameSize-1)); err == nil {
		t.Fatal("Encode accepted a short frame, want an error")
	}
}

func TestEncodeConvertsAndDelegates(t *testing.T) {
	enc := &fakeEncoder{}
	c := &Codec{enc: enc, dec: &fakeDecoder{}}

	samples := make([]float32, FrameSize)
	samples[0] = 1.0
	samples[1] = -1.0

	out, err := c.Encode(samples)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if enc.lastPCM[0] != int16ScaleFactor {
		t.Fatalf("pcm[0] = %d, want %d", enc.lastPCM[0], int16ScaleFactor)
	}
	if enc.lastPCM[1] != -int16ScaleFactor {
		t.Fatalf("pcm[1] = %d, want %d", enc.lastPCM[1], -int16ScaleFactor)
	}
}

func TestEncodePropagatesEncoderError(t *testing.T) {
	c := &Codec{enc: &fakeEncoder{err: errors.New("boom")}, dec: &fakeDecoder{}}
	if _, err := c.Encode(make([]float32, FrameSize)); err == nil {
		t.Fatal("Encode succeeded despite encoder error, want an error")
	}
}

func TestDecodeAppliesGain(t *testing.T) {
	dec := &fakeDecoder{fill: int16ScaleFactor / 2}
	c := &Codec{enc: &fakeEncoder{}, dec: dec}

	out, err := c.Decode([]byte{1, 2, 3}, 1.0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != FrameSize {
		t.Fatalf("len(out) = %d, want %d", len(out), FrameSize)
	}
	want := float32(0.5)
	if out[0] < want-0.01 || out[0] > want+0.01 {
		t.Fatalf("out[0] = %v, want ~%v", out[0], want)
	}
}

func TestDecodePropagatesDecoderError(t *testing.T) {
	c := &Codec{enc: &fakeEncoder{}, dec: &fakeDecoder{err: errors.New("boom")}}
	if _, err := c.Decode([]byte{1}, 1.0); err == nil {
		t.Fatal("Decode succeeded despite decoder error, want an error")
	}
}

func TestFloatToInt16SaturatesOverflow(t *testing.T) {
	src := []float32{2.0, -2.0, 0.0}
	dst := make([]int16, 3)
	FloatToInt16(src, dst)

	if dst[0] != int16ScaleFactor {
		t.Errorf("dst[0] = %d, want %d", dst[0], int16ScaleFactor)
	}
	if dst[1] != -int16ScaleFactor {
		t.Errorf("dst[1] = %d, want %d", dst[1], -int16ScaleFactor)
	}
	if dst[2] != 0 {
		t.Errorf("dst[2] = %d, want 0", dst[2])
	}
}

func TestInt16ToFloatAppliesGainWithSaturation(t *testing.T) {
	src := []int16{int16ScaleFactor, -int16ScaleFactor}
	dst := make([]float32, 2)
	Int16ToFloat(src, dst, 2.0)

	if dst[0] != 1 {
		t.Errorf("dst[0] = %v, want 1 (saturated)", dst[0])
	}
	if dst[1] != -1 {
		t.Errorf("dst[1] = %v, want -1 (saturated)", dst[1])
	}
}

func TestRMSOfSilenceIsZero(t *testing.T) {
	if got := RMS(make([]float32, 10)); got != 0 {
		t.Fatalf("RMS(silence) = %v, want 0", got)
	}
}

func TestRMSOfConstantSignal(t *testing.T) {
	frame := make([]float32, 4)
	for i := range frame {
		frame[i] = 0.5
	}
	if got := RMS(frame); got < 0.49 || got > 0.51 {
		t.Fatalf("RMS(constant 0.5) = %v, want ~0.5", got)
	}
}

func TestRMSOfEmptyFrameIsZero(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}
}

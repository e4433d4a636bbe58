// Package codec wraps Opus encode/decode and the float↔int16 PCM conversion
// the capture and playback paths need. The encoder/decoder are hidden behind
// small interfaces (mirroring the teacher's opusEncoder/opusDecoder split in
// audio.go) so tests can substitute fakes without linking libopus.
package codec

import (
	"fmt"
	"math"

	"gopkg.in/hraban/opus.v2"
)

const (
	// FrameSize is the number of samples per Opus frame: 1920 samples at
	// 48 kHz is 40 ms, per spec.
	FrameSize = 1920
	// Channels is fixed at mono.
	Channels = 1
	// SampleRate is fixed at 48 kHz.
	SampleRate = 48000
	// BitrateBPS is the constant VBR target: 64 kbit/s.
	BitrateBPS = 64000
	// MaxPacketBytes is the RFC 6716 maximum size of one Opus packet.
	MaxPacketBytes = 1275

	// int16ScaleFactor converts between [-1, 1] float samples and int16 PCM.
	int16ScaleFactor = 32767
)

// opusEncoder is the subset of *opus.Encoder the codec needs.
type opusEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// opusDecoder is the subset of *opus.Decoder the codec needs.
type opusDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// Codec encodes and decodes one channel's audio stream. Not safe for
// concurrent use by more than one capture or playback goroutine at a time —
// callers give each channel its own Codec, matching spec's per-channel
// encoder/decoder ownership.
type Codec struct {
	enc opusEncoder
	dec opusDecoder
}

// New creates a Codec with a fresh Opus encoder (VoIP profile, 64 kbit/s VBR)
// and decoder, both mono at 48 kHz.
func New() (*Codec, error) {
	enc, err := opus.NewEncoder(SampleRate, Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("codec: new encoder: %w", err)
	}
	if err := enc.SetBitrate(BitrateBPS); err != nil {
		return nil, fmt.Errorf("codec: set bitrate: %w", err)
	}
	if err := enc.SetVBR(true); err != nil {
		return nil, fmt.Errorf("codec: set vbr: %w", err)
	}
	dec, err := opus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: new decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Encode converts FrameSize float samples (clipped to [-1, 1]) to int16 and
// Opus-encodes them. samples must hold exactly FrameSize values.
func (c *Codec) Encode(samples []float32) ([]byte, error) {
	if len(samples) != FrameSize {
		return nil, fmt.Errorf("codec: encode: expected %d samples, got %d", FrameSize, len(samples))
	}
	pcm := make([]int16, FrameSize)
	FloatToInt16(samples, pcm)
	buf := make([]byte, MaxPacketBytes)
	n, err := c.enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return buf[:n], nil
}

// Decode Opus-decodes data into exactly FrameSize float samples, applying the
// given gain with saturation to [-1, 1]. Nil or empty data is rejected by the
// opus.v2 decoder with an error; packet-loss concealment is not used.
func (c *Codec) Decode(data []byte, gain float32) ([]float32, error) {
	pcm := make([]int16, FrameSize)
	n, err := c.dec.Decode(data, pcm)
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	out := make([]float32, FrameSize)
	Int16ToFloat(pcm[:n], out[:n], gain)
	return out, nil
}

// FloatToInt16 converts src ([-1, 1] nominal) to dst, saturating on overflow.
func FloatToInt16(src []float32, dst []int16) {
	for i, s := range src {
		v := s * int16ScaleFactor
		switch {
		case v > int16ScaleFactor:
			v = int16ScaleFactor
		case v < -int16ScaleFactor:
			v = -int16ScaleFactor
		}
		dst[i] = int16(v)
	}
}

// Int16ToFloat converts src to dst, applying gain and saturating to [-1, 1].
func Int16ToFloat(src []int16, dst []float32, gain float32) {
	for i, s := range src {
		v := float32(s) / int16ScaleFactor * gain
		switch {
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		dst[i] = v
	}
}

// RMS returns the root-mean-square level of a float32 PCM frame. Adapted from
// the teacher's internal/vad package, which uses the identical computation to
// drive voice-activity gating; EchoStream has no VAD (PTT fully gates
// transmission), but internal/tonedetect uses the same level metering to
// gate FFT evaluation against a channel's configured dB threshold.
func RMS(frame []float32) float32 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(frame))))
}

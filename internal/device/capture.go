package device

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"echostream/internal/broadcast"
	"echostream/internal/codec"
	"echostream/internal/core"
	"echostream/internal/crypto"
)

// idleBackoff is how long the capture loop waits between polls while PTT is
// inactive (spec §4.5 step 1).
const idleBackoff = 100 * time.Millisecond

// accumulatorSize is the physical size of the capture accumulator (spec §4.5
// step 4; original_source/audio.py: "4800 samples = 100ms at 48kHz").
const accumulatorSize = 4800

// PTTState reports whether a channel's PTT line is currently asserted.
type PTTState interface {
	Active() bool
}

// Sender transmits an already-encrypted audio payload for a channel.
type Sender interface {
	SendAudio(channelID string, encrypted []byte) error
}

// CaptureChannel drives one channel's capture loop (spec §4.5).
type CaptureChannel struct {
	ChannelID string
	Key       [32]byte
	Codec     *codec.Codec
	PTT       PTTState
	Sender    Sender
	Stats     *core.ChannelStats
	Logger    *log.Logger

	// BroadcastSource marks this channel as the designated feed for the
	// process-wide BroadcastBuffer (spec §4.5 step 3, §3 ownership rule).
	BroadcastSource     bool
	Broadcast           *broadcast.Buffer
	ToneDetectEnabled   func() bool
	CardOneInputEnabled func() bool
}

// Run reads InputChunkSamples-sized chunks from stream into buf while PTT is
// active, accumulates them, and emits an encoded/encrypted datagram every
// 1920 samples, until ctx is cancelled (spec §4.5).
func (c *CaptureChannel) Run(ctx context.Context, stream InputStream, buf []float32) {
	var accumulator [accumulatorSize]float32
	pos := 0

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !c.PTT.Active() {
			timer.Reset(idleBackoff)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			continue
		}

		if err := stream.Read(); err != nil {
			c.Logger.Warn("capture: device read failed", "channel_id", c.ChannelID, "err", err)
			continue
		}

		if c.BroadcastSource && c.ToneDetectEnabled() && c.CardOneInputEnabled() {
			c.Broadcast.Write(buf)
		}

		for _, sample := range buf {
			if pos >= accumulatorSize {
				pos = 0
			}
			accumulator[pos] = sample
			pos++

			if pos >= codec.FrameSize {
				c.emit(accumulator[:codec.FrameSize])
				pos = 0
			}
		}
	}
}

// emit encodes, encrypts, and sends one frame's worth of accumulated
// samples. Errors are logged and the capture loop continues (spec §4.5:
// "All errors on a single iteration are caught and logged without tearing
// down the loop").
func (c *CaptureChannel) emit(frame []float32) {
	encoded, err := c.Codec.Encode(frame)
	if err != nil {
		c.Logger.Warn("capture: encode failed", "channel_id", c.ChannelID, "err", err)
		return
	}
	encrypted, err := crypto.Encrypt(encoded, c.Key[:])
	if err != nil {
		c.Logger.Warn("capture: encrypt failed", "channel_id", c.ChannelID, "err", err)
		return
	}
	if err := c.Sender.SendAudio(c.ChannelID, encrypted); err != nil {
		c.Logger.Warn("capture: send failed", "channel_id", c.ChannelID, "err", err)
		c.Stats.IncCaptureDrops()
	}
}

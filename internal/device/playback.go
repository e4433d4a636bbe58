package device

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"echostream/internal/broadcast"
)

// LoopSleep is the fixed pacing delay between playback iterations (spec §4.6:
// "sleeps ≈10 ms between iterations to avoid busy-spinning").
const LoopSleep = 10 * time.Millisecond

// PassthroughGain is the fixed gain applied to passthrough audio sourced
// from the BroadcastBuffer (spec §4.6).
const PassthroughGain = 15

// JitterSource is the subset of *jitter.Buffer the playback loop needs.
type JitterSource interface {
	Pull(dst []float32) int
}

// PassthroughState reports whether the tone detector has activated
// passthrough routing for this channel.
type PassthroughState interface {
	Active() bool
}

// PlaybackChannel drives one channel's playback loop (spec §4.6).
type PlaybackChannel struct {
	ChannelID string
	Jitter    JitterSource
	Logger    *log.Logger

	// PassthroughTarget marks this channel as the configured destination for
	// passthrough audio (spec's ChannelConfig.PassthroughTarget).
	PassthroughTarget bool
	Passthrough       PassthroughState
	Broadcast         *broadcast.Buffer
}

// Run builds and writes an OutputChunkSamples chunk from stream/buf each
// iteration until ctx is cancelled (spec §4.6).
func (p *PlaybackChannel) Run(ctx context.Context, stream OutputStream, buf []float32) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.fill(buf)

		if err := stream.Write(); err != nil {
			p.Logger.Warn("playback: device write failed", "channel_id", p.ChannelID, "err", err)
		}

		timer.Reset(LoopSleep)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// fill populates buf for one iteration, preferring passthrough audio when
// active and falling back to the jitter buffer otherwise (spec §4.6).
func (p *PlaybackChannel) fill(buf []float32) {
	if p.PassthroughTarget && p.Passthrough.Active() {
		n := p.Broadcast.ConsumeInto(buf)
		if n > 0 {
			for i := 0; i < n; i++ {
				v := buf[i] * PassthroughGain
				switch {
				case v > 1:
					v = 1
				case v < -1:
					v = -1
				}
				buf[i] = v
			}
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
			return
		}
		// Broadcast buffer empty: fall through to the jitter buffer.
	}
	p.Jitter.Pull(buf)
}

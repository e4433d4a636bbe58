// Package ptt implements the PTT edge detector (spec §4.4): it polls four
// digital input lines every 100 ms, maps them positionally to channels, and
// emits transmit_started/transmit_ended transitions on the control surface.
//
// original_source/gpio.py reads the lines through lgpio on a Raspberry Pi;
// this package uses the idiomatic Go GPIO character-device binding
// github.com/warthog618/go-gpiocdev (declared but never wired in
// doismellburning-samoyed, whose own PTT handling goes through a cgo
// transliteration of Direwolf's ptt.c instead) to do the same job without cgo.
package ptt

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"

	"echostream/internal/core"
)

// PollInterval is the fixed line-poll period (spec §4.4).
const PollInterval = 100 * time.Millisecond

// KeepAliveInterval is how often the keep-alive hook fires on the control
// surface while the detector runs (spec §4.4).
const KeepAliveInterval = 1 * time.Second

// StatusInterval is how often a status snapshot is logged (spec §4.4).
const StatusInterval = 10 * time.Second

// lineOffsets are the fixed GPIO line offsets for channels[0..3], mirroring
// original_source/gpio.py's GPIO 20/21/23/24 mapping (physical pins
// 38/40/16/18). The configurable input_low_* flags in the original config are
// unused by the gating logic — spec §9's first open question, resolved here
// by preserving the positional mapping as the spec instructs.
var lineOffsets = [core.MaxChannels]int{20, 21, 23, 24}

// ControlSurface is the subset of the session/control surface the detector
// drives: PTT transitions and a periodic keep-alive hook.
type ControlSurface interface {
	SetPTTActive(channelIndex int, active bool)
	EmitTransmitStarted(channelIndex int)
	EmitTransmitEnded(channelIndex int)
	KeepAlive()
}

// Line is the subset of *gpiocdev.Line the detector needs; satisfied by the
// real chip binding and by a fake in tests.
type Line interface {
	Value() (int, error)
	Close() error
}

// lineOpener opens one GPIO line as an active-low, pulled-up input. Swappable
// for testing.
type lineOpener func(chip string, offset int) (Line, error)

// openRealLine opens a line on the given gpiochip using go-gpiocdev, with a
// pull-up and active-low semantics (spec §4.4: "active when logically low").
func openRealLine(chip string, offset int) (Line, error) {
	return gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.AsActiveLow,
	)
}

// Detector polls the configured lines and drives a ControlSurface.
type Detector struct {
	chip        string
	channelCount int
	surface     ControlSurface
	open        lineOpener
	logger      *log.Logger
}

// New creates a Detector for channelCount channels (1..MaxChannels) on the
// given gpiochip device (e.g. "gpiochip0").
func New(chip string, channelCount int, surface ControlSurface, logger *log.Logger) *Detector {
	if channelCount > core.MaxChannels {
		channelCount = core.MaxChannels
	}
	return &Detector{
		chip:         chip,
		channelCount: channelCount,
		surface:      surface,
		open:         openRealLine,
		logger:       logger,
	}
}

// Run opens the configured lines, applies their initial states (so a
// pre-held PTT begins transmission immediately, spec §4.4), then polls until
// ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	lines := make([]Line, d.channelCount)
	prev := make([]bool, d.channelCount)
	for i := 0; i < d.channelCount; i++ {
		line, err := d.open(d.chip, lineOffsets[i])
		if err != nil {
			return err
		}
		lines[i] = line
	}
	defer func() {
		for _, l := range lines {
			if l != nil {
				_ = l.Close()
			}
		}
	}()

	for i := 0; i < d.channelCount; i++ {
		active, err := d.readActive(lines[i])
		if err != nil {
			d.logger.Warn("ptt: initial read failed", "channel", i, "err", err)
			continue
		}
		prev[i] = active
		d.surface.SetPTTActive(i, active)
		if active {
			d.logger.Info("ptt: pre-held at startup", "channel", i)
			d.surface.EmitTransmitStarted(i)
		}
	}

	pollTicker := time.NewTicker(PollInterval)
	defer pollTicker.Stop()
	keepAliveTicker := time.NewTicker(KeepAliveInterval)
	defer keepAliveTicker.Stop()
	statusTicker := time.NewTicker(StatusInterval)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepAliveTicker.C:
			d.surface.KeepAlive()
		case <-statusTicker.C:
			d.logStatus(prev)
		case <-pollTicker.C:
			for i := 0; i < d.channelCount; i++ {
				active, err := d.readActive(lines[i])
				if err != nil {
					continue
				}
				if active == prev[i] {
					continue
				}
				prev[i] = active
				d.surface.SetPTTActive(i, active)
				if active {
					d.surface.EmitTransmitStarted(i)
					d.logger.Info("ptt: transmit started", "channel", i)
				} else {
					d.surface.EmitTransmitEnded(i)
					d.logger.Info("ptt: transmit ended", "channel", i)
				}
			}
		}
	}
}

func (d *Detector) readActive(line Line) (bool, error) {
	v, err := line.Value()
	if err != nil {
		return false, err
	}
	// AsActiveLow makes the library report 1 == asserted == active-low line pulled to ground.
	return v == 1, nil
}

func (d *Detector) logStatus(state []bool) {
	fields := make([]any, 0, len(state)*2)
	for i, active := range state {
		fields = append(fields, "channel", i, "active", active)
	}
	d.logger.Info("ptt: status", fields...)
}

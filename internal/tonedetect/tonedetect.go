// Package tonedetect implements the two-tone (Quick Call II style) paging
// detector and the optional new-tone detector (spec §4.8). Neither has an
// analog in the teacher repo, which carries no paging/FFT concept at all;
// both are grounded directly on original_source/tone_detect.py's
// sliding-window / Hann-window / parabolic-interpolation algorithm, adapted
// from numpy's rfft to gonum.org/v1/gonum/dsp/fourier's real-to-complex FFT
// (gonum is an indirect dependency of iamprashant-voice-ai and appears
// directly in the pack's SDR manifest, making it the natural choice for FFT
// work in this corpus).
package tonedetect

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/cmplx"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/dsp/fourier"

	"echostream/internal/broadcast"
	"echostream/internal/codec"
	"echostream/internal/core"
	"echostream/internal/recording"
	"echostream/internal/telemetry"
)

// MaxWindowSeconds bounds the sliding buffer (spec §4.8: "never exceeds 10s").
const MaxWindowSeconds = 10

// MaxWindowSamples is MaxWindowSeconds worth of audio at 48 kHz.
const MaxWindowSamples = MaxWindowSeconds * core.SampleRate

// MinSegmentSamples is the minimum length a tone-A/tone-B segment must have
// (spec §4.8 step 3: "Each segment must be ≥ 0.1 s").
const MinSegmentSamples = core.SampleRate / 10

// parabolicEpsilon avoids log(0) when refining the FFT peak (spec §4.8 step 4).
const parabolicEpsilon = 1e-10

// minRangeHz is the hard floor applied to a tone definition's configured
// frequency tolerance (spec §4.8 step 5).
const minRangeHz = 10

// WaitTimeout bounds how long the detector blocks on the readiness signal so
// shutdown and the recording-timer tick are checked promptly (spec §5).
const WaitTimeout = 100 * time.Millisecond

// PassthroughController is the collaborator the detector drives on a match:
// the audio side's passthrough-output switch and recording timer.
type PassthroughController interface {
	Activate(toneAHz, toneBHz float64)
	Deactivate()
	Active() bool
}

// Detector is the single-threaded two-tone/new-tone worker (spec §4.8).
type Detector struct {
	config      core.ToneDetectConfig
	broadcast   *broadcast.Buffer
	passthrough PassthroughController
	telemetry   core.TelemetryPublisher
	uploader    core.ClipUploader
	deviceID    string
	logger      *log.Logger

	buffer []float32

	lastDetectMs int64

	recordingActive     bool
	recordingStartMs    int64
	recordingDurationMs int64
	recordingToneAHz    float64
	recordingToneBHz    float64

	newToneLastFreq float64
	newToneStableMs int64
	newToneSeen     bool
}

// New creates a Detector for one channel's tone-detection configuration,
// reading from the shared broadcast buffer.
func New(config core.ToneDetectConfig, deviceID string, bb *broadcast.Buffer, passthrough PassthroughController, telemetry core.TelemetryPublisher, uploader core.ClipUploader, logger *log.Logger) *Detector {
	return &Detector{
		config:      config,
		broadcast:   bb,
		passthrough: passthrough,
		telemetry:   telemetry,
		uploader:    uploader,
		deviceID:    deviceID,
		logger:      logger,
		buffer:      make([]float32, 0, MaxWindowSamples),
	}
}

// Run wakes on the BroadcastBuffer's readiness signal (or every WaitTimeout,
// to check shutdown and the recording timer), appends the latest snapshot to
// the sliding window, and evaluates tone matches (spec §4.8, §5).
func (d *Detector) Run(ctx context.Context) {
	snapshot := make([]float32, broadcast.MaxSamples)
	timer := time.NewTimer(WaitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.broadcast.WaitReady():
		case <-timer.C:
		}
		timer.Reset(WaitTimeout)

		n := d.broadcast.SnapshotInto(snapshot)
		if n > 0 {
			d.appendWindow(snapshot[:n])
		}

		nowMs := time.Now().UnixMilli()
		d.evaluateTwoTone(nowMs)
		if d.config.DetectNewTones {
			d.evaluateNewTone(nowMs)
		}
		d.checkRecordingExpiry(nowMs)
	}
}

// appendWindow appends samples to the tail of the sliding buffer, truncating
// the head so it never exceeds MaxWindowSamples (spec §4.8).
func (d *Detector) appendWindow(samples []float32) {
	d.buffer = append(d.buffer, samples...)
	if len(d.buffer) > MaxWindowSamples {
		excess := len(d.buffer) - MaxWindowSamples
		d.buffer = d.buffer[excess:]
	}
}

// lengthGroup is a distinct (tone_a_length_ms, tone_b_length_ms) pair shared
// by one or more tone definitions.
type lengthGroup struct {
	aLengthMs int
	bLengthMs int
	members   []core.ToneDefinition
}

// evaluateTwoTone implements spec §4.8's group-by-length, longest-first
// matching pass, stopping at the first emitted detection.
func (d *Detector) evaluateTwoTone(nowMs int64) {
	groups := groupByLength(d.config.Tones)
	for _, g := range groups {
		la := float64(g.aLengthMs) / 1000
		lb := float64(g.bLengthMs) / 1000
		totalSamples := int(math.Floor((la + lb) * core.SampleRate))
		if len(d.buffer) < totalSamples {
			continue
		}

		bSamples := int(math.Floor(lb * core.SampleRate))
		aSamples := int(math.Floor(la * core.SampleRate))
		tail := d.buffer
		bSegment := tail[len(tail)-bSamples:]
		aSegment := tail[len(tail)-bSamples-aSamples : len(tail)-bSamples]

		if len(aSegment) < MinSegmentSamples || len(bSegment) < MinSegmentSamples {
			continue
		}
		if !d.passesLevelGate(aSegment) || !d.passesLevelGate(bSegment) {
			continue
		}

		freqA := detectFrequency(aSegment)
		freqB := detectFrequency(bSegment)

		for _, def := range g.members {
			rangeA := math.Max(def.ToneARangeHz, minRangeHz)
			rangeB := math.Max(def.ToneBRangeHz, minRangeHz)
			if math.Abs(freqA-def.ToneAHz) > rangeA || math.Abs(freqB-def.ToneBHz) > rangeB {
				continue
			}
			debounce := int64(math.Max(float64(def.ToneALengthMs), float64(def.ToneBLengthMs)))
			if nowMs-d.lastDetectMs <= debounce {
				continue
			}
			d.lastDetectMs = nowMs
			d.onDetected(def, nowMs)
			return
		}
	}
}

// onDetected activates passthrough, arms the recording timer, and publishes
// a telemetry event (spec §4.8 "Passthrough activation").
func (d *Detector) onDetected(def core.ToneDefinition, nowMs int64) {
	d.logger.Info("tonedetect: match", "tone_id", def.ToneID, "tone_a_hz", def.ToneAHz, "tone_b_hz", def.ToneBHz)
	d.passthrough.Activate(def.ToneAHz, def.ToneBHz)
	if def.RecordLengthMs > 0 {
		d.recordingActive = true
		d.recordingStartMs = nowMs
		d.recordingDurationMs = int64(def.RecordLengthMs)
		d.recordingToneAHz = def.ToneAHz
		d.recordingToneBHz = def.ToneBHz
	}
	if d.telemetry != nil {
		payload := buildToneEventPayload(d.deviceID, def, nowMs)
		if err := d.telemetry.PublishToneEvent(telemetry.Topic(d.deviceID), payload); err != nil {
			d.logger.Warn("tonedetect: telemetry publish failed", "err", err)
		}
	}
}

// checkRecordingExpiry clears passthrough once the armed recording window
// has elapsed (spec §4.8 "Timer expiry").
func (d *Detector) checkRecordingExpiry(nowMs int64) {
	if !d.recordingActive {
		return
	}
	if nowMs-d.recordingStartMs >= d.recordingDurationMs {
		d.recordingActive = false
		d.passthrough.Deactivate()
		d.uploadRecording()
	}
}

// uploadRecording writes the trailing recordingDurationMs of the sliding
// window to a temporary WAV file and uploads it, matching
// original_source/s3_upload.py's record-then-upload flow
// (start_new_tone_audio_recording / upload on completion). A nil uploader
// (no S3 bucket configured) makes this a no-op.
func (d *Detector) uploadRecording() {
	if d.uploader == nil {
		return
	}
	durationSamples := int(d.recordingDurationMs) * core.SampleRate / 1000
	if durationSamples > len(d.buffer) {
		durationSamples = len(d.buffer)
	}
	if durationSamples == 0 {
		return
	}
	clip := d.buffer[len(d.buffer)-durationSamples:]

	tmp, err := os.CreateTemp("", "echostream-clip-*.wav")
	if err != nil {
		d.logger.Warn("tonedetect: create temp clip file", "err", err)
		return
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := recording.WriteWAV(path, clip); err != nil {
		d.logger.Warn("tonedetect: write clip", "err", err)
		return
	}
	if err := d.uploader.Upload(path, d.recordingToneAHz, d.recordingToneBHz); err != nil {
		d.logger.Warn("tonedetect: upload clip", "err", err)
	}
}

// evaluateNewTone inspects the trailing new_tone_length_ms of audio for a
// persistent single tone outside any configured FrequencyFilter (spec §4.8).
func (d *Detector) evaluateNewTone(nowMs int64) {
	windowSamples := int(math.Floor(float64(d.config.NewToneLengthMs) / 1000 * core.SampleRate))
	if windowSamples < MinSegmentSamples || len(d.buffer) < windowSamples {
		return
	}
	segment := d.buffer[len(d.buffer)-windowSamples:]
	if !d.passesLevelGate(segment) {
		d.newToneSeen = false
		return
	}
	freq := detectFrequency(segment)

	if isFiltered(freq, d.config.Filters) {
		d.newToneSeen = false
		return
	}

	if !d.newToneSeen {
		d.newToneSeen = true
		d.newToneLastFreq = freq
		d.newToneStableMs = nowMs
		return
	}

	if math.Abs(freq-d.newToneLastFreq) > d.config.NewToneRangeHz {
		d.newToneLastFreq = freq
		d.newToneStableMs = nowMs
		return
	}

	if nowMs-d.newToneStableMs < int64(d.config.NewToneLengthMs) {
		return
	}

	if d.telemetry != nil {
		payload := buildNewToneEventPayload(d.deviceID, freq, d.config.NewToneLengthMs, d.config.NewToneRangeHz, nowMs)
		if err := d.telemetry.PublishToneEvent(telemetry.Topic(d.deviceID), payload); err != nil {
			d.logger.Warn("tonedetect: new-tone telemetry publish failed", "err", err)
		}
	}
	// Re-arm so a held tone doesn't fire repeatedly every wake.
	d.newToneSeen = false
}

// passesLevelGate reports whether segment is loud enough to bother running
// an FFT over, per the channel's configured dB threshold. original_source/
// tone_detect.py's set_tone_config accepts db_threshold but never actually
// consults it (a no-op, per its own print-only body); DBThreshold == 0
// (unconfigured) preserves that original behavior by never gating. A
// nonzero threshold is treated as dBFS, matching RMS's level metering.
func (d *Detector) passesLevelGate(segment []float32) bool {
	if d.config.DBThreshold == 0 {
		return true
	}
	rms := codec.RMS(segment)
	if rms <= 0 {
		return false
	}
	level := 20 * math.Log10(float64(rms))
	return level >= d.config.DBThreshold
}

func isFiltered(freq float64, filters []core.FrequencyFilter) bool {
	for _, f := range filters {
		switch f.Kind {
		case core.FilterAbove:
			if freq >= f.FrequencyHz {
				return true
			}
		case core.FilterBelow:
			if freq <= f.FrequencyHz {
				return true
			}
		case core.FilterCenter:
			if math.Abs(freq-f.FrequencyHz) <= f.RangeHz {
				return true
			}
		}
	}
	return false
}

// groupByLength buckets tone definitions by their (a,b) length pair and
// orders buckets by descending total length (spec §4.8 step 2: "process
// groups from longest to shortest total length").
func groupByLength(tones []core.ToneDefinition) []lengthGroup {
	index := make(map[[2]int]int)
	var groups []lengthGroup
	for _, def := range tones {
		key := [2]int{def.ToneALengthMs, def.ToneBLengthMs}
		if idx, ok := index[key]; ok {
			groups[idx].members = append(groups[idx].members, def)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, lengthGroup{aLengthMs: def.ToneALengthMs, bLengthMs: def.ToneBLengthMs, members: []core.ToneDefinition{def}})
	}
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].aLengthMs+groups[i].bLengthMs > groups[j].aLengthMs+groups[j].bLengthMs
	})
	return groups
}

// detectFrequency estimates the dominant frequency of a real segment via a
// Hann-windowed real FFT with parabolic peak interpolation (spec §4.8 step 4).
func detectFrequency(segment []float32) float64 {
	n := len(segment)
	windowed := make([]float64, n)
	for i, s := range segment {
		hann := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		windowed[i] = float64(s) * hann
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, windowed)

	magnitudes := make([]float64, len(coeffs))
	peakIdx := 0
	peakMag := -1.0
	for i, c := range coeffs {
		m := cmplx.Abs(c)
		magnitudes[i] = m
		if m > peakMag {
			peakMag = m
			peakIdx = i
		}
	}

	if peakIdx == 0 || peakIdx >= len(magnitudes)-1 {
		return float64(core.SampleRate) * float64(peakIdx) / float64(n)
	}

	trueIdx := parabolicPeak(magnitudes, peakIdx)
	return float64(core.SampleRate) * trueIdx / float64(n)
}

// toneEventEnvelope is the common header of every telemetry payload (spec §6
// "Telemetry publisher"; original_source/mqtt.py's publish_new_tone_pair and
// publish_new_tone_detection both build this exact envelope by hand).
type toneEventEnvelope struct {
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
	DeviceID  string `json:"device_id"`
	EventType string `json:"event_type"`
}

// newEnvelope builds the envelope shared by both event kinds.
// original_source/mqtt.py: `f"tone_{int(time.time())}"` for message_id and
// `int(time.time())` (seconds, not milliseconds) for timestamp.
func newEnvelope(deviceID string, nowMs int64) toneEventEnvelope {
	nowSec := nowMs / 1000
	return toneEventEnvelope{
		MessageID: fmt.Sprintf("tone_%d", nowSec),
		Timestamp: nowSec,
		DeviceID:  deviceID,
		EventType: "new_tone_detected",
	}
}

// twoToneDetails is the tone_details body for a two-tone (Quick Call II)
// match (original_source/mqtt.py: publish_new_tone_pair).
type twoToneDetails struct {
	ToneA float64 `json:"tone_a"`
	ToneB float64 `json:"tone_b"`
}

type twoToneEvent struct {
	toneEventEnvelope
	ToneDetails twoToneDetails `json:"tone_details"`
}

func buildToneEventPayload(deviceID string, def core.ToneDefinition, nowMs int64) []byte {
	payload, _ := json.Marshal(twoToneEvent{
		toneEventEnvelope: newEnvelope(deviceID, nowMs),
		ToneDetails:       twoToneDetails{ToneA: def.ToneAHz, ToneB: def.ToneBHz},
	})
	return payload
}

// newToneDetails is the tone_details body for a persistent single-tone match
// (original_source/mqtt.py: publish_new_tone_detection).
type newToneDetails struct {
	FrequencyHz float64 `json:"frequency_hz"`
	DurationMs  int     `json:"duration_ms"`
	RangeHz     float64 `json:"range_hz"`
}

type newToneEvent struct {
	toneEventEnvelope
	ToneDetails newToneDetails `json:"tone_details"`
}

func buildNewToneEventPayload(deviceID string, freq float64, durationMs int, rangeHz float64, nowMs int64) []byte {
	payload, _ := json.Marshal(newToneEvent{
		toneEventEnvelope: newEnvelope(deviceID, nowMs),
		ToneDetails:       newToneDetails{FrequencyHz: freq, DurationMs: durationMs, RangeHz: rangeHz},
	})
	return payload
}

// parabolicPeak refines the integer peak index x in log-magnitude f via
// quadratic interpolation across its two neighbors (spec §4.8 step 4;
// original_source/tone_detect.py's parabolic()).
func parabolicPeak(magnitudes []float64, x int) float64 {
	logf := func(i int) float64 { return math.Log(magnitudes[i] + parabolicEpsilon) }
	left, center, right := logf(x-1), logf(x), logf(x+1)
	denom := left - 2*center + right
	if denom == 0 {
		return float64(x)
	}
	return 0.5*(left-right)/denom + float64(x)
}

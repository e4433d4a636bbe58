// Package core holds the data types and collaborator interfaces shared across
// EchoStream's audio pipeline. Keeping them in one leaf package avoids import
// cycles between codec, jitter, transport, and the per-channel workers that
// depend on all three.
package core

import "sync"

// SampleRate is the fixed sampling rate for every PCM buffer in the pipeline.
const SampleRate = 48000

// FrameSamples is the number of mono float samples in one 40 ms frame at 48 kHz.
const FrameSamples = 1920

// MaxChannels is the number of PTT lines / radio channels the agent supports.
const MaxChannels = 4

// Frame is a fixed-size block of mono float samples. SampleCount is ≤
// FrameSamples; Valid distinguishes a real capture from a zero-value frame
// (e.g. the zero value stored when a jitter buffer slot has never been
// written).
type Frame struct {
	Samples     [FrameSamples]float32
	SampleCount int
	Valid       bool
}

// ToneDefinition describes one two-tone (Quick Call II style) paging sequence.
// Immutable after registration.
type ToneDefinition struct {
	ToneID         string
	ToneAHz        float64
	ToneBHz        float64
	ToneALengthMs  int
	ToneBLengthMs  int
	ToneARangeHz   float64
	ToneBRangeHz   float64
	RecordLengthMs int
	AlertID        string
}

// FrequencyFilterKind is the comparison a FrequencyFilter applies.
type FrequencyFilterKind int

const (
	FilterAbove FrequencyFilterKind = iota
	FilterBelow
	FilterCenter
)

// FrequencyFilter excludes a frequency band from new-tone detection.
// Immutable after registration.
type FrequencyFilter struct {
	FilterID    string
	FrequencyHz float64
	RangeHz     float64
	Kind        FrequencyFilterKind
}

// ToneDetectConfig holds the per-channel tone-detection configuration loaded
// from the signalling/configuration collaborator.
type ToneDetectConfig struct {
	Enabled            bool
	TonePassthrough    bool
	PassthroughChannel string
	Threshold          float64
	Gain               float64
	DBThreshold         float64
	DetectNewTones     bool
	NewToneLengthMs    int
	NewToneRangeHz     float64
	Tones              []ToneDefinition
	Filters            []FrequencyFilter
}

// ChannelStats carries a Channel's capture-drop, decrypt-failure and
// received-frame counters. Snapshot reads them; no worker logs them
// periodically.
type ChannelStats struct {
	mu              sync.Mutex
	CaptureDrops    uint64
	DecryptFailures uint64
	FramesReceived  uint64
}

func (s *ChannelStats) IncCaptureDrops() { s.mu.Lock(); s.CaptureDrops++; s.mu.Unlock() }

// IncDecryptFailures increments the decrypt-failure counter and returns its
// new value, so callers can rate-limit logging (spec §4.7: "log first and
// every 50th").
func (s *ChannelStats) IncDecryptFailures() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DecryptFailures++
	return s.DecryptFailures
}

func (s *ChannelStats) IncFramesReceived() { s.mu.Lock(); s.FramesReceived++; s.mu.Unlock() }

// Snapshot returns a copy of the counters for logging, without the mutex.
func (s *ChannelStats) Snapshot() (drops, decryptFail, framesRecv uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CaptureDrops, s.DecryptFailures, s.FramesReceived
}

// SessionConfig is the endpoint/credential bundle the signalling channel
// delivers at session setup (spec §6, §4.9). Immutable for a session.
type SessionConfig struct {
	UDPHost     string
	UDPPort     int
	WebsocketID int
}

// ConfigSource is the external collaborator that yields the process's static
// configuration (spec §6 "Configuration input"). The only concrete
// implementation lives in internal/config; this interface lets the core be
// composed and tested without it.
type ConfigSource interface {
	// Channels returns the configured channel ids in PTT-line order
	// (index 0 = line 1, ...), up to MaxChannels.
	Channels() []ChannelConfig
	// DeviceID returns the device identifier used in telemetry topics.
	DeviceID() string
}

// ChannelConfig is one channel's static configuration.
type ChannelConfig struct {
	ChannelID         string
	SessionKey        [32]byte
	ToneDetect        bool
	ToneConfig        ToneDetectConfig
	BroadcastSource   bool // this channel's capture feeds the BroadcastBuffer
	PassthroughTarget bool // this channel's playback can be overridden by passthrough
}

// SignallingChannel is the external collaborator that delivers session setup
// and carries outbound connect/transmit events (spec §6, §4.9).
type SignallingChannel interface {
	// Events yields SessionConfig values as they arrive ("connected").
	// The channel is closed when signalling is closed.
	Events() <-chan SessionConfig
	// Emit sends a connect/transmit_started/transmit_ended JSON event.
	Emit(eventType string, channelID string)
	Close() error
}

// TelemetryPublisher is the external collaborator for detection events
// (spec §6 "Telemetry publisher").
type TelemetryPublisher interface {
	PublishToneEvent(topic string, payload []byte) error
}

// ClipUploader is the external collaborator for recorded-clip storage
// (spec §6 "Object-store uploader").
type ClipUploader interface {
	Upload(path string, toneAHz, toneBHz float64) error
}

// Package device wires PortAudio input/output streams to the capture and
// playback paths (spec §4.5, §4.6). It follows the teacher's
// (rustyguts-bken/client/audio.go) device-resolution and stream-lifecycle
// pattern — open once at Start, Stop unblocks any in-flight Read/Write,
// Close frees the native stream only after the owning goroutine has
// returned — but each physical stream now carries exactly one channel's
// audio instead of a single engine-wide stream mixing every sender.
package device

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// InputChunkSamples is the fixed read size for the capture path (spec §4.5).
const InputChunkSamples = 1024

// OutputChunkSamples is the fixed write size for the playback path (spec §4.6).
const OutputChunkSamples = 1024

// InputStream is the subset of a PortAudio input stream the capture loop
// needs; satisfied by *portaudio.Stream and by a fake in tests.
type InputStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
}

// OutputStream is the subset of a PortAudio output stream the playback loop
// needs.
type OutputStream interface {
	Start() error
	Stop() error
	Close() error
	Write() error
}

// OpenInput opens a mono 48 kHz input stream on deviceIndex (-1 = default),
// reading into buf (len == InputChunkSamples).
func OpenInput(deviceIndex int, buf []float32) (InputStream, error) {
	dev, err := resolveInputDevice(deviceIndex)
	if err != nil {
		return nil, fmt.Errorf("device: resolve input: %w", err)
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      48000,
		FramesPerBuffer: len(buf),
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("device: open input stream: %w", err)
	}
	return stream, nil
}

// OpenOutput opens a mono 48 kHz output stream on deviceIndex (-1 = default),
// writing from buf (len == OutputChunkSamples).
func OpenOutput(deviceIndex int, buf []float32) (OutputStream, error) {
	dev, err := resolveOutputDevice(deviceIndex)
	if err != nil {
		return nil, fmt.Errorf("device: resolve output: %w", err)
	}
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		},
		SampleRate:      48000,
		FramesPerBuffer: len(buf),
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("device: open output stream: %w", err)
	}
	return stream, nil
}

func resolveInputDevice(idx int) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return portaudio.DefaultInputDevice()
}

func resolveOutputDevice(idx int) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	if idx >= 0 && idx < len(devices) {
		return devices[idx], nil
	}
	return portaudio.DefaultOutputDevice()
}

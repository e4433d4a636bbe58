// Package config loads EchoStream's static configuration: the nested
// shadow/state/desired JSON document described by original_source/config.py,
// exposing it through core.ConfigSource. The load/default/path shape follows
// the teacher's internal/config/config.go (plain encoding/json, a
// documented on-disk location), except that a missing or malformed file is
// returned as an error rather than replaced by a zero-value default — the
// schema itself is entirely EchoStream's own, since the teacher has no
// equivalent document.
package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"echostream/internal/core"
)

// Path is the on-disk location of the configuration document, mirroring
// original_source/config.py's CONFIG_PATH.
const Path = "/etc/echostream/config.json"

// document mirrors the on-disk JSON shape exactly so encoding/json can
// unmarshal it without an intermediate map-based walk.
type document struct {
	UniqueID string `json:"unique_id"`
	Shadow   struct {
		State struct {
			Desired struct {
				SoftwareConfiguration []struct {
					ChannelOne   *channelDoc `json:"channel_one"`
					ChannelTwo   *channelDoc `json:"channel_two"`
					ChannelThree *channelDoc `json:"channel_three"`
					ChannelFour  *channelDoc `json:"channel_four"`
				} `json:"software_configuration"`
			} `json:"desired"`
		} `json:"state"`
	} `json:"shadow"`
}

type channelDoc struct {
	ChannelID         string         `json:"channel_id"`
	SessionKey        string         `json:"session_key"`
	ToneDetect        bool           `json:"tone_detect"`
	ToneDetectConfig  *toneDetectDoc `json:"tone_detect_configuration"`
	BroadcastSource   bool           `json:"broadcast_source"`
	PassthroughTarget bool           `json:"passthrough_target"`
}

type toneDetectDoc struct {
	TonePassthrough    bool             `json:"tone_passthrough"`
	PassthroughChannel string           `json:"passthrough_channel"`
	AlertDetails       alertDetailsDoc  `json:"alert_details"`
	AlertTones         []alertToneDoc   `json:"alert_tones"`
	FilterFrequencies  []filterFreqDoc  `json:"filter_frequencies"`
}

type alertDetailsDoc struct {
	Threshold      jsonNumber `json:"threshold"`
	Gain           jsonNumber `json:"gain"`
	DB             int        `json:"db"`
	DetectNewTones bool       `json:"detect_new_tones"`
	NewToneLength  int        `json:"new_tone_length"`
	NewToneRange   float64    `json:"new_tone_range"`
}

type alertToneDoc struct {
	ToneID              string     `json:"tone_id"`
	ToneA               jsonNumber `json:"tone_a"`
	ToneB               jsonNumber `json:"tone_b"`
	ToneALength         float64    `json:"tone_a_length"`
	ToneBLength         float64    `json:"tone_b_length"`
	ToneARange          float64    `json:"tone_a_range"`
	ToneBRange          float64    `json:"tone_b_range"`
	RecordLength        float64    `json:"record_length"`
	DetectionToneAlert  string     `json:"detection_tone_alert"`
}

type filterFreqDoc struct {
	FilterID    string     `json:"filter_id"`
	Frequency   jsonNumber `json:"frequency"`
	FilterRange float64    `json:"filter_range"`
	Type        string     `json:"type"`
}

// jsonNumber accepts a config value encoded as either a JSON string or a
// JSON number (original_source/config.py calls float() on values that may
// arrive as either, e.g. `"threshold": "0.5"`).
type jsonNumber float64

func (n *jsonNumber) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = jsonNumber(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("config: value is neither number nor string: %s", data)
	}
	if s == "" {
		*n = 0
		return nil
	}
	var f2 float64
	if _, err := fmt.Sscanf(s, "%g", &f2); err != nil {
		return fmt.Errorf("config: parse numeric string %q: %w", s, err)
	}
	*n = jsonNumber(f2)
	return nil
}

// Config implements core.ConfigSource from a loaded document.
type Config struct {
	deviceID string
	channels []core.ChannelConfig
}

// Load reads and parses the configuration document at Path.
func Load() (*Config, error) {
	data, err := os.ReadFile(Path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", Path, err)
	}
	return Parse(data)
}

// Parse builds a Config from raw JSON bytes. Tests call it without a file on
// disk, and cmd/echostream's loadConfig calls it on a document read from a
// non-default path.
func Parse(data []byte) (*Config, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if len(doc.Shadow.State.Desired.SoftwareConfiguration) == 0 {
		return nil, fmt.Errorf("config: software_configuration not found")
	}
	sw := doc.Shadow.State.Desired.SoftwareConfiguration[0]
	docs := [core.MaxChannels]*channelDoc{sw.ChannelOne, sw.ChannelTwo, sw.ChannelThree, sw.ChannelFour}

	cfg := &Config{deviceID: doc.UniqueID}
	for i, cd := range docs {
		if cd == nil || cd.ChannelID == "" {
			continue
		}
		ch := core.ChannelConfig{
			ChannelID:         cd.ChannelID,
			ToneDetect:        cd.ToneDetect,
			BroadcastSource:   cd.BroadcastSource,
			PassthroughTarget: cd.PassthroughTarget,
		}
		if key, err := decodeSessionKey(cd.SessionKey); err == nil {
			ch.SessionKey = key
		}
		if cd.ToneDetect && cd.ToneDetectConfig != nil {
			ch.ToneConfig = parseToneDetectConfig(cd.ToneDetectConfig)
		}
		_ = i // index is only the slot position in docs; channels are appended in that order
		cfg.channels = append(cfg.channels, ch)
	}
	return cfg, nil
}

func decodeSessionKey(encoded string) ([32]byte, error) {
	var key [32]byte
	if encoded == "" {
		return key, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != len(key) {
		return key, fmt.Errorf("config: invalid session key")
	}
	copy(key[:], raw)
	return key, nil
}

func parseToneDetectConfig(d *toneDetectDoc) core.ToneDetectConfig {
	cfg := core.ToneDetectConfig{
		TonePassthrough:    d.TonePassthrough,
		PassthroughChannel: d.PassthroughChannel,
		Threshold:          float64(d.AlertDetails.Threshold),
		Gain:               float64(d.AlertDetails.Gain),
		DBThreshold:        float64(d.AlertDetails.DB),
		DetectNewTones:     d.AlertDetails.DetectNewTones,
		NewToneLengthMs:    d.AlertDetails.NewToneLength,
		NewToneRangeHz:     d.AlertDetails.NewToneRange,
	}
	for _, t := range d.AlertTones {
		cfg.Tones = append(cfg.Tones, core.ToneDefinition{
			ToneID:         t.ToneID,
			ToneAHz:        float64(t.ToneA),
			ToneBHz:        float64(t.ToneB),
			ToneALengthMs:  int(t.ToneALength * 1000),
			ToneBLengthMs:  int(t.ToneBLength * 1000),
			ToneARangeHz:   t.ToneARange,
			ToneBRangeHz:   t.ToneBRange,
			RecordLengthMs: int(t.RecordLength * 1000),
			AlertID:        t.DetectionToneAlert,
		})
	}
	for _, f := range d.FilterFrequencies {
		cfg.Filters = append(cfg.Filters, core.FrequencyFilter{
			FilterID:    f.FilterID,
			FrequencyHz: float64(f.Frequency),
			RangeHz:     f.FilterRange,
			Kind:        parseFilterKind(f.Type),
		})
	}
	return cfg
}

func parseFilterKind(kind string) core.FrequencyFilterKind {
	switch kind {
	case "above":
		return core.FilterAbove
	case "below":
		return core.FilterBelow
	default:
		return core.FilterCenter
	}
}

// Channels implements core.ConfigSource.
func (c *Config) Channels() []core.ChannelConfig { return c.channels }

// DeviceID implements core.ConfigSource.
func (c *Config) DeviceID() string { return c.deviceID }

var _ core.ConfigSource = (*Config)(nil)

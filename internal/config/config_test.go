package config

import (
	"encoding/base64"
	"fmt"
	"testing"
)

const sampleDoc = `{
  "unique_id": "device-123",
  "shadow": {
    "state": {
      "desired": {
        "software_configuration": [
          {
            "channel_one": {
              "channel_id": "chan-1",
              "session_key": "%s",
              "tone_detect": true,
              "broadcast_source": true,
              "tone_detect_configuration": {
                "tone_passthrough": true,
                "passthrough_channel": "chan-2",
                "alert_details": {
                  "threshold": "0.5",
                  "gain": 2,
                  "db": -20,
                  "detect_new_tones": true,
                  "new_tone_length": 3000,
                  "new_tone_range": 15
                },
                "alert_tones": [
                  {
                    "tone_id": "fire-page",
                    "tone_a": "853.0",
                    "tone_b": 960,
                    "tone_a_length": 1.0,
                    "tone_b_length": 3.0,
                    "tone_a_range": 10,
                    "tone_b_range": 10,
                    "record_length": 30.0,
                    "detection_tone_alert": "alert-1"
                  }
                ],
                "filter_frequencies": [
                  {"filter_id": "f1", "frequency": "1000", "filter_range": 5, "type": "center"}
                ]
              }
            },
            "channel_two": {
              "channel_id": "chan-2",
              "passthrough_target": true
            }
          }
        ]
      }
    }
  }
}`

func TestParseNestedDocument(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	encoded := base64.StdEncoding.EncodeToString(key)

	doc := []byte(fmt.Sprintf(sampleDoc, encoded))
	cfg, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.DeviceID() != "device-123" {
		t.Fatalf("DeviceID() = %q, want device-123", cfg.DeviceID())
	}

	channels := cfg.Channels()
	if len(channels) != 2 {
		t.Fatalf("len(Channels()) = %d, want 2", len(channels))
	}

	ch1 := channels[0]
	if ch1.ChannelID != "chan-1" {
		t.Fatalf("channels[0].ChannelID = %q, want chan-1", ch1.ChannelID)
	}
	if !ch1.ToneDetect || !ch1.BroadcastSource {
		t.Fatalf("channels[0] flags = %+v, want ToneDetect and BroadcastSource true", ch1)
	}
	var want [32]byte
	copy(want[:], key)
	if ch1.SessionKey != want {
		t.Fatalf("channels[0].SessionKey mismatch")
	}

	tc := ch1.ToneConfig
	if !tc.TonePassthrough || tc.PassthroughChannel != "chan-2" {
		t.Fatalf("tone config passthrough fields = %+v", tc)
	}
	if tc.Threshold != 0.5 {
		t.Fatalf("Threshold (string-encoded) = %v, want 0.5", tc.Threshold)
	}
	if len(tc.Tones) != 1 {
		t.Fatalf("len(Tones) = %d, want 1", len(tc.Tones))
	}
	tone := tc.Tones[0]
	if tone.ToneAHz != 853.0 || tone.ToneBHz != 960 {
		t.Fatalf("tone frequencies = %v/%v, want 853/960", tone.ToneAHz, tone.ToneBHz)
	}
	if tone.ToneALengthMs != 1000 || tone.ToneBLengthMs != 3000 {
		t.Fatalf("tone lengths_ms = %d/%d, want 1000/3000", tone.ToneALengthMs, tone.ToneBLengthMs)
	}
	if len(tc.Filters) != 1 || tc.Filters[0].FrequencyHz != 1000 {
		t.Fatalf("filters = %+v", tc.Filters)
	}

	ch2 := channels[1]
	if !ch2.PassthroughTarget {
		t.Fatal("channels[1].PassthroughTarget = false, want true")
	}
}

func TestParseMissingSoftwareConfigurationErrors(t *testing.T) {
	_, err := Parse([]byte(`{"unique_id":"x","shadow":{"state":{"desired":{"software_configuration":[]}}}}`))
	if err == nil {
		t.Fatal("Parse with empty software_configuration succeeded, want an error")
	}
}

func TestDecodeSessionKeyRejectsWrongLength(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("too-short"))
	if _, err := decodeSessionKey(short); err == nil {
		t.Fatal("decodeSessionKey accepted a non-32-byte key")
	}
}

func TestJSONNumberAcceptsStringOrNumber(t *testing.T) {
	var n jsonNumber
	if err := n.UnmarshalJSON([]byte(`"1.5"`)); err != nil {
		t.Fatalf("UnmarshalJSON(string) error: %v", err)
	}
	if n != 1.5 {
		t.Fatalf("n = %v, want 1.5", n)
	}
	if err := n.UnmarshalJSON([]byte(`2.5`)); err != nil {
		t.Fatalf("UnmarshalJSON(number) error: %v", err)
	}
	if n != 2.5 {
		t.Fatalf("n = %v, want 2.5", n)
	}
}

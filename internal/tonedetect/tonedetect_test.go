package tonedetect

import (
	"encoding/json"
	"io"
	"math"
	"testing"

	"github.com/charmbracelet/log"

	"echostream/internal/core"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func sineWave(freqHz float64, n int) []float32 {
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(math.Sin(2 * math.Pi * freqHz * float64(i) / core.SampleRate))
	}
	return out
}

func TestDetectFrequencyFindsDominantTone(t *testing.T) {
	const want = 1000.0
	segment := sineWave(want, core.SampleRate/2) // 0.5 s window

	got := detectFrequency(segment)
	if math.Abs(got-want) > 5 {
		t.Fatalf("detectFrequency = %v, want ~%v (±5 Hz)", got, want)
	}
}

func TestDetectFrequencyDistinguishesTwoTones(t *testing.T) {
	a := detectFrequency(sineWave(600, core.SampleRate/2))
	b := detectFrequency(sineWave(1500, core.SampleRate/2))
	if math.Abs(a-b) < 100 {
		t.Fatalf("600 Hz and 1500 Hz resolved too close together: %v vs %v", a, b)
	}
}

func TestParabolicPeakRefinesIntegerIndex(t *testing.T) {
	// A symmetric peak at index 5 should refine to exactly 5.
	mags := []float64{1, 2, 3, 4, 5, 6, 5, 4, 3, 2}
	got := parabolicPeak(mags, 5)
	if math.Abs(got-5) > 0.5 {
		t.Fatalf("parabolicPeak = %v, want close to 5", got)
	}

	// An asymmetric peak (steeper on the left) should refine toward the
	// shallower (right) side.
	asym := []float64{1, 10, 20, 15, 5}
	refined := parabolicPeak(asym, 2)
	if refined <= 2 {
		t.Fatalf("parabolicPeak = %v, want > 2 for a peak skewed toward the right neighbor", refined)
	}
}

func TestGroupByLengthOrdersLongestFirst(t *testing.T) {
	tones := []core.ToneDefinition{
		{ToneID: "short", ToneALengthMs: 500, ToneBLengthMs: 500},
		{ToneID: "long", ToneALengthMs: 1000, ToneBLengthMs: 3000},
		{ToneID: "short-dup", ToneALengthMs: 500, ToneBLengthMs: 500},
	}
	groups := groupByLength(tones)
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if groups[0].aLengthMs != 1000 || groups[0].bLengthMs != 3000 {
		t.Fatalf("groups[0] = %+v, want the 1000/3000 group first", groups[0])
	}
	if len(groups[1].members) != 2 {
		t.Fatalf("len(groups[1].members) = %d, want 2 (short + short-dup)", len(groups[1].members))
	}
}

func TestIsFilteredMatchesEachKind(t *testing.T) {
	filters := []core.FrequencyFilter{
		{Kind: core.FilterAbove, FrequencyHz: 2000},
		{Kind: core.FilterBelow, FrequencyHz: 100},
		{Kind: core.FilterCenter, FrequencyHz: 1000, RangeHz: 10},
	}
	cases := []struct {
		freq float64
		want bool
	}{
		{2500, true},  // above 2000
		{50, true},    // below 100
		{1005, true},  // within 10 Hz of 1000
		{500, false},  // matches none
	}
	for _, c := range cases {
		if got := isFiltered(c.freq, filters); got != c.want {
			t.Errorf("isFiltered(%v) = %v, want %v", c.freq, got, c.want)
		}
	}
}

func TestEvaluateTwoToneDebouncesRepeatDetections(t *testing.T) {
	passthrough := &fakePassthrough{}
	d := New(core.ToneDetectConfig{
		Tones: []core.ToneDefinition{{
			ToneID: "page", ToneAHz: 600, ToneBHz: 1500,
			ToneALengthMs: 100, ToneBLengthMs: 100,
			ToneARangeHz: 15, ToneBRangeHz: 15,
		}},
	}, "device-1", nil, passthrough, nil, nil, testLogger())

	segment := append(sineWave(600, core.SampleRate/10), sineWave(1500, core.SampleRate/10)...)
	d.buffer = segment

	d.evaluateTwoTone(1000)
	if passthrough.activations != 1 {
		t.Fatalf("activations after first match = %d, want 1", passthrough.activations)
	}

	// A second call within the debounce window (max(100,100)=100ms) must not re-trigger.
	d.evaluateTwoTone(1050)
	if passthrough.activations != 1 {
		t.Fatalf("activations after debounced repeat = %d, want still 1", passthrough.activations)
	}

	// Past the debounce window, a fresh match is allowed again.
	d.evaluateTwoTone(1200)
	if passthrough.activations != 2 {
		t.Fatalf("activations after debounce window elapsed = %d, want 2", passthrough.activations)
	}
}

type fakePassthrough struct {
	activations int
	active      bool
}

func (f *fakePassthrough) Activate(toneAHz, toneBHz float64) {
	f.activations++
	f.active = true
}
func (f *fakePassthrough) Deactivate()  { f.active = false }
func (f *fakePassthrough) Active() bool { return f.active }

func TestPassesLevelGateIgnoresThresholdWhenUnconfigured(t *testing.T) {
	d := New(core.ToneDetectConfig{}, "device-1", nil, &fakePassthrough{}, nil, nil, testLogger())
	silence := make([]float32, 100)
	if !d.passesLevelGate(silence) {
		t.Fatal("passesLevelGate(silence) = false with DBThreshold unset, want true (no-op gate)")
	}
}

func TestPassesLevelGateRejectsBelowConfiguredThreshold(t *testing.T) {
	d := New(core.ToneDetectConfig{DBThreshold: -20}, "device-1", nil, &fakePassthrough{}, nil, nil, testLogger())

	silence := make([]float32, 4800)
	if d.passesLevelGate(silence) {
		t.Fatal("passesLevelGate(silence) = true with a -20dB threshold, want false")
	}

	loud := sineWave(1000, 4800) // amplitude 1.0 => 0 dBFS
	if !d.passesLevelGate(loud) {
		t.Fatal("passesLevelGate(full-scale tone) = false with a -20dB threshold, want true")
	}
}

func TestBuildToneEventPayloadMatchesWireSchema(t *testing.T) {
	def := core.ToneDefinition{ToneID: "fire-page", ToneAHz: 853, ToneBHz: 960}
	raw := buildToneEventPayload("device-1", def, 1_700_000_000_000)

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got["event_type"] != "new_tone_detected" {
		t.Fatalf("event_type = %v, want new_tone_detected", got["event_type"])
	}
	if got["device_id"] != "device-1" {
		t.Fatalf("device_id = %v, want device-1", got["device_id"])
	}
	if got["message_id"] != "tone_1700000000" {
		t.Fatalf("message_id = %v, want tone_1700000000", got["message_id"])
	}
	if got["timestamp"] != float64(1_700_000_000) {
		t.Fatalf("timestamp = %v, want 1700000000 (seconds, not ms)", got["timestamp"])
	}

	details, ok := got["tone_details"].(map[string]any)
	if !ok {
		t.Fatalf("tone_details = %v, want an object", got["tone_details"])
	}
	if details["tone_a"] != 853.0 || details["tone_b"] != 960.0 {
		t.Fatalf("tone_details = %+v, want tone_a=853 tone_b=960", details)
	}
	if _, present := details["frequency_hz"]; present {
		t.Fatalf("tone_details = %+v, a two-tone event must not carry frequency_hz", details)
	}
}

func TestBuildNewToneEventPayloadMatchesWireSchema(t *testing.T) {
	raw := buildNewToneEventPayload("device-1", 462.5, 3000, 15, 1_700_000_000_000)

	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got["event_type"] != "new_tone_detected" {
		t.Fatalf("event_type = %v, want new_tone_detected", got["event_type"])
	}

	details, ok := got["tone_details"].(map[string]any)
	if !ok {
		t.Fatalf("tone_details = %v, want an object", got["tone_details"])
	}
	if details["frequency_hz"] != 462.5 {
		t.Fatalf("tone_details.frequency_hz = %v, want 462.5", details["frequency_hz"])
	}
	if details["duration_ms"] != float64(3000) {
		t.Fatalf("tone_details.duration_ms = %v, want 3000", details["duration_ms"])
	}
	if details["range_hz"] != float64(15) {
		t.Fatalf("tone_details.range_hz = %v, want 15", details["range_hz"])
	}
	if _, present := details["tone_a"]; present {
		t.Fatalf("tone_details = %+v, a new-tone event must not carry tone_a", details)
	}
}

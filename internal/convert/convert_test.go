package convert

import (
	"testing"

	"github.com/moc-go/moc/internal/decoder"
)

func sp(ch int) decoder.SoundParams {
	return decoder.SoundParams{Format: decoder.FormatS16, Channels: ch, RateHz: 44100}
}

func TestConverterPassthroughWhenFormatsMatch(t *testing.T) {
	c := NewConverter(sp(2), sp(2))
	if c.Needed() {
		t.Fatalf("expected no conversion needed")
	}
	in := []byte{1, 2, 3, 4}
	out := c.Convert(in)
	if &out[0] != &in[0] {
		t.Fatalf("expected passthrough to return the same backing array")
	}
}

func TestConverterDownmixesStereoToMono(t *testing.T) {
	c := NewConverter(sp(2), sp(1))
	// Two stereo frames: (100, 200) and (-100, -200).
	in := s16ToBytes([]int16{100, 200, -100, -200})
	out := bytesToS16(c.Convert(in))
	if len(out) != 2 {
		t.Fatalf("expected 2 mono samples, got %d", len(out))
	}
	if out[0] != 150 || out[1] != -150 {
		t.Fatalf("unexpected downmix result: %v", out)
	}
}

func TestApplyVolumeSaturatesInsteadOfWrapping(t *testing.T) {
	samples := []int16{32000, -32000}
	applyVolume(samples, 2.0) // would overflow int16 range if not clamped
	if samples[0] != 32767 || samples[1] != -32768 {
		t.Fatalf("expected saturation, got %v", samples)
	}
}

func TestBestMatchingPrefersExactFormat(t *testing.T) {
	want := decoder.SoundParams{Format: decoder.FormatS16, Channels: 2, RateHz: 44100}
	got := BestMatching(want, []decoder.SampleFormat{decoder.FormatS32, decoder.FormatS16})
	if got.Format != decoder.FormatS16 {
		t.Fatalf("expected exact match preferred, got %v", got.Format)
	}
}

func TestBestMatchingFallsBackToHighestPrecision(t *testing.T) {
	want := decoder.SoundParams{Format: decoder.FormatS16, Channels: 2, RateHz: 44100}
	got := BestMatching(want, []decoder.SampleFormat{decoder.FormatU8, decoder.FormatS32})
	if got.Format != decoder.FormatS32 {
		t.Fatalf("expected highest precision fallback, got %v", got.Format)
	}
}

// Package convert implements the format-conversion stage between a
// decoder's output and the sound card's accepted format (spec.md C6):
// picking the device's best-matching format, downmixing/upmixing
// channel counts, and applying software volume. Resampling is a
// passthrough marker only — spec.md's Non-goals exclude an actual
// resampler, so mismatched rates are reported rather than silently
// corrected.
package convert

import (
	"math"

	"github.com/moc-go/moc/internal/decoder"
)

// BestMatching picks the SoundParams the device should be opened with
// for a given decoder output, preferring an exact match and otherwise
// the highest-precision format the device advertises (spec.md's
// sfmt_best_matching policy: prefer no conversion, then prefer not
// losing precision).
func BestMatching(want decoder.SoundParams, supported []decoder.SampleFormat) decoder.SoundParams {
	for _, f := range supported {
		if f == want.Format {
			return want
		}
	}
	best := want.Format
	bestBytes := 0
	for _, f := range supported {
		if bytes := f.BytesPerSample(); bytes > bestBytes {
			bestBytes = bytes
			best = f
		}
	}
	out := want
	out.Format = best
	return out
}

// Converter reshapes PCM frames from src to dst, clamping on overflow
// instead of wrapping (spec.md's "software volume must not introduce
// clipping artifacts beyond saturation" property).
type Converter struct {
	src, dst decoder.SoundParams
	volume   float64 // 0.0-1.0, software volume when mixer is unavailable
}

func NewConverter(src, dst decoder.SoundParams) *Converter {
	return &Converter{src: src, dst: dst, volume: 1.0}
}

func (c *Converter) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.volume = v
}

// Needed reports whether in must be transformed at all (same format,
// channels, rate, and volume 1.0 means a straight passthrough).
func (c *Converter) Needed() bool {
	return !c.src.Equal(c.dst) || c.volume != 1.0
}

// Convert reshapes in (assumed S16LE, the common decoder output shape)
// according to dst channel count and applies software volume. Rate
// conversion is NOT performed: spec.md's resample stage is a
// passthrough marker, so RateHz mismatches are the caller's concern
// (they must reopen the device at src.RateHz instead).
func (c *Converter) Convert(in []byte) []byte {
	if !c.Needed() {
		return in
	}
	samples := bytesToS16(in)
	samples = remixChannels(samples, c.src.Channels, c.dst.Channels)
	if c.volume != 1.0 {
		applyVolume(samples, c.volume)
	}
	return s16ToBytes(samples)
}

func bytesToS16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}

func s16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// remixChannels downmixes stereo->mono by averaging, or upmixes
// mono->stereo by duplication; other channel counts pass through
// untouched (spec.md only requires handling the common 1/2 case).
func remixChannels(samples []int16, srcCh, dstCh int) []int16 {
	if srcCh == dstCh || srcCh == 0 || dstCh == 0 {
		return samples
	}
	if srcCh == 2 && dstCh == 1 {
		out := make([]int16, len(samples)/2)
		for i := range out {
			l := int32(samples[2*i])
			r := int32(samples[2*i+1])
			out[i] = int16(clampInt32((l + r) / 2))
		}
		return out
	}
	if srcCh == 1 && dstCh == 2 {
		out := make([]int16, len(samples)*2)
		for i, v := range samples {
			out[2*i] = v
			out[2*i+1] = v
		}
		return out
	}
	return samples
}

// applyVolume scales samples in place, clamping (saturating) rather
// than wrapping on overflow.
func applyVolume(samples []int16, volume float64) {
	for i, v := range samples {
		scaled := float64(v) * volume
		samples[i] = int16(clampFloat(scaled, math.MinInt16, math.MaxInt16))
	}
}

func clampInt32(v int32) int32 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}

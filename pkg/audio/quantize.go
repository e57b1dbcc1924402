package audio

import "math"

// float32Epsilon is the relative rounding error of a float32 value.
const float32Epsilon = 1.0 / (1 << 23)

// Quantize converts a normalised sample to 16-bit. The value is clamped to
// [-1, 1], scaled by [MaxInt16] and truncated toward zero. NaN maps to 0.
//
// Products that lie within float32 rounding error of an integer snap to that
// integer before truncation, which makes Quantize an exact inverse of
// [ToFloat] for every sample in [-MaxInt16, MaxInt16].
func Quantize(v float32) int16 {
	x := float64(v)
	switch {
	case math.IsNaN(x):
		return 0
	case x > 1:
		x = 1
	case x < -1:
		x = -1
	}
	x *= MaxInt16
	if r := math.Round(x); math.Abs(x-r) <= math.Abs(r)*float32Epsilon {
		return int16(r)
	}
	return int16(x)
}

// QuantizeBuffer applies [Quantize] to every sample of in.
func QuantizeBuffer(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		out[i] = Quantize(v)
	}
	return out
}

// ToFloat converts 16-bit samples to normalised floats for playback devices.
// Each output sample is the input divided by [MaxInt16]; the length is
// preserved. -32768 maps just below -1 and is the one value [Quantize] cannot
// restore (it clamps to -32767).
func ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / MaxInt16
	}
	return out
}

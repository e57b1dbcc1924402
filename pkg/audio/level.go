package audio

import "math"

// RMS returns the root-mean-square level of samples, each normalised by
// [MaxInt16]. The result is in [0, 1]; an empty buffer yields exactly 0.
//
// RMS only measures. Whether a chunk is transmitted is the caller's decision,
// and the gate applies to push-to-talk capture only: in continuous capture the
// remote model runs its own voice-activity detection and no audio may be
// dropped.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / MaxInt16
		sum += v * v
	}
	level := math.Sqrt(sum / float64(len(samples)))
	// -32768 normalises to slightly below -1.
	return min(level, 1)
}

// IsSilent reports whether level is below [SilenceThreshold].
func IsSilent(level float64) bool {
	return level < SilenceThreshold
}

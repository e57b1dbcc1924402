package audio

// Resample converts normalised capture samples at sourceRate to 16-bit
// samples at [InputSampleRate]. See [ResampleTo].
func Resample(in []float32, sourceRate int) []int16 {
	return ResampleTo(in, sourceRate, InputSampleRate)
}

// ResampleTo converts normalised samples from srcRate to dstRate and
// quantizes the result with [Quantize].
//
// When the rates match, every sample is quantized 1:1. Otherwise the output
// has round(len(in) * dstRate / srcRate) samples, and output sample i is the
// mean of the source window [b(i), b(i+1)) where b(k) = round(k * srcRate /
// dstRate). The window mean acts as a crude anti-aliasing low-pass filter
// when downsampling from 44.1/48 kHz capture.
//
// Window boundaries are derived from the output index with integer arithmetic
// on every iteration, so long buffers do not drift. A window that falls past
// the end of the input yields 0. When upsampling, interior windows can be
// empty; those hold the source sample at b(i).
//
// Non-positive rates yield nil.
func ResampleTo(in []float32, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 {
		return nil
	}
	if srcRate == dstRate {
		return QuantizeBuffer(in)
	}

	src, dst := int64(srcRate), int64(dstRate)
	n := int64(len(in))
	out := make([]int16, resampledLen(n, src, dst))

	start := boundary(0, src, dst)
	for i := range out {
		end := min(boundary(int64(i)+1, src, dst), n)
		switch {
		case start < end:
			var sum float64
			for _, v := range in[start:end] {
				sum += float64(v)
			}
			out[i] = Quantize(float32(sum / float64(end-start)))
		case start < n:
			out[i] = Quantize(in[start])
		default:
			out[i] = 0
		}
		start = end
	}
	return out
}

// resampledLen returns round(n * dst / src), rounding halves up.
func resampledLen(n, src, dst int64) int64 {
	return (2*n*dst + src) / (2 * src)
}

// boundary returns round(k * src / dst), the first source index of output
// window k, rounding halves up.
func boundary(k, src, dst int64) int64 {
	return (2*k*src + dst) / (2 * dst)
}

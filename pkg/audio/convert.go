package audio

import (
	"log/slog"
	"sync"
)

// PlaybackConverter adapts inbound model frames to the rate of a local
// playback device. It logs a warning on the first rate mismatch and drops
// frames whose payload is not whole 16-bit samples.
// Create one per stream; not designed for shared use across goroutines.
type PlaybackConverter struct {
	// Target is the device sample rate. Zero keeps the negotiated model rate.
	Target         int
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a frame to the target rate. If the frame already matches,
// it is returned unchanged (zero allocation).
func (c *PlaybackConverter) Convert(frame AudioFrame) AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("playback converter: odd byte count in PCM data, dropping frame",
				"bytes", len(frame.Data),
				"sampleRate", frame.SampleRate,
			)
		})
		return AudioFrame{
			SampleRate: c.rate(frame),
			Timestamp:  frame.Timestamp,
		}
	}

	target := c.rate(frame)
	if frame.SampleRate == target {
		return frame
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("playback rate mismatch: resampling",
			"from", frame.SampleRate,
			"to", target,
		)
	})

	return AudioFrame{
		Data:       ResampleMono16(frame.Data, frame.SampleRate, target),
		SampleRate: target,
		Timestamp:  frame.Timestamp,
	}
}

func (c *PlaybackConverter) rate(frame AudioFrame) int {
	if c.Target <= 0 {
		return frame.SampleRate
	}
	return c.Target
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate or either rate is not positive, the input is returned unchanged.
//
// It serves the playback side, where upsampling the model's 24 kHz reply to a
// 44.1/48 kHz device is the common case. Outbound audio uses [Resample].
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

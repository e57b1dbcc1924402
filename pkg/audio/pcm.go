// Package audio implements the transcoding pipeline between a local audio
// subsystem and a cloud speech model.
//
// The pipeline is a set of pure, stateless functions chained by the caller:
//
//   - Outbound (microphone → model): [RMS] gates push-to-talk chunks,
//     [Resample] converts native-rate float capture to 16 kHz int16, and
//     [EncodeFrame] turns the little-endian bytes into a text-safe frame.
//   - Inbound (model → speaker): [DecodeFrame] restores the bytes,
//     [ParseRate] reads the rate from the frame's MIME type and [ToFloat]
//     produces normalised samples for playback.
//
// Every function operates only on its arguments and returns a freshly
// allocated buffer, so all of them are safe for concurrent use.
//
// Audio is always uncompressed 16-bit signed mono PCM.
package audio

import (
	"encoding/binary"
	"strconv"
)

const (
	// InputSampleRate is the sample rate the remote model expects on its input.
	InputSampleRate = 16000

	// OutputSampleRate is the rate the remote model replies at when the reply
	// carries no usable rate hint.
	OutputSampleRate = 24000

	// ChunkSamples is the number of samples sent per outbound frame
	// (100 ms at [InputSampleRate]).
	ChunkSamples = 1600

	// SilenceThreshold is the normalised RMS level (about -40 dB) below which
	// a push-to-talk chunk counts as silence.
	SilenceThreshold = 0.01

	// MaxInt16 is the scale factor between normalised float samples and
	// 16-bit integer samples.
	MaxInt16 = 32767
)

// Int16ToBytes returns the little-endian byte representation of samples.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 reinterprets little-endian bytes as 16-bit samples. A trailing
// odd byte is ignored; callers that must reject it check the length first.
func BytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// MIMEType returns the content-type descriptor for mono s16le PCM at rate,
// e.g. "audio/pcm;rate=16000".
func MIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

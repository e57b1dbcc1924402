package audio

import "time"

// AudioFrame is a chunk of mono, little-endian 16-bit PCM flowing through the
// pipeline.
type AudioFrame struct {
	// Data holds the PCM bytes (2 bytes per sample).
	Data []byte

	// SampleRate in Hz (16000 towards the model, 24000 by default from it).
	SampleRate int

	// Timestamp marks the frame's position relative to stream start.
	Timestamp time.Duration
}

// Samples returns the number of whole samples in the frame.
func (f AudioFrame) Samples() int { return len(f.Data) / 2 }

// Duration returns the playback duration of the frame. Zero if the sample
// rate is unknown.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// EncodedFrame is the text-safe wire form of an [AudioFrame] as exchanged with
// the speech model.
type EncodedFrame struct {
	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000". The rate
	// parameter is optional on inbound frames.
	MIMEType string

	// Data is the base64 transport encoding of the PCM bytes.
	Data string
}

package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrInvalidFrame is returned when a transport frame is not valid padded
// base64, or when its payload cannot be PCM16. A valid empty frame decodes
// to zero bytes without error.
var ErrInvalidFrame = errors.New("audio: invalid transport frame")

// EncodeFrame encodes raw bytes as a text-safe transport frame (standard,
// padded base64). The codec has no notion of audio; see [EncodeSamples].
func EncodeFrame(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeFrame is the exact inverse of [EncodeFrame]. Text containing
// characters outside the base64 alphabet, or with broken padding, yields an
// error wrapping [ErrInvalidFrame].
func DecodeFrame(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	return b, nil
}

// EncodeSamples encodes samples as little-endian bytes and then as a
// transport frame.
func EncodeSamples(samples []int16) string {
	return EncodeFrame(Int16ToBytes(samples))
}

// DecodeSamples decodes a transport frame produced by [EncodeSamples].
func DecodeSamples(s string) ([]int16, error) {
	b, err := DecodeFrame(s)
	if err != nil {
		return nil, err
	}
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d for 16-bit PCM", ErrInvalidFrame, len(b))
	}
	return BytesToInt16(b), nil
}

// EncodeAudioFrame turns a PCM frame into its wire form, tagging it with the
// frame's sample rate.
func EncodeAudioFrame(f AudioFrame) EncodedFrame {
	return EncodedFrame{
		MIMEType: MIMEType(f.SampleRate),
		Data:     EncodeFrame(f.Data),
	}
}

// DecodeAudioFrame restores a PCM frame from its wire form. The sample rate
// is negotiated from the MIME type with [ParseRate].
func DecodeAudioFrame(f EncodedFrame) (AudioFrame, error) {
	b, err := DecodeFrame(f.Data)
	if err != nil {
		return AudioFrame{}, err
	}
	if len(b)%2 != 0 {
		return AudioFrame{}, fmt.Errorf("%w: odd byte count %d for 16-bit PCM", ErrInvalidFrame, len(b))
	}
	return AudioFrame{
		Data:       b,
		SampleRate: ParseRate(f.MIMEType),
	}, nil
}

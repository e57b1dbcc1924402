// Package wav reads and writes mono 16-bit PCM WAV files. The CLI uses WAV
// files in place of capture and playback devices.
package wav

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	formatPCM     = 1
	bitsPerSample = 16
	streamingSize = 0xFFFFFFFF
	maxFmtSize    = 64
)

// ErrUnsupported is returned for WAV files that are not mono 16-bit PCM.
var ErrUnsupported = errors.New("wav: unsupported format")

// Read decodes a mono 16-bit PCM WAV stream and returns its samples and
// sample rate. Chunks other than "fmt " and "data" are skipped.
func Read(r io.Reader) ([]int16, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("wav: read header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, errors.New("wav: missing RIFF/WAVE header")
	}

	var (
		rate   int
		hasFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, 0, fmt.Errorf("wav: read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 || size > maxFmtSize {
				return nil, 0, fmt.Errorf("wav: bad fmt chunk size (%d bytes)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels := binary.LittleEndian.Uint16(body[2:4])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != formatPCM || channels != 1 || bits != bitsPerSample {
				return nil, 0, fmt.Errorf("%w: format=%d channels=%d bits=%d", ErrUnsupported, format, channels, bits)
			}
			rate = int(binary.LittleEndian.Uint32(body[4:8]))
			hasFmt = true
			if size%2 == 1 {
				if _, err := io.CopyN(io.Discard, r, 1); err != nil {
					return nil, 0, fmt.Errorf("wav: read fmt padding: %w", err)
				}
			}

		case "data":
			if !hasFmt {
				return nil, 0, errors.New("wav: data chunk before fmt chunk")
			}
			// Streaming writers leave the size at its maximum; a short
			// body is read to EOF either way.
			var body io.Reader = r
			if size != streamingSize {
				body = io.LimitReader(r, int64(size))
			}
			raw, err := io.ReadAll(body)
			if err != nil {
				return nil, 0, fmt.Errorf("wav: read samples: %w", err)
			}
			samples := make([]int16, len(raw)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
			}
			return samples, rate, nil

		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, 0, fmt.Errorf("wav: skip %q chunk: %w", id, err)
			}
		}
	}
}

// Write encodes samples as a mono 16-bit PCM WAV stream at sampleRate.
func Write(w io.Writer, samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("wav: sample rate must be positive, got %d", sampleRate)
	}
	dataSize := uint32(len(samples) * 2)
	blockAlign := uint16(bitsPerSample / 8)

	bw := bufio.NewWriter(w)
	hdr := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		36 + dataSize,
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(formatPCM),
		uint16(1),
		uint32(sampleRate),
		uint32(sampleRate) * uint32(blockAlign),
		blockAlign,
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, v := range hdr {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("wav: write header: %w", err)
		}
	}
	if err := binary.Write(bw, binary.LittleEndian, samples); err != nil {
		return fmt.Errorf("wav: write samples: %w", err)
	}
	return bw.Flush()
}

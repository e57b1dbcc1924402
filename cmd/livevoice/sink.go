package main

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/knearme/livevoice/pkg/audio"
	"github.com/knearme/livevoice/pkg/audio/wav"
)

// fileSink is a [voice.Player] that records everything played into a WAV
// file. rate fixes the file rate; zero adopts the rate of the first frame
// and resamples later frames that differ.
type fileSink struct {
	mu      sync.Mutex
	rate    int
	samples []int16
}

func (s *fileSink) Play(samples []float32, rate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rate == 0 {
		s.rate = rate
	}
	if rate == s.rate {
		s.samples = append(s.samples, audio.QuantizeBuffer(samples)...)
	} else {
		s.samples = append(s.samples, audio.ResampleTo(samples, rate, s.rate)...)
	}
	return nil
}

// WriteFile writes the recording to path. A sink that never played anything
// writes an empty file at the model's output rate.
func (s *fileSink) WriteFile(path string) (err error) {
	s.mu.Lock()
	samples, rate := s.samples, s.rate
	s.mu.Unlock()
	if rate == 0 {
		rate = audio.OutputSampleRate
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	return wav.Write(f, samples, rate)
}

// readCapture loads a WAV file as normalised samples.
func readCapture(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	samples, rate, err := wav.Read(f)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %q: %w", path, err)
	}
	return audio.ToFloat(samples), rate, nil
}

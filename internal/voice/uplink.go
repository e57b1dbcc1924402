// Package voice drives audio between the local audio subsystem and a live
// model session using the pure transcoding functions of package audio.
//
// An [Uplink] turns native-rate float capture into 16 kHz chunks of
// [audio.ChunkSamples] samples, gates silent chunks in push-to-talk mode and
// hands the encoded frames to the session. A [Downlink] decodes the model's
// frames, negotiates their rate and delivers normalised samples to a
// [Player].
//
// Both types are per-stream objects: one goroutine writes to an Uplink, one
// goroutine runs a Downlink. The Uplink setters used by config hot-reload
// are the exception and may be called from any goroutine.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/knearme/livevoice/internal/observe"
	"github.com/knearme/livevoice/pkg/audio"
)

// Mode selects how captured audio is gated.
type Mode string

const (
	// ModePushToTalk sends audio only while the talk button is held. Silent
	// chunks are dropped and releasing the button ends the utterance.
	ModePushToTalk Mode = "push_to_talk"

	// ModeContinuous streams every chunk; the model detects speech itself.
	ModeContinuous Mode = "continuous"
)

// ParseMode returns the Mode named by s.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModePushToTalk, ModeContinuous:
		return m, nil
	}
	return "", fmt.Errorf("voice: unknown capture mode %q (want %q or %q)", s, ModePushToTalk, ModeContinuous)
}

// Sender is the outbound half of a model session.
type Sender interface {
	SendAudio(frame audio.EncodedFrame) error
	EndAudio() error
}

// ErrNoSender is returned when audio is written before a session is attached.
var ErrNoSender = errors.New("voice: no session attached")

// UplinkConfig configures an [Uplink].
type UplinkConfig struct {
	// CaptureRate is the native rate of the float samples passed to Write.
	CaptureRate int

	// ChunkSamples is the number of 16 kHz samples per frame. Defaults to
	// [audio.ChunkSamples].
	ChunkSamples int

	// Mode defaults to [ModePushToTalk].
	Mode Mode

	// Threshold is the RMS level below which a push-to-talk chunk is
	// dropped. Defaults to [audio.SilenceThreshold].
	Threshold float64

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Uplink converts captured audio into model frames.
//
// Capture is resampled in blocks of whole rate periods (for 48 kHz capture,
// every 3 input samples map to exactly 1 output sample), so feeding a
// stream through Write in arbitrary slices yields the same samples as
// resampling it in one piece.
type Uplink struct {
	captureRate int
	srcBlock    int
	chunk       int
	metrics     *observe.Metrics

	mu        sync.Mutex
	sender    Sender
	mode      Mode
	threshold float64
	capture   []float32
	pending   []int16
}

// NewUplink returns an Uplink sending to sender, which may be nil until
// [Uplink.SetSender] is called.
func NewUplink(sender Sender, cfg UplinkConfig) (*Uplink, error) {
	if cfg.CaptureRate <= 0 {
		return nil, fmt.Errorf("voice: capture rate must be positive, got %d", cfg.CaptureRate)
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = audio.ChunkSamples
	}
	if cfg.Mode == "" {
		cfg.Mode = ModePushToTalk
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = audio.SilenceThreshold
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	return &Uplink{
		captureRate: cfg.CaptureRate,
		srcBlock:    cfg.CaptureRate / gcd(cfg.CaptureRate, audio.InputSampleRate),
		chunk:       cfg.ChunkSamples,
		metrics:     cfg.Metrics,
		sender:      sender,
		mode:        cfg.Mode,
		threshold:   cfg.Threshold,
	}, nil
}

// SetSender attaches a new session, e.g. after a reconnect. Buffered audio
// is kept and goes to the new session.
func (u *Uplink) SetSender(s Sender) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sender = s
}

// SetMode switches the gating mode.
func (u *Uplink) SetMode(m Mode) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mode = m
}

// SetThreshold changes the push-to-talk silence threshold. Non-positive
// values restore [audio.SilenceThreshold].
func (u *Uplink) SetThreshold(level float64) {
	if level <= 0 {
		level = audio.SilenceThreshold
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.threshold = level
}

// Mode returns the current gating mode.
func (u *Uplink) Mode() Mode {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mode
}

// Write accepts normalised capture samples at the configured capture rate
// and sends every complete chunk. It returns the first send error; the
// failing chunk and everything after it stay buffered for the next call.
func (u *Uplink) Write(ctx context.Context, samples []float32) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	start := time.Now()
	u.capture = append(u.capture, samples...)
	whole := len(u.capture) - len(u.capture)%u.srcBlock
	if whole > 0 {
		u.pending = append(u.pending, audio.Resample(u.capture[:whole], u.captureRate)...)
		u.capture = append(u.capture[:0], u.capture[whole:]...)
	}
	u.metrics.RecordTranscode(ctx, observe.DirectionUplink, time.Since(start).Seconds())

	for len(u.pending) >= u.chunk {
		if err := u.sendChunk(ctx, u.pending[:u.chunk]); err != nil {
			return err
		}
		u.pending = append(u.pending[:0], u.pending[u.chunk:]...)
	}
	return nil
}

// End flushes buffered audio as a final, possibly short, chunk and marks the
// end of the utterance. In push-to-talk mode this is the button release.
func (u *Uplink) End(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.capture) > 0 {
		u.pending = append(u.pending, audio.Resample(u.capture, u.captureRate)...)
		u.capture = u.capture[:0]
	}
	if len(u.pending) > 0 {
		if err := u.sendChunk(ctx, u.pending); err != nil {
			return err
		}
		u.pending = u.pending[:0]
	}

	if u.sender == nil {
		return ErrNoSender
	}
	if err := u.sender.EndAudio(); err != nil {
		return fmt.Errorf("voice: end audio: %w", err)
	}
	return nil
}

// sendChunk gates and sends one chunk. Callers hold u.mu.
func (u *Uplink) sendChunk(ctx context.Context, chunk []int16) error {
	if u.mode == ModePushToTalk && audio.RMS(chunk) < u.threshold {
		u.metrics.RecordUplinkChunk(ctx, observe.OutcomeGated)
		return nil
	}
	if u.sender == nil {
		return ErrNoSender
	}

	frame := audio.EncodeAudioFrame(audio.AudioFrame{
		Data:       audio.Int16ToBytes(chunk),
		SampleRate: audio.InputSampleRate,
	})
	if err := u.sender.SendAudio(frame); err != nil {
		u.metrics.RecordUplinkChunk(ctx, observe.OutcomeError)
		return fmt.Errorf("voice: send audio: %w", err)
	}
	u.metrics.RecordUplinkChunk(ctx, observe.OutcomeSent)
	return nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

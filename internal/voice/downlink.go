package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/knearme/livevoice/internal/observe"
	"github.com/knearme/livevoice/pkg/audio"
)

// Player receives decoded model audio as normalised samples.
type Player interface {
	Play(samples []float32, sampleRate int) error
}

// PlayerFunc adapts a function to [Player].
type PlayerFunc func(samples []float32, sampleRate int) error

// Play calls f.
func (f PlayerFunc) Play(samples []float32, sampleRate int) error { return f(samples, sampleRate) }

// DownlinkConfig configures a [Downlink].
type DownlinkConfig struct {
	// PlaybackRate is the device rate. Zero plays at the rate each frame
	// negotiates.
	PlaybackRate int

	// OnError receives frames that failed to decode. Such frames are skipped,
	// never played as silence. May be nil.
	OnError func(error)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Downlink turns model frames into playback audio.
type Downlink struct {
	player  Player
	conv    *audio.PlaybackConverter
	onError func(error)
	metrics *observe.Metrics

	mu        sync.Mutex
	lastFrame time.Time
	played    time.Duration
}

// NewDownlink returns a Downlink delivering to player.
func NewDownlink(player Player, cfg DownlinkConfig) *Downlink {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Downlink{
		player:  player,
		conv:    &audio.PlaybackConverter{Target: cfg.PlaybackRate},
		onError: cfg.OnError,
		metrics: cfg.Metrics,
	}
}

// Process decodes one frame and plays it. A frame that is not valid base64
// PCM16 returns an error wrapping [audio.ErrInvalidFrame] and nothing is
// played.
func (d *Downlink) Process(ctx context.Context, f audio.EncodedFrame) error {
	start := time.Now()

	pcm, err := audio.DecodeAudioFrame(f)
	if err != nil {
		d.metrics.RecordDecodeError(ctx)
		d.metrics.RecordDownlinkFrame(ctx, "error")
		return fmt.Errorf("voice: decode model frame (%s): %w", f.MIMEType, err)
	}
	out := d.conv.Convert(pcm)
	samples := audio.ToFloat(audio.BytesToInt16(out.Data))
	d.metrics.RecordTranscode(ctx, observe.DirectionDownlink, time.Since(start).Seconds())

	d.mu.Lock()
	d.lastFrame = time.Now()
	d.played += pcm.Duration()
	d.mu.Unlock()

	if len(samples) == 0 {
		d.metrics.RecordDownlinkFrame(ctx, "ok")
		return nil
	}
	if err := d.player.Play(samples, out.SampleRate); err != nil {
		d.metrics.RecordDownlinkFrame(ctx, "error")
		return fmt.Errorf("voice: play: %w", err)
	}
	d.metrics.RecordDownlinkFrame(ctx, "ok")
	return nil
}

// Run processes frames until the channel closes or ctx is done. Decode
// failures are reported to OnError and skipped; a playback failure stops
// the loop, drains the channel in the background and is returned. A closed
// channel returns nil: the caller checks the session's Err to tell a clean
// end from a dropped connection.
func (d *Downlink) Run(ctx context.Context, frames <-chan audio.EncodedFrame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			err := d.Process(ctx, f)
			switch {
			case err == nil:
			case errors.Is(err, audio.ErrInvalidFrame):
				slog.Warn("dropping undecodable model frame", "mime_type", f.MIMEType, "err", err)
				if d.onError != nil {
					d.onError(err)
				}
			default:
				// Nobody reads frames after this; keep the session's
				// receive loop from blocking until it closes.
				go audio.Drain(frames)
				return err
			}
		}
	}
}

// Idle returns how long ago the last frame arrived, or zero if none has.
func (d *Downlink) Idle() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastFrame.IsZero() {
		return 0
	}
	return time.Since(d.lastFrame)
}

// Played returns the total duration of model audio received so far.
func (d *Downlink) Played() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.played
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/knearme/livevoice/internal/session"
	"github.com/knearme/livevoice/internal/voice"
	"github.com/knearme/livevoice/pkg/provider/s2s"
)

// maxSendRetries bounds how often one chunk is retried against a session
// that reports ready but keeps rejecting audio.
const maxSendRetries = 20

// pipeline ties a capture buffer, the uplink and downlink, and the model
// session together for one run.
type pipeline struct {
	capture     []float32
	captureRate int
	realtime    bool
	idle        time.Duration
	prompt      string

	uplink      *voice.Uplink
	downlink    *voice.Downlink
	sink        *fileSink
	reconnector *session.Reconnector

	captureEnded chan struct{}
	endedAt      time.Time

	// retryTick is the readiness polling interval; tests shorten it.
	retryTick time.Duration
}

// attach routes uplink audio to s and starts logging its transcripts. It is
// called for the initial session and after every reconnect.
func (p *pipeline) attach(s s2s.SessionHandle) {
	p.uplink.SetSender(s)
	s.OnError(func(err error) {
		slog.Warn("model session error", "err", err)
	})
	go logTranscripts(s.Transcripts())
}

func logTranscripts(ch <-chan s2s.Transcript) {
	for t := range ch {
		slog.Info("transcript", "role", t.Role, "text", t.Text)
	}
}

// streamCapture feeds the capture buffer to the uplink in 100 ms blocks and
// ends the utterance once the buffer is exhausted.
func (p *pipeline) streamCapture(ctx context.Context) error {
	if p.prompt != "" {
		if sess := p.reconnector.Session(); sess != nil {
			if err := sess.SendText(p.prompt); err != nil {
				return fmt.Errorf("send text turn: %w", err)
			}
		}
	}

	block := max(p.captureRate/10, 1)
	var tick <-chan time.Time
	if p.realtime {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		tick = t.C
	}

	for off := 0; off < len(p.capture); off += block {
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}
		end := min(off+block, len(p.capture))
		// A failed Write keeps its audio buffered; retries only flush it.
		err := p.uplink.Write(ctx, p.capture[off:end])
		if err := p.retry(ctx, err, func() error { return p.uplink.Write(ctx, nil) }); err != nil {
			return err
		}
	}

	finish := func() error { return p.uplink.End(ctx) }
	if err := p.retry(ctx, finish(), finish); err != nil {
		return err
	}
	p.endedAt = time.Now()
	close(p.captureEnded)
	slog.Info("capture finished", "samples", len(p.capture), "rate", p.captureRate)
	return nil
}

// retry calls send until it succeeds, starting from the result err of a
// first attempt and waiting for a usable session in between.
func (p *pipeline) retry(ctx context.Context, err error, send func() error) error {
	for attempt := 1; err != nil; attempt++ {
		if attempt > maxSendRetries {
			return fmt.Errorf("uplink: giving up after %d attempts: %w", maxSendRetries, err)
		}
		slog.Warn("uplink send failed; waiting for session", "attempt", attempt, "err", err)
		if werr := p.awaitReady(ctx); werr != nil {
			return errors.Join(err, werr)
		}
		err = send()
	}
	return nil
}

// awaitReady blocks until the reconnector reports a usable session.
func (p *pipeline) awaitReady(ctx context.Context) error {
	t := time.NewTicker(p.tick())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.reconnector.Exhausted():
			return session.ErrExhausted
		case <-t.C:
		}
		if p.reconnector.Ready(ctx) == nil {
			return nil
		}
	}
}

// runDownlink plays model audio from the current session. When the session's
// audio stream closes it asks for a reconnect and continues on the new one.
func (p *pipeline) runDownlink(ctx context.Context) error {
	for {
		sess := p.reconnector.Session()
		if sess == nil {
			return session.ErrNotConnected
		}
		if err := p.downlink.Run(ctx, sess.Audio()); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		slog.Warn("model audio stream ended; reconnecting", "err", sess.Err())
		p.reconnector.NotifyDisconnect()
		if err := p.awaitNewSession(ctx, sess); err != nil {
			return err
		}
	}
}

// awaitNewSession waits until the reconnector holds a ready session other
// than old.
func (p *pipeline) awaitNewSession(ctx context.Context, old s2s.SessionHandle) error {
	for {
		if err := p.awaitReady(ctx); err != nil {
			return err
		}
		if p.reconnector.Session() != old {
			return nil
		}
	}
}

// waitIdle cancels the run once capture has ended and the model has been
// quiet for p.idle.
func (p *pipeline) waitIdle(ctx context.Context, cancel context.CancelFunc) error {
	select {
	case <-ctx.Done():
		return nil
	case <-p.captureEnded:
	}

	t := time.NewTicker(p.tick())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		quiet := p.downlink.Idle()
		if time.Since(p.endedAt) >= p.idle && (quiet == 0 || quiet >= p.idle) {
			slog.Info("model idle; stopping", "idle", p.idle, "reply_duration", p.downlink.Played())
			cancel()
			return nil
		}
	}
}

func (p *pipeline) tick() time.Duration {
	if p.retryTick > 0 {
		return p.retryTick
	}
	return 100 * time.Millisecond
}

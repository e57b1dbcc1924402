// Package session keeps a speech-to-speech model session alive for the
// lifetime of the process.
//
// Model sessions end for ordinary reasons: the provider enforces a maximum
// session length, announces a goAway, or the WebSocket drops. A [Reconnector]
// owns the current [s2s.SessionHandle] and replaces it with exponential
// backoff when the pipeline reports that the session's audio stream ended.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/knearme/livevoice/internal/observe"
	"github.com/knearme/livevoice/pkg/provider/s2s"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Errors reported by [Reconnector.Ready].
var (
	ErrNotConnected = errors.New("session: not connected")
	ErrReconnecting = errors.New("session: reconnecting")
	ErrExhausted    = errors.New("session: reconnection attempts exhausted")
)

// Reconnector owns the live model session and re-establishes it on
// disconnection.
//
// Callers obtain the initial session via [Reconnector.Connect], then call
// [Reconnector.Monitor] to start a background goroutine that waits for
// disconnect notifications. When a drop is signalled (via
// [Reconnector.NotifyDisconnect]) the monitor reconnects with exponential
// backoff and invokes the configured OnReconnect callback on success. If all
// attempts fail, [Reconnector.Exhausted] is closed.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	provider     s2s.Provider
	providerName string
	sessionCfg   s2s.SessionConfig
	maxRetries   int
	backoff      time.Duration
	maxBackoff   time.Duration
	onReconnect  func(s2s.SessionHandle)
	metrics      *observe.Metrics

	mu           sync.Mutex
	sess         s2s.SessionHandle
	reconnecting bool
	done         chan struct{}
	stopOnce     sync.Once
	exhausted    chan struct{}
	exhaustOnce  sync.Once
	disconnected chan struct{} // signalled when a disconnect is detected
}

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Provider establishes model sessions.
	Provider s2s.Provider

	// ProviderName labels metrics and logs. Defaults to "s2s".
	ProviderName string

	// Session is the configuration passed to every Connect call.
	Session s2s.SessionConfig

	// MaxRetries is the maximum number of reconnection attempts before giving up.
	// Defaults to 10 if zero.
	MaxRetries int

	// Backoff is the initial backoff duration between retries. Doubles each
	// attempt up to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called after a successful reconnection with the new
	// session. May be nil.
	OnReconnect func(s2s.SessionHandle)

	// Metrics receives session and reconnect measurements. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	name := cfg.ProviderName
	if name == "" {
		name = "s2s"
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Reconnector{
		provider:     cfg.Provider,
		providerName: name,
		sessionCfg:   cfg.Session,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		metrics:      m,
		done:         make(chan struct{}),
		exhausted:    make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Connect establishes the initial model session.
func (r *Reconnector) Connect(ctx context.Context) (s2s.SessionHandle, error) {
	sess, err := r.dial(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("reconnector initial connect: %w", err)
	}

	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()

	return sess, nil
}

// dial opens one session inside a trace span and records provider metrics.
func (r *Reconnector) dial(ctx context.Context, attempt int) (sess s2s.SessionHandle, err error) {
	ctx, span := observe.StartSpan(ctx, "session.connect",
		trace.WithAttributes(
			attribute.String("provider", r.providerName),
			attribute.Int("attempt", attempt),
		),
	)
	defer func() { observe.EndSpan(span, err) }()

	sess, err = r.provider.Connect(ctx, r.sessionCfg)
	if err != nil {
		r.metrics.RecordProviderRequest(ctx, r.providerName, "s2s", "error")
		r.metrics.RecordProviderError(ctx, r.providerName, "s2s")
		return nil, err
	}
	r.metrics.RecordProviderRequest(ctx, r.providerName, "s2s", "ok")
	r.metrics.ActiveSessions.Add(ctx, 1)
	observe.Logger(ctx).Debug("session connected", "provider", r.providerName, "attempt", attempt)
	return sess, nil
}

// Monitor starts monitoring the session in a background goroutine.
func (r *Reconnector) Monitor(ctx context.Context) {
	go r.monitorLoop(ctx)
}

// NotifyDisconnect signals the monitor that the session has ended and a new
// one should be established. Only the first call per reconnection cycle has
// effect.
func (r *Reconnector) NotifyDisconnect() {
	r.mu.Lock()
	r.reconnecting = true
	r.mu.Unlock()

	select {
	case r.disconnected <- struct{}{}:
	default:
		// Already signalled; avoid blocking.
	}
}

// Stop halts monitoring and closes the current session. Safe to call
// multiple times.
func (r *Reconnector) Stop() error {
	r.stopOnce.Do(func() {
		close(r.done)
	})

	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()

	if sess != nil {
		r.metrics.ActiveSessions.Add(context.Background(), -1)
		return sess.Close()
	}
	return nil
}

// Session returns the current session. May return nil before Connect or
// after Stop.
func (r *Reconnector) Session() s2s.SessionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// Exhausted is closed when a reconnection cycle used up all retries.
func (r *Reconnector) Exhausted() <-chan struct{} {
	return r.exhausted
}

// Ready reports whether a usable session is in place. It serves as the
// "session" readiness check.
func (r *Reconnector) Ready(_ context.Context) error {
	select {
	case <-r.exhausted:
		return ErrExhausted
	default:
	}

	r.mu.Lock()
	sess, reconnecting := r.sess, r.reconnecting
	r.mu.Unlock()

	switch {
	case reconnecting:
		return ErrReconnecting
	case sess == nil:
		return ErrNotConnected
	}
	if err := sess.Err(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// monitorLoop waits for disconnect notifications and attempts reconnection.
func (r *Reconnector) monitorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			if !r.attemptReconnect(ctx) {
				return
			}
		}
	}
}

// attemptReconnect tries to reconnect with exponential backoff. It reports
// whether monitoring should continue.
func (r *Reconnector) attemptReconnect(ctx context.Context) bool {
	currentBackoff := r.backoff

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-r.done:
			return false
		default:
		}

		slog.Info("attempting reconnection",
			"provider", r.providerName,
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", currentBackoff,
		)

		sess, err := r.dial(ctx, attempt)
		if err == nil {
			r.metrics.RecordReconnect(ctx, "ok")

			r.mu.Lock()
			oldSess := r.sess
			r.sess = sess
			r.reconnecting = false
			r.mu.Unlock()

			// Close the old (failed) session to release its resources.
			if oldSess != nil {
				r.metrics.ActiveSessions.Add(ctx, -1)
				_ = oldSess.Close()
			}

			slog.Info("reconnection successful",
				"provider", r.providerName,
				"attempt", attempt,
			)

			if r.onReconnect != nil {
				r.onReconnect(sess)
			}
			return true
		}

		r.metrics.RecordReconnect(ctx, "error")
		slog.Warn("reconnection attempt failed",
			"provider", r.providerName,
			"attempt", attempt,
			"error", err,
		)

		// Wait before retrying.
		select {
		case <-ctx.Done():
			return false
		case <-r.done:
			return false
		case <-time.After(currentBackoff):
		}

		// Exponential backoff.
		currentBackoff = min(currentBackoff*2, r.maxBackoff)
	}

	slog.Error("reconnection failed after max retries",
		"provider", r.providerName,
		"max_retries", r.maxRetries,
	)
	r.exhaustOnce.Do(func() { close(r.exhausted) })
	return false
}

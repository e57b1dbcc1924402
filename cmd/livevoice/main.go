// Command livevoice streams a captured WAV file through a live speech model
// and records the spoken reply.
//
//	livevoice -config config.yaml -in capture.wav -out reply.wav
//
// While running it serves /metrics, /healthz and /readyz on the configured
// listen address, and hot-applies audio.mode and audio.silence_threshold
// edits to the config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knearme/livevoice/internal/config"
	"github.com/knearme/livevoice/internal/health"
	"github.com/knearme/livevoice/internal/observe"
	"github.com/knearme/livevoice/internal/session"
	"github.com/knearme/livevoice/internal/voice"
	"github.com/knearme/livevoice/pkg/provider/s2s"
	geminilive "github.com/knearme/livevoice/pkg/provider/s2s/gemini"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inPath := flag.String("in", "", "mono 16-bit WAV file to stream as microphone capture (required)")
	outPath := flag.String("out", "reply.wav", "where to write the model's spoken reply")
	prompt := flag.String("text", "", "optional text turn sent before the audio")
	realtime := flag.Bool("realtime", true, "pace capture at real time instead of as fast as possible")
	idle := flag.Duration("idle", 3*time.Second, "stop after the model has been silent this long once capture ended")
	flag.Parse()

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "livevoice: -in is required")
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "livevoice: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "livevoice: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("livevoice starting",
		"version", version,
		"config", *configPath,
		"provider", cfg.Provider.Name,
		"mode", cfg.Audio.Mode,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "livevoice",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	provider, err := reg.Create(cfg.Provider)
	if err != nil {
		slog.Error("failed to build provider", "err", err, "registered", reg.Names())
		return 1
	}
	caps := provider.Capabilities()
	slog.Info("provider created",
		"name", cfg.Provider.Name,
		"input_rate", caps.InputSampleRate,
		"output_rate", caps.OutputSampleRate,
		"max_session", caps.MaxSessionDuration,
	)

	// ── Capture device ────────────────────────────────────────────────────────
	capture, captureRate, err := readCapture(*inPath)
	if err != nil {
		slog.Error("failed to read capture", "path", *inPath, "err", err)
		return 1
	}
	if captureRate != cfg.Audio.CaptureRate {
		slog.Warn("capture file rate differs from audio.capture_rate; using the file's rate",
			"file_rate", captureRate, "configured", cfg.Audio.CaptureRate)
	}

	p := &pipeline{
		capture:      capture,
		captureRate:  captureRate,
		realtime:     *realtime,
		idle:         *idle,
		prompt:       *prompt,
		sink:         &fileSink{rate: cfg.Audio.PlaybackRate},
		captureEnded: make(chan struct{}),
	}

	p.uplink, err = voice.NewUplink(nil, voice.UplinkConfig{
		CaptureRate:  captureRate,
		ChunkSamples: cfg.Audio.ChunkSamples,
		Mode:         cfg.Audio.Mode,
		Threshold:    cfg.Audio.SilenceThreshold,
		Metrics:      metrics,
	})
	if err != nil {
		slog.Error("invalid audio configuration", "err", err)
		return 1
	}
	p.downlink = voice.NewDownlink(p.sink, voice.DownlinkConfig{
		PlaybackRate: cfg.Audio.PlaybackRate,
		Metrics:      metrics,
		OnError: func(err error) {
			slog.Debug("model frame skipped", "err", err)
		},
	})

	// ── Session ───────────────────────────────────────────────────────────────
	p.reconnector = session.NewReconnector(session.ReconnectorConfig{
		Provider:     provider,
		ProviderName: cfg.Provider.Name,
		Session: s2s.SessionConfig{
			Voice:          cfg.Session.Voice,
			Instructions:   cfg.Session.Instructions,
			ManualActivity: cfg.Audio.Mode == voice.ModePushToTalk,
		},
		MaxRetries:  cfg.Session.Reconnect.MaxRetries,
		Backoff:     cfg.Session.Reconnect.Backoff,
		MaxBackoff:  cfg.Session.Reconnect.MaxBackoff,
		Metrics:     metrics,
		OnReconnect: p.attach,
	})
	sess, err := p.reconnector.Connect(ctx)
	if err != nil {
		slog.Error("failed to open model session", "err", err)
		return 1
	}
	p.attach(sess)
	defer func() {
		if err := p.reconnector.Stop(); err != nil {
			slog.Debug("session close", "err", err)
		}
	}()

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		if d.ModeChanged {
			p.uplink.SetMode(d.NewMode)
			slog.Info("capture mode changed", "mode", d.NewMode)
		}
		if d.ThresholdChanged {
			p.uplink.SetThreshold(d.NewThreshold)
			slog.Info("silence threshold changed", "threshold", d.NewThreshold)
		}
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
		}
		if len(d.Restart) > 0 {
			slog.Warn("config keys changed that apply on next start", "keys", d.Restart)
		}
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	p.reconnector.Monitor(runCtx)

	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Server.ListenAddr != "-" {
		srv := newServer(cfg.Server.ListenAddr, metrics, telemetry.Handler(), p.reconnector)
		g.Go(func() error {
			slog.Info("observability server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return p.streamCapture(gctx) })
	g.Go(func() error { return p.runDownlink(gctx) })
	g.Go(func() error { return p.waitIdle(gctx, cancelRun) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		if werr := p.sink.WriteFile(*outPath); werr != nil {
			slog.Error("failed to write partial reply", "path", *outPath, "err", werr)
		}
		return 1
	}

	if err := p.sink.WriteFile(*outPath); err != nil {
		slog.Error("failed to write reply", "path", *outPath, "err", err)
		return 1
	}
	slog.Info("done",
		"reply", *outPath,
		"reply_duration", p.downlink.Played(),
		"interrupted", ctx.Err() != nil,
	)
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// livevoice into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.Register("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		if entry.APIKey == "" {
			if key := os.Getenv("GEMINI_API_KEY"); key != "" {
				entry.APIKey = key
			}
		}
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "kind", "s2s", "name", name)
	}
}

// ── HTTP ──────────────────────────────────────────────────────────────────────

func newServer(addr string, m *observe.Metrics, scrape http.Handler, r *session.Reconnector) *http.Server {
	mux := http.NewServeMux()
	health.New(health.Checker{Name: "session", Check: r.Ready}).Register(mux)
	mux.Handle("GET /metrics", scrape)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

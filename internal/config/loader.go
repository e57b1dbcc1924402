package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/knearme/livevoice/internal/voice"
	"github.com/knearme/livevoice/pkg/audio"
)

// ValidProviderNames lists the provider names shipped with livevoice.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini-live"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else {
		validateProviderName(cfg.Provider.Name)
	}
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty; the provider will reject the session unless the endpoint needs no key",
			"provider", cfg.Provider.Name)
	}

	// Audio
	if cfg.Audio.CaptureRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d must be positive", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d must not be negative", cfg.Audio.PlaybackRate))
	}
	if cfg.Audio.Mode != "" {
		if _, err := voice.ParseMode(string(cfg.Audio.Mode)); err != nil {
			errs = append(errs, fmt.Errorf("audio.mode %q is invalid; valid values: %s, %s", cfg.Audio.Mode, voice.ModePushToTalk, voice.ModeContinuous))
		}
	}
	if cfg.Audio.SilenceThreshold < 0 || cfg.Audio.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold %.4f is out of range [0, 1]", cfg.Audio.SilenceThreshold))
	}
	if cfg.Audio.ChunkSamples < 0 || cfg.Audio.ChunkSamples > audio.InputSampleRate {
		errs = append(errs, fmt.Errorf("audio.chunk_samples %d is out of range [1, %d]", cfg.Audio.ChunkSamples, audio.InputSampleRate))
	}
	if cfg.Audio.ChunkSamples > 0 && cfg.Audio.ChunkSamples != audio.ChunkSamples {
		slog.Warn("audio.chunk_samples differs from the 100 ms default; latency and request rate change accordingly",
			"chunk_samples", cfg.Audio.ChunkSamples)
	}

	// Session
	r := cfg.Session.Reconnect
	if r.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("session.reconnect.max_retries %d must not be negative", r.MaxRetries))
	}
	if r.Backoff < 0 || r.MaxBackoff < 0 {
		errs = append(errs, errors.New("session.reconnect backoff durations must not be negative"))
	}
	if r.Backoff > 0 && r.MaxBackoff > 0 && r.Backoff > r.MaxBackoff {
		errs = append(errs, fmt.Errorf("session.reconnect.backoff %v exceeds max_backoff %v", r.Backoff, r.MaxBackoff))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is not in [ValidProviderNames].
func validateProviderName(name string) {
	if slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}

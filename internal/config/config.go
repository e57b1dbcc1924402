// Package config provides the configuration schema, loader, provider registry
// and file watcher for livevoice.
package config

import (
	"time"

	"github.com/knearme/livevoice/internal/voice"
	"github.com/knearme/livevoice/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults] to fields left empty.
const (
	DefaultListenAddr    = ":9090"
	DefaultProvider      = "gemini-live"
	DefaultCaptureRate   = 48000
	DefaultVoice         = "Puck"
	DefaultMaxRetries    = 10
	DefaultBackoff       = time.Second
	DefaultMaxBackoff    = 30 * time.Second
	DefaultWatchInterval = 5 * time.Second
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Provider ProviderEntry `yaml:"provider"`
	Audio    AudioConfig   `yaml:"audio"`
	Session  SessionConfig `yaml:"session"`
}

// ServerConfig holds the observability listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090"). Set to "-" to disable the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry selects and configures the speech-to-speech model provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// AudioConfig describes the local audio devices and capture gating.
type AudioConfig struct {
	// CaptureRate is the native sample rate of the capture device or file.
	CaptureRate int `yaml:"capture_rate"`

	// PlaybackRate is the device playback rate. 0 plays at the rate the
	// model sends.
	PlaybackRate int `yaml:"playback_rate"`

	// Mode is push_to_talk or continuous. Hot-reloadable.
	Mode voice.Mode `yaml:"mode"`

	// SilenceThreshold is the RMS level below which push-to-talk chunks are
	// dropped. Hot-reloadable.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// ChunkSamples is the number of 16 kHz samples per outbound frame.
	ChunkSamples int `yaml:"chunk_samples"`
}

// SessionConfig configures the live model session.
type SessionConfig struct {
	Voice        string          `yaml:"voice"`
	Instructions string          `yaml:"instructions"`
	Reconnect    ReconnectConfig `yaml:"reconnect"`
}

// ReconnectConfig bounds automatic session recovery.
type ReconnectConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// ApplyDefaults fills empty fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Provider.Name == "" {
		c.Provider.Name = DefaultProvider
	}
	if c.Audio.CaptureRate == 0 {
		c.Audio.CaptureRate = DefaultCaptureRate
	}
	if c.Audio.Mode == "" {
		c.Audio.Mode = voice.ModePushToTalk
	}
	if c.Audio.SilenceThreshold == 0 {
		c.Audio.SilenceThreshold = audio.SilenceThreshold
	}
	if c.Audio.ChunkSamples == 0 {
		c.Audio.ChunkSamples = audio.ChunkSamples
	}
	if c.Session.Voice == "" {
		c.Session.Voice = DefaultVoice
	}
	r := &c.Session.Reconnect
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.Backoff == 0 {
		r.Backoff = DefaultBackoff
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = DefaultMaxBackoff
	}
}

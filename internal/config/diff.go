package config

import "github.com/knearme/livevoice/internal/voice"

// ConfigDiff describes what changed between two configs.
// Mode, threshold and log level apply to a running pipeline; every other
// changed key is listed in Restart.
type ConfigDiff struct {
	ModeChanged bool
	NewMode     voice.Mode

	ThresholdChanged bool
	NewThreshold     float64

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Restart names changed keys that only take effect on the next start.
	Restart []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.ModeChanged && !d.ThresholdChanged && !d.LogLevelChanged && len(d.Restart) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Audio.Mode != new.Audio.Mode {
		d.ModeChanged = true
		d.NewMode = new.Audio.Mode
	}
	if old.Audio.SilenceThreshold != new.Audio.SilenceThreshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Audio.SilenceThreshold
	}
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := []struct {
		key     string
		changed bool
	}{
		{"server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr},
		{"provider.name", old.Provider.Name != new.Provider.Name},
		{"provider.api_key", old.Provider.APIKey != new.Provider.APIKey},
		{"provider.base_url", old.Provider.BaseURL != new.Provider.BaseURL},
		{"provider.model", old.Provider.Model != new.Provider.Model},
		{"audio.capture_rate", old.Audio.CaptureRate != new.Audio.CaptureRate},
		{"audio.playback_rate", old.Audio.PlaybackRate != new.Audio.PlaybackRate},
		{"audio.chunk_samples", old.Audio.ChunkSamples != new.Audio.ChunkSamples},
		{"session.voice", old.Session.Voice != new.Session.Voice},
		{"session.instructions", old.Session.Instructions != new.Session.Instructions},
		{"session.reconnect", old.Session.Reconnect != new.Session.Reconnect},
	}
	for _, r := range restart {
		if r.changed {
			d.Restart = append(d.Restart, r.key)
		}
	}

	return d
}

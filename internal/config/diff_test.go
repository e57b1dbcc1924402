package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/knearme/livevoice/internal/config"
	"github.com/knearme/livevoice/internal/voice"
)

func loadSample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := loadSample(t)
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Errorf("expected empty diff for identical configs, got %+v", d)
	}
}

func TestDiff_HotFields(t *testing.T) {
	t.Parallel()
	old := loadSample(t)
	new := loadSample(t)
	new.Audio.Mode = voice.ModePushToTalk
	new.Audio.SilenceThreshold = 0.05
	new.Server.LogLevel = config.LogWarn

	d := config.Diff(old, new)
	if !d.ModeChanged || d.NewMode != voice.ModePushToTalk {
		t.Errorf("mode: changed=%v new=%q", d.ModeChanged, d.NewMode)
	}
	if !d.ThresholdChanged || d.NewThreshold != 0.05 {
		t.Errorf("threshold: changed=%v new=%v", d.ThresholdChanged, d.NewThreshold)
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level: changed=%v new=%q", d.LogLevelChanged, d.NewLogLevel)
	}
	if len(d.Restart) != 0 {
		t.Errorf("expected no restart keys, got %v", d.Restart)
	}
}

func TestDiff_RestartFields(t *testing.T) {
	t.Parallel()
	old := loadSample(t)
	new := loadSample(t)
	new.Audio.CaptureRate = 16000
	new.Session.Voice = "Puck"
	new.Session.Reconnect.MaxRetries = 1

	d := config.Diff(old, new)
	if d.ModeChanged || d.ThresholdChanged {
		t.Errorf("unexpected hot changes: %+v", d)
	}
	for _, key := range []string{"audio.capture_rate", "session.voice", "session.reconnect"} {
		if !slices.Contains(d.Restart, key) {
			t.Errorf("Restart = %v, missing %q", d.Restart, key)
		}
	}
	if d.Empty() {
		t.Error("Empty() = true for a changed config")
	}
}

package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogInfo},
		Endpoint: config.EndpointConfig{URL: "ws://localhost/ws", Sentinel: "EOS"},
		Identity: config.IdentityConfig{Username: "ada", Language: "en"},
		Conversation: config.ConversationConfig{
			SilenceWindow:   1500 * time.Millisecond,
			ResponseTimeout: 15 * time.Second,
		},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.Any() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   config.ConfigDiff
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			want:   config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogDebug},
		},
		{
			name:   "silence window",
			mutate: func(c *config.Config) { c.Conversation.SilenceWindow = time.Second },
			want:   config.ConfigDiff{TuningChanged: true},
		},
		{
			name:   "playback delay",
			mutate: func(c *config.Config) { c.Conversation.PlaybackDelay = 80 * time.Millisecond },
			want:   config.ConfigDiff{TuningChanged: true},
		},
		{
			name:   "hands free",
			mutate: func(c *config.Config) { c.Conversation.HandsFree = true },
			want:   config.ConfigDiff{TuningChanged: true},
		},
		{
			name:   "endpoint url",
			mutate: func(c *config.Config) { c.Endpoint.URL = "wss://other/ws" },
			want:   config.ConfigDiff{EndpointChanged: true},
		},
		{
			name:   "breaker",
			mutate: func(c *config.Config) { c.Endpoint.Breaker.MaxFailures = 9 },
			want:   config.ConfigDiff{EndpointChanged: true},
		},
		{
			name:   "persona",
			mutate: func(c *config.Config) { c.Identity.Persona = "pirate" },
			want:   config.ConfigDiff{IdentityChanged: true},
		},
		{
			name:   "audio device is not tracked",
			mutate: func(c *config.Config) { c.Audio.InputDevice = "USB Mic" },
			want:   config.ConfigDiff{},
		},
		{
			name: "several",
			mutate: func(c *config.Config) {
				c.Server.LogLevel = config.LogWarn
				c.Identity.Language = "de"
				c.Conversation.SilenceThreshold = 0.05
			},
			want: config.ConfigDiff{LogLevelChanged: true, NewLogLevel: config.LogWarn, TuningChanged: true, IdentityChanged: true},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tc.mutate(next)
			if got := config.Diff(baseConfig(), next); got != tc.want {
				t.Errorf("Diff = %+v, want %+v", got, tc.want)
			}
		})
	}
}

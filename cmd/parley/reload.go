package main

import (
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/conversation"
)

// reconfigurable is the part of the controller a config reload touches.
type reconfigurable interface {
	SetTuning(t conversation.Tuning) error
	SetEndpoint(cfg conversation.Config) error
}

// delaySetter is implemented by the playback engine.
type delaySetter interface {
	SetCollectionDelay(d time.Duration)
}

// applyReload applies the live-reloadable parts of d. Audio, server and
// transport settings other than the endpoint address need a restart and are
// only logged.
func applyReload(d config.ConfigDiff, next *config.Config, level *slog.LevelVar, ctrl reconfigurable, player delaySetter) {
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TuningChanged {
		if err := ctrl.SetTuning(next.Conversation.Tuning()); err != nil {
			slog.Warn("apply conversation tuning", "err", err)
		}
		player.SetCollectionDelay(next.Conversation.PlaybackDelay)
		slog.Info("conversation tuning changed; applies from the next turn")
	}
	if d.EndpointChanged || d.IdentityChanged {
		if err := ctrl.SetEndpoint(next.ControllerConfig()); err != nil {
			slog.Warn("apply endpoint", "err", err)
		}
		slog.Info("endpoint or identity changed; applies on the next connect",
			"endpoint", next.Endpoint.URL,
			"username", next.Identity.Username,
		)
	}
}

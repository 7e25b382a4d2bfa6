package config

// ConfigDiff describes what changed between two configs.
// Only sections that are applied without a restart are tracked; audio device
// and server changes need one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TuningChanged covers every field of the conversation section, including
	// the playback delay. The new values take effect at the next turn.
	TuningChanged bool

	// EndpointChanged and IdentityChanged take effect on the next connect.
	EndpointChanged bool
	IdentityChanged bool
}

// Any reports whether d contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.TuningChanged || d.EndpointChanged || d.IdentityChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.TuningChanged = old.Conversation != new.Conversation
	d.EndpointChanged = old.Endpoint != new.Endpoint
	d.IdentityChanged = old.Identity != new.Identity

	return d
}

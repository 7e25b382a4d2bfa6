package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/pkg/transport"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}

	if cfg.Endpoint.Sentinel == "" {
		cfg.Endpoint.Sentinel = transport.DefaultSentinel
	}
	if cfg.Endpoint.WireFormat == "" {
		cfg.Endpoint.WireFormat = DefaultWireFormat
	}
	if cfg.Endpoint.ConnectTimeout == 0 {
		cfg.Endpoint.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Endpoint.SendQueue == 0 {
		cfg.Endpoint.SendQueue = DefaultSendQueue
	}

	if cfg.Audio.InputSampleRate == 0 {
		cfg.Audio.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.Audio.OutputSampleRate == 0 {
		cfg.Audio.OutputSampleRate = DefaultOutputSampleRate
	}
	if cfg.Audio.FrameDuration == 0 {
		cfg.Audio.FrameDuration = DefaultFrameDuration
	}

	d := conversation.DefaultTuning()
	c := &cfg.Conversation
	if c.SilenceWindow == 0 {
		c.SilenceWindow = d.SilenceWindow
	}
	if c.SilenceThreshold == 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.SilenceCheckInterval == 0 {
		c.SilenceCheckInterval = d.SilenceCheckInterval
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = d.ResponseTimeout
	}
	if c.PlaybackDelay == 0 {
		c.PlaybackDelay = DefaultPlaybackDelay
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Endpoint
	if cfg.Endpoint.URL == "" {
		errs = append(errs, errors.New("endpoint.url is required"))
	} else if u, err := url.Parse(cfg.Endpoint.URL); err != nil {
		errs = append(errs, fmt.Errorf("endpoint.url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("endpoint.url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	}
	if _, err := transport.ParseWireFormat(cfg.Endpoint.WireFormat); err != nil {
		errs = append(errs, fmt.Errorf("endpoint.wire_format %q is invalid; valid values: pcm, wav", cfg.Endpoint.WireFormat))
	}
	if cfg.Endpoint.ConnectTimeout < 0 {
		errs = append(errs, errors.New("endpoint.connect_timeout must not be negative"))
	}
	if cfg.Endpoint.SendQueue < 0 {
		errs = append(errs, errors.New("endpoint.send_queue must not be negative"))
	}
	if b := cfg.Endpoint.Breaker; b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("endpoint.breaker values must not be negative"))
	}

	// Identity
	if cfg.Identity.Username == "" {
		slog.Warn("identity.username is empty; the peer will not know who is speaking")
	}

	// Audio
	if cfg.Audio.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d must be positive", cfg.Audio.InputSampleRate))
	}
	if cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must be positive", cfg.Audio.OutputSampleRate))
	}
	if cfg.Audio.FrameDuration < 0 {
		errs = append(errs, errors.New("audio.frame_duration must not be negative"))
	}

	// Conversation
	c := cfg.Conversation
	if c.SilenceWindow < 0 {
		errs = append(errs, errors.New("conversation.silence_window must not be negative"))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("conversation.silence_threshold %v must be within [0, 1]", c.SilenceThreshold))
	}
	if c.SilenceCheckInterval < 0 {
		errs = append(errs, errors.New("conversation.silence_check_interval must not be negative"))
	}
	if c.ResponseTimeout < 0 {
		errs = append(errs, errors.New("conversation.response_timeout must not be negative"))
	}
	if c.PlaybackDelay < 0 {
		errs = append(errs, errors.New("conversation.playback_delay must not be negative"))
	}

	// Transcripts
	if cfg.Transcripts.PostgresDSN == "" {
		slog.Debug("transcripts.postgres_dsn is empty; transcripts will not be persisted")
	}

	return errors.Join(errs...)
}

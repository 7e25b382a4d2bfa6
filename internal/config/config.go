// Package config provides the configuration schema, loader, and hot-reload
// watcher for the parley voice client.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/conversation"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/pkg/audio"
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

// Level maps l to its slog level. Unknown or empty values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Endpoint     EndpointConfig     `yaml:"endpoint"`
	Identity     IdentityConfig     `yaml:"identity"`
	Audio        AudioConfig        `yaml:"audio"`
	Conversation ConversationConfig `yaml:"conversation"`
	Transcripts  TranscriptsConfig  `yaml:"transcripts"`
}

// ServerConfig holds the status HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the metrics and status server
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Applied live on reload.
	LogLevel LogLevel `yaml:"log_level"`

	// RequireConnection makes /readyz fail while the endpoint is not connected.
	RequireConnection bool `yaml:"require_connection"`
}

// EndpointConfig describes the remote conversation peer.
type EndpointConfig struct {
	// URL is the websocket URL (ws:// or wss://). Required.
	URL string `yaml:"url"`

	// Sentinel is the end-of-utterance control token. Default: "EOS".
	Sentinel string `yaml:"sentinel"`

	// WireFormat selects outbound audio encoding: "pcm" (default) or "wav".
	WireFormat string `yaml:"wire_format"`

	// ConnectTimeout bounds a single dial. Default: 10s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// SendQueue is the number of outbound messages that may be pending
	// before frames are dropped. Default: 64.
	SendQueue int `yaml:"send_queue"`

	// Breaker configures the circuit breaker guarding dials.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig holds circuit breaker tuning. Zero values use the breaker's
// own defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// IdentityConfig is sent to the peer as query parameters on connect.
type IdentityConfig struct {
	Username string `yaml:"username"`
	Language string `yaml:"language"`

	// Persona selects the character the peer answers as.
	Persona string `yaml:"persona"`
}

// AudioConfig selects devices and formats.
type AudioConfig struct {
	// InputSampleRate is the capture rate in Hz. Default: 16000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// OutputSampleRate is the rate assumed for inbound raw PCM. Default: 24000.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// FrameDuration is the length of one captured frame. Default: 30ms.
	FrameDuration time.Duration `yaml:"frame_duration"`

	// InputDevice and OutputDevice name PortAudio devices. Empty selects the
	// system default.
	InputDevice  string `yaml:"input_device"`
	OutputDevice string `yaml:"output_device"`
}

// ConversationConfig holds turn-taking parameters. All of them apply live;
// changes take effect at the next turn.
type ConversationConfig struct {
	SilenceWindow        time.Duration `yaml:"silence_window"`
	SilenceThreshold     float64       `yaml:"silence_threshold"`
	SilenceCheckInterval time.Duration `yaml:"silence_check_interval"`
	ResponseTimeout      time.Duration `yaml:"response_timeout"`

	// PlaybackDelay is the jitter buffer collection delay. Default: 150ms.
	PlaybackDelay time.Duration `yaml:"playback_delay"`

	// HandsFree starts the next turn once a reply finished playing.
	HandsFree bool `yaml:"hands_free"`
}

// TranscriptsConfig configures transcript persistence.
type TranscriptsConfig struct {
	// PostgresDSN enables the Postgres transcript store when set.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Default values applied by [ApplyDefaults].
const (
	DefaultLogLevel         = LogInfo
	DefaultWireFormat       = "pcm"
	DefaultConnectTimeout   = 10 * time.Second
	DefaultSendQueue        = 64
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultFrameDuration    = 30 * time.Millisecond
	DefaultPlaybackDelay    = 150 * time.Millisecond
)

// Tuning converts the conversation section into controller tuning.
func (c ConversationConfig) Tuning() conversation.Tuning {
	return conversation.Tuning{
		SilenceWindow:        c.SilenceWindow,
		SilenceThreshold:     c.SilenceThreshold,
		SilenceCheckInterval: c.SilenceCheckInterval,
		ResponseTimeout:      c.ResponseTimeout,
		HandsFree:            c.HandsFree,
	}
}

// Identity converts the identity section for the controller.
func (i IdentityConfig) Identity() conversation.Identity {
	return conversation.Identity{
		Username: i.Username,
		Language: i.Language,
		Persona:  i.Persona,
	}
}

// Breaker builds the dial circuit breaker from b.
func (b BreakerConfig) Breaker() *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "endpoint",
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		HalfOpenMax:  b.HalfOpenMax,
	})
}

// InputFormat is the mono capture format.
func (a AudioConfig) InputFormat() audio.Format {
	return audio.Format{SampleRate: a.InputSampleRate, Channels: 1}
}

// OutputFormat is the mono playback format.
func (a AudioConfig) OutputFormat() audio.Format {
	return audio.Format{SampleRate: a.OutputSampleRate, Channels: 1}
}

// ControllerConfig assembles the [conversation.Config] described by c.
func (c *Config) ControllerConfig() conversation.Config {
	return conversation.Config{
		URL:            c.Endpoint.URL,
		Sentinel:       c.Endpoint.Sentinel,
		ConnectTimeout: c.Endpoint.ConnectTimeout,
		Identity:       c.Identity.Identity(),
		Input:          c.Audio.InputFormat(),
		Output:         c.Audio.OutputFormat(),
		Tuning:         c.Conversation.Tuning(),
	}
}

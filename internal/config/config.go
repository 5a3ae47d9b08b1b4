// Package config provides the configuration schema, loader, and file watcher
// for the vocello speech delivery server.
package config

import "time"

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

// Codec selects the wire format of inbound audio frames.
type Codec string

const (
	// CodecPCM16 is raw little-endian 16-bit PCM.
	CodecPCM16 Codec = "pcm16"

	// CodecOpus is Opus-encoded audio.
	CodecOpus Codec = "opus"
)

// IsValid reports whether c is a recognised codec.
func (c Codec) IsValid() bool {
	return c == CodecPCM16 || c == CodecOpus
}

// Config is the root configuration structure, typically loaded from a YAML
// file via [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Channel  ChannelConfig  `yaml:"channel"`
	Speech   SpeechConfig   `yaml:"speech"`
	Playback PlaybackConfig `yaml:"playback"`
	Envelope EnvelopeConfig `yaml:"envelope"`
	Presets  PresetsConfig  `yaml:"presets"`
}

// ServerConfig holds the metrics/health HTTP endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g., ":9090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ChannelConfig tunes the reconnecting host channel.
type ChannelConfig struct {
	// URL of the host WebSocket endpoint.
	URL string `yaml:"url"`

	// HeartbeatInterval between keepalive messages. Zero means 15s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// InitialBackoff is the first reconnect delay. Zero means 1s.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the reconnect delay. Zero means 10s.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// QueueCapacity bounds the outbound queue while disconnected. Zero means 50.
	QueueCapacity int `yaml:"queue_capacity"`

	// RequestTimeout bounds response-expecting exchanges. Zero means 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SpeechConfig tunes the streaming synthesis sessions.
type SpeechConfig struct {
	// URL of the streaming synthesis WebSocket endpoint.
	URL string `yaml:"url"`

	// VoiceID is the default voice.
	VoiceID string `yaml:"voice_id"`

	// ModelID optionally selects a synthesis model.
	ModelID string `yaml:"model_id"`

	// Speed adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	Speed float64 `yaml:"speed"`

	// Codec of inbound audio frames. Empty means pcm16.
	Codec Codec `yaml:"codec"`

	// SampleRate of inbound PCM frames in Hz. Zero means 16000.
	SampleRate int `yaml:"sample_rate"`

	// ConnectTimeout bounds the session handshake. Zero means 10s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Fallback configures the one-shot synthesis endpoint used when a
	// streaming session dies before delivering audio. Nil disables it.
	Fallback *FallbackConfig `yaml:"fallback"`
}

// FallbackConfig describes a synchronous synthesis backend.
type FallbackConfig struct {
	// URL of the one-shot synthesis HTTP endpoint.
	URL string `yaml:"url"`

	// APIKey is sent as a Bearer token if non-empty.
	APIKey string `yaml:"api_key"`
}

// PlaybackConfig tunes the gapless scheduler.
type PlaybackConfig struct {
	// QueueCapacity bounds encoded frames waiting for decode. Zero means 10.
	QueueCapacity int `yaml:"queue_capacity"`
}

// EnvelopeConfig tunes the lip-sync extractor. Zero values mean built-in
// defaults.
type EnvelopeConfig struct {
	// GateDb is the loudness below which the mouth closes, before a voice
	// has been calibrated.
	GateDb float64 `yaml:"gate_db"`

	// OpenDb is the loudness mapped to a fully open mouth, before
	// calibration.
	OpenDb float64 `yaml:"open_db"`

	// HysteresisDb is the gap between the gate's close and open points.
	HysteresisDb float64 `yaml:"hysteresis_db"`

	// MaxOpen caps mouth openness, in (0, 1].
	MaxOpen float64 `yaml:"max_open"`

	// FormantMaxHz is the upper bound of the loudness band.
	FormantMaxHz float64 `yaml:"formant_max_hz"`

	// FrameInterval is the lip-sync sampling period.
	FrameInterval time.Duration `yaml:"frame_interval"`
}

// PresetsConfig locates the voice calibration store.
type PresetsConfig struct {
	// Path of the SQLite database file. Empty keeps presets in memory only.
	Path string `yaml:"path"`
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Unknown fields are rejected so typos fail loudly instead of silently
// falling back to defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Channel
	if cfg.Channel.URL == "" {
		errs = append(errs, errors.New("channel.url is required"))
	} else if !isWebSocketURL(cfg.Channel.URL) {
		errs = append(errs, fmt.Errorf("channel.url %q must use the ws or wss scheme", cfg.Channel.URL))
	}
	if cfg.Channel.InitialBackoff < 0 || cfg.Channel.MaxBackoff < 0 {
		errs = append(errs, errors.New("channel backoff durations must not be negative"))
	}
	if cfg.Channel.InitialBackoff > 0 && cfg.Channel.MaxBackoff > 0 &&
		cfg.Channel.InitialBackoff > cfg.Channel.MaxBackoff {
		errs = append(errs, fmt.Errorf("channel.initial_backoff %v exceeds channel.max_backoff %v",
			cfg.Channel.InitialBackoff, cfg.Channel.MaxBackoff))
	}
	if cfg.Channel.QueueCapacity < 0 {
		errs = append(errs, errors.New("channel.queue_capacity must not be negative"))
	}

	// Speech
	if cfg.Speech.URL == "" {
		errs = append(errs, errors.New("speech.url is required"))
	} else if !isWebSocketURL(cfg.Speech.URL) {
		errs = append(errs, fmt.Errorf("speech.url %q must use the ws or wss scheme", cfg.Speech.URL))
	}
	if cfg.Speech.VoiceID == "" {
		errs = append(errs, errors.New("speech.voice_id is required"))
	}
	if cfg.Speech.Speed != 0 && (cfg.Speech.Speed < 0.5 || cfg.Speech.Speed > 2.0) {
		errs = append(errs, fmt.Errorf("speech.speed %.2f is out of range [0.5, 2.0]", cfg.Speech.Speed))
	}
	if cfg.Speech.Codec != "" && !cfg.Speech.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("speech.codec %q is invalid; valid values: pcm16, opus", cfg.Speech.Codec))
	}
	if cfg.Speech.SampleRate < 0 {
		errs = append(errs, errors.New("speech.sample_rate must not be negative"))
	}
	if cfg.Speech.Fallback != nil && cfg.Speech.Fallback.URL == "" {
		errs = append(errs, errors.New("speech.fallback.url is required when speech.fallback is set"))
	}
	if cfg.Speech.Fallback == nil {
		slog.Warn("speech.fallback is not configured; utterances whose streaming session dies before any audio will be lost")
	}

	// Playback
	if cfg.Playback.QueueCapacity < 0 {
		errs = append(errs, errors.New("playback.queue_capacity must not be negative"))
	}

	// Envelope
	if cfg.Envelope.MaxOpen < 0 || cfg.Envelope.MaxOpen > 1 {
		errs = append(errs, fmt.Errorf("envelope.max_open %.2f is out of range (0, 1]", cfg.Envelope.MaxOpen))
	}
	if cfg.Envelope.GateDb != 0 && cfg.Envelope.OpenDb != 0 &&
		cfg.Envelope.GateDb >= cfg.Envelope.OpenDb {
		errs = append(errs, fmt.Errorf("envelope.gate_db %.1f must be below envelope.open_db %.1f",
			cfg.Envelope.GateDb, cfg.Envelope.OpenDb))
	}

	if cfg.Presets.Path == "" {
		slog.Warn("presets.path is empty; voice calibrations will not survive restarts")
	}

	return errors.Join(errs...)
}

func isWebSocketURL(u string) bool {
	return strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://")
}

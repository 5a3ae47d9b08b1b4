// Command vocello is the real-time lip-synced speech delivery server. It
// bridges a host process (text deltas in over WebSocket) to a streaming
// synthesis service, plays the audio gaplessly, and publishes mouth-openness
// samples for the renderer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/vocello/vocello/internal/channel"
	"github.com/vocello/vocello/internal/config"
	"github.com/vocello/vocello/internal/envelope"
	"github.com/vocello/vocello/internal/health"
	"github.com/vocello/vocello/internal/observe"
	"github.com/vocello/vocello/internal/pipeline"
	"github.com/vocello/vocello/internal/preset"
	"github.com/vocello/vocello/internal/resilience"
	"github.com/vocello/vocello/internal/speech"
	"github.com/vocello/vocello/pkg/audio"
	"github.com/vocello/vocello/pkg/bus"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocello: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocello: %v\n", err)
		}
		return 1
	}

	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vocello starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "vocello",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Voice preset store ────────────────────────────────────────────────────
	var store preset.Store
	if cfg.Presets.Path != "" {
		s, err := preset.OpenSQLite(ctx, cfg.Presets.Path)
		if err != nil {
			slog.Error("failed to open preset store", "path", cfg.Presets.Path, "err", err)
			return 1
		}
		store = s
		slog.Info("preset store opened", "path", cfg.Presets.Path)
	} else {
		store = preset.NewMemoryStore()
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("preset store close error", "err", err)
		}
	}()

	// ── Lip-sync envelope ─────────────────────────────────────────────────────
	sampleRate := cfg.Speech.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	source := envelope.NewPCMSource(sampleRate)
	env, err := envelope.New(ctx, store, source, envelopeOptions(cfg.Envelope)...)
	if err != nil {
		slog.Error("failed to create envelope extractor", "err", err)
		return 1
	}

	// ── Event bus and speech pipeline ─────────────────────────────────────────
	b := bus.New()
	defer b.Close()
	coordinator := speech.NewCoordinator()
	sink := audio.NewRealtimeSink(os.Stdout)

	synth, err := buildSynth(cfg.Speech.Fallback)
	if err != nil {
		slog.Error("failed to build fallback synthesizer", "err", err)
		return 1
	}

	speaker, err := pipeline.NewSpeaker(pipeline.Config{
		SpeechURL:      cfg.Speech.URL,
		VoiceID:        cfg.Speech.VoiceID,
		ModelID:        cfg.Speech.ModelID,
		Speed:          cfg.Speech.Speed,
		ConnectTimeout: cfg.Speech.ConnectTimeout,
		PlaybackQueue:  cfg.Playback.QueueCapacity,
		FrameInterval:  cfg.Envelope.FrameInterval,
	}, pipeline.Deps{
		Bus:         b,
		Coordinator: coordinator,
		Dialer:      speech.WebSocketDialer{},
		Sink:        sink,
		NewDecoder:  decoderFactory(cfg.Speech.Codec, sampleRate),
		Envelope:    env,
		Source:      source,
		Synth:       synth,
		Metrics:     metrics,
	})
	if err != nil {
		slog.Error("failed to create speaker", "err", err)
		return 1
	}

	// ── Host channel ──────────────────────────────────────────────────────────
	ch := channel.New(channel.WebSocketDialer{}, channel.Config{
		URL:               cfg.Channel.URL,
		HeartbeatInterval: cfg.Channel.HeartbeatInterval,
		InitialBackoff:    cfg.Channel.InitialBackoff,
		MaxBackoff:        cfg.Channel.MaxBackoff,
		QueueCapacity:     cfg.Channel.QueueCapacity,
		RequestTimeout:    cfg.Channel.RequestTimeout,
	},
		channel.WithHandler(inboundToBus(b)),
		channel.WithOnStateChange(func(s channel.State) {
			b.Publish(bus.Event{Kind: bus.KindChannelState, Payload: s.String()})
			if s == channel.StateConnected {
				metrics.RecordReconnect(context.Background(), "ok")
			}
		}),
		channel.WithOnQueueReject(func() {
			metrics.QueueRejects.Add(context.Background(), 1)
		}),
	)
	ch.Connect()
	defer ch.Disconnect()

	// SIGHUP kicks the channel: if a backoff wait is pending the reconnect
	// happens now, and when already connected it is a no-op. Host-initiated
	// control traffic (querying the host over the same link) goes through
	// [channel.Channel.Request] instead.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			slog.Info("SIGHUP received, kicking channel")
			ch.Kick()
		}
	}()

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		applyConfigChange(old, next, logLevel, speaker)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server: metrics + health ─────────────────────────────────────────
	checks := health.New(
		health.ConnectedChecker("channel", func() bool {
			return ch.State() == channel.StateConnected
		}),
		health.StoreChecker("presets", func(ctx context.Context) error {
			_, err := store.LoadAll(ctx)
			return err
		}),
	)
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	checks.Register(mux)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := speaker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.Server.ListenAddr != "" {
		g.Go(func() error {
			slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
			var err error
			if tls := cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Inbound message routing ───────────────────────────────────────────────────

// chunkPayload is the body of a STREAM_CHUNK message.
type chunkPayload struct {
	Text string `json:"text"`
}

// errorPayload is the body of a STREAM_ERROR message.
type errorPayload struct {
	Message string `json:"message"`
}

// inboundToBus translates host channel messages into bus events. Runs on the
// channel's read goroutine; bus publishes never block.
func inboundToBus(b *bus.Bus) channel.Handler {
	return func(m channel.Message) {
		switch m.Kind {
		case channel.KindStreamChunk:
			var p chunkPayload
			if err := json.Unmarshal(m.Payload, &p); err != nil {
				slog.Warn("malformed stream chunk", "request_id", m.RequestID, "err", err)
				return
			}
			b.Publish(bus.Event{Kind: bus.KindStreamDelta, Payload: p.Text, RequestID: m.RequestID})

		case channel.KindStreamEnd:
			b.Publish(bus.Event{Kind: bus.KindStreamEnd, RequestID: m.RequestID})

		case channel.KindStreamError:
			var p errorPayload
			_ = json.Unmarshal(m.Payload, &p)
			b.Publish(bus.Event{Kind: bus.KindStreamError, Payload: p.Message, RequestID: m.RequestID})

		default:
			slog.Debug("unhandled channel message", "kind", m.Kind)
		}
	}
}

// ── Wiring helpers ────────────────────────────────────────────────────────────

// decoderFactory returns a per-utterance decoder constructor for the
// configured codec. Each streaming session gets a fresh decoder because Opus
// keeps codec state across frames.
func decoderFactory(codec config.Codec, sampleRate int) func() audio.Decoder {
	if codec == config.CodecOpus {
		// Opus output is always 48 kHz on the wire.
		return func() audio.Decoder {
			d, err := audio.NewOpusDecoder(48000, 1)
			if err != nil {
				slog.Error("opus decoder unavailable, falling back to pcm16", "err", err)
				p, _ := audio.NewPCMDecoder(sampleRate, 1)
				return p
			}
			return d
		}
	}
	return func() audio.Decoder {
		d, _ := audio.NewPCMDecoder(sampleRate, 1)
		return d
	}
}

// buildSynth assembles the one-shot synthesis fallback chain, or nil when the
// config disables it.
func buildSynth(fc *config.FallbackConfig) (resilience.Synthesizer, error) {
	if fc == nil {
		return nil, nil
	}
	primary, err := resilience.NewHTTPSynthesizer(fc.URL, fc.APIKey)
	if err != nil {
		return nil, err
	}
	return resilience.NewSynthFallback(primary, "http", resilience.FallbackConfig{}), nil
}

// envelopeOptions maps the YAML envelope tuning onto extractor options,
// leaving zero values to the extractor defaults.
func envelopeOptions(ec config.EnvelopeConfig) []envelope.Option {
	var opts []envelope.Option
	if ec.GateDb != 0 && ec.OpenDb != 0 {
		opts = append(opts, envelope.WithThresholds(ec.GateDb, ec.OpenDb))
	}
	if ec.HysteresisDb > 0 {
		opts = append(opts, envelope.WithHysteresis(ec.HysteresisDb))
	}
	if ec.MaxOpen > 0 {
		opts = append(opts, envelope.WithMaxOpen(ec.MaxOpen))
	}
	if ec.FormantMaxHz > 0 {
		opts = append(opts, envelope.WithFormantBand(ec.FormantMaxHz))
	}
	return opts
}

// applyConfigChange applies the reloadable subset of a config diff.
func applyConfigChange(old, next *config.Config, level *slog.LevelVar, speaker *pipeline.Speaker) {
	d := config.Diff(old, next)
	if !d.Any() {
		return
	}
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		speaker.SetVoice(next.Speech.VoiceID)
		slog.Info("voice changed", "voice_id", next.Speech.VoiceID)
	}
	if d.EnvelopeChanged {
		slog.Warn("envelope tuning changed; restart to apply")
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

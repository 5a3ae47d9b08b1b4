// Package speech implements the per-utterance streaming synthesis client: an
// explicit connection state machine over a dedicated WebSocket that sends
// incremental text and receives incremental audio, plus the coordinator that
// guarantees at most one session plays audio at a time.
package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the session connection state. Transitions are one-directional:
// Disconnected → Connecting → Connected → Disconnected, with Error terminal
// for the session instance.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// defaultConnectTimeout bounds how long Connect waits for the remote ready
// frame before giving up.
const defaultConnectTimeout = 10 * time.Second

// Config holds the per-session synthesis parameters.
type Config struct {
	// URL of the synthesis WebSocket endpoint.
	URL string

	// VoiceID selects the voice. Must be non-empty.
	VoiceID string

	// ModelID optionally selects a synthesis model.
	ModelID string

	// Speed optionally adjusts speaking rate (1.0 = normal).
	Speed float64

	// ConnectTimeout bounds the wait for the remote ready frame.
	// Zero means the 10s default.
	ConnectTimeout time.Duration
}

// Callbacks are the session's lifecycle hooks. All callbacks are invoked from
// the session's read goroutine and must not block. Nil callbacks are skipped.
type Callbacks struct {
	// OnAudio receives each decoded (base64-stripped) audio frame in arrival
	// order.
	OnAudio func(frame []byte)

	// OnFinished fires exactly once when no more audio will arrive: on a
	// remote done frame or on graceful Close, whichever happens first.
	OnFinished func()

	// OnError fires when the session fails: remote error frame or transport
	// failure before graceful completion.
	OnError func(err error)

	// OnAlignment receives raw alignment frames. Reserved.
	OnAlignment func(alignment json.RawMessage)
}

// Session is a single utterance-stream client. A Session is single-use: once
// closed, destroyed, or failed it cannot be reconnected — create a new one.
type Session struct {
	dialer Dialer
	cfg    Config
	cb     Callbacks

	mu           sync.Mutex
	state        State
	conn         Conn
	readCancel   context.CancelFunc
	closedByUs   bool
	doneSignaled bool

	readyCh chan bool // buffered(1); read loop reports handshake outcome
}

// NewSession creates a Session. It does not connect; call [Session.Connect].
func NewSession(dialer Dialer, cfg Config, cb Callbacks) (*Session, error) {
	if cfg.VoiceID == "" {
		return nil, errors.New("speech: VoiceID must not be empty")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Session{
		dialer:  dialer,
		cfg:     cfg,
		cb:      cb,
		state:   StateDisconnected,
		readyCh: make(chan bool, 1),
	}, nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the transport, sends the init frame, and waits for the remote
// ready frame. It returns true only when ready was received; false (with a nil
// error) when the remote failed or closed before signalling readiness, so the
// caller can fall back to a non-streaming path. A session that has left
// Disconnected returns an error.
func (s *Session) Connect(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state != StateDisconnected {
		st := s.state
		s.mu.Unlock()
		return false, fmt.Errorf("speech: connect in state %v", st)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(dialCtx, s.cfg.URL)
	if err != nil {
		s.fail(fmt.Errorf("speech: dial: %w", err))
		return false, nil
	}

	init, _ := json.Marshal(initFrame{
		Type:    frameInit,
		VoiceID: s.cfg.VoiceID,
		ModelID: s.cfg.ModelID,
		Speed:   s.cfg.Speed,
	})
	if err := conn.Write(dialCtx, init); err != nil {
		_ = conn.Close()
		s.fail(fmt.Errorf("speech: send init: %w", err))
		return false, nil
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.conn = conn
	s.readCancel = readCancel
	s.mu.Unlock()

	go s.readLoop(readCtx, conn)

	select {
	case ok := <-s.readyCh:
		return ok, nil
	case <-dialCtx.Done():
		s.fail(fmt.Errorf("speech: ready wait: %w", dialCtx.Err()))
		_ = conn.Close()
		return false, nil
	}
}

// SendText transmits a text frame. It no-ops silently unless the session is
// Connected. flush asks the remote to synthesize immediately; set it on the
// final fragment of an utterance.
func (s *Session) SendText(text string, flush bool) {
	s.mu.Lock()
	if s.state != StateConnected || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.mu.Unlock()

	data, _ := json.Marshal(textFrame{Type: frameText, Text: text, Flush: flush})
	if err := conn.Write(context.Background(), data); err != nil {
		slog.Warn("speech: text frame write failed", "err", err)
	}
}

// Close ends the session gracefully: a close frame is sent if connected, the
// transport is shut, and OnFinished fires (once) so already-received audio
// keeps draining — queued audio is never discarded by Close.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closedByUs {
		s.mu.Unlock()
		return
	}
	s.closedByUs = true
	conn := s.conn
	connected := s.state == StateConnected
	if s.state == StateConnecting || s.state == StateConnected {
		s.state = StateDisconnected
	}
	cancel := s.readCancel
	s.mu.Unlock()

	if conn != nil {
		if connected {
			data, _ := json.Marshal(closeFrame{Type: frameClose})
			_ = conn.Write(context.Background(), data)
		}
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	s.reportReady(false) // unblock a Connect still waiting for ready
	s.signalFinished()
}

// Destroy is the hard variant of Close for cancellation and unmount: the
// transport is torn down immediately and OnFinished is suppressed — the caller
// discards its playback queue instead of draining it.
func (s *Session) Destroy() {
	s.mu.Lock()
	s.closedByUs = true
	s.doneSignaled = true // suppress OnFinished
	conn := s.conn
	if s.state != StateError {
		s.state = StateDisconnected
	}
	cancel := s.readCancel
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// readLoop consumes inbound frames until the transport fails or the session
// is torn down.
func (s *Session) readLoop(ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			s.handleReadError(err)
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("speech: dropping malformed frame", "err", err)
			continue
		}

		switch frame.Type {
		case frameReady:
			s.mu.Lock()
			if s.state == StateConnecting {
				s.state = StateConnected
			}
			s.mu.Unlock()
			s.reportReady(true)

		case frameAudio:
			pcm, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				slog.Warn("speech: dropping frame with invalid base64 audio", "err", err)
				continue
			}
			if s.cb.OnAudio != nil {
				s.cb.OnAudio(pcm)
			}

		case frameDone:
			s.signalFinished()

		case frameError:
			s.fail(fmt.Errorf("speech: remote error: %s", frame.Message))
			return

		case frameAlignment:
			if s.cb.OnAlignment != nil {
				s.cb.OnAlignment(frame.Alignment)
			}

		default:
			slog.Debug("speech: ignoring unknown frame type", "type", frame.Type)
		}
	}
}

// handleReadError classifies a transport read failure. A failure after
// graceful completion (done received or Close called) is a normal shutdown;
// anything earlier marks the session failed.
func (s *Session) handleReadError(err error) {
	s.mu.Lock()
	benign := s.closedByUs || s.doneSignaled
	s.mu.Unlock()

	if benign {
		return
	}
	s.fail(fmt.Errorf("speech: transport closed: %w", err))
}

// fail transitions to the terminal Error state, reports a failed handshake if
// one is pending, and fires OnError. Later failures on an already-failed
// session are ignored.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.state == StateError {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.reportReady(false)
	slog.Warn("speech: session failed", "voice_id", s.cfg.VoiceID, "err", err)
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// reportReady delivers the handshake outcome without blocking if Connect has
// already returned.
func (s *Session) reportReady(ok bool) {
	select {
	case s.readyCh <- ok:
	default:
	}
}

// signalFinished fires OnFinished exactly once.
func (s *Session) signalFinished() {
	s.mu.Lock()
	if s.doneSignaled {
		s.mu.Unlock()
		return
	}
	s.doneSignaled = true
	s.mu.Unlock()

	if s.cb.OnFinished != nil {
		s.cb.OnFinished()
	}
}

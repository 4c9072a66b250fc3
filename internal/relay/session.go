package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/pkg/audio"
	"github.com/troikatech/voice-bridge/pkg/metrics"
	"github.com/troikatech/voice-bridge/pkg/realtime"
	"github.com/troikatech/voice-bridge/pkg/twilio"
)

// State is a session's lifecycle position. Transitions only move forward:
// PendingAIConnect -> Active -> Closing -> Closed.
type State int

const (
	StatePendingAIConnect State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePendingAIConnect:
		return "pending_ai_connect"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// TelephonyConn is the write side of a session's telephony leg. Satisfied
// by *websocket.Conn.
type TelephonyConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// AILeg is a session's connection to the realtime engine. Satisfied by
// *realtime.Client.
type AILeg interface {
	Start(h realtime.Handlers)
	UpdateSession(cfg realtime.SessionConfig) error
	AppendAudio(payload string) error
	Close() error
}

// Session bridges one phone call: it exclusively owns one telephony leg and
// one AI leg and relays audio between them. The persona prompt is fixed at
// creation and never shared with other sessions.
type Session struct {
	streamSid    string
	systemPrompt string

	voice       string
	temperature float64
	settleDelay time.Duration

	tele        TelephonyConn
	teleWriteMu sync.Mutex

	mu          sync.Mutex
	state       State
	ai          AILeg
	settleTimer *time.Timer

	onClosed func(*Session)
	logger   *zap.Logger
}

func newSession(streamSid, systemPrompt string, tele TelephonyConn, cfg Config, onClosed func(*Session), logger *zap.Logger) *Session {
	return &Session{
		streamSid:    streamSid,
		systemPrompt: systemPrompt,
		voice:        cfg.Voice,
		temperature:  cfg.Temperature,
		settleDelay:  cfg.SettleDelay,
		tele:         tele,
		state:        StatePendingAIConnect,
		onClosed:     onClosed,
		logger:       logger,
	}
}

func (s *Session) StreamSid() string { return s.streamSid }

func (s *Session) SystemPrompt() string { return s.systemPrompt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// attachAI binds the freshly dialed AI leg, sends the one-time session
// configuration and arms the settle timer. Returns false when the session
// was already torn down while the dial was in flight; the caller then owns
// closing the leg.
func (s *Session) attachAI(leg AILeg) bool {
	s.mu.Lock()
	if s.state != StatePendingAIConnect {
		s.mu.Unlock()
		return false
	}
	s.ai = leg
	s.mu.Unlock()

	// Start reading before configuring so the acknowledgement is not missed.
	leg.Start(realtime.Handlers{
		AudioDelta:   s.ForwardAIAudio,
		SessionReady: s.activate,
		Event:        metrics.AIEvent,
		Closed:       s.aiClosed,
	})

	if err := leg.UpdateSession(realtime.SessionConfig{
		Voice:        s.voice,
		Instructions: s.systemPrompt,
		Temperature:  s.temperature,
	}); err != nil {
		s.logger.Error("Failed to configure AI session",
			zap.String("stream_sid", s.streamSid),
			zap.Error(err),
		)
		s.Close()
		return true
	}

	// The engine does not guarantee an explicit ack before accepting input,
	// so proceed optimistically after the settle delay; the ack still
	// activates the session early when it arrives.
	s.mu.Lock()
	if s.state == StatePendingAIConnect {
		s.settleTimer = time.AfterFunc(s.settleDelay, s.activate)
	}
	s.mu.Unlock()
	return true
}

// activate moves the session to Active. A no-op in any other state than
// PendingAIConnect, so the settle timer and the engine ack can race freely.
func (s *Session) activate() {
	s.mu.Lock()
	if s.state != StatePendingAIConnect {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	s.mu.Unlock()

	s.logger.Info("Call session active", zap.String("stream_sid", s.streamSid))
}

// ForwardCallerAudio relays one inbound telephony payload to the AI leg.
// Frames arriving while the session is not active are dropped, not queued:
// buffering would grow without bound on a slow AI connect and replay stale
// audio afterwards.
func (s *Session) ForwardCallerAudio(payload string) {
	s.mu.Lock()
	state := s.state
	ai := s.ai
	s.mu.Unlock()

	if state != StateActive || ai == nil {
		metrics.FrameDropped(metrics.LegTelephony)
		s.logger.Debug("Dropping caller audio, session not active",
			zap.String("stream_sid", s.streamSid),
			zap.String("state", state.String()),
		)
		return
	}

	if !audio.ValidPayload(payload) {
		metrics.DecodeError(metrics.LegTelephony)
		s.logger.Warn("Dropping malformed caller audio payload",
			zap.String("stream_sid", s.streamSid),
		)
		return
	}

	if err := ai.AppendAudio(payload); err != nil {
		s.logger.Warn("Failed to forward caller audio, tearing down",
			zap.String("stream_sid", s.streamSid),
			zap.Error(err),
		)
		s.Close()
		return
	}
	metrics.FrameForwarded(metrics.LegAI)
}

// ForwardAIAudio relays one assistant audio delta back to the caller as a
// media frame tagged with this session's stream sid. The payload is passed
// through verbatim.
func (s *Session) ForwardAIAudio(delta string) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != StateActive {
		metrics.FrameDropped(metrics.LegAI)
		return
	}

	frame := twilio.NewMediaFrame(s.streamSid, delta)
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("Failed to marshal media frame", zap.Error(err))
		return
	}

	s.teleWriteMu.Lock()
	err = s.tele.WriteMessage(websocket.TextMessage, data)
	s.teleWriteMu.Unlock()
	if err != nil {
		s.logger.Warn("Failed to forward AI audio, tearing down",
			zap.String("stream_sid", s.streamSid),
			zap.Error(err),
		)
		s.Close()
		return
	}
	metrics.FrameForwarded(metrics.LegTelephony)
}

// aiClosed handles the AI leg terminating on its own. The session offers no
// reconnect; the call ends.
func (s *Session) aiClosed(err error) {
	if s.State() == StateClosed {
		return
	}
	s.logger.Info("AI leg closed",
		zap.String("stream_sid", s.streamSid),
		zap.Error(err),
	)
	s.Close()
}

// Close tears the session down: whichever leg is still open is closed, the
// session leaves the registry, and no further frames are accepted. Safe to
// call from either leg and more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	ai := s.ai
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	s.mu.Unlock()

	if ai != nil {
		_ = ai.Close()
	}
	_ = s.tele.Close()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	if s.onClosed != nil {
		s.onClosed(s)
	}
	s.logger.Info("Call session closed", zap.String("stream_sid", s.streamSid))
}

// Package relay is the core of the voice bridge: per-call sessions pairing a
// telephony media stream with a realtime AI connection, the registry of
// active sessions, and the frame dispatch terminating inbound telephony
// connections.
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/pkg/metrics"
	"github.com/troikatech/voice-bridge/pkg/persona"
	"github.com/troikatech/voice-bridge/pkg/twilio"
)

// PersonaParameter is the stream custom parameter carrying the caller's
// DTMF selection into the start frame.
const PersonaParameter = "persona"

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// AIDialer opens one AI leg. The context bounds the dial.
type AIDialer func(ctx context.Context) (AILeg, error)

// Config fixes the per-call AI session parameters.
type Config struct {
	Voice       string
	Temperature float64
	DialTimeout time.Duration
	SettleDelay time.Duration
}

// Bridge is the media relay server: it owns the session registry and turns
// inbound telephony connections into call sessions.
type Bridge struct {
	cfg      Config
	registry *Registry
	personas *persona.Registry
	dial     AIDialer
	logger   *zap.Logger

	// Optional lifecycle hooks. OnCallStart fires once a session is
	// registered, OnCallEnd once it is fully closed. Both run off the
	// frame-handling path and must be set before the first connection.
	OnCallStart func(streamSid, callSid string)
	OnCallEnd   func(streamSid string)
}

func NewBridge(cfg Config, personas *persona.Registry, dial AIDialer, logger *zap.Logger) *Bridge {
	return &Bridge{
		cfg:      cfg,
		registry: NewRegistry(),
		personas: personas,
		dial:     dial,
		logger:   logger,
	}
}

// Registry exposes the session registry (health reporting, tests).
func (b *Bridge) Registry() *Registry {
	return b.registry
}

// CreateSession registers a new session for streamSid with its persona
// prompt fixed. Fails with ErrDuplicateSession without touching the
// existing session.
func (b *Bridge) CreateSession(streamSid, systemPrompt string, tele TelephonyConn) (*Session, error) {
	s := newSession(streamSid, systemPrompt, tele, b.cfg, b.sessionClosed, b.logger)
	if err := b.registry.Add(s); err != nil {
		metrics.SessionRejected()
		return nil, err
	}
	metrics.SessionStarted()
	b.logger.Info("Call session created", zap.String("stream_sid", streamSid))
	return s, nil
}

// sessionClosed is each session's teardown hook.
func (b *Bridge) sessionClosed(s *Session) {
	b.registry.Remove(s.StreamSid())
	metrics.SessionCompleted()
	if b.OnCallEnd != nil {
		go b.OnCallEnd(s.StreamSid())
	}
}

// connectAI dials the AI leg for a fresh session. Dial failure or timeout
// fails the session and closes the telephony leg; there is no retry.
func (b *Bridge) connectAI(s *Session) {
	ctx := context.Background()
	if b.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.DialTimeout)
		defer cancel()
	}

	leg, err := b.dial(ctx)
	if err != nil {
		b.logger.Error("AI leg dial failed",
			zap.String("stream_sid", s.StreamSid()),
			zap.Error(err),
		)
		s.Close()
		return
	}

	if !s.attachAI(leg) {
		// Session was torn down while the dial was in flight.
		_ = leg.Close()
	}
}

// StreamConn is the per-connection dispatch state. One physical connection
// carries at most one call: the stream sid bound by the start frame.
type StreamConn struct {
	bridge *Bridge
	conn   TelephonyConn
	sid    string
}

// NewStreamConn wraps one inbound telephony connection for frame routing.
func (b *Bridge) NewStreamConn(conn TelephonyConn) *StreamConn {
	return &StreamConn{bridge: b, conn: conn}
}

// RouteFrame decodes one inbound envelope and dispatches on its event
// discriminator. Malformed or unknown frames are logged and dropped; they
// never terminate the connection.
func (sc *StreamConn) RouteFrame(message []byte) {
	var env twilio.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		metrics.DecodeError(metrics.LegTelephony)
		sc.bridge.logger.Warn("Failed to parse telephony frame", zap.Error(err))
		return
	}

	switch env.Event {
	case twilio.EventStart:
		sc.handleStart(message)
	case twilio.EventMedia:
		sc.handleMedia(message)
	case twilio.EventStop:
		sc.handleStop(message)
	default:
		// Forward compatibility: unknown event types must not crash the relay.
		sc.bridge.logger.Debug("Ignoring unknown telephony event",
			zap.String("event", env.Event),
		)
	}
}

func (sc *StreamConn) handleStart(message []byte) {
	var frame twilio.StartFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		metrics.DecodeError(metrics.LegTelephony)
		sc.bridge.logger.Warn("Failed to parse start frame", zap.Error(err))
		return
	}

	sid := frame.Start.StreamSid
	if sid == "" {
		sc.bridge.logger.Warn("Start frame without stream sid")
		return
	}
	if sc.sid != "" {
		sc.bridge.logger.Warn("Connection already bound to a stream",
			zap.String("bound_sid", sc.sid),
			zap.String("stream_sid", sid),
		)
		return
	}

	selection := frame.Start.CustomParameters[PersonaParameter]
	prompt := sc.bridge.personas.Resolve(selection)

	session, err := sc.bridge.CreateSession(sid, prompt, sc.conn)
	if err != nil {
		sc.bridge.logger.Warn("Rejected session",
			zap.String("stream_sid", sid),
			zap.Error(err),
		)
		return
	}
	sc.sid = sid

	sc.bridge.logger.Info("Media stream started",
		zap.String("stream_sid", sid),
		zap.String("call_sid", frame.Start.CallSid),
		zap.Bool("persona_selected", selection != ""),
	)

	if sc.bridge.OnCallStart != nil {
		go sc.bridge.OnCallStart(sid, frame.Start.CallSid)
	}
	go sc.bridge.connectAI(session)
}

func (sc *StreamConn) handleMedia(message []byte) {
	var frame twilio.MediaFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		metrics.DecodeError(metrics.LegTelephony)
		sc.bridge.logger.Warn("Failed to parse media frame", zap.Error(err))
		return
	}

	session := sc.bridge.registry.Get(sc.sid)
	if session == nil {
		// Expected after teardown races or media before start; discard.
		metrics.FrameDropped(metrics.LegTelephony)
		sc.bridge.logger.Debug("Media frame for unknown session",
			zap.String("stream_sid", sc.sid),
		)
		return
	}

	session.ForwardCallerAudio(frame.Media.Payload)
}

func (sc *StreamConn) handleStop(message []byte) {
	var frame twilio.StopFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		metrics.DecodeError(metrics.LegTelephony)
		sc.bridge.logger.Warn("Failed to parse stop frame", zap.Error(err))
		return
	}

	// A connection only ever speaks for its own stream. A stop naming a
	// different sid must not reach another connection's session.
	if frame.StreamSid != "" && frame.StreamSid != sc.sid {
		sc.bridge.logger.Warn("Ignoring stop frame for a foreign stream",
			zap.String("bound_sid", sc.sid),
			zap.String("stream_sid", frame.StreamSid),
		)
		return
	}
	if sc.sid == "" {
		sc.bridge.logger.Debug("Stop frame before start")
		return
	}

	sc.bridge.logger.Info("Media stream stopped", zap.String("stream_sid", sc.sid))

	if session := sc.bridge.registry.Get(sc.sid); session != nil {
		session.Close()
	}
}

// Teardown drives the bound session to Closed. A dropped transport is
// equivalent to an explicit stop; neither the session nor its AI leg may
// outlive the connection.
func (sc *StreamConn) Teardown() {
	if sc.sid == "" {
		return
	}
	if session := sc.bridge.registry.Get(sc.sid); session != nil {
		session.Close()
	}
}

// Conn is the full duplex telephony connection HandleConnection drives.
// Satisfied by *websocket.Conn.
type Conn interface {
	TelephonyConn
	ReadMessage() (int, []byte, error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// HandleConnection owns one telephony WebSocket for its lifetime: it runs
// the read loop, keeps the connection alive with pings, and guarantees the
// session is torn down when the transport goes away.
func (b *Bridge) HandleConnection(conn Conn) {
	b.handleConnection(conn, pingPeriod)
}

func (b *Bridge) handleConnection(conn Conn, pingEvery time.Duration) {
	sc := b.NewStreamConn(conn)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseNormalClosure,
					websocket.CloseAbnormalClosure) {
					b.logger.Error("Telephony read error", zap.Error(err))
				}
				return
			}
			if messageType == websocket.TextMessage {
				sc.RouteFrame(message)
			}
		}
	}()

	pingTicker := time.NewTicker(pingEvery)
	defer pingTicker.Stop()

	for {
		select {
		case <-done:
			sc.Teardown()
			return
		case <-pingTicker.C:
			// Pings go through the control-frame path, which is safe to
			// use while the session writes media on this connection.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				b.logger.Warn("Failed to ping telephony leg", zap.Error(err))
				sc.Teardown()
				return
			}
		}
	}
}

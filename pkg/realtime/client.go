// Package realtime is a minimal client for the OpenAI Realtime API over
// WebSocket, covering exactly what the voice bridge needs: one session
// configuration event, caller audio appends, and assistant audio deltas.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config carries the dial parameters for one realtime connection.
type Config struct {
	// URL is the full wss endpoint including the model query parameter.
	URL    string
	APIKey string

	// DialTimeout bounds the WebSocket handshake. Zero means no bound.
	DialTimeout time.Duration
}

// SessionConfig is the per-call session configuration sent once after
// connect. Audio formats are fixed to g711_ulaw on both sides; the bridge
// never transcodes.
type SessionConfig struct {
	Voice        string
	Instructions string
	Temperature  float64
}

// Handlers are the callbacks invoked from the client's read loop. All of
// them are optional.
type Handlers struct {
	// AudioDelta receives each response.audio.delta payload (base64 µ-law).
	AudioDelta func(delta string)
	// SessionReady is called on session.created and session.updated, the
	// engine's acknowledgements that it accepts input.
	SessionReady func()
	// Event receives allow-listed diagnostic event types.
	Event func(eventType string)
	// Closed is called exactly once when the read loop exits.
	Closed func(err error)
}

// Client is one WebSocket connection to the realtime engine. Writes are
// serialized; the read loop runs on its own goroutine once Start is called.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	logger    *zap.Logger
}

// Dial opens a realtime connection. The context bounds the handshake
// together with cfg.DialTimeout.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.DialTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

// Start launches the read loop. Call at most once.
func (c *Client) Start(h Handlers) {
	go c.readLoop(h)
}

func (c *Client) readLoop(h Handlers) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if h.Closed != nil {
				h.Closed(err)
			}
			return
		}
		c.dispatch(h, message)
	}
}

// dispatch routes one inbound frame. A malformed frame is logged and
// dropped; it never terminates the connection.
func (c *Client) dispatch(h Handlers, message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Warn("Failed to parse realtime event", zap.Error(err))
		return
	}

	switch env.Type {
	case TypeAudioDelta:
		var ev audioDeltaEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			c.logger.Warn("Failed to parse audio delta", zap.Error(err))
			return
		}
		if h.AudioDelta != nil {
			h.AudioDelta(ev.Delta)
		}

	case TypeSessionCreated, TypeSessionUpdated:
		c.logger.Debug("Realtime session acknowledged", zap.String("type", env.Type))
		if h.SessionReady != nil {
			h.SessionReady()
		}

	case TypeError:
		var ev errorEvent
		if err := json.Unmarshal(message, &ev); err == nil {
			c.logger.Warn("Realtime engine error",
				zap.String("error_type", ev.Error.Type),
				zap.String("code", ev.Error.Code),
				zap.String("message", ev.Error.Message),
			)
		}

	default:
		if diagnosticEvents[env.Type] {
			c.logger.Debug("Realtime event", zap.String("type", env.Type))
			if h.Event != nil {
				h.Event(env.Type)
			}
		}
	}
}

// UpdateSession sends the one-time session.update configuration event.
func (c *Client) UpdateSession(s SessionConfig) error {
	return c.writeJSON(sessionUpdateEvent{
		Type: "session.update",
		Session: sessionPayload{
			TurnDetection:     turnDetection{Type: "server_vad"},
			InputAudioFormat:  "g711_ulaw",
			OutputAudioFormat: "g711_ulaw",
			Voice:             s.Voice,
			Instructions:      s.Instructions,
			Modalities:        []string{"text", "audio"},
			Temperature:       s.Temperature,
		},
	})
}

// AppendAudio forwards one caller audio payload verbatim.
func (c *Client) AppendAudio(payload string) error {
	return c.writeJSON(audioAppendEvent{
		Type:  "input_audio_buffer.append",
		Audio: payload,
	})
}

func (c *Client) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal realtime event: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/pkg/logger"
	"github.com/troikatech/voice-bridge/pkg/retry"
)

// createWebSocketUpgrader creates the media-stream upgrader. Telephony
// providers open the stream server-to-server without an Origin header, so
// origin checks only reject browser connections in production.
func createWebSocketUpgrader(appEnv string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")

			if appEnv == "development" {
				return true
			}
			if origin == "" {
				return true
			}

			logger.Log.Warn("WebSocket connection rejected - unexpected origin",
				zap.String("origin", origin),
				zap.String("remote_addr", r.RemoteAddr),
			)
			return false
		},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// MediaStream is the telephony media-stream WebSocket endpoint. All call
// identity arrives in the start frame, so the upgrade itself carries no
// parameters.
func (h *Handler) MediaStream(c *gin.Context) {
	upgrader := createWebSocketUpgrader(h.cfg.AppEnv)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade to WebSocket",
			zap.Error(err),
			zap.String("remote_addr", c.Request.RemoteAddr),
		)
		return
	}
	defer conn.Close()

	h.logger.Info("Media stream connection established",
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	h.bridge.HandleConnection(conn)
}

// initializeCallRecord creates or updates the call record when a media
// stream starts. Persistence is best effort and never blocks the relay.
func (h *Handler) initializeCallRecord(streamSid, callSid string) {
	if h.mongoClient == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		existing, err := h.mongoClient.NewQuery("calls").
			Select("stream_sid").
			Eq("stream_sid", streamSid).
			FindOne(ctx)
		if err != nil {
			return err
		}

		callData := map[string]interface{}{
			"stream_sid": streamSid,
			"call_sid":   callSid,
			"direction":  "inbound",
			"status":     "in-progress",
			"started_at": time.Now().Format(time.RFC3339),
		}

		if existing != nil {
			_, err = h.mongoClient.NewQuery("calls").
				Eq("stream_sid", streamSid).
				UpdateOne(ctx, callData)
			return err
		}

		callData["created_at"] = time.Now().Format(time.RFC3339)
		_, err = h.mongoClient.NewQuery("calls").Insert(ctx, callData)
		return err
	})
	if err != nil {
		h.logger.Warn("Failed to persist call record",
			zap.String("stream_sid", streamSid),
			zap.Error(err),
		)
	}
}

// finalizeCallRecord marks the call record completed when its session ends.
func (h *Handler) finalizeCallRecord(streamSid string) {
	if h.mongoClient == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	callData := map[string]interface{}{
		"status":   "completed",
		"ended_at": time.Now().Format(time.RFC3339),
	}

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		_, err := h.mongoClient.NewQuery("calls").
			Eq("stream_sid", streamSid).
			UpdateOne(ctx, callData)
		return err
	})
	if err != nil {
		h.logger.Warn("Failed to finalize call record",
			zap.String("stream_sid", streamSid),
			zap.Error(err),
		)
		return
	}

	h.logger.Info("Call record finalized", zap.String("stream_sid", streamSid))
}

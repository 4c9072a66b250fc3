package handlers

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/internal/relay"
	"github.com/troikatech/voice-bridge/pkg/env"
	"github.com/troikatech/voice-bridge/pkg/logger"
	"github.com/troikatech/voice-bridge/pkg/mongo"
	"github.com/troikatech/voice-bridge/pkg/persona"
)

type Handler struct {
	cfg         *env.Config
	redisClient *redis.Client
	mongoClient *mongo.Client
	bridge      *relay.Bridge
	personas    *persona.Registry
	logger      *zap.Logger

	// audioFileName is the per-process name of the pre-rendered audio
	// file, so stale TwiML from an earlier deployment never resolves.
	audioFileName string
}

func NewHandler(
	cfg *env.Config,
	redisClient *redis.Client,
	mongoClient *mongo.Client,
	bridge *relay.Bridge,
	personas *persona.Registry,
) *Handler {
	h := &Handler{
		cfg:           cfg,
		redisClient:   redisClient,
		mongoClient:   mongoClient,
		bridge:        bridge,
		personas:      personas,
		logger:        logger.Log,
		audioFileName: fmt.Sprintf("generated_audio_%s.wav", uuid.NewString()),
	}

	if bridge != nil {
		bridge.OnCallStart = h.initializeCallRecord
		bridge.OnCallEnd = h.finalizeCallRecord
	}

	return h
}

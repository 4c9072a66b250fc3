package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/internal/api/handlers"
	"github.com/troikatech/voice-bridge/internal/relay"
	"github.com/troikatech/voice-bridge/pkg/circuitbreaker"
	"github.com/troikatech/voice-bridge/pkg/env"
	"github.com/troikatech/voice-bridge/pkg/logger"
	"github.com/troikatech/voice-bridge/pkg/middleware"
	"github.com/troikatech/voice-bridge/pkg/mongo"
	"github.com/troikatech/voice-bridge/pkg/otel"
	"github.com/troikatech/voice-bridge/pkg/persona"
	"github.com/troikatech/voice-bridge/pkg/realtime"
)

// BridgeServer wires the telephony webhooks, the media-stream endpoint and
// the AI leg dialer into one process.
type BridgeServer struct {
	cfg         *env.Config
	redisClient *redis.Client
	handler     *handlers.Handler
}

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize OpenTelemetry if enabled
	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing("voice-bridge", "1.0.0", cfg.OTELEndpoint)
		if err != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			defer shutdown()
			logger.Log.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	logger.Log.Info("Starting Voice Bridge",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
	)

	// Redis backs webhook rate limiting; optional in development.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Log.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opt)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			cancel()
			logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		cancel()
	} else {
		logger.Log.Warn("REDIS_URL not set, webhook rate limiting disabled")
	}

	// MongoDB keeps call records; optional in development.
	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		mongoClient, err = mongo.NewClient(cfg.MongoURI, cfg.DBName)
		if err != nil {
			logger.Log.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoClient.Disconnect(ctx); err != nil {
				logger.Log.Warn("Failed to disconnect MongoDB", zap.Error(err))
			}
		}()
	} else {
		logger.Log.Warn("MONGO_URI not set, call records disabled")
	}

	// Persona registry is immutable from here on; every call resolves
	// against this one snapshot.
	personas, err := persona.LoadFile(cfg.PersonaFile, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to load persona file", zap.Error(err))
	}
	logger.Log.Info("Persona registry loaded", zap.Int("personas", personas.Len()))

	if cfg.OpenAIApiKey == "" {
		logger.Log.Warn("OPENAI_API_KEY not set, calls will fail to bridge")
	}

	// A breaker around the AI dial sheds load during upstream outages:
	// calls fail immediately instead of each burning a full dial timeout.
	dialTimeout := time.Duration(cfg.AIDialTimeoutMs) * time.Millisecond
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	dialer := func(ctx context.Context) (relay.AILeg, error) {
		var leg relay.AILeg
		err := breaker.Execute(func() error {
			client, err := realtime.Dial(ctx, realtime.Config{
				URL:         cfg.OpenAIRealtimeURL,
				APIKey:      cfg.OpenAIApiKey,
				DialTimeout: dialTimeout,
			}, logger.Log)
			if err != nil {
				return err
			}
			leg = client
			return nil
		})
		return leg, err
	}

	bridge := relay.NewBridge(relay.Config{
		Voice:       cfg.OpenAIVoice,
		Temperature: cfg.OpenAITemperature,
		DialTimeout: dialTimeout,
		SettleDelay: time.Duration(cfg.AISettleDelayMs) * time.Millisecond,
	}, personas, dialer, logger.Log)

	handler := handlers.NewHandler(cfg, redisClient, mongoClient, bridge, personas)

	server := &BridgeServer{
		cfg:         cfg,
		redisClient: redisClient,
		handler:     handler,
	}

	router := server.setupRouter()

	srv := &http.Server{
		Addr:        ":" + cfg.AppPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: media-stream connections are long lived and
		// gorilla takes over the socket after the upgrade.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Log.Info("Voice Bridge listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}

func (s *BridgeServer) setupRouter() *gin.Engine {
	if s.cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())

	if s.cfg.OTELEnabled {
		router.Use(otel.GinMiddleware())
	}

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))

	// CORS
	corsConfig := cors.DefaultConfig()
	if s.cfg.CORSAllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{s.cfg.CORSAllowedOrigins}
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	// Health and metrics
	router.GET("/health", s.handler.HealthCheck)
	router.GET("/metrics", s.handler.GetMetrics)
	router.GET("/metrics/prometheus", s.handler.GetPrometheusMetrics)

	// Telephony webhooks (TwiML). Signature verification happens inside
	// the handlers; rate limiting only with Redis available.
	voice := router.Group("/voice")
	if s.redisClient != nil {
		rateLimiter := middleware.NewRateLimiter(s.redisClient, s.cfg.WebhookRateRPM)
		voice.Use(rateLimiter.Middleware())
	}
	{
		voice.POST("/incoming", s.handler.IncomingCall)
		voice.POST("/gather", s.handler.ProcessGather)
		voice.POST("/play-audio", s.handler.PlayGeneratedAudio)
	}

	// Media stream WebSocket; registered outside the rate-limited group
	// since it is one long-lived connection per call.
	router.GET("/voice/stream", s.handler.MediaStream)

	// Static audio referenced by /voice/play-audio TwiML
	router.GET("/audio/:name", s.handler.ServeAudio)

	return router
}

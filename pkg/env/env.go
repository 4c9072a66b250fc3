package env

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv  string
	AppPort string

	// Twilio webhook verification
	TwilioAuthToken string

	// Public base URL for TwiML callbacks and the media-stream WSS URL
	// (e.g. https://voice.example.com). Falls back to request-host detection.
	PublicBaseURL string

	// OpenAI Realtime API
	OpenAIApiKey      string
	OpenAIRealtimeURL string
	OpenAIVoice       string
	OpenAITemperature float64

	// AI leg timing
	AIDialTimeoutMs int
	AISettleDelayMs int

	MongoURI string
	DBName   string

	RedisURL       string
	WebhookRateRPM int

	// Persona definitions (JSON file, optional; built-in defaults otherwise)
	PersonaFile string

	AudioDir string

	LogLevel           string
	CORSAllowedOrigins string

	OTELEndpoint string
	OTELEnabled  bool
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// Missing .env is fine; production supplies real environment variables.
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		AppPort: getEnv("APP_PORT", "8080"),

		TwilioAuthToken: getEnv("TWILIO_AUTH_TOKEN", ""),
		PublicBaseURL:   getEnv("PUBLIC_BASE_URL", ""),

		OpenAIApiKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIRealtimeURL: getEnv("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"),
		OpenAIVoice:       getEnv("OPENAI_VOICE", "ash"),
		OpenAITemperature: getEnvFloat("OPENAI_TEMPERATURE", 0.8),

		AIDialTimeoutMs: getEnvInt("AI_DIAL_TIMEOUT_MS", 5000),
		AISettleDelayMs: getEnvInt("AI_SETTLE_DELAY_MS", 250),

		// Empty disables call records / rate limiting for local development.
		MongoURI: getEnv("MONGO_URI", ""),
		DBName:   getEnv("DB_NAME", "voicebridge"),

		RedisURL:       getEnv("REDIS_URL", ""),
		WebhookRateRPM: getEnvInt("WEBHOOK_RATE_LIMIT_RPM", 120),

		PersonaFile: getEnv("PERSONA_FILE", ""),

		AudioDir: getEnv("AUDIO_DIR", "/data/audio"),

		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		OTELEndpoint: getEnv("OTEL_ENDPOINT", ""),
		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

// Package config provides environment configuration for the chat server.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Bot generation backends.
const (
	BotBackendProcess = "process"
	BotBackendLLM     = "llm"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	AllowedOrigins     []string

	// Redis settings
	RedisAddr        string
	RedisPassword    string
	RedisRateLimitDB int
	RedisCacheDB     int

	// Chat rate limits
	MessageLimit        int
	MessageWindow       time.Duration
	ChatbotLimit        int
	PremiumChatbotLimit int
	ChatbotWindow       time.Duration

	// Conversation context
	MaxContextMessages int
	ContextExpiry      time.Duration
	SessionTimeout     time.Duration
	HistoryLimit       int

	// Bot invocation
	BotBackend string
	BotCommand string
	BotScript  string
	BotTimeout time.Duration

	// Persistence
	DatabasePath string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string

	// HTTP rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from the environment, after merging any .env file.
func Load() *Config {
	// Existing environment variables take precedence over .env entries.
	_ = godotenv.Load()

	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 30*time.Second),
		AllowedOrigins:     getListEnv("ALLOWED_ORIGINS", []string{"https://*", "http://*"}),

		// Redis
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisRateLimitDB: getIntEnv("REDIS_RATE_LIMIT_DB", 0),
		RedisCacheDB:     getIntEnv("REDIS_CACHE_DB", 1),

		// Rate limits
		MessageLimit:        getIntEnv("MESSAGE_LIMIT", 5),
		MessageWindow:       getDurationEnv("TIME_WINDOW", time.Minute),
		ChatbotLimit:        getIntEnv("CHATBOT_LIMIT", 5),
		PremiumChatbotLimit: getIntEnv("PREMIUM_CHATBOT_LIMIT", 50),
		ChatbotWindow:       getDurationEnv("CHATBOT_TIME_WINDOW", 24*time.Hour),

		// Context
		MaxContextMessages: getIntEnv("MAX_CONTEXT_MESSAGES", 10),
		ContextExpiry:      getDurationEnv("REDIS_CACHE_CONTEXT_EXPIRY", time.Hour),
		SessionTimeout:     getDurationEnv("SESSION_TIMEOUT", 15*time.Minute),
		HistoryLimit:       getIntEnv("HISTORY_LIMIT", 50),

		// Bots
		BotBackend: getEnv("BOT_BACKEND", BotBackendLLM),
		BotCommand: getEnv("BOT_COMMAND", "python"),
		BotScript:  getEnv("BOT_SCRIPT", "scripts/basic_agent.py"),
		BotTimeout: getDurationEnv("BOT_TIMEOUT", 90*time.Second),

		// Persistence
		DatabasePath: getEnv("DATABASE_PATH", "botchat.db"),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "openai"),
		LLMModel:        getEnv("LLM_MODEL", ""),

		// HTTP rate limiting
		RateLimitRequests: getIntEnv("HTTP_RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("HTTP_RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate reports configuration that would make the chat path misbehave.
func (c *Config) Validate() error {
	var errs []error

	positive := map[string]int{
		"MESSAGE_LIMIT":         c.MessageLimit,
		"CHATBOT_LIMIT":         c.ChatbotLimit,
		"PREMIUM_CHATBOT_LIMIT": c.PremiumChatbotLimit,
		"MAX_CONTEXT_MESSAGES":  c.MaxContextMessages,
		"HISTORY_LIMIT":         c.HistoryLimit,
	}
	for key, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, v))
		}
	}

	durations := map[string]time.Duration{
		"TIME_WINDOW":                c.MessageWindow,
		"CHATBOT_TIME_WINDOW":        c.ChatbotWindow,
		"REDIS_CACHE_CONTEXT_EXPIRY": c.ContextExpiry,
		"SESSION_TIMEOUT":            c.SessionTimeout,
		"BOT_TIMEOUT":                c.BotTimeout,
	}
	for key, d := range durations {
		if d < time.Second {
			errs = append(errs, fmt.Errorf("%s must be at least 1s, got %s", key, d))
		}
	}

	switch c.BotBackend {
	case BotBackendProcess, BotBackendLLM:
	default:
		errs = append(errs, fmt.Errorf("unknown BOT_BACKEND %q", c.BotBackend))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

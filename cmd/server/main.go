// Package main is the entry point for the chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/botchat/internal/bot"
	"github.com/capitalize-ai/botchat/internal/config"
	"github.com/capitalize-ai/botchat/internal/contextcache"
	"github.com/capitalize-ai/botchat/internal/gateway"
	"github.com/capitalize-ai/botchat/internal/handler"
	"github.com/capitalize-ai/botchat/internal/llm"
	"github.com/capitalize-ai/botchat/internal/middleware"
	natsclient "github.com/capitalize-ai/botchat/internal/nats"
	"github.com/capitalize-ai/botchat/internal/presence"
	"github.com/capitalize-ai/botchat/internal/ratelimit"
	"github.com/capitalize-ai/botchat/internal/service"
	"github.com/capitalize-ai/botchat/internal/session"
	"github.com/capitalize-ai/botchat/internal/store"
	"github.com/capitalize-ai/botchat/pkg/logger"
	"github.com/capitalize-ai/botchat/pkg/tracing"
)

// relay carries roster events from the admin API to the gateway.
type relay interface {
	service.Publisher
	Subscribe(ctx context.Context, h natsclient.Handler) error
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting chat server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "botchat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Persistence
	st, err := store.OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer st.Close()

	if n, err := store.SeedBots(ctx, st, store.DefaultBots()); err != nil {
		log.Fatal("failed to seed bots", zap.Error(err))
	} else if n > 0 {
		log.Info("seeded default bots", zap.Int("count", n))
	}

	// Redis: one database for counters, one for conversation context
	rateRedis := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisRateLimitDB,
	})
	defer rateRedis.Close()
	cacheRedis := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisCacheDB,
	})
	defer cacheRedis.Close()

	// Roster relay
	var (
		rosterRelay relay
		natsConn    *natsclient.Client
	)
	if cfg.NATSURL != "" {
		natsConn, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsConn.Close()

		streamRelay := natsclient.NewStreamRelay(natsConn, log)
		if err := streamRelay.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		rosterRelay = streamRelay
	} else {
		log.Info("NATS_URL not set, relaying roster events in-process")
		rosterRelay = natsclient.NewLocalRelay()
	}

	// Bot generation
	gen, err := newGenerator(cfg, log)
	if err != nil {
		log.Fatal("failed to configure bot backend", zap.Error(err))
	}

	// Chat core
	verifier := middleware.NewVerifier(cfg.JWTSecret)
	registry := presence.NewRegistry(st)
	limiter := ratelimit.New(rateRedis, ratelimit.Limits{
		MessageLimit:    cfg.MessageLimit,
		MessageWindow:   cfg.MessageWindow,
		BotLimit:        cfg.ChatbotLimit,
		PremiumBotLimit: cfg.PremiumChatbotLimit,
		BotWindow:       cfg.ChatbotWindow,
	}, log)
	cache := contextcache.New(cacheRedis, cfg.MaxContextMessages, cfg.ContextExpiry, log)
	timers := session.New(cfg.SessionTimeout, cache, bot.NewSummarizer(gen, cfg.BotTimeout), st, log)
	defer timers.Stop()

	gw := gateway.New(gateway.Options{
		Verifier:       verifier,
		Store:          st,
		Presence:       registry,
		Limiter:        limiter,
		Cache:          cache,
		Timers:         timers,
		Invoker:        bot.NewInvoker(gen, st, cfg.BotTimeout, log),
		Logger:         log,
		HistoryLimit:   cfg.HistoryLimit,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	if err := rosterRelay.Subscribe(ctx, gw.HandleRosterEvent); err != nil {
		log.Fatal("failed to subscribe to roster events", zap.Error(err))
	}

	// Readiness checks
	checks := map[string]handler.Pinger{
		"database": st.Ping,
		"redis": func(ctx context.Context) error {
			if err := rateRedis.Ping(ctx).Err(); err != nil {
				return err
			}
			return cacheRedis.Ping(ctx).Err()
		},
	}
	if natsConn != nil {
		checks["nats"] = natsConn.Ping
	}

	// Initialize handlers
	router := handler.NewRouter(handler.RouterConfig{
		Logger:            log,
		Verifier:          verifier,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Health:            handler.NewHealthHandler(checks),
		Users:             handler.NewUserHandler(service.NewUserService(st, rosterRelay, log), log),
		Bots:              handler.NewBotHandler(service.NewBotService(st, rosterRelay, log), log),
		Messages:          handler.NewMessageHandler(service.NewMessageService(st, rosterRelay, log), log),
		Realtime:          gw,
	})

	// Create HTTP server. WriteTimeout is left unset because it would cut
	// hijacked websocket connections.
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: cfg.ServerReadTimeout,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Warn("bot invocations still pending at shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newGenerator builds the bot backend selected by BOT_BACKEND.
func newGenerator(cfg *config.Config, log *logger.Logger) (bot.Generator, error) {
	switch cfg.BotBackend {
	case config.BotBackendProcess:
		return &bot.ProcessGenerator{
			Command: cfg.BotCommand,
			Args:    []string{cfg.BotScript},
			Log:     log,
		}, nil
	case config.BotBackendLLM:
		provider := llm.Provider(cfg.DefaultLLM)
		key := cfg.OpenAIAPIKey
		if provider == llm.ProviderAnthropic {
			key = cfg.AnthropicAPIKey
		}
		if key == "" {
			return nil, fmt.Errorf("no API key configured for LLM provider %q", provider)
		}
		client, err := llm.NewClient(provider, key)
		if err != nil {
			return nil, err
		}
		return &bot.LLMGenerator{
			Client:      client,
			Model:       cfg.LLMModel,
			MaxTokens:   1024,
			Temperature: 0.7,
		}, nil
	default:
		return nil, fmt.Errorf("unknown bot backend %q", cfg.BotBackend)
	}
}

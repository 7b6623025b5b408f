package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/room4-2/tripbridge/config"
	"github.com/room4-2/tripbridge/functions"
	"github.com/room4-2/tripbridge/gemini"
	"github.com/room4-2/tripbridge/logging"
	"github.com/room4-2/tripbridge/server"
	"github.com/room4-2/tripbridge/session"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logging.Init(cfg.LogLevel, cfg.LogFormat)

	rdb := connectRedis(cfg, log)
	if rdb != nil {
		defer rdb.Close()
	}

	tools := functions.NewTravelDispatcher(functions.NewCollaborators(nil, rdb, functions.Endpoints{}))
	dialer := &session.GeminiDialer{
		Live: gemini.LiveConfig{
			URL:               cfg.LiveURL,
			APIKey:            cfg.GeminiAPIKey,
			Model:             cfg.LiveModel,
			SystemInstruction: session.DefaultSystemPrompt,
			VoiceName:         cfg.VoiceName,
			ConnectTimeout:    cfg.ConnectTimeout,
		},
		Fallback: gemini.FallbackConfig{
			APIKey:            cfg.GeminiAPIKey,
			Model:             cfg.FallbackModel,
			SystemInstruction: session.DefaultSystemPrompt,
		},
	}
	sessionManager := session.NewManager(cfg, rdb, dialer, tools)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sessionManager.StartCleanupRoutine(ctx)

	srv := server.NewServerWebsocket(cfg, sessionManager)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.Start(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// connectRedis returns nil when redis is unreachable; the bridge then keeps
// its registry and geocode cache in memory.
func connectRedis(cfg *config.Config, log *slog.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, continuing without it", "addr", cfg.RedisURL, "error", err)
		_ = rdb.Close()
		return nil
	}
	log.Info("redis connected", "addr", cfg.RedisURL)
	return rdb
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"askova/internal/ratelimit"
	"askova/internal/util"
	"askova/pkg/ai"
	"askova/services/server/internal/app"
	"askova/services/server/internal/config"
	"askova/services/server/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		util.Fatal("failed to parse session TTL", "err", err)
	}

	generator, err := newGenerator(cfg)
	if err != nil {
		util.Fatal("failed to init generation provider", "err", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:     cfg.DatabaseURL,
		RedisAddr:       cfg.RedisAddr,
		RedisPassword:   cfg.RedisPassword,
		SessionStrategy: cfg.SessionStrategy,
		SessionTTL:      sessionTTL,
		JWTSecret:       cfg.JWTSecret,
		Generator:       generator,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}
	var generateLimits *ratelimit.FixedWindowLimiter
	if cfg.GenerateRateLimitPerMinute > 0 {
		generateLimits, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr,
			cfg.RedisPassword,
			"askova:ratelimit:generate",
			cfg.GenerateRateLimitPerMinute,
			time.Minute,
		)
		if err != nil {
			util.Fatal("failed to init generate rate limiter", "err", err)
		}
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		GenerateLimits: generateLimits,
		TrustedProxies: trustedProxies,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("sync server listening", "addr", addr, "provider", providerName(cfg))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
	}
}

func newGenerator(cfg config.FileConfig) (ai.StreamGenerator, error) {
	switch cfg.LLMProvider {
	case "openai":
		return ai.NewOpenAICompatGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	default:
		return ai.NewGeminiClient(cfg.LLMAPIKey, cfg.LLMModel)
	}
}

func providerName(cfg config.FileConfig) string {
	if cfg.LLMProvider == "" {
		return "gemini"
	}
	return cfg.LLMProvider
}

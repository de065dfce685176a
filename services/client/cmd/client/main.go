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

	"askova/internal/util"
	"askova/services/client/internal/app"
	"askova/services/client/internal/config"
	"askova/services/client/internal/server"
	"askova/services/client/internal/syncer"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)

	sweepInterval, err := config.ParseSweepInterval(cfg.SweepInterval)
	if err != nil {
		util.Fatal("failed to parse sweep interval", "err", err)
	}

	appCore, err := app.New(app.Config{
		DBPath:    cfg.DatabasePath,
		ServerURL: cfg.ServerURL,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := syncer.NewSweeper(appCore.Engine(), appCore.Store(), sweepInterval)
	go sweeper.Run(ctx)

	httpServer := server.New(server.Config{App: appCore})
	addr := "127.0.0.1:" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		appCore.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("client engine listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
	}
}

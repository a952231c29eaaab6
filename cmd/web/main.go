package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"thirdcoast.systems/allthethings/cmd/web/internal/web"
	"thirdcoast.systems/allthethings/internal/application"
	"thirdcoast.systems/allthethings/internal/config"
	"thirdcoast.systems/allthethings/internal/ingest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting web service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := application.OpenStore(ctx, *conf)
	if err != nil {
		slog.Error("failed to open asset store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	services := application.NewServices(*conf, store, application.NewProviderClient(*conf), ingest.NewHTTPProber(conf.ProbeTimeout))

	e, err := web.NewWebserver(services, conf.AdminToken)
	if err != nil {
		slog.Error("failed to create webserver", "error", err)
		os.Exit(1)
	}

	addr := ":" + strconv.Itoa(conf.WebServerPort)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening", "addr", addr)
	if err := e.Start(addr); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Echo returns an error on Shutdown; treat it as normal if context is done.
		if ctx.Err() != nil {
			return
		}
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tripmap-offline/internal/config"
	"tripmap-offline/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: <user config dir>/tripmap-offline/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to start")
	}
	defer app.Shutdown()

	if err := app.Run(ctx); err != nil {
		log.WithError(err).Error("Stopped with error")
	}
}

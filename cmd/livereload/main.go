package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lawnchairsociety/livereload/internal/config"
	"github.com/lawnchairsociety/livereload/internal/connection"
	"github.com/lawnchairsociety/livereload/internal/logger"
	"github.com/lawnchairsociety/livereload/internal/page"
)

func main() {
	configFile := flag.String("config", "data/livereload.yaml", "Path to config YAML file")
	loggingConfig := flag.String("logging", "data/logging.yaml", "Path to logging config YAML file")
	wsURL := flag.String("url", "", "Live-reload WebSocket endpoint (overrides config)")
	pageURL := flag.String("page", "", "Page to load and keep reloaded (overrides config)")
	interval := flag.String("interval", "", "Reconnect interval in seconds (overrides config)")
	flag.Parse()

	// Initialize logger first (before any logging)
	logConfig, _ := logger.LoadConfig(*loggingConfig)
	if err := logger.Initialize(logConfig); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Warning("Failed to load config, using defaults", "path", *configFile, "error", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}

	// Flags win over file and environment
	if *wsURL != "" {
		cfg.Client.URL = *wsURL
	}
	if *pageURL != "" {
		cfg.Client.PageURL = *pageURL
	}
	if *interval != "" {
		v, err := config.ParseReconnectInterval(*interval)
		if err != nil {
			log.Fatalf("Invalid -interval: %v", err)
		}
		cfg.Client.ReconnectInterval = v
	}

	host, err := page.NewHost(cfg.Client, nil, nil)
	if err != nil {
		log.Fatalf("Invalid client config: %v", err)
	}
	host.OnStateChange = func(ev connection.StateEvent) {
		logger.Debug("Connection state changed",
			"connection", ev.ConnID,
			"reconnect", ev.IsReconnectAttempt,
			"from", ev.OldState.String(),
			"to", ev.NewState.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Always("Starting live reload client",
		"url", cfg.Client.URL,
		"page", cfg.Client.PageURL,
		"reconnect_interval", cfg.Client.ReconnectInterval)

	if err := host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Live reload client stopped", "error", err)
		os.Exit(1)
	}
	logger.Always("Live reload client stopped")
}

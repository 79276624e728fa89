package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"cropwatch/internal/config"
	"cropwatch/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	d, err := startDaemon(ctx, cfg, logger)
	if err != nil {
		logging.ErrorWithContext(logger, "daemon failed to start", "daemon_start_failed", logging.Error(err))
		log.Fatalf("start daemon: %v", err)
	}
	defer d.Close()

	<-ctx.Done()
	logger.Info("cropwatchd shutting down")
}

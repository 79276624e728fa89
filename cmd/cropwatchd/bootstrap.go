package main

import (
	"context"
	"fmt"
	"log/slog"

	"cropwatch/internal/config"
	"cropwatch/internal/daemon"
)

func startDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	d, err := daemon.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := d.Start(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cropwatch/internal/cluster"
	"cropwatch/internal/config"
	"cropwatch/internal/event"
)

// Source yields one batch per poll.
type Source interface {
	Fetch(ctx context.Context) (event.Batch, error)
}

// New builds the source selected by cfg.Source.Kind.
func New(cfg *config.Config, table *cluster.Table, logger *slog.Logger) (Source, error) {
	if table == nil {
		table = cluster.DefaultTable()
	}
	opts := Options{FutureOnly: table.FutureOnly, Logger: logger}
	switch cfg.Source.Kind {
	case "http":
		timeout := time.Duration(cfg.Source.TimeoutSeconds) * time.Second
		src, err := NewHTTPSource(cfg.Source.URL, cfg.Source.Token, opts, WithTimeout(timeout))
		if err != nil {
			return nil, err
		}
		return src, nil
	case "file", "":
		return NewFileSource(cfg.Source.Path, opts), nil
	default:
		return nil, fmt.Errorf("unsupported source kind %q", cfg.Source.Kind)
	}
}

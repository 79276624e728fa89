package preflight

import (
	"context"
	"net/url"
	"strings"

	"cropwatch/internal/config"
)

// CheckSourceFromConfig evaluates the configured snapshot source.
func CheckSourceFromConfig(ctx context.Context, cfg *config.Config) Result {
	if cfg == nil {
		return Result{Name: "Snapshot source", Detail: "Unknown"}
	}
	switch cfg.Source.Kind {
	case "http":
		return CheckSnapshotEndpoint(ctx, cfg.Source.URL, cfg.Source.Token)
	default:
		return CheckSnapshotFile(cfg.Source.Path)
	}
}

// CheckNotificationsFromConfig reports whether push delivery is configured.
// It does not publish anything.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	parsed, err := url.Parse(topic)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Name: name, Detail: "ntfy topic is not a URL"}
	}
	return Result{Name: name, Passed: true, Detail: parsed.Host + parsed.Path}
}

package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"cropwatch/internal/cluster"
	"cropwatch/internal/config"
	"cropwatch/internal/event"
)

const userAgent = "Cropwatch-Go/0.1.0"

// Service defines the notification surface used by the scheduler.
type Service interface {
	Notify(ctx context.Context, group cluster.Group) error
	Test(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.Notifications.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.Notifications.RatePerMinute))
	}
	burst := cfg.Notifications.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, burst),
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

func (n *ntfyService) Notify(ctx context.Context, group cluster.Group) error {
	return n.send(ctx, format(group))
}

func (n *ntfyService) Test(ctx context.Context) error {
	data := payload{
		title:    "Cropwatch - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"cropwatch", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

// urgent categories describe a condition needing attention rather than a
// timer running out.
var urgent = map[event.Category]bool{
	event.CategoryBeehiveSwarm: true,
	event.CategorySickAnimals:  true,
}

// format renders the ntfy payload of a group.
func format(group cluster.Group) payload {
	label := CategoryTitle(group.Category)
	name := strings.TrimSpace(group.Name)
	if name == "" || name == string(group.Category) {
		name = label
	}

	var b strings.Builder
	switch {
	case group.Quantity > 0 && group.Quantity != 1:
		b.WriteString(strconv.FormatFloat(group.Quantity, 'f', -1, 64))
		b.WriteString(" × ")
		b.WriteString(name)
	default:
		b.WriteString(name)
	}
	b.WriteString(" ready")
	if group.Count > 1 {
		fmt.Fprintf(&b, " (%d)", group.Count)
	}
	if detail := strings.TrimSpace(group.Detail); detail != "" {
		b.WriteString("\n")
		b.WriteString(detail)
	}

	data := payload{
		title:   "Cropwatch - " + label,
		message: b.String(),
		tags:    []string{"cropwatch", string(group.Category)},
	}
	if urgent[group.Category] {
		data.priority = "high"
	}
	return data
}

var titleCaser = cases.Title(language.English)

// CategoryTitle turns a category identifier into display text, for example
// greenhouse_crops into "Greenhouse Crops".
func CategoryTitle(category event.Category) string {
	return titleCaser.String(strings.ReplaceAll(string(category), "_", " "))
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("ntfy rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Notify(context.Context, cluster.Group) error { return nil }
func (noopService) Test(context.Context) error                  { return nil }

package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cropwatch/internal/cluster"
	"cropwatch/internal/config"
	"cropwatch/internal/event"
	"cropwatch/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Notify(context.Background(), cluster.Group{GroupID: "g", Category: event.CategoryCrops}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsGroups(t *testing.T) {
	tests := []struct {
		name           string
		group          cluster.Group
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "summed harvest",
			group:         cluster.Group{Category: event.CategoryCrops, Name: "Sunflower", Quantity: 5, Count: 2},
			expectTitle:   "Cropwatch - Crops",
			expectMessage: "5 × Sunflower ready (2)",
			expectTags:    "cropwatch,crops",
		},
		{
			name:          "single item",
			group:         cluster.Group{Category: event.CategoryGreenhouseCrops, Name: "Olive", Quantity: 1, Count: 1},
			expectTitle:   "Cropwatch - Greenhouse Crops",
			expectMessage: "Olive ready",
			expectTags:    "cropwatch,greenhouse_crops",
		},
		{
			name: "mixed names with detail",
			group: cluster.Group{
				Category: event.CategoryCooking,
				Name:     "cooking",
				Quantity: 3,
				Count:    3,
				Detail:   "Kitchen; Bakery",
			},
			expectTitle:   "Cropwatch - Cooking",
			expectMessage: "3 × Cooking ready (3)\nKitchen; Bakery",
			expectTags:    "cropwatch,cooking",
		},
		{
			name:           "urgent condition",
			group:          cluster.Group{Category: event.CategoryBeehiveSwarm, Name: "Beehive", Quantity: 2, Count: 2},
			expectTitle:    "Cropwatch - Beehive Swarm",
			expectMessage:  "2 × Beehive ready (2)",
			expectTags:     "cropwatch,beehive_swarm",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Notify(context.Background(), tc.group); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Test(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestNtfyServiceHonoursCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RatePerMinute = 1
	cfg.Notifications.Burst = 1
	svc := notifications.NewService(&cfg)

	if err := svc.Test(context.Background()); err != nil {
		t.Fatalf("first send: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Test(ctx); err == nil {
		t.Fatal("expected rate-limited send to fail on cancelled context")
	}
}

func TestCategoryTitle(t *testing.T) {
	if got := notifications.CategoryTitle(event.CategoryMarketSales); got != "Market Sales" {
		t.Fatalf("unexpected title %q", got)
	}
}

package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cropwatch/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cropwatch.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestReadLastLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	page, err := logs.Read(context.Background(), path, logs.Query{Offset: -1, Limit: 2})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 2 || page.Lines[0] != "b" || page.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", page.Lines)
	}
	if page.Offset != 6 {
		t.Fatalf("expected offset 6, got %d", page.Offset)
	}
}

func TestReadFromOffsetContinues(t *testing.T) {
	path := writeLog(t, "a\nb\n")
	page, err := logs.Read(context.Background(), path, logs.Query{Offset: 2})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 1 || page.Lines[0] != "b" {
		t.Fatalf("unexpected lines: %#v", page.Lines)
	}

	// Offsets past the end reset to the start after truncation.
	page, err = logs.Read(context.Background(), path, logs.Query{Offset: 500})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 2 {
		t.Fatalf("expected re-read after truncation, got %#v", page.Lines)
	}
}

func TestReadFiltersConsoleAndJSON(t *testing.T) {
	content := `2026-01-01T00:00:00Z INFO cycle: poll cycle complete correlation_id=abc events=3
2026-01-01T00:00:01Z INFO cycle: poll cycle complete correlation_id=abcd events=1
{"level":"INFO","msg":"delivered","category":"crops","correlation_id":"abc"}
{"level":"INFO","msg":"delivered","category":"iron","correlation_id":"abc"}
2026-01-01T00:00:02Z WARN reconcile: corrupt record category="greenhouse crops"
`
	path := writeLog(t, content)

	page, err := logs.Read(context.Background(), path, logs.Query{Offset: -1, Limit: 10, Fields: map[string]string{"correlation_id": "abc"}})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 3 {
		t.Fatalf("expected 3 lines for cycle abc, got %#v", page.Lines)
	}

	page, err = logs.Read(context.Background(), path, logs.Query{Offset: -1, Limit: 10, Fields: map[string]string{"category": "greenhouse crops"}})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 1 {
		t.Fatalf("expected quoted value match, got %#v", page.Lines)
	}
}

func TestReadFollowWaitsForLines(t *testing.T) {
	path := writeLog(t, "start\n")

	go func() {
		time.Sleep(100 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = f.WriteString("next\n")
	}()

	page, err := logs.Read(context.Background(), path, logs.Query{Offset: 6, Follow: true, Wait: 3 * time.Second})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 1 || page.Lines[0] != "next" {
		t.Fatalf("unexpected lines: %#v", page.Lines)
	}
}

func TestReadMissingFile(t *testing.T) {
	page, err := logs.Read(context.Background(), filepath.Join(t.TempDir(), "missing.log"), logs.Query{Offset: -1, Limit: 5})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 0 || page.Offset != 0 {
		t.Fatalf("unexpected page %+v", page)
	}
}

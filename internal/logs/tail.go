package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const pollInterval = 250 * time.Millisecond

// Query selects lines from a log file.
type Query struct {
	// Offset is a byte position returned by a previous Page. Negative reads
	// the last Limit matching lines.
	Offset int64
	Limit  int
	Follow bool
	// Wait bounds how long Follow blocks for new lines.
	Wait   time.Duration
	Fields map[string]string
}

// Page is one read result. Offset is where the next read should start.
type Page struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// Read returns log lines matching q. A missing file yields an empty page.
func Read(ctx context.Context, path string, q Query) (Page, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Page{}, nil
		}
		return Page{Offset: q.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Page{Offset: q.Offset}, fmt.Errorf("log path %q is a directory", path)
	}
	if q.Wait < 0 {
		q.Wait = 0
	}
	filter := newFilter(q.Fields)

	var page Page
	if q.Offset < 0 {
		page, err = readLast(path, q.Limit, filter)
	} else {
		offset := q.Offset
		if offset > info.Size() {
			// Truncated or rotated since the caller's last read.
			offset = 0
		}
		page, err = readFrom(path, offset, q.Limit, filter)
	}
	if err != nil {
		return page, err
	}
	if q.Follow && q.Wait > 0 && len(page.Lines) == 0 {
		return follow(ctx, path, page.Offset, q.Limit, q.Wait, filter)
	}
	return page, nil
}

func readLast(path string, limit int, filter filter) (Page, error) {
	file, err := os.Open(path)
	if err != nil {
		return Page{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return Page{}, fmt.Errorf("seek log file: %w", err)
		}
		return Page{Offset: end}, nil
	}

	ring := make([]string, limit)
	count, next := 0, 0
	var end int64
	err = scan(file, func(line string) bool {
		end += int64(len(line)) + 1
		if !filter.match(line) {
			return true
		}
		ring[next] = line
		next = (next + 1) % limit
		if count < limit {
			count++
		}
		return true
	})
	if err != nil {
		return Page{}, err
	}

	lines := make([]string, 0, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := range count {
		lines = append(lines, ring[(start+i)%limit])
	}
	return Page{Lines: lines, Offset: end}, nil
}

func readFrom(path string, offset int64, limit int, filter filter) (Page, error) {
	file, err := os.Open(path)
	if err != nil {
		return Page{Offset: offset}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Page{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	consumed := offset
	err = scan(file, func(line string) bool {
		if limit > 0 && len(lines) >= limit {
			return false
		}
		consumed += int64(len(line)) + 1
		if filter.match(line) {
			lines = append(lines, line)
		}
		return true
	})
	if err != nil {
		return Page{Offset: offset}, err
	}
	return Page{Lines: lines, Offset: consumed}, nil
}

// scan feeds complete lines to fn until it returns false. A trailing partial
// line is left for the next read.
func scan(file *os.File, fn func(string) bool) error {
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if err == nil {
			if !fn(line[:len(line)-1]) {
				break
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read log file: %w", err)
	}
	return nil
}

func follow(ctx context.Context, path string, offset int64, limit int, wait time.Duration, filter filter) (Page, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		page, err := readFrom(path, offset, limit, filter)
		if err != nil {
			return page, err
		}
		offset = page.Offset
		if len(page.Lines) > 0 || time.Now().After(deadline) {
			return page, nil
		}
		select {
		case <-ctx.Done():
			return Page{Offset: offset}, ctx.Err()
		case <-ticker.C:
		}
	}
}

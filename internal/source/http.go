package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cropwatch/internal/event"
)

const (
	userAgent       = "Cropwatch-Go/0.1.0"
	maxSnapshotSize = 16 << 20
)

// HTTPSource fetches the snapshot from an HTTP endpoint.
type HTTPSource struct {
	url        string
	token      string
	opts       Options
	httpClient *http.Client
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithTimeout sets the request timeout of the default client.
func WithTimeout(timeout time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		if timeout > 0 {
			s.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewHTTPSource builds an HTTP source. token, when set, is sent as a bearer token.
func NewHTTPSource(url, token string, opts Options, httpOpts ...HTTPOption) (*HTTPSource, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("snapshot url required")
	}
	s := &HTTPSource{
		url:        url,
		token:      strings.TrimSpace(token),
		opts:       opts,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range httpOpts {
		opt(s)
	}
	return s, nil
}

func (s *HTTPSource) Fetch(ctx context.Context) (event.Batch, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return event.Batch{}, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return event.Batch{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return event.Batch{}, fmt.Errorf("snapshot endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotSize))
	if err != nil {
		return event.Batch{}, fmt.Errorf("read snapshot: %w", err)
	}
	return Decode(data, s.opts)
}

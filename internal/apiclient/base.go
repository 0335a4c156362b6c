package apiclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// loggingRoundTripper logs every outbound call to the backend
type loggingRoundTripper struct {
	inner  http.RoundTripper
	logger *slog.Logger
}

func (l *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := l.inner.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		l.logger.Error("backend request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"duration", duration.String(),
			"error", err,
		)
		return nil, err
	}

	l.logger.Debug("backend request finished",
		"method", req.Method,
		"url", req.URL.String(),
		"status", resp.StatusCode,
		"duration", duration.String(),
	)
	return resp, nil
}

// newHTTPClient wraps the default transport with request logging.
// No Timeout is set: a slow backend holds the request open until it answers.
func newHTTPClient(logger *slog.Logger) *http.Client {
	return &http.Client{
		Transport: &loggingRoundTripper{inner: http.DefaultTransport, logger: logger},
	}
}

// BaseClient binds an http.Client to the backend base URL
type BaseClient struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NewRequest resolves relPath against the base URL.
// relPath must not carry a query string; pass query instead.
func (c *BaseClient) NewRequest(ctx context.Context, method, relPath string, query url.Values, body io.Reader) (*http.Request, error) {
	if strings.Contains(relPath, "?") {
		return nil, fmt.Errorf("apiclient: relPath must not contain a query string: %s", relPath)
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if relPath != "" {
		base.Path = path.Join(base.Path, relPath)
	}
	if query != nil {
		base.RawQuery = query.Encode()
	}
	return http.NewRequestWithContext(ctx, method, base.String(), body)
}

// Do executes req with the wrapped client
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	return c.HTTPClient.Do(req)
}

// Package fetch downloads remote media resources.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/fclairamb/mediasync/internal/apperrors"
	"github.com/fclairamb/mediasync/internal/version"
)

const (
	// DefaultTimeout bounds a single download.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxSize is the largest body accepted (5MB).
	DefaultMaxSize int64 = 5 * 1024 * 1024

	// errorBodyLimit caps how much of a failed response body is kept for the error message.
	errorBodyLimit = 256
)

// Response is a successfully downloaded resource.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client performs single, non-retried GET requests with an optional pacing limiter.
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	maxSize     int64
	userAgent   string
	logger      *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = l
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		if d > 0 {
			client.httpClient.Timeout = d
		}
	}
}

// WithInterval spaces requests at least d apart. Zero disables pacing.
func WithInterval(d time.Duration) ClientOption {
	return func(client *Client) {
		if d > 0 {
			client.rateLimiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithMaxSize sets the largest accepted body in bytes.
func WithMaxSize(n int64) ClientOption {
	return func(client *Client) {
		if n > 0 {
			client.maxSize = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(client *Client) {
		if ua != "" {
			client.userAgent = ua
		}
	}
}

// NewClient creates a new download client.
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		rateLimiter: rate.NewLimiter(rate.Inf, 1),
		maxSize:     DefaultMaxSize,
		userAgent:   version.UserAgent(),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Fetch downloads url. Non-2xx responses, oversized or empty bodies and transport
// failures are returned as errors; the caller decides whether to retry.
func (c *Client) Fetch(ctx context.Context, url string) (*Response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	c.logger.DebugContext(ctx, "fetching resource", "url", url, "max_size", humanize.IBytes(uint64(c.maxSize)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.WarnContext(ctx, "failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, apperrors.NewHTTPError(resp.StatusCode, string(snippet))
	}

	if resp.ContentLength > c.maxSize {
		c.logger.WarnContext(ctx, "resource exceeds size limit, skipping",
			"url", url,
			"size", humanize.IBytes(uint64(resp.ContentLength)),
			"limit", humanize.IBytes(uint64(c.maxSize)),
		)
		return nil, apperrors.ErrFileTooLarge
	}

	// Use LimitReader as a safety net (server might send more than advertised)
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if int64(len(body)) > c.maxSize {
		c.logger.WarnContext(ctx, "resource exceeds size limit during download, skipping",
			"url", url,
			"limit", humanize.IBytes(uint64(c.maxSize)),
		)
		return nil, apperrors.ErrFileTooLarge
	}

	if len(body) == 0 {
		return nil, apperrors.ErrEmptyResponse
	}

	c.logger.DebugContext(ctx, "fetched resource",
		"url", url,
		"content_type", resp.Header.Get("Content-Type"),
		"size", humanize.IBytes(uint64(len(body))))

	return &Response{
		URL:         url,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
	"github.com/vertextoedge/http-ytproxy/internal/port"
)

// Client fetches upstream resources over net/http
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// Ensure Client implements port.Fetcher
var _ port.Fetcher = (*Client)(nil)

// ClientConfig sizes the transport
type ClientConfig struct {
	PoolSize       int           // idle connections kept per host
	HTTP2          bool          // attempt HTTP/2 on TLS connections
	RequestTimeout time.Duration // time allowed for response headers
}

// NewClient creates an upstream client
func NewClient(cfg ClientConfig) *Client {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		// never route through an environment proxy; this process is the proxy
		Proxy:               nil,
		MaxIdleConns:        poolSize * 4,
		MaxIdleConnsPerHost: poolSize,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   cfg.HTTP2,

		// Media segments are already compressed
		DisableCompression: true,

		// Response header timeout (not total download timeout)
		ResponseHeaderTimeout: timeout,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			// redirects are returned to the caller untouched
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

// Fetch issues req. Deadline and cancellation come from ctx; errors wrap
// domain.ErrFetchTimeout or domain.ErrFetchFailed.
func (c *Client) Fetch(ctx context.Context, req *port.FetchRequest) (*port.FetchResponse, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", domain.ErrFetchFailed, err)
	}
	if req.Body != nil && req.ContentLength > 0 {
		httpReq.ContentLength = req.ContentLength
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Range != nil {
		httpReq.Header.Set("Range", req.Range.String())
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err)
	}

	return &port.FetchResponse{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

// Timeout returns the response header timeout
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// CloseIdleConnections closes idle pooled connections
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w: %w", domain.ErrFetchTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

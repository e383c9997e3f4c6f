// Package llmclient is the shared HTTP layer under every provider
// dispatcher: JSON request building, retries with exponential backoff,
// circuit breaking and transparent response decompression.
package llmclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"

	"inferd/internal/core"
)

// Config holds per-provider client settings.
type Config struct {
	// Provider labels errors produced by this client.
	Provider string

	// BaseURL is prepended to every request endpoint.
	BaseURL string

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	Breaker *BreakerConfig
}

// DefaultConfig returns the standard retry and breaker settings.
func DefaultConfig(provider, baseURL string) Config {
	return Config{
		Provider:       provider,
		BaseURL:        baseURL,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		Breaker: &BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Cooldown:         30 * time.Second,
		},
	}
}

// HeaderFunc mutates an outgoing request, typically to attach
// credentials.
type HeaderFunc func(req *http.Request)

// Client wraps an *http.Client with the provider-facing behaviors.
type Client struct {
	httpClient *http.Client
	config     Config
	headers    HeaderFunc
	breaker    *breaker
}

// New builds a Client on the default streaming transport.
func New(config Config, headers HeaderFunc) *Client {
	return NewWithHTTPClient(NewHTTPClient(nil), config, headers)
}

// NewWithHTTPClient builds a Client on a caller-supplied http.Client.
func NewWithHTTPClient(httpClient *http.Client, config Config, headers HeaderFunc) *Client {
	c := &Client{
		httpClient: httpClient,
		config:     config,
		headers:    headers,
	}
	if config.Breaker != nil {
		c.breaker = newBreaker(*config.Breaker)
	}
	return c
}

// SetBaseURL repoints the client, used when a backend moves at runtime.
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// BaseURL returns the current base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request describes one HTTP call. Body is JSON-marshaled when non-nil.
type Request struct {
	Method   string
	Endpoint string
	Body     any
	Headers  map[string]string
}

// Response is a fully read, decompressed HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Do runs req with retries, then unmarshals the response body into out.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return core.NewProviderTransportError(c.config.Provider,
				"failed to decode response: "+err.Error(), err)
		}
	}
	return nil
}

// DoRaw runs req with retries and circuit breaking and returns the raw
// body. Rate limits and 5xx responses retry; everything else fails
// immediately.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, core.NewProviderTransportError(c.config.Provider,
			"circuit open, provider temporarily unavailable", nil)
	}

	var lastErr error
	attempts := c.config.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		resp, err := c.once(ctx, req)
		if err != nil {
			lastErr = err
			c.recordFailure()
			continue
		}

		if retryableStatus(resp.StatusCode) {
			c.recordFailure()
			lastErr = core.ParseProviderError(c.config.Provider, resp.StatusCode, resp.Body, nil)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			if resp.StatusCode >= 500 {
				c.recordFailure()
			}
			return nil, core.ParseProviderError(c.config.Provider, resp.StatusCode, resp.Body, nil)
		}

		c.recordSuccess()
		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, core.NewProviderTransportError(c.config.Provider, "request failed after retries", nil)
}

// DoStream runs req and hands back the live response body. Streaming
// requests never retry; partial output may already have been consumed.
// The returned reader decompresses transparently.
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return nil, core.NewProviderTransportError(c.config.Provider,
			"circuit open, provider temporarily unavailable", nil)
	}

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordFailure()
		return nil, core.NewProviderTransportError(c.config.Provider,
			"request failed: "+err.Error(), err)
	}

	if resp.StatusCode != http.StatusOK {
		body, readErr := readDecoded(resp)
		if readErr != nil {
			body = []byte("failed to read error response")
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.recordFailure()
		}
		return nil, core.ParseProviderError(c.config.Provider, resp.StatusCode, body, nil)
	}

	c.recordSuccess()
	return decodedReader(resp)
}

func (c *Client) once(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderTransportError(c.config.Provider,
			"request failed: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readDecoded(resp)
	if err != nil {
		return nil, core.NewProviderTransportError(c.config.Provider,
			"failed to read response: "+err.Error(), err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	url := c.config.BaseURL + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewProviderTransportError(c.config.Provider,
				"failed to encode request: "+err.Error(), err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewProviderTransportError(c.config.Provider,
			"failed to build request: "+err.Error(), err)
	}

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	// Setting Accept-Encoding by hand disables the transport's automatic
	// gzip handling, so decoding is ours on the way back.
	httpReq.Header.Set("Accept-Encoding", "gzip, br")

	if c.headers != nil {
		c.headers(httpReq)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffFactor, float64(attempt-1))
	if d > float64(c.config.MaxBackoff) {
		d = float64(c.config.MaxBackoff)
	}
	return time.Duration(d)
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}

func retryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusGatewayTimeout
}

// decodedReader wraps the response body according to Content-Encoding.
func decodedReader(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		return &wrappedBody{reader: brotli.NewReader(resp.Body), closer: resp.Body}, nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			_ = resp.Body.Close()
			return nil, err
		}
		return &wrappedBody{reader: gz, closer: resp.Body}, nil
	default:
		return resp.Body, nil
	}
}

func readDecoded(resp *http.Response) ([]byte, error) {
	reader, err := decodedReader(resp)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(reader)
}

type wrappedBody struct {
	reader io.Reader
	closer io.Closer
}

func (w *wrappedBody) Read(p []byte) (int, error) { return w.reader.Read(p) }
func (w *wrappedBody) Close() error               { return w.closer.Close() }

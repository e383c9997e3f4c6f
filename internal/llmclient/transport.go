package llmclient

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// TransportConfig holds the knobs for the shared HTTP transport.
type TransportConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	// Timeout bounds the whole request. Zero means unbounded, which is
	// what streaming completions need; generations can legitimately run
	// for minutes.
	Timeout time.Duration
}

// DefaultTransportConfig returns a configuration tuned for long-lived
// streaming responses. INFERD_HTTP_TIMEOUT and
// INFERD_HTTP_HEADER_TIMEOUT override the two timeouts, as plain
// seconds or Go duration strings.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           30 * time.Second,
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: envDuration("INFERD_HTTP_HEADER_TIMEOUT", 120*time.Second),
		Timeout:               envDuration("INFERD_HTTP_TIMEOUT", 0),
	}
}

// NewHTTPClient builds an *http.Client from cfg. Nil means defaults.
func NewHTTPClient(cfg *TransportConfig) *http.Client {
	if cfg == nil {
		c := DefaultTransportConfig()
		cfg = &c
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// envDuration reads key as integer seconds first, then as a Go
// duration string.
func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	return fallback
}

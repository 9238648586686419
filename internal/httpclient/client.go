// Package httpclient builds the outbound HTTP client shared by provider adapters.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"genrouter/config"
)

// Ceilings used when config.HTTPConfig leaves a timeout unset. Each provider
// call is normally cut much earlier by its own context deadline.
const (
	defaultTimeout       = 600 * time.Second
	defaultHeaderTimeout = 600 * time.Second
)

// New returns a pooled, traced client honoring the timeouts in cfg, given in
// seconds. Non-positive values fall back to the defaults.
func New(cfg config.HTTPConfig) *http.Client {
	timeout := seconds(cfg.Timeout, defaultTimeout)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: seconds(cfg.ResponseHeaderTimeout, defaultHeaderTimeout),
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(transport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "provider " + r.Method + " " + r.URL.Host
			}),
		),
		Timeout: timeout,
	}
}

// Default is New with every timeout at its default.
func Default() *http.Client {
	return New(config.HTTPConfig{})
}

func seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

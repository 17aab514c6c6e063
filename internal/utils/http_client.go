package utils

import (
	"net/http"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// NewHTTPClient returns a pooled client for calls to speech and model
// providers. A zero timeout falls back to 30s.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

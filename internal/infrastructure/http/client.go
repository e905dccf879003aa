package http

import (
	"net/http"
	"time"
)

// ClientConfig holds configuration for plain HTTP clients, such as the one under the blob store SDK.
type ClientConfig struct {
	Timeout time.Duration
	// MaxConnsPerHost caps connections to one host; 0 leaves the transport default.
	MaxConnsPerHost int
	Transport       http.RoundTripper
}

// NewClient creates an HTTP client. A nil config yields a 30s timeout.
func NewClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = &ClientConfig{Timeout: 30 * time.Second}
	}

	client := &http.Client{Timeout: config.Timeout}

	switch {
	case config.Transport != nil:
		client.Transport = config.Transport
	case config.MaxConnsPerHost > 0:
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.MaxConnsPerHost = config.MaxConnsPerHost
		transport.MaxIdleConnsPerHost = config.MaxConnsPerHost
		client.Transport = transport
	}

	return client
}

package httpclient

import (
	"net/http"
	"time"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewStreamingClient creates a client without an overall request timeout,
// for connections that are held open indefinitely (the event stream).
// Dial and TLS handshake still time out.
func NewStreamingClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
		},
	}
}

// NewBearerClient wraps a client so every request carries the given token
// as an Authorization header
func NewBearerClient(client *http.Client, token string) *http.Client {
	wrapped := *client
	wrapped.Transport = &bearerTransport{
		token: token,
		next:  client.Transport,
	}
	return &wrapped
}

type bearerTransport struct {
	token string
	next  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return next.RoundTrip(clone)
}

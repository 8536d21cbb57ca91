// Package httpx builds the outbound HTTP clients used for the engine, audio
// downloads and callback delivery.
package httpx

import (
	"net"
	"net/http"
	"time"
)

// Timeouts bounds an outbound call.
//
// Connect limits TCP dial plus TLS handshake. Request limits how long a call
// may wait for a pooled connection before dialing. Read limits the wait for
// response headers. The overall client timeout is their sum.
type Timeouts struct {
	Connect time.Duration
	Request time.Duration
	Read    time.Duration
}

// Total is the end-to-end bound applied to a single call.
func (t Timeouts) Total() time.Duration {
	return t.Connect + t.Request + t.Read
}

// NewClient returns an http.Client honouring t. Zero fields are left unbounded.
func NewClient(t Timeouts) *http.Client {
	return &http.Client{
		Transport: newTransport(t),
		Timeout:   t.Total(),
	}
}

// NewStreamingClient returns an http.Client for large response bodies. Dial,
// TLS and response headers are bounded by t; reading the body is not, so
// callers must guard against stalled reads themselves.
func NewStreamingClient(t Timeouts) *http.Client {
	return &http.Client{Transport: newTransport(t)}
}

func newTransport(t Timeouts) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   t.Connect,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   t.Connect,
		ResponseHeaderTimeout: t.Read,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		ForceAttemptHTTP2:     true,
	}
}

package agent

import (
	"crypto/tls"
	"net/http"
	"pollsock.it/codec"
	"time"
)

type Option func(*Agent)

// WithChunkSize bounds the payload of one poll.
func WithChunkSize(n int) Option {
	return func(a *Agent) {
		a.chunkSize = n
	}
}

func WithInterval(d time.Duration) Option {
	return func(a *Agent) {
		a.interval = d
	}
}

// WithTimeout bounds one poll, from dial to the end of the response body.
func WithTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.timeout = d
	}
}

func WithPath(path string) Option {
	return func(a *Agent) {
		a.path = path
	}
}

// WithTLS switches the scheme to https.
func WithTLS(config *tls.Config) Option {
	return func(a *Agent) {
		a.tlsConfig = config
	}
}

func WithProxy(rawProxyURL string) Option {
	return func(a *Agent) {
		a.rawProxyURL = rawProxyURL
	}
}

func WithCodec(c codec.Codec) Option {
	return func(a *Agent) {
		a.codec = c
	}
}

// WithHTTPClient replaces the client built from the TLS and proxy options.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Agent) {
		a.client = client
	}
}

package responder

import (
	"crypto/tls"
	"time"
)

type Option func(*Responder)

// WithChunkSize bounds the payload of one response and the accepted request payload.
func WithChunkSize(n int) Option {
	return func(r *Responder) {
		r.chunkSize = n
	}
}

// WithTimeout bounds one poll, from accept to the end of the response.
func WithTimeout(d time.Duration) Option {
	return func(r *Responder) {
		r.timeout = d
	}
}

func WithPath(path string) Option {
	return func(r *Responder) {
		r.path = path
	}
}

func WithTLS(config *tls.Config) Option {
	return func(r *Responder) {
		r.tlsConfig = config
	}
}

// Package responder implements the accepting side of a tunnel. Every accepted connection is one
// poll tick: the request body feeds the inbound buffer, the response body drains the outbound one.
package responder

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"pollsock.it/socket"
	"pollsock.it/utils/errs"
	"pollsock.it/utils/logs"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

var errStarted = errors.New("responder already started")

type Responder struct {
	*socket.Stream

	address   string
	chunkSize int
	timeout   time.Duration
	path      string
	tlsConfig *tls.Config
	logger    *slog.Logger

	lifecycle sync.Mutex
	listener  net.Listener
	cancel    context.CancelFunc
	done      chan struct{}

	// peer is only touched by the serving routine.
	peer     peer
	counters counters
}

// peer maps the offsets of one agent session onto the local stream offsets.
type peer struct {
	session string
	known   bool
	inBase  uint64
	outBase uint64
}

// Stats counts poll activity since the responder was created.
type Stats struct {
	Ticks          uint64
	Failures       uint64
	SentBytes      uint64
	ReceivedBytes  uint64
	DuplicateBytes uint64
}

type counters struct {
	ticks, failures, sent, received, duplicates atomic.Uint64
}

// New builds a responder for address ("host:port", empty host for all interfaces).
// Nothing is bound until Listen or Start.
func New(address string, logger *slog.Logger, options ...Option) (*Responder, error) {
	r := &Responder{
		Stream:    socket.NewStream(),
		address:   address,
		chunkSize: socket.DefaultChunkSize,
		timeout:   socket.DefaultTimeout,
		path:      socket.DefaultPath,
	}

	for _, option := range options {
		option(r)
	}

	switch {
	case r.chunkSize <= 0 || r.chunkSize > socket.MaxPayload:
		return nil, fmt.Errorf("chunk size must be in [1, %d], got %d", socket.MaxPayload, r.chunkSize)
	case r.timeout <= 0:
		return nil, fmt.Errorf("timeout must be positive, got %s", r.timeout)
	case !strings.HasPrefix(r.path, "/"):
		return nil, fmt.Errorf("path must start with '/', got %q", r.path)
	}

	r.logger = logs.OrDiscard(logger).With("role", "responder")
	return r, nil
}

// Listen binds the listening address.
func (r *Responder) Listen() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.listener != nil {
		return nil
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", r.address)
	if err != nil {
		return errs.WithStack(err)
	}
	if r.tlsConfig != nil {
		listener = tls.NewListener(listener, r.tlsConfig)
	}

	r.listener = listener
	r.logger.Info("listening", "address", listener.Addr().String(), "path", r.path, "tls", r.tlsConfig != nil)
	return nil
}

// Addr is the bound address, nil before Listen.
func (r *Responder) Addr() net.Addr {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Start binds if needed and serves in the background until ctx is done or Close is called.
func (r *Responder) Start(ctx context.Context) error {
	if err := r.Listen(); err != nil {
		return err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.done != nil {
		return errStarted
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	listener, done := r.listener, r.done

	go func() {
		select {
		case <-ctx.Done():
			_ = listener.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(done)
		if err := r.Serve(listener); err != nil {
			r.logger.Error("service stopped", "error", err)
		}
	}()
	return nil
}

// Serve accepts connections one at a time, each one being a poll tick.
// Accept errors, file descriptor exhaustion included, are retried with a growing delay;
// Serve returns nil once the listener is closed.
func (r *Responder) Serve(listener net.Listener) error {
	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			delay = min(max(2*delay, minAcceptDelay), maxAcceptDelay)
			r.counters.failures.Add(1)
			r.logger.Warn("accept failed", "error", err, "retry", delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		if err := r.serveConn(conn); err != nil {
			r.counters.failures.Add(1)
			if errs.Transient(err) {
				r.logger.Debug("poll dropped", "client", conn.RemoteAddr().String(), "error", err)
			} else {
				r.logger.Warn("poll dropped", "client", conn.RemoteAddr().String(), "error", err)
			}
		}
	}
}

// Close stops serving, waits for the current tick and wakes pending receivers.
func (r *Responder) Close() error {
	r.lifecycle.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	var err error
	if r.listener != nil {
		if err = r.listener.Close(); errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	done := r.done
	r.lifecycle.Unlock()

	if done != nil {
		<-done
	}
	_ = r.Stream.Close()
	return errs.WithStack(err)
}

func (r *Responder) Stats() Stats {
	return Stats{
		Ticks:          r.counters.ticks.Load(),
		Failures:       r.counters.failures.Load(),
		SentBytes:      r.counters.sent.Load(),
		ReceivedBytes:  r.counters.received.Load(),
		DuplicateBytes: r.counters.duplicates.Load(),
	}
}

// Package agent implements the polling side of a tunnel: it issues one HTTP request per tick,
// carrying the oldest outbound chunk and bringing back whatever the responder has queued.
package agent

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"log/slog"
	"net/http"
	"net/url"
	"pollsock.it/codec"
	"pollsock.it/socket"
	"pollsock.it/utils/errs"
	"pollsock.it/utils/logs"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var errStarted = errors.New("agent already started")

type Agent struct {
	*socket.Stream

	remote      string
	session     string
	chunkSize   int
	interval    time.Duration
	timeout     time.Duration
	path        string
	rawProxyURL string
	tlsConfig   *tls.Config
	codec       codec.Codec
	client      *http.Client
	url         string
	logger      *slog.Logger

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	tickLock sync.Mutex
	counters counters
}

// Stats counts poll activity since the agent was created.
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

// New builds an agent polling remote ("host:port"). Polling starts with Start.
func New(remote string, logger *slog.Logger, options ...Option) (*Agent, error) {
	a := &Agent{
		Stream:    socket.NewStream(),
		remote:    remote,
		chunkSize: socket.DefaultChunkSize,
		interval:  socket.DefaultInterval,
		timeout:   socket.DefaultTimeout,
		path:      socket.DefaultPath,
		codec:     codec.Raw,
	}

	for _, option := range options {
		option(a)
	}

	if err := a.validate(); err != nil {
		return nil, err
	}

	a.session = uuid.NewString()
	a.logger = logs.OrDiscard(logger).With("role", "agent", "session", a.session)

	scheme := "http"
	if a.tlsConfig != nil {
		scheme = "https"
	}
	a.url = (&url.URL{Scheme: scheme, Host: a.remote, Path: a.path}).String()

	if a.client == nil {
		client, err := a.newClient()
		if err != nil {
			return nil, err
		}
		a.client = client
	}

	return a, nil
}

func (a *Agent) validate() error {
	switch {
	case a.remote == "":
		return errors.New("remote address is required")
	case a.chunkSize <= 0 || a.chunkSize > socket.MaxPayload:
		return fmt.Errorf("chunk size must be in [1, %d], got %d", socket.MaxPayload, a.chunkSize)
	case a.interval <= 0:
		return fmt.Errorf("poll interval must be positive, got %s", a.interval)
	case a.timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %s", a.timeout)
	case !strings.HasPrefix(a.path, "/"):
		return fmt.Errorf("path must start with '/', got %q", a.path)
	case a.codec == nil:
		return errors.New("codec is required")
	}
	return nil
}

func (a *Agent) newClient() (*http.Client, error) {
	httpTransport := http.Transport{
		// One connection per tick, the responder closes it after answering.
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   a.timeout,
		ResponseHeaderTimeout: a.timeout,
		TLSClientConfig:       a.tlsConfig,
	}
	if a.rawProxyURL != "" {
		p, err := url.Parse(a.rawProxyURL)
		if err != nil {
			return nil, errs.WithStack(err)
		}
		httpTransport.Proxy = http.ProxyURL(p)
	}

	return &http.Client{
		Transport: &httpTransport,
		Timeout:   a.timeout,
	}, nil
}

// URL is the address polled on every tick.
func (a *Agent) URL() string {
	return a.url
}

func (a *Agent) Session() string {
	return a.session
}

func (a *Agent) Stats() Stats {
	return Stats{
		Ticks:          a.counters.ticks.Load(),
		Failures:       a.counters.failures.Load(),
		SentBytes:      a.counters.sent.Load(),
		ReceivedBytes:  a.counters.received.Load(),
		DuplicateBytes: a.counters.duplicates.Load(),
	}
}

// Start runs the poll loop until ctx is done or Close is called.
func (a *Agent) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.done != nil {
		return errStarted
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	a.logger.Info("polling", "url", a.url, "interval", a.interval, "chunk", a.chunkSize, "codec", a.codec.Name())
	go a.run(ctx)
	return nil
}

func (a *Agent) run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("polling stopped", "reason", context.Cause(ctx))
			return
		case <-ticker.C:
			// failures are logged and retried on the next tick.
			_ = a.Tick(ctx)
		}
	}
}

// Close stops the poll loop, waits for it and wakes pending receivers.
func (a *Agent) Close() error {
	a.lifecycle.Lock()
	if a.cancel != nil {
		a.cancel()
	}
	done := a.done
	a.lifecycle.Unlock()

	if done != nil {
		<-done
	}
	return a.Stream.Close()
}

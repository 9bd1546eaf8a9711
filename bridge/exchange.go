// Package bridge attaches local byte streams (TCP, websocket, SOCKS5, stdio) to a tunnel endpoint.
// A tunnel is one stream: consecutive local connections continue the same bytes.
package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"pollsock.it/socket"
	"pollsock.it/utils/errs"
	"pollsock.it/utils/logs"
	"time"
)

const (
	readBufferSize = 32 * 1024

	minRedial = 100 * time.Millisecond
	maxRedial = 10 * time.Second
)

// Exchange pumps bytes between rw and the tunnel in both directions until either side ends.
// rw is closed on return. A local EOF is a normal end and returns nil.
func Exchange(ctx context.Context, conn socket.Conn, rw io.ReadWriteCloser, logger *slog.Logger) error {
	logger = logs.OrDiscard(logger)
	logger.Debug("exchange opened")

	ctx, cancelPull := context.WithCancel(ctx)
	defer cancelPull()

	pushErrChan := make(chan error, 1)
	go func() {
		pushErrChan <- push(conn, rw)
	}()

	pullErrChan := make(chan error, 1)
	go func() {
		pullErrChan <- pull(ctx, conn, rw)
	}()

	var err error
	select {
	case err = <-pushErrChan:
		// local side is gone, stop taking bytes off the tunnel.
		cancelPull()
		_ = rw.Close()
		<-pullErrChan
	case err = <-pullErrChan:
		// closing rw unblocks the pending Read.
		_ = rw.Close()
		<-pushErrChan
	}

	logger.Debug("exchange closed", "error", err)
	return err
}

func push(conn socket.Conn, r io.Reader) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			// Write copies, buf can be reused.
			_, _ = conn.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errs.WithStack(err)
		}
	}
}

func pull(ctx context.Context, conn socket.Conn, w io.Writer) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.ReadContext(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errs.WithStack(err)
		}

		if _, err := w.Write(buf[:n]); err != nil {
			return errs.WithStack(err)
		}
	}
}

// ServeTCP accepts local clients one at a time and exchanges each with the tunnel.
// It returns nil once ctx is done or the listener is closed.
func ServeTCP(ctx context.Context, listener net.Listener, conn socket.Conn, logger *slog.Logger) error {
	logger = logs.OrDiscard(logger)
	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()

	logger.Info("serving local clients", "address", listener.Addr().String())
	for {
		client, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return errs.WithStack(err)
		}

		clientLogger := logger.With("client", client.RemoteAddr().String())
		clientLogger.Info("local client attached")
		if err := Exchange(ctx, conn, client, clientLogger); err != nil {
			clientLogger.Warn("local client detached", "error", err)
		} else {
			clientLogger.Info("local client detached")
		}
	}
}

// DialTCP connects the tunnel to a local service at address and dials again each time
// that connection ends, backing off while the service is unreachable.
func DialTCP(ctx context.Context, address string, conn socket.Conn, logger *slog.Logger) error {
	logger = logs.OrDiscard(logger).With("service", address)

	var dialer net.Dialer
	delay := minRedial
	for {
		service, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("dial failed", "error", err, "retry", delay)
			if !sleep(ctx, delay) {
				return nil
			}
			delay = min(2*delay, maxRedial)
			continue
		}
		delay = minRedial

		logger.Info("service attached", "local", service.LocalAddr().String())
		if err := Exchange(ctx, conn, service, logger); err != nil {
			logger.Warn("service detached", "error", err)
		} else {
			logger.Info("service detached")
		}

		if !sleep(ctx, minRedial) {
			return nil
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stdio sends stdin into the tunnel and writes tunnel bytes to stdout.
// The end of stdin does not stop the output; Stdio returns once the tunnel closes or ctx is done.
// A blocking stdin read cannot be interrupted, so it is left behind instead of waited for.
func Stdio(ctx context.Context, conn socket.Conn, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	logger = logs.OrDiscard(logger)
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}

	go func() {
		if err := push(conn, stdin); err != nil {
			logger.Warn("stdin failed", "error", err)
			return
		}
		logger.Debug("stdin closed")
	}()

	err := pull(ctx, conn, stdout)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

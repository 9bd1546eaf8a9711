package bridge

import (
	"context"
	"errors"
	"github.com/things-go/go-socks5"
	"github.com/things-go/go-socks5/statute"
	"io"
	"log"
	"log/slog"
	"net"
	"pollsock.it/socket"
	"pollsock.it/utils/errs"
	"pollsock.it/utils/logs"
	"sync"
)

// ServeSocks5 is a SOCKS5 front-end for applications that cannot attach any other way.
// Every CONNECT is answered with success and piped into the tunnel whatever its destination,
// the far end of the tunnel decides where the bytes go. While a client is attached, other
// requests get a server failure reply. It returns nil once ctx is done or the listener is closed.
func ServeSocks5(ctx context.Context, listener net.Listener, conn socket.Conn, logger *slog.Logger) error {
	logger = logs.OrDiscard(logger).With("attach", "socks5")

	var attached sync.Mutex
	server := socks5.NewServer(
		socks5.WithLogger(socks5.NewLogger(log.New(io.Discard, "", 0))),
		socks5.WithResolver(nopResolver{}),
		socks5.WithConnectHandle(func(_ context.Context, writer io.Writer, request *socks5.Request) error {
			clientLogger := logger.With("client", request.RemoteAddr.String(), "destination", request.DstAddr.String())

			if !attached.TryLock() {
				clientLogger.Warn("client rejected", "error", errBusy)
				if err := socks5.SendReply(writer, statute.RepServerFailure, nil); err != nil {
					return errs.WithStack(err)
				}
				return errBusy
			}
			defer attached.Unlock()

			if err := socks5.SendReply(writer, statute.RepSuccess, nil); err != nil {
				return errs.WithStack(err)
			}

			clientLogger.Info("socks5 client attached")
			err := Exchange(ctx, conn, &socksStream{Reader: request.Reader, Writer: writer}, clientLogger)
			clientLogger.Info("socks5 client detached", "error", err)
			return err
		}),
	)

	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()

	logger.Info("serving socks5", "address", "socks5://"+listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
		return errs.WithStack(err)
	}
	return nil
}

// socksStream is the client side of a CONNECT, the writer being the client connection.
type socksStream struct {
	io.Reader
	io.Writer
}

func (s *socksStream) Close() error {
	if closer, ok := s.Writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// nopResolver leaves domain names unresolved, they are only logged.
type nopResolver struct{}

// Resolve implement interface NameResolver
func (d nopResolver) Resolve(ctx context.Context, _ string) (context.Context, net.IP, error) {
	return ctx, net.IP{}, nil
}

package socket

import (
	"context"
	"errors"
	"io"
	"time"
)

/// A tunnel is one ordered byte stream emulated over HTTP polls.
///
/// Send Procedure:
/// Send -> Outbound -> reserved by a poll tick -> HTTP body -> acknowledged by the peer -> removed
///
/// Receive Procedure:
/// HTTP body -> Inbound.Deliver (duplicates skipped) -> Recv/Read

const (
	DefaultChunkSize = 1024
	DefaultInterval  = 100 * time.Millisecond
	DefaultTimeout   = 8 * time.Second
	DefaultPath      = "/"

	// HeaderMargin bounds the request line plus headers a responder accepts.
	HeaderMargin = 4096

	// MaxPayload bounds the payload of one poll whatever chunk size either end uses.
	MaxPayload = 1 << 20
)

var (
	ErrClosed       = errors.New("socket closed")
	ErrNegativeSize = errors.New("negative receive size")
)

// Socket is the capability shared by both tunnel roles.
type Socket interface {
	// Send queues data, it never blocks and never fails.
	Send(data any)

	// Recv blocks until exactly size bytes can be returned.
	Recv(size int) ([]byte, error)
}

// Conn is a Socket which can also be driven as a byte stream, as local attachments do.
type Conn interface {
	Socket
	io.Reader
	io.Writer

	RecvContext(ctx context.Context, size int) ([]byte, error)
	ReadContext(ctx context.Context, p []byte) (int, error)
}

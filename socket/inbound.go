package socket

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// GapError is a payload starting beyond the bytes received so far.
type GapError struct {
	Want uint64
	Got  uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("payload gap: want offset %d, got %d", e.Want, e.Got)
}

// Inbound holds the bytes received from the peer and not yet read.
type Inbound struct {
	mu       sync.Mutex
	buf      []byte
	received uint64
	closed   bool

	// ready is closed and replaced whenever buf grows or the stream closes.
	ready chan struct{}
}

func NewInbound() *Inbound {
	return &Inbound{ready: make(chan struct{})}
}

// Append adds p at the tail without sequencing.
func (in *Inbound) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	in.push(p)
}

// Deliver adds the part of p not received yet, p being the bytes starting at stream offset.
// It returns how many bytes were fresh.
func (in *Inbound) Deliver(offset uint64, p []byte) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return 0, ErrClosed
	}
	if offset > in.received {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, &GapError{Want: in.received, Got: offset}
	}

	skip := in.received - offset
	if skip >= uint64(len(p)) {
		return 0, nil
	}

	fresh := p[skip:]
	in.push(fresh)
	return len(fresh), nil
}

func (in *Inbound) push(p []byte) {
	in.buf = append(in.buf, p...)
	in.received += uint64(len(p))
	in.wake()
}

func (in *Inbound) wake() {
	close(in.ready)
	in.ready = make(chan struct{})
}

// Received is the number of bytes accepted so far, read or not.
func (in *Inbound) Received() uint64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.received
}

// Buffered is the number of bytes waiting to be read.
func (in *Inbound) Buffered() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.buf)
}

// RecvContext waits until size bytes are buffered, then removes and returns exactly size bytes.
func (in *Inbound) RecvContext(ctx context.Context, size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrNegativeSize
	}

	for {
		in.mu.Lock()
		if len(in.buf) >= size {
			data := make([]byte, size)
			copy(data, in.buf)
			in.consume(size)
			in.mu.Unlock()
			return data, nil
		}
		if in.closed {
			in.mu.Unlock()
			return nil, ErrClosed
		}
		ready := in.ready
		in.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Read blocks until at least one byte is buffered.
func (in *Inbound) Read(p []byte) (int, error) {
	return in.ReadContext(context.Background(), p)
}

// ReadContext is Read with cancellation. It returns io.EOF once closed and drained.
func (in *Inbound) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		in.mu.Lock()
		if len(in.buf) > 0 {
			n := copy(p, in.buf)
			in.consume(n)
			in.mu.Unlock()
			return n, nil
		}
		if in.closed {
			in.mu.Unlock()
			return 0, io.EOF
		}
		ready := in.ready
		in.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (in *Inbound) consume(n int) {
	in.buf = in.buf[n:]
	if len(in.buf) == 0 {
		in.buf = nil
	}
}

// Close wakes every waiter; buffered bytes stay readable.
func (in *Inbound) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if !in.closed {
		in.closed = true
		in.wake()
	}
}

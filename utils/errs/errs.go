package errs

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"syscall"
)

const (
	stackSkip = 1
	stackMax  = 6 // Should not be greater than 10
)

type wrapper struct {
	err error
}

func (w *wrapper) Error() string {
	return w.err.Error()
}

func (w *wrapper) Unwrap() error {
	return w.err
}

type withSource struct {
	wrapper
	file string
	line int
}

// WithSource records the caller position, which is printed when the error is logged.
func WithSource(err error) error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(stackSkip)
	return &withSource{
		wrapper{err: err},
		file,
		line,
	}
}

func (e *withSource) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("reason", e.err.Error()),
		slog.String("source", fmt.Sprintf("%s:%d", e.file, e.line)))
}

type withStack struct {
	wrapper
	frames *runtime.Frames
}

// WithStack records up to stackMax frames of the caller.
func WithStack(err error) error {
	if err == nil {
		return nil
	}

	// Already carrying a position, keep the innermost one.
	var ws *withStack
	if errors.As(err, &ws) {
		return err
	}

	pcs := make([]uintptr, stackMax+1)
	n := runtime.Callers(stackSkip+1, pcs)

	return &withStack{
		wrapper{err: err},
		runtime.CallersFrames(pcs[:n]),
	}
}

func (e *withStack) LogValue() slog.Value {
	attrs := make([]slog.Attr, 1, stackMax+1)

	attrs[0] = slog.String("reason", e.err.Error())

	i := 0
	for {
		frame, more := e.frames.Next()
		if !more {
			break
		}
		attrs = append(attrs,
			slog.String(
				fmt.Sprintf("frame%d", i),
				fmt.Sprintf("%s:%d", frame.File, frame.Line)))
		i++
	}

	return slog.GroupValue(attrs...)
}

// StatusError is a poll answered with a non-success HTTP status.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s", e.Status)
}

func (e *StatusError) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("code", e.Code),
		slog.String("status", e.Status))
}

// Transient reports whether a failed poll is worth retrying unchanged on the next tick:
// timeouts, refused or reset connections, truncated streams and server side statuses.
// Statuses like 404 or 413 point at a configuration mismatch instead.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500 || status.Code == http.StatusRequestTimeout || status.Code == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed)
}

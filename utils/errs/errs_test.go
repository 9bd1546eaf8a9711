package errs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"syscall"
	"testing"
)

func Test_WithSource(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))

	err := func() error {
		return func() error {
			return WithSource(fmt.Errorf("bombed"))
		}()
	}()

	logger.Warn("Test_WithSource", "error", err)
	if WithSource(nil) != nil {
		t.Fatal("WithSource(nil) should be nil")
	}
}

var errBoomed = errors.New("boomed")

func a() error {
	return b()
}

func b() error {
	return WithStack(errBoomed)
}

func Test_WithStack(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))

	err := a()
	if !errors.Is(err, errBoomed) {
		t.Fatal("WithStack should unwrap to the original error")
	}
	logger.Warn("Test_WithStack", "error", err)

	if WithStack(err) != err {
		t.Fatal("WithStack should not wrap twice")
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func Test_Transient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status", &StatusError{Code: 502, Status: "502 Bad Gateway"}, true},
		{"wrapped status", WithStack(&StatusError{Code: 500, Status: "500"}), true},
		{"throttled", &StatusError{Code: 429, Status: "429 Too Many Requests"}, true},
		{"wrong path", &StatusError{Code: 404, Status: "404 Not Found"}, false},
		{"too large", &StatusError{Code: 413, Status: "413 Request Entity Too Large"}, false},
		{"timeout", &net.OpError{Op: "read", Err: timeoutError{}}, true},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, true},
		{"eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"canceled", context.Canceled, false},
		{"other", errors.New("bad header"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transient(tt.err); got != tt.want {
				t.Errorf("Transient() = %v, want %v", got, tt.want)
			}
		})
	}
}

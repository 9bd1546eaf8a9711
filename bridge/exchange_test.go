package bridge

import (
	"bytes"
	"context"
	"io"
	"net"
	"pollsock.it/socket"
	"strings"
	"sync"
	"testing"
	"time"
)

// waitOutbound waits until the bytes queued for the far end are want.
func waitOutbound(t *testing.T, s *socket.Stream, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		got := string(s.Outbound().Reserve(1 << 20).Data)
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("outbound %q, want %q", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readN(t *testing.T, r io.Reader, n int) string {
	t.Helper()
	if conn, ok := r.(net.Conn); ok {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatal("ReadFull:", err)
	}
	return string(buf)
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("Listen:", err)
	}
	t.Cleanup(func() {
		_ = listener.Close()
	})
	return listener
}

func Test_ServeTCP(t *testing.T) {
	s := socket.NewStream()
	listener := listen(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ServeTCP(ctx, listener, s, nil)
	}()

	first, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatal("Dial:", err)
	}
	_, _ = first.Write([]byte("hello"))
	waitOutbound(t, s, "hello")

	s.Inbound().Append([]byte("world"))
	if got := readN(t, first, 5); got != "world" {
		t.Fatalf("first client read %q", got)
	}
	_ = first.Close()

	// the next client continues the same stream.
	second, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatal("Dial:", err)
	}
	defer func() {
		_ = second.Close()
	}()
	_, _ = second.Write([]byte(" again"))
	waitOutbound(t, s, "hello again")

	s.Inbound().Append([]byte("!"))
	if got := readN(t, second, 1); got != "!" {
		t.Fatalf("second client read %q", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal("ServeTCP:", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ServeTCP did not stop")
	}
}

func Test_DialTCP(t *testing.T) {
	s := socket.NewStream()
	service := listen(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- DialTCP(ctx, service.Addr().String(), s, nil)
	}()

	accept := func() net.Conn {
		t.Helper()
		conn, err := service.Accept()
		if err != nil {
			t.Fatal("Accept:", err)
		}
		return conn
	}

	conn := accept()
	s.Inbound().Append([]byte("request"))
	if got := readN(t, conn, 7); got != "request" {
		t.Fatalf("service read %q", got)
	}
	_, _ = conn.Write([]byte("reply"))
	waitOutbound(t, s, "reply")
	_ = conn.Close()

	// the service hung up: the bridge dials again.
	conn = accept()
	defer func() {
		_ = conn.Close()
	}()
	s.Inbound().Append([]byte("more"))
	if got := readN(t, conn, 4); got != "more" {
		t.Fatalf("service read %q after redial", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal("DialTCP:", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DialTCP did not stop")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func Test_Stdio(t *testing.T) {
	s := socket.NewStream()
	s.Inbound().Append([]byte("output"))
	_ = s.Close()

	stdout := &syncBuffer{}
	if err := Stdio(context.Background(), s, strings.NewReader("input"), stdout, nil); err != nil {
		t.Fatal("Stdio:", err)
	}
	if stdout.String() != "output" {
		t.Fatalf("stdout %q", stdout.String())
	}
	waitOutbound(t, s, "input")
}

func Test_Stdio_Cancel(t *testing.T) {
	s := socket.NewStream()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	stdin, _ := io.Pipe()
	if err := Stdio(ctx, s, stdin, io.Discard, nil); err != nil {
		t.Fatal("Stdio:", err)
	}
}

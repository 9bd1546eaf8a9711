package socket

import "context"

// Stream owns the two buffers of one tunnel endpoint.
// Both roles embed a *Stream; the poll loop works on Outbound and Inbound, callers on Send and Recv.
type Stream struct {
	out *Outbound
	in  *Inbound
}

func NewStream() *Stream {
	return &Stream{
		out: &Outbound{},
		in:  NewInbound(),
	}
}

func (s *Stream) Outbound() *Outbound {
	return s.out
}

func (s *Stream) Inbound() *Inbound {
	return s.in
}

// Send accepts []byte, string, or any value rendered by Encode.
func (s *Stream) Send(data any) {
	s.out.Append(Encode(data))
}

func (s *Stream) Recv(size int) ([]byte, error) {
	return s.in.RecvContext(context.Background(), size)
}

func (s *Stream) RecvContext(ctx context.Context, size int) ([]byte, error) {
	return s.in.RecvContext(ctx, size)
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.in.Read(p)
}

func (s *Stream) ReadContext(ctx context.Context, p []byte) (int, error) {
	return s.in.ReadContext(ctx, p)
}

func (s *Stream) Write(p []byte) (int, error) {
	s.out.Append(p)
	return len(p), nil
}

// Close unblocks pending Recv and Read calls. Queued outbound bytes are kept.
func (s *Stream) Close() error {
	s.in.Close()
	return nil
}

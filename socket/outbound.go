package socket

import "sync"

// Outbound holds the bytes queued by Send and not yet acknowledged by the peer.
type Outbound struct {
	mu   sync.Mutex
	buf  []byte
	base uint64 // stream offset of buf[0]
}

// Reservation is a copy of the outbound head taken for one poll tick.
// Nothing is removed until it is committed or acknowledged, so dropping it is the rollback.
type Reservation struct {
	Offset uint64
	Data   []byte
}

// End is the stream offset following the reserved bytes.
func (r Reservation) End() uint64 {
	return r.Offset + uint64(len(r.Data))
}

func (o *Outbound) Append(p []byte) {
	if len(p) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.buf = append(o.buf, p...)
}

// Reserve copies up to max bytes from the head.
func (o *Outbound) Reserve(max int) Reservation {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := min(max, len(o.buf))
	if n <= 0 {
		return Reservation{Offset: o.base}
	}

	data := make([]byte, n)
	copy(data, o.buf)
	return Reservation{Offset: o.base, Data: data}
}

// Commit confirms delivery of a reservation.
func (o *Outbound) Commit(r Reservation) int {
	return o.Ack(r.End())
}

// Ack removes every byte below offset upto and returns how many were removed.
// Stale acknowledgements are ignored, and an acknowledgement past the queued data is clamped.
func (o *Outbound) Ack(upto uint64) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if upto <= o.base {
		return 0
	}

	n := upto - o.base
	if n > uint64(len(o.buf)) {
		n = uint64(len(o.buf))
	}

	o.buf = o.buf[n:]
	if len(o.buf) == 0 {
		o.buf = nil
	}
	o.base += n
	return int(n)
}

// Base is the number of bytes acknowledged so far.
func (o *Outbound) Base() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.base
}

// Pending is the number of queued bytes not yet acknowledged.
func (o *Outbound) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.buf)
}

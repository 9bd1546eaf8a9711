package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"pollsock.it/codec"
	"pollsock.it/socket"
	"pollsock.it/utils/errs"
)

// maxResponseBody bounds a response body whatever chunk size the responder uses.
const maxResponseBody = 16 << 20

// Tick runs one poll: send the outbound head, take the response payload.
// On any failure both buffers are left as they were and the same bytes go out on the next tick.
func (a *Agent) Tick(ctx context.Context) error {
	a.tickLock.Lock()
	defer a.tickLock.Unlock()

	a.counters.ticks.Add(1)

	out, in := a.Outbound(), a.Inbound()
	reservation := out.Reserve(a.chunkSize)
	head := socket.Head{
		Session:   a.session,
		Offset:    reservation.Offset,
		Ack:       in.Received(),
		Sequenced: true,
	}

	payload, peer, err := a.exchange(ctx, &head, reservation.Data)
	if err != nil {
		return a.fail(err, &head)
	}

	fresh := len(payload)
	if peer.Sequenced {
		a.counters.sent.Add(uint64(out.Ack(peer.Ack)))
		if fresh, err = in.Deliver(peer.Offset, payload); err != nil {
			return a.fail(errs.WithStack(err), &peer)
		}
		a.counters.duplicates.Add(uint64(len(payload) - fresh))
	} else {
		a.counters.sent.Add(uint64(out.Commit(reservation)))
		in.Append(payload)
	}
	a.counters.received.Add(uint64(fresh))

	if len(reservation.Data) > 0 || len(payload) > 0 {
		a.logger.Debug("poll", "head", &head, "sent", len(reservation.Data), "peer", &peer, "received", fresh)
	}
	return nil
}

func (a *Agent) exchange(ctx context.Context, head *socket.Head, data []byte) ([]byte, socket.Head, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(a.codec.Encode(data)))
	if err != nil {
		return nil, socket.Head{}, errs.WithStack(err)
	}
	request.Header.Set("Content-Type", a.codec.ContentType())
	head.Write(request.Header)

	resp, err := a.client.Do(request)
	if err != nil {
		return nil, socket.Head{}, errs.WithStack(err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, socket.Head{}, errs.WithStack(&errs.StatusError{Code: resp.StatusCode, Status: resp.Status})
	}

	peer, err := socket.ReadHead(resp.Header)
	if err != nil {
		return nil, socket.Head{}, errs.WithStack(err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, socket.Head{}, errs.WithStack(err)
	}

	payload, err := codec.ByContentType(resp.Header.Get("Content-Type")).Decode(body)
	if err != nil {
		return nil, socket.Head{}, err
	}
	return payload, peer, nil
}

func (a *Agent) fail(err error, head *socket.Head) error {
	a.counters.failures.Add(1)

	var status *errs.StatusError
	switch {
	case errs.Transient(err):
		a.logger.Debug("poll failed, retry on next tick", "head", head, "error", err)
	case errors.As(err, &status) && status.Code == http.StatusRequestEntityTooLarge:
		a.logger.Warn("poll too large for the responder, lower the chunk size", "chunk", a.chunkSize, "error", err)
	default:
		a.logger.Warn("poll failed, retry on next tick", "head", head, "error", err)
	}
	return err
}

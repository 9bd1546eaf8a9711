package responder

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"pollsock.it/codec"
	"pollsock.it/socket"
	"pollsock.it/utils/errs"
	"time"
)

type tick struct {
	codec   codec.Codec
	head    socket.Head
	payload []byte
}

// serveConn runs one poll tick on conn and closes it.
// Inbound progress made before a failure is kept; outbound bytes only leave on acknowledgement,
// or, for legacy polls, once the response is fully written.
func (r *Responder) serveConn(conn net.Conn) error {
	defer func() {
		_ = conn.Close()
	}()

	r.counters.ticks.Add(1)
	if err := conn.SetDeadline(time.Now().Add(r.timeout)); err != nil {
		return errs.WithStack(err)
	}

	request, err := r.readRequest(conn)
	if err != nil {
		return err
	}

	in, out := r.Inbound(), r.Outbound()
	if request.head.Sequenced {
		r.align(&request.head)

		fresh, err := in.Deliver(r.peer.inBase+request.head.Offset, request.payload)
		if err != nil {
			return errs.WithStack(err)
		}
		r.counters.received.Add(uint64(fresh))
		r.counters.duplicates.Add(uint64(len(request.payload) - fresh))
		r.counters.sent.Add(uint64(out.Ack(r.peer.outBase + request.head.Ack)))
	} else {
		in.Append(request.payload)
		r.counters.received.Add(uint64(len(request.payload)))
	}

	reservation := out.Reserve(r.chunkSize)

	var reply *socket.Head
	if request.head.Sequenced {
		reply = &socket.Head{
			Session:   request.head.Session,
			Offset:    reservation.Offset - r.peer.outBase,
			Ack:       in.Received() - r.peer.inBase,
			Sequenced: true,
		}
	}

	if err := writeResponse(conn, http.StatusOK, request.codec, reply, reservation.Data); err != nil {
		return err
	}

	if !request.head.Sequenced {
		r.counters.sent.Add(uint64(out.Commit(reservation)))
	}

	if len(request.payload) > 0 || len(reservation.Data) > 0 {
		r.logger.Debug("poll", "head", &request.head, "received", len(request.payload), "sent", len(reservation.Data))
	}
	return nil
}

// align starts a new offset mapping the first time a session shows up,
// so that restarted agents and responders carry on from the current counters.
func (r *Responder) align(head *socket.Head) {
	if r.peer.known && r.peer.session == head.Session {
		return
	}

	r.peer = peer{
		session: head.Session,
		known:   true,
		inBase:  r.Inbound().Received() - head.Offset,
		outBase: r.Outbound().Base() - head.Ack,
	}
	r.logger.Info("peer session", "head", head)
}

func (r *Responder) readRequest(conn net.Conn) (*tick, error) {
	// the peer may poll with a larger chunk size than ours.
	bodyLimit := int64(codec.Base64.EncodedLen(socket.MaxPayload))
	reader := bufio.NewReader(io.LimitReader(conn, socket.HeaderMargin+bodyLimit))

	request, err := http.ReadRequest(reader)
	if err != nil {
		return nil, errs.WithStack(err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(request.Body)

	if request.URL.Path != r.path {
		_ = writeResponse(conn, http.StatusNotFound, codec.Raw, nil, nil)
		return nil, fmt.Errorf("unknown path %q", request.URL.Path)
	}
	if request.ContentLength > bodyLimit {
		_ = writeResponse(conn, http.StatusRequestEntityTooLarge, codec.Raw, nil, nil)
		return nil, fmt.Errorf("body of %d bytes exceeds %d", request.ContentLength, bodyLimit)
	}

	head, err := socket.ReadHead(request.Header)
	if err != nil {
		_ = writeResponse(conn, http.StatusBadRequest, codec.Raw, nil, nil)
		return nil, err
	}

	body, err := io.ReadAll(request.Body)
	if err != nil {
		return nil, errs.WithStack(err)
	}

	c := codec.ByContentType(request.Header.Get("Content-Type"))
	payload, err := c.Decode(body)
	if err != nil {
		return nil, err
	}
	if len(payload) > socket.MaxPayload {
		_ = writeResponse(conn, http.StatusRequestEntityTooLarge, codec.Raw, nil, nil)
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(payload), socket.MaxPayload)
	}

	return &tick{codec: c, head: head, payload: payload}, nil
}

func writeResponse(conn net.Conn, status int, c codec.Codec, head *socket.Head, payload []byte) error {
	body := c.Encode(payload)
	response := &http.Response{
		StatusCode:    status,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{},
		ContentLength: int64(len(body)),
		Body:          io.NopCloser(bytes.NewReader(body)),
		Close:         true,
	}
	response.Header.Set("Content-Type", c.ContentType())
	if head != nil {
		head.Write(response.Header)
	}

	w := bufio.NewWriter(conn)
	if err := response.Write(w); err != nil {
		return errs.WithStack(err)
	}
	return errs.WithStack(w.Flush())
}

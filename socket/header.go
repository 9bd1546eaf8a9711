package socket

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

const (
	HeaderSession = "X-Pollsock-Session"
	HeaderOffset  = "X-Pollsock-Offset"
	HeaderAck     = "X-Pollsock-Ack"
)

// Head is the sequencing information carried next to each payload.
// A poll without offset and ack headers is a legacy poll: payloads are appended as is.
type Head struct {
	Session   string
	Offset    uint64 // wire offset of the first payload byte
	Ack       uint64 // wire offset received so far from the other side
	Sequenced bool
}

func (h *Head) Write(header http.Header) {
	if h.Session != "" {
		header.Set(HeaderSession, h.Session)
	}
	if h.Sequenced {
		header.Set(HeaderOffset, strconv.FormatUint(h.Offset, 10))
		header.Set(HeaderAck, strconv.FormatUint(h.Ack, 10))
	}
}

func ReadHead(header http.Header) (Head, error) {
	head := Head{Session: header.Get(HeaderSession)}

	rawOffset, rawAck := header.Get(HeaderOffset), header.Get(HeaderAck)
	if rawOffset == "" && rawAck == "" {
		return head, nil
	}
	if rawOffset == "" || rawAck == "" {
		return head, fmt.Errorf("incomplete sequencing headers: offset=%q ack=%q", rawOffset, rawAck)
	}

	var err error
	if head.Offset, err = strconv.ParseUint(rawOffset, 10, 64); err != nil {
		return head, fmt.Errorf("bad %s: %w", HeaderOffset, err)
	}
	if head.Ack, err = strconv.ParseUint(rawAck, 10, 64); err != nil {
		return head, fmt.Errorf("bad %s: %w", HeaderAck, err)
	}
	head.Sequenced = true
	return head, nil
}

func (h *Head) LogValue() slog.Value {
	if !h.Sequenced {
		return slog.GroupValue(slog.String("session", h.Session), slog.Bool("legacy", true))
	}
	return slog.GroupValue(
		slog.String("session", h.Session),
		slog.Uint64("offset", h.Offset),
		slog.Uint64("ack", h.Ack))
}

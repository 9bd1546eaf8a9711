package bridge

import (
	"context"
	"errors"
	"github.com/gorilla/websocket"
	"io"
	"log/slog"
	"net/http"
	"pollsock.it/socket"
	"pollsock.it/utils/errs"
	"pollsock.it/utils/logs"
	"sync"
	"time"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20
)

var errBusy = errors.New("tunnel already attached")

type websocketHandler struct {
	conn     socket.Conn
	logger   *slog.Logger
	upgrader websocket.Upgrader

	// one websocket client at a time, the tunnel is a single stream.
	attached sync.Mutex
}

// WebsocketHandler upgrades requests to a websocket carrying the tunnel stream.
// Text and binary messages go into the tunnel, tunnel bytes come back as binary messages.
// While a client is attached, other upgrade attempts get 503.
func WebsocketHandler(conn socket.Conn, logger *slog.Logger) http.Handler {
	return &websocketHandler{
		conn:   conn,
		logger: logs.OrDiscard(logger).With("attach", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: readBufferSize,
		},
	}
}

func (h *websocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.attached.TryLock() {
		h.logger.Warn("client rejected", "client", r.RemoteAddr, "error", errBusy)
		http.Error(w, errBusy.Error(), http.StatusServiceUnavailable)
		return
	}
	defer h.attached.Unlock()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		h.logger.Error("failed client upgrade", "client", r.RemoteAddr, "error", err)
		return
	}

	logger := h.logger.With("client", r.RemoteAddr)
	logger.Info("websocket client attached")

	ctx, cancel := context.WithCancel(context.Background())
	readErrChan := make(chan error, 1)
	go func() {
		defer cancel()
		readErrChan <- h.readPump(ws)
	}()

	writeErr := h.writePump(ctx, ws)
	cancel()
	_ = ws.Close()
	readErr := <-readErrChan

	logger.Info("websocket client detached", "readError", readErr, "writeError", writeErr)
}

func (h *websocketHandler) readPump(ws *websocket.Conn) error {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { _ = ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errs.WithStack(err)
		}

		_, _ = h.conn.Write(message)
	}
}

// writePump forwards tunnel bytes and pings the peer whenever the tunnel stays quiet for pingPeriod.
func (h *websocketHandler) writePump(ctx context.Context, ws *websocket.Conn) error {
	buf := make([]byte, readBufferSize)
	for {
		readCtx, cancel := context.WithTimeout(ctx, pingPeriod)
		n, err := h.conn.ReadContext(readCtx, buf)
		cancel()

		switch {
		case err == nil:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				return errs.WithStack(err)
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return errs.WithStack(err)
			}
		case errors.Is(err, io.EOF):
			// The tunnel closed.
			message := websocket.FormatCloseMessage(websocket.CloseGoingAway, "tunnel closed")
			_ = ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return errs.WithStack(err)
		}
	}
}

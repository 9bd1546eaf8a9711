package bridge

import (
	"github.com/gorilla/websocket"
	"net/http"
	"net/http/httptest"
	"pollsock.it/socket"
	"strings"
	"testing"
	"time"
)

func Test_WebsocketHandler(t *testing.T) {
	s := socket.NewStream()
	server := httptest.NewServer(WebsocketHandler(s, nil))
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal("Dial:", err)
	}
	defer func() {
		_ = ws.Close()
	}()

	if err := ws.WriteMessage(websocket.TextMessage, []byte("hi ")); err != nil {
		t.Fatal("WriteMessage:", err)
	}
	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0, 1}); err != nil {
		t.Fatal("WriteMessage:", err)
	}
	waitOutbound(t, s, "hi \x00\x01")

	s.Inbound().Append([]byte("yo"))
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, message, err := ws.ReadMessage()
	if err != nil || messageType != websocket.BinaryMessage || string(message) != "yo" {
		t.Fatalf("ReadMessage = %d %q, %v", messageType, message, err)
	}

	// a second client is turned away while the first one is attached.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("second client: %v", err)
	}

	_ = s.Close()
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("want going away close, got %v", err)
	}
}

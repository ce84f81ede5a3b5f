package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGracePeriod bounds how long Close waits to send the close frame.
const closeGracePeriod = time.Second

// WebSocketTransport adapts a gorilla websocket connection to Transport.
//
// Only the Conn writer goroutine calls WriteJSON; Close may be called
// concurrently, which gorilla permits for control frames.
type WebSocketTransport struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketTransport wraps ws.
func NewWebSocketTransport(ws *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{ws: ws}
}

// WriteJSON writes v as one text frame. The context deadline becomes the
// socket write deadline.
func (t *WebSocketTransport) WriteJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultWriteTimeout)
	}
	if err := t.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.ws.WriteJSON(v)
}

// Close sends a normal-closure frame and closes the socket.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		t.closeErr = t.ws.Close()
	})
	return t.closeErr
}

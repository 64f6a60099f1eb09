package transport

import (
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const closeFrameTimeout = time.Second

// ErrWriteClosed is returned by WriteMessage after CloseWrite.
var ErrWriteClosed = errors.New("write side already closed")

// WebSocket wraps a WebSocket connection to implement the Transport interface.
// Every message is carried as exactly one data frame.
type WebSocket struct {
	conn        *websocket.Conn
	messageType int

	writeMu     sync.Mutex
	writeClosed bool

	closeOnce sync.Once
	closeErr  error
}

// NewWebSocket wraps conn. The peer's close frame is not echoed back
// immediately; it only ends the read side, so messages still being produced
// on this side are delivered before our own close frame goes out.
func NewWebSocket(conn *websocket.Conn, options *Options) *WebSocket {
	if options.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(options.MaxMessageSize))
	}
	conn.SetCloseHandler(func(code int, text string) error {
		return nil
	})
	return &WebSocket{
		conn:        conn,
		messageType: options.MessageType(),
	}
}

// ReadMessage returns the payload of the next data frame, text or binary.
// An orderly close from the peer is reported as io.EOF.
func (wst *WebSocket) ReadMessage() ([]byte, error) {
	_, data, err := wst.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// WriteMessage sends p as a single frame.
func (wst *WebSocket) WriteMessage(p []byte) error {
	wst.writeMu.Lock()
	defer wst.writeMu.Unlock()

	if wst.writeClosed {
		return ErrWriteClosed
	}
	return wst.conn.WriteMessage(wst.messageType, p)
}

// CloseWrite sends a normal close frame. The connection stays open for
// reading until Close.
func (wst *WebSocket) CloseWrite() error {
	wst.writeMu.Lock()
	defer wst.writeMu.Unlock()

	if wst.writeClosed {
		return nil
	}
	wst.writeClosed = true

	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := wst.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeFrameTimeout))
	if err != nil {
		return errors.Wrap(err, "failed to send close frame")
	}
	return nil
}

// Close closes the underlying connection. Only the first call has an effect.
func (wst *WebSocket) Close() error {
	wst.closeOnce.Do(func() {
		wst.closeErr = wst.conn.Close()
	})
	return wst.closeErr
}

// RemoteAddr returns the remote address of the WebSocket connection.
func (wst *WebSocket) RemoteAddr() string {
	return wst.conn.RemoteAddr().String()
}

// Ensure WebSocket implements Transport interface
var _ Transport = (*WebSocket)(nil)

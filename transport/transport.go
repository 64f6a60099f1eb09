package transport

import (
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// Source yields one message per call. It returns io.EOF once the
// underlying stream has ended in an orderly way.
type Source interface {
	ReadMessage() ([]byte, error)
}

// Sink accepts one message per call. CloseWrite signals that no more
// messages will follow.
type Sink interface {
	WriteMessage(p []byte) error
	CloseWrite() error
}

// Transport represents a bidirectional message connection.
// Both sides of the tunnel implement this interface.
type Transport interface {
	Source
	Sink
	Close() error
	RemoteAddr() string
}

// Options controls how messages are framed on the tunnel.
type Options struct {
	FrameType      string `hcl:"frame_type" flagName:"frame-type" flagDescribe:"WebSocket frame type used for relayed messages (text or binary)" default:"text"`
	MaxMessageSize int    `hcl:"max_message_size" flagName:"max-message-size" flagDescribe:"Maximum size of a single message in bytes (0 for unlimited)" default:"0"`
}

func (options *Options) Validate() error {
	if options.FrameType != "text" && options.FrameType != "binary" {
		return errors.Errorf("unknown frame type %q, must be text or binary", options.FrameType)
	}
	if options.MaxMessageSize < 0 {
		return errors.New("max message size must not be negative")
	}
	return nil
}

// MessageType returns the websocket message type for the configured frame type.
func (options *Options) MessageType() int {
	if options.FrameType == "binary" {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

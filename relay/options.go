package relay

import (
	"time"

	"github.com/pkg/errors"
)

type Options struct {
	HandshakeTimeout int `hcl:"handshake_timeout" flagName:"handshake-timeout" flagDescribe:"Seconds to wait for the proxy tunnel and WebSocket handshake" default:"10"`
	DrainTimeout     int `hcl:"drain_timeout" flagName:"drain-timeout" flagDescribe:"Seconds to wait for in-flight messages during shutdown" default:"5"`

	// MaxMessageSize bounds lines read from stdio. Set from the transport options.
	MaxMessageSize int
}

func (options *Options) Validate() error {
	if options.HandshakeTimeout <= 0 {
		return errors.New("handshake timeout must be positive")
	}
	if options.DrainTimeout < 0 {
		return errors.New("drain timeout must not be negative")
	}
	return nil
}

func (options *Options) handshakeTimeout() time.Duration {
	return time.Duration(options.HandshakeTimeout) * time.Second
}

func (options *Options) drainTimeout() time.Duration {
	return time.Duration(options.DrainTimeout) * time.Second
}

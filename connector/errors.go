package connector

import (
	"fmt"
)

// ProxyUnreachableError means no TCP connection to the proxy could be made.
type ProxyUnreachableError struct {
	Address string
	Err     error
}

func (e *ProxyUnreachableError) Error() string {
	return fmt.Sprintf("proxy %s is unreachable: %v", e.Address, e.Err)
}

func (e *ProxyUnreachableError) Unwrap() error {
	return e.Err
}

// TunnelRejectedError means the proxy answered CONNECT with a non-2xx status.
type TunnelRejectedError struct {
	Target     string
	StatusCode int
	Status     string
	// Body holds the start of the response body, if any.
	Body string
}

func (e *TunnelRejectedError) Error() string {
	msg := fmt.Sprintf("proxy refused CONNECT %s: %s", e.Target, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// HandshakeError covers failures after the proxy accepted the TCP
// connection: the CONNECT exchange itself breaking down ("connect" stage)
// or the WebSocket upgrade over the tunnel ("websocket" stage).
type HandshakeError struct {
	Stage   string
	Timeout bool
	// StatusCode is the upgrade response status, 0 if none was received.
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	msg := e.Stage + " handshake failed"
	if e.Timeout {
		msg += " (timed out)"
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	return msg + ": " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

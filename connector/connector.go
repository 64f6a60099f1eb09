package connector

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"mcpintercept/transport"
)

const maxRejectBody = 512

// Connector is the proxied side of the tunnel. It opens a CONNECT tunnel
// through the configured HTTP proxy and runs the WebSocket client handshake
// inside it, so the proxy sees an ordinary upgrade it can inspect.
type Connector struct {
	options          *Options
	transportOptions *transport.Options
}

func New(options *Options, transportOptions *transport.Options) (*Connector, error) {
	if err := options.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid connector options")
	}
	if err := transportOptions.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid transport options")
	}
	return &Connector{
		options:          options,
		transportOptions: transportOptions,
	}, nil
}

func (c *Connector) ProxyAddress() string {
	return net.JoinHostPort(c.options.ProxyHost, strconv.Itoa(c.options.ProxyPort))
}

// Connect dials target, a ws:// URL, through the proxy. Every step is
// bounded by ctx.
func (c *Connector) Connect(ctx context.Context, target string) (transport.Transport, error) {
	targetURL, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid tunnel URL `%s`", target)
	}
	if targetURL.Scheme != "ws" || targetURL.Host == "" {
		return nil, errors.Errorf("invalid tunnel URL `%s`", target)
	}

	proxyAddress := c.ProxyAddress()
	log.Debug().Str("proxy", proxyAddress).Str("target", targetURL.Host).Msg("connecting through proxy")

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddress)
	if err != nil {
		return nil, &ProxyUnreachableError{Address: proxyAddress, Err: err}
	}

	tunneled, err := openTunnel(ctx, conn, targetURL.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	wsDialer := &websocket.Dialer{
		NetDial: func(network, addr string) (net.Conn, error) {
			return tunneled, nil
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	stop := context.AfterFunc(ctx, func() {
		tunneled.SetDeadline(time.Unix(1, 0))
	})
	wsConn, resp, err := wsDialer.DialContext(ctx, target, nil)
	if !stop() && err == nil {
		// The deadline was poisoned after the upgrade completed.
		wsConn.Close()
		err = ctx.Err()
	}
	if err != nil {
		conn.Close()
		handshakeErr := &HandshakeError{Stage: "websocket", Timeout: isTimeout(ctx, err), Err: err}
		if resp != nil {
			handshakeErr.StatusCode = resp.StatusCode
		}
		return nil, handshakeErr
	}

	log.Debug().Str("proxy", proxyAddress).Str("target", targetURL.Host).Msg("tunnel handshake complete")
	return transport.NewWebSocket(wsConn, c.transportOptions), nil
}

// openTunnel runs the CONNECT exchange on conn. The returned connection
// carries the raw tunneled byte stream.
func openTunnel(ctx context.Context, conn net.Conn, host string) (net.Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: host},
		Host:   host,
		Header: make(http.Header),
	}
	if err := req.Write(conn); err != nil {
		return nil, &HandshakeError{Stage: "connect", Timeout: isTimeout(ctx, err), Err: err}
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, req)
	if err != nil {
		return nil, &HandshakeError{Stage: "connect", Timeout: isTimeout(ctx, err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxRejectBody))
		resp.Body.Close()
		return nil, &TunnelRejectedError{
			Target:     host,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if !stop() {
		// ctx ended between the response and here; the deadline is poisoned.
		return nil, &HandshakeError{Stage: "connect", Timeout: isTimeout(ctx, ctx.Err()), Err: ctx.Err()}
	}
	conn.SetDeadline(time.Time{})

	if reader.Buffered() > 0 {
		return &bufferedConn{Conn: conn, reader: reader}, nil
	}
	return conn, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// bufferedConn serves bytes the CONNECT response reader already pulled off
// the socket before reading from it again.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

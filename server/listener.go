package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"mcpintercept/pkg/randomstring"
	"mcpintercept/transport"
)

const pathTokenLength = 16
const readHeaderTimeout = 10 * time.Second

// Listener is the local side of the tunnel. It serves a single WebSocket
// endpoint on an ephemeral loopback port, under a random path, and hands
// out exactly one connection.
type Listener struct {
	options          *Options
	transportOptions *transport.Options
	upgrader         *websocket.Upgrader
	path             string

	claimed  int64
	accepted chan *transport.WebSocket

	mu          sync.Mutex
	netListener net.Listener
	httpServer  *http.Server
	closed      bool
}

func New(options *Options, transportOptions *transport.Options) (*Listener, error) {
	if err := options.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid listener options")
	}
	if err := transportOptions.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid transport options")
	}

	return &Listener{
		options:          options,
		transportOptions: transportOptions,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     withoutOrigin,
		},
		path:     "/" + randomstring.Generate(pathTokenLength),
		accepted: make(chan *transport.WebSocket, 1),
	}, nil
}

// Listen binds the listener and starts serving. It returns the URL the
// connector has to dial.
func (l *Listener) Listen() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return "", errors.New("listener is closed")
	}
	if l.netListener != nil {
		return "", errors.New("listener is already listening")
	}

	address := net.JoinHostPort(l.options.Address, "0")
	netListener, err := net.Listen("tcp", address)
	if err != nil {
		return "", errors.Wrapf(err, "failed to listen on %s", address)
	}
	l.netListener = netListener
	l.httpServer = l.setupHTTPServer()

	go func() {
		err := l.httpServer.Serve(netListener)
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("tunnel listener stopped")
		}
	}()

	log.Debug().Str("address", netListener.Addr().String()).Msg("tunnel listener started")
	return l.urlLocked(), nil
}

func (l *Listener) setupHTTPServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(l.path, l.handleTunnel)

	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Addr returns the bound address, or nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.netListener == nil {
		return nil
	}
	return l.netListener.Addr()
}

// URL returns the tunnel URL, or an empty string before Listen.
func (l *Listener) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.netListener == nil {
		return ""
	}
	return l.urlLocked()
}

func (l *Listener) urlLocked() string {
	return "ws://" + l.netListener.Addr().String() + l.path
}

// Accept waits for the single tunnel connection.
func (l *Listener) Accept(ctx context.Context) (transport.Transport, error) {
	select {
	case conn := <-l.accepted:
		return conn, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for tunnel connection")
	}
}

// Close stops serving. An established tunnel connection is not affected;
// its owner closes it. Close is safe to call before Listen and more than
// once.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	// A connection nobody accepted would otherwise leak.
	select {
	case conn := <-l.accepted:
		conn.Close()
	default:
	}

	if l.httpServer == nil {
		return nil
	}
	return l.httpServer.Close()
}

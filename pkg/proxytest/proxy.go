// Package proxytest provides an in-process HTTP CONNECT proxy for tests.
package proxytest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const dialTimeout = 5 * time.Second

// Proxy accepts CONNECT requests on a loopback port and forwards the
// tunneled bytes to the requested target, optionally rewriting them.
type Proxy struct {
	listener net.Listener

	rejectStatus int
	rejectBody   string
	rewrites     []rewrite

	connects int64

	mu      sync.Mutex
	targets []string
	conns   map[net.Conn]struct{}

	closeOnce   sync.Once
	connections sync.WaitGroup
	done        chan struct{}
}

type rewrite struct {
	from []byte
	to   []byte
}

type Option func(*Proxy)

// WithReject makes the proxy answer every CONNECT with the given status.
func WithReject(status int, body string) Option {
	return func(p *Proxy) {
		p.rejectStatus = status
		p.rejectBody = body
	}
}

// WithRewrite replaces from with to in every chunk forwarded in either
// direction. from and to must have the same length so framing survives.
// Masked client frames are opaque on the wire; only traffic from the target
// back to the client can be matched.
func WithRewrite(from, to string) Option {
	return func(p *Proxy) {
		p.rewrites = append(p.rewrites, rewrite{from: []byte(from), to: []byte(to)})
	}
}

// New starts a proxy on 127.0.0.1 with an ephemeral port.
func New(options ...Option) (*Proxy, error) {
	p := &Proxy{
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
	for _, option := range options {
		option(p)
	}
	for _, rw := range p.rewrites {
		if len(rw.from) != len(rw.to) {
			return nil, errors.Errorf("rewrite %q -> %q changes length", rw.from, rw.to)
		}
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.Wrap(err, "failed to listen")
	}
	p.listener = listener

	go func() {
		defer close(p.done)
		p.acceptLoop()
	}()
	return p, nil
}

func (p *Proxy) Addr() string {
	return p.listener.Addr().String()
}

func (p *Proxy) Host() string {
	host, _, _ := net.SplitHostPort(p.Addr())
	return host
}

func (p *Proxy) Port() int {
	_, port, _ := net.SplitHostPort(p.Addr())
	n, _ := strconv.Atoi(port)
	return n
}

// Connects returns how many CONNECT requests the proxy has seen.
func (p *Proxy) Connects() int {
	return int(atomic.LoadInt64(&p.connects))
}

// Targets returns the CONNECT targets in the order they were requested.
func (p *Proxy) Targets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.targets...)
}

// Close stops accepting, drops every open tunnel and waits for the
// forwarding goroutines to return.
func (p *Proxy) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.listener.Close()
		<-p.done

		p.mu.Lock()
		for conn := range p.conns {
			conn.Close()
		}
		p.mu.Unlock()

		p.connections.Wait()
	})
	return err
}

func (p *Proxy) acceptLoop() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			return
		}
		p.track(conn)
		p.connections.Add(1)
		go func() {
			defer p.connections.Done()
			defer p.untrack(conn)
			p.handleConnection(conn)
		}()
	}
}

func (p *Proxy) track(conn net.Conn) {
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()
}

func (p *Proxy) untrack(conn net.Conn) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
	conn.Close()
}

func (p *Proxy) handleConnection(clientConn net.Conn) {
	reader := bufio.NewReader(clientConn)
	req, err := http.ReadRequest(reader)
	if err != nil {
		return
	}
	if req.Method != http.MethodConnect {
		writeStatus(clientConn, http.StatusMethodNotAllowed, "only CONNECT is supported")
		return
	}

	atomic.AddInt64(&p.connects, 1)
	p.mu.Lock()
	p.targets = append(p.targets, req.Host)
	p.mu.Unlock()

	if p.rejectStatus != 0 {
		writeStatus(clientConn, p.rejectStatus, p.rejectBody)
		return
	}

	upstream, err := net.DialTimeout("tcp", req.Host, dialTimeout)
	if err != nil {
		writeStatus(clientConn, http.StatusBadGateway, err.Error())
		return
	}
	p.track(upstream)
	defer p.untrack(upstream)

	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		return
	}

	log.Debug().Str("target", req.Host).Msg("proxytest: tunnel open")

	var waitGroup sync.WaitGroup
	waitGroup.Add(2)
	go func() {
		defer waitGroup.Done()
		p.forward(upstream, reader)
		closeWrite(upstream)
	}()
	go func() {
		defer waitGroup.Done()
		p.forward(clientConn, upstream)
		closeWrite(clientConn)
	}()
	waitGroup.Wait()
}

func (p *Proxy) forward(dst io.Writer, src io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for _, rw := range p.rewrites {
				chunk = bytes.ReplaceAll(chunk, rw.from, rw.to)
			}
			if _, werr := dst.Write(chunk); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func closeWrite(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.CloseWrite()
	}
}

func writeStatus(w io.Writer, status int, body string) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, http.StatusText(status), len(body), body)
}

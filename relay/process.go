package relay

import (
	"context"
	"io"

	"mcpintercept/transport"
)

// Process is a running child worker.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser

	// Done is closed exactly once, when the process has terminated for any
	// reason and been reaped.
	Done() <-chan struct{}
	// ExitCode is valid once Done is closed.
	ExitCode() int

	// Terminate asks the process to stop and forces it after a bounded
	// grace period. It returns once the process has been reaped.
	Terminate() error
	// Close releases the relay's ends of the stdio pipes.
	Close() error
}

// ProcessFactory spawns the child worker.
type ProcessFactory interface {
	Name() string
	New() (Process, error)
}

// TunnelListener is the local end of the tunnel.
type TunnelListener interface {
	// Listen binds the listener and returns the URL the connector must dial.
	Listen() (string, error)
	Accept(ctx context.Context) (transport.Transport, error)
	Close() error
}

// TunnelConnector is the proxied end of the tunnel.
type TunnelConnector interface {
	Connect(ctx context.Context, target string) (transport.Transport, error)
}

// Host is the relay's own upstream protocol interface.
type Host struct {
	Stdin  io.Reader
	Stdout io.Writer
}

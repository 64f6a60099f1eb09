package relay

import (
	"github.com/pkg/errors"
)

// Exit statuses for relay-side outcomes. A child that exits on its own has
// its status propagated unchanged.
const (
	ExitOK            = 0
	ExitRelayFailure  = 125
	ExitCannotExecute = 126
	ExitNotFound      = 127
)

type ErrorKind int

const (
	// KindSpawn: the child could not be started.
	KindSpawn ErrorKind = iota
	// KindTunnel: the listener, the proxy or the handshake failed before
	// any message was relayed.
	KindTunnel
	// KindTransport: an endpoint failed while relaying.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindSpawn:
		return "spawn error"
	case KindTunnel:
		return "tunnel error"
	case KindTransport:
		return "transport error"
	default:
		return "unknown error"
	}
}

// FatalError ends a session. The session is the only place that creates one.
type FatalError struct {
	Kind ErrorKind
	Err  error
}

func (e *FatalError) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Cause lets errors.Cause see through to the underlying error.
func (e *FatalError) Cause() error {
	return e.Err
}

func fatal(kind ErrorKind, err error, message string) *FatalError {
	return &FatalError{Kind: kind, Err: errors.Wrap(err, message)}
}

// notFounder is implemented by spawn errors that can tell a missing
// executable apart from one that could not be run.
type notFounder interface {
	NotFound() bool
}

// ExitCodeFor maps a fatal session error to the process exit status.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var fatalErr *FatalError
	if errors.As(err, &fatalErr) && fatalErr.Kind == KindSpawn {
		var nf notFounder
		if errors.As(fatalErr.Err, &nf) && nf.NotFound() {
			return ExitNotFound
		}
		return ExitCannotExecute
	}
	return ExitRelayFailure
}

// collidesWithRelayStatus reports whether a child status reads the same as
// one of the relay's own failure statuses.
func collidesWithRelayStatus(code int) bool {
	return code == ExitRelayFailure || code == ExitCannotExecute || code == ExitNotFound
}

package transport

import (
	"io"
	"net"
	"os"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// IsExpectedCloseError reports whether err is a normal stream termination:
// EOF, a closed pipe or connection, broken pipe, or connection reset. These
// show up on the surviving side of a relay when the other side goes away,
// and during teardown when endpoints are closed under a pending read.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, ErrSourceClosed) ||
		errors.Is(err, ErrWriteClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

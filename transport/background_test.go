package transport

import (
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestBackgroundSourceDeliversInOrder(t *testing.T) {
	source := NewBackgroundSource(NewLineReader(strings.NewReader("one\ntwo\nthree\n"), 0))
	defer source.Close()

	got := readAll(t, source)
	if strings.Join(got, "") != "one\ntwo\nthree\n" {
		t.Errorf("messages = %q", got)
	}

	// The terminal error sticks.
	if _, err := source.ReadMessage(); err != io.EOF {
		t.Errorf("ReadMessage() after EOF = %v, expected io.EOF", err)
	}
}

func TestBackgroundSourceCloseUnblocks(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	source := NewBackgroundSource(NewLineReader(pr, 0))

	errCh := make(chan error, 1)
	go func() {
		_, err := source.ReadMessage()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	source.Close()
	source.Close()

	select {
	case err := <-errCh:
		if err != ErrSourceClosed {
			t.Errorf("ReadMessage() = %v, expected ErrSourceClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ReadMessage() did not return after Close")
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", errors.Wrap(io.EOF, "reading"), true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"net closed", &net.OpError{Op: "read", Err: net.ErrClosed}, true},
		{"file closed", &os.PathError{Op: "write", Path: "|1", Err: os.ErrClosed}, true},
		{"epipe", &os.SyscallError{Syscall: "write", Err: syscall.EPIPE}, true},
		{"econnreset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"source closed", ErrSourceClosed, true},
		{"write closed", ErrWriteClosed, true},
		{"other errno", syscall.EACCES, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpectedCloseError(tt.err); got != tt.expected {
				t.Errorf("IsExpectedCloseError(%v) = %v, expected %v", tt.err, got, tt.expected)
			}
		})
	}
}

package transport

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrSourceClosed is returned by a BackgroundSource after Close.
var ErrSourceClosed = errors.New("source closed")

type readResult struct {
	message []byte
	err     error
}

// BackgroundSource reads from another Source on its own goroutine so that a
// blocked read can be abandoned. It exists for streams such as the process's
// own stdin, where closing the file does not interrupt a pending read.
//
// The reading goroutine may outlive Close until its pending read returns.
type BackgroundSource struct {
	results chan readResult
	done    chan struct{}
	once    sync.Once

	// terminal error, owned by the ReadMessage caller
	err error
}

func NewBackgroundSource(source Source) *BackgroundSource {
	bs := &BackgroundSource{
		results: make(chan readResult),
		done:    make(chan struct{}),
	}
	go bs.run(source)
	return bs
}

func (bs *BackgroundSource) run(source Source) {
	for {
		message, err := source.ReadMessage()
		select {
		case bs.results <- readResult{message: message, err: err}:
		case <-bs.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (bs *BackgroundSource) ReadMessage() ([]byte, error) {
	if bs.err != nil {
		return nil, bs.err
	}
	select {
	case result := <-bs.results:
		if result.err != nil {
			bs.err = result.err
		}
		return result.message, result.err
	case <-bs.done:
		bs.err = ErrSourceClosed
		return nil, bs.err
	}
}

// Close unblocks a pending ReadMessage. Only the first call has an effect.
func (bs *BackgroundSource) Close() error {
	bs.once.Do(func() {
		close(bs.done)
	})
	return nil
}

var _ Source = (*BackgroundSource)(nil)

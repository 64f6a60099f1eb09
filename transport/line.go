package transport

import (
	"bufio"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// ErrMessageTooLarge is returned when a line exceeds the configured limit.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// LineReader splits a byte stream into newline-terminated messages.
// The terminator stays part of the message; a final unterminated run of
// bytes before EOF is returned as the last message.
type LineReader struct {
	reader  *bufio.Reader
	maxSize int
}

func NewLineReader(r io.Reader, maxSize int) *LineReader {
	return &LineReader{
		reader:  bufio.NewReader(r),
		maxSize: maxSize,
	}
}

// ReadMessage stops buffering as soon as a line grows past the limit, so a
// peer that never sends a newline cannot exhaust memory.
func (lr *LineReader) ReadMessage() ([]byte, error) {
	var line []byte
	for {
		chunk, err := lr.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if lr.maxSize > 0 && len(line) > lr.maxSize {
			return nil, errors.Wrapf(ErrMessageTooLarge, "read more than %d bytes", lr.maxSize)
		}
		switch {
		case err == nil:
			return line, nil
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && len(line) > 0:
			return line, nil
		default:
			return nil, err
		}
	}
}

// StreamWriter writes each message verbatim to a byte stream.
// CloseWrite closes the stream only when it was created with a closer.
type StreamWriter struct {
	writer io.Writer
	closer io.Closer

	closeOnce sync.Once
	closeErr  error
}

// NewStreamWriter returns a writer whose CloseWrite leaves w open.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{writer: w}
}

// NewStreamWriteCloser returns a writer whose CloseWrite closes wc.
func NewStreamWriteCloser(wc io.WriteCloser) *StreamWriter {
	return &StreamWriter{writer: wc, closer: wc}
}

func (sw *StreamWriter) WriteMessage(p []byte) error {
	if _, err := sw.writer.Write(p); err != nil {
		return err
	}
	if flusher, ok := sw.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

func (sw *StreamWriter) CloseWrite() error {
	if sw.closer == nil {
		return nil
	}
	sw.closeOnce.Do(func() {
		sw.closeErr = sw.closer.Close()
	})
	return sw.closeErr
}

var (
	_ Source = (*LineReader)(nil)
	_ Sink   = (*StreamWriter)(nil)
)

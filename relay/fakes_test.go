package relay

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"mcpintercept/transport"
)

// sliceSource yields its messages, then err (io.EOF when nil).
type sliceSource struct {
	messages [][]byte
	err      error
}

func (s *sliceSource) ReadMessage() ([]byte, error) {
	if len(s.messages) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	message := s.messages[0]
	s.messages = s.messages[1:]
	return message, nil
}

type recordingSink struct {
	mu         sync.Mutex
	messages   []string
	failAfter  int
	writeErr   error
	closeErr   error
	closeCalls int
}

func (s *recordingSink) WriteMessage(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil && len(s.messages) >= s.failAfter {
		return s.writeErr
	}
	s.messages = append(s.messages, string(p))
	return nil
}

func (s *recordingSink) CloseWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return s.closeErr
}

// pipeTransport is one end of an in-memory, line-framed tunnel.
type pipeTransport struct {
	*transport.LineReader
	*transport.StreamWriter

	name   string
	reader *io.PipeReader
	writer *io.PipeWriter
	closes int32
}

func newPipeTransportPair() (*pipeTransport, *pipeTransport) {
	aToB, aWriter := io.Pipe()
	bToA, bWriter := io.Pipe()
	a := &pipeTransport{
		LineReader:   transport.NewLineReader(bToA, 0),
		StreamWriter: transport.NewStreamWriteCloser(aWriter),
		name:         "local",
		reader:       bToA,
		writer:       aWriter,
	}
	b := &pipeTransport{
		LineReader:   transport.NewLineReader(aToB, 0),
		StreamWriter: transport.NewStreamWriteCloser(bWriter),
		name:         "proxied",
		reader:       aToB,
		writer:       bWriter,
	}
	return a, b
}

func (p *pipeTransport) Close() error {
	atomic.AddInt32(&p.closes, 1)
	p.reader.Close()
	p.writer.Close()
	return nil
}

func (p *pipeTransport) RemoteAddr() string {
	return p.name
}

// end closes the stream the peer reads from in an orderly way.
func (p *pipeTransport) end() {
	p.writer.Close()
}

// drop breaks the stream the peer reads from without an orderly close.
func (p *pipeTransport) drop() {
	p.writer.CloseWithError(errors.New("connection reset by peer"))
}

func (p *pipeTransport) Closes() int {
	return int(atomic.LoadInt32(&p.closes))
}

// fakeProcess is a child whose behaviour the test drives through the
// other ends of its pipes.
type fakeProcess struct {
	stdinReader  *io.PipeReader
	stdinWriter  *io.PipeWriter
	stdoutReader *io.PipeReader
	stdoutWriter *io.PipeWriter

	done     chan struct{}
	exitOnce sync.Once
	code     int

	terminates int32
	closes     int32

	// onTerminate runs before a live process exits from Terminate.
	onTerminate func()
}

func newFakeProcess() *fakeProcess {
	stdinReader, stdinWriter := io.Pipe()
	stdoutReader, stdoutWriter := io.Pipe()
	return &fakeProcess{
		stdinReader:  stdinReader,
		stdinWriter:  stdinWriter,
		stdoutReader: stdoutReader,
		stdoutWriter: stdoutWriter,
		done:         make(chan struct{}),
	}
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinWriter }
func (p *fakeProcess) Stdout() io.ReadCloser { return p.stdoutReader }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) ExitCode() int {
	<-p.done
	return p.code
}

func (p *fakeProcess) exit(code int) {
	p.exitOnce.Do(func() {
		p.code = code
		p.stdoutWriter.Close()
		p.stdinReader.Close()
		close(p.done)
	})
}

func (p *fakeProcess) Terminate() error {
	atomic.AddInt32(&p.terminates, 1)
	select {
	case <-p.done:
		return nil
	default:
	}
	if p.onTerminate != nil {
		p.onTerminate()
	}
	p.exit(128 + 15)
	return nil
}

func (p *fakeProcess) Terminates() int {
	return int(atomic.LoadInt32(&p.terminates))
}

func (p *fakeProcess) Close() error {
	atomic.AddInt32(&p.closes, 1)
	p.stdinWriter.Close()
	p.stdoutReader.Close()
	return nil
}

// echo copies stdin lines to stdout until stdin ends, then exits with code.
func (p *fakeProcess) echo(code int) {
	go func() {
		lines := transport.NewLineReader(p.stdinReader, 0)
		for {
			line, err := lines.ReadMessage()
			if err != nil {
				break
			}
			if _, err := p.stdoutWriter.Write(line); err != nil {
				break
			}
		}
		p.exit(code)
	}()
}

// serve echoes stdin lines like echo but keeps running after stdin ends,
// the way an idle server does.
func (p *fakeProcess) serve() {
	go func() {
		lines := transport.NewLineReader(p.stdinReader, 0)
		for {
			line, err := lines.ReadMessage()
			if err != nil {
				return
			}
			if _, err := p.stdoutWriter.Write(line); err != nil {
				return
			}
		}
	}()
}

type fakeFactory struct {
	process *fakeProcess
	err     error
}

func (f *fakeFactory) Name() string { return "fake" }

func (f *fakeFactory) New() (Process, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.process, nil
}

type fakeListener struct {
	local     *pipeTransport
	listenErr error
	closes    int32
}

func (l *fakeListener) Listen() (string, error) {
	if l.listenErr != nil {
		return "", l.listenErr
	}
	return "ws://fake/tunnel", nil
}

func (l *fakeListener) Accept(ctx context.Context) (transport.Transport, error) {
	if l.local == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return l.local, nil
}

func (l *fakeListener) Close() error {
	atomic.AddInt32(&l.closes, 1)
	return nil
}

func (l *fakeListener) Closes() int {
	return int(atomic.LoadInt32(&l.closes))
}

type fakeConnector struct {
	proxied *pipeTransport
	err     error
}

func (c *fakeConnector) Connect(ctx context.Context, target string) (transport.Transport, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.proxied, nil
}

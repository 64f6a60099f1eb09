package localcommand

import (
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCloseSignal       = syscall.SIGTERM
	DefaultCloseTimeout      = 2 * time.Second
	DefaultStdinCloseTimeout = 3 * time.Second
)

// SpawnError reports that the command could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return "failed to start " + e.Command + ": " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the executable does not exist.
func (e *SpawnError) NotFound() bool {
	return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, os.ErrNotExist)
}

// LocalCommand is a child process whose stdin and stdout are pipes owned
// by the relay. Its stderr is the relay's own stderr.
type LocalCommand struct {
	command string
	argv    []string

	closeSignal       syscall.Signal
	closeTimeout      time.Duration
	stdinCloseTimeout time.Duration

	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File

	done     chan struct{}
	exitCode int

	terminateMu sync.Mutex
	stdinOnce   sync.Once
	stdinErr    error
	stdoutOnce  sync.Once
	stdoutErr   error
}

func New(command string, argv []string, options ...Option) (*LocalCommand, error) {
	lcmd := &LocalCommand{
		command: command,
		argv:    argv,

		closeSignal:       DefaultCloseSignal,
		closeTimeout:      DefaultCloseTimeout,
		stdinCloseTimeout: DefaultStdinCloseTimeout,

		done: make(chan struct{}),
	}
	for _, option := range options {
		option(lcmd)
	}

	childStdin, parentStdin, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create stdin pipe")
	}
	parentStdout, childStdout, err := os.Pipe()
	if err != nil {
		childStdin.Close()
		parentStdin.Close()
		return nil, errors.Wrap(err, "failed to create stdout pipe")
	}

	cmd := exec.Command(command, argv...)
	cmd.Stdin = childStdin
	cmd.Stdout = childStdout
	cmd.Stderr = os.Stderr
	cmd.Env = childEnv(os.Environ())

	err = cmd.Start()

	// The child holds its own copies now.
	childStdin.Close()
	childStdout.Close()

	if err != nil {
		parentStdin.Close()
		parentStdout.Close()
		return nil, &SpawnError{Command: command, Err: err}
	}

	lcmd.cmd = cmd
	lcmd.stdin = parentStdin
	lcmd.stdout = parentStdout

	log.Debug().Str("command", command).Strs("args", argv).Int("pid", cmd.Process.Pid).Msg("child process started")

	go func() {
		defer close(lcmd.done)
		lcmd.cmd.Wait()
		lcmd.exitCode = exitCode(lcmd.cmd.ProcessState)
		log.Debug().Int("pid", cmd.Process.Pid).Str("status", lcmd.cmd.ProcessState.String()).Msg("child process exited")
	}()

	return lcmd, nil
}

// childEnv keeps Python children from block-buffering their stdout.
func childEnv(environ []string) []string {
	for _, kv := range environ {
		if strings.HasPrefix(kv, "PYTHONUNBUFFERED=") {
			return environ
		}
	}
	return append(environ, "PYTHONUNBUFFERED=1")
}

// exitCode maps a finished process to a shell-style status: the exit code,
// or 128+signal when the process was killed by a signal.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}

func (lcmd *LocalCommand) Stdin() io.WriteCloser {
	return stdinWriter{lcmd}
}

func (lcmd *LocalCommand) Stdout() io.ReadCloser {
	return lcmd.stdout
}

// Done is closed once the process has exited and been reaped.
func (lcmd *LocalCommand) Done() <-chan struct{} {
	return lcmd.done
}

// ExitCode is valid after Done is closed.
func (lcmd *LocalCommand) ExitCode() int {
	<-lcmd.done
	return lcmd.exitCode
}

func (lcmd *LocalCommand) Pid() int {
	return lcmd.cmd.Process.Pid
}

// Terminate stops the process in stages: close its stdin and give it
// stdinCloseTimeout to exit, then send closeSignal and wait closeTimeout,
// then SIGKILL. It returns once the process has been reaped.
func (lcmd *LocalCommand) Terminate() error {
	lcmd.terminateMu.Lock()
	defer lcmd.terminateMu.Unlock()

	if lcmd.exited() {
		return nil
	}

	lcmd.closeStdin()
	if lcmd.waitExit(lcmd.stdinCloseTimeout) {
		return nil
	}

	log.Debug().Int("pid", lcmd.Pid()).Str("signal", lcmd.closeSignal.String()).Msg("child still running after stdin closed, signalling")
	if err := lcmd.cmd.Process.Signal(lcmd.closeSignal); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Warn().Err(err).Int("pid", lcmd.Pid()).Msg("failed to signal child process")
	}
	if lcmd.waitExit(lcmd.closeTimeout) {
		return nil
	}

	log.Warn().Int("pid", lcmd.Pid()).Dur("timeout", lcmd.closeTimeout).Msg("child did not exit after close signal, killing")
	if err := lcmd.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "failed to kill child process")
	}
	<-lcmd.done
	return nil
}

// Close releases the relay's ends of the pipes. It does not stop the process.
func (lcmd *LocalCommand) Close() error {
	stdinErr := lcmd.closeStdin()
	lcmd.stdoutOnce.Do(func() {
		lcmd.stdoutErr = lcmd.stdout.Close()
	})
	if stdinErr != nil {
		return stdinErr
	}
	return lcmd.stdoutErr
}

func (lcmd *LocalCommand) closeStdin() error {
	lcmd.stdinOnce.Do(func() {
		lcmd.stdinErr = lcmd.stdin.Close()
	})
	return lcmd.stdinErr
}

func (lcmd *LocalCommand) exited() bool {
	select {
	case <-lcmd.done:
		return true
	default:
		return false
	}
}

func (lcmd *LocalCommand) waitExit(timeout time.Duration) bool {
	if timeout <= 0 {
		return lcmd.exited()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-lcmd.done:
		return true
	case <-timer.C:
		return false
	}
}

type stdinWriter struct {
	lcmd *LocalCommand
}

func (w stdinWriter) Write(p []byte) (int, error) {
	return w.lcmd.stdin.Write(p)
}

func (w stdinWriter) Close() error {
	return w.lcmd.closeStdin()
}

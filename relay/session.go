package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mcpintercept/transport"
)

// Session wires one child process to the host through the tunnel:
//
//	host stdin   -> tunnel (proxied side) ~> proxy ~> tunnel (local side) -> child stdin
//	host stdout  <- tunnel (proxied side) <~ proxy <~ tunnel (local side) <- child stdout
//
// A session runs once.
type Session struct {
	factory   ProcessFactory
	listener  TunnelListener
	connector TunnelConnector
	host      Host
	options   *Options

	id     string
	logger zerolog.Logger
	state  int32

	process Process
	local   transport.Transport
	proxied transport.Transport
	hostIn  *transport.BackgroundSource

	teardownOnce sync.Once
	teardownErr  error
}

func NewSession(factory ProcessFactory, listener TunnelListener, connector TunnelConnector, host Host, options *Options) *Session {
	id := uuid.NewString()
	return &Session{
		factory:   factory,
		listener:  listener,
		connector: connector,
		host:      host,
		options:   options,
		id:        id,
		logger:    log.With().Str("session", id).Logger(),
	}
}

// ID identifies the session in diagnostics.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(atomic.LoadInt32(&s.state))
}

func (s *Session) setState(state State) {
	atomic.StoreInt32(&s.state, int32(state))
	s.logger.Debug().Str("state", state.String()).Msg("session state changed")
}

type runningPump struct {
	*Pump
	done chan struct{}
	err  error
}

func (s *Session) startPump(pump *Pump, finished chan<- *runningPump) *runningPump {
	rp := &runningPump{Pump: pump, done: make(chan struct{})}
	go func() {
		rp.err = pump.Run()
		close(rp.done)
		finished <- rp
	}()
	return rp
}

// Run drives the session from Starting to Closed and returns the exit
// status for the relay process along with the error that ended the
// session, if any. A child that exits by itself is not an error; its
// status is returned as is.
func (s *Session) Run(ctx context.Context, options ...RunOption) (int, error) {
	runOptions := &RunOptions{}
	for _, option := range options {
		option(runOptions)
	}
	var gracefullDone <-chan struct{}
	if runOptions.gracefullCtx != nil {
		gracefullDone = runOptions.gracefullCtx.Done()
	}

	s.setState(StateStarting)

	process, err := s.factory.New()
	if err != nil {
		s.teardown()
		s.setState(StateClosed)
		fatalErr := fatal(KindSpawn, err, "failed to start "+s.factory.Name())
		return ExitCodeFor(fatalErr), fatalErr
	}
	s.process = process

	target, err := s.listener.Listen()
	if err != nil {
		s.teardown()
		s.setState(StateClosed)
		fatalErr := fatal(KindTunnel, err, "failed to start tunnel listener")
		return ExitCodeFor(fatalErr), fatalErr
	}
	s.logger.Debug().Str("url", target).Msg("tunnel listener ready")

	s.setState(StateBridging)

	if err := s.bridge(ctx, target); err != nil {
		s.teardown()
		s.setState(StateClosed)
		return ExitCodeFor(err), err
	}

	maxSize := s.options.MaxMessageSize
	s.hostIn = transport.NewBackgroundSource(transport.NewLineReader(s.host.Stdin, maxSize))
	childIn := transport.NewStreamWriteCloser(process.Stdin())
	childOut := transport.NewLineReader(process.Stdout(), maxSize)
	hostOut := transport.NewStreamWriter(s.host.Stdout)

	finished := make(chan *runningPump, 4)
	hostToTunnel := s.startPump(NewPump("host->tunnel", s.hostIn, s.proxied), finished)
	tunnelToChild := s.startPump(NewPump("tunnel->child", s.local, childIn), finished)
	childToTunnel := s.startPump(NewPump("child->tunnel", childOut, s.local), finished)
	tunnelToHost := s.startPump(NewPump("tunnel->host", s.proxied, hostOut), finished)
	pumps := []*runningPump{hostToTunnel, tunnelToChild, childToTunnel, tunnelToHost}

	var (
		cause       error
		reason      string
		childExited bool
		hostEnded   bool
		forced      bool
		running     = len(pumps)
	)

bridging:
	for {
		select {
		case <-process.Done():
			childExited = true
			reason = "child exited"
			break bridging

		case rp := <-finished:
			running--
			if rp.err != nil {
				if rp.Pump == tunnelToChild.Pump && childGone(rp.err) {
					// The child closed its stdin, most likely on its way out.
					// Its exit is what ends the session.
					s.logger.Debug().Err(rp.err).Msg("child stopped reading stdin")
				} else {
					cause = &FatalError{Kind: KindTransport, Err: rp.err}
					reason = "relay failed"
					break bridging
				}
			}
			switch {
			case running == 0:
				reason = "all streams ended"
				break bridging
			case rp.Pump == hostToTunnel.Pump && rp.err == nil:
				hostEnded = true
				reason = "host input ended"
				break bridging
			case rp.Pump == tunnelToHost.Pump && rp.err == nil:
				reason = "tunnel closed"
				break bridging
			}

		case <-gracefullDone:
			reason = "shutdown requested"
			break bridging

		case <-ctx.Done():
			reason = "forced shutdown"
			forced = true
			break bridging
		}
	}

	s.setState(StateDraining)
	s.logger.Info().Str("reason", reason).Msg("draining session")

	if !forced && cause == nil {
		if hostEnded {
			// The child has seen EOF on its stdin; give it the chance to
			// answer what it already received and exit on its own.
			s.waitPumps(ctx, s.options.drainTimeout(), childToTunnel, tunnelToHost)
		}
		if !childExited && alive(process) {
			if err := process.Terminate(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to terminate child")
			}
		}
		// Whatever the child wrote before exiting is still on its way to
		// the host.
		if !s.waitPumps(ctx, s.options.drainTimeout(), childToTunnel, tunnelToHost) {
			s.logger.Warn().Dur("timeout", s.options.drainTimeout()).Msg("drain timed out, undelivered child output may be lost")
		}
	}

	if err := s.teardown(); err != nil {
		s.logger.Debug().Err(err).Msg("errors while closing session resources")
	}
	if !s.waitPumps(context.Background(), s.options.drainTimeout(), pumps...) {
		for _, rp := range pumps {
			select {
			case <-rp.done:
			default:
				s.logger.Warn().Str("pump", rp.Name()).Msg("abandoning pump blocked in an uninterruptible call")
			}
		}
	}

	s.setState(StateClosed)

	for _, rp := range pumps {
		s.logger.Debug().Str("pump", rp.Name()).Int64("messages", rp.Messages()).Int64("bytes", rp.Bytes()).Msg("pump finished")
	}

	if cause != nil {
		return ExitCodeFor(cause), cause
	}
	code := process.ExitCode()
	if collidesWithRelayStatus(code) {
		s.logger.Warn().Int("exit_code", code).Msg("child exited with a status the relay also uses for its own failures; this is the child's status")
	}
	s.logger.Info().Int("exit_code", code).Msg("session closed")
	return code, nil
}

// alive reports whether the process has not been reaped yet.
func alive(process Process) bool {
	select {
	case <-process.Done():
		return false
	default:
		return true
	}
}

// bridge establishes the tunnel: the connector dials through the proxy into
// the listener while the listener waits for exactly that connection. Both
// are bounded by the handshake timeout.
func (s *Session) bridge(ctx context.Context, target string) error {
	handshakeCtx, cancel := context.WithTimeout(ctx, s.options.handshakeTimeout())
	defer cancel()

	type acceptResult struct {
		conn transport.Transport
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		t, err := s.listener.Accept(handshakeCtx)
		accepted <- acceptResult{t, err}
	}()

	proxied, err := s.connector.Connect(handshakeCtx, target)
	if err != nil {
		cancel()
		if result := <-accepted; result.conn != nil {
			result.conn.Close()
		}
		return fatal(KindTunnel, err, "failed to open tunnel through proxy")
	}

	result := <-accepted
	if result.err != nil {
		proxied.Close()
		return fatal(KindTunnel, result.err, "tunnel listener did not receive the connection")
	}

	s.local = result.conn
	s.proxied = proxied

	s.logger.Info().
		Str("local", s.local.RemoteAddr()).
		Str("proxied", s.proxied.RemoteAddr()).
		Msg("tunnel established")
	return nil
}

// waitPumps waits for the given pumps to return, at most timeout.
func (s *Session) waitPumps(ctx context.Context, timeout time.Duration, pumps ...*runningPump) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, rp := range pumps {
		select {
		case <-rp.done:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// teardown releases every session resource exactly once, whichever path
// gets here first.
func (s *Session) teardown() error {
	s.teardownOnce.Do(func() {
		var result *multierror.Error

		if s.proxied != nil {
			if err := s.proxied.Close(); err != nil && !transport.IsExpectedCloseError(err) {
				result = multierror.Append(result, errors.Wrap(err, "closing proxied tunnel side"))
			}
		}
		if s.local != nil {
			if err := s.local.Close(); err != nil && !transport.IsExpectedCloseError(err) {
				result = multierror.Append(result, errors.Wrap(err, "closing local tunnel side"))
			}
		}
		if s.hostIn != nil {
			s.hostIn.Close()
		}
		if s.process != nil {
			if alive(s.process) {
				if err := s.process.Terminate(); err != nil {
					result = multierror.Append(result, errors.Wrap(err, "terminating child"))
				}
			}
			if err := s.process.Close(); err != nil && !transport.IsExpectedCloseError(err) {
				result = multierror.Append(result, errors.Wrap(err, "closing child pipes"))
			}
		}
		if err := s.listener.Close(); err != nil && !transport.IsExpectedCloseError(err) {
			result = multierror.Append(result, errors.Wrap(err, "closing tunnel listener"))
		}

		s.teardownErr = result.ErrorOrNil()
	})
	return s.teardownErr
}

// childGone reports whether a pump error means the child side went away.
func childGone(err error) bool {
	var pumpErr *PumpError
	if !errors.As(err, &pumpErr) {
		return false
	}
	return (pumpErr.Op == "write" || pumpErr.Op == "close") && transport.IsExpectedCloseError(pumpErr.Err)
}

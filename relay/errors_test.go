package relay

import (
	"testing"

	"github.com/pkg/errors"
)

type spawnFailure struct {
	notFound bool
}

func (e *spawnFailure) Error() string  { return "spawn failed" }
func (e *spawnFailure) NotFound() bool { return e.notFound }

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"missing executable", fatal(KindSpawn, &spawnFailure{notFound: true}, "start"), ExitNotFound},
		{"not executable", fatal(KindSpawn, &spawnFailure{notFound: false}, "start"), ExitCannotExecute},
		{"plain spawn error", fatal(KindSpawn, errors.New("fork failed"), "start"), ExitCannotExecute},
		{"tunnel", fatal(KindTunnel, errors.New("proxy down"), "tunnel"), ExitRelayFailure},
		{"transport", &FatalError{Kind: KindTransport, Err: errors.New("reset")}, ExitRelayFailure},
		{"wrapped fatal", errors.Wrap(fatal(KindSpawn, &spawnFailure{notFound: true}, "start"), "run"), ExitNotFound},
		{"unclassified", errors.New("boom"), ExitRelayFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeFor(tt.err); got != tt.want {
				t.Errorf("ExitCodeFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCollidesWithRelayStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{0, false},
		{1, false},
		{124, false},
		{ExitRelayFailure, true},
		{ExitCannotExecute, true},
		{ExitNotFound, true},
		{128, false},
		{128 + 15, false},
	}

	for _, tt := range tests {
		if got := collidesWithRelayStatus(tt.code); got != tt.want {
			t.Errorf("collidesWithRelayStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestFatalErrorCause(t *testing.T) {
	root := errors.New("connection refused")
	err := fatal(KindTunnel, root, "failed to open tunnel")

	if errors.Cause(err) != root {
		t.Errorf("Cause() = %v, want %v", errors.Cause(err), root)
	}
	if got := err.Error(); got != "tunnel error: failed to open tunnel: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateStarting: "starting",
		StateBridging: "bridging",
		StateDraining: "draining",
		StateClosed:   "closed",
		State(42):     "unknown",
	}
	for state, want := range states {
		if state.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", state, state.String(), want)
		}
	}
}

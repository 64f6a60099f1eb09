package localcommand

import (
	"github.com/pkg/errors"
)

type Options struct {
	CloseSignal       int `hcl:"close_signal" flagName:"close-signal" flagSName:"" flagDescribe:"Signal sent to the command process when the relay closes it (default: SIGTERM)" default:"15"`
	CloseTimeout      int `hcl:"close_timeout" flagName:"close-timeout" flagSName:"" flagDescribe:"Seconds to wait after the close signal before killing the command process" default:"2"`
	StdinCloseTimeout int `hcl:"stdin_close_timeout" flagName:"stdin-close-timeout" flagSName:"" flagDescribe:"Seconds to wait for the command process to exit on its own after its stdin is closed" default:"3"`
}

func (options *Options) Validate() error {
	if options.CloseSignal <= 0 || options.CloseSignal > 64 {
		return errors.Errorf("invalid close signal %d", options.CloseSignal)
	}
	if options.CloseTimeout < 0 {
		return errors.New("close timeout must not be negative")
	}
	if options.StdinCloseTimeout < 0 {
		return errors.New("stdin close timeout must not be negative")
	}
	return nil
}

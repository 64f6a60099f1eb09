package localcommand

import (
	"syscall"
	"time"

	"mcpintercept/relay"
)

type Factory struct {
	command string
	argv    []string
	options *Options
	opts    []Option
}

func NewFactory(command string, argv []string, options *Options) (*Factory, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	opts := []Option{
		WithCloseSignal(syscall.Signal(options.CloseSignal)),
		WithCloseTimeout(time.Duration(options.CloseTimeout) * time.Second),
		WithStdinCloseTimeout(time.Duration(options.StdinCloseTimeout) * time.Second),
	}

	return &Factory{
		command: command,
		argv:    argv,
		options: options,
		opts:    opts,
	}, nil
}

func (factory *Factory) Name() string {
	return "local command"
}

func (factory *Factory) New() (relay.Process, error) {
	lcmd, err := New(factory.command, factory.argv, factory.opts...)
	if err != nil {
		return nil, err
	}
	return lcmd, nil
}

func (factory *Factory) Command() (string, []string) {
	return factory.command, factory.argv
}

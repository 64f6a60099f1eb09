package server

import (
	"net"

	"github.com/pkg/errors"
)

type Options struct {
	Address string `hcl:"address" flagName:"listen-address" flagDescribe:"Loopback IP address the tunnel listener binds to" default:"127.0.0.1"`
}

func (options *Options) Validate() error {
	ip := net.ParseIP(options.Address)
	if ip == nil {
		return errors.Errorf("invalid listen address `%s`", options.Address)
	}
	if !ip.IsLoopback() {
		return errors.Errorf("listen address `%s` is not a loopback address", options.Address)
	}
	return nil
}

package connector

import (
	"github.com/pkg/errors"
)

type Options struct {
	ProxyHost string `hcl:"proxy_host" flagName:"proxy-host" flagDescribe:"Host of the HTTP proxy the tunnel is routed through" default:"127.0.0.1"`
	ProxyPort int    `hcl:"proxy_port" flagName:"proxy-port" flagSName:"p" flagDescribe:"Port of the HTTP proxy the tunnel is routed through" default:"8080"`
}

func (options *Options) Validate() error {
	if options.ProxyHost == "" {
		return errors.New("proxy host must not be empty")
	}
	if options.ProxyPort < 1 || options.ProxyPort > 65535 {
		return errors.Errorf("proxy port `%d` is out of range", options.ProxyPort)
	}
	return nil
}

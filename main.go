package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"mcpintercept/backend/localcommand"
	"mcpintercept/connector"
	"mcpintercept/pkg/homedir"
	"mcpintercept/relay"
	"mcpintercept/server"
	"mcpintercept/transport"
	"mcpintercept/utils"
)

const defaultConfigFile = "~/.mcpintercept"

func main() {
	app := cli.NewApp()
	app.Name = "mcpintercept"
	app.Version = Version + "+" + CommitID
	app.Usage = "Route a stdio MCP server through an intercepting HTTP proxy"
	app.UsageText = "mcpintercept [options] <command> [<arguments...>]"
	app.Description = "Exits with the server's own status. The relay reports its own failures\n" +
		"   as 125 (relay failure), 126 (cannot execute) and 127 (not found); a server\n" +
		"   that exits with one of these is passed through as is, with a warning on stderr."

	transportOptions := &transport.Options{}
	serverOptions := &server.Options{}
	connectorOptions := &connector.Options{}
	relayOptions := &relay.Options{}
	backendOptions := &localcommand.Options{}
	allOptions := []interface{}{transportOptions, serverOptions, connectorOptions, relayOptions, backendOptions}

	for _, options := range allOptions {
		if err := utils.ApplyDefaultValues(options); err != nil {
			exit(err, 1)
		}
	}

	cliFlags, flagMappings, err := utils.GenerateFlags(allOptions...)
	if err != nil {
		exit(err, 1)
	}

	app.Flags = append(
		cliFlags,
		&cli.StringFlag{
			Name:    "config",
			Value:   defaultConfigFile,
			Usage:   "Config file path",
			EnvVars: []string{utils.EnvPrefix + "CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "Log every relayed message and state change to stderr",
			EnvVars: []string{utils.EnvPrefix + "VERBOSE"},
		},
	)

	app.Action = func(c *cli.Context) error {
		if c.NArg() == 0 {
			cli.ShowAppHelp(c)
			exit(errors.New("Error: No command given."), 1)
		}

		setupLogger(c.Bool("verbose"))

		configFile := c.String("config")
		_, err := os.Stat(homedir.Expand(configFile))
		if configFile != defaultConfigFile || !os.IsNotExist(err) {
			if err := utils.ApplyConfigFile(configFile, allOptions...); err != nil {
				exit(err, 2)
			}
		}

		utils.ApplyFlags(cliFlags, flagMappings, c, allOptions...)
		relayOptions.MaxMessageSize = transportOptions.MaxMessageSize

		if err := relayOptions.Validate(); err != nil {
			exit(errors.Wrap(err, "invalid relay options"), 2)
		}

		args := c.Args().Slice()
		factory, err := localcommand.NewFactory(args[0], args[1:], backendOptions)
		if err != nil {
			exit(err, 2)
		}
		listener, err := server.New(serverOptions, transportOptions)
		if err != nil {
			exit(err, 2)
		}
		dialer, err := connector.New(connectorOptions, transportOptions)
		if err != nil {
			exit(err, 2)
		}

		log.Info().
			Str("command", strings.Join(args, " ")).
			Str("proxy", dialer.ProxyAddress()).
			Msg("starting relay")

		session := relay.NewSession(factory, listener, dialer, relay.Host{Stdin: os.Stdin, Stdout: os.Stdout}, relayOptions)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		gCtx, gCancel := context.WithCancel(context.Background())
		defer gCancel()

		results := make(chan result, 1)
		go func() {
			code, err := session.Run(ctx, relay.WithGracefullContext(gCtx))
			results <- result{code, err}
		}()

		r := waitSignals(results, cancel, gCancel)
		if r.err != nil {
			log.Error().Err(r.err).Int("exit_code", r.code).Msg("relay failed")
		}
		if r.code != 0 {
			return cli.Exit("", r.code)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		exit(err, 1)
	}
}

type result struct {
	code int
	err  error
}

func exit(err error, code int) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}

// waitSignals returns the session result. The first SIGINT starts a
// graceful drain and a second one forces teardown; SIGTERM forces at once.
func waitSignals(results chan result, cancel context.CancelFunc, gracefullCancel context.CancelFunc) result {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(
		sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signal.Stop(sigChan)

	select {
	case r := <-results:
		return r

	case s := <-sigChan:
		switch s {
		case syscall.SIGINT:
			gracefullCancel()
			log.Warn().Msg("shutting down, C-C again to force")
			select {
			case r := <-results:
				return r
			case <-sigChan:
				log.Warn().Msg("force closing")
				cancel()
				return <-results
			}
		default:
			cancel()
			return <-results
		}
	}
}

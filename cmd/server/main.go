package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omochice/socket-session/internal/config"
	"github.com/omochice/socket-session/internal/feed"
	"github.com/omochice/socket-session/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		interval   string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Serve the demo strategy feed over websocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
			if interval != "" {
				if err := cfg.Server.PublishInterval.UnmarshalText([]byte(interval)); err != nil {
					return err
				}
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.ConfigureRuntime(cfg.LogLevel)

			srv, err := feed.New(cfg.Server, feed.WithLogger(logger.With().Str("component", "feed").Logger()))
			if err != nil {
				return err
			}

			return srv.Run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a TOML or YAML config file")
	flags.StringVarP(&listen, "listen", "l", "", "address to listen on (e.g., :8080)")
	flags.StringVar(&interval, "interval", "", "publish interval (e.g., 1s)")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	return cmd
}

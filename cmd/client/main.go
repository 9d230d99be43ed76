package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/omochice/socket-session/internal/config"
	"github.com/omochice/socket-session/internal/logging"
	"github.com/omochice/socket-session/internal/session"
	ws "github.com/omochice/socket-session/internal/transport/ws"
	"github.com/omochice/socket-session/pkg/protocol"
)

const helpText = `Commands:
  set NAME=VALUE  send a param update request
  history         print every message received so far
  status          print the connection status
  quit            close the session and exit
Anything else is sent as a raw text frame.`

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
		configPath  string
		endpoint    string
		metricsAddr string
		logLevel    string
		raw         bool
	)

	cmd := &cobra.Command{
		Use:           "client",
		Short:         "Watch a websocket endpoint and send commands to it",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if endpoint != "" {
				cfg.Client.Endpoint = endpoint
			}
			if metricsAddr != "" {
				cfg.Client.MetricsAddr = metricsAddr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.ConfigureRuntime(cfg.LogLevel)
			return run(cmd.Context(), cfg.Client, logger, raw)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a TOML or YAML config file")
	flags.StringVarP(&endpoint, "endpoint", "e", "", "websocket endpoint (e.g., ws://localhost:8080)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&raw, "raw", false, "print payloads without decoding envelopes")
	return cmd
}

func run(ctx context.Context, cfg config.ClientConfig, logger zerolog.Logger, raw bool) error {
	registry := prometheus.NewRegistry()
	metrics, err := session.NewMetrics(registry)
	if err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		stopMetrics := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer stopMetrics()
	}

	adapter := ws.NewAdapter(
		ws.WithDialTimeout(cfg.DialTimeout.Duration),
		ws.WithLogger(logger.With().Str("component", "adapter").Logger()),
	)
	r := newRenderer(os.Stdout, raw)

	s, err := session.New(ctx, cfg.Endpoint, adapter,
		session.WithLogger(logger.With().Str("component", "session").Logger()),
		session.WithMetrics(metrics),
		session.WithObserver(r.render),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close session")
		}
	}()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println("Type 'help' for commands.")
	done := make(chan struct{})
	go func() {
		defer close(done)
		prompt(ctx, line, s)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := adapter.Err(); err != nil {
		logger.Warn().Err(err).Msg("connection ended")
	}
	return nil
}

func prompt(ctx context.Context, line *liner.State, s *session.Session) {
	for {
		input, err := line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "input error: %v\n", err)
			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		cmd, arg, _ := strings.Cut(input, " ")
		switch cmd {
		case "quit", "exit":
			return
		case "help":
			fmt.Println(helpText)
		case "status":
			fmt.Printf("%s (%d messages)\n", s.StatusLabel(), s.Len())
		case "history":
			r := newRenderer(os.Stdout, false)
			for _, msg := range s.History() {
				fmt.Println(r.format(msg))
			}
		case "set":
			request, err := parseSet(arg)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			send(ctx, s, request)
		default:
			if err := s.Send(ctx, []byte(input)); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}
}

func send(ctx context.Context, s *session.Session, request map[string]any) {
	env, err := protocol.RequestEnvelope(request)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	data, err := env.Encode()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	if err := s.Send(ctx, data); err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

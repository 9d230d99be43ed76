package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/socket-session/internal/config"
	ws "github.com/omochice/socket-session/internal/transport/ws"
	"github.com/omochice/socket-session/pkg/protocol"
)

const (
	outgoingBuffer  = 64
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Server accepts websocket subscribers, publishes the strategy on a schedule
// and applies param requests sent by subscribers.
type Server struct {
	cfg      config.ServerConfig
	hub      *Hub
	strategy *Strategy
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	echo     *echo.Echo
	cron     *cron.Cron

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry registers the feed metrics with reg and serves reg on /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithStrategy replaces the demo strategy.
func WithStrategy(strategy *Strategy) Option {
	return func(s *Server) {
		s.strategy = strategy
	}
}

// New creates a feed server. Nothing listens until Run.
func New(cfg config.ServerConfig, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		hub:    NewHub(),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.strategy == nil {
		s.strategy = NewStrategy()
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}

	metrics, err := NewMetrics(s.registry)
	if err != nil {
		return nil, err
	}
	s.metrics = metrics

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc("@every "+cfg.PublishInterval.String(), s.Publish); err != nil {
		return nil, fmt.Errorf("failed to schedule publishing: %w", err)
	}

	s.echo = s.routes()
	return s, nil
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	e.GET("/", s.handleSubscribe)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return e
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub returns the subscriber hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Strategy returns the published strategy.
func (s *Server) Strategy() *Strategy {
	return s.strategy
}

// Addr returns the listening address once Run has started listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Run listens on the configured address and publishes until ctx is done,
// then shuts down and disconnects every subscriber.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Dur("interval", s.cfg.PublishInterval.Duration).
		Msg("feed server started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.cron.Start()
		<-gctx.Done()
		<-s.cron.Stop().Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		if err != nil {
			return fmt.Errorf("failed to shut down: %w", err)
		}
		return nil
	})

	err = g.Wait()
	s.logger.Info().Msg("feed server stopped")
	return err
}

// Close disconnects every subscriber and waits for their loops to finish.
// Subscribers arriving after Close are turned away.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.hub.CloseAll()
	s.wg.Wait()
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Publish broadcasts the strategy status and one log entry per level.
func (s *Server) Publish() {
	status, err := s.strategy.StatusEnvelope()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build status envelope")
		return
	}
	s.broadcast(status)

	logs, err := s.strategy.LogEnvelopes()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build log envelopes")
		return
	}
	for _, env := range logs {
		s.broadcast(env)
	}
}

func (s *Server) broadcast(env *protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode envelope")
		return
	}
	n := s.hub.Broadcast(data)
	s.metrics.published.WithLabelValues(env.Kind().String()).Inc()
	s.logger.Debug().Str("kind", env.Kind().String()).Int("subscribers", n).Msg("published")
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"subscribers": s.hub.ClientCount(),
	})
}

func (s *Server) handleSubscribe(c echo.Context) error {
	if s.isClosing() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server shutting down")
	}

	conn, err := ws.Upgrade(c.Response(), c.Request())
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", c.RealIP()).Msg("upgrade failed")
		if !c.Response().Committed {
			return echo.NewHTTPError(http.StatusBadRequest, "websocket upgrade required")
		}
		return nil
	}

	sub := NewSubscriber(uuid.NewString(), conn, outgoingBuffer, s.cfg.CommandRate, s.cfg.CommandBurst)

	// Registration and wg.Add happen under mu so Close never waits while a
	// late upgrade is still adding loops.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.hub.Register(sub)
	s.wg.Add(2)
	s.mu.Unlock()

	s.metrics.subscribers.Inc()
	s.logger.Info().Str("subscriber", sub.ID).Str("remote", conn.RemoteAddr()).Msg("subscriber connected")

	if status, err := s.strategy.StatusEnvelope(); err == nil {
		if data, err := status.Encode(); err == nil {
			s.hub.Send(sub, data)
		}
	}

	go s.readLoop(sub)
	go s.writeLoop(sub)
	return nil
}

func (s *Server) readLoop(sub *Subscriber) {
	defer s.wg.Done()
	defer func() {
		s.hub.Unregister(sub)
		_ = sub.Conn.Close()
		s.metrics.subscribers.Dec()
		s.logger.Info().Str("subscriber", sub.ID).Msg("subscriber disconnected")
	}()

	for {
		data, err := sub.Conn.Read(context.Background())
		if err != nil {
			return
		}
		s.handleCommand(sub, data)
	}
}

func (s *Server) writeLoop(sub *Subscriber) {
	defer s.wg.Done()
	for data := range sub.Outgoing {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := sub.Conn.Write(ctx, data)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("subscriber", sub.ID).Msg("write failed")
			_ = sub.Conn.Close()
			return
		}
	}
}

func (s *Server) handleCommand(sub *Subscriber, data []byte) {
	log := s.logger.With().Str("subscriber", sub.ID).Logger()

	if !sub.Allow() {
		s.metrics.commands.WithLabelValues(CommandThrottled).Inc()
		log.Warn().Msg("command throttled")
		return
	}

	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		s.metrics.commands.WithLabelValues(CommandInvalid).Inc()
		log.Warn().Err(err).Msg("invalid command")
		return
	}
	request, ok := env.Request()
	if !ok {
		s.metrics.commands.WithLabelValues(CommandIgnored).Inc()
		log.Debug().Str("kind", env.Kind().String()).Msg("command ignored")
		return
	}

	changed := s.strategy.Apply(request)
	s.metrics.commands.WithLabelValues(CommandApplied).Inc()
	log.Info().Strs("params", changed).Msg("params updated")

	resp, err := protocol.ResponseEnvelope("success")
	if err != nil {
		log.Error().Err(err).Msg("failed to build response")
		return
	}
	s.broadcast(resp)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"tickmatch/internal/config"
	"tickmatch/internal/dispatch"
	"tickmatch/internal/engine"
	tickNet "tickmatch/internal/net"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const shutdownTimeout = 5 * time.Second

// Server wires the matching engine, the per-symbol dispatcher, the order
// gateway and the metrics endpoint into one process.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg        config.Config
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	gateway    *tickNet.Server
}

func Create(ctx context.Context, cancel context.CancelFunc, cfg config.Config) *Server {
	eng := engine.New(engine.NewLogReporter(log.Logger), cfg.Engine.Symbols...)
	dispatcher := dispatch.New(eng, cfg.Engine.Workers, cfg.Engine.QueueSize)
	gateway := tickNet.New(cfg.Server.Address, cfg.Server.Port, dispatcher)
	gateway.SetIdleTimeout(cfg.Server.IdleTimeout)

	return &Server{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		engine:     eng,
		dispatcher: dispatcher,
		gateway:    gateway,
	}
}

// SetupLogging configures the global logger.
func SetupLogging(cfg config.Config) {
	zerolog.SetGlobalLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// Destroys the server context, and signals to running routines to issue a cleanup.
func (s *Server) Shutdown() {
	s.cancel()
}

// Gateway exposes the order gateway, mostly so callers can learn its bound
// address.
func (s *Server) Gateway() *tickNet.Server {
	return s.gateway
}

// Run blocks until the context is done or one of the components fails.
func (s *Server) Run() error {
	defer s.Shutdown()

	t, ctx := tomb.WithContext(s.ctx)

	s.dispatcher.Start(ctx)
	t.Go(func() error {
		<-t.Dying()
		return s.dispatcher.Stop()
	})

	t.Go(func() error {
		return s.gateway.Run(ctx)
	})

	if s.cfg.Metrics.Address != "" {
		t.Go(func() error {
			return s.serveMetrics(t)
		})
	}

	log.Info().
		Strs("symbols", s.engine.Symbols()).
		Uint("workers", s.cfg.Engine.Workers).
		Msg("matching engine running")

	<-t.Dying()
	err := t.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) serveMetrics(t *tomb.Tomb) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              s.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	t.Go(func() error {
		<-t.Dying()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	log.Info().Str("address", s.cfg.Metrics.Address).Msg("metrics endpoint running")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("metrics endpoint failed")
		return err
	}
	return nil
}

// ---- Utility Methods ----
func (s *Server) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Address: %s\n", s.cfg.Server.Address)
	fmt.Fprintf(&sb, "Port:    %d\n", s.cfg.Server.Port)
	fmt.Fprintf(&sb, "Symbols: %s\n", strings.Join(s.cfg.Engine.Symbols, ","))
	fmt.Fprintf(&sb, "Workers: %d\n", s.cfg.Engine.Workers)
	return sb.String()
}

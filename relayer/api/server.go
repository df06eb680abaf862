// Package api exposes the relayer's operational surface: health, cursor
// and round status, the failed-event queue, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tapfed/tapfed-node/relayer/chains/common"
)

// PairStores maps chain-pair name to that pair's relay store. The API is
// read-only over them.
type PairStores map[string]*common.RelayStore

// Server is the relayer's HTTP query server.
type Server struct {
	port     int
	stores   PairStores
	registry *prometheus.Registry
	logger   zerolog.Logger
	srv      *http.Server
}

// NewServer creates the query server. The prometheus registry may be nil
// when metrics are disabled.
func NewServer(port int, stores PairStores, registry *prometheus.Registry, logger zerolog.Logger) *Server {
	return &Server{
		port:     port,
		stores:   stores,
		registry: registry,
		logger:   logger.With().Str("component", "api_server").Logger(),
	}
}

// Start binds and serves. The bind happens synchronously so a taken port
// fails startup instead of surfacing minutes later.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/cursors", s.handleCursors)
	mux.HandleFunc("/api/v1/rounds", s.handleRounds)
	mux.HandleFunc("/api/v1/failed-events", s.handleFailedEvents)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind query server on %s: %w", addr, err)
	}

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("query server stopped unexpectedly")
		}
	}()

	s.logger.Info().Int("port", s.port).Msg("query server started")
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

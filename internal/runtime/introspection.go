package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/routineflow/internal/runtime/jsoncodec"
	"github.com/drblury/routineflow/internal/runtime/logging"
)

// introspection serves /api/routines and, when a gatherer is supplied,
// /metrics on one port.
type introspection struct {
	port     int
	origins  []string
	routines func() []RoutineInfo
	logger   logging.ServiceLogger

	mux *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	addr   string
}

func newIntrospection(port int, origins []string, routines func() []RoutineInfo, logger logging.ServiceLogger) *introspection {
	s := &introspection{
		port:     port,
		origins:  origins,
		routines: routines,
		logger:   logging.Component(logger, "introspection", fmt.Sprintf(":%d", port)),
		mux:      http.NewServeMux(),
	}
	s.mux.Handle("/api/routines", http.HandlerFunc(s.handleGetRoutines))
	return s
}

// withMetrics exposes gatherer under /metrics.
func (s *introspection) withMetrics(gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

func (s *introspection) Handler() http.Handler { return s.mux }

// start binds the port synchronously so a taken port fails the build.
func (s *introspection) start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to start introspection server: %w", err)
	}
	server := &http.Server{Handler: s.mux}

	s.mu.Lock()
	s.server = server
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", logging.LogFields{"address": s.addr})
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", err, logging.LogFields{"address": ln.Addr().String()})
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *introspection) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *introspection) shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *introspection) handleGetRoutines(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if len(s.origins) > 0 {
		if allowed := s.allowedOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, s.routines()); err != nil {
		s.logger.Error("Failed to encode routines", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// allowedOrigin returns the Access-Control-Allow-Origin value for origin,
// or "" when it is not allowed.
func (s *introspection) allowedOrigin(origin string) string {
	for _, allowed := range s.origins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

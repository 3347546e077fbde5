package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig controls HTTP observability endpoint behaviour.
type ServerConfig struct {
	Address        string
	ServiceName    string
	Logger         *slog.Logger
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ShutdownPeriod time.Duration
	MetricsPath    string
	HealthPath     string
	Metrics        *Metrics
}

// Server hosts the collector's metrics and health endpoints.
type Server struct {
	cfg ServerConfig
	srv *http.Server
}

// NewServer prepares an observability HTTP server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = ":2112"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "meshcollect"
	}
	if cfg.Logger == nil {
		cfg.Logger = NoOpLogger()
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ShutdownPeriod == 0 {
		cfg.ShutdownPeriod = 5 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/healthz"
	}

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      newMux(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{cfg: cfg, srv: srv}
}

// newMux builds the endpoint routing. Health degrades when the collector has
// seen storage or pipeline errors since the last MarkHealthy.
func newMux(cfg ServerConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.HandleFunc(cfg.HealthPath, func(w http.ResponseWriter, r *http.Request) {
		if cfg.Metrics != nil && !cfg.Metrics.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "%s degraded: recent storage or pipeline errors\n", cfg.ServiceName)
			return
		}
		fmt.Fprintf(w, "%s ok\n", cfg.ServiceName)
	})
	return mux
}

// Run starts serving HTTP requests until the context is cancelled.
func (s *Server) Run(ctx context.Context) {
	if s == nil {
		return
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownPeriod)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.cfg.Logger.Error("observability server shutdown error", slog.Any("error", err))
		}
	}()

	s.cfg.Logger.Info("observability server listening", slog.String("address", s.cfg.Address))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.cfg.Logger.Error("observability server stopped unexpectedly", slog.Any("error", err))
	}
}

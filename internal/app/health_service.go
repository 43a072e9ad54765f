package app

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/petwalkd/internal/config"
	"github.com/dokzlo13/petwalkd/internal/metrics"
)

// Readiness reports whether the last refresh succeeded.
type Readiness interface {
	LastUpdateSuccess() bool
}

// HealthService provides HTTP health check and metrics endpoints.
type HealthService struct {
	cfg     *config.Config
	ready   Readiness
	metrics *metrics.Metrics
	server  *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, ready Readiness, m *metrics.Metrics) *HealthService {
	return &HealthService{
		cfg:     cfg,
		ready:   ready,
		metrics: m,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

// Handler returns the health mux.
func (s *HealthService) Handler() http.Handler {
	mux := http.NewServeMux()

	// Liveness: the process is up
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Readiness: the last refresh succeeded
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !s.ready.LastUpdateSuccess() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return mux
}

func (s *HealthService) run(ctx context.Context) {
	addr := s.cfg.Healthcheck.Addr()

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}

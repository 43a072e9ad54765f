package app

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/petwalkd/internal/api"
	"github.com/dokzlo13/petwalkd/internal/config"
)

// APIService serves the REST control surface.
type APIService struct {
	cfg    *config.Config
	router *api.Router
	server *http.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, device api.Device) *APIService {
	return &APIService{
		cfg:    cfg,
		router: api.NewRouter(device, cfg.API.CORSOrigins),
	}
}

// Start begins the API server if enabled.
func (s *APIService) Start(ctx context.Context) {
	if !s.cfg.API.Enabled {
		return
	}

	go s.run(ctx)
}

func (s *APIService) run(ctx context.Context) {
	addr := s.cfg.API.Addr()

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router.Handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("API server error")
	}
}

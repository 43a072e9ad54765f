package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/petwalkd/internal/config"
	"github.com/dokzlo13/petwalkd/internal/kv"
	"github.com/dokzlo13/petwalkd/internal/ledger"
)

// MaintenanceService records coordinator events in the ledger and
// periodically prunes the ledger and expired script store entries.
type MaintenanceService struct {
	cfg    *config.Config
	Ledger *ledger.Ledger
	Store  *kv.Store
}

// NewMaintenanceService creates a new MaintenanceService.
func NewMaintenanceService(cfg *config.Config, l *ledger.Ledger, store *kv.Store) *MaintenanceService {
	return &MaintenanceService{cfg: cfg, Ledger: l, Store: store}
}

// Attach subscribes the ledger to the bus. Must run before the first refresh.
func (s *MaintenanceService) Attach(bus ledger.Subscriber) {
	s.Ledger.Record(bus, s.cfg.Device.GetName())
}

// Start begins the periodic cleanup.
func (s *MaintenanceService) Start(ctx context.Context) {
	go s.runCleanup(ctx)
}

func (s *MaintenanceService) runCleanup(ctx context.Context) {
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MaintenanceService) cleanup() {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour

	deleted, err := s.Ledger.DeleteOlderThan(retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
	}

	expired, err := s.Store.DeleteExpired()
	if err != nil {
		log.Error().Err(err).Msg("Failed to cleanup expired store entries")
	} else if expired > 0 {
		log.Info().Int64("deleted", expired).Msg("Cleaned up expired store entries")
	}
}

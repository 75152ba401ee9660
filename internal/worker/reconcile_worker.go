package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_backoffice/internal/repository"
	"github.com/GTDGit/gtd_backoffice/internal/service"
)

// ReconcileWorker periodically compares pool counters against the actual item
// rows and rebuilds any that drifted. Drift means a bug somewhere, so each
// repair is logged loudly.
type ReconcileWorker struct {
	stockService *service.StockService
	poolRepo     *repository.PoolRepository
	interval     time.Duration
}

// NewReconcileWorker constructs a ReconcileWorker.
func NewReconcileWorker(
	stockService *service.StockService,
	poolRepo *repository.PoolRepository,
	interval time.Duration,
) *ReconcileWorker {
	return &ReconcileWorker{
		stockService: stockService,
		poolRepo:     poolRepo,
		interval:     interval,
	}
}

// Start begins the periodic reconcile loop until context is canceled.
func (w *ReconcileWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting reconcile worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.run(ctx)
		case <-ctx.Done():
			log.Info().Msg("Reconcile worker stopped")
			return
		}
	}
}

func (w *ReconcileWorker) run(ctx context.Context) {
	poolIDs, err := w.poolRepo.ListInconsistentPools(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list inconsistent pools")
		return
	}
	if len(poolIDs) == 0 {
		return
	}

	for _, id := range poolIDs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		log.Error().Int("pool_id", id).Msg("Pool counters drifted from item rows")
		if _, err := w.stockService.Recount(ctx, id); err != nil {
			log.Error().Err(err).Int("pool_id", id).Msg("Failed to recount pool")
		}
	}
}

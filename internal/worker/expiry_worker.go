package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_backoffice/internal/models"
	"github.com/GTDGit/gtd_backoffice/internal/repository"
	"github.com/GTDGit/gtd_backoffice/internal/service"
)

const expiryBatchSize = 500

// ExpiryWorker sweeps items whose validity window has passed and moves them
// to EXPIRED so they can never be claimed.
type ExpiryWorker struct {
	stockService *service.StockService
	poolRepo     *repository.PoolRepository
	interval     time.Duration
}

// NewExpiryWorker constructs an ExpiryWorker.
func NewExpiryWorker(
	stockService *service.StockService,
	poolRepo *repository.PoolRepository,
	interval time.Duration,
) *ExpiryWorker {
	return &ExpiryWorker{
		stockService: stockService,
		poolRepo:     poolRepo,
		interval:     interval,
	}
}

// Start begins the periodic expiry sweep until context is canceled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.run(ctx)
		case <-ctx.Done():
			log.Info().Msg("Expiry worker stopped")
			return
		}
	}
}

func (w *ExpiryWorker) run(ctx context.Context) {
	items, err := w.poolRepo.GetExpirableItems(ctx, expiryBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get expirable items")
		return
	}
	if len(items) == 0 {
		return
	}
	log.Info().Int("count", len(items)).Msg("Expiring stock items")

	for i := range items {
		// Respect cancellation between items
		select {
		case <-ctx.Done():
			return
		default:
			w.expireItem(ctx, &items[i])
		}
	}
}

func (w *ExpiryWorker) expireItem(ctx context.Context, item *models.StockItem) {
	if _, err := w.stockService.MarkExpired(ctx, item.PoolID, item.ID); err != nil {
		// A racing claim or transition may have moved the item already.
		log.Warn().
			Err(err).
			Int("pool_id", item.PoolID).
			Int("item_id", item.ID).
			Msg("Failed to expire item")
	}
}

package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_backoffice/internal/service"
)

const pastDueBatchSize = 200

// PaymentDueWorker flags credit accounts whose payment due date has passed.
// Flagged accounts move to PENDING_REVIEW, which blocks further debits until
// an operator settles or re-activates them.
type PaymentDueWorker struct {
	ledgerService *service.LedgerService
	interval      time.Duration
}

// NewPaymentDueWorker constructs a PaymentDueWorker.
func NewPaymentDueWorker(ledgerService *service.LedgerService, interval time.Duration) *PaymentDueWorker {
	return &PaymentDueWorker{
		ledgerService: ledgerService,
		interval:      interval,
	}
}

// Start begins the periodic past-due check until context is canceled.
func (w *PaymentDueWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting payment due worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.run(ctx)
		case <-ctx.Done():
			log.Info().Msg("Payment due worker stopped")
			return
		}
	}
}

func (w *PaymentDueWorker) run(ctx context.Context) {
	flagged, err := w.ledgerService.FlagPastDue(ctx, time.Now(), pastDueBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to flag past-due accounts")
		return
	}
	if flagged > 0 {
		log.Info().Int("count", flagged).Msg("Flagged past-due credit accounts")
	}
}

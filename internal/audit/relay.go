package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Outbox interface {
	Deliver(ctx context.Context, limit int, send func(ctx context.Context, p Pending) error) (delivered, failed int, err error)
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Relay moves events from the outbox to the broker.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	batchSize int
	log       zerolog.Logger
}

func NewRelay(outbox Outbox, publisher Publisher, batchSize int, log zerolog.Logger) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		batchSize: batchSize,
		log:       log.With().Str("component", "audit_relay").Logger(),
	}
}

// RunOnce delivers batches until the outbox drains, a batch makes no
// progress, or ctx ends.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		delivered, failed, err := r.outbox.Deliver(ctx, r.batchSize, func(ctx context.Context, p Pending) error {
			if err := r.publisher.Publish(ctx, p.Event); err != nil {
				attempts := p.Attempts + 1
				if attempts >= MaxDeliveryAttempts {
					r.log.Error().Err(err).
						Str("event_id", p.ID.String()).
						Int("attempts", attempts).
						Msg("audit event parked after repeated publish failures")
					return err
				}
				r.log.Warn().Err(err).
					Str("event_id", p.ID.String()).
					Int("attempts", attempts).
					Msg("audit publish failed")
				return err
			}
			return nil
		})
		total += delivered
		if err != nil {
			return total, fmt.Errorf("deliver audit batch: %w", err)
		}
		if failed > 0 || delivered < r.batchSize {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

// Run calls RunOnce immediately and then on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	r.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("shutdown signal received, stopping audit relay")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Relay) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := r.RunOnce(runCtx)
	if err != nil {
		r.log.Error().Err(err).Int("delivered", n).Msg("audit relay run error")
		return
	}
	r.log.Debug().Int("delivered", n).Dur("took", time.Since(start)).Msg("audit relay run complete")
}

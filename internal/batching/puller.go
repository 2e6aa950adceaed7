package batching

import (
	"context"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/internal/metrics"
	"github.com/JosineyJr/rdb25-dispatch/pkg/backoff"
	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
	"github.com/rs/zerolog"
)

const (
	defaultBatchSize = 50
	defaultCooldown  = time.Second
)

// Popper removes up to n items from the head of the external queue in a
// single atomic operation.
type Popper interface {
	PopBatch(ctx context.Context, n int) ([][]byte, error)
}

type PullerConfig struct {
	BatchSize int
	MinDelay  time.Duration
	MaxDelay  time.Duration
	// Cooldown is the pause after the queue returns an error.
	Cooldown time.Duration
}

// Puller drains the external queue into the Buffer, sizing each pull and the
// idle delay between pulls from how many recent pulls came back empty.
type Puller struct {
	id         int
	queue      Popper
	buffer     *Buffer
	baseBatch  int
	cooldown   time.Duration
	polling    *PollingStrategy
	logger     *zerolog.Logger
	emptyCount int
}

func NewPuller(id int, queue Popper, buffer *Buffer, cfg PullerConfig, logger *zerolog.Logger) *Puller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &Puller{
		id:        id,
		queue:     queue,
		buffer:    buffer,
		baseBatch: cfg.BatchSize,
		cooldown:  cfg.Cooldown,
		polling:   NewPollingStrategy(cfg.MinDelay, cfg.MaxDelay),
		logger:    logger,
	}
}

// Run pulls until ctx is done.
func (p *Puller) Run(ctx context.Context) {
	for ctx.Err() == nil {
		wait := p.pull(ctx)
		if wait > 0 && backoff.Sleep(ctx, wait) != nil {
			return
		}
	}
}

// pull performs one iteration and returns how long to idle before the next.
func (p *Puller) pull(ctx context.Context) time.Duration {
	size := BatchSize(p.baseBatch, p.emptyCount)

	items, err := p.queue.PopBatch(ctx, size)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		p.logger.Error().Err(err).Int("producer_id", p.id).Msg("Failed to pull payments from queue")
		return p.cooldown
	}
	metrics.BatchSize.Observe(float64(len(items)))

	if len(items) == 0 {
		p.emptyCount++
		return p.polling.Next(p.emptyCount)
	}

	p.emptyCount = 0
	p.polling.Reset()

	for i, raw := range items {
		req, err := payments.Decode(raw)
		if err != nil {
			metrics.PaymentsDropped.Inc()
			p.logger.Error().
				Err(err).
				Int("producer_id", p.id).
				Bytes("payload", raw).
				Msg("Dropping malformed payment")
			continue
		}

		if err := p.buffer.Put(ctx, payments.QueuedPayment{Request: req, Payload: raw}); err != nil {
			p.logger.Warn().
				Int("producer_id", p.id).
				Int("abandoned", len(items)-i).
				Msg("Shutdown while buffering pulled payments")
			return 0
		}
	}
	return 0
}

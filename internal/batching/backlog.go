package batching

import (
	"context"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/internal/metrics"
	"github.com/JosineyJr/rdb25-dispatch/pkg/backoff"
	"github.com/rs/zerolog"
)

type LengthReader interface {
	Len(ctx context.Context) (int64, error)
}

// Backlog periodically reports how much work is waiting in the external queue
// and in the buffer.
type Backlog struct {
	queue      LengthReader
	buffer     *Buffer
	interval   time.Duration
	errorDelay time.Duration
	logger     *zerolog.Logger
}

func NewBacklog(queue LengthReader, buffer *Buffer, interval time.Duration, logger *zerolog.Logger) *Backlog {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Backlog{
		queue:      queue,
		buffer:     buffer,
		interval:   interval,
		errorDelay: 3 * interval,
		logger:     logger,
	}
}

func (b *Backlog) Run(ctx context.Context) {
	for ctx.Err() == nil {
		wait := b.interval
		if err := b.report(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error().Err(err).Msg("Failed to read queue backlog")
			wait = b.errorDelay
		}
		if backoff.Sleep(ctx, wait) != nil {
			return
		}
	}
}

func (b *Backlog) report(ctx context.Context) error {
	queued, err := b.queue.Len(ctx)
	if err != nil {
		return err
	}
	buffered := b.buffer.Len()

	metrics.QueueBacklog.Set(float64(queued))
	metrics.BufferDepth.Set(float64(buffered))

	b.logger.Info().
		Int64("queued", queued).
		Int("buffered", buffered).
		Int("buffer_capacity", b.buffer.Cap()).
		Msg("Queue status")
	return nil
}
